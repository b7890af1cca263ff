package models

import "time"

// LatestState maps a sensor id to the most recent spot count seen for it.
// A sensor missing from the map is unknown, not zero.
type LatestState map[string]int

// Get returns the count for a sensor and whether one is known
func (ls LatestState) Get(sensorID string) (int, bool) {
	spots, ok := ls[sensorID]
	return spots, ok
}

// Latest reduces a table to one count per sensor: the reading with the greatest
// timestamp wins, and among equal timestamps the one appearing last wins.
// The table does not need to be sorted.
func Latest(table ReadingTable) LatestState {
	state := make(LatestState)
	newest := make(map[string]time.Time)

	for _, r := range table {
		if ts, ok := newest[r.SensorID]; ok && r.Timestamp.Before(ts) {
			continue
		}
		newest[r.SensorID] = r.Timestamp
		state[r.SensorID] = r.Spots
	}
	return state
}
