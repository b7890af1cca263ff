package models

import (
	"fmt"
	"sort"
	"time"
)

// Reading is one spot-availability observation reported by a parking sensor.
type Reading struct {
	SensorID  string    `json:"sensor_id"`
	Spots     int       `json:"spots"`
	Timestamp time.Time `json:"timestamp"`
}

// IsValid checks the reading carries a sensor, a timestamp and a non-negative count
func (r *Reading) IsValid() bool {
	if r.SensorID == "" {
		return false
	}
	if r.Timestamp.IsZero() {
		return false
	}
	return r.Spots >= 0
}

// get the reading as a string
func (r *Reading) String() string {
	return fmt.Sprintf("SensorID: %s, Timestamp: %s, Spots: %d",
		r.SensorID,
		r.Timestamp.Format(time.RFC3339),
		r.Spots)
}

// NewReading creates a new Reading observed at ts
func NewReading(sensorID string, spots int, ts time.Time) Reading {
	return Reading{
		SensorID:  sensorID,
		Spots:     spots,
		Timestamp: ts,
	}
}

// ReadingTable is an ordered sequence of readings, ascending by timestamp.
type ReadingTable []Reading

// Sorted returns a copy of the table ordered by timestamp.
// Readings with equal timestamps keep their relative order.
func (t ReadingTable) Sorted() ReadingTable {
	out := t.Clone()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Clone returns a copy that shares no backing array with t.
func (t ReadingTable) Clone() ReadingTable {
	out := make(ReadingTable, len(t))
	copy(out, t)
	return out
}

// Window drops readings observed before cutoff. The table must already be sorted.
func (t ReadingTable) Window(cutoff time.Time) ReadingTable {
	i := sort.Search(len(t), func(i int) bool {
		return !t[i].Timestamp.Before(cutoff)
	})
	return t[i:].Clone()
}

// NewestBySensor returns the greatest timestamp seen for each sensor
func (t ReadingTable) NewestBySensor() map[string]time.Time {
	newest := make(map[string]time.Time)
	for _, r := range t {
		if ts, ok := newest[r.SensorID]; !ok || r.Timestamp.After(ts) {
			newest[r.SensorID] = r.Timestamp
		}
	}
	return newest
}

// Newest returns the timestamp of the last reading, or the zero time for an empty table
func (t ReadingTable) Newest() time.Time {
	if len(t) == 0 {
		return time.Time{}
	}
	return t[len(t)-1].Timestamp
}

// SensorIDs returns the distinct sensor ids in order of first appearance
func (t ReadingTable) SensorIDs() []string {
	seen := make(map[string]bool)
	ids := make([]string, 0)
	for _, r := range t {
		if seen[r.SensorID] {
			continue
		}
		seen[r.SensorID] = true
		ids = append(ids, r.SensorID)
	}
	return ids
}

// ForSensor returns the readings belonging to one sensor, in table order
func (t ReadingTable) ForSensor(sensorID string) ReadingTable {
	out := make(ReadingTable, 0)
	for _, r := range t {
		if r.SensorID == sensorID {
			out = append(out, r)
		}
	}
	return out
}
