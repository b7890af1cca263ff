package dashboard

import (
	"fmt"
	"sort"
	"time"

	"github.com/afroash/parking-monitor/internal/models"
)

// Point is one sample on a series
type Point struct {
	Time  time.Time `json:"t"`
	Spots int       `json:"y"`
}

// Series holds the samples for one sensor, labeled by its display name
type Series struct {
	SensorID string  `json:"sensor_id"`
	Label    string  `json:"label"`
	Points   []Point `json:"points"`
}

// ChartSpec is the full line chart description consumed by the dashboard
type ChartSpec struct {
	Title       string   `json:"title"`
	XLabel      string   `json:"x_label"`
	YLabel      string   `json:"y_label"`
	LegendTitle string   `json:"legend_title"`
	YFromZero   bool     `json:"y_from_zero"`
	Markers     bool     `json:"markers"`
	Series      []Series `json:"series"`
}

// BuildTimeSeries groups the table into one series per sensor.
// Registered sensors come first in registry order, then any unregistered devices
// in order of first appearance. Points keep table order.
func BuildTimeSeries(table models.ReadingTable, registry models.Registry) ChartSpec {
	chart := ChartSpec{
		Title:       "Parking Availability Over Time",
		XLabel:      "Time",
		YLabel:      "Available Spots",
		LegendTitle: "Sensor",
		YFromZero:   true,
		Markers:     true,
		Series:      make([]Series, 0),
	}

	index := make(map[string]int)
	add := func(id string) {
		if _, ok := index[id]; ok {
			return
		}
		index[id] = len(chart.Series)
		chart.Series = append(chart.Series, Series{
			SensorID: id,
			Label:    registry.DisplayName(id),
			Points:   make([]Point, 0),
		})
	}

	present := make(map[string]bool)
	for _, r := range table {
		present[r.SensorID] = true
	}
	for _, s := range registry {
		if present[s.ID] {
			add(s.ID)
		}
	}

	for _, r := range table {
		add(r.SensorID)
		i := index[r.SensorID]
		chart.Series[i].Points = append(chart.Series[i].Points, Point{Time: r.Timestamp, Spots: r.Spots})
	}
	return chart
}

// Metric is one "current availability" figure shown above the chart
type Metric struct {
	SensorID string `json:"sensor_id"`
	Name     string `json:"name"`
	Spots    int    `json:"spots"`
	Value    string `json:"value"`
	Tier     Tier   `json:"tier"`
}

// BuildSummary lists the known counts, registered sensors first
func BuildSummary(latest models.LatestState, registry models.Registry) []Metric {
	metrics := make([]Metric, 0, len(latest))
	seen := make(map[string]bool)

	add := func(id string, spots int) {
		seen[id] = true
		metrics = append(metrics, Metric{
			SensorID: id,
			Name:     registry.DisplayName(id),
			Spots:    spots,
			Value:    fmt.Sprintf("%d spots", spots),
			Tier:     TierFor(spots),
		})
	}

	for _, s := range registry {
		if spots, ok := latest.Get(s.ID); ok {
			add(s.ID, spots)
		}
	}
	for _, id := range sortedKeys(latest) {
		if !seen[id] {
			add(id, latest[id])
		}
	}
	return metrics
}

func sortedKeys(latest models.LatestState) []string {
	keys := make([]string, 0, len(latest))
	for k := range latest {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
