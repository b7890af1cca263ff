// Package dashboard turns readings into the data the browser map and chart render.
package dashboard

import (
	"fmt"

	"github.com/afroash/parking-monitor/internal/models"
)

// Tier classifies the availability at a sensor
type Tier string

const (
	TierFull    Tier = "full"
	TierLow     Tier = "low"
	TierOK      Tier = "ok"
	TierUnknown Tier = "unknown"
)

// lowThreshold is the highest count still reported as low availability
const lowThreshold = 3

// Color returns the marker color used for the tier
func (t Tier) Color() string {
	switch t {
	case TierFull:
		return "red"
	case TierLow:
		return "orange"
	case TierOK:
		return "green"
	default:
		return "gray"
	}
}

// TierFor maps a known spot count to its tier
func TierFor(spots int) Tier {
	switch {
	case spots <= 0:
		return TierFull
	case spots <= lowThreshold:
		return TierLow
	default:
		return TierOK
	}
}

// Marker is one sensor pin on the map
type Marker struct {
	SensorID string  `json:"sensor_id"`
	Name     string  `json:"name"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Spots    *int    `json:"spots"`
	Tier     Tier    `json:"tier"`
	Color    string  `json:"color"`
	Tooltip  string  `json:"tooltip"`
	Popup    string  `json:"popup"`
}

// MapView describes the initial viewport of the map
type MapView struct {
	CenterLat float64 `json:"center_lat"`
	CenterLon float64 `json:"center_lon"`
	Zoom      int     `json:"zoom"`
	Tiles     string  `json:"tiles"`
}

// NewMapView centers the map on the registered sensors
func NewMapView(registry models.Registry) MapView {
	lat, lon := registry.Centroid()
	return MapView{
		CenterLat: lat,
		CenterLon: lon,
		Zoom:      20,
		Tiles:     "CartoDB positron",
	}
}

// BuildMapMarkers returns one marker per registered sensor, in registry order.
// Sensors missing from latest are shown as unknown.
func BuildMapMarkers(latest models.LatestState, registry models.Registry) []Marker {
	markers := make([]Marker, 0, len(registry))
	for _, sensor := range registry {
		m := Marker{
			SensorID: sensor.ID,
			Name:     sensor.Name,
			Lat:      sensor.Lat,
			Lon:      sensor.Lon,
			Tier:     TierUnknown,
		}

		label := "?"
		if spots, ok := latest.Get(sensor.ID); ok {
			count := spots
			m.Spots = &count
			m.Tier = TierFor(spots)
			label = fmt.Sprintf("%d", spots)
		}

		m.Color = m.Tier.Color()
		m.Tooltip = fmt.Sprintf("%s: %s spots", sensor.Name, label)
		m.Popup = fmt.Sprintf("%s\nSensor ID: %s\nAvailable: %s", sensor.Name, sensor.ID, label)
		markers = append(markers, m)
	}
	return markers
}
