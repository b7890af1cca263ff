package models

// Sensor contains the static metadata of one parking sensor
type Sensor struct {
	ID   string  `json:"id" yaml:"id"`
	Name string  `json:"name" yaml:"name"`
	Lat  float64 `json:"lat" yaml:"lat"`
	Lon  float64 `json:"lon" yaml:"lon"`
}

// Registry is the configured set of sensors, in display order.
type Registry []Sensor

// Lookup returns the sensor with the given id
func (r Registry) Lookup(id string) (Sensor, bool) {
	for _, s := range r {
		if s.ID == id {
			return s, true
		}
	}
	return Sensor{}, false
}

// DisplayName returns the friendly name of a sensor, falling back to its raw id
// for devices the registry does not know about.
func (r Registry) DisplayName(id string) string {
	if s, ok := r.Lookup(id); ok && s.Name != "" {
		return s.Name
	}
	return id
}

// Centroid returns the mean coordinate of all registered sensors
func (r Registry) Centroid() (lat, lon float64) {
	if len(r) == 0 {
		return 0, 0
	}
	for _, s := range r {
		lat += s.Lat
		lon += s.Lon
	}
	n := float64(len(r))
	return lat / n, lon / n
}
