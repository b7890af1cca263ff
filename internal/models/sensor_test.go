package models

import (
	"math"
	"testing"
)

func testRegistry() Registry {
	return Registry{
		{ID: "A39VSFY0", Name: "PARKING1", Lat: 41.27574511676427, Lon: -72.53086908159646},
		{ID: "GCX24L9C", Name: "PARKING2", Lat: 41.27575702059413, Lon: -72.53064398737476},
		{ID: "FQGWNQHS", Name: "PARKING3", Lat: 41.27578909170811, Lon: -72.53044389523346},
	}
}

func TestRegistry_Lookup(t *testing.T) {
	reg := testRegistry()

	s, ok := reg.Lookup("GCX24L9C")
	if !ok {
		t.Fatal("Lookup(GCX24L9C) not found")
	}
	if s.Name != "PARKING2" {
		t.Errorf("Name = %v, want PARKING2", s.Name)
	}

	if _, ok := reg.Lookup("nope"); ok {
		t.Error("Lookup(nope) should fail")
	}
}

func TestRegistry_DisplayName(t *testing.T) {
	reg := testRegistry()

	if got := reg.DisplayName("FQGWNQHS"); got != "PARKING3" {
		t.Errorf("DisplayName = %v, want PARKING3", got)
	}
	if got := reg.DisplayName("UNKNOWN1"); got != "UNKNOWN1" {
		t.Errorf("DisplayName fallback = %v, want UNKNOWN1", got)
	}
}

func TestRegistry_Centroid(t *testing.T) {
	lat, lon := testRegistry().Centroid()

	if math.Abs(lat-41.2757637430) > 1e-6 {
		t.Errorf("lat = %v", lat)
	}
	if math.Abs(lon-(-72.5306523214)) > 1e-6 {
		t.Errorf("lon = %v", lon)
	}

	lat, lon = Registry{}.Centroid()
	if lat != 0 || lon != 0 {
		t.Error("empty registry centroid should be 0,0")
	}
}
