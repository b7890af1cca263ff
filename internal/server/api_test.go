package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/parking-monitor/internal/models"
	"github.com/afroash/parking-monitor/internal/poller"
	"github.com/afroash/parking-monitor/internal/storage"
)

// fakeSource serves a fixed snapshot and counts refresh requests
type fakeSource struct {
	snap      poller.Snapshot
	refreshes int
	pending   bool
}

func (f *fakeSource) Snapshot() poller.Snapshot { return f.snap }

func (f *fakeSource) RequestRefresh() bool {
	f.refreshes++
	if f.pending {
		return false
	}
	f.pending = true
	return true
}

var testRegistry = models.Registry{
	{ID: "A39VSFY0", Name: "PARKING1", Lat: 41.27574511676427, Lon: -72.53086908159646},
	{ID: "GCX24L9C", Name: "PARKING2", Lat: 41.27575702059413, Lon: -72.53064398737476},
	{ID: "FQGWNQHS", Name: "PARKING3", Lat: 41.27578909170811, Lon: -72.53044389523346},
}

var t0 = time.Date(2025, 11, 30, 15, 0, 0, 0, time.UTC)

func populatedSource() *fakeSource {
	readings := models.ReadingTable{
		models.NewReading("A39VSFY0", 5, t0),
		models.NewReading("GCX24L9C", 2, t0.Add(time.Minute)),
		models.NewReading("A39VSFY0", 0, t0.Add(2*time.Minute)),
		models.NewReading("UNKNOWN1", 9, t0.Add(3*time.Minute)),
	}
	return &fakeSource{snap: poller.Snapshot{
		Readings:    readings,
		Latest:      models.Latest(readings),
		LastAttempt: t0.Add(4 * time.Minute),
		LastSuccess: t0.Add(4 * time.Minute),
		NextRefresh: t0.Add(5 * time.Minute),
		FetchID:     "abc",
		Fetches:     1,
	}}
}

func setupHistory(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func get(t *testing.T, h http.HandlerFunc, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
}

func TestBuildDashboardData(t *testing.T) {
	data := BuildDashboardData(populatedSource().snap, testRegistry)

	if len(data.Markers) != 3 {
		t.Fatalf("Markers = %d, want 3", len(data.Markers))
	}
	wantColors := []string{"red", "orange", "gray"}
	for i, m := range data.Markers {
		if m.Color != wantColors[i] {
			t.Errorf("marker %s color = %s, want %s", m.SensorID, m.Color, wantColors[i])
		}
	}
	if len(data.Chart.Series) != 3 {
		t.Errorf("Series = %d, want 3 (two registered, one unregistered)", len(data.Chart.Series))
	}
	if data.RowCount != 4 || !data.Fetched || data.FetchID != "abc" {
		t.Errorf("data = %+v", data)
	}
	if data.LastAttempt == nil || !data.LastAttempt.Equal(t0.Add(4*time.Minute)) {
		t.Errorf("LastAttempt = %v", data.LastAttempt)
	}
}

func TestBuildDashboardData_NeverFetched(t *testing.T) {
	data := BuildDashboardData(poller.Snapshot{}, testRegistry)

	if data.Fetched || data.LastAttempt != nil || data.NextRefresh != nil {
		t.Errorf("data = %+v", data)
	}
	for _, m := range data.Markers {
		if m.Color != "gray" || m.Spots != nil {
			t.Errorf("marker %s should be unknown, got %+v", m.SensorID, m)
		}
	}
	if data.Latest == nil {
		t.Error("Latest should be an empty map, not nil")
	}
}

func TestHandleSnapshot(t *testing.T) {
	api := NewAPIHandler(populatedSource(), nil, testRegistry, "test", zerolog.Nop())

	rec := get(t, api.HandleSnapshot, "/api/snapshot")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var data DashboardData
	decode(t, rec, &data)
	if data.Latest["A39VSFY0"] != 0 || data.Latest["GCX24L9C"] != 2 {
		t.Errorf("Latest = %v", data.Latest)
	}
	if data.Map.Zoom != 20 {
		t.Errorf("Zoom = %d", data.Map.Zoom)
	}
}

func TestHandleLatest(t *testing.T) {
	api := NewAPIHandler(&fakeSource{}, nil, testRegistry, "test", zerolog.Nop())

	rec := get(t, api.HandleLatest, "/api/latest")
	if body := rec.Body.String(); body != "{}\n" {
		t.Errorf("body = %q, want empty object", body)
	}
}

func TestHandleReadings_FilterBySensor(t *testing.T) {
	api := NewAPIHandler(populatedSource(), nil, testRegistry, "test", zerolog.Nop())

	var all, one models.ReadingTable
	decode(t, get(t, api.HandleReadings, "/api/readings"), &all)
	decode(t, get(t, api.HandleReadings, "/api/readings?sensor_id=A39VSFY0"), &one)

	if len(all) != 4 {
		t.Errorf("all = %d, want 4", len(all))
	}
	if len(one) != 2 {
		t.Errorf("filtered = %d, want 2", len(one))
	}
}

func TestHandleSensors(t *testing.T) {
	history := setupHistory(t)
	history.InsertReading(models.NewReading("FQGWNQHS", 6, t0.Add(-time.Hour)))
	history.InsertReading(models.NewReading("OLDDEV01", 1, t0.Add(-time.Hour)))

	api := NewAPIHandler(populatedSource(), history, testRegistry, "test", zerolog.Nop())

	var sensors []SensorInfo
	decode(t, get(t, api.HandleSensors, "/api/sensors"), &sensors)

	if len(sensors) != 5 {
		t.Fatalf("sensors = %d, want 5", len(sensors))
	}
	byID := make(map[string]SensorInfo)
	for _, s := range sensors {
		byID[s.ID] = s
	}

	if s := byID["A39VSFY0"]; !s.Registered || s.Spots == nil || *s.Spots != 0 {
		t.Errorf("A39VSFY0 = %+v", s)
	}
	if s := byID["FQGWNQHS"]; s.Spots == nil || *s.Spots != 6 {
		t.Errorf("FQGWNQHS should fall back to stored reading, got %+v", s)
	}
	if s := byID["UNKNOWN1"]; s.Registered {
		t.Error("UNKNOWN1 should be unregistered")
	}
	if _, ok := byID["OLDDEV01"]; !ok {
		t.Error("stored-only sensor missing")
	}
}

func TestHandleRefresh(t *testing.T) {
	src := &fakeSource{}
	api := NewAPIHandler(src, nil, testRegistry, "test", zerolog.Nop())

	for i, want := range []bool{true, false} {
		rec := httptest.NewRecorder()
		api.HandleRefresh(rec, httptest.NewRequest("POST", "/api/refresh", nil))
		if rec.Code != http.StatusAccepted {
			t.Errorf("status = %d", rec.Code)
		}
		var body map[string]bool
		decode(t, rec, &body)
		if body["queued"] != want {
			t.Errorf("request %d queued = %v, want %v", i, body["queued"], want)
		}
	}
}

func TestHandleHealth(t *testing.T) {
	src := &fakeSource{snap: poller.Snapshot{LastAttempt: t0, LastError: "upstream returned status 500"}}
	api := NewAPIHandler(src, nil, testRegistry, "v1", zerolog.Nop())

	var body map[string]interface{}
	decode(t, get(t, api.HandleHealth, "/health"), &body)

	if body["status"] != "degraded" || body["version"] != "v1" {
		t.Errorf("body = %v", body)
	}
}

func TestHistoryEndpoints_WithoutDatabase(t *testing.T) {
	api := NewAPIHandler(&fakeSource{}, nil, testRegistry, "test", zerolog.Nop())

	for name, h := range map[string]http.HandlerFunc{
		"history": api.HandleHistory,
		"hourly":  api.HandleHourlyStats,
		"stats":   api.HandleStorageStats,
	} {
		if rec := get(t, h, "/x"); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", name, rec.Code)
		}
	}
}

func TestHandleHistory(t *testing.T) {
	history := setupHistory(t)
	history.InsertBatch([]models.Reading{
		models.NewReading("A39VSFY0", 1, t0),
		models.NewReading("A39VSFY0", 2, t0.Add(time.Minute)),
		models.NewReading("GCX24L9C", 3, t0.Add(2*time.Minute)),
		models.NewReading("A39VSFY0", 4, t0.Add(48*time.Hour)),
	})
	api := NewAPIHandler(&fakeSource{}, history, testRegistry, "test", zerolog.Nop())

	start := t0.Add(-time.Minute).Format(time.RFC3339)
	end := t0.Add(time.Hour).Format(time.RFC3339)

	tests := []struct {
		name   string
		query  string
		status int
		count  int
	}{
		{"all sensors", "?start=" + start + "&end=" + end, http.StatusOK, 3},
		{"one sensor", "?sensor_id=A39VSFY0&start=" + start + "&end=" + end, http.StatusOK, 2},
		{"limit", "?limit=1&start=" + start + "&end=" + end, http.StatusOK, 1},
		{"unix seconds", "?start=1764514740&end=1764518400", http.StatusOK, 3},
		{"bad limit", "?limit=-1", http.StatusBadRequest, 0},
		{"bad start", "?start=yesterday", http.StatusBadRequest, 0},
		{"start after end", "?start=" + end + "&end=" + start, http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, api.HandleHistory, "/api/history"+tt.query)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status != http.StatusOK {
				return
			}
			var readings models.ReadingTable
			decode(t, rec, &readings)
			if len(readings) != tt.count {
				t.Errorf("count = %d, want %d", len(readings), tt.count)
			}
		})
	}
}

func TestHandleHourlyStats(t *testing.T) {
	history := setupHistory(t)
	history.InsertBatch([]models.Reading{
		models.NewReading("A39VSFY0", 2, t0.Add(5*time.Minute)),
		models.NewReading("A39VSFY0", 6, t0.Add(10*time.Minute)),
	})
	api := NewAPIHandler(&fakeSource{}, history, testRegistry, "test", zerolog.Nop())

	rec := get(t, api.HandleHourlyStats, "/api/history/hourly?start=1764514800&end=1764518400")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var stats []storage.HourlyStat
	decode(t, rec, &stats)
	if len(stats) != 1 {
		t.Fatalf("stats = %d, want 1", len(stats))
	}
	if stats[0].MinSpots != 2 || stats[0].MaxSpots != 6 || stats[0].AvgSpots != 4 {
		t.Errorf("stat = %+v", stats[0])
	}
}
