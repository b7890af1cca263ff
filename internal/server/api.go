package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/parking-monitor/internal/dashboard"
	"github.com/afroash/parking-monitor/internal/models"
	"github.com/afroash/parking-monitor/internal/poller"
)

const (
	defaultHistoryLimit = 500
	maxHistoryLimit     = 10000
	defaultHistorySpan  = 24 * time.Hour
)

// APIHandler handles HTTP API requests for the dashboard
type APIHandler struct {
	source   SnapshotSource
	history  HistoricalStore // nil when the database is disabled
	registry models.Registry
	version  string
	logger   zerolog.Logger
}

// NewAPIHandler creates a new API handler; history may be nil
func NewAPIHandler(source SnapshotSource, history HistoricalStore, registry models.Registry, version string, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		source:   source,
		history:  history,
		registry: registry,
		version:  version,
		logger:   logger,
	}
}

// DashboardData is everything the browser needs to draw one frame
type DashboardData struct {
	Map         dashboard.MapView   `json:"map"`
	Markers     []dashboard.Marker  `json:"markers"`
	Chart       dashboard.ChartSpec `json:"chart"`
	Summary     []dashboard.Metric  `json:"summary"`
	Latest      models.LatestState  `json:"latest"`
	RowCount    int                 `json:"row_count"`
	Fetched     bool                `json:"fetched"`
	LastAttempt *time.Time          `json:"last_attempt,omitempty"`
	LastSuccess *time.Time          `json:"last_success,omitempty"`
	NextRefresh *time.Time          `json:"next_refresh,omitempty"`
	LastError   string              `json:"last_error,omitempty"`
	FetchID     string              `json:"fetch_id,omitempty"`
}

// BuildDashboardData renders a snapshot into the dashboard view
func BuildDashboardData(snap poller.Snapshot, registry models.Registry) DashboardData {
	latest := snap.Latest
	if latest == nil {
		latest = models.LatestState{}
	}
	return DashboardData{
		Map:         dashboard.NewMapView(registry),
		Markers:     dashboard.BuildMapMarkers(latest, registry),
		Chart:       dashboard.BuildTimeSeries(snap.Readings, registry),
		Summary:     dashboard.BuildSummary(latest, registry),
		Latest:      latest,
		RowCount:    len(snap.Readings),
		Fetched:     snap.Fetched(),
		LastAttempt: timePtr(snap.LastAttempt),
		LastSuccess: timePtr(snap.LastSuccess),
		NextRefresh: timePtr(snap.NextRefresh),
		LastError:   snap.LastError,
		FetchID:     snap.FetchID,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// HandleHealth reports liveness and the age of the last successful fetch
func (api *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	snap := api.source.Snapshot()
	resp := map[string]interface{}{
		"status":  "ok",
		"version": api.version,
		"fetched": snap.Fetched(),
	}
	if !snap.LastSuccess.IsZero() {
		resp["last_success"] = snap.LastSuccess
	}
	if snap.LastError != "" {
		resp["status"] = "degraded"
		resp["last_error"] = snap.LastError
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleSnapshot returns the full dashboard view
func (api *APIHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BuildDashboardData(api.source.Snapshot(), api.registry))
}

// HandleLatest returns the latest spot count per sensor
func (api *APIHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	latest := api.source.Snapshot().Latest
	if latest == nil {
		latest = models.LatestState{}
	}
	writeJSON(w, http.StatusOK, latest)
}

// HandleMarkers returns the map markers and viewport
func (api *APIHandler) HandleMarkers(w http.ResponseWriter, r *http.Request) {
	snap := api.source.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"map":     dashboard.NewMapView(api.registry),
		"markers": dashboard.BuildMapMarkers(snap.Latest, api.registry),
	})
}

// HandleTimeSeries returns the chart description
func (api *APIHandler) HandleTimeSeries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dashboard.BuildTimeSeries(api.source.Snapshot().Readings, api.registry))
}

// HandleReadings returns the in-memory table, optionally for one sensor
func (api *APIHandler) HandleReadings(w http.ResponseWriter, r *http.Request) {
	readings := api.source.Snapshot().Readings
	if sensorID := r.URL.Query().Get("sensor_id"); sensorID != "" {
		readings = readings.ForSensor(sensorID)
	}
	if readings == nil {
		readings = models.ReadingTable{}
	}
	writeJSON(w, http.StatusOK, readings)
}

// SensorInfo describes one sensor known to the dashboard
type SensorInfo struct {
	models.Sensor
	Registered bool       `json:"registered"`
	Spots      *int       `json:"spots"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
}

// HandleSensors lists registered sensors, then unregistered devices seen in the table
// or the database. Sensors absent from the live table fall back to their last stored reading.
func (api *APIHandler) HandleSensors(w http.ResponseWriter, r *http.Request) {
	snap := api.source.Snapshot()

	newest := make(map[string]time.Time)
	for _, reading := range snap.Readings {
		if !reading.Timestamp.Before(newest[reading.SensorID]) {
			newest[reading.SensorID] = reading.Timestamp
		}
	}

	sensors := make([]SensorInfo, 0, len(api.registry))
	seen := make(map[string]bool)
	add := func(s models.Sensor, registered bool) {
		if seen[s.ID] {
			return
		}
		seen[s.ID] = true

		info := SensorInfo{Sensor: s, Registered: registered}
		if n, ok := snap.Latest.Get(s.ID); ok {
			info.Spots = &n
			info.LastSeen = timePtr(newest[s.ID])
		} else if api.history != nil {
			stored, err := api.history.GetLatestReading(s.ID)
			if err != nil {
				api.logger.Warn().Err(err).Str("sensor_id", s.ID).Msg("Failed to load stored reading")
			} else if stored != nil {
				info.Spots = &stored.Spots
				info.LastSeen = timePtr(stored.Timestamp)
			}
		}
		sensors = append(sensors, info)
	}

	for _, s := range api.registry {
		add(s, true)
	}
	for _, id := range snap.Readings.SensorIDs() {
		add(models.Sensor{ID: id, Name: id}, false)
	}
	if api.history != nil {
		ids, err := api.history.GetSensorIDs()
		if err != nil {
			api.logger.Warn().Err(err).Msg("Failed to list stored sensors")
		}
		for _, id := range ids {
			add(models.Sensor{ID: id, Name: id}, false)
		}
	}

	writeJSON(w, http.StatusOK, sensors)
}

// HandleRefresh queues a manual refresh
func (api *APIHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	queued := api.source.RequestRefresh()
	api.logger.Info().Bool("queued", queued).Str("remote", r.RemoteAddr).Msg("Manual refresh requested")
	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": queued})
}

// HandleHistory returns persisted readings in a time range
func (api *APIHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if api.history == nil {
		http.Error(w, "Historical data not available", http.StatusServiceUnavailable)
		return
	}

	start, end, err := parseRange(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil || parsed <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}

	readings, err := api.history.GetReadingsInRange(r.URL.Query().Get("sensor_id"), start, end, limit)
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to query history")
		http.Error(w, "Failed to query history", http.StatusInternalServerError)
		return
	}
	if readings == nil {
		readings = models.ReadingTable{}
	}
	writeJSON(w, http.StatusOK, readings)
}

// HandleHourlyStats returns min/max/avg spots per sensor-hour
func (api *APIHandler) HandleHourlyStats(w http.ResponseWriter, r *http.Request) {
	if api.history == nil {
		http.Error(w, "Historical data not available", http.StatusServiceUnavailable)
		return
	}

	start, end, err := parseRange(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	stats, err := api.history.GetHourlyStats(r.URL.Query().Get("sensor_id"), start, end)
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to query hourly stats")
		http.Error(w, "Failed to query hourly stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleStorageStats returns database statistics
func (api *APIHandler) HandleStorageStats(w http.ResponseWriter, r *http.Request) {
	if api.history == nil {
		http.Error(w, "Historical data not available", http.StatusServiceUnavailable)
		return
	}

	stats, err := api.history.GetStorageStats()
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to get storage stats")
		http.Error(w, "Failed to get storage stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// parseRange reads start/end as RFC3339 or unix seconds; defaults to the last 24 hours
func parseRange(r *http.Request) (time.Time, time.Time, error) {
	end := time.Now().UTC()
	if s := r.URL.Query().Get("end"); s != "" {
		t, err := parseTimeParam(s)
		if err != nil {
			return time.Time{}, time.Time{}, errInvalidParam("end")
		}
		end = t
	}

	start := end.Add(-defaultHistorySpan)
	if s := r.URL.Query().Get("start"); s != "" {
		t, err := parseTimeParam(s)
		if err != nil {
			return time.Time{}, time.Time{}, errInvalidParam("start")
		}
		start = t
	}

	if start.After(end) {
		return time.Time{}, time.Time{}, errInvalidParam("start")
	}
	return start, end, nil
}

func parseTimeParam(s string) (time.Time, error) {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}

type errInvalidParam string

func (e errInvalidParam) Error() string {
	return "Invalid " + string(e) + " parameter"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
