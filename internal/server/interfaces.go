package server

import (
	"time"

	"github.com/afroash/parking-monitor/internal/models"
	"github.com/afroash/parking-monitor/internal/poller"
	"github.com/afroash/parking-monitor/internal/storage"
)

// SnapshotSource is the live polling state.
// poller.Poller implements this interface
type SnapshotSource interface {
	// Snapshot returns a copy of the current table and fetch bookkeeping
	Snapshot() poller.Snapshot

	// RequestRefresh asks for a fetch ahead of schedule; false if one is already pending
	RequestRefresh() bool
}

// HistoricalStore defines the interface for historical/persistent storage
// storage.SQLiteStore implements this interface
type HistoricalStore interface {
	// GetReadingsInRange returns readings within a time range, newest first
	GetReadingsInRange(sensorID string, start, end time.Time, limit int) (models.ReadingTable, error)

	// GetLatestReading returns the most recent reading for a sensor
	GetLatestReading(sensorID string) (*models.Reading, error)

	// GetSensorIDs returns list of all unique sensor IDs
	GetSensorIDs() ([]string, error)

	// GetHourlyStats returns aggregated hourly statistics
	GetHourlyStats(sensorID string, start, end time.Time) ([]storage.HourlyStat, error)

	// GetStorageStats returns database statistics
	GetStorageStats() (*storage.StorageStats, error)
}

var (
	_ SnapshotSource  = (*poller.Poller)(nil)
	_ HistoricalStore = (*storage.SQLiteStore)(nil)
)
