package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/afroash/parking-monitor/internal/models"
)

// timestamps are stored in UTC with a fixed width so text comparison orders them
const tsLayout = "2006-01-02 15:04:05.000"

// Store defines the interface for reading history storage
type Store interface {
	Close() error
	Migrate() error
	InsertReading(reading models.Reading) error
	InsertBatch(readings []models.Reading) error
	GetReadingsInRange(sensorID string, start, end time.Time, limit int) (models.ReadingTable, error)
	GetReadingsSince(since time.Time) (models.ReadingTable, error)
	GetLatestReading(sensorID string) (*models.Reading, error)
	GetHourlyStats(sensorID string, start, end time.Time) ([]HourlyStat, error)
	DeleteOlderThan(age time.Duration) (int64, error)
	GetStorageStats() (*StorageStats, error)
	GetSensorIDs() ([]string, error)
}

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore handles persistent storage of spot readings
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// HourlyStat aggregates one sensor's readings over one hour
type HourlyStat struct {
	Hour         time.Time `json:"hour"`
	SensorID     string    `json:"sensor_id"`
	MinSpots     int       `json:"min_spots"`
	MaxSpots     int       `json:"max_spots"`
	AvgSpots     float64   `json:"avg_spots"`
	ReadingCount int       `json:"reading_count"`
}

// StorageStats contains information about the database
type StorageStats struct {
	TotalReadings  int64     `json:"total_readings"`
	OldestReading  time.Time `json:"oldest_reading,omitempty"`
	NewestReading  time.Time `json:"newest_reading,omitempty"`
	UniqueSensors  int       `json:"unique_sensors"`
	DatabaseSizeMB float64   `json:"database_size_mb"`
}

// NewSQLiteStore opens (and migrates) the database at dbPath
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info().Str("path", dbPath).Msg("SQLite store initialized")

	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate creates the database schema if it doesn't exist
func (s *SQLiteStore) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sensor_id TEXT NOT NULL,
		spots INTEGER NOT NULL CHECK (spots >= 0),
		recorded_at TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_readings_sensor_time ON readings(sensor_id, recorded_at);
	CREATE INDEX IF NOT EXISTS idx_readings_time ON readings(recorded_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Debug().Msg("Database schema migrated")
	return nil
}

// InsertReading inserts a single reading into the database
func (s *SQLiteStore) InsertReading(reading models.Reading) error {
	_, err := s.db.Exec(
		`INSERT INTO readings (sensor_id, spots, recorded_at) VALUES (?, ?, ?)`,
		reading.SensorID,
		reading.Spots,
		formatTS(reading.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

// InsertBatch inserts multiple readings in a single transaction
func (s *SQLiteStore) InsertBatch(readings []models.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO readings (sensor_id, spots, recorded_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, reading := range readings {
		if _, err := stmt.Exec(reading.SensorID, reading.Spots, formatTS(reading.Timestamp)); err != nil {
			return fmt.Errorf("failed to insert reading in batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug().Int("count", len(readings)).Msg("Batch insert completed")
	return nil
}

// GetReadingsInRange returns readings within a time range, newest first.
// An empty sensorID selects every sensor.
func (s *SQLiteStore) GetReadingsInRange(sensorID string, start, end time.Time, limit int) (models.ReadingTable, error) {
	query := `
		SELECT sensor_id, spots, recorded_at
		FROM readings
		WHERE recorded_at BETWEEN ? AND ?`
	args := []interface{}{formatTS(start), formatTS(end)}

	if sensorID != "" {
		query += ` AND sensor_id = ?`
		args = append(args, sensorID)
	}
	query += ` ORDER BY recorded_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	return scanReadings(rows)
}

// GetReadingsSince returns every reading at or after since, oldest first, in insert
// order among equal timestamps. Used to warm the in-memory table at startup.
func (s *SQLiteStore) GetReadingsSince(since time.Time) (models.ReadingTable, error) {
	rows, err := s.db.Query(`
		SELECT sensor_id, spots, recorded_at
		FROM readings
		WHERE recorded_at >= ?
		ORDER BY recorded_at ASC, id ASC`,
		formatTS(since),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	return scanReadings(rows)
}

// GetLatestReading returns the most recent reading for a sensor, or nil if none exist
func (s *SQLiteStore) GetLatestReading(sensorID string) (*models.Reading, error) {
	row := s.db.QueryRow(`
		SELECT sensor_id, spots, recorded_at
		FROM readings
		WHERE sensor_id = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1`,
		sensorID,
	)

	var r models.Reading
	var recordedAt string
	err := row.Scan(&r.SensorID, &r.Spots, &recordedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest reading: %w", err)
	}
	if r.Timestamp, err = parseTimestamp(recordedAt); err != nil {
		return nil, fmt.Errorf("failed to parse recorded_at: %w", err)
	}
	return &r, nil
}

// GetHourlyStats returns per-sensor hourly min/max/avg spot counts for a time range
func (s *SQLiteStore) GetHourlyStats(sensorID string, start, end time.Time) ([]HourlyStat, error) {
	query := `
		SELECT
			strftime('%Y-%m-%d %H:00:00', recorded_at) AS hour,
			sensor_id,
			MIN(spots),
			MAX(spots),
			AVG(spots),
			COUNT(*)
		FROM readings
		WHERE recorded_at BETWEEN ? AND ?`
	args := []interface{}{formatTS(start), formatTS(end)}

	if sensorID != "" {
		query += ` AND sensor_id = ?`
		args = append(args, sensorID)
	}
	query += ` GROUP BY hour, sensor_id ORDER BY hour ASC, sensor_id ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly stats: %w", err)
	}
	defer rows.Close()

	stats := make([]HourlyStat, 0)
	for rows.Next() {
		var stat HourlyStat
		var hourStr string

		err := rows.Scan(&hourStr, &stat.SensorID, &stat.MinSpots, &stat.MaxSpots, &stat.AvgSpots, &stat.ReadingCount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan hourly stat: %w", err)
		}

		stat.Hour, err = time.ParseInLocation("2006-01-02 15:04:05", hourStr, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("failed to parse hour: %w", err)
		}

		stats = append(stats, stat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return stats, nil
}

// DeleteOlderThan removes readings recorded more than age ago
func (s *SQLiteStore) DeleteOlderThan(age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age)

	result, err := s.db.Exec("DELETE FROM readings WHERE recorded_at < ?", formatTS(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old readings: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	s.logger.Debug().
		Dur("age", age).
		Int64("deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Deleted old readings")

	return deleted, nil
}

// GetStorageStats returns statistics about the database
func (s *SQLiteStore) GetStorageStats() (*StorageStats, error) {
	stats := &StorageStats{}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM readings").Scan(&stats.TotalReadings); err != nil {
		return nil, fmt.Errorf("failed to count readings: %w", err)
	}

	if stats.TotalReadings == 0 {
		return stats, nil
	}

	var oldestStr, newestStr string
	err := s.db.QueryRow("SELECT MIN(recorded_at), MAX(recorded_at) FROM readings").Scan(&oldestStr, &newestStr)
	if err != nil {
		return nil, fmt.Errorf("failed to get timestamp range: %w", err)
	}
	stats.OldestReading, _ = parseTimestamp(oldestStr)
	stats.NewestReading, _ = parseTimestamp(newestStr)

	if err := s.db.QueryRow("SELECT COUNT(DISTINCT sensor_id) FROM readings").Scan(&stats.UniqueSensors); err != nil {
		return nil, fmt.Errorf("failed to count sensors: %w", err)
	}

	var pageCount, pageSize int64
	s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	stats.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)

	return stats, nil
}

// GetSensorIDs returns a list of all unique sensor IDs in the database
func (s *SQLiteStore) GetSensorIDs() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT sensor_id FROM readings ORDER BY sensor_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query sensor IDs: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan sensor ID: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return ids, nil
}

// scanReadings scans sensor_id, spots, recorded_at rows into a table
func scanReadings(rows *sql.Rows) (models.ReadingTable, error) {
	readings := make(models.ReadingTable, 0)

	for rows.Next() {
		var r models.Reading
		var recordedAt string

		if err := rows.Scan(&r.SensorID, &r.Spots, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}

		ts, err := parseTimestamp(recordedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse timestamp: %w", err)
		}
		r.Timestamp = ts

		readings = append(readings, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return readings, nil
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

// parseTimestamp tries the layouts SQLite may hand back
func parseTimestamp(ts string) (time.Time, error) {
	formats := []string{
		tsLayout,
		"2006-01-02 15:04:05",
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.ParseInLocation(format, ts, time.UTC); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", ts)
}
