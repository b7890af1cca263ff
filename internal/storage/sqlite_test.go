package storage

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/parking-monitor/internal/models"
)

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) *SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func TestNewSQLiteStore(t *testing.T) {
	store := setupTestDB(t)

	if store.db == nil {
		t.Fatal("Expected non-nil database connection")
	}
}

func TestNewSQLiteStore_InvalidPath(t *testing.T) {
	_, err := NewSQLiteStore("/nonexistent/path/that/cannot/exist/test.db", zerolog.Nop())
	if err == nil {
		t.Fatal("Expected error for invalid path")
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	store := setupTestDB(t)

	if err := store.Migrate(); err != nil {
		t.Fatalf("Second migration failed: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("Third migration failed: %v", err)
	}
}

func TestInsertReading(t *testing.T) {
	store := setupTestDB(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	if err := store.InsertReading(models.NewReading("A39VSFY0", 4, now)); err != nil {
		t.Fatalf("InsertReading failed: %v", err)
	}

	latest, err := store.GetLatestReading("A39VSFY0")
	if err != nil {
		t.Fatalf("GetLatestReading failed: %v", err)
	}
	if latest == nil {
		t.Fatal("Expected a reading")
	}
	if latest.Spots != 4 {
		t.Errorf("Spots = %d, want 4", latest.Spots)
	}
	if !latest.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", latest.Timestamp, now)
	}
}

func TestInsertReading_RejectsNegativeSpots(t *testing.T) {
	store := setupTestDB(t)

	if err := store.InsertReading(models.NewReading("A", -1, time.Now())); err == nil {
		t.Error("Expected constraint error for negative spots")
	}
}

func TestInsertBatch(t *testing.T) {
	store := setupTestDB(t)

	base := time.Now().UTC().Add(-10 * time.Minute)
	batch := make([]models.Reading, 0, 50)
	for i := 0; i < 50; i++ {
		batch = append(batch, models.NewReading("GCX24L9C", i%6, base.Add(time.Duration(i)*time.Second)))
	}

	if err := store.InsertBatch(batch); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	stats, err := store.GetStorageStats()
	if err != nil {
		t.Fatalf("GetStorageStats failed: %v", err)
	}
	if stats.TotalReadings != 50 {
		t.Errorf("TotalReadings = %d, want 50", stats.TotalReadings)
	}

	if err := store.InsertBatch(nil); err != nil {
		t.Errorf("InsertBatch(nil) should be a no-op, got %v", err)
	}
}

func TestGetReadingsInRange(t *testing.T) {
	store := setupTestDB(t)

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store.InsertBatch([]models.Reading{
		models.NewReading("A", 1, base),
		models.NewReading("A", 2, base.Add(10*time.Minute)),
		models.NewReading("B", 3, base.Add(15*time.Minute)),
		models.NewReading("A", 4, base.Add(2*time.Hour)),
	})

	readings, err := store.GetReadingsInRange("A", base, base.Add(time.Hour), 100)
	if err != nil {
		t.Fatalf("GetReadingsInRange failed: %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("len = %d, want 2", len(readings))
	}
	// newest first
	if readings[0].Spots != 2 || readings[1].Spots != 1 {
		t.Errorf("readings = %v", readings)
	}

	all, err := store.GetReadingsInRange("", base, base.Add(time.Hour), 100)
	if err != nil {
		t.Fatalf("GetReadingsInRange(all) failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len(all) = %d, want 3", len(all))
	}

	limited, _ := store.GetReadingsInRange("", base, base.Add(3*time.Hour), 1)
	if len(limited) != 1 || limited[0].Spots != 4 {
		t.Errorf("limited = %v", limited)
	}
}

func TestGetReadingsSince(t *testing.T) {
	store := setupTestDB(t)

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store.InsertBatch([]models.Reading{
		models.NewReading("A", 9, base.Add(-time.Hour)),
		models.NewReading("A", 1, base.Add(time.Minute)),
		models.NewReading("B", 2, base),
		models.NewReading("C", 3, base),
	})

	table, err := store.GetReadingsSince(base)
	if err != nil {
		t.Fatalf("GetReadingsSince failed: %v", err)
	}
	if len(table) != 3 {
		t.Fatalf("len = %d, want 3", len(table))
	}
	// oldest first, insert order among ties
	if table[0].SensorID != "B" || table[1].SensorID != "C" || table[2].SensorID != "A" {
		t.Errorf("order = %v", table)
	}
}

func TestGetLatestReading_NoReadings(t *testing.T) {
	store := setupTestDB(t)

	reading, err := store.GetLatestReading("nobody")
	if err != nil {
		t.Fatalf("GetLatestReading failed: %v", err)
	}
	if reading != nil {
		t.Errorf("Expected nil, got %v", reading)
	}
}

func TestGetHourlyStats(t *testing.T) {
	store := setupTestDB(t)

	hour := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store.InsertBatch([]models.Reading{
		models.NewReading("A", 2, hour.Add(5*time.Minute)),
		models.NewReading("A", 6, hour.Add(35*time.Minute)),
		models.NewReading("A", 1, hour.Add(65*time.Minute)),
		models.NewReading("B", 0, hour.Add(10*time.Minute)),
	})

	stats, err := store.GetHourlyStats("", hour, hour.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("GetHourlyStats failed: %v", err)
	}
	if len(stats) != 3 {
		t.Fatalf("len(stats) = %d, want 3: %+v", len(stats), stats)
	}

	first := stats[0]
	if first.SensorID != "A" || !first.Hour.Equal(hour) {
		t.Errorf("first = %+v", first)
	}
	if first.MinSpots != 2 || first.MaxSpots != 6 || first.AvgSpots != 4 || first.ReadingCount != 2 {
		t.Errorf("first aggregates = %+v", first)
	}

	onlyB, err := store.GetHourlyStats("B", hour, hour.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("GetHourlyStats(B) failed: %v", err)
	}
	if len(onlyB) != 1 || onlyB[0].MaxSpots != 0 {
		t.Errorf("onlyB = %+v", onlyB)
	}
}

func TestDeleteOlderThan(t *testing.T) {
	store := setupTestDB(t)

	now := time.Now().UTC()
	store.InsertBatch([]models.Reading{
		models.NewReading("A", 1, now.Add(-3*time.Hour)),
		models.NewReading("A", 2, now.Add(-2*time.Hour)),
		models.NewReading("A", 3, now.Add(-10*time.Minute)),
	})

	deleted, err := store.DeleteOlderThan(time.Hour)
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	stats, _ := store.GetStorageStats()
	if stats.TotalReadings != 1 {
		t.Errorf("TotalReadings = %d, want 1", stats.TotalReadings)
	}
}

func TestGetStorageStats_Empty(t *testing.T) {
	store := setupTestDB(t)

	stats, err := store.GetStorageStats()
	if err != nil {
		t.Fatalf("GetStorageStats failed: %v", err)
	}
	if stats.TotalReadings != 0 || stats.UniqueSensors != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestGetSensorIDs(t *testing.T) {
	store := setupTestDB(t)

	now := time.Now()
	store.InsertBatch([]models.Reading{
		models.NewReading("GCX24L9C", 1, now),
		models.NewReading("A39VSFY0", 1, now),
		models.NewReading("GCX24L9C", 2, now),
	})

	ids, err := store.GetSensorIDs()
	if err != nil {
		t.Fatalf("GetSensorIDs failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "A39VSFY0" || ids[1] != "GCX24L9C" {
		t.Errorf("ids = %v", ids)
	}
}

func TestConcurrentInserts(t *testing.T) {
	store := setupTestDB(t)

	var wg sync.WaitGroup
	for g := 0; g < 5; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if err := store.InsertReading(models.NewReading("A", i, time.Now())); err != nil {
					t.Errorf("goroutine %d insert failed: %v", g, err)
				}
			}
		}(g)
	}
	wg.Wait()

	stats, _ := store.GetStorageStats()
	if stats.TotalReadings != 100 {
		t.Errorf("TotalReadings = %d, want 100", stats.TotalReadings)
	}
}
