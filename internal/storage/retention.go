package storage

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultHistoryRetention = 30 * 24 * time.Hour
	defaultCleanupPeriod    = time.Hour
)

// RetentionCleanerConfig sets how long history is kept and how often it is pruned.
// Zero values fall back to 30 days and hourly.
type RetentionCleanerConfig struct {
	Retention     time.Duration
	CleanupPeriod time.Duration
}

// DefaultRetentionCleanerConfig keeps 30 days of history and prunes hourly
func DefaultRetentionCleanerConfig() RetentionCleanerConfig {
	return RetentionCleanerConfig{
		Retention:     defaultHistoryRetention,
		CleanupPeriod: defaultCleanupPeriod,
	}
}

// RetentionCleanerStats is exposed alongside the storage stats
type RetentionCleanerStats struct {
	TotalDeleted    int64         `json:"total_deleted"`
	TotalCleanups   int64         `json:"total_cleanups"`
	LastCleanup     time.Time     `json:"last_cleanup,omitempty"`
	LastDeleteCount int64         `json:"last_delete_count"`
	Retention       time.Duration `json:"retention"`
}

// RetentionCleaner prunes parking history older than the retention window
// on a fixed period, starting with one pass at construction.
type RetentionCleaner struct {
	store         Store
	logger        zerolog.Logger
	retention     time.Duration
	cleanupPeriod time.Duration

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu    sync.RWMutex
	stats RetentionCleanerStats
}

// NewRetentionCleaner starts pruning store in the background
func NewRetentionCleaner(store Store, config RetentionCleanerConfig, logger zerolog.Logger) *RetentionCleaner {
	if config.CleanupPeriod <= 0 {
		logger.Warn().
			Dur("cleanup_period", config.CleanupPeriod).
			Dur("using", defaultCleanupPeriod).
			Msg("Cleanup period must be positive, using default")
		config.CleanupPeriod = defaultCleanupPeriod
	}
	if config.Retention <= 0 {
		config.Retention = defaultHistoryRetention
	}

	c := &RetentionCleaner{
		store:         store,
		logger:        logger,
		retention:     config.Retention,
		cleanupPeriod: config.CleanupPeriod,
		done:          make(chan struct{}),
		stats:         RetentionCleanerStats{Retention: config.Retention},
	}

	c.wg.Add(1)
	go c.loop()

	logger.Info().
		Dur("retention", c.retention).
		Dur("cleanup_period", c.cleanupPeriod).
		Msg("History pruning scheduled")
	return c
}

func (c *RetentionCleaner) loop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cleanupPeriod)
	defer ticker.Stop()

	for {
		c.RunNow()
		select {
		case <-ticker.C:
		case <-c.done:
			return
		}
	}
}

// RunNow prunes immediately and records the outcome
func (c *RetentionCleaner) RunNow() {
	deleted, err := c.store.DeleteOlderThan(c.retention)

	c.mu.Lock()
	c.stats.TotalCleanups++
	c.stats.LastCleanup = time.Now()
	if err == nil {
		c.stats.TotalDeleted += deleted
		c.stats.LastDeleteCount = deleted
	}
	c.mu.Unlock()

	switch {
	case err != nil:
		c.logger.Error().Err(err).Msg("Pruning history failed")
	case deleted > 0:
		c.logger.Info().Int64("deleted", deleted).Dur("retention", c.retention).Msg("Pruned old readings")
	}
}

// Stop ends the background loop; safe to call more than once
func (c *RetentionCleaner) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
	})
}

// Stats returns a copy of the pruning counters
func (c *RetentionCleaner) Stats() RetentionCleanerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}
