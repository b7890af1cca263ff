package poller

import (
	"fmt"
	"sync"
	"time"

	"github.com/afroash/parking-monitor/internal/models"
)

// Session is the accumulated polling state: the reading table and fetch bookkeeping.
// It starts empty and never fetched, is updated on each trigger and is only read between triggers.
type Session struct {
	mu          sync.RWMutex
	table       models.ReadingTable
	lastAttempt time.Time
	lastSuccess time.Time
	lastErr     error
	fetchID     string
	fetches     int64
	failures    int64
}

// NewSession creates an empty session
func NewSession() *Session {
	return &Session{
		table: models.ReadingTable{},
	}
}

// Snapshot is a read-only copy of the session, safe to hand to renderers
type Snapshot struct {
	Readings    models.ReadingTable `json:"readings"`
	Latest      models.LatestState  `json:"latest"`
	LastAttempt time.Time           `json:"last_attempt"`
	LastSuccess time.Time           `json:"last_success"`
	NextRefresh time.Time           `json:"next_refresh"`
	LastError   string              `json:"last_error,omitempty"`
	FetchID     string              `json:"fetch_id,omitempty"`
	Fetches     int64               `json:"fetches"`
	Failures    int64               `json:"failures"`
}

// Fetched reports whether any fetch has been attempted
func (s Snapshot) Fetched() bool {
	return !s.LastAttempt.IsZero()
}

// ShouldFetch applies the trigger policy: fetch when nothing has been attempted yet,
// when at least interval has passed since the last attempt, or on manual request.
func (s *Session) ShouldFetch(now time.Time, interval time.Duration, manual bool) bool {
	if manual {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lastAttempt.IsZero() {
		return true
	}
	return now.Sub(s.lastAttempt) >= interval
}

// Snapshot returns a copy of the current state
func (s *Session) Snapshot(interval time.Duration) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Readings:    s.table.Clone(),
		Latest:      models.Latest(s.table),
		LastAttempt: s.lastAttempt,
		LastSuccess: s.lastSuccess,
		FetchID:     s.fetchID,
		Fetches:     s.fetches,
		Failures:    s.failures,
	}
	if !s.lastAttempt.IsZero() {
		snap.NextRefresh = s.lastAttempt.Add(interval)
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

// Newest returns the timestamp of the newest held reading
func (s *Session) Newest() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table.Newest()
}

// Len returns the number of readings held
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.table)
}

// Seed loads previously persisted readings without counting as a fetch
func (s *Session) Seed(table models.ReadingTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table = table.Sorted()
}

// recordFailure notes a failed attempt; the table is kept as is
func (s *Session) recordFailure(at time.Time, fetchID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastAttempt = at
	s.lastErr = err
	s.fetchID = fetchID
	s.fetches++
	s.failures++
}

// apply folds a freshly fetched table into the session and returns the readings that
// were not already held and survive the retention cut. Incoming readings identical to held ones observed at or after
// since are treated as re-deliveries of the overlapping window.
func (s *Session) apply(incoming models.ReadingTable, since time.Time, at time.Time, fetchID string, mode Mode, retention time.Duration) models.ReadingTable {
	s.mu.Lock()
	defer s.mu.Unlock()

	held := make(map[string]int)
	for _, r := range s.table {
		if !r.Timestamp.Before(since) {
			held[readingKey(r)]++
		}
	}

	var cutoff time.Time
	if retention > 0 {
		cutoff = at.Add(-retention)
	}

	// readings already outside the window are never held, so they are not new either
	added := make(models.ReadingTable, 0, len(incoming))
	for _, r := range incoming {
		key := readingKey(r)
		if held[key] > 0 {
			held[key]--
			continue
		}
		if r.Timestamp.Before(cutoff) {
			continue
		}
		added = append(added, r)
	}

	var next models.ReadingTable
	switch mode {
	case ModeReplace:
		next = incoming.Sorted()
	default:
		merged := append(s.table.Clone(), added...)
		next = merged.Sorted()
	}
	if retention > 0 {
		next = next.Window(cutoff)
	}

	s.table = next
	s.lastAttempt = at
	s.lastSuccess = at
	s.lastErr = nil
	s.fetchID = fetchID
	s.fetches++

	return added
}

func readingKey(r models.Reading) string {
	return fmt.Sprintf("%s|%d|%d", r.SensorID, r.Spots, r.Timestamp.UnixNano())
}
