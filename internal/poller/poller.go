// Package poller drives the upstream fetch cycle and owns the accumulated reading table.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/afroash/parking-monitor/internal/ingest"
	"github.com/afroash/parking-monitor/internal/models"
)

// Mode selects how a fetched table is combined with the held one
type Mode string

const (
	// ModeMerge keeps history across polls and appends only unseen readings
	ModeMerge Mode = "merge"
	// ModeReplace swaps the held table for each fetched window
	ModeReplace Mode = "replace"
)

// Fetcher abstracts the upstream API client
type Fetcher interface {
	Fetch(ctx context.Context, since time.Time) (models.ReadingTable, ingest.ParseStats, error)
}

// Config is the runtime config the poller needs
type Config struct {
	Interval      time.Duration
	CheckInterval time.Duration
	Retention     time.Duration // 0 keeps every reading
	StartDate     int64         // fixed startDate in epoch seconds; 0 derives it per fetch
	Mode          Mode
}

// Update describes the outcome of one refresh
type Update struct {
	Snapshot Snapshot
	Added    models.ReadingTable
	Stats    ingest.ParseStats
	Since    time.Time
	Duration time.Duration
	Err      error
}

// Listener is called after every refresh, successful or not
type Listener func(Update)

// Poller runs fetches against the upstream API and folds them into its session.
// Fetches never overlap.
type Poller struct {
	cfg       Config
	fetcher   Fetcher
	session   *Session
	logger    zerolog.Logger
	now       func() time.Time
	fetchMu   sync.Mutex
	refreshCh chan struct{}

	listenersMu sync.RWMutex
	listeners   []Listener
}

// New creates a poller with an empty session
func New(cfg Config, fetcher Fetcher, logger zerolog.Logger) (*Poller, error) {
	if fetcher == nil {
		return nil, errors.New("poller: fetcher required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("poller: interval must be > 0")
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Second
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeMerge
	}
	if cfg.Mode != ModeMerge && cfg.Mode != ModeReplace {
		return nil, errors.New("poller: unknown mode " + string(cfg.Mode))
	}
	if cfg.Retention < 0 {
		return nil, errors.New("poller: retention must be >= 0")
	}

	return &Poller{
		cfg:       cfg,
		fetcher:   fetcher,
		session:   NewSession(),
		logger:    logger,
		now:       time.Now,
		refreshCh: make(chan struct{}, 1),
	}, nil
}

// OnUpdate registers a listener for refresh outcomes
func (p *Poller) OnUpdate(l Listener) {
	p.listenersMu.Lock()
	defer p.listenersMu.Unlock()
	p.listeners = append(p.listeners, l)
}

// Session exposes the poller's state
func (p *Poller) Session() *Session {
	return p.session
}

// Interval returns the configured polling interval
func (p *Poller) Interval() time.Duration {
	return p.cfg.Interval
}

// Snapshot returns a copy of the current state
func (p *Poller) Snapshot() Snapshot {
	return p.session.Snapshot(p.cfg.Interval)
}

// Seed warms the session with persisted readings, trimmed to the retention window
func (p *Poller) Seed(table models.ReadingTable) {
	table = table.Sorted()
	if p.cfg.Retention > 0 {
		table = table.Window(p.now().Add(-p.cfg.Retention))
	}
	p.session.Seed(table)
}

// since picks the startDate sent upstream
func (p *Poller) since(now time.Time) time.Time {
	if p.cfg.StartDate > 0 {
		return time.Unix(p.cfg.StartDate, 0)
	}
	if p.cfg.Mode == ModeMerge {
		if newest := p.session.Newest(); !newest.IsZero() {
			return newest
		}
	}
	if p.cfg.Retention > 0 {
		return now.Add(-p.cfg.Retention)
	}
	return time.Unix(0, 0)
}

// Refresh performs one fetch cycle. A failed fetch leaves the table untouched and is
// returned to the caller; the next trigger simply tries again.
func (p *Poller) Refresh(ctx context.Context) (Update, error) {
	p.fetchMu.Lock()
	defer p.fetchMu.Unlock()

	now := p.now()
	since := p.since(now)
	fetchID := uuid.NewString()

	start := time.Now()
	table, stats, err := p.fetcher.Fetch(ctx, since)
	update := Update{
		Stats:    stats,
		Since:    since,
		Duration: time.Since(start),
	}

	if err != nil {
		p.session.recordFailure(now, fetchID, err)
		update.Err = err
		update.Snapshot = p.Snapshot()
		p.logger.Error().
			Err(err).
			Str("fetch_id", fetchID).
			Time("since", since).
			Msg("Fetch failed")
		p.notify(update)
		return update, err
	}

	update.Added = p.session.apply(table, since, now, fetchID, p.cfg.Mode, p.cfg.Retention)
	update.Snapshot = p.Snapshot()

	p.logger.Info().
		Str("fetch_id", fetchID).
		Time("since", since).
		Int("records", stats.Records).
		Int("accepted", stats.Accepted).
		Int("dropped", stats.Dropped).
		Int("added", len(update.Added)).
		Int("table_rows", len(update.Snapshot.Readings)).
		Dur("took", update.Duration).
		Msg("Fetch completed")

	p.notify(update)
	return update, nil
}

func (p *Poller) notify(u Update) {
	p.listenersMu.RLock()
	listeners := make([]Listener, len(p.listeners))
	copy(listeners, p.listeners)
	p.listenersMu.RUnlock()

	for _, l := range listeners {
		l(u)
	}
}
