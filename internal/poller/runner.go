package poller

import (
	"context"
	"time"
)

// RequestRefresh asks the run loop for a manual refresh.
// Returns false if a request is already pending.
func (p *Poller) RequestRefresh() bool {
	select {
	case p.refreshCh <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run evaluates the trigger policy every check interval and on manual requests.
// Blocks until the context is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.CheckInterval)
	defer ticker.Stop()

	p.logger.Info().
		Dur("interval", p.cfg.Interval).
		Dur("retention", p.cfg.Retention).
		Str("mode", string(p.cfg.Mode)).
		Msg("Poller started")

	p.tick(ctx, false)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.tick(ctx, false)
		case <-p.refreshCh:
			p.tick(ctx, true)
		}
	}
}

func (p *Poller) tick(ctx context.Context, manual bool) {
	if !p.session.ShouldFetch(p.now(), p.cfg.Interval, manual) {
		return
	}
	// errors are already logged and recorded in the session
	p.Refresh(ctx)
}
