package session

import (
	"context"
	"time"

	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/obslog"
	"go.uber.org/zap"
)

// Run sweeps clocks every SweepInterval until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.SweepOnce(r.now()); n > 0 {
				obslog.L().Debug("clock_sweep", zap.Int("timed_out", n))
			}
		}
	}
}

// SweepOnce completes every active timed session whose side to move has no time
// left at now, evicts sessions finished for longer than Retention, and returns how
// many it completed.
func (r *Registry) SweepOnce(now time.Time) int {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	n, evicted := 0, 0
	for _, e := range entries {
		e.mu.Lock()
		switch {
		case e.gone:
		case !e.snap.Status.Terminal():
			if !e.tc.Untimed() && clock.Expired(e.snap.Clock, e.snap.Turn, now) {
				r.expireLocked(ctx, e, now)
				n++
			}
		case now.Sub(e.snap.UpdatedAt) >= r.cfg.Retention:
			r.evictLocked(e)
			evicted++
		}
		e.mu.Unlock()
	}
	if evicted > 0 {
		obslog.L().Debug("session_evicted", zap.Int("count", evicted))
	}
	return n
}

// evictLocked drops a finished session from memory. The store still answers for it.
func (r *Registry) evictLocked(e *entry) {
	e.gone = true
	r.mu.Lock()
	if r.sessions[e.snap.ID] == e {
		delete(r.sessions, e.snap.ID)
	}
	r.mu.Unlock()
}
