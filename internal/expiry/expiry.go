// Package expiry schedules the purge cycles of the entry store: one per
// interval while running, and one at shutdown when the last is overdue.
package expiry

import (
	"context"
	"log/slog"
	"time"
)

// Store is the part of the entry store the runner drives.
type Store interface {
	PurgeEntries(ctx context.Context, expire bool) error
	LastPurgeTime(ctx context.Context) (time.Time, error)
}

type Runner struct {
	store    Store
	interval time.Duration
	now      func() time.Time
}

func New(store Store, interval time.Duration, now func() time.Time) *Runner {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if now == nil {
		now = time.Now
	}

	return &Runner{store: store, interval: interval, now: now}
}

// Run purges every interval until ctx is done, then purges once more if the
// last purge is older than the interval.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// The run context is gone, the final purge gets its own.
			return r.PurgeIfDue(context.WithoutCancel(ctx))
		case <-ticker.C:
			if err := r.store.PurgeEntries(ctx, true); err != nil {
				slog.ErrorContext(ctx, "periodic purge failed", "error", err)
			}
		}
	}
}

// PurgeIfDue purges, with the retention rules applied, when more than an
// interval passed since the last purge.
func (r *Runner) PurgeIfDue(ctx context.Context) error {
	last, err := r.store.LastPurgeTime(ctx)
	if err != nil {
		return err
	}
	if !last.IsZero() && r.now().Sub(last) <= r.interval {
		slog.DebugContext(ctx, "skipping purge", "last_purge", last)
		return nil
	}

	return r.store.PurgeEntries(ctx, true)
}
