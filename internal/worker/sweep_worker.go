// Package worker runs the periodic maintenance of the ledger engine.
package worker

import (
	"context"
	"log/slog"
	"time"

	applog "tallybot/internal/log"
)

// Sweeper is the store-side contract: drop stale conversations, report how
// many went.
type Sweeper interface {
	SweepInactive() int
}

// SweepWorker invokes the store sweep on a fixed interval. The sweep itself
// is safe against concurrent gets, so the worker needs no coordination with
// the command path.
type SweepWorker struct {
	store    Sweeper
	interval time.Duration
}

func NewSweepWorker(store Sweeper, interval time.Duration) *SweepWorker {
	return &SweepWorker{store: store, interval: interval}
}

// Run blocks until the context is canceled, sweeping every interval.
func (w *SweepWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "Sweep worker started",
		applog.C(applog.ComponentWorker), "interval", w.interval.String())

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Sweep worker stopping",
				applog.C(applog.ComponentWorker), "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			evicted := w.store.SweepInactive()
			if evicted > 0 {
				slog.InfoContext(ctx, "Sweep completed",
					applog.C(applog.ComponentWorker),
					applog.FieldEvicted, evicted,
					applog.FieldDuration, time.Since(start).Milliseconds())
			}
		}
	}
}
