package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingSweeper struct {
	calls atomic.Int32
}

func (c *countingSweeper) SweepInactive() int {
	c.calls.Add(1)
	return 0
}

func TestSweepWorker_RunsUntilCanceled(t *testing.T) {
	sweeper := &countingSweeper{}
	w := NewSweepWorker(sweeper, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for sweeper.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d sweeps before deadline", sweeper.calls.Load())
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
