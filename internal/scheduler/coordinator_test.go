package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"leadflow_backend/platform/logger"
)

func TestCoordinatorSkipsOverlappingTicks(t *testing.T) {
	var started, finished atomic.Int32

	c := NewCoordinator(logger.New("development"))
	c.Register("slow", 10*time.Millisecond, func(ctx context.Context) error {
		started.Add(1)
		time.Sleep(60 * time.Millisecond)
		finished.Add(1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	c.Run(ctx)

	// ~15 ticks land in the window but each run takes 60ms, so only 2-3 runs
	// may start and none may overlap.
	if s := started.Load(); s > 3 {
		t.Errorf("overlapping runs started: %d", s)
	}
	if started.Load() != finished.Load() && started.Load() != finished.Load()+1 {
		t.Errorf("runs overlap: started=%d finished=%d", started.Load(), finished.Load())
	}
}

func TestCoordinatorRunsAllJobs(t *testing.T) {
	var a, b atomic.Int32

	c := NewCoordinator(logger.New("development"))
	c.Register("a", 10*time.Millisecond, func(ctx context.Context) error {
		a.Add(1)
		return nil
	})
	c.Register("b", 10*time.Millisecond, func(ctx context.Context) error {
		b.Add(1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	c.Run(ctx)

	if a.Load() == 0 || b.Load() == 0 {
		t.Fatalf("jobs did not all run: a=%d b=%d", a.Load(), b.Load())
	}
}

func TestCoordinatorJobErrorDoesNotStopTicker(t *testing.T) {
	var runs atomic.Int32

	c := NewCoordinator(logger.New("development"))
	c.Register("flaky", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return context.DeadlineExceeded
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	c.Run(ctx)

	if runs.Load() < 2 {
		t.Fatalf("ticker stopped after a failure: %d runs", runs.Load())
	}
}
