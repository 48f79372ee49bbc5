// Package scheduler drives the periodic engagement jobs. The coordinator runs
// registered jobs on independent tickers; asynq handles the precisely-timed
// appointment reminders.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"leadflow_backend/platform/logger"
)

// JobFunc is one scheduled unit of work.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	interval time.Duration
	fn       JobFunc
	running  atomic.Bool
}

// Coordinator runs registered jobs at fixed intervals. A tick that lands
// while the previous run of the same job is still going is skipped, never
// queued, so a slow run cannot pile up behind itself.
type Coordinator struct {
	jobs []*job
	log  *logger.Logger
}

func NewCoordinator(log *logger.Logger) *Coordinator {
	return &Coordinator{log: log}
}

// Register adds a job. Must be called before Run.
func (c *Coordinator) Register(name string, interval time.Duration, fn JobFunc) {
	c.jobs = append(c.jobs, &job{name: name, interval: interval, fn: fn})
}

// Run blocks until ctx is cancelled, then waits for in-flight runs to finish.
func (c *Coordinator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, j := range c.jobs {
		wg.Add(1)
		go func(j *job) {
			defer wg.Done()
			c.runJob(ctx, j)
		}(j)
	}
	c.log.Info("scheduler coordinator started", "jobs", len(c.jobs))
	wg.Wait()
	c.log.Info("scheduler coordinator stopped")
}

func (c *Coordinator) runJob(ctx context.Context, j *job) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx, j)
		}
	}
}

// tick executes one run unless the previous one is still in flight.
func (c *Coordinator) tick(ctx context.Context, j *job) {
	if !j.running.CompareAndSwap(false, true) {
		c.log.WithJob(j.name).Debug("tick skipped, previous run still in flight")
		return
	}
	defer j.running.Store(false)

	start := time.Now()
	if err := j.fn(ctx); err != nil {
		c.log.WithJob(j.name).Error("job failed", "error", err.Error(), "duration", time.Since(start).String())
		return
	}
	c.log.WithJob(j.name).Debug("job finished", "duration", time.Since(start).String())
}
