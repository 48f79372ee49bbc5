// Package dispatch owns every outbound message leaving the platform. All
// senders go through one FIFO queue drained by a single goroutine with
// randomized pacing and a daily send cap, so no caller can flood the channel.
package dispatch

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"leadflow_backend/internal/responder"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

// Kind labels the origin of an outbound task for logging and cap accounting.
type Kind string

const (
	KindSingle         Kind = "single"
	KindBulk           Kind = "bulk"
	KindAutomatedNudge Kind = "automated_nudge"
)

// ChannelSender delivers messages on the outbound channel.
type ChannelSender interface {
	SendText(ctx context.Context, address, text string, typingDelaySeconds int) error
	SendMedia(ctx context.Context, address, mediaURL, caption string) error
}

// Task is one outbound unit of work. Attachments are delivered after the text.
type Task struct {
	Kind               Kind
	LeadID             uuid.UUID
	Address            string
	Text               string
	Attachments        []responder.Attachment
	TypingDelaySeconds int

	// Done, when non-nil, receives the terminal send error (nil on success).
	Done chan error
}

const queueCapacity = 512

// Queue is the rate-limited outbound dispatch queue.
type Queue struct {
	sender   ChannelSender
	redis    *redis.Client
	log      *logger.Logger
	minDelay time.Duration
	maxDelay time.Duration
	dailyCap int

	tasks chan Task

	// In-memory cap fallback for when Redis is unavailable.
	mu        sync.Mutex
	localDay  string
	localSent int
}

// NewQueue wires the queue against the configured pacing window. A nil Redis
// client degrades to in-process cap accounting.
func NewQueue(cfg config.DispatchConfig, sender ChannelSender, rdb *redis.Client, log *logger.Logger) *Queue {
	return &Queue{
		sender:   sender,
		redis:    rdb,
		log:      log,
		minDelay: cfg.GetDispatchMinDelay(),
		maxDelay: cfg.GetDispatchMaxDelay(),
		dailyCap: cfg.GetDispatchDailyCap(),
		tasks:    make(chan Task, queueCapacity),
	}
}

// Enqueue admits a task without blocking. It fails fast with a Conflict error
// when the daily cap is exhausted and with Unavailable when the buffer is full.
func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	const op = "dispatch.Queue.Enqueue"

	if err := q.reserveSlot(ctx); err != nil {
		return err.WithOp(op)
	}

	select {
	case q.tasks <- task:
		return nil
	default:
		// The task never entered the buffer, so its cap slot goes back.
		q.releaseSlot(ctx)
		return apperr.Unavailable("dispatch queue is full").WithOp(op)
	}
}

// Run drains the queue until ctx is cancelled. A task arriving at an idle
// queue goes out immediately; consecutive sends are separated by a randomized
// pause inside the configured window.
func (q *Queue) Run(ctx context.Context) {
	q.log.Info("dispatch queue started",
		"min_delay", q.minDelay.String(),
		"max_delay", q.maxDelay.String(),
		"daily_cap", q.dailyCap)

	for {
		select {
		case <-ctx.Done():
			q.log.Info("dispatch queue stopped")
			return
		case task := <-q.tasks:
			q.finish(task, q.deliver(ctx, task))
			q.pace(ctx)
		}
	}
}

func (q *Queue) deliver(ctx context.Context, task Task) error {
	err := q.sender.SendText(ctx, task.Address, task.Text, task.TypingDelaySeconds)
	if err == nil {
		for _, att := range task.Attachments {
			if err = q.sender.SendMedia(ctx, task.Address, att.URL, att.Caption); err != nil {
				break
			}
		}
	}

	q.log.DispatchResult(string(task.Kind), task.Address, err == nil, err)
	return err
}

func (q *Queue) finish(task Task, err error) {
	if task.Done != nil {
		task.Done <- err
	}
}

func (q *Queue) pace(ctx context.Context) {
	delay := q.minDelay
	if span := q.maxDelay - q.minDelay; span > 0 {
		delay += time.Duration(rand.Int64N(int64(span)))
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// reserveSlot increments today's send counter and rejects past the cap. The
// counter lives in Redis so every process shares one budget.
func (q *Queue) reserveSlot(ctx context.Context) *apperr.Error {
	day := time.Now().UTC().Format("2006-01-02")

	if q.redis != nil {
		key := "dispatch:sends:" + day
		count, err := q.redis.Incr(ctx, key).Result()
		if err == nil {
			q.redis.Expire(ctx, key, 48*time.Hour)
			if int(count) > q.dailyCap {
				return apperr.Conflict("daily send cap reached")
			}
			return nil
		}
		q.log.Warn("redis cap counter unavailable, falling back to local", "error", err.Error())
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.localDay != day {
		q.localDay = day
		q.localSent = 0
	}
	if q.localSent >= q.dailyCap {
		return apperr.Conflict("daily send cap reached")
	}
	q.localSent++
	return nil
}

// releaseSlot hands back a reserved slot for a task that was rejected before
// it could be buffered.
func (q *Queue) releaseSlot(ctx context.Context) {
	day := time.Now().UTC().Format("2006-01-02")

	if q.redis != nil {
		if err := q.redis.Decr(ctx, "dispatch:sends:"+day).Err(); err == nil {
			return
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.localDay == day && q.localSent > 0 {
		q.localSent--
	}
}
