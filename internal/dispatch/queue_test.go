package dispatch

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"leadflow_backend/internal/responder"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
)

type fakeSender struct {
	mu     sync.Mutex
	texts  []string
	medias []string
	err    error
}

func (f *fakeSender) SendText(ctx context.Context, address, text string, typingDelaySeconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.texts = append(f.texts, address+": "+text)
	return nil
}

func (f *fakeSender) SendMedia(ctx context.Context, address, mediaURL, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.medias = append(f.medias, address+": "+mediaURL)
	return nil
}

func (f *fakeSender) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type queueConfig struct {
	min, max time.Duration
	cap      int
}

func (c queueConfig) GetRedisURL() string                { return "" }
func (c queueConfig) GetDispatchMinDelay() time.Duration { return c.min }
func (c queueConfig) GetDispatchMaxDelay() time.Duration { return c.max }
func (c queueConfig) GetDispatchDailyCap() int           { return c.cap }

func testLogger() *logger.Logger {
	return logger.New("development")
}

func TestQueueDeliversInOrder(t *testing.T) {
	sender := &fakeSender{}
	q := NewQueue(queueConfig{min: time.Millisecond, max: 2 * time.Millisecond, cap: 100}, sender, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	done := make(chan error, 3)
	for _, text := range []string{"first", "second", "third"} {
		if err := q.Enqueue(ctx, Task{Kind: KindSingle, Address: "5571988887777", Text: text, Done: done}); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("task %d failed: %v", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for dispatch")
		}
	}

	texts := sender.sentTexts()
	if len(texts) != 3 {
		t.Fatalf("expected 3 sends, got %d", len(texts))
	}
	for i, want := range []string{"first", "second", "third"} {
		if texts[i] != "5571988887777: "+want {
			t.Errorf("send %d out of order: %q", i, texts[i])
		}
	}
}

func TestQueueLocalDailyCap(t *testing.T) {
	q := NewQueue(queueConfig{min: time.Millisecond, max: 2 * time.Millisecond, cap: 2}, &fakeSender{}, nil, testLogger())

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := q.Enqueue(ctx, Task{Kind: KindSingle, Address: "a", Text: "hi"}); err != nil {
			t.Fatalf("enqueue %d failed: %v", i, err)
		}
	}

	err := q.Enqueue(ctx, Task{Kind: KindSingle, Address: "a", Text: "hi"})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict past the cap, got %v", err)
	}
}

func TestQueueRedisDailyCap(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	q := NewQueue(queueConfig{min: time.Millisecond, max: 2 * time.Millisecond, cap: 1}, &fakeSender{}, rdb, testLogger())

	ctx := context.Background()
	if err := q.Enqueue(ctx, Task{Kind: KindAutomatedNudge, Address: "a", Text: "hi"}); err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	err := q.Enqueue(ctx, Task{Kind: KindAutomatedNudge, Address: "a", Text: "hi"})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict past the shared cap, got %v", err)
	}

	key := "dispatch:sends:" + time.Now().UTC().Format("2006-01-02")
	if got, err := mr.Get(key); err != nil || got == "" {
		t.Fatalf("expected counter key %s in redis, got %q (%v)", key, got, err)
	}
}

func TestQueuePacesBetweenSends(t *testing.T) {
	sender := &fakeSender{}
	minDelay := 30 * time.Millisecond
	q := NewQueue(queueConfig{min: minDelay, max: minDelay + time.Millisecond, cap: 10}, sender, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	done := make(chan error, 3)
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := q.Enqueue(ctx, Task{Kind: KindSingle, Address: "a", Text: "hi", Done: done}); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for dispatch")
		}
	}

	// Three deliveries carry two inter-send pauses.
	if elapsed := time.Since(start); elapsed < 2*minDelay {
		t.Errorf("expected at least %v of pacing, elapsed %v", 2*minDelay, elapsed)
	}
}

func TestQueueIdleQueueDeliversImmediately(t *testing.T) {
	sender := &fakeSender{}
	minDelay := 500 * time.Millisecond
	q := NewQueue(queueConfig{min: minDelay, max: minDelay + time.Millisecond, cap: 10}, sender, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	done := make(chan error, 1)
	start := time.Now()
	if err := q.Enqueue(ctx, Task{Kind: KindSingle, Address: "a", Text: "hi", Done: done}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("task failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	if elapsed := time.Since(start); elapsed >= minDelay {
		t.Errorf("first send after idle should not wait for pacing, elapsed %v", elapsed)
	}
}

func TestQueueBufferFullRejectionReturnsCapSlot(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	// No drainer running, so the buffer fills up.
	q := NewQueue(queueConfig{min: time.Millisecond, max: 2 * time.Millisecond, cap: 10000}, &fakeSender{}, rdb, testLogger())

	ctx := context.Background()
	for i := 0; i < queueCapacity; i++ {
		if err := q.Enqueue(ctx, Task{Kind: KindSingle, Address: "a", Text: "hi"}); err != nil {
			t.Fatalf("enqueue %d failed: %v", i, err)
		}
	}

	err := q.Enqueue(ctx, Task{Kind: KindSingle, Address: "a", Text: "hi"})
	if !apperr.Is(err, apperr.KindUnavailable) {
		t.Fatalf("expected unavailable on a full buffer, got %v", err)
	}

	key := "dispatch:sends:" + time.Now().UTC().Format("2006-01-02")
	got, err2 := mr.Get(key)
	if err2 != nil {
		t.Fatalf("counter key missing: %v", err2)
	}
	if want := strconv.Itoa(queueCapacity); got != want {
		t.Errorf("rejected task consumed a cap slot: counter %s, want %s", got, want)
	}
}

func TestQueueDeliversAttachmentsAfterText(t *testing.T) {
	sender := &fakeSender{}
	q := NewQueue(queueConfig{min: time.Millisecond, max: 2 * time.Millisecond, cap: 10}, sender, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	done := make(chan error, 1)
	task := Task{
		Kind:    KindSingle,
		Address: "a",
		Text:    "veja o vídeo",
		Done:    done,
	}
	task.Attachments = append(task.Attachments, responder.Attachment{URL: "https://cdn.example.com/proof.mp4"})
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("task failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.texts) != 1 || len(sender.medias) != 1 {
		t.Fatalf("expected 1 text and 1 media, got %d and %d", len(sender.texts), len(sender.medias))
	}
}
