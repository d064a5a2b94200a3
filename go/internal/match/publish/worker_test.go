package publish

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mcdev12/pitchside/go/internal/match/events"
)

type flakyPublisher struct {
	mu        sync.Mutex
	failures  int
	attempts  int
	published []string
}

func (p *flakyPublisher) Publish(_ context.Context, env *events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, env.ID)
	return nil
}

func (p *flakyPublisher) Close() error { return nil }

func (p *flakyPublisher) snapshot() (int, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts, append([]string(nil), p.published...)
}

func testConfig() Config {
	return Config{QueueSize: 4, MaxRetries: 2, RetryDelay: time.Millisecond, PublishTimeout: time.Second}
}

func envelope(id string) *events.Envelope {
	return &events.Envelope{ID: id, Type: events.MatchEvent, MatchID: "m1", Seq: 1}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWorkerRetriesUntilPublished(t *testing.T) {
	pub := &flakyPublisher{failures: 2}
	w := NewWorker(pub, testConfig())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	w.Enqueue(envelope("e1"))
	waitFor(t, func() bool { return w.Stats().Published == 1 })

	attempts, published := pub.snapshot()
	if attempts != 3 || len(published) != 1 {
		t.Fatalf("expected 3 attempts and 1 publish, got %d and %v", attempts, published)
	}
}

func TestWorkerGivesUpAfterMaxRetries(t *testing.T) {
	pub := &flakyPublisher{failures: 10}
	w := NewWorker(pub, testConfig())
	w.Start(context.Background())
	defer w.Stop()

	w.Enqueue(envelope("e1"))
	waitFor(t, func() bool { return w.Stats().Failed == 1 })

	if attempts, _ := pub.snapshot(); attempts != 3 {
		t.Fatalf("expected MaxRetries+1 attempts, got %d", attempts)
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	w := NewWorker(&flakyPublisher{}, testConfig())

	for i := 0; i < 6; i++ {
		w.Enqueue(envelope("e"))
	}

	stats := w.Stats()
	if stats.Pending != 4 || stats.Dropped != 2 {
		t.Fatalf("expected 4 pending and 2 dropped, got %+v", stats)
	}
}

func TestStopDrainsQueue(t *testing.T) {
	pub := &flakyPublisher{}
	w := NewWorker(pub, testConfig())
	w.Enqueue(envelope("e1"))
	w.Enqueue(envelope("e2"))

	w.Start(context.Background())
	if err := w.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if _, published := pub.snapshot(); len(published) != 2 {
		t.Fatalf("queued envelopes should be published on stop, got %v", published)
	}
	if err := w.Stop(); err == nil {
		t.Fatalf("second stop should fail")
	}
}
