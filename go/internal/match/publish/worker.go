package publish

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mcdev12/pitchside/go/internal/match/events"
	"github.com/rs/zerolog/log"
)

type Config struct {
	QueueSize      int
	MaxRetries     int
	RetryDelay     time.Duration
	PublishTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		QueueSize:      1024,
		MaxRetries:     3,
		RetryDelay:     time.Second,
		PublishTimeout: 5 * time.Second,
	}
}

// Stats counts what the worker has done since it was created.
type Stats struct {
	Published     uint64    `json:"published"`
	Failed        uint64    `json:"failed"`
	Dropped       uint64    `json:"dropped"`
	Pending       int       `json:"pending"`
	LastPublished time.Time `json:"lastPublished"`
}

// Worker drains a bounded queue of envelopes into a Publisher. Enqueue never
// blocks so it can be called from the match mutation path.
type Worker struct {
	publisher Publisher
	config    Config
	queue     chan *events.Envelope

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
	stats    Stats
}

func NewWorker(publisher Publisher, cfg Config) *Worker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultConfig().PublishTimeout
	}
	return &Worker{
		publisher: publisher,
		config:    cfg,
		queue:     make(chan *events.Envelope, cfg.QueueSize),
		stopChan:  make(chan struct{}),
	}
}

// Enqueue schedules env for publishing. A full queue drops env.
func (w *Worker) Enqueue(env *events.Envelope) {
	select {
	case w.queue <- env:
	default:
		w.mu.Lock()
		w.stats.Dropped++
		w.mu.Unlock()
		log.Warn().
			Str("match_id", env.MatchID).
			Str("event_type", env.Type).
			Uint64("seq", env.Seq).
			Msg("publish queue full, envelope dropped")
	}
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("publish worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	log.Info().
		Int("queue_size", w.config.QueueSize).
		Int("max_retries", w.config.MaxRetries).
		Msg("publish worker started")

	return nil
}

// Stop publishes what is already queued and waits for the worker to exit.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("publish worker not running")
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()

	log.Info().Msg("publish worker stopped")
	return nil
}

func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.Pending = len(w.queue)
	return s
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			w.drain(ctx)
			return
		case env := <-w.queue:
			w.process(ctx, env)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	for {
		select {
		case env := <-w.queue:
			w.process(ctx, env)
		default:
			return
		}
	}
}

func (w *Worker) process(ctx context.Context, env *events.Envelope) {
	err := w.publishWithRetry(ctx, env)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.stats.Failed++
		log.Error().
			Err(err).
			Str("envelope_id", env.ID).
			Str("match_id", env.MatchID).
			Str("event_type", env.Type).
			Msg("failed to publish envelope")
		return
	}
	w.stats.Published++
	w.stats.LastPublished = time.Now()
}

func (w *Worker) publishWithRetry(ctx context.Context, env *events.Envelope) error {
	var lastErr error

	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.config.RetryDelay * time.Duration(attempt)):
			}
		}

		pctx, cancel := context.WithTimeout(ctx, w.config.PublishTimeout)
		err := w.publisher.Publish(pctx, env)
		cancel()
		if err == nil {
			return nil
		}

		lastErr = err
		log.Warn().
			Err(err).
			Str("envelope_id", env.ID).
			Int("attempt", attempt+1).
			Msg("failed to publish envelope, retrying")
	}

	return fmt.Errorf("publish failed after %d attempts: %w", w.config.MaxRetries+1, lastErr)
}
