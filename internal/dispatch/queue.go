// Package dispatch moves emitted playback events out of the process.
//
// A Queue is the media.Sink shared by every tracked session. Add only appends
// to an in-memory buffer, so it is safe to call while a session holds its
// lock; a background loop drains the buffer in batches into a Publisher.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goodtune/avtrack/internal/media"
	"github.com/goodtune/avtrack/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	// DefaultBatchSize is the number of events handed to a publisher at once
	DefaultBatchSize = 100

	// DefaultFlushInterval bounds how long an event waits without a Send
	DefaultFlushInterval = time.Second

	// DefaultMaxPending caps the buffer; events beyond it are dropped
	DefaultMaxPending = 10000
)

// Publisher delivers a batch of events downstream.
type Publisher interface {
	// Name labels the publisher in logs and metrics.
	Name() string
	Publish(ctx context.Context, events []media.Event) error
}

// Config holds queue configuration
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxPending    int
}

// Queue buffers events and publishes them in batches
type Queue struct {
	publisher Publisher
	config    Config
	logger    zerolog.Logger

	mu      sync.Mutex
	pending []media.Event

	// flushMu keeps batches in emission order when flushes overlap
	flushMu sync.Mutex

	wake    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewQueue creates a queue in front of publisher. Call Start to run the drain loop.
func NewQueue(publisher Publisher, config Config, logger zerolog.Logger) *Queue {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = DefaultFlushInterval
	}
	if config.MaxPending <= 0 {
		config.MaxPending = DefaultMaxPending
	}

	return &Queue{
		publisher: publisher,
		config:    config,
		logger: logger.With().
			Str("component", "dispatch").
			Str("publisher", publisher.Name()).
			Logger(),
		wake: make(chan struct{}, 1),
	}
}

// Add buffers event. It never blocks on I/O.
func (q *Queue) Add(event media.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) >= q.config.MaxPending {
		metrics.DispatchDropped.Inc()
		q.logger.Warn().
			Str("event", event.Name).
			Int("max_pending", q.config.MaxPending).
			Msg("Dispatch queue full, dropping event")
		return
	}

	q.pending = append(q.pending, event)
	metrics.DispatchQueueDepth.Set(float64(len(q.pending)))
}

// Send asks the drain loop to publish what is buffered. It does not wait.
func (q *Queue) Send() {
	select {
	case q.wake <- struct{}{}:
	default:
		// a wake-up is already pending
	}
}

// Len returns the number of buffered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Start runs the drain loop until ctx is cancelled or Stop is called.
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.started = true

	q.wg.Add(1)
	go q.run(ctx)

	q.logger.Info().
		Int("batch_size", q.config.BatchSize).
		Dur("flush_interval", q.config.FlushInterval).
		Msg("Dispatch queue started")
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-ticker.C:
		}
		// failures are logged and counted inside Flush
		_ = q.Flush(ctx)
	}
}

// Flush publishes everything buffered, one batch at a time. A failed batch is
// dropped and the remaining batches are still attempted.
func (q *Queue) Flush(ctx context.Context) error {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	var errs []error
	for {
		batch := q.take()
		if len(batch) == 0 {
			break
		}
		if err := q.publish(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop ends the drain loop and publishes what is left using ctx.
func (q *Queue) Stop(ctx context.Context) error {
	if q.started {
		q.cancel()
		q.wg.Wait()
		q.started = false
	}

	err := q.Flush(ctx)
	q.logger.Info().Msg("Dispatch queue stopped")
	return err
}

func (q *Queue) take() []media.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.pending)
	if n > q.config.BatchSize {
		n = q.config.BatchSize
	}
	if n == 0 {
		return nil
	}

	batch := make([]media.Event, n)
	copy(batch, q.pending[:n])
	q.pending = append(q.pending[:0], q.pending[n:]...)
	metrics.DispatchQueueDepth.Set(float64(len(q.pending)))
	return batch
}

func (q *Queue) publish(ctx context.Context, batch []media.Event) error {
	name := q.publisher.Name()
	start := time.Now()

	err := q.publisher.Publish(ctx, batch)
	metrics.DispatchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.DispatchBatches.WithLabelValues(name, "error").Inc()
		q.logger.Error().
			Err(err).
			Int("events", len(batch)).
			Msg("Failed to publish event batch")
		return err
	}

	metrics.DispatchBatches.WithLabelValues(name, "ok").Inc()
	q.logger.Debug().
		Int("events", len(batch)).
		Dur("duration", time.Since(start)).
		Msg("Published event batch")
	return nil
}
