package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/goodtune/avtrack/internal/media"
	"github.com/goodtune/avtrack/internal/storage"
	"github.com/rs/zerolog"
)

// LogPublisher writes each event as a structured log line.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher creates a publisher that logs events at info level.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{
		logger: logger.With().Str("component", "events").Logger(),
	}
}

// Name implements Publisher.
func (p *LogPublisher) Name() string { return "log" }

// Publish implements Publisher.
func (p *LogPublisher) Publish(_ context.Context, events []media.Event) error {
	for _, e := range events {
		p.logger.Info().
			Str("event", e.Name).
			Str("media_id", e.MediaID).
			Str("session_id", e.SessionID()).
			Time("timestamp", e.Timestamp).
			Interface("data", e.Data()).
			Msg("Playback event")
	}
	return nil
}

// WriterPublisher writes events as JSON lines.
type WriterPublisher struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriterPublisher creates a publisher writing to w.
func NewWriterPublisher(w io.Writer) *WriterPublisher {
	return &WriterPublisher{enc: json.NewEncoder(w)}
}

// Name implements Publisher.
func (p *WriterPublisher) Name() string { return "writer" }

// Publish implements Publisher.
func (p *WriterPublisher) Publish(_ context.Context, events []media.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range events {
		if err := p.enc.Encode(e); err != nil {
			return fmt.Errorf("failed to write event %s: %w", e.Name, err)
		}
	}
	return nil
}

// StorePublisher appends events to the storage queue and folds them into
// the session summaries.
type StorePublisher struct {
	events   storage.EventStore
	sessions storage.SessionStore
	logger   zerolog.Logger
}

// NewStorePublisher creates a publisher backed by store.
func NewStorePublisher(store storage.Store, logger zerolog.Logger) *StorePublisher {
	return &StorePublisher{
		events:   store.Events(),
		sessions: store.Sessions(),
		logger:   logger.With().Str("component", "store-publisher").Logger(),
	}
}

// Name implements Publisher.
func (p *StorePublisher) Name() string { return "store" }

// Publish implements Publisher.
func (p *StorePublisher) Publish(ctx context.Context, events []media.Event) error {
	records := make([]storage.EventRecord, 0, len(events))
	for _, e := range events {
		record, err := ToRecord(e)
		if err != nil {
			return err
		}
		records = append(records, record)
	}

	length, err := p.events.Append(ctx, records)
	if err != nil {
		return err
	}

	// Summaries are best effort once the events themselves are stored
	var errs []error
	for _, record := range records {
		if err := p.sessions.Record(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		p.logger.Warn().
			Err(errors.Join(errs...)).
			Int("failed", len(errs)).
			Msg("Failed to update session summaries")
	}

	p.logger.Debug().
		Int("events", len(records)).
		Int64("queue_length", length).
		Msg("Events stored")
	return nil
}

// ToRecord converts an event to its stored form.
func ToRecord(e media.Event) (storage.EventRecord, error) {
	data, err := json.Marshal(e.Data())
	if err != nil {
		return storage.EventRecord{}, fmt.Errorf("failed to encode event %s: %w", e.Name, err)
	}

	record := storage.EventRecord{
		Name:      e.Name,
		MediaID:   e.MediaID,
		SessionID: e.SessionID(),
		Final:     e.Name == media.EventStop,
		Timestamp: e.Timestamp,
		Data:      data,
	}
	if position, ok := e.Position(); ok {
		record.Position = &position
	}
	return record, nil
}

// Recorder keeps every event it receives in memory. It works both as a
// media.Sink and as a Publisher.
type Recorder struct {
	mu     sync.Mutex
	events []media.Event
	sends  int
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Add implements media.Sink.
func (r *Recorder) Add(event media.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Send implements media.Sink.
func (r *Recorder) Send() {
	r.mu.Lock()
	r.sends++
	r.mu.Unlock()
}

// Name implements Publisher.
func (r *Recorder) Name() string { return "recorder" }

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, events []media.Event) error {
	r.mu.Lock()
	r.events = append(r.events, events...)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []media.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]media.Event(nil), r.events...)
}

// Sends returns how many times Send was called.
func (r *Recorder) Sends() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sends
}

// Reset discards recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.sends = 0
	r.mu.Unlock()
}
