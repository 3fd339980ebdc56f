package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Events() EventStore
	Sessions() SessionStore
}

// EventStore is a bounded FIFO of serialized events awaiting a downstream consumer.
type EventStore interface {
	// Append pushes records to the tail of the queue and returns its new length.
	Append(ctx context.Context, records []EventRecord) (int64, error)
	// Range returns records by index, inclusive on both ends. Negative
	// indexes count from the tail.
	Range(ctx context.Context, start, stop int64) ([]EventRecord, error)
	// Pop removes and returns up to n records from the head.
	Pop(ctx context.Context, n int) ([]EventRecord, error)
	Len(ctx context.Context) (int64, error)
	// Total returns how many records were ever appended, including trimmed ones.
	Total(ctx context.Context) (int64, error)
}

// SessionStore keeps a summary of each playback session seen by the publisher.
type SessionStore interface {
	// Record folds one event into its session summary.
	Record(ctx context.Context, record EventRecord) error
	Get(ctx context.Context, sessionID string) (*SessionSummary, error)
	ListActive(ctx context.Context) ([]SessionSummary, error)
	Delete(ctx context.Context, sessionID string) error
}

// EventRecord is the stored form of an emitted event. Final marks the event
// that closes its session.
type EventRecord struct {
	Name      string          `json:"name"`
	MediaID   string          `json:"media_id,omitempty"`
	SessionID string          `json:"session_id"`
	Position  *int64          `json:"position,omitempty"`
	Final     bool            `json:"final,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// SessionSummary aggregates the events of one session.
type SessionSummary struct {
	SessionID string    `json:"session_id"`
	MediaID   string    `json:"media_id"`
	LastEvent string    `json:"last_event"`
	Position  int64     `json:"position"`
	Events    int64     `json:"events"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Active    bool      `json:"active"`
}
