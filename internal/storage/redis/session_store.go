package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/avtrack/internal/storage"
	"github.com/redis/go-redis/v9"
)

type sessionStore struct {
	client *redis.Client
	script *redis.Script
}

// Record folds an event into its session summary
func (s *sessionStore) Record(ctx context.Context, record storage.EventRecord) error {
	if record.SessionID == "" {
		return fmt.Errorf("event %s has no session id", record.Name)
	}

	position := ""
	if record.Position != nil {
		position = strconv.FormatInt(*record.Position, 10)
	}

	final := "0"
	if record.Final {
		final = "1"
	}

	keys := []string{fmt.Sprintf(sessionKeyFn, record.SessionID), activeSet}
	args := []interface{}{
		record.SessionID,
		record.MediaID,
		record.Name,
		position,
		record.Timestamp.Format(time.RFC3339Nano),
		final,
	}

	return s.script.Run(ctx, s.client, keys, args...).Err()
}

// Get retrieves a session summary by ID
func (s *sessionStore) Get(ctx context.Context, sessionID string) (*storage.SessionSummary, error) {
	data, err := s.client.HGetAll(ctx, fmt.Sprintf(sessionKeyFn, sessionID)).Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	return parseSessionSummary(data)
}

// ListActive returns all sessions that have not seen their final event
func (s *sessionStore) ListActive(ctx context.Context) ([]storage.SessionSummary, error) {
	sessionIDs, err := s.client.SMembers(ctx, activeSet).Result()
	if err != nil {
		return nil, err
	}

	if len(sessionIDs) == 0 {
		return []storage.SessionSummary{}, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(sessionIDs))

	for i, id := range sessionIDs {
		cmds[i] = pipe.HGetAll(ctx, fmt.Sprintf(sessionKeyFn, id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	sessions := make([]storage.SessionSummary, 0, len(sessionIDs))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		session, err := parseSessionSummary(data)
		if err == nil {
			sessions = append(sessions, *session)
		}
	}

	return sessions, nil
}

// Delete removes a session summary and its index entry
func (s *sessionStore) Delete(ctx context.Context, sessionID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, fmt.Sprintf(sessionKeyFn, sessionID))
	pipe.SRem(ctx, activeSet, sessionID)
	_, err := pipe.Exec(ctx)
	return err
}
