package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/goodtune/avtrack/internal/storage"
	"github.com/redis/go-redis/v9"
)

type eventStore struct {
	client   *redis.Client
	queueKey string
	maxLen   int64
	script   *redis.Script
}

// Append pushes records onto the queue
func (s *eventStore) Append(ctx context.Context, records []storage.EventRecord) (int64, error) {
	if len(records) == 0 {
		return s.Len(ctx)
	}

	args := make([]interface{}, 0, len(records)+1)
	args = append(args, s.maxLen)
	for _, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			return 0, fmt.Errorf("failed to encode event %s: %w", record.Name, err)
		}
		args = append(args, data)
	}

	keys := []string{s.queueKey, totalKey}
	length, err := s.script.Run(ctx, s.client, keys, args...).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to append events: %w", err)
	}
	return length, nil
}

// Range returns queued records without removing them
func (s *eventStore) Range(ctx context.Context, start, stop int64) ([]storage.EventRecord, error) {
	raw, err := s.client.LRange(ctx, s.queueKey, start, stop).Result()
	if err != nil {
		return nil, err
	}
	return decodeRecords(raw)
}

// Pop removes up to n records from the head of the queue
func (s *eventStore) Pop(ctx context.Context, n int) ([]storage.EventRecord, error) {
	if n <= 0 {
		return []storage.EventRecord{}, nil
	}

	raw, err := s.client.LPopCount(ctx, s.queueKey, n).Result()
	if err == redis.Nil {
		return []storage.EventRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeRecords(raw)
}

// Len returns the current queue length
func (s *eventStore) Len(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, s.queueKey).Result()
}

// Total returns the lifetime append counter
func (s *eventStore) Total(ctx context.Context) (int64, error) {
	total, err := s.client.Get(ctx, totalKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return total, err
}
