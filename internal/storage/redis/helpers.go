package redis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/avtrack/internal/storage"
)

// parseSessionSummary converts a Redis hash to SessionSummary
func parseSessionSummary(data map[string]string) (*storage.SessionSummary, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	startedAt, err := time.Parse(time.RFC3339Nano, data["started_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}

	updatedAt, err := time.Parse(time.RFC3339Nano, data["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	position, err := strconv.ParseInt(data["position"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse position: %w", err)
	}

	events, err := strconv.ParseInt(data["events"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse events: %w", err)
	}

	return &storage.SessionSummary{
		SessionID: data["session_id"],
		MediaID:   data["media_id"],
		LastEvent: data["last_event"],
		Position:  position,
		Events:    events,
		StartedAt: startedAt,
		UpdatedAt: updatedAt,
		Active:    data["active"] == "1",
	}, nil
}

// decodeRecords converts queued JSON documents to EventRecords
func decodeRecords(raw []string) ([]storage.EventRecord, error) {
	records := make([]storage.EventRecord, 0, len(raw))
	for _, item := range raw {
		var record storage.EventRecord
		if err := json.Unmarshal([]byte(item), &record); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		records = append(records, record)
	}
	return records, nil
}
