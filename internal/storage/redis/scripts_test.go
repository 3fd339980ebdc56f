package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a miniredis instance for testing Lua scripts
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr
}

func TestAppendEventsScript(t *testing.T) {
	client, _ := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()

	tests := []struct {
		name      string
		maxLen    int
		batch     []interface{}
		wantLen   int64
		wantTotal int64
		wantHead  string
	}{
		{
			name:      "unbounded append",
			maxLen:    0,
			batch:     []interface{}{"a", "b"},
			wantLen:   2,
			wantTotal: 2,
			wantHead:  "a",
		},
		{
			name:      "append past bound trims head",
			maxLen:    3,
			batch:     []interface{}{"c", "d"},
			wantLen:   3,
			wantTotal: 4,
			wantHead:  "b",
		},
		{
			name:      "empty batch only trims",
			maxLen:    2,
			batch:     nil,
			wantLen:   2,
			wantTotal: 4,
			wantHead:  "c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]interface{}{tt.maxLen}, tt.batch...)
			length, err := client.Eval(ctx, appendEventsScript,
				[]string{"test:queue", "test:total"}, args...).Int64()
			if err != nil {
				t.Fatalf("Script execution failed: %v", err)
			}
			if length != tt.wantLen {
				t.Errorf("Expected length %d, got %d", tt.wantLen, length)
			}

			total, err := client.Get(ctx, "test:total").Int64()
			if err != nil {
				t.Fatalf("Failed to read total: %v", err)
			}
			if total != tt.wantTotal {
				t.Errorf("Expected total %d, got %d", tt.wantTotal, total)
			}

			head, err := client.LIndex(ctx, "test:queue", 0).Result()
			if err != nil {
				t.Fatalf("Failed to read head: %v", err)
			}
			if head != tt.wantHead {
				t.Errorf("Expected head %s, got %s", tt.wantHead, head)
			}
		})
	}
}

func TestRecordSessionScript(t *testing.T) {
	client, _ := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	keys := []string{"test:session:s1", "test:active"}

	steps := []struct {
		name       string
		event      string
		position   string
		timestamp  string
		final      string
		wantEvents string
		wantPos    string
		wantActive bool
	}{
		{"first event", "av.play", "0", "2024-01-15T12:00:00Z", "0", "1", "0", true},
		{"positional event", "av.pause", "2500", "2024-01-15T12:00:03Z", "0", "2", "2500", true},
		{"interaction keeps position", "av.share", "", "2024-01-15T12:00:04Z", "0", "3", "2500", true},
		{"final event closes", "av.stop", "3000", "2024-01-15T12:00:05Z", "1", "4", "3000", false},
	}

	for _, step := range steps {
		t.Run(step.name, func(t *testing.T) {
			result, err := client.Eval(ctx, recordSessionScript, keys,
				"s1", "media-1", step.event, step.position, step.timestamp, step.final).Result()
			if err != nil {
				t.Fatalf("Script execution failed: %v", err)
			}
			if result != step.wantEvents {
				t.Errorf("Expected events %s, got %v", step.wantEvents, result)
			}

			data, err := client.HGetAll(ctx, keys[0]).Result()
			if err != nil {
				t.Fatalf("HGetAll failed: %v", err)
			}
			if data["position"] != step.wantPos {
				t.Errorf("Expected position %s, got %s", step.wantPos, data["position"])
			}
			if data["last_event"] != step.event {
				t.Errorf("Expected last_event %s, got %s", step.event, data["last_event"])
			}
			if data["started_at"] != "2024-01-15T12:00:00Z" {
				t.Errorf("Expected started_at to stay at first event, got %s", data["started_at"])
			}

			member, err := client.SIsMember(ctx, keys[1], "s1").Result()
			if err != nil {
				t.Fatalf("SIsMember failed: %v", err)
			}
			if member != step.wantActive {
				t.Errorf("Expected active membership %v, got %v", step.wantActive, member)
			}
		})
	}
}
