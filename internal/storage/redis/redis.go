package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/avtrack/internal/config"
	"github.com/goodtune/avtrack/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	totalKey     = "avtrack:events:total"
	activeSet    = "avtrack:sessions:active"
	sessionKeyFn = "avtrack:session:%s"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client       *redis.Client
	eventStore   *eventStore
	sessionStore *sessionStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Host may already carry the port
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	queueKey := cfg.QueueKey
	if queueKey == "" {
		queueKey = "avtrack:events:queue"
	}

	store := &Store{
		client: client,
		eventStore: &eventStore{
			client:   client,
			queueKey: queueKey,
			maxLen:   cfg.MaxLen,
			script:   redis.NewScript(appendEventsScript),
		},
		sessionStore: &sessionStore{
			client: client,
			script: redis.NewScript(recordSessionScript),
		},
	}

	return store, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Events returns the EventStore implementation
func (s *Store) Events() storage.EventStore {
	return s.eventStore
}

// Sessions returns the SessionStore implementation
func (s *Store) Sessions() storage.SessionStore {
	return s.sessionStore
}
