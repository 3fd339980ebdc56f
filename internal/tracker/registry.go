// Package tracker keeps the live media sessions of a process, keyed by the
// media identifier the player reports.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goodtune/avtrack/internal/media"
	"github.com/goodtune/avtrack/internal/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxSessions bounds the registry when no size is configured
	DefaultMaxSessions = 10000

	// minReapInterval keeps short idle timeouts from spinning the reaper
	minReapInterval = time.Second
)

// Config holds registry configuration
type Config struct {
	MaxSessions int

	// IdleTimeout closes sessions that received no command for this long.
	// Zero disables reaping.
	IdleTimeout time.Duration

	// Media is the template for every session created. ID is replaced by the
	// media identifier.
	Media media.Config
}

type entry struct {
	media    *media.Media
	lastSeen atomic.Int64 // unix nanoseconds

	// mu is held shared while a command runs and exclusively while the
	// entry is evicted, so a command never lands on a closed session.
	mu      sync.RWMutex
	evicted bool
}

// Registry owns the live media sessions. The least recently used session is
// closed when the registry is full.
type Registry struct {
	sink   media.Sink
	config Config
	clock  media.Clock
	base   zerolog.Logger
	logger zerolog.Logger

	mu    sync.Mutex // serializes creation so an id maps to one session
	cache *lru.Cache[string, *entry]
}

// NewRegistry creates a registry whose sessions emit into sink
func NewRegistry(sink media.Sink, config Config, logger zerolog.Logger) (*Registry, error) {
	if config.MaxSessions <= 0 {
		config.MaxSessions = DefaultMaxSessions
	}

	clock := config.Media.Clock
	if clock == nil {
		clock = media.RealClock{}
		config.Media.Clock = clock
	}

	r := &Registry{
		sink:   sink,
		config: config,
		clock:  clock,
		base:   logger,
		logger: logger.With().Str("component", "registry").Logger(),
	}

	cache, err := lru.NewWithEvict[string, *entry](config.MaxSessions, r.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}
	r.cache = cache

	return r, nil
}

// Get returns the session for id if it is tracked
func (r *Registry) Get(id string) (*media.Media, bool) {
	e, ok := r.cache.Get(id)
	if !ok {
		return nil, false
	}
	return e.media, true
}

// GetOrCreate returns the session for id, creating it on first use
func (r *Registry) GetOrCreate(id string) *media.Media {
	return r.lookup(id).media
}

func (r *Registry) lookup(id string) *entry {
	if e, ok := r.cache.Get(id); ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another caller may have created it while we waited
	if e, ok := r.cache.Get(id); ok {
		return e
	}

	cfg := r.config.Media
	cfg.ID = id

	e := &entry{media: media.New(r.sink, cfg, r.base)}
	e.lastSeen.Store(r.clock.Now().UnixNano())

	r.cache.Add(id, e)
	metrics.ActiveMedia.Inc()

	r.logger.Debug().
		Str("media_id", id).
		Int("tracked", r.cache.Len()).
		Msg("Tracking new media")

	return e
}

// Apply runs cmd against the session for id and returns the resulting state
func (r *Registry) Apply(id string, cmd media.Command) (media.State, error) {
	for {
		e := r.lookup(id)

		e.mu.RLock()
		if e.evicted {
			// lost a race with eviction; the next lookup creates a fresh session
			e.mu.RUnlock()
			continue
		}

		e.lastSeen.Store(r.clock.Now().UnixNano())
		err := e.media.Apply(cmd)
		var state media.State
		if err == nil {
			state = e.media.State()
		}
		e.mu.RUnlock()

		return state, err
	}
}

// Remove closes and forgets the session for id
func (r *Registry) Remove(id string) bool {
	return r.cache.Remove(id)
}

// Len returns the number of tracked sessions
func (r *Registry) Len() int {
	return r.cache.Len()
}

// Keys returns the tracked media ids, oldest first
func (r *Registry) Keys() []string {
	return r.cache.Keys()
}

// Reap closes sessions idle for longer than the configured timeout and
// returns how many were removed
func (r *Registry) Reap() int {
	if r.config.IdleTimeout <= 0 {
		return 0
	}

	cutoff := r.clock.Now().Add(-r.config.IdleTimeout).UnixNano()
	reaped := 0
	for _, id := range r.cache.Keys() {
		e, ok := r.cache.Peek(id)
		if !ok || e.lastSeen.Load() > cutoff {
			continue
		}
		if r.cache.Remove(id) {
			reaped++
			r.logger.Debug().
				Str("media_id", id).
				Dur("idle_timeout", r.config.IdleTimeout).
				Msg("Reaped idle media")
		}
	}
	return reaped
}

// Start runs the idle reaper until ctx is cancelled
func (r *Registry) Start(ctx context.Context) {
	if r.config.IdleTimeout <= 0 {
		return
	}

	interval := r.config.IdleTimeout / 2
	if interval < minReapInterval {
		interval = minReapInterval
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.Reap(); n > 0 {
					r.logger.Info().Int("reaped", n).Int("tracked", r.Len()).Msg("Idle media reaped")
				}
			}
		}
	}()
}

// Close closes every tracked session
func (r *Registry) Close() {
	r.cache.Purge()
}

func (r *Registry) onEvict(id string, e *entry) {
	e.mu.Lock()
	e.evicted = true
	e.media.Close()
	e.mu.Unlock()

	metrics.ActiveMedia.Dec()
	metrics.MediaEvicted.Inc()

	r.logger.Debug().Str("media_id", id).Msg("Stopped tracking media")
}
