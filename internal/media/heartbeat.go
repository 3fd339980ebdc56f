package media

import (
	"fmt"
	"time"
)

const (
	// DefaultHeartbeatInterval is used when arming from a transition and when
	// the interval table has no entry for the current session age.
	DefaultHeartbeatInterval = 5 * time.Second

	// MinHeartbeatSeconds is the floor applied to every table entry.
	MinHeartbeatSeconds = 5
)

// HeartbeatKind identifies which heartbeat a pending timer will run.
type HeartbeatKind int

const (
	HeartbeatNone HeartbeatKind = iota
	HeartbeatPlayback
	HeartbeatBuffer
	HeartbeatRebuffer
)

// String returns string representation.
func (k HeartbeatKind) String() string {
	switch k {
	case HeartbeatNone:
		return "none"
	case HeartbeatPlayback:
		return "playback"
	case HeartbeatBuffer:
		return "buffer"
	case HeartbeatRebuffer:
		return "rebuffer"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k HeartbeatKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *HeartbeatKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "none":
		*k = HeartbeatNone
	case "playback":
		*k = HeartbeatPlayback
	case "buffer":
		*k = HeartbeatBuffer
	case "rebuffer":
		*k = HeartbeatRebuffer
	default:
		return fmt.Errorf("unknown heartbeat kind %q", text)
	}
	return nil
}

// DefaultHeartbeats returns the interval table used when none is configured:
// session age in minutes -> period in seconds.
func DefaultHeartbeats() map[int]int {
	return map[int]int{0: 5, 1: 15, 5: 30, 10: 60}
}

// normalizeHeartbeats clamps every period to the floor, drops negative ages
// and guarantees an entry for age 0.
func normalizeHeartbeats(table map[int]int) map[int]int {
	out := make(map[int]int, len(table)+1)
	for age, seconds := range table {
		if age < 0 {
			continue
		}
		if seconds < MinHeartbeatSeconds {
			seconds = MinHeartbeatSeconds
		}
		out[age] = seconds
	}
	if _, ok := out[0]; !ok {
		out[0] = MinHeartbeatSeconds
	}
	return out
}

func copyHeartbeats(table map[int]int) map[int]int {
	out := make(map[int]int, len(table))
	for k, v := range table {
		out[k] = v
	}
	return out
}

// SetHeartbeat replaces the interval table with a single period applied from
// the start of the session.
func (m *Media) SetHeartbeat(seconds int) *Media {
	m.mu.Lock()
	defer m.mu.Unlock()

	if seconds < MinHeartbeatSeconds {
		seconds = MinHeartbeatSeconds
	}
	m.heartbeats = map[int]int{0: seconds}
	return m
}

// SetHeartbeats replaces the interval table. An empty table leaves the current
// one in place.
func (m *Media) SetHeartbeats(table map[int]int) *Media {
	if len(table) == 0 {
		return m
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats = normalizeHeartbeats(table)
	return m
}

// Heartbeats returns a copy of the interval table.
func (m *Media) Heartbeats() map[int]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyHeartbeats(m.heartbeats)
}

// intervalFor looks up the period for a session age. Must be called with m.mu held.
func (m *Media) intervalFor(ageMinutes int64) time.Duration {
	if seconds, ok := m.heartbeats[int(ageMinutes)]; ok {
		return time.Duration(seconds) * time.Second
	}
	return DefaultHeartbeatInterval
}
