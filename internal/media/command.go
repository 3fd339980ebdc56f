package media

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownOperation is returned by Apply for an operation name it does not know.
var ErrUnknownOperation = errors.New("media: unknown operation")

// Command is a player callback expressed as data, as received from the
// ingest surface or a scenario file.
type Command struct {
	Op          string `json:"op" yaml:"op"`
	Position    int64  `json:"position,omitempty" yaml:"position,omitempty"`
	OldPosition int64  `json:"old_position,omitempty" yaml:"old_position,omitempty"`
	NewPosition int64  `json:"new_position,omitempty" yaml:"new_position,omitempty"`
	Message     string `json:"message,omitempty" yaml:"message,omitempty"`
}

var operations = map[string]func(*Media, Command){
	"play":              func(m *Media, c Command) { m.Play(c.Position) },
	"playbackStart":     func(m *Media, c Command) { m.PlaybackStart(c.Position) },
	"playbackResumed":   func(m *Media, c Command) { m.PlaybackResumed(c.Position) },
	"playbackPaused":    func(m *Media, c Command) { m.PlaybackPaused(c.Position) },
	"playbackStopped":   func(m *Media, c Command) { m.PlaybackStopped(c.Position) },
	"bufferStart":       func(m *Media, c Command) { m.BufferStart(c.Position) },
	"heartbeat":         func(m *Media, _ Command) { m.Heartbeat() },
	"bufferHeartbeat":   func(m *Media, _ Command) { m.BufferHeartbeat() },
	"rebufferHeartbeat": func(m *Media, _ Command) { m.RebufferHeartbeat() },
	"seek":              func(m *Media, c Command) { m.SeekTo(c.OldPosition, c.NewPosition) },
	"seekForward":       func(m *Media, c Command) { m.SeekForward(c.OldPosition, c.NewPosition) },
	"seekBackward":      func(m *Media, c Command) { m.SeekBackward(c.OldPosition, c.NewPosition) },
	"seekStart":         func(m *Media, c Command) { m.SeekStart(c.OldPosition) },
	"adClick":           func(m *Media, _ Command) { m.AdClick() },
	"adSkip":            func(m *Media, _ Command) { m.AdSkip() },
	"error":             func(m *Media, c Command) { m.Error(c.Message) },
	"display":           func(m *Media, _ Command) { m.Display() },
	"close":             func(m *Media, _ Command) { m.PlayerClosed() },
	"volume":            func(m *Media, _ Command) { m.Volume() },
	"subtitleOn":        func(m *Media, _ Command) { m.SubtitleOn() },
	"subtitleOff":       func(m *Media, _ Command) { m.SubtitleOff() },
	"fullscreenOn":      func(m *Media, _ Command) { m.FullscreenOn() },
	"fullscreenOff":     func(m *Media, _ Command) { m.FullscreenOff() },
	"quality":           func(m *Media, _ Command) { m.Quality() },
	"speed":             func(m *Media, _ Command) { m.Speed() },
	"share":             func(m *Media, _ Command) { m.Share() },
}

// Apply runs the transition named by cmd.Op.
func (m *Media) Apply(cmd Command) error {
	op, ok := operations[cmd.Op]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOperation, cmd.Op)
	}
	op(m, cmd)
	return nil
}

// Operations returns the operation names accepted by Apply, sorted.
func Operations() []string {
	names := make([]string, 0, len(operations))
	for name := range operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsOperation reports whether Apply accepts name.
func IsOperation(name string) bool {
	_, ok := operations[name]
	return ok
}
