package media

import (
	"encoding/json"
	"time"

	"github.com/goodtune/avtrack/internal/properties"
)

// Event names. These are part of the wire contract and must not change.
const (
	EventPlay              = "av.play"
	EventStart             = "av.start"
	EventResume            = "av.resume"
	EventPause             = "av.pause"
	EventStop              = "av.stop"
	EventBufferStart       = "av.buffer.start"
	EventRebufferStart     = "av.rebuffer.start"
	EventHeartbeat         = "av.heartbeat"
	EventBufferHeartbeat   = "av.buffer.heartbeat"
	EventRebufferHeartbeat = "av.rebuffer.heartbeat"
	EventSeekStart         = "av.seek.start"
	EventSeekForward       = "av.seek.forward"
	EventSeekBackward      = "av.seek.backward"
	EventAdClick           = "av.ad.click"
	EventAdSkip            = "av.ad.skip"
	EventError             = "av.error"
	EventDisplay           = "av.display"
	EventClose             = "av.close"
	EventVolume            = "av.volume"
	EventSubtitleOn        = "av.subtitle.on"
	EventSubtitleOff       = "av.subtitle.off"
	EventFullscreenOn      = "av.fullscreen.on"
	EventFullscreenOff     = "av.fullscreen.off"
	EventQuality           = "av.quality"
	EventSpeed             = "av.speed"
	EventShare             = "av.share"
)

// Field keys written by the session itself.
const (
	FieldSessionID        = "session_id"
	FieldPreviousPosition = "previous_position"
	FieldPosition         = "position"
	FieldDuration         = "duration"
	FieldPreviousEvent    = "previous_event"

	// FieldError is set on the player scope by Error.
	FieldError = "error"
)

// positionalKeys are the qualified keys only attached to positional events.
var positionalKeys = []string{
	properties.Qualify(properties.Number, FieldPreviousPosition),
	properties.Qualify(properties.Number, FieldPosition),
	properties.Qualify(properties.Number, FieldDuration),
	properties.Qualify(properties.String, FieldPreviousEvent),
}

// Event is an immutable record of one emitted playback event. The three
// scopes are deep copies taken at emission time. MediaID is routing
// metadata and is not part of the payload.
type Event struct {
	Name      string
	Timestamp time.Time
	MediaID   string
	Media     map[string]any
	Content   map[string]any
	Player    map[string]any
}

// Sink accepts composed events and transmits them asynchronously.
type Sink interface {
	// Add enqueues event. It must not block on I/O.
	Add(event Event)
	// Send requests delivery of everything queued so far. Fire-and-forget.
	Send()
}

type nopSink struct{}

func (nopSink) Add(Event) {}
func (nopSink) Send()     {}

// SessionID returns the session the event belongs to.
func (e Event) SessionID() string {
	s, _ := e.Media[properties.Qualify(properties.String, FieldSessionID)].(string)
	return s
}

// PreviousEvent returns the previous_event field, if present.
func (e Event) PreviousEvent() (string, bool) {
	s, ok := e.Media[properties.Qualify(properties.String, FieldPreviousEvent)].(string)
	return s, ok
}

// Position returns the position field, if present.
func (e Event) Position() (int64, bool) {
	return e.number(FieldPosition)
}

// PreviousPosition returns the previous_position field, if present.
func (e Event) PreviousPosition() (int64, bool) {
	return e.number(FieldPreviousPosition)
}

// Duration returns the duration field, if present.
func (e Event) Duration() (int64, bool) {
	return e.number(FieldDuration)
}

// Positional reports whether the event carries the positional field set.
func (e Event) Positional() bool {
	_, ok := e.Position()
	return ok
}

func (e Event) number(field string) (int64, bool) {
	v, ok := e.Media[properties.Qualify(properties.Number, field)].(int64)
	return v, ok
}

// Data returns the payload grouped under the "av" namespace: media fields at
// the top level, content and player scopes nested when non-empty.
func (e Event) Data() map[string]any {
	av := make(map[string]any, len(e.Media)+2)
	if len(e.Content) > 0 {
		av["content"] = e.Content
	}
	if len(e.Player) > 0 {
		av["player"] = e.Player
	}
	for k, v := range e.Media {
		av[k] = v
	}
	return map[string]any{"av": av}
}

// MarshalJSON renders the event as {"name", "media_id", "timestamp", "data"}.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name      string         `json:"name"`
		MediaID   string         `json:"media_id,omitempty"`
		Timestamp time.Time      `json:"timestamp"`
		Data      map[string]any `json:"data"`
	}{
		Name:      e.Name,
		MediaID:   e.MediaID,
		Timestamp: e.Timestamp,
		Data:      e.Data(),
	})
}
