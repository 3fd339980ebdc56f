// Package media tracks one audio/video playback session and turns player
// callbacks into timestamped, duration-annotated analytics events.
//
// Every transition on a Media runs under the session lock, including the
// heartbeats fired by its own timers, so each emitted event carries a
// consistent snapshot of cursor, duration and session timing. At most one
// heartbeat timer is pending per session; arming a new one cancels the old.
package media

import (
	"sync"
	"time"

	"github.com/goodtune/avtrack/internal/metrics"
	"github.com/goodtune/avtrack/internal/properties"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config holds session configuration
type Config struct {
	// ID names the tracked media in logs. Optional.
	ID string

	Clock     Clock
	Scheduler Scheduler

	// MediaSchema registers extra media-scope keys on top of
	// properties.MediaSchema; its types win on conflict.
	MediaSchema properties.Schema

	// ContentSchema and PlayerSchema register the key types of the content
	// and player scopes.
	ContentSchema properties.Schema
	PlayerSchema  properties.Schema

	// Heartbeats maps session age in minutes to heartbeat period in seconds.
	// Nil selects DefaultHeartbeats.
	Heartbeats map[int]int
}

// State is a point-in-time copy of the session fields.
type State struct {
	MediaID          string        `json:"media_id,omitempty"`
	SessionID        string        `json:"session_id"`
	PreviousEvent    string        `json:"previous_event"`
	PreviousPosition int64         `json:"previous_position"`
	Position         int64         `json:"position"`
	EventDuration    int64         `json:"event_duration"`
	SessionDuration  int64         `json:"session_duration"`
	SessionStart     int64         `json:"session_start"`
	BufferStart      int64         `json:"buffer_start"`
	Playing          bool          `json:"playing"`
	Pending          HeartbeatKind `json:"pending_heartbeat"`
	Heartbeats       map[int]int   `json:"heartbeats"`
}

// Media is a playback session. All times are epoch milliseconds and all
// positions are cursor offsets in milliseconds.
type Media struct {
	id        string
	props     *properties.Bag
	content   *properties.Bag
	player    *properties.Bag
	sink      Sink
	clock     Clock
	scheduler Scheduler
	logger    zerolog.Logger

	mu               sync.Mutex
	heartbeats       map[int]int
	sessionID        string
	previousEvent    string
	previousPosition int64
	currentPosition  int64
	eventDuration    int64
	sessionDuration  int64
	sessionStart     int64 // 0 means not started
	bufferStart      int64 // 0 means no buffering episode
	playing          bool

	timer      Timer
	pending    HeartbeatKind
	generation uint64
	closed     bool
	unsent     bool // an event was added since the last Send
}

// New creates a session that hands its events to sink. A nil sink discards events.
func New(sink Sink, config Config, logger zerolog.Logger) *Media {
	if sink == nil {
		sink = nopSink{}
	}
	if config.Clock == nil {
		config.Clock = RealClock{}
	}
	if config.Scheduler == nil {
		config.Scheduler = TimerScheduler{}
	}

	heartbeats := DefaultHeartbeats()
	if len(config.Heartbeats) > 0 {
		heartbeats = normalizeHeartbeats(config.Heartbeats)
	}

	l := logger.With().Str("component", "media")
	if config.ID != "" {
		l = l.Str("media_id", config.ID)
	}

	return &Media{
		id:         config.ID,
		props:      properties.NewBag(properties.MediaSchema.Merge(config.MediaSchema)),
		content:    properties.NewBag(config.ContentSchema),
		player:     properties.NewBag(config.PlayerSchema),
		sink:       sink,
		clock:      config.Clock,
		scheduler:  config.Scheduler,
		logger:     l.Logger(),
		heartbeats: heartbeats,
		sessionID:  newSessionID(),
	}
}

// ID returns the media identifier given at construction.
func (m *Media) ID() string { return m.id }

// Properties returns the media scope.
func (m *Media) Properties() *properties.Bag { return m.props }

// Content returns the content scope.
func (m *Media) Content() *properties.Bag { return m.content }

// Player returns the player scope.
func (m *Media) Player() *properties.Bag { return m.player }

// State returns a copy of the session fields.
func (m *Media) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return State{
		MediaID:          m.id,
		SessionID:        m.sessionID,
		PreviousEvent:    m.previousEvent,
		PreviousPosition: m.previousPosition,
		Position:         m.currentPosition,
		EventDuration:    m.eventDuration,
		SessionDuration:  m.sessionDuration,
		SessionStart:     m.sessionStart,
		BufferStart:      m.bufferStart,
		Playing:          m.playing,
		Pending:          m.pending,
		Heartbeats:       copyHeartbeats(m.heartbeats),
	}
}

// Close cancels any pending heartbeat. Later transitions still emit events
// but never arm a timer again.
func (m *Media) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelHeartbeat()
	m.closed = true
}

// Play reports that the user asked for playback at position.
func (m *Media) Play(position int64) {
	m.mu.Lock()
	defer m.unlock()

	now := m.startSession()
	m.eventDuration = 0
	m.previousPosition = position
	m.currentPosition = position
	m.playing = false
	m.cancelHeartbeat()
	m.emit(EventPlay, true, now)
}

// PlaybackStart reports that playback actually started at position.
func (m *Media) PlaybackStart(position int64) {
	m.mu.Lock()
	defer m.unlock()

	now := m.startSession()
	m.updateDuration(now)
	m.previousPosition = position
	m.currentPosition = position
	m.playing = true
	m.arm(HeartbeatPlayback, DefaultHeartbeatInterval)
	m.emit(EventStart, true, now)
}

// PlaybackResumed reports that playback resumed at position.
func (m *Media) PlaybackResumed(position int64) {
	m.mu.Lock()
	defer m.unlock()

	now := m.startSession()
	m.updateDuration(now)
	m.moveCursor(position)
	m.playing = true
	m.arm(HeartbeatPlayback, DefaultHeartbeatInterval)
	m.emit(EventResume, true, now)
}

// PlaybackPaused reports that playback paused at position.
func (m *Media) PlaybackPaused(position int64) {
	m.mu.Lock()
	defer m.unlock()

	now := m.startSession()
	m.updateDuration(now)
	m.moveCursor(position)
	m.playing = false
	m.cancelHeartbeat()
	m.emit(EventPause, true, now)
}

// PlaybackStopped reports that playback stopped at position. The stop event
// closes the logical session: a new session id is drawn and timing restarts
// on the next transition.
func (m *Media) PlaybackStopped(position int64) {
	m.mu.Lock()
	defer m.unlock()

	now := m.startSession()
	m.updateDuration(now)
	m.moveCursor(position)
	m.playing = false
	m.cancelHeartbeat()
	m.sessionStart = 0
	m.sessionDuration = 0
	m.bufferStart = 0
	m.emit(EventStop, true, now)
	m.resetSession()
	metrics.SessionsStopped.Inc()
}

// BufferStart reports that the player started buffering at position. While
// playing this is a rebuffer.
func (m *Media) BufferStart(position int64) {
	m.mu.Lock()
	defer m.unlock()

	now := m.startSession()
	m.updateDuration(now)
	m.moveCursor(position)
	m.bufferStart = now

	if m.playing {
		m.arm(HeartbeatRebuffer, DefaultHeartbeatInterval)
		m.emit(EventRebufferStart, true, now)
		return
	}
	m.arm(HeartbeatBuffer, DefaultHeartbeatInterval)
	m.emit(EventBufferStart, true, now)
}

// Heartbeat emits a playback heartbeat if the session is playing and re-arms
// itself at the interval for the current session age.
func (m *Media) Heartbeat() {
	m.mu.Lock()
	defer m.unlock()
	m.beat(HeartbeatPlayback)
}

// BufferHeartbeat emits a buffering heartbeat if the session is not playing.
func (m *Media) BufferHeartbeat() {
	m.mu.Lock()
	defer m.unlock()
	m.beat(HeartbeatBuffer)
}

// RebufferHeartbeat emits a rebuffering heartbeat if the session is playing.
func (m *Media) RebufferHeartbeat() {
	m.mu.Lock()
	defer m.unlock()
	m.beat(HeartbeatRebuffer)
}

// SeekTo reports a cursor jump and emits the seek.start / seek.<direction> pair.
func (m *Media) SeekTo(oldPosition, newPosition int64) {
	if oldPosition > newPosition {
		m.SeekBackward(oldPosition, newPosition)
	} else {
		m.SeekForward(oldPosition, newPosition)
	}
}

// SeekForward reports a forward seek.
func (m *Media) SeekForward(oldPosition, newPosition int64) {
	m.mu.Lock()
	defer m.unlock()
	m.processSeek(EventSeekForward, oldPosition, newPosition)
}

// SeekBackward reports a backward seek.
func (m *Media) SeekBackward(oldPosition, newPosition int64) {
	m.mu.Lock()
	defer m.unlock()
	m.processSeek(EventSeekBackward, oldPosition, newPosition)
}

// SeekStart reports that a seek began at position.
func (m *Media) SeekStart(position int64) {
	m.mu.Lock()
	defer m.unlock()

	now := m.nowMillis()
	if m.playing && m.sessionStart == 0 {
		m.sessionStart = now
	}
	m.seekStart(position, now)
}

// Error records message on the player scope and emits av.error.
func (m *Media) Error(message string) {
	m.mu.Lock()
	defer m.unlock()
	m.player.SetTyped(FieldError, message, properties.String)
	m.emit(EventError, false, m.nowMillis())
}

func (m *Media) AdClick()       { m.interaction(EventAdClick) }
func (m *Media) AdSkip()        { m.interaction(EventAdSkip) }
func (m *Media) Display()       { m.interaction(EventDisplay) }
func (m *Media) PlayerClosed()  { m.interaction(EventClose) }
func (m *Media) Volume()        { m.interaction(EventVolume) }
func (m *Media) SubtitleOn()    { m.interaction(EventSubtitleOn) }
func (m *Media) SubtitleOff()   { m.interaction(EventSubtitleOff) }
func (m *Media) FullscreenOn()  { m.interaction(EventFullscreenOn) }
func (m *Media) FullscreenOff() { m.interaction(EventFullscreenOff) }
func (m *Media) Quality()       { m.interaction(EventQuality) }
func (m *Media) Speed()         { m.interaction(EventSpeed) }
func (m *Media) Share()         { m.interaction(EventShare) }

func (m *Media) interaction(name string) {
	m.mu.Lock()
	defer m.unlock()
	m.emit(name, false, m.nowMillis())
}

// processSeek must be called with m.mu held.
func (m *Media) processSeek(name string, oldPosition, newPosition int64) {
	now := m.nowMillis()
	if m.playing && m.sessionStart == 0 {
		m.sessionStart = now
	}

	m.seekStart(oldPosition, now)

	m.eventDuration = 0
	m.previousPosition = oldPosition
	m.currentPosition = newPosition
	m.emit(name, true, now)
}

// seekStart must be called with m.mu held. Duration only accrues while playing.
func (m *Media) seekStart(position int64, now int64) {
	m.moveCursor(position)
	if m.playing {
		m.updateDuration(now)
	} else {
		m.eventDuration = 0
	}
	m.emit(EventSeekStart, true, now)
}

// beat runs one heartbeat step and arms the next one it asks for.
// Must be called with m.mu held.
func (m *Media) beat(kind HeartbeatKind) {
	var (
		next  HeartbeatKind
		delay time.Duration
	)
	switch kind {
	case HeartbeatPlayback:
		next, delay = m.playbackBeat()
	case HeartbeatBuffer:
		next, delay = m.bufferBeat()
	case HeartbeatRebuffer:
		next, delay = m.rebufferBeat()
	}
	if next != HeartbeatNone {
		m.arm(next, delay)
	}
}

func (m *Media) playbackBeat() (HeartbeatKind, time.Duration) {
	now := m.startSession()
	if !m.playing {
		return HeartbeatNone, 0
	}

	m.updateDuration(now)
	m.previousPosition = m.currentPosition
	m.currentPosition += m.eventDuration

	delay := m.intervalFor((now - m.sessionStart) / 60000)
	m.emit(EventHeartbeat, true, now)
	return HeartbeatPlayback, delay
}

func (m *Media) bufferBeat() (HeartbeatKind, time.Duration) {
	now := m.startSession()
	if m.playing {
		return HeartbeatNone, 0
	}

	m.updateDuration(now)
	if m.bufferStart == 0 {
		m.bufferStart = now
	}

	delay := m.intervalFor((now - m.bufferStart) / 60000)
	m.emit(EventBufferHeartbeat, true, now)
	return HeartbeatBuffer, delay
}

// rebufferBeat hands over to the buffer heartbeat once it has fired.
func (m *Media) rebufferBeat() (HeartbeatKind, time.Duration) {
	now := m.startSession()
	if !m.playing {
		return HeartbeatNone, 0
	}

	m.updateDuration(now)
	m.previousPosition = m.currentPosition
	if m.bufferStart == 0 {
		m.bufferStart = now
	}

	delay := m.intervalFor((now - m.bufferStart) / 60000)
	m.emit(EventRebufferHeartbeat, true, now)
	return HeartbeatBuffer, delay
}

// fire is the timer callback. Timers superseded by a later arm or cancel are ignored.
func (m *Media) fire(generation uint64, kind HeartbeatKind) {
	m.mu.Lock()
	defer m.unlock()

	if m.closed || generation != m.generation {
		return
	}
	m.timer = nil
	m.pending = HeartbeatNone
	m.beat(kind)
}

// arm must be called with m.mu held.
func (m *Media) arm(kind HeartbeatKind, delay time.Duration) {
	m.cancelHeartbeat()
	if m.closed {
		return
	}

	generation := m.generation
	m.pending = kind
	m.timer = m.scheduler.AfterFunc(delay, func() {
		m.fire(generation, kind)
	})
	metrics.HeartbeatsArmed.WithLabelValues(kind.String()).Inc()

	m.logger.Debug().
		Str("heartbeat", kind.String()).
		Dur("delay", delay).
		Msg("Heartbeat armed")
}

// cancelHeartbeat must be called with m.mu held.
func (m *Media) cancelHeartbeat() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.pending = HeartbeatNone
	m.generation++
}

// startSession lazily starts session timing and returns the current time.
func (m *Media) startSession() int64 {
	now := m.nowMillis()
	if m.sessionStart == 0 {
		m.sessionStart = now
	}
	return now
}

// updateDuration attributes the time since the last checkpoint to the current event.
func (m *Media) updateDuration(now int64) {
	m.eventDuration = now - m.sessionStart - m.sessionDuration
	m.sessionDuration += m.eventDuration
}

func (m *Media) moveCursor(position int64) {
	m.previousPosition = m.currentPosition
	m.currentPosition = position
}

func (m *Media) resetSession() {
	m.sessionID = newSessionID()
	m.previousEvent = ""
	m.previousPosition = 0
	m.currentPosition = 0
	m.eventDuration = 0
}

func (m *Media) nowMillis() int64 {
	return m.clock.Now().UnixMilli()
}

// unlock releases m.mu and then asks the sink to deliver anything emitted
// while it was held.
func (m *Media) unlock() {
	send := m.unsent
	m.unsent = false
	m.mu.Unlock()

	if send {
		m.sink.Send()
	}
}

// emit composes the event snapshot and hands it to the sink. Must be called with m.mu held.
func (m *Media) emit(name string, positional bool, now int64) {
	if positional {
		m.props.
			SetTyped(FieldPreviousPosition, m.previousPosition, properties.Number).
			SetTyped(FieldPosition, m.currentPosition, properties.Number).
			SetTyped(FieldDuration, m.eventDuration, properties.Number).
			SetTyped(FieldPreviousEvent, m.previousEvent, properties.String)
		m.previousEvent = name
	}
	m.props.SetTyped(FieldSessionID, m.sessionID, properties.String)

	snapshot := m.props.Snapshot()
	if !positional {
		for _, k := range positionalKeys {
			delete(snapshot, k)
		}
	}

	event := Event{
		Name:      name,
		Timestamp: time.UnixMilli(now),
		MediaID:   m.id,
		Media:     snapshot,
		Content:   m.content.Snapshot(),
		Player:    m.player.Snapshot(),
	}

	m.sink.Add(event)
	m.unsent = true
	metrics.EventsEmitted.WithLabelValues(name).Inc()

	m.logger.Debug().
		Str("event", name).
		Str("session_id", m.sessionID).
		Int64("position", m.currentPosition).
		Int64("duration", m.eventDuration).
		Msg("Event emitted")
}

func newSessionID() string {
	return uuid.NewString()
}
