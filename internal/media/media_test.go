package media

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/avtrack/internal/properties"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	sends  int
}

func (s *recordingSink) Add(e Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordingSink) Send() {
	s.mu.Lock()
	s.sends++
	s.mu.Unlock()
}

func (s *recordingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *recordingSink) Names() []string {
	var names []string
	for _, e := range s.Events() {
		names = append(names, e.Name)
	}
	return names
}

func (s *recordingSink) Last(t *testing.T) Event {
	t.Helper()
	events := s.Events()
	require.NotEmpty(t, events)
	return events[len(events)-1]
}

func newTestMedia(t *testing.T) (*Media, *recordingSink, *ManualClock, *ManualScheduler) {
	t.Helper()
	clock := NewManualClock(testEpoch)
	sched := NewManualScheduler()
	sink := &recordingSink{}
	m := New(sink, Config{ID: "test-media", Clock: clock, Scheduler: sched}, zerolog.Nop())
	return m, sink, clock, sched
}

func assertPositional(t *testing.T, e Event, prev, pos, duration int64, previousEvent string) {
	t.Helper()
	gotPrev, ok := e.PreviousPosition()
	require.True(t, ok, "%s: missing previous_position", e.Name)
	gotPos, _ := e.Position()
	gotDur, _ := e.Duration()
	gotPrevEvent, _ := e.PreviousEvent()

	assert.Equal(t, prev, gotPrev, "%s previous_position", e.Name)
	assert.Equal(t, pos, gotPos, "%s position", e.Name)
	assert.Equal(t, duration, gotDur, "%s duration", e.Name)
	assert.Equal(t, previousEvent, gotPrevEvent, "%s previous_event", e.Name)
}

func TestMedia_PlayStartPause(t *testing.T) {
	m, sink, clock, _ := newTestMedia(t)

	m.Play(1000)
	m.PlaybackStart(1000)
	clock.Advance(3 * time.Second)
	m.PlaybackPaused(2000)

	events := sink.Events()
	require.Len(t, events, 3)
	assert.Equal(t, []string{EventPlay, EventStart, EventPause}, sink.Names())

	assertPositional(t, events[0], 1000, 1000, 0, "")
	assertPositional(t, events[1], 1000, 1000, 0, EventPlay)
	assertPositional(t, events[2], 1000, 2000, 3000, EventStart)

	for _, e := range events {
		assert.Equal(t, m.State().SessionID, e.SessionID())
	}
	assert.Equal(t, 3, sink.sends)
	assert.True(t, events[2].Timestamp.Equal(testEpoch.Add(3*time.Second)))
}

func TestMedia_HeartbeatAfterStart(t *testing.T) {
	m, sink, clock, sched := newTestMedia(t)

	m.PlaybackStart(0)
	require.Equal(t, 1, sched.Pending())
	delay, _ := sched.Next()
	assert.Equal(t, DefaultHeartbeatInterval, delay)
	assert.Equal(t, HeartbeatPlayback, m.State().Pending)

	clock.Advance(delay)
	require.True(t, sched.Fire())

	hb := sink.Last(t)
	assert.Equal(t, EventHeartbeat, hb.Name)
	assertPositional(t, hb, 0, 5000, 5000, EventStart)

	assert.Equal(t, 1, sched.Pending(), "heartbeat re-arms itself")
	assert.Equal(t, HeartbeatPlayback, m.State().Pending)
}

func TestMedia_HeartbeatIntervalFollowsSessionAge(t *testing.T) {
	m, _, clock, sched := newTestMedia(t)

	m.PlaybackStart(0)
	for i := 0; i < 12; i++ {
		delay, ok := sched.Next()
		require.True(t, ok)
		assert.Equal(t, 5*time.Second, delay, "fire %d", i)
		clock.Advance(delay)
		require.True(t, sched.Fire())
	}

	// one minute into the session
	delay, ok := sched.Next()
	require.True(t, ok)
	assert.Equal(t, 15*time.Second, delay)
	assert.Equal(t, int64(60000), m.State().Position)
}

func TestMedia_IntervalLookup(t *testing.T) {
	m, _, _, _ := newTestMedia(t)

	tests := []struct {
		age  int64
		want time.Duration
	}{
		{0, 5 * time.Second},
		{1, 15 * time.Second},
		{2, DefaultHeartbeatInterval},
		{5, 30 * time.Second},
		{10, 60 * time.Second},
		{11, DefaultHeartbeatInterval},
	}

	for _, tt := range tests {
		m.mu.Lock()
		got := m.intervalFor(tt.age)
		m.mu.Unlock()
		assert.Equal(t, tt.want, got, "age %d", tt.age)
	}
}

func TestMedia_SetHeartbeat(t *testing.T) {
	tests := []struct {
		name  string
		apply func(m *Media)
		want  map[int]int
	}{
		{
			name:  "single value below floor",
			apply: func(m *Media) { m.SetHeartbeat(2) },
			want:  map[int]int{0: 5},
		},
		{
			name:  "single value",
			apply: func(m *Media) { m.SetHeartbeat(20) },
			want:  map[int]int{0: 20},
		},
		{
			name:  "empty table keeps current",
			apply: func(m *Media) { m.SetHeartbeats(map[int]int{}) },
			want:  DefaultHeartbeats(),
		},
		{
			name:  "empty table after single value",
			apply: func(m *Media) { m.SetHeartbeat(12).SetHeartbeats(nil) },
			want:  map[int]int{0: 12},
		},
		{
			name:  "values below floor are raised",
			apply: func(m *Media) { m.SetHeartbeats(map[int]int{0: 1, 2: 4, 4: 40}) },
			want:  map[int]int{0: 5, 2: 5, 4: 40},
		},
		{
			name:  "zero key is added",
			apply: func(m *Media) { m.SetHeartbeats(map[int]int{3: 1, -1: 40}) },
			want:  map[int]int{0: 5, 3: 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _, _ := newTestMedia(t)
			tt.apply(m)

			got := m.Heartbeats()
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got[0], MinHeartbeatSeconds)
		})
	}
}

func TestMedia_SingleHeartbeatDrivesEveryBeat(t *testing.T) {
	m, sink, clock, sched := newTestMedia(t)
	m.SetHeartbeat(20)

	m.PlaybackStart(0)
	// the first beat follows the start transition's fixed delay
	for i, want := range []time.Duration{5 * time.Second, 20 * time.Second, 20 * time.Second} {
		delay, ok := sched.Next()
		require.True(t, ok)
		assert.Equal(t, want, delay, "beat %d", i)
		clock.Advance(delay)
		sched.Fire()
	}

	assert.Len(t, sink.Events(), 4)
}

// lockCheckingSink records whether the session lock was free when Send ran.
type lockCheckingSink struct {
	recordingSink
	m        *Media
	lockedOn []bool
}

func (s *lockCheckingSink) Send() {
	free := s.m.mu.TryLock()
	if free {
		s.m.mu.Unlock()
	}
	s.lockedOn = append(s.lockedOn, !free)
	s.recordingSink.Send()
}

func TestMedia_SendRunsAfterUnlock(t *testing.T) {
	clock := NewManualClock(testEpoch)
	sched := NewManualScheduler()
	sink := &lockCheckingSink{}
	m := New(sink, Config{Clock: clock, Scheduler: sched}, zerolog.Nop())
	sink.m = m

	m.PlaybackStart(0)
	clock.Advance(5 * time.Second)
	sched.Fire()
	m.SeekTo(5000, 1000)
	m.Share()

	assert.Len(t, sink.Events(), 5)
	// the seek pair is delivered with a single Send
	assert.Equal(t, []bool{false, false, false, false}, sink.lockedOn)
}

func TestMedia_ExtraMediaSchema(t *testing.T) {
	clock := NewManualClock(testEpoch)
	sink := &recordingSink{}
	m := New(sink, Config{
		Clock:       clock,
		Scheduler:   NewManualScheduler(),
		MediaSchema: map[properties.Type][]string{properties.Number: {"bitrate"}},
	}, zerolog.Nop())

	m.Properties().Set("bitrate", 4500).Set("show", "Nature")
	m.Share()

	e := sink.Last(t)
	assert.Equal(t, 4500, e.Media["n:bitrate"])
	assert.Equal(t, "Nature", e.Media["s:show"])
}

func TestMedia_HeartbeatIgnoredWhenNotPlaying(t *testing.T) {
	m, sink, _, sched := newTestMedia(t)

	m.Heartbeat()
	m.RebufferHeartbeat()

	assert.Empty(t, sink.Events())
	assert.Equal(t, 0, sched.Pending())
}

func TestMedia_SeekBackward(t *testing.T) {
	m, sink, _, _ := newTestMedia(t)

	m.SeekTo(5000, 1000)

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, []string{EventSeekStart, EventSeekBackward}, sink.Names())
	assertPositional(t, events[0], 0, 5000, 0, "")
	assertPositional(t, events[1], 5000, 1000, 0, EventSeekStart)
	assert.Equal(t, int64(0), m.State().SessionStart, "seek while idle does not start the session")
}

func TestMedia_SeekForward(t *testing.T) {
	tests := []struct {
		name     string
		old, new int64
	}{
		{"forward", 1000, 5000},
		{"same position", 3000, 3000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, sink, _, _ := newTestMedia(t)
			m.SeekTo(tt.old, tt.new)
			assert.Equal(t, []string{EventSeekStart, EventSeekForward}, sink.Names())
			assertPositional(t, sink.Last(t), tt.old, tt.new, 0, EventSeekStart)
		})
	}
}

func TestMedia_SeekWhilePlaying(t *testing.T) {
	m, sink, clock, sched := newTestMedia(t)

	m.PlaybackStart(0)
	clock.Advance(2 * time.Second)
	m.SeekTo(2000, 8000)

	events := sink.Events()
	require.Len(t, events, 3)
	assertPositional(t, events[1], 0, 2000, 2000, EventStart)
	assertPositional(t, events[2], 2000, 8000, 0, EventSeekStart)
	assert.Equal(t, 1, sched.Pending(), "seek leaves the heartbeat armed")
}

func TestMedia_SeekStartStandalone(t *testing.T) {
	m, sink, clock, _ := newTestMedia(t)

	m.PlaybackStart(100)
	clock.Advance(time.Second)
	m.SeekStart(1100)

	e := sink.Last(t)
	assert.Equal(t, EventSeekStart, e.Name)
	assertPositional(t, e, 100, 1100, 1000, EventStart)

	m.PlaybackPaused(1100)
	clock.Advance(time.Second)
	m.SeekStart(4000)
	assertPositional(t, sink.Last(t), 1100, 4000, 0, EventPause)
}

func TestMedia_BufferStart(t *testing.T) {
	t.Run("not playing", func(t *testing.T) {
		m, sink, _, sched := newTestMedia(t)
		m.BufferStart(0)

		assert.Equal(t, EventBufferStart, sink.Last(t).Name)
		assert.Equal(t, HeartbeatBuffer, m.State().Pending)
		assert.Equal(t, 1, sched.Pending())
		assert.Equal(t, testEpoch.UnixMilli(), m.State().BufferStart)
	})

	t.Run("playing", func(t *testing.T) {
		m, sink, _, sched := newTestMedia(t)
		m.PlaybackStart(0)
		m.BufferStart(500)

		assert.Equal(t, EventRebufferStart, sink.Last(t).Name)
		assert.Equal(t, HeartbeatRebuffer, m.State().Pending)
		assert.Equal(t, 1, sched.Pending())
	})
}

func TestMedia_BufferHeartbeat(t *testing.T) {
	m, sink, clock, sched := newTestMedia(t)

	m.BufferStart(0)
	clock.Advance(5 * time.Second)
	require.True(t, sched.Fire())

	e := sink.Last(t)
	assert.Equal(t, EventBufferHeartbeat, e.Name)
	assertPositional(t, e, 0, 0, 5000, EventBufferStart)
	assert.Equal(t, HeartbeatBuffer, m.State().Pending)

	// playback starting ends the buffering heartbeat
	m.PlaybackStart(0)
	assert.Equal(t, HeartbeatPlayback, m.State().Pending)
	assert.Equal(t, 1, sched.Pending())
}

func TestMedia_RebufferHeartbeatHandsOverToBuffer(t *testing.T) {
	m, sink, clock, sched := newTestMedia(t)

	m.PlaybackStart(0)
	clock.Advance(time.Second)
	m.BufferStart(1000)
	clock.Advance(5 * time.Second)
	require.True(t, sched.Fire())

	e := sink.Last(t)
	assert.Equal(t, EventRebufferHeartbeat, e.Name)
	assertPositional(t, e, 1000, 1000, 5000, EventRebufferStart)
	assert.Equal(t, HeartbeatBuffer, m.State().Pending)

	// the buffer heartbeat is gated on not playing, so it ends the chain
	count := len(sink.Events())
	clock.Advance(5 * time.Second)
	require.True(t, sched.Fire())
	assert.Len(t, sink.Events(), count)
	assert.Equal(t, 0, sched.Pending())
	assert.Equal(t, HeartbeatNone, m.State().Pending)
}

func TestMedia_PlaybackStoppedResetsSession(t *testing.T) {
	m, sink, clock, sched := newTestMedia(t)

	m.Play(0)
	m.PlaybackStart(0)
	m.BufferStart(10)
	clock.Advance(4 * time.Second)
	before := m.State()

	m.PlaybackStopped(3000)

	stop := sink.Last(t)
	assert.Equal(t, EventStop, stop.Name)
	assert.Equal(t, before.SessionID, stop.SessionID())
	assertPositional(t, stop, 10, 3000, 4000, EventRebufferStart)

	after := m.State()
	assert.NotEqual(t, before.SessionID, after.SessionID)
	assert.Equal(t, int64(0), after.PreviousPosition)
	assert.Equal(t, int64(0), after.Position)
	assert.Equal(t, int64(0), after.EventDuration)
	assert.Equal(t, "", after.PreviousEvent)
	assert.Equal(t, int64(0), after.SessionStart)
	assert.Equal(t, int64(0), after.SessionDuration)
	assert.Equal(t, int64(0), after.BufferStart)
	assert.False(t, after.Playing)
	assert.Equal(t, 0, sched.Pending())

	// the next session starts its own timing
	clock.Advance(time.Minute)
	m.Play(0)
	next := sink.Last(t)
	assert.Equal(t, after.SessionID, next.SessionID())
	assertPositional(t, next, 0, 0, 0, "")
	assert.Equal(t, clock.Now().UnixMilli(), m.State().SessionStart)
}

func TestMedia_SessionDurationMonotonic(t *testing.T) {
	m, _, clock, sched := newTestMedia(t)

	steps := []func(){
		func() { m.Play(0) },
		func() { m.PlaybackStart(0) },
		func() { sched.Fire() },
		func() { m.BufferStart(5000) },
		func() { sched.Fire() },
		func() { m.PlaybackResumed(5000) },
		func() { m.SeekTo(5000, 9000) },
		func() { m.PlaybackPaused(9000) },
		func() { m.SeekStart(9000) },
		func() { m.PlaybackResumed(9000) },
		func() { sched.Fire() },
	}

	var last int64
	for i, step := range steps {
		clock.Advance(time.Duration(i+1) * time.Second)
		step()
		got := m.State().SessionDuration
		assert.GreaterOrEqual(t, got, last, "step %d", i)
		last = got
	}
}

func TestMedia_AtMostOneTimerPending(t *testing.T) {
	m, _, clock, sched := newTestMedia(t)

	ops := []func(){
		func() { m.PlaybackStart(0) },
		func() { m.BufferStart(0) },
		func() { m.PlaybackResumed(0) },
		func() { m.Heartbeat() },
		func() { m.BufferStart(10) },
		func() { m.RebufferHeartbeat() },
		func() { m.PlaybackPaused(10) },
		func() { m.BufferStart(10) },
		func() { m.BufferHeartbeat() },
		func() { m.PlaybackResumed(10) },
		func() { sched.Fire() },
		func() { m.Play(10) },
		func() { m.PlaybackStart(10) },
		func() { m.PlaybackStopped(10) },
	}

	for round := 0; round < 3; round++ {
		for i, op := range ops {
			clock.Advance(1500 * time.Millisecond)
			op()
			assert.LessOrEqual(t, sched.Pending(), 1, "round %d op %d", round, i)
		}
	}
}

func TestMedia_InteractionEventsCarryNoPositionalFields(t *testing.T) {
	m, sink, _, sched := newTestMedia(t)
	m.PlaybackStart(2000)

	interactions := map[string]func(){
		EventAdClick:       m.AdClick,
		EventAdSkip:        m.AdSkip,
		EventDisplay:       m.Display,
		EventClose:         m.PlayerClosed,
		EventVolume:        m.Volume,
		EventSubtitleOn:    m.SubtitleOn,
		EventSubtitleOff:   m.SubtitleOff,
		EventFullscreenOn:  m.FullscreenOn,
		EventFullscreenOff: m.FullscreenOff,
		EventQuality:       m.Quality,
		EventSpeed:         m.Speed,
		EventShare:         m.Share,
	}

	for name, fn := range interactions {
		t.Run(name, func(t *testing.T) {
			before := m.State()
			fn()

			e := sink.Last(t)
			assert.Equal(t, name, e.Name)
			assert.False(t, e.Positional())
			_, ok := e.PreviousEvent()
			assert.False(t, ok)
			assert.Equal(t, before.SessionID, e.SessionID())

			after := m.State()
			assert.Equal(t, before.PreviousEvent, after.PreviousEvent)
			assert.Equal(t, before.Position, after.Position)
		})
	}
	assert.Equal(t, 1, sched.Pending())
}

func TestMedia_Error(t *testing.T) {
	m, sink, _, _ := newTestMedia(t)

	m.Error("decoder failure")

	e := sink.Last(t)
	assert.Equal(t, EventError, e.Name)
	assert.False(t, e.Positional())
	assert.Equal(t, "decoder failure", e.Player["s:error"])
	assert.Equal(t, int64(0), m.State().SessionStart)
}

func TestMedia_EventSnapshotsAreImmutable(t *testing.T) {
	m, sink, _, _ := newTestMedia(t)

	m.Properties().Set("show", "Morning")
	m.Content().Set("title", "Pilot")
	m.Play(0)

	m.Properties().Set("show", "Evening")
	m.Content().Set("title", "Finale")
	m.PlaybackStart(0)

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "Morning", events[0].Media["s:show"])
	assert.Equal(t, "Pilot", events[0].Content["title"])
	assert.Equal(t, "Evening", events[1].Media["s:show"])
	assert.Equal(t, "Finale", events[1].Content["title"])
}

func TestMedia_SupersededTimerIsIgnored(t *testing.T) {
	clock := NewManualClock(testEpoch)
	sched := &leakyScheduler{}
	sink := &recordingSink{}
	m := New(sink, Config{Clock: clock, Scheduler: sched}, zerolog.Nop())

	m.PlaybackStart(0)
	m.PlaybackPaused(0)
	m.PlaybackResumed(0)
	require.Len(t, sched.fns, 2)

	count := len(sink.Events())
	clock.Advance(5 * time.Second)

	// the first timer lost the race with Stop and fires anyway
	sched.fns[0]()
	assert.Len(t, sink.Events(), count)

	sched.fns[1]()
	assert.Equal(t, EventHeartbeat, sink.Last(t).Name)
}

func TestMedia_CloseStopsHeartbeats(t *testing.T) {
	m, sink, _, sched := newTestMedia(t)

	m.PlaybackStart(0)
	require.Equal(t, 1, sched.Pending())

	m.Close()
	assert.Equal(t, 0, sched.Pending())

	m.PlaybackResumed(0)
	assert.Equal(t, 0, sched.Pending())
	assert.Equal(t, EventResume, sink.Last(t).Name)
}

func TestMedia_ConcurrentTransitionsNeverTearCursorPairs(t *testing.T) {
	m, sink, _, sched := newTestMedia(t)
	m.PlaybackStart(0)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				base := int64(g*100000 + i*10)
				m.SeekForward(base, base+7)
				m.Heartbeat()
			}
		}(g)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			sched.Fire()
		}
	}()
	wg.Wait()

	seeks := 0
	for _, e := range sink.Events() {
		if e.Name != EventSeekForward {
			continue
		}
		seeks++
		prev, _ := e.PreviousPosition()
		pos, _ := e.Position()
		assert.Equal(t, prev+7, pos)
	}
	assert.Equal(t, 400, seeks)
	assert.LessOrEqual(t, sched.Pending(), 1)
}

func TestEvent_DataAndJSON(t *testing.T) {
	m, sink, _, _ := newTestMedia(t)
	m.Player().Set("autoplay", true)
	m.Play(250)

	e := sink.Last(t)
	data := e.Data()
	av, ok := data["av"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(250), av["n:position"])
	assert.NotContains(t, av, "content", "empty scopes are omitted")
	assert.Equal(t, map[string]any{"autoplay": true}, av["player"])

	raw, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, EventPlay, decoded["name"])
	assert.Contains(t, decoded["data"], "av")
}

// leakyScheduler never cancels, like a runtime timer whose Stop lost the race.
type leakyScheduler struct {
	fns []func()
}

type leakyTimer struct{}

func (leakyTimer) Stop() bool { return false }

func (s *leakyScheduler) AfterFunc(_ time.Duration, f func()) Timer {
	s.fns = append(s.fns, f)
	return leakyTimer{}
}
