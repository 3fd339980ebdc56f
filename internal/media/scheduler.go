package media

import (
	"sync"
	"time"
)

// Timer is a pending single-shot callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped the timer, false if it already fired or was stopped.
	Stop() bool
}

// Scheduler arms single-shot callbacks.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// TimerScheduler schedules callbacks on runtime timers.
type TimerScheduler struct{}

// AfterFunc runs f in its own goroutine after d.
func (TimerScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ManualScheduler holds armed callbacks until Fire is called. Used by tests
// and by scenario replay, where time is driven by a ManualClock.
type ManualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	s     *ManualScheduler
	delay time.Duration
	fn    func()
	done  bool
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	t.s.prune()
	return true
}

// NewManualScheduler returns an empty scheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// AfterFunc records f; it runs only when Fire is called.
func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &manualTimer{s: s, delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

// Pending returns the number of armed callbacks that have neither fired nor been stopped.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Next returns the delay of the oldest pending callback.
func (s *ManualScheduler) Next() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		return 0, false
	}
	return s.timers[0].delay, true
}

// Fire runs the oldest pending callback on the calling goroutine. It reports
// false when nothing is pending.
func (s *ManualScheduler) Fire() bool {
	s.mu.Lock()
	if len(s.timers) == 0 {
		s.mu.Unlock()
		return false
	}
	t := s.timers[0]
	t.done = true
	s.prune()
	s.mu.Unlock()

	t.fn()
	return true
}

// prune drops finished timers; must be called with s.mu held.
func (s *ManualScheduler) prune() {
	kept := s.timers[:0]
	for _, t := range s.timers {
		if !t.done {
			kept = append(kept, t)
		}
	}
	for i := len(kept); i < len(s.timers); i++ {
		s.timers[i] = nil
	}
	s.timers = kept
}
