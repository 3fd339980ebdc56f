// Package scenario replays scripted player callbacks against a single media
// session on a manual clock, so heartbeat timing can be reproduced without
// waiting for real timers.
package scenario

import (
	"fmt"
	"os"
	"time"

	"github.com/goodtune/avtrack/internal/media"
	"github.com/goodtune/avtrack/internal/properties"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// DefaultStart is the clock origin when a scenario does not set one.
var DefaultStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Scenario is a scripted playback session.
type Scenario struct {
	Name       string      `yaml:"name"`
	MediaID    string      `yaml:"media_id"`
	Start      time.Time   `yaml:"start"`
	Heartbeats map[int]int `yaml:"heartbeats"`
	// Heartbeat sets a single period in seconds for the whole session.
	Heartbeat  int        `yaml:"heartbeat"`
	Schema     Schemas    `yaml:"schema"`
	Properties Properties `yaml:"properties"`
	Steps      []Step     `yaml:"steps"`
}

// Schemas registers key types per property scope, keyed by tag
// ("s", "n", "b", ...).
type Schemas struct {
	Media   properties.Schema `yaml:"media"`
	Content properties.Schema `yaml:"content"`
	Player  properties.Schema `yaml:"player"`
}

// Properties seeds the three property scopes before the first step.
type Properties struct {
	Media   map[string]any `yaml:"media"`
	Content map[string]any `yaml:"content"`
	Player  map[string]any `yaml:"player"`
}

// Step moves the clock, then applies a command, then fires pending
// heartbeats. Every part is optional but a step must do something.
type Step struct {
	media.Command `yaml:",inline"`

	// Advance is a Go duration added to the clock before the command.
	Advance string `yaml:"advance,omitempty"`

	// Fire runs up to this many pending heartbeats, advancing the clock by
	// each timer's delay first.
	Fire int `yaml:"fire,omitempty"`
}

// Result is what a replay produced.
type Result struct {
	Events []media.Event
	State  media.State
	Fired  int
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML scenario.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks every step before anything is replayed.
func (sc *Scenario) Validate() error {
	if len(sc.Steps) == 0 {
		return fmt.Errorf("scenario has no steps")
	}
	if sc.Heartbeat != 0 && len(sc.Heartbeats) > 0 {
		return fmt.Errorf("heartbeat and heartbeats are mutually exclusive")
	}
	if sc.Heartbeat < 0 {
		return fmt.Errorf("heartbeat must not be negative")
	}
	for scope, schema := range map[string]properties.Schema{
		"media":   sc.Schema.Media,
		"content": sc.Schema.Content,
		"player":  sc.Schema.Player,
	} {
		for t := range schema {
			if !t.Valid() {
				return fmt.Errorf("schema.%s: unknown type %q", scope, t)
			}
		}
	}

	for i, step := range sc.Steps {
		if step.Op == "" && step.Advance == "" && step.Fire == 0 {
			return fmt.Errorf("step %d: empty step", i+1)
		}
		if step.Op != "" && !media.IsOperation(step.Op) {
			return fmt.Errorf("step %d: unknown operation %q", i+1, step.Op)
		}
		if step.Advance != "" {
			d, err := time.ParseDuration(step.Advance)
			if err != nil {
				return fmt.Errorf("step %d: invalid advance: %w", i+1, err)
			}
			if d < 0 {
				return fmt.Errorf("step %d: advance must not be negative", i+1)
			}
		}
		if step.Fire < 0 {
			return fmt.Errorf("step %d: fire must not be negative", i+1)
		}
	}

	return nil
}

// Run replays sc. Events are handed to sink as they are emitted and also
// collected in the result. A nil sink only collects.
func Run(sc *Scenario, sink media.Sink, logger zerolog.Logger) (*Result, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	start := sc.Start
	if start.IsZero() {
		start = DefaultStart
	}

	clock := media.NewManualClock(start)
	sched := media.NewManualScheduler()
	collector := &collector{next: sink}

	mediaID := sc.MediaID
	if mediaID == "" {
		mediaID = sc.Name
	}

	m := media.New(collector, media.Config{
		ID:         mediaID,
		Clock:      clock,
		Scheduler:  sched,
		Heartbeats: sc.Heartbeats,

		MediaSchema:   sc.Schema.Media,
		ContentSchema: sc.Schema.Content,
		PlayerSchema:  sc.Schema.Player,
	}, logger)
	defer m.Close()

	if sc.Heartbeat > 0 {
		m.SetHeartbeat(sc.Heartbeat)
	}

	m.Properties().SetAll(sc.Properties.Media)
	m.Content().SetAll(sc.Properties.Content)
	m.Player().SetAll(sc.Properties.Player)

	result := &Result{}
	for i, step := range sc.Steps {
		if step.Advance != "" {
			d, _ := time.ParseDuration(step.Advance)
			clock.Advance(d)
		}

		if step.Op != "" {
			if err := m.Apply(step.Command); err != nil {
				return nil, fmt.Errorf("step %d: %w", i+1, err)
			}
		}

		for n := 0; n < step.Fire; n++ {
			delay, ok := sched.Next()
			if !ok {
				logger.Debug().Int("step", i+1).Int("fired", n).Msg("No heartbeat pending")
				break
			}
			clock.Advance(delay)
			sched.Fire()
			result.Fired++
		}
	}

	result.Events = collector.events
	result.State = m.State()
	return result, nil
}

// collector records events on the replay goroutine and forwards them.
type collector struct {
	next   media.Sink
	events []media.Event
}

func (c *collector) Add(e media.Event) {
	c.events = append(c.events, e)
	if c.next != nil {
		c.next.Add(e)
	}
}

func (c *collector) Send() {
	if c.next != nil {
		c.next.Send()
	}
}
