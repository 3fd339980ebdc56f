package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/avtrack/internal/dispatch"
	"github.com/goodtune/avtrack/internal/media"
	"github.com/goodtune/avtrack/internal/properties"
	"github.com/goodtune/avtrack/internal/scenario"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	replayFormat string
	replayDebug  bool
)

var replayCmd = &cobra.Command{
	Use:   "replay [flags] SCENARIO",
	Short: "Replay a scripted playback session",
	Long: `Replay a YAML scenario of player callbacks on a simulated clock and print
the events avtrack would emit, heartbeats included.`,
	Example: `  avtrack replay scenarios/pause_resume.yaml
  avtrack replay --format json scenarios/rebuffer.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayFormat, "format", "text", "Output format (text or json)")
	replayCmd.Flags().BoolVar(&replayDebug, "debug", false, "Log session transitions to stderr")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	sc, err := scenario.Load(args[0])
	if err != nil {
		return err
	}

	logger := zerolog.Nop()
	if replayDebug {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.DebugLevel)
	}

	result, err := scenario.Run(sc, nil, logger)
	if err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}

	switch replayFormat {
	case "json":
		return dispatch.NewWriterPublisher(os.Stdout).Publish(context.Background(), result.Events)
	case "text":
		printEvents(os.Stdout, sc, result)
		return nil
	default:
		return fmt.Errorf("unsupported format: %s", replayFormat)
	}
}

// printEvents writes one colorized line per event, timed from the first event
func printEvents(w io.Writer, sc *scenario.Scenario, result *scenario.Result) {
	cyan := color.New(color.FgCyan, color.Bold)

	title := sc.Name
	if title == "" {
		title = sc.MediaID
	}
	_, _ = cyan.Fprintf(w, "%s: %d events, %d heartbeat timers fired\n", title, len(result.Events), result.Fired)

	if len(result.Events) == 0 {
		return
	}

	origin := result.Events[0].Timestamp
	for _, e := range result.Events {
		_, _ = fmt.Fprintf(w, "%8s  ", e.Timestamp.Sub(origin))
		_, _ = eventColor(e.Name).Fprintf(w, "%-22s", e.Name)
		_, _ = fmt.Fprintln(w, " "+describeEvent(e))
	}
}

func describeEvent(e media.Event) string {
	if !e.Positional() {
		if msg, ok := e.Player[properties.Qualify(properties.String, media.FieldError)]; ok {
			return fmt.Sprintf("error=%v", msg)
		}
		return ""
	}

	var parts []string
	if p, ok := e.Position(); ok {
		parts = append(parts, fmt.Sprintf("position=%d", p))
	}
	if p, ok := e.PreviousPosition(); ok {
		parts = append(parts, fmt.Sprintf("previous=%d", p))
	}
	if d, ok := e.Duration(); ok {
		parts = append(parts, fmt.Sprintf("duration=%d", d))
	}
	if prev, ok := e.PreviousEvent(); ok && prev != "" {
		parts = append(parts, "after="+prev)
	}
	return strings.Join(parts, " ")
}

func eventColor(name string) *color.Color {
	switch {
	case name == media.EventStop || name == media.EventError:
		return color.New(color.FgRed)
	case strings.HasSuffix(name, ".heartbeat"):
		return color.New(color.FgBlue)
	case strings.Contains(name, "buffer"):
		return color.New(color.FgMagenta)
	case strings.HasPrefix(name, "av.seek"):
		return color.New(color.FgYellow)
	case name == media.EventPlay || name == media.EventStart || name == media.EventResume || name == media.EventPause:
		return color.New(color.FgGreen)
	default:
		return color.New(color.FgWhite)
	}
}
