// Package systemd integrates avtrack with the service manager: socket
// activation for the ingest and metrics listeners, readiness and watchdog
// notifications.
package systemd

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
)

// File descriptor names expected in avtrack.socket (FileDescriptorName=)
const (
	IngestName  = "ingest"
	MetricsName = "metrics"
)

// Listeners holds all systemd-activated listeners
type Listeners struct {
	Ingest    net.Listener
	Metrics   net.Listener
	Activated bool
}

// GetListeners retrieves systemd socket-activated file descriptors.
// Returns nil listeners if not running under socket activation.
func GetListeners() (*Listeners, error) {
	listeners := &Listeners{}

	// false = keep LISTEN_* in the environment
	if len(activation.Files(false)) == 0 {
		return listeners, nil
	}
	listeners.Activated = true

	named, err := activation.ListenersWithNames()
	if err != nil {
		return nil, fmt.Errorf("failed to get systemd listeners: %w", err)
	}

	if lns, ok := named[IngestName]; ok && len(lns) > 0 {
		listeners.Ingest = lns[0]
	}
	if lns, ok := named[MetricsName]; ok && len(lns) > 0 {
		listeners.Metrics = lns[0]
	}

	return listeners, nil
}

// NotifyReady sends READY=1 notification to systemd
func NotifyReady() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		return fmt.Errorf("failed to send sd_notify: %w", err)
	}
	return nil
}

// NotifyStopping sends STOPPING=1 notification to systemd
func NotifyStopping() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		return fmt.Errorf("failed to send sd_notify stopping: %w", err)
	}
	return nil
}

// Watchdog pings the service manager at half the configured WatchdogSec
// until ctx is cancelled. It returns immediately when the watchdog is off.
func Watchdog(ctx context.Context, logger zerolog.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn().Err(err).Msg("Invalid systemd watchdog configuration")
		return
	}
	if interval <= 0 {
		return
	}

	logger.Info().Dur("interval", interval).Msg("systemd watchdog enabled")

	go func() {
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
					logger.Warn().Err(err).Msg("Failed to send watchdog notification")
				}
			}
		}
	}()
}
