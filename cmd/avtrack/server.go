package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/avtrack/internal/config"
	"github.com/goodtune/avtrack/internal/dispatch"
	"github.com/goodtune/avtrack/internal/ingest"
	"github.com/goodtune/avtrack/internal/media"
	"github.com/goodtune/avtrack/internal/metrics"
	"github.com/goodtune/avtrack/internal/storage"
	"github.com/goodtune/avtrack/internal/storage/redis"
	"github.com/goodtune/avtrack/internal/systemd"
	"github.com/goodtune/avtrack/internal/tracker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const drainTimeout = 10 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start avtrack server",
	Long:  `Start the avtrack server with the ingest API, event dispatch and metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Events written to stdout must not interleave with log lines
	logOut := io.Writer(os.Stdout)
	if cfg.Dispatch.Publisher == config.PublisherStdout {
		logOut = os.Stderr
	}
	logger := setupLogger(cfg.Logging, logOut)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting avtrack")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	heartbeats, err := cfg.Heartbeat.Table()
	if err != nil {
		return fmt.Errorf("invalid heartbeat table: %w", err)
	}

	publisher, store, err := openPublisher(cfg, os.Stdout, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize publisher: %w", err)
	}
	if store != nil {
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close storage")
			}
		}()

		logger.Info().
			Str("redis_host", cfg.Storage.Redis.Host).
			Int("redis_port", cfg.Storage.Redis.Port).
			Str("queue_key", cfg.Storage.Redis.QueueKey).
			Msg("Storage initialized")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize dispatch queue
	queue := dispatch.NewQueue(publisher, dispatch.Config{
		BatchSize:     cfg.Dispatch.BatchSize,
		FlushInterval: parseDuration(cfg.Dispatch.FlushInterval, time.Second),
		MaxPending:    cfg.Dispatch.MaxPending,
	}, logger)
	queue.Start(ctx)

	logger.Info().
		Str("publisher", publisher.Name()).
		Int("batch_size", cfg.Dispatch.BatchSize).
		Msg("Event dispatch started")

	// Initialize media registry
	registry, err := tracker.NewRegistry(queue, tracker.Config{
		MaxSessions: cfg.Registry.MaxSessions,
		IdleTimeout: parseDuration(cfg.Registry.IdleTimeout, 30*time.Minute),
		Media:       media.Config{Heartbeats: heartbeats},
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize registry: %w", err)
	}
	registry.Start(ctx)

	// Initialize ingest server
	ingestAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.IngestPort)
	ingestServer := ingest.NewServer(ingestAddr, registry, logger)
	if store != nil {
		ingestServer.SetSessionStore(store.Sessions())
	}
	if auth := newAuthService(cfg.Auth); auth != nil {
		ingestServer.SetAuth(auth)
		logger.Info().Str("token_expiration", cfg.Auth.TokenExpiration).Msg("Ingest token auth enabled")
	}
	if sdListeners.Activated && sdListeners.Ingest != nil {
		ingestServer.SetListener(sdListeners.Ingest)
	}

	if err := ingestServer.Start(); err != nil {
		return fmt.Errorf("failed to start ingest server: %w", err)
	}

	// Initialize metrics server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)
	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	logger.Info().Msg("avtrack startup complete")
	logger.Info().Msgf("Ingest: http://%s/api/v1 (ws://%s/ws)", ingestAddr, ingestAddr)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}
	systemd.Watchdog(ctx, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			logger.Info().Msg("SIGHUP received, reloading log level...")
			reloadLogLevel(logger)
			continue
		}
		logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		break
	}
	signal.Stop(sigChan)

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// Stop accepting commands before closing sessions
	if err := ingestServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping ingest server")
	}

	registry.Close()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()
	if err := queue.Stop(drainCtx); err != nil {
		logger.Error().Err(err).Msg("Error draining event queue")
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping metrics server")
	}

	logger.Info().Msg("avtrack stopped")

	return nil
}

// openPublisher builds the configured event publisher. The store is returned
// when the publisher owns one so the caller can close it and expose sessions.
func openPublisher(cfg *config.Config, out io.Writer, logger zerolog.Logger) (dispatch.Publisher, storage.Store, error) {
	switch cfg.Dispatch.Publisher {
	case "", config.PublisherLog:
		return dispatch.NewLogPublisher(logger), nil, nil
	case config.PublisherStdout:
		return dispatch.NewWriterPublisher(out), nil, nil
	case config.PublisherRedis:
		store, err := redis.Open(cfg.Storage.Redis)
		if err != nil {
			return nil, nil, err
		}
		return dispatch.NewStorePublisher(store, logger), store, nil
	default:
		return nil, nil, fmt.Errorf("unsupported publisher: %s", cfg.Dispatch.Publisher)
	}
}

// reloadLogLevel re-reads the configuration file and applies its log level
func reloadLogLevel(logger zerolog.Logger) {
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to reload configuration")
		return
	}
	zerolog.SetGlobalLevel(parseLevel(cfg.Logging.Level))
	logger.Info().Str("level", cfg.Logging.Level).Msg("Log level reloaded")
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(out).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
