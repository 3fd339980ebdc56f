package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Session metrics
	EventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avtrack_events_emitted_total",
			Help: "Total playback events handed to the event sink",
		},
		[]string{"event"},
	)

	HeartbeatsArmed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avtrack_heartbeats_armed_total",
			Help: "Total heartbeat timers armed",
		},
		[]string{"kind"},
	)

	SessionsStopped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "avtrack_sessions_stopped_total",
			Help: "Total playback sessions ended by a stop event",
		},
	)

	// Registry metrics
	ActiveMedia = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "avtrack_active_media",
			Help: "Number of tracked media sessions",
		},
	)

	MediaEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "avtrack_media_evicted_total",
			Help: "Media sessions dropped from the registry",
		},
	)

	// Dispatch metrics
	DispatchQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "avtrack_dispatch_queue_depth",
			Help: "Events waiting to be published",
		},
	)

	DispatchBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avtrack_dispatch_batches_total",
			Help: "Event batches handed to a publisher",
		},
		[]string{"publisher", "result"},
	)

	DispatchDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "avtrack_dispatch_dropped_total",
			Help: "Events dropped because the dispatch queue was full",
		},
	)

	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "avtrack_dispatch_duration_seconds",
			Help:    "Time spent publishing a batch",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"publisher"},
	)

	// Ingest metrics
	IngestCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avtrack_ingest_commands_total",
			Help: "Player commands received",
		},
		[]string{"transport", "op", "status"},
	)

	IngestConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "avtrack_ingest_websocket_connections",
			Help: "Open WebSocket ingest connections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		EventsEmitted,
		HeartbeatsArmed,
		SessionsStopped,
		ActiveMedia,
		MediaEvicted,
		DispatchQueueDepth,
		DispatchBatches,
		DispatchDropped,
		DispatchDuration,
		IngestCommands,
		IngestConnections,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler exposes the underlying mux, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
