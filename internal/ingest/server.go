// Package ingest exposes the media registry to players over HTTP and
// WebSocket. Each request or frame names a media id and a player callback;
// the callback is applied to that media's session.
package ingest

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goodtune/avtrack/internal/storage"
	"github.com/goodtune/avtrack/internal/tracker"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// maxBodyBytes bounds command and property payloads
	maxBodyBytes = 64 << 10

	shutdownTimeout = 10 * time.Second
)

// Server is the ingest HTTP server
type Server struct {
	registry *tracker.Registry
	sessions storage.SessionStore
	auth     *AuthService
	server   *http.Server
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new ingest server
func NewServer(addr string, registry *tracker.Registry, logger zerolog.Logger) *Server {
	s := &Server{
		registry: registry,
		logger:   logger.With().Str("component", "ingest").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Players embed the tracker on arbitrary origins
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// SetAuth requires a player token on the API and WebSocket routes
func (s *Server) SetAuth(auth *AuthService) {
	s.auth = auth
	s.server.Handler = s.routes()
}

// SetSessionStore enables the session summary endpoints
func (s *Server) SetSessionStore(sessions storage.SessionStore) {
	s.sessions = sessions
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(LoggingMiddleware(s.logger))

	r.Get("/health", s.handleHealth)
	r.With(AuthMiddleware(s.auth)).Get("/ws", s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(s.auth))

		r.Get("/operations", s.handleOperations)

		r.Route("/media", func(r chi.Router) {
			r.Get("/", s.handleListMedia)
			r.Get("/{id}", s.handleGetMedia)
			r.Delete("/{id}", s.handleDeleteMedia)
			r.Put("/{id}/properties", s.handleSetProperties)
			r.Put("/{id}/heartbeats", s.handleSetHeartbeats)
			r.Post("/{id}/{op}", s.handleCommand)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Get("/{id}", s.handleGetSession)
		})
	})

	return r
}

// Handler exposes the router, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the ingest server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting ingest server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated ingest listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Ingest server error")
		}
	}()

	return nil
}

// Stop gracefully stops the ingest server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping ingest server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("ingest server shutdown: %w", err)
	}

	return nil
}
