package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goodtune/avtrack/internal/media"
	"github.com/goodtune/avtrack/internal/metrics"
	"github.com/goodtune/avtrack/internal/storage"
)

// PropertiesRequest replaces entries of the three property scopes of a media.
// Keys are resolved against each scope's schema.
type PropertiesRequest struct {
	Media   map[string]any `json:"media,omitempty"`
	Content map[string]any `json:"content,omitempty"`
	Player  map[string]any `json:"player,omitempty"`
}

// PropertiesResponse is the stored (qualified) form of the three scopes.
type PropertiesResponse struct {
	Media   map[string]any `json:"media"`
	Content map[string]any `json:"content"`
	Player  map[string]any `json:"player"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"media":  s.registry.Len(),
	})
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"operations": media.Operations()})
}

func (s *Server) handleListMedia(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"media": s.registry.Keys()})
}

func (s *Server) handleGetMedia(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	m, ok := s.registry.Get(id)
	if !ok {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("media %q is not tracked", id))
		return
	}

	WriteJSON(w, http.StatusOK, m.State())
}

func (s *Server) handleDeleteMedia(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if !s.registry.Remove(id) {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("media %q is not tracked", id))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	op := chi.URLParam(r, "op")

	var cmd media.Command
	if err := decodeBody(r, &cmd); err != nil {
		metrics.IngestCommands.WithLabelValues("http", opLabel(op), "rejected").Inc()
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	cmd.Op = op

	state, err := s.registry.Apply(id, cmd)
	if err != nil {
		metrics.IngestCommands.WithLabelValues("http", opLabel(op), "rejected").Inc()
		if errors.Is(err, media.ErrUnknownOperation) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	metrics.IngestCommands.WithLabelValues("http", op, "ok").Inc()
	s.logger.Debug().
		Str("media_id", id).
		Str("op", op).
		Str("player_id", PlayerID(r.Context())).
		Int64("position", state.Position).
		Msg("Applied command")

	WriteJSON(w, http.StatusOK, state)
}

func (s *Server) handleSetProperties(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req PropertiesRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	m := s.registry.GetOrCreate(id)
	m.Properties().SetAll(req.Media)
	m.Content().SetAll(req.Content)
	m.Player().SetAll(req.Player)

	WriteJSON(w, http.StatusOK, PropertiesResponse{
		Media:   m.Properties().Snapshot(),
		Content: m.Content().Snapshot(),
		Player:  m.Player().Snapshot(),
	})
}

func (s *Server) handleSetHeartbeats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var table map[int]int
	if err := decodeBody(r, &table); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(table) == 0 {
		WriteError(w, http.StatusBadRequest, "heartbeat table is empty")
		return
	}

	m := s.registry.GetOrCreate(id).SetHeartbeats(table)
	WriteJSON(w, http.StatusOK, map[string]any{"heartbeats": m.Heartbeats()})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		WriteError(w, http.StatusServiceUnavailable, "session store is not configured")
		return
	}

	sessions, err := s.sessions.ListActive(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list active sessions")
		WriteError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []storage.SessionSummary{}
	}

	WriteJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		WriteError(w, http.StatusServiceUnavailable, "session store is not configured")
		return
	}

	id := chi.URLParam(r, "id")
	summary, err := s.sessions.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("session %q not found", id))
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", id).Msg("Failed to load session")
		WriteError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	WriteJSON(w, http.StatusOK, summary)
}

// decodeBody decodes a JSON request body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// opLabel keeps client-supplied operation names out of metric labels.
func opLabel(op string) string {
	if media.IsOperation(op) {
		return op
	}
	return "unknown"
}
