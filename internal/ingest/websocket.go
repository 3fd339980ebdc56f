package ingest

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/goodtune/avtrack/internal/media"
	"github.com/goodtune/avtrack/internal/metrics"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 5 * time.Second

// Frame is a player command received over the WebSocket.
type Frame struct {
	MediaID string `json:"media_id"`
	media.Command
}

// Reply answers every frame, in order.
type Reply struct {
	OK      bool         `json:"ok"`
	MediaID string       `json:"media_id,omitempty"`
	Op      string       `json:"op,omitempty"`
	Error   string       `json:"error,omitempty"`
	State   *media.State `json:"state,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxBodyBytes)

	metrics.IngestConnections.Inc()
	defer metrics.IngestConnections.Dec()

	logger := s.logger.With().
		Str("remote_addr", r.RemoteAddr).
		Str("player_id", PlayerID(r.Context())).
		Logger()
	logger.Debug().Msg("WebSocket client connected")
	defer logger.Debug().Msg("WebSocket client disconnected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug().Err(err).Msg("WebSocket read failed")
			}
			return
		}

		reply := s.applyFrame(data)

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(reply); err != nil {
			logger.Debug().Err(err).Msg("WebSocket write failed")
			return
		}
	}
}

func (s *Server) applyFrame(data []byte) Reply {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		metrics.IngestCommands.WithLabelValues("ws", "unknown", "rejected").Inc()
		return Reply{Error: "invalid frame: " + err.Error()}
	}

	reply := Reply{MediaID: frame.MediaID, Op: frame.Op}
	if frame.MediaID == "" {
		metrics.IngestCommands.WithLabelValues("ws", opLabel(frame.Op), "rejected").Inc()
		reply.Error = "media_id is required"
		return reply
	}

	state, err := s.registry.Apply(frame.MediaID, frame.Command)
	if err != nil {
		metrics.IngestCommands.WithLabelValues("ws", opLabel(frame.Op), "rejected").Inc()
		if errors.Is(err, media.ErrUnknownOperation) {
			reply.Error = err.Error()
			return reply
		}
		s.logger.Error().Err(err).Str("media_id", frame.MediaID).Msg("Failed to apply frame")
		reply.Error = "internal error"
		return reply
	}

	metrics.IngestCommands.WithLabelValues("ws", frame.Op, "ok").Inc()
	reply.OK = true
	reply.State = &state
	return reply
}
