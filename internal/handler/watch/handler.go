// Package watch exposes session status streams over Server-Sent Events and
// WebSocket, as push alternatives to polling the status endpoint.
package watch

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"

	"github.com/SakshamManav/File-Synchronization/backend/internal/handler/respond"
	"github.com/SakshamManav/File-Synchronization/backend/internal/model/session"
	"github.com/SakshamManav/File-Synchronization/backend/pkg/utils"
)

// DefaultKeepAlive is the SSE heartbeat and WebSocket ping period.
const DefaultKeepAlive = 15 * time.Second

const writeWait = 10 * time.Second

// Watcher opens a stream of session snapshots.
type Watcher interface {
	Watch(ctx context.Context, sessionID string, isPeerRead bool) (<-chan session.Session, error)
}

// Handler serves the live status streams.
type Handler struct {
	watcher   Watcher
	peers     respond.PeerClassifier
	keepAlive time.Duration
	upgrader  websocket.Upgrader
}

// New creates the stream handler. keepAlive <= 0 uses DefaultKeepAlive.
func New(watcher Watcher, peers respond.PeerClassifier, keepAlive time.Duration) *Handler {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &Handler{
		watcher:   watcher,
		peers:     peers,
		keepAlive: keepAlive,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the stream endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/{sessionID}/events", h.handleEvents)
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type outgoingMessage struct {
	Type         string      `json:"type"`
	ConnectionID string      `json:"connectionId,omitempty"`
	Data         interface{} `json:"data,omitempty"`
	Timestamp    int64       `json:"timestamp"`
}

// handleEvents streams "status" events until the session expires or the
// client goes away.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stream, err := h.watcher.Watch(ctx, sessionID, respond.IsPeer(h.peers, r))
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := log.With().Str("session_id", sessionID).Str("transport", "sse").Logger()
	logger.Debug().Msg("stream opened")
	defer logger.Debug().Msg("stream closed")

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case sess, ok := <-stream:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, "status", respond.Status(sess)); err != nil {
				logger.Debug().Err(err).Msg("sse write failed")
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}

// handleWebSocket pushes status messages over a WebSocket. The connection is
// write-only from the server's point of view; inbound frames are drained so
// pongs and close frames are processed.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stream, err := h.watcher.Watch(ctx, sessionID, respond.IsPeer(h.peers, r))
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	connID, err := gonanoid.New()
	if err != nil {
		connID = sessionID
	}
	logger := log.With().Str("session_id", sessionID).Str("connection_id", connID).Logger()
	logger.Info().Msg("websocket connected")
	defer logger.Info().Msg("websocket closed")

	pongWait := 2 * h.keepAlive
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	send := func(msgType string, data interface{}) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(outgoingMessage{
			Type:         msgType,
			ConnectionID: connID,
			Data:         data,
			Timestamp:    time.Now().UnixMilli(),
		})
	}

	if err := send("connected", nil); err != nil {
		return
	}

	ping := time.NewTicker(h.keepAlive)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case sess, ok := <-stream:
			if !ok {
				closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
				_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait))
				return
			}
			if err := send("status", respond.Status(sess)); err != nil {
				logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
