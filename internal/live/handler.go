package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/ts3486/pm-journey-sub000/internal/domain"
	"github.com/ts3486/pm-journey-sub000/internal/identity"
)

const writeTimeout = 10 * time.Second

// SessionAuthorizer reports whether the learner in ctx may watch the session.
// It returns an error matching domain.ErrSessionNotFound otherwise.
type SessionAuthorizer func(ctx context.Context, sessionID string) error

// Handler upgrades GET /ws/sessions/{id} to a websocket that streams the
// session's events.
type Handler struct {
	hub            *Hub
	authorize      SessionAuthorizer
	allowedOrigins []string
	isDev          bool
	logger         *slog.Logger
}

// NewHandler creates a websocket handler.
func NewHandler(hub *Hub, authorize SessionAuthorizer, allowedOrigins []string, isDev bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:            hub,
		authorize:      authorize,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
		logger:         logger,
	}
}

type clientFrame struct {
	Type string `json:"type"`
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	learnerID := identity.LearnerIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "id")

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	if err := h.authorize(r.Context(), sessionID); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to authorize live feed", "session_id", sessionID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "learner_id", learnerID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	sub := h.hub.Subscribe(sessionID)
	defer sub.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.logger.Info("Live feed opened", "learner_id", learnerID, "session_id", sessionID)

	go func() {
		defer cancel()
		h.readLoop(ctx, ws, sessionID)
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Live feed ended", "session_id", sessionID)
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeJSON(ctx, ws, event); err != nil {
				h.logger.Debug("Live feed write failed", "session_id", sessionID, "error", err)
				return
			}
			if event.Type == EventClosed {
				return
			}
		}
	}
}

// readLoop answers pings and returns when the client goes away.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, sessionID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "session_id", sessionID)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Type == "ping" {
			if err := writeJSON(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				h.logger.Debug("Failed to send pong", "error", err)
			}
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.allowedOrigins, "*") {
		return true
	}
	if slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
