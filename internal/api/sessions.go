package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ts3486/pm-journey-sub000/internal/domain"
	"github.com/ts3486/pm-journey-sub000/internal/identity"
	"github.com/ts3486/pm-journey-sub000/internal/practice"
	"github.com/ts3486/pm-journey-sub000/internal/store"
)

// SessionHandler serves the learner's practice sessions.
type SessionHandler struct {
	svc    *practice.Service
	repo   store.Repository
	logger *slog.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(svc *practice.Service, repo store.Repository, logger *slog.Logger) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{svc: svc, repo: repo, logger: logger}
}

// RegisterRoutes registers session routes on the /api router.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Get("/me", h.GetMe)
	r.Get("/config", h.GetConfig)

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{id}", h.Get)
		r.Get("/{id}/messages", h.ListMessages)
		r.Post("/{id}/messages", h.PostMessage)
		r.Put("/{id}/evaluation", h.SaveEvaluation)
	})
}

// GetMe returns the current learner.
func (h *SessionHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	learnerID := identity.LearnerIDFromContext(r.Context())
	learner, err := h.repo.GetLearner(r.Context(), learnerID)
	if err != nil {
		ServiceError(w, r, h.logger, err)
		return
	}
	if learner == nil {
		Error(w, http.StatusNotFound, "learner not found")
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"learnerId":   learner.LearnerID,
		"displayName": learner.DisplayName,
		"lastSeenAt":  learner.LastSeenAt,
	})
}

// GetConfig returns the server capabilities for clients.
func (h *SessionHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"repliesEnabled": h.svc.RepliesEnabled(),
	})
}

// List returns the learner's sessions, most recently active first.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.svc.List(r.Context())
	if err != nil {
		ServiceError(w, r, h.logger, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// Create starts a session.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		ServiceError(w, r, h.logger, err)
		return
	}
	created, err := h.svc.Create(r.Context(), req)
	if err != nil {
		ServiceError(w, r, h.logger, err)
		return
	}
	JSON(w, http.StatusCreated, created)
}

// Get returns a session snapshot.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		ServiceError(w, r, h.logger, err)
		return
	}
	JSON(w, http.StatusOK, snap)
}

// ListMessages returns the session's messages.
func (h *SessionHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.ListMessages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		ServiceError(w, r, h.logger, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// PostMessage stores a turn and returns the counterpart's reply.
func (h *SessionHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req domain.PostMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		ServiceError(w, r, h.logger, err)
		return
	}
	res, err := h.svc.PostMessage(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		ServiceError(w, r, h.logger, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// SaveEvaluation persists the session's evaluation.
func (h *SessionHandler) SaveEvaluation(w http.ResponseWriter, r *http.Request) {
	var eval domain.Evaluation
	if err := decodeJSON(w, r, &eval); err != nil {
		ServiceError(w, r, h.logger, err)
		return
	}
	snap, err := h.svc.SaveEvaluation(r.Context(), chi.URLParam(r, "id"), &eval)
	if err != nil {
		ServiceError(w, r, h.logger, err)
		return
	}
	JSON(w, http.StatusOK, snap)
}
