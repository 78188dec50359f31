package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ts3486/pm-journey-sub000/internal/metrics"
	"github.com/ts3486/pm-journey-sub000/internal/store"
)

const healthCheckTimeout = 5 * time.Second

// HealthHandler handles health check and metrics endpoints.
type HealthHandler struct {
	repo    store.Repository
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository, m *metrics.Metrics, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{repo: repo, metrics: m, logger: logger}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]any{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		h.logger.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterRoutes registers the health and metrics routes.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
}
