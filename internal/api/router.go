package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ts3486/pm-journey-sub000/internal/identity"
	"github.com/ts3486/pm-journey-sub000/internal/live"
	"github.com/ts3486/pm-journey-sub000/internal/metrics"
	"github.com/ts3486/pm-journey-sub000/internal/middleware"
	"github.com/ts3486/pm-journey-sub000/internal/practice"
	"github.com/ts3486/pm-journey-sub000/internal/store"
)

// RouterConfig holds the dependencies of the HTTP API.
type RouterConfig struct {
	Repo           store.Repository
	Service        *practice.Service
	Scenarios      ScenarioSource
	Hub            *live.Hub
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	IsDev          bool
	Logger         *slog.Logger
	RequestLogging bool
}

// NewRouter builds the chi router serving the API, the live feed, health
// and metrics.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	if cfg.RequestLogging {
		r.Use(chiMiddleware.Logger)
	}
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	NewHealthHandler(cfg.Repo, cfg.Metrics, logger).RegisterRoutes(r)

	sessions := NewSessionHandler(cfg.Service, cfg.Repo, logger)
	scenarios := NewScenarioHandler(cfg.Scenarios, logger)
	feed := live.NewHandler(cfg.Hub, cfg.Service.Authorize, cfg.AllowedOrigins, cfg.IsDev, logger)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.Repo, cfg.IsDev))

		r.Route("/api", func(r chi.Router) {
			sessions.RegisterRoutes(r)
			scenarios.RegisterRoutes(r)
		})
		r.Method(http.MethodGet, "/ws/sessions/{id}", feed)
	})

	return r
}
