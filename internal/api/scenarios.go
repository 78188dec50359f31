package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ts3486/pm-journey-sub000/internal/domain"
)

// ScenarioSource lists and looks up catalog scenarios. *catalog.Catalog
// implements it.
type ScenarioSource interface {
	List() []domain.Scenario
	Lookup(id string) (*domain.Scenario, error)
}

// ScenarioHandler serves the scenario catalog.
type ScenarioHandler struct {
	scenarios ScenarioSource
	logger    *slog.Logger
}

// NewScenarioHandler creates a scenario handler.
func NewScenarioHandler(scenarios ScenarioSource, logger *slog.Logger) *ScenarioHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScenarioHandler{scenarios: scenarios, logger: logger}
}

// RegisterRoutes registers scenario routes on the /api router.
func (h *ScenarioHandler) RegisterRoutes(r chi.Router) {
	r.Get("/scenarios", h.List)
	r.Get("/scenarios/{id}", h.Get)
}

// List returns every scenario.
func (h *ScenarioHandler) List(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{"scenarios": h.scenarios.List()})
}

// Get returns one scenario.
func (h *ScenarioHandler) Get(w http.ResponseWriter, r *http.Request) {
	scenario, err := h.scenarios.Lookup(chi.URLParam(r, "id"))
	if err != nil {
		ServiceError(w, r, h.logger, err)
		return
	}
	JSON(w, http.StatusOK, scenario)
}
