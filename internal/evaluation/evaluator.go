// Package evaluation turns a practice transcript into a rubric-aligned score.
//
// The pipeline is prompt assembly, one completion call, extraction of the
// structured payload and normalization against the scenario's criteria.
// Nothing is retried: a failed completion or unparseable output is returned
// to the caller with no partial score.
package evaluation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ts3486/pm-journey-sub000/internal/domain"
	"github.com/ts3486/pm-journey-sub000/internal/grading"
	"github.com/ts3486/pm-journey-sub000/internal/metrics"
	"github.com/ts3486/pm-journey-sub000/internal/prompt"
)

// Generator produces raw completion text. *grading.Client implements it.
type Generator interface {
	Generate(ctx context.Context, req grading.Request) (string, error)
}

// Evaluator runs the grading pipeline.
type Evaluator struct {
	gen         Generator
	temperature float64
	maxTokens   int
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) Option {
	return func(e *Evaluator) {
		e.temperature = t
	}
}

// WithMaxOutputTokens overrides the completion token budget.
func WithMaxOutputTokens(n int) Option {
	return func(e *Evaluator) {
		e.maxTokens = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// WithMetrics records outcomes into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Evaluator) {
		e.metrics = m
	}
}

// New creates an Evaluator backed by gen.
func New(gen Generator, opts ...Option) *Evaluator {
	e := &Evaluator{
		gen:         gen,
		temperature: grading.DefaultTemperature,
		maxTokens:   grading.DefaultMaxOutputTokens,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate grades the transcript against the scenario's criteria.
//
// Errors match domain.ErrValidation for bad input, grading.ErrNotConfigured
// or grading.ErrGenerationFailed for completion failures, and
// ErrMalformedOutput when the model output cannot be parsed.
func (e *Evaluator) Evaluate(ctx context.Context, scenario *domain.Scenario, sessionID string, messages []domain.Message) (*domain.Evaluation, error) {
	switch {
	case strings.TrimSpace(sessionID) == "":
		return nil, domain.Invalidf("session id is required")
	case scenario == nil || strings.TrimSpace(scenario.ID) == "":
		return nil, domain.Invalidf("scenario is required")
	case len(scenario.Criteria) == 0:
		return nil, domain.Invalidf("scenario %q has no criteria", scenario.ID)
	case len(messages) == 0:
		return nil, domain.Invalidf("transcript is empty")
	}

	p := prompt.BuildGrading(scenario, messages)

	start := time.Now()
	raw, err := e.gen.Generate(ctx, grading.Request{
		SystemInstruction: p.SystemInstruction,
		UserContent:       p.UserContent,
		Temperature:       e.temperature,
		MaxOutputTokens:   e.maxTokens,
	})
	e.metrics.GradingObserved(time.Since(start))
	if err != nil {
		outcome := metrics.OutcomeTransport
		if errors.Is(err, grading.ErrNotConfigured) {
			outcome = metrics.OutcomeConfig
		}
		e.metrics.EvaluationFailed(outcome)
		e.logger.Warn("Grading request failed",
			"session_id", sessionID,
			"scenario_id", scenario.ID,
			"error", err,
		)
		return nil, err
	}

	extracted, err := Extract(raw)
	if err != nil {
		e.metrics.EvaluationFailed(metrics.OutcomeExtraction)
		e.logger.Warn("Could not parse grading output",
			"session_id", sessionID,
			"scenario_id", scenario.ID,
			"response_len", len(raw),
			"error", err,
		)
		return nil, err
	}

	result, report := Normalize(sessionID, scenario, extracted)
	if len(report.Unknown) > 0 || len(report.Duplicates) > 0 {
		e.logger.Info("Dropped categories from grading output",
			"session_id", sessionID,
			"unknown", report.Unknown,
			"duplicates", report.Duplicates,
		)
	}

	e.metrics.EvaluationFinished(result.OverallScore, result.Passing, len(report.Backfilled))
	e.logger.Info("Evaluation finished",
		"session_id", sessionID,
		"scenario_id", scenario.ID,
		"overall_score", result.OverallScore,
		"passing", result.Passing,
		"backfilled", len(report.Backfilled),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}
