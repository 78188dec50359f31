package evaluation

import (
	"math"

	"github.com/ts3486/pm-journey-sub000/internal/domain"
)

// PlaceholderFeedback is used for criteria the model did not score.
const PlaceholderFeedback = "This topic was not sufficiently addressed in the conversation."

// Report describes the repairs Normalize made to the model output.
type Report struct {
	Backfilled []string // criteria scored 0 because the model omitted them
	Unknown    []string // criterion ids the scenario does not define
	Duplicates []string // criterion ids returned more than once
}

// Clamp rounds half away from zero and bounds the result to [0, 100].
// NaN clamps to 0.
func Clamp(x float64) int {
	if math.IsNaN(x) {
		return 0
	}
	r := math.Round(x)
	switch {
	case r < 0:
		return 0
	case r > 100:
		return 100
	}
	return int(r)
}

// OverallScore is the weight-averaged category score, rounded and clamped.
// A zero total weight yields 0.
func OverallScore(categories []domain.EvaluationCategory) int {
	var weighted, total float64
	for _, c := range categories {
		weighted += float64(c.Score) * float64(c.Weight)
		total += float64(c.Weight)
	}
	if total <= 0 {
		return 0
	}
	return Clamp(weighted / total)
}

// Normalize reconciles extracted output with the scenario's rubric. The
// result has exactly one category per criterion, in catalog order, with
// names and weights taken from the catalog and scores clamped to [0, 100].
func Normalize(sessionID string, scenario *domain.Scenario, raw *RawEvaluation) (*domain.Evaluation, Report) {
	var report Report

	known := make(map[string]struct{}, len(scenario.Criteria))
	for _, c := range scenario.Criteria {
		known[c.ID] = struct{}{}
	}

	byID := make(map[string]RawCategory, len(raw.Categories))
	for _, rc := range raw.Categories {
		if _, ok := known[rc.CriterionID]; !ok {
			report.Unknown = append(report.Unknown, rc.CriterionID)
			continue
		}
		if _, dup := byID[rc.CriterionID]; dup {
			report.Duplicates = append(report.Duplicates, rc.CriterionID)
			continue
		}
		byID[rc.CriterionID] = rc
	}

	categories := make([]domain.EvaluationCategory, 0, len(scenario.Criteria))
	for _, criterion := range scenario.Criteria {
		cat := domain.EvaluationCategory{
			CriterionID: criterion.ID,
			Name:        criterion.Name,
			Weight:      criterion.Weight,
			Evidence:    []string{},
		}

		rc, ok := byID[criterion.ID]
		if !ok {
			cat.Feedback = PlaceholderFeedback
			report.Backfilled = append(report.Backfilled, criterion.ID)
			categories = append(categories, cat)
			continue
		}

		if rc.Score != nil {
			cat.Score = Clamp(*rc.Score)
		}
		cat.Feedback = rc.Feedback
		for _, e := range rc.Evidence {
			if e != "" {
				cat.Evidence = append(cat.Evidence, e)
			}
		}
		categories = append(categories, cat)
	}

	overall := OverallScore(categories)
	return &domain.Evaluation{
		SessionID:         sessionID,
		OverallScore:      overall,
		Passing:           overall >= scenario.PassingThreshold(),
		Categories:        categories,
		Summary:           raw.Summary,
		ImprovementAdvice: raw.ImprovementAdvice,
	}, report
}
