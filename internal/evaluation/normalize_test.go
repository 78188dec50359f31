package evaluation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ts3486/pm-journey-sub000/internal/domain"
)

func score(v float64) *float64 { return &v }

func fourEqualCriteria() *domain.Scenario {
	return &domain.Scenario{
		ID:           "s1",
		PassingScore: 70,
		Criteria: []domain.RatingCriterion{
			{ID: "c1", Name: "One", Weight: 25},
			{ID: "c2", Name: "Two", Weight: 25},
			{ID: "c3", Name: "Three", Weight: 25},
			{ID: "c4", Name: "Four", Weight: 25},
		},
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{-5, 0},
		{0, 0},
		{62.5, 63},
		{62.4, 62},
		{99.5, 100},
		{105, 100},
		{math.Inf(1), 100},
		{math.Inf(-1), 0},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Clamp(tt.in), "Clamp(%v)", tt.in)
	}
}

func TestNormalizeClampsAndAveragesByWeight(t *testing.T) {
	raw := &RawEvaluation{Categories: []RawCategory{
		{CriterionID: "c1", Score: score(80)},
		{CriterionID: "c2", Score: score(70)},
		{CriterionID: "c3", Score: score(-5)},
		{CriterionID: "c4", Score: score(105)},
	}}

	got, report := Normalize("sess-1", fourEqualCriteria(), raw)

	scores := make([]int, 0, len(got.Categories))
	for _, c := range got.Categories {
		scores = append(scores, c.Score)
	}
	assert.Equal(t, []int{80, 70, 0, 100}, scores)
	assert.Equal(t, 63, got.OverallScore)
	assert.False(t, got.Passing)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Empty(t, report.Backfilled)
}

func TestNormalizeBackfillsOmittedCriterion(t *testing.T) {
	scenario := &domain.Scenario{
		ID: "s1",
		Criteria: []domain.RatingCriterion{
			{ID: "a", Name: "A", Weight: 40},
			{ID: "b", Name: "B", Weight: 40},
			{ID: "c", Name: "C", Weight: 20},
		},
	}
	raw := &RawEvaluation{Categories: []RawCategory{
		{CriterionID: "c", Score: score(90), Feedback: "clear", Evidence: []string{"quote"}},
		{CriterionID: "a", Score: score(70), Feedback: "fine"},
	}}

	got, report := Normalize("sess-1", scenario, raw)

	require.Len(t, got.Categories, 3)
	assert.Equal(t, "a", got.Categories[0].CriterionID)
	assert.Equal(t, "b", got.Categories[1].CriterionID)
	assert.Equal(t, "c", got.Categories[2].CriterionID)

	omitted := got.Categories[1]
	assert.Equal(t, 0, omitted.Score)
	assert.Equal(t, PlaceholderFeedback, omitted.Feedback)
	assert.NotNil(t, omitted.Evidence)
	assert.Empty(t, omitted.Evidence)
	assert.Equal(t, []string{"b"}, report.Backfilled)

	// (70*40 + 0*40 + 90*20) / 100 = 46
	assert.Equal(t, 46, got.OverallScore)
	assert.False(t, got.Passing)
}

func TestNormalizeIgnoresModelNamesWeightsAndUnknownIDs(t *testing.T) {
	raw := &RawEvaluation{Categories: []RawCategory{
		{CriterionID: "c1", Score: score(100)},
		{CriterionID: "c1", Score: score(0)},
		{CriterionID: "bogus", Score: score(100)},
		{CriterionID: "c2", Score: score(100)},
		{CriterionID: "c3", Score: score(100)},
		{CriterionID: "c4", Score: nil},
	}}

	got, report := Normalize("sess-1", fourEqualCriteria(), raw)

	assert.Equal(t, "One", got.Categories[0].Name)
	assert.Equal(t, 25, got.Categories[0].Weight)
	assert.Equal(t, 100, got.Categories[0].Score)
	assert.Equal(t, 0, got.Categories[3].Score)
	assert.Equal(t, []string{"bogus"}, report.Unknown)
	assert.Equal(t, []string{"c1"}, report.Duplicates)
	assert.Equal(t, 75, got.OverallScore)
	assert.True(t, got.Passing)
}

func TestNormalizeZeroTotalWeight(t *testing.T) {
	scenario := &domain.Scenario{
		ID:       "s1",
		Criteria: []domain.RatingCriterion{{ID: "c1", Weight: 0}},
	}
	got, _ := Normalize("sess-1", scenario, &RawEvaluation{Categories: []RawCategory{{CriterionID: "c1", Score: score(90)}}})
	assert.Equal(t, 0, got.OverallScore)
	assert.False(t, got.Passing)
}

func TestNormalizePassingAtThreshold(t *testing.T) {
	scenario := &domain.Scenario{
		ID:       "s1",
		Criteria: []domain.RatingCriterion{{ID: "c1", Weight: 10}},
	}
	got, _ := Normalize("sess-1", scenario, &RawEvaluation{Categories: []RawCategory{{CriterionID: "c1", Score: score(69.5)}}})
	assert.Equal(t, 70, got.OverallScore)
	assert.True(t, got.Passing)
}
