package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ts3486/pm-journey-sub000/internal/domain"
)

func TestDefaultCatalogLoads(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	s, err := c.Lookup("stakeholder-kickoff")
	require.NoError(t, err)
	assert.Len(t, s.Criteria, 4)
	assert.Equal(t, 100, s.TotalWeight())
	assert.Equal(t, "problem-framing", s.Criteria[0].ID)
	assert.NotEmpty(t, s.Criteria[0].ScoringGuide.NeedsImprovement)
	assert.NotEmpty(t, s.KickoffText)
	assert.Len(t, s.Missions, 3)

	p, err := c.Lookup("prioritization-review")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultPassingScore, p.PassingThreshold())
}

func TestLookupUnknownScenario(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	_, err = c.Lookup("nope")
	assert.True(t, errors.Is(err, domain.ErrScenarioNotFound))
}

func TestLookupReturnsCopy(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	s, err := c.Lookup("stakeholder-kickoff")
	require.NoError(t, err)
	s.Criteria[0].Name = "mutated"

	again, err := c.Lookup("stakeholder-kickoff")
	require.NoError(t, err)
	assert.Equal(t, "Problem framing", again.Criteria[0].Name)
}

func TestNewRejectsInvalidScenarios(t *testing.T) {
	valid := domain.Scenario{
		ID:       "s",
		Title:    "S",
		Criteria: []domain.RatingCriterion{{ID: "c1", Weight: 50}},
	}

	tests := []struct {
		name   string
		mutate func(s *domain.Scenario)
	}{
		{"empty id", func(s *domain.Scenario) { s.ID = "" }},
		{"no criteria", func(s *domain.Scenario) { s.Criteria = nil }},
		{"weight too high", func(s *domain.Scenario) { s.Criteria[0].Weight = 101 }},
		{"duplicate criterion", func(s *domain.Scenario) {
			s.Criteria = append(s.Criteria, domain.RatingCriterion{ID: "c1"})
		}},
		{"passing out of range", func(s *domain.Scenario) { s.PassingScore = 120 }},
		{"duplicate mission", func(s *domain.Scenario) {
			s.Missions = []domain.Mission{{ID: "m"}, {ID: "m"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			s.Criteria = append([]domain.RatingCriterion(nil), valid.Criteria...)
			tt.mutate(&s)
			_, err := New([]domain.Scenario{s})
			assert.Error(t, err)
		})
	}

	_, err := New([]domain.Scenario{valid, valid})
	assert.Error(t, err, "duplicate scenario ids must be rejected")
}

const fileCatalog = `
scenarios:
  - id: one
    title: One
    criteria:
      - id: c1
        name: Clarity
        weight: 100
`

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fileCatalog), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, c.IDs())
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fileCatalog), 0o644))

	c, err := Load(path)
	require.NoError(t, err)

	w, err := NewWatcher(c, path, nil)
	require.NoError(t, err)
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	updated := fileCatalog + `
  - id: two
    title: Two
    criteria:
      - id: c1
        name: Clarity
        weight: 100
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	// A write may surface as several events; an early reload can see a
	// truncated file and fail, so wait for the catalog to converge.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-w.Reloads():
			if _, err := c.Lookup("two"); err == nil {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for catalog reload")
		}
	}
}
