// Package catalog provides the read-only scenario catalog.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/ts3486/pm-journey-sub000/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed scenarios.yaml
var defaultScenarios []byte

// Lookup resolves scenarios by ID.
type Lookup interface {
	Lookup(id string) (*domain.Scenario, error)
}

// Catalog is an in-memory scenario catalog safe for concurrent use.
// Replace swaps the whole catalog atomically.
type Catalog struct {
	mu        sync.RWMutex
	scenarios map[string]domain.Scenario
	order     []string
}

type catalogFile struct {
	Scenarios []domain.Scenario `yaml:"scenarios"`
}

// New builds a catalog from the given scenarios after validating them.
func New(scenarios []domain.Scenario) (*Catalog, error) {
	c := &Catalog{}
	if err := c.Replace(scenarios); err != nil {
		return nil, err
	}
	return c, nil
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	scenarios, err := Parse(defaultScenarios)
	if err != nil {
		return nil, fmt.Errorf("parse embedded catalog: %w", err)
	}
	return New(scenarios)
}

// Load reads a YAML catalog file.
func Load(path string) (*Catalog, error) {
	scenarios, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return New(scenarios)
}

func readFile(path string) ([]domain.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	scenarios, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return scenarios, nil
}

// Parse decodes a YAML catalog document.
func Parse(data []byte) ([]domain.Scenario, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f.Scenarios, nil
}

// Replace validates and installs a new set of scenarios.
// On validation failure the current catalog is left untouched.
func (c *Catalog) Replace(scenarios []domain.Scenario) error {
	byID := make(map[string]domain.Scenario, len(scenarios))
	order := make([]string, 0, len(scenarios))
	for _, s := range scenarios {
		if err := validate(&s); err != nil {
			return err
		}
		if _, dup := byID[s.ID]; dup {
			return fmt.Errorf("duplicate scenario id %q", s.ID)
		}
		byID[s.ID] = s
		order = append(order, s.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.scenarios = byID
	c.order = order
	return nil
}

// Lookup returns a copy of the scenario with the given ID.
func (c *Catalog) Lookup(id string) (*domain.Scenario, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.scenarios[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrScenarioNotFound, id)
	}
	return cloneScenario(s), nil
}

// List returns all scenarios in declaration order.
func (c *Catalog) List() []domain.Scenario {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Scenario, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *cloneScenario(c.scenarios[id]))
	}
	return out
}

// IDs returns the sorted scenario IDs.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := append([]string(nil), c.order...)
	sort.Strings(ids)
	return ids
}

func cloneScenario(s domain.Scenario) *domain.Scenario {
	s.Criteria = append([]domain.RatingCriterion(nil), s.Criteria...)
	s.Missions = append([]domain.Mission(nil), s.Missions...)
	return &s
}

func validate(s *domain.Scenario) error {
	if s.ID == "" {
		return fmt.Errorf("scenario id cannot be empty")
	}
	if s.Title == "" {
		return fmt.Errorf("scenario %q: title cannot be empty", s.ID)
	}
	if s.PassingScore < 0 || s.PassingScore > 100 {
		return fmt.Errorf("scenario %q: passing score %d out of range", s.ID, s.PassingScore)
	}
	if len(s.Criteria) == 0 {
		return fmt.Errorf("scenario %q: at least one criterion is required", s.ID)
	}

	criteria := make(map[string]struct{}, len(s.Criteria))
	for _, cr := range s.Criteria {
		if cr.ID == "" {
			return fmt.Errorf("scenario %q: criterion id cannot be empty", s.ID)
		}
		if _, dup := criteria[cr.ID]; dup {
			return fmt.Errorf("scenario %q: duplicate criterion id %q", s.ID, cr.ID)
		}
		if cr.Weight < 0 || cr.Weight > 100 {
			return fmt.Errorf("scenario %q: criterion %q weight %d out of range", s.ID, cr.ID, cr.Weight)
		}
		criteria[cr.ID] = struct{}{}
	}

	missions := make(map[string]struct{}, len(s.Missions))
	for _, m := range s.Missions {
		if m.ID == "" {
			return fmt.Errorf("scenario %q: mission id cannot be empty", s.ID)
		}
		if _, dup := missions[m.ID]; dup {
			return fmt.Errorf("scenario %q: duplicate mission id %q", s.ID, m.ID)
		}
		missions[m.ID] = struct{}{}
	}
	return nil
}
