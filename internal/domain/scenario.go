package domain

// DefaultPassingScore applies when a scenario does not declare its own threshold.
const DefaultPassingScore = 70

// ScoringGuide describes what each score tier looks like for one criterion.
type ScoringGuide struct {
	Excellent        string `json:"excellent" yaml:"excellent"`
	Good             string `json:"good" yaml:"good"`
	NeedsImprovement string `json:"needsImprovement" yaml:"needs_improvement"`
	Poor             string `json:"poor" yaml:"poor"`
}

// RatingCriterion is one weighted dimension of evaluation.
type RatingCriterion struct {
	ID           string       `json:"id" yaml:"id"`
	Name         string       `json:"name" yaml:"name"`
	Weight       int          `json:"weight" yaml:"weight"`
	Description  string       `json:"description" yaml:"description"`
	ScoringGuide ScoringGuide `json:"scoringGuide" yaml:"scoring_guide"`
}

// Mission is a checklist item the learner can tick off during a session.
type Mission struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// Scenario is a catalog-defined practice exercise.
type Scenario struct {
	ID             string            `json:"id" yaml:"id"`
	Title          string            `json:"title" yaml:"title"`
	Description    string            `json:"description" yaml:"description"`
	ProductSummary string            `json:"productSummary" yaml:"product_summary"`
	Persona        string            `json:"persona,omitempty" yaml:"persona"`
	Criteria       []RatingCriterion `json:"criteria" yaml:"criteria"`
	PassingScore   int               `json:"passingScore" yaml:"passing_score"`
	KickoffText    string            `json:"kickoffText,omitempty" yaml:"kickoff_text"`
	Missions       []Mission         `json:"missions,omitempty" yaml:"missions"`
}

// PassingThreshold returns the scenario's passing score, or DefaultPassingScore if unset.
func (s *Scenario) PassingThreshold() int {
	if s.PassingScore <= 0 {
		return DefaultPassingScore
	}
	return s.PassingScore
}

// TotalWeight returns the sum of all criterion weights.
func (s *Scenario) TotalWeight() int {
	total := 0
	for _, c := range s.Criteria {
		total += c.Weight
	}
	return total
}

// HasMission reports whether the scenario declares a mission with the given ID.
func (s *Scenario) HasMission(id string) bool {
	for _, m := range s.Missions {
		if m.ID == id {
			return true
		}
	}
	return false
}
