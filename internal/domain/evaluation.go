package domain

// EvaluationCategory is the finalized score for one rating criterion.
type EvaluationCategory struct {
	CriterionID string   `json:"criterionId"`
	Name        string   `json:"name"`
	Weight      int      `json:"weight"`
	Score       int      `json:"score"`
	Feedback    string   `json:"feedback"`
	Evidence    []string `json:"evidence"`
}

// Evaluation is the complete, weighted score report for a session.
type Evaluation struct {
	SessionID         string               `json:"sessionId"`
	OverallScore      int                  `json:"overallScore"`
	Passing           bool                 `json:"passing"`
	Categories        []EvaluationCategory `json:"categories"`
	Summary           string               `json:"summary"`
	ImprovementAdvice string               `json:"improvementAdvice"`
}

// Clone returns a deep copy of the evaluation.
func (e *Evaluation) Clone() *Evaluation {
	if e == nil {
		return nil
	}
	c := *e
	c.Categories = make([]EvaluationCategory, len(e.Categories))
	for i, cat := range e.Categories {
		cat.Evidence = append([]string{}, cat.Evidence...)
		c.Categories[i] = cat
	}
	return &c
}
