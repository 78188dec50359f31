package evaluation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// ErrMalformedOutput matches every ExtractionError.
var ErrMalformedOutput = errors.New("could not parse evaluation")

// ExtractionError reports that no strategy recovered a structurally valid
// evaluation from the model output.
type ExtractionError struct {
	// Tried lists the strategies that produced a candidate, in order.
	Tried []string
	err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s (tried %s): %v", ErrMalformedOutput, strings.Join(e.Tried, ", "), e.err)
}

func (e *ExtractionError) Unwrap() error {
	return e.err
}

func (e *ExtractionError) Is(target error) bool {
	return target == ErrMalformedOutput
}

// RawCategory is one category as emitted by the model. Only the fields the
// normalizer trusts are decoded; echoed names and weights are ignored.
type RawCategory struct {
	CriterionID string   `json:"criterionId"`
	Score       *float64 `json:"score"`
	Feedback    string   `json:"feedback"`
	Evidence    []string `json:"evidence"`
}

// RawEvaluation is the structured payload recovered from model output.
type RawEvaluation struct {
	Categories        []RawCategory `json:"categories"`
	Summary           string        `json:"summary"`
	ImprovementAdvice string        `json:"improvementAdvice"`
}

// strategy proposes a parse candidate from raw text. ok is false when the
// strategy does not apply to the input.
type strategy struct {
	name      string
	candidate func(raw string) (string, bool)
}

// fencePattern matches the first fenced code block, with or without a language tag.
var fencePattern = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \t]*\\r?\\n?(.*?)```")

var strategies = []strategy{
	{name: "fenced-block", candidate: fencedBlock},
	{name: "brace-span", candidate: braceSpan},
	{name: "raw-text", candidate: rawText},
}

func fencedBlock(raw string) (string, bool) {
	m := fencePattern.FindStringSubmatch(raw)
	if len(m) < 2 {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

func braceSpan(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return "", false
	}
	return raw[start : end+1], true
}

func rawText(raw string) (string, bool) {
	return raw, true
}

// Extract recovers an evaluation payload from model output. Strategies are
// tried in order (fenced block, outermost brace span, raw text) and the first
// candidate that strictly decodes wins. Extract is deterministic.
func Extract(raw string) (*RawEvaluation, error) {
	var (
		tried   []string
		lastErr error
	)
	for _, s := range strategies {
		candidate, ok := s.candidate(raw)
		if !ok {
			continue
		}
		tried = append(tried, s.name)
		parsed, err := decodeStrict(candidate)
		if err == nil {
			return parsed, nil
		}
		lastErr = fmt.Errorf("%s: %w", s.name, err)
	}
	return nil, &ExtractionError{Tried: tried, err: lastErr}
}

func decodeStrict(candidate string) (*RawEvaluation, error) {
	var envelope struct {
		Categories        *[]RawCategory `json:"categories"`
		Summary           string         `json:"summary"`
		ImprovementAdvice string         `json:"improvementAdvice"`
	}

	dec := json.NewDecoder(strings.NewReader(candidate))
	if err := dec.Decode(&envelope); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON object")
	}
	if envelope.Categories == nil {
		return nil, errors.New("missing categories array")
	}

	return &RawEvaluation{
		Categories:        *envelope.Categories,
		Summary:           envelope.Summary,
		ImprovementAdvice: envelope.ImprovementAdvice,
	}, nil
}
