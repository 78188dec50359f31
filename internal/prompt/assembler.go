// Package prompt assembles the text blocks sent to the language model.
//
// Every function here is deterministic: identical inputs always render
// identical text.
package prompt

import (
	"fmt"
	"strings"

	"github.com/ts3486/pm-journey-sub000/internal/domain"
)

// TranscriptWindow is the number of most recent messages included in a transcript.
const TranscriptWindow = 30

// OutputSchema is the JSON shape the grader must return.
const OutputSchema = `{
  "categories": [
    {
      "criterionId": "<criterion id exactly as listed>",
      "score": <integer 0-100>,
      "feedback": "<specific feedback for this criterion>",
      "evidence": ["<short quote from the learner>", "..."]
    }
  ],
  "summary": "<two or three sentence overall summary>",
  "improvementAdvice": "<the most important things to practice next>"
}`

const graderPreamble = `You are an experienced product management coach grading a practice conversation.
Score the LEARNER (role USER) only. The AGENT is a role-played counterpart and SYSTEM lines are stage directions.
Grade strictly against the criteria below and quote the learner's own words as evidence.`

const graderRules = `Rules:
- Return one category object for every criterion, using the criterion id exactly as listed.
- Scores are integers from 0 to 100.
- Respond with JSON only, matching this schema:`

// Grading holds the two text blocks of a grading request.
type Grading struct {
	SystemInstruction string
	UserContent       string
}

// BuildGrading renders the grading instructions and the transcript block.
func BuildGrading(scenario *domain.Scenario, messages []domain.Message) Grading {
	return Grading{
		SystemInstruction: GradingInstructions(scenario),
		UserContent:       "Conversation transcript:\n" + Transcript(messages),
	}
}

// GradingInstructions renders the scenario context, every criterion with its
// scoring guide, and the required output schema.
func GradingInstructions(scenario *domain.Scenario) string {
	var b strings.Builder
	b.WriteString(graderPreamble)
	b.WriteString("\n\n")
	writeScenarioContext(&b, scenario)

	b.WriteString("\nEvaluation criteria:\n")
	for i, c := range scenario.Criteria {
		fmt.Fprintf(&b, "\n%d. [%s] %s (weight %d)\n", i+1, c.ID, c.Name, c.Weight)
		if c.Description != "" {
			fmt.Fprintf(&b, "   %s\n", c.Description)
		}
		b.WriteString("   Scoring guide:\n")
		fmt.Fprintf(&b, "   - Excellent (90-100): %s\n", c.ScoringGuide.Excellent)
		fmt.Fprintf(&b, "   - Good (70-89): %s\n", c.ScoringGuide.Good)
		fmt.Fprintf(&b, "   - Needs improvement (40-69): %s\n", c.ScoringGuide.NeedsImprovement)
		fmt.Fprintf(&b, "   - Poor (0-39): %s\n", c.ScoringGuide.Poor)
	}

	b.WriteString("\n")
	b.WriteString(graderRules)
	b.WriteString("\n")
	b.WriteString(OutputSchema)
	b.WriteString("\n")
	return b.String()
}

// Transcript renders the most recent TranscriptWindow messages, oldest first,
// one "[ROLE]: content" line each.
func Transcript(messages []domain.Message) string {
	recent := domain.RecentMessages(messages, TranscriptWindow)
	lines := make([]string, 0, len(recent))
	for _, m := range recent {
		lines = append(lines, fmt.Sprintf("[%s]: %s", strings.ToUpper(string(m.Role)), m.Content))
	}
	return strings.Join(lines, "\n")
}

// BehaviorContext renders the counterpart's persona, the scenario context and
// the learner's mission progress. It travels with every user turn so the
// server can generate an in-character reply.
func BehaviorContext(scenario *domain.Scenario, session *domain.Session) string {
	var b strings.Builder
	if scenario.Persona != "" {
		b.WriteString("Persona:\n")
		b.WriteString(strings.TrimSpace(scenario.Persona))
		b.WriteString("\n\n")
	}
	writeScenarioContext(&b, scenario)

	if len(scenario.Missions) > 0 {
		b.WriteString("\nLearner missions:\n")
		for _, m := range scenario.Missions {
			mark := " "
			if session != nil && session.MissionCompleted(m.ID) {
				mark = "x"
			}
			fmt.Fprintf(&b, "- [%s] %s\n", mark, m.Title)
		}
	}

	if len(scenario.Criteria) > 0 {
		names := make([]string, 0, len(scenario.Criteria))
		for _, c := range scenario.Criteria {
			names = append(names, c.Name)
		}
		fmt.Fprintf(&b, "\nThe learner will be assessed on: %s.\n", strings.Join(names, ", "))
	}
	return b.String()
}

// ReplyPrompt renders the request for the counterpart's next turn.
func ReplyPrompt(behaviorContext string, messages []domain.Message) Grading {
	var sys strings.Builder
	sys.WriteString("You are role-playing the counterpart in a product management practice conversation.\n")
	sys.WriteString("Stay in character, answer in two to five sentences and never grade or coach the learner.\n\n")
	sys.WriteString(strings.TrimSpace(behaviorContext))
	sys.WriteString("\n")

	return Grading{
		SystemInstruction: sys.String(),
		UserContent:       "Conversation so far:\n" + Transcript(messages) + "\n\nWrite the AGENT's next message only.",
	}
}

func writeScenarioContext(b *strings.Builder, scenario *domain.Scenario) {
	fmt.Fprintf(b, "Scenario: %s\n", scenario.Title)
	if scenario.Description != "" {
		fmt.Fprintf(b, "Description: %s\n", strings.TrimSpace(scenario.Description))
	}
	if scenario.ProductSummary != "" {
		fmt.Fprintf(b, "Product: %s\n", strings.TrimSpace(scenario.ProductSummary))
	}
}
