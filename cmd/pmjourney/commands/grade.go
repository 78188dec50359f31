package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ts3486/pm-journey-sub000/internal/domain"
)

func newGradeCommand(a *app) *cobra.Command {
	var scenarioID, sessionID string

	cmd := &cobra.Command{
		Use:   "grade TRANSCRIPT",
		Short: "Grade a saved transcript without a server",
		Long: `Grade a transcript file against a scenario's rubric.

The file holds a JSON array of messages, or an object with a "messages" array,
in the same shape the API returns. Use "-" to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if scenarioID == "" {
				return domain.Invalidf("--scenario is required")
			}
			cat, err := a.catalog()
			if err != nil {
				return err
			}
			scenario, err := cat.Lookup(scenarioID)
			if err != nil {
				return err
			}

			var data []byte
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read transcript: %w", err)
			}
			messages, err := parseTranscript(data)
			if err != nil {
				return err
			}

			eval, err := a.evaluator(nil).Evaluate(cmd.Context(), scenario, sessionID, messages)
			if err != nil {
				return err
			}
			return a.showEvaluation(cmd.OutOrStdout(), eval)
		},
	}

	cmd.Flags().StringVarP(&scenarioID, "scenario", "s", "", "Scenario whose rubric to grade against")
	cmd.Flags().StringVar(&sessionID, "session-id", "local", "Session id recorded in the evaluation")
	return cmd
}

// parseTranscript accepts either a bare message array or {"messages": [...]}.
func parseTranscript(data []byte) ([]domain.Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, domain.Invalidf("transcript is empty")
	}

	var messages []domain.Message
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &messages); err != nil {
			return nil, domain.Invalidf("transcript is not a message array: %v", err)
		}
	} else {
		var wrapped struct {
			Messages []domain.Message `json:"messages"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, domain.Invalidf("transcript is not valid JSON: %v", err)
		}
		messages = wrapped.Messages
	}

	for i, m := range messages {
		if !m.Role.Valid() {
			return nil, domain.Invalidf("message %d has unknown role %q", i, m.Role)
		}
	}
	return messages, nil
}
