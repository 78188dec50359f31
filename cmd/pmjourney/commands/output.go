package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ts3486/pm-journey-sub000/internal/domain"
	"github.com/ts3486/pm-journey-sub000/internal/session"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printMessage(w io.Writer, msg domain.Message) {
	fmt.Fprintf(w, "[%s] %s\n", msg.Role, strings.TrimSpace(msg.Content))
}

func printState(w io.Writer, st *session.State) {
	sess := st.Session
	title := sess.ScenarioID
	if st.Scenario != nil {
		title = fmt.Sprintf("%s (%s)", st.Scenario.Title, st.Scenario.ID)
	}
	fmt.Fprintf(w, "Scenario: %s\n", title)
	fmt.Fprintf(w, "Session:  %s\n", sess.ID)
	fmt.Fprintf(w, "Status:   %s\n", sess.Status)
	fmt.Fprintf(w, "Messages: %d\n", len(st.Messages))
	fmt.Fprintf(w, "Progress: kickoff=%t engaged=%t replied=%t missions=%t\n",
		sess.Progress.KickoffSent,
		sess.Progress.LearnerEngaged,
		sess.Progress.AgentResponded,
		sess.Progress.MissionsComplete,
	)
	printMissions(w, st)
	if st.Evaluation != nil {
		fmt.Fprintln(w)
		printEvaluation(w, st.Evaluation)
	}
}

func printMissions(w io.Writer, st *session.State) {
	if st.Scenario == nil || len(st.Scenario.Missions) == 0 {
		return
	}
	fmt.Fprintln(w, "Missions:")
	for _, m := range st.Scenario.Missions {
		mark := " "
		if st.Session.MissionCompleted(m.ID) {
			mark = "x"
		}
		fmt.Fprintf(w, "  [%s] %-20s %s\n", mark, m.ID, m.Title)
	}
}

func printEvaluation(w io.Writer, eval *domain.Evaluation) {
	verdict := "not passing"
	if eval.Passing {
		verdict = "passing"
	}
	fmt.Fprintf(w, "Overall: %d (%s)\n", eval.OverallScore, verdict)
	for _, c := range eval.Categories {
		fmt.Fprintf(w, "  %-24s %3d  weight %d\n", c.Name, c.Score, c.Weight)
		if c.Feedback != "" {
			fmt.Fprintf(w, "    %s\n", c.Feedback)
		}
	}
	if eval.Summary != "" {
		fmt.Fprintf(w, "Summary: %s\n", eval.Summary)
	}
	if eval.ImprovementAdvice != "" {
		fmt.Fprintf(w, "Advice:  %s\n", eval.ImprovementAdvice)
	}
}
