package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ts3486/pm-journey-sub000/internal/domain"
	"github.com/ts3486/pm-journey-sub000/internal/pointer"
	"github.com/ts3486/pm-journey-sub000/internal/remote"
	"github.com/ts3486/pm-journey-sub000/internal/session"
)

var errNothingToResume = errors.New("no session to resume; run \"pmjourney practice start SCENARIO\" first")

// practiceEnv is the per-invocation client side of a practice session.
type practiceEnv struct {
	client  *remote.Client
	manager *session.Manager
}

func (a *app) practiceEnv(ctx context.Context) (*practiceEnv, error) {
	cat, err := a.catalog()
	if err != nil {
		return nil, err
	}
	pointers := pointer.NewFileStore(a.cfg.Client.PointerPath)
	a.logger.Debug("Using pointer file", "path", pointers.Path(), "server", a.cfg.Client.ServerURL)
	learnerID, err := a.learnerID(ctx, pointers)
	if err != nil {
		return nil, err
	}

	client := remote.New(a.cfg.Client.ServerURL, learnerID, remote.WithLogger(a.logger))
	mgr := session.NewManager(client, cat, pointers, a.evaluator(nil), session.WithLogger(a.logger))
	return &practiceEnv{client: client, manager: mgr}, nil
}

// resume loads the pointed-to session for scenarioID, or the latest one.
func (e *practiceEnv) resume(ctx context.Context, scenarioID string) (*session.State, error) {
	st, err := e.manager.Resume(ctx, scenarioID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errNothingToResume
	}
	return st, nil
}

func newPracticeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "practice",
		Short: "Start, continue and evaluate practice sessions",
		Long: `Practice commands talk to a running pm-journey server (PMJ_SERVER_URL).

The session for each scenario is remembered on this device, so "say",
"status" and "evaluate" continue where the last command left off.`,
	}

	cmd.AddCommand(newPracticeStartCommand(a))
	cmd.AddCommand(newPracticeResumeCommand(a))
	cmd.AddCommand(newPracticeSayCommand(a))
	cmd.AddCommand(newPracticeEvaluateCommand(a))
	cmd.AddCommand(newPracticeResetCommand(a))
	cmd.AddCommand(newPracticeStatusCommand(a))
	cmd.AddCommand(newPracticeChatCommand(a))
	return cmd
}

func newPracticeStartCommand(a *app) *cobra.Command {
	var discipline, kickoff string

	cmd := &cobra.Command{
		Use:   "start SCENARIO",
		Short: "Start a new session for a scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := a.practiceEnv(ctx)
			if err != nil {
				return err
			}
			st, err := env.manager.Start(ctx, args[0], discipline, kickoff)
			if err != nil {
				return err
			}
			return a.showState(cmd.OutOrStdout(), st, true)
		},
	}

	cmd.Flags().StringVar(&discipline, "discipline", "", "Learner discipline, e.g. engineering or design")
	cmd.Flags().StringVar(&kickoff, "kickoff", "", "Opening text (defaults to the scenario's own)")
	return cmd
}

func newPracticeResumeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resume [SCENARIO]",
		Short: "Show the conversation of the remembered session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := a.practiceEnv(ctx)
			if err != nil {
				return err
			}
			st, err := env.resume(ctx, firstArg(args))
			if err != nil {
				return err
			}
			return a.showState(cmd.OutOrStdout(), st, true)
		},
	}
}

func newPracticeSayCommand(a *app) *cobra.Command {
	var scenarioID string
	var complete, undo []string

	cmd := &cobra.Command{
		Use:   "say TEXT...",
		Short: "Send a message to the counterpart",
		Long: `Send a message in the remembered session and print the counterpart's reply.

--complete and --undo tick missions off (or back on) before the message is sent.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := a.practiceEnv(ctx)
			if err != nil {
				return err
			}
			st, err := env.resume(ctx, scenarioID)
			if err != nil {
				return err
			}
			if err := toggleMissions(env.manager, complete, undo); err != nil {
				return err
			}

			before := len(st.Messages)
			st, err = env.manager.SendMessage(ctx, domain.Message{
				Role:    domain.RoleUser,
				Content: strings.Join(args, " "),
			})
			if err != nil {
				return err
			}
			return a.showNew(cmd.OutOrStdout(), st, before)
		},
	}

	cmd.Flags().StringVarP(&scenarioID, "scenario", "s", "", "Scenario whose session to use (defaults to the latest)")
	cmd.Flags().StringArrayVar(&complete, "complete", nil, "Mark a mission completed (repeatable)")
	cmd.Flags().StringArrayVar(&undo, "undo", nil, "Mark a mission not completed (repeatable)")
	return cmd
}

func newPracticeEvaluateCommand(a *app) *cobra.Command {
	var scenarioID string

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Grade the remembered session and close it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			env, err := a.practiceEnv(ctx)
			if err != nil {
				return err
			}
			st, err := env.resume(ctx, scenarioID)
			if err != nil {
				return err
			}
			if st.Evaluation != nil {
				return a.showEvaluation(cmd.OutOrStdout(), st.Evaluation)
			}

			st, err = env.manager.Evaluate(ctx, env.offline(ctx))
			if err != nil {
				return err
			}
			return a.showEvaluation(cmd.OutOrStdout(), st.Evaluation)
		},
	}

	cmd.Flags().StringVarP(&scenarioID, "scenario", "s", "", "Scenario whose session to grade (defaults to the latest)")
	return cmd
}

func newPracticeResetCommand(a *app) *cobra.Command {
	var scenarioID string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget the remembered session so the next start is fresh",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			env, err := a.practiceEnv(ctx)
			if err != nil {
				return err
			}

			sessionID := ""
			st, err := env.manager.Resume(ctx, scenarioID)
			if err != nil {
				return err
			}
			if st != nil {
				sessionID = st.Session.ID
				scenarioID = st.Session.ScenarioID
			}
			if scenarioID == "" {
				return errNothingToResume
			}
			if err := env.manager.Reset(ctx, sessionID, scenarioID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Forgot session for %s\n", scenarioID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&scenarioID, "scenario", "s", "", "Scenario to reset (defaults to the latest session's)")
	return cmd
}

func newPracticeStatusCommand(a *app) *cobra.Command {
	var scenarioID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show progress and missions of the remembered session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			env, err := a.practiceEnv(ctx)
			if err != nil {
				return err
			}
			st, err := env.resume(ctx, scenarioID)
			if err != nil {
				return err
			}
			return a.showState(cmd.OutOrStdout(), st, false)
		},
	}

	cmd.Flags().StringVarP(&scenarioID, "scenario", "s", "", "Scenario to show (defaults to the latest)")
	return cmd
}

func newPracticeChatCommand(a *app) *cobra.Command {
	var discipline string

	cmd := &cobra.Command{
		Use:   "chat [SCENARIO]",
		Short: "Practice interactively",
		Long: `Open an interactive conversation. The remembered session for the scenario
is continued, or a new one is started.

Commands: /missions, /done ID, /undo ID, /status, /evaluate, /quit`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := a.practiceEnv(ctx)
			if err != nil {
				return err
			}
			scenarioID := firstArg(args)
			out := cmd.OutOrStdout()

			st, err := env.manager.Resume(ctx, scenarioID)
			if err != nil {
				return err
			}
			if st == nil || !st.Session.IsActive() {
				if scenarioID == "" {
					return errNothingToResume
				}
				if st, err = env.manager.Start(ctx, scenarioID, discipline, ""); err != nil {
					return err
				}
			}
			for _, msg := range st.Messages {
				printMessage(out, msg)
			}
			return a.chat(ctx, env, cmd.InOrStdin(), out)
		},
	}

	cmd.Flags().StringVar(&discipline, "discipline", "", "Learner discipline for a new session")
	return cmd
}

func (a *app) chat(ctx context.Context, env *practiceEnv, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		done, err := a.chatLine(ctx, env, line, out)
		if err != nil {
			if errors.Is(err, session.ErrNoActiveSession) || errors.Is(err, domain.ErrSessionClosed) {
				return err
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
		if done {
			return nil
		}
		fmt.Fprint(out, "> ")
	}
	return scanner.Err()
}

// chatLine handles one line of the chat loop and reports whether the loop
// should end.
func (a *app) chatLine(ctx context.Context, env *practiceEnv, line string, out io.Writer) (bool, error) {
	mgr := env.manager
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		st := mgr.Current()
		before := len(st.Messages)
		st, err := mgr.SendMessage(ctx, domain.Message{Role: domain.RoleUser, Content: line})
		if err != nil {
			return false, err
		}
		return false, a.showNew(out, st, before)
	}

	command, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch command {
	case "/quit", "/exit":
		return true, nil
	case "/missions":
		printMissions(out, mgr.Current())
	case "/status":
		printState(out, mgr.Current())
	case "/done", "/undo":
		if arg == "" {
			return false, domain.Invalidf("%s needs a mission id", command)
		}
		st, err := mgr.ToggleMission(arg, command == "/done")
		if err != nil {
			return false, err
		}
		printMissions(out, st)
	case "/evaluate":
		st, err := mgr.Evaluate(ctx, env.offline(ctx))
		if err != nil {
			return false, err
		}
		printEvaluation(out, st.Evaluation)
		return true, nil
	default:
		return false, domain.Invalidf("unknown command %s", command)
	}
	return false, nil
}

// offline reports whether the server cannot be reached right now.
func (e *practiceEnv) offline(ctx context.Context) bool {
	return errors.Is(e.client.Ping(ctx), remote.ErrUnavailable)
}

func toggleMissions(mgr *session.Manager, complete, undo []string) error {
	for _, id := range complete {
		if _, err := mgr.ToggleMission(id, true); err != nil {
			return err
		}
	}
	for _, id := range undo {
		if _, err := mgr.ToggleMission(id, false); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) showState(w io.Writer, st *session.State, transcript bool) error {
	if a.jsonOut {
		return writeJSON(w, st)
	}
	printState(w, st)
	if transcript && len(st.Messages) > 0 {
		fmt.Fprintln(w)
		for _, msg := range st.Messages {
			printMessage(w, msg)
		}
	}
	return nil
}

// showNew prints the messages added after the first before.
func (a *app) showNew(w io.Writer, st *session.State, before int) error {
	if before > len(st.Messages) {
		before = len(st.Messages)
	}
	added := st.Messages[before:]
	if a.jsonOut {
		return writeJSON(w, added)
	}
	for _, msg := range added {
		if msg.Role == domain.RoleUser {
			continue
		}
		printMessage(w, msg)
	}
	return nil
}

func (a *app) showEvaluation(w io.Writer, eval *domain.Evaluation) error {
	if a.jsonOut {
		return writeJSON(w, eval)
	}
	printEvaluation(w, eval)
	return nil
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
