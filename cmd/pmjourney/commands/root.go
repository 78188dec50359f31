// Package commands implements the pmjourney command line.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ts3486/pm-journey-sub000/internal/catalog"
	"github.com/ts3486/pm-journey-sub000/internal/config"
	"github.com/ts3486/pm-journey-sub000/internal/evaluation"
	"github.com/ts3486/pm-journey-sub000/internal/grading"
	"github.com/ts3486/pm-journey-sub000/internal/identity"
	"github.com/ts3486/pm-journey-sub000/internal/metrics"
	"github.com/ts3486/pm-journey-sub000/internal/pointer"
)

// app carries what every command needs once configuration is loaded.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	jsonOut bool
	verbose bool
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "pmjourney",
		Short: "Practice product-management conversations and get graded",
		Long: `pmjourney runs role-play practice sessions against an AI counterpart
and grades the transcript against a weighted rubric.

Run "pmjourney serve" to start the API, then use "pmjourney practice" to
start, continue and evaluate sessions.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd.ErrOrStderr())
		},
	}

	rootCmd.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "Print results as JSON")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log at debug level")

	rootCmd.AddCommand(newServeCommand(a))
	rootCmd.AddCommand(newScenariosCommand(a))
	rootCmd.AddCommand(newPracticeCommand(a))
	rootCmd.AddCommand(newGradeCommand(a))

	return rootCmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) load(stderr io.Writer) error {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.logger)
	return nil
}

func (a *app) catalog() (*catalog.Catalog, error) {
	if a.cfg.CatalogPath == "" {
		return catalog.Default()
	}
	return catalog.Load(a.cfg.CatalogPath)
}

func (a *app) gradingClient() *grading.Client {
	return grading.NewClient(grading.Config{
		Endpoint: a.cfg.Grading.Endpoint,
		APIKey:   a.cfg.Grading.APIKey,
		Model:    a.cfg.Grading.Model,
		Timeout:  a.cfg.Grading.Timeout,
	}, grading.WithLogger(a.logger))
}

func (a *app) evaluator(m *metrics.Metrics) *evaluation.Evaluator {
	return evaluation.New(a.gradingClient(),
		evaluation.WithTemperature(a.cfg.Grading.Temperature),
		evaluation.WithMaxOutputTokens(a.cfg.Grading.MaxOutputTokens),
		evaluation.WithLogger(a.logger),
		evaluation.WithMetrics(m),
	)
}

// learnerID returns the configured learner id, or the one stored on this
// device, minting and storing one on first use.
func (a *app) learnerID(ctx context.Context, pointers pointer.Store) (string, error) {
	if id := a.cfg.Client.LearnerID; id != "" {
		if !identity.ValidLearnerID(id) {
			return "", fmt.Errorf("PMJ_LEARNER_ID %q is not a valid learner id", id)
		}
		return id, nil
	}

	id, ok, err := pointers.Get(ctx, pointer.LearnerKey)
	if err != nil {
		return "", fmt.Errorf("read learner id: %w", err)
	}
	if ok && identity.ValidLearnerID(id) {
		return id, nil
	}

	id, err = identity.NewLearnerID()
	if err != nil {
		return "", err
	}
	if err := pointers.Set(ctx, pointer.LearnerKey, id); err != nil {
		return "", fmt.Errorf("store learner id: %w", err)
	}
	a.logger.Debug("Generated learner id", "learner_id", id)
	return id, nil
}
