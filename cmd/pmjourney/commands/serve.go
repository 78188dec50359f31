package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ts3486/pm-journey-sub000/internal/api"
	"github.com/ts3486/pm-journey-sub000/internal/catalog"
	"github.com/ts3486/pm-journey-sub000/internal/live"
	"github.com/ts3486/pm-journey-sub000/internal/metrics"
	"github.com/ts3486/pm-journey-sub000/internal/practice"
	"github.com/ts3486/pm-journey-sub000/internal/store"
	"github.com/ts3486/pm-journey-sub000/internal/transcript"
)

func newServeCommand(a *app) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pm-journey API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port != "" {
				a.cfg.Port = port
			}
			return a.serve(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Listen port (overrides PORT)")
	return cmd
}

func (a *app) serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg := a.cfg
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	logger.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			logger.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(parent); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	logger.Info("Database connected", "path", cfg.DBPath)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := a.catalog()
	if err != nil {
		return err
	}
	logger.Info("Scenario catalog loaded", "scenarios", len(cat.IDs()), "path", cfg.CatalogPath)

	if cfg.CatalogWatch && cfg.CatalogPath != "" {
		watcher, err := catalog.NewWatcher(cat, cfg.CatalogPath, logger)
		if err != nil {
			return err
		}
		go watcher.Run(ctx)
		logger.Info("Watching scenario catalog", "path", cfg.CatalogPath)
	}

	m := metrics.New()
	hub := live.NewHub(logger, m)

	transcripts, err := transcript.New(transcript.Config{
		Enabled:   cfg.Transcript.Enabled,
		Dir:       cfg.Transcript.Dir,
		QueueSize: cfg.Transcript.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize transcript logger: %w", err)
	}
	defer func() {
		if closeErr := transcripts.Close(); closeErr != nil {
			logger.Error("Failed to close transcript logger", "error", closeErr)
		}
		if fl, ok := transcripts.(*transcript.FileLogger); ok {
			logger.Info("Transcript logger closed", "stats", fl.Stats())
		}
	}()

	a.logger = logger
	gen := a.gradingClient()
	if !gen.Configured() {
		logger.Info("Counterpart replies disabled (GRADING_API_KEY not set)")
	}

	svc := practice.NewService(repo, cat,
		practice.WithGenerator(gen, cfg.Grading.ReplyTemperature),
		practice.WithHub(hub),
		practice.WithTranscript(transcripts),
		practice.WithMetrics(m),
		practice.WithLogger(logger),
	)

	router := api.NewRouter(api.RouterConfig{
		Repo:           repo,
		Service:        svc,
		Scenarios:      cat,
		Hub:            hub,
		Metrics:        m,
		AllowedOrigins: cfg.AllowedOrigins(),
		IsDev:          cfg.IsDevelopment(),
		Logger:         logger,
		RequestLogging: true,
	})

	// WebSocket feeds are long-lived, so there is no write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	svc.StartIdleSweeper(ctx, cfg.SessionIdleTTL, cfg.SessionSweepInterval)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	stop()

	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server stopped successfully")
	return nil
}
