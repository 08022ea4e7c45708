/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the lease engine HTTP server, or runs a single
  overdue sweep from the command line. Handles configuration, dependency
  injection, and graceful shutdown.

COMMANDS:
  serve   Start the HTTP API and the periodic overdue sweep
  sweep   Run one overdue sweep and exit (cron-friendly)

STARTUP SEQUENCE (serve):
  1. Load .env and LEASE_* variables, apply flags on top
  2. Open the configured store
  3. Build the event dispatcher (log or SQS, plus catalog release)
  4. Create the engine, the API handler and the router
  5. Start the sweep scheduler and the server, shut down gracefully

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweep scheduler
  4. Close the store

EXAMPLES:
  # Run with a file database
  ./server serve --store=sqlite --db=./data/lease.db

  # Run with everything in memory
  ./server serve --store=memory

  # One-off sweep against DynamoDB
  LEASE_STORE=dynamodb ./server sweep

SEE ALSO:
  - config/config.go: Settings and dependency construction
  - api/server.go: Router configuration
  - cmd/sweep_lambda: The sweep as a scheduled Lambda
*/
package main

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
	"github.com/warp/lease-engine/api"
	"github.com/warp/lease-engine/catalog"
	"github.com/warp/lease-engine/config"
	"github.com/warp/lease-engine/directory"
	"github.com/warp/lease-engine/engine"
	"github.com/warp/lease-engine/notify"
	"github.com/warp/lease-engine/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:           "server",
		Short:         "Contract lifecycle and installment ledger engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Flags default to the environment, so a flag always wins.
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.Store, "store", cfg.Store, "store backend: memory, sqlite, bolt, dynamodb")
	flags.StringVar(&cfg.DBPath, "db", cfg.DBPath, "database file for sqlite and bolt")
	flags.StringVar(&cfg.DynamoTablePrefix, "table-prefix", cfg.DynamoTablePrefix, "DynamoDB table name prefix")
	flags.StringVar(&cfg.Events, "events", cfg.Events, "event sink: log, sqs")
	flags.StringVar(&cfg.SQSQueueURL, "sqs-queue-url", cfg.SQSQueueURL, "SQS queue for events")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn, error")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text, json")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
	serveCmd.Flags().IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	serveCmd.Flags().DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "overdue sweep interval, 0 to disable")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one overdue sweep and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return sweep(cmd.Context(), cfg)
		},
	}

	rootCmd.AddCommand(serveCmd, sweepCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is everything both commands need.
type app struct {
	logger *slog.Logger
	store  store.Store
	units  *catalog.Memory
	engine *engine.Engine
}

func build(ctx context.Context, cfg config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := cfg.Logger(os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	deps := config.NewDeps(cfg)
	s, err := deps.OpenStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store, err)
	}

	units := catalog.NewMemory()
	dispatcher, err := deps.Dispatcher(ctx, logger, notify.CatalogRelease{Units: units})
	if err != nil {
		s.Close()
		return nil, err
	}

	eng := engine.New(s, units, directory.Open(),
		engine.WithDispatcher(dispatcher),
		engine.WithLogger(logger),
	)
	return &app{logger: logger, store: s, units: units, engine: eng}, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.store.Close()

	handler := api.NewHandler(a.engine, a.units, a.logger)
	router := api.NewRouter(handler, a.logger)

	scheduler := api.NewSweepScheduler(a.engine, a.logger)
	scheduler.Interval = cfg.SweepInterval
	scheduler.Enabled = cfg.SweepInterval > 0
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server starting",
			slog.Int("port", cfg.Port),
			slog.String("store", cfg.Store),
			slog.String("events", cfg.Events),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	a.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	a.logger.Info("server stopped")
	return nil
}

func sweep(ctx context.Context, cfg config.Config) error {
	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.store.Close()

	res, err := a.engine.SweepOverdue(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("scanned=%d bookings=%d installments=%d conflicts=%d\n",
		res.Scanned, res.Bookings, res.Installments, res.Conflicts)
	return nil
}
