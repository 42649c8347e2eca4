/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the bank interest server.
  Handles configuration, dependency injection, and graceful shutdown.

COMMANDS:
  run      Start the HTTP API and the payout scheduler
  version  Print the version

STARTUP SEQUENCE:
  1. Load configuration (config.yaml, BANK_* env, flags)
  2. Initialize logger
  3. Open SQLite store
  4. Build global defaults, presence tracker and metrics
  5. Start the service: load banks, schedule payout timers
  6. Serve HTTP until SIGINT/SIGTERM

FLAGS:
  --config   Config file (default ./config.yaml if present)
  --port     HTTP server port (http.port)
  --db       SQLite database path (database.path), ":memory:" for in-memory

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Cancel payout timers; a running batch finishes its current account
  4. Close database connection

EXAMPLES:
  ./server run --db=./data/bank.db
  BANK_HTTP_PORT=3000 ./server run
  BANK_PRESENCE_TTL=10m ./server run --config=./config.yaml

SEE ALSO:
  - internal/config/config.go: Configuration keys
  - api/server.go: Router configuration
  - service/service.go: Scheduler wiring
*/
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/warp/bank-interest/api"
	"github.com/warp/bank-interest/bank"
	"github.com/warp/bank-interest/internal/config"
	"github.com/warp/bank-interest/payout"
	"github.com/warp/bank-interest/pkg/logger"
	"github.com/warp/bank-interest/pkg/logger/slogx"
	"github.com/warp/bank-interest/service"
	"github.com/warp/bank-interest/store/sqlite"
	"golang.org/x/sync/errgroup"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		logger.Error("Command failed", slogx.Error(err))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "server",
		Short:         "Bank interest scheduling server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file, E.g. `./config.yaml`")

	cobra.OnInitialize(func() {
		conf := config.Parse(configFile)
		if err := logger.Init(conf.Logger); err != nil {
			logger.Fatal("Failed to initialize logger", slogx.Error(err), slogx.Any("config", conf.Logger))
		}
	})

	root.AddCommand(newRunCommand(), newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show server version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}

func newRunCommand() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the HTTP API and payout scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), config.Load())
		},
	}

	flags := runCmd.Flags()
	flags.Int("port", 8080, "HTTP server port")
	flags.String("db", "bank.db", "SQLite database path")

	config.BindPFlag("http.port", flags.Lookup("port"))
	config.BindPFlag("database.path", flags.Lookup("db"))
	return runCmd
}

func run(ctx context.Context, conf config.Config) error {
	store, err := sqlite.New(conf.Database.Path)
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	defer store.Close()

	defaults, err := bank.NewDefaults(conf.Interest)
	if err != nil {
		return errors.Wrap(err, "interest defaults")
	}

	presence := payout.NewTracker(conf.Presence.TTL)
	svc := service.New(ctx, store, defaults, presence,
		service.WithMetrics(payout.NewMetrics(conf.Payout.Namespace, nil)),
	)
	if err := svc.Start(ctx); err != nil {
		return errors.Wrap(err, "start service")
	}
	defer svc.Close()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", conf.HTTP.Port),
		Handler:      api.NewRouter(api.NewHandler(svc), api.WithAllowedOrigins(conf.HTTP.AllowedOrigins...)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		presence.Start()
		return nil
	})

	g.Go(func() error {
		logger.InfoContext(gctx, "Server starting", slog.Int("port", conf.HTTP.Port), slog.String("db", conf.Database.Path))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.InfoContext(ctx, "Shutting down server...")
		presence.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "server forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.InfoContext(ctx, "Server stopped")
	return nil
}
