package handlers

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"newsdigest/internal/config"
	"newsdigest/internal/logger"
	"newsdigest/internal/pipeline"
	"newsdigest/internal/scheduler"
	"newsdigest/internal/server"
	"newsdigest/internal/store"

	"github.com/spf13/cobra"
)

// NewServeCmd creates the serve command for starting the HTTP server
func NewServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduler and HTTP API",
		Long: `Start the digest scheduler and the HTTP API in the foreground.

The server provides:
  • The hourly digest schedule (restored from settings on boot)
  • REST API for stats, digests, logs, schedule and recipients
  • Health check and Prometheus /metrics endpoints

Examples:
  # Start server on default port 8080
  newsdigest serve

  # Start on custom port
  newsdigest serve --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(commandContext(cmd), port, host)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (default from config: 8080)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP server host (default from config: 0.0.0.0)")

	return cmd
}

func runServe(ctx context.Context, port int, host string) error {
	log := logger.Get()
	cfg := config.Get()

	serverCfg := cfg.Server
	if port != 0 {
		serverCfg.Port = port
	}
	if host != "" {
		serverCfg.Host = host
	}

	log.Info("Opening store", "driver", cfg.Storage.Driver)
	repo, err := store.Open(ctx, cfg.Storage, store.DefaultSettings(cfg, time.Now()))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer repo.Close()

	builder := pipeline.NewBuilder(cfg).WithStore(repo)
	p, err := builder.Build(ctx)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	sched := scheduler.New(p, repo, scheduler.WithLocation(cfg.Location()))
	if err := sched.Restore(ctx); err != nil {
		return fmt.Errorf("failed to restore schedule: %w", err)
	}

	srv := server.New(repo, sched, serverCfg, server.WithRateLimits(builder.Limiter()))

	serverErrors := make(chan error, 1)
	go func() {
		log.Info(fmt.Sprintf("Server listening on http://%s:%d", serverCfg.Host, serverCfg.Port))
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		sched.StopSchedule(ctx)
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case sig := <-shutdown:
		log.Info("Server shutdown initiated", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Server shutdown failed, forcing close", "error", err)
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		if err := sched.Shutdown(shutdownCtx); err != nil {
			log.Warn("Digest run still active at shutdown", "error", err)
		}

		log.Info("Server stopped successfully")
	}

	return nil
}
