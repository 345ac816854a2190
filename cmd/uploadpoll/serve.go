package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/jpalmerr/uploadpoll"
	"github.com/jpalmerr/uploadpoll/config"
)

const (
	shutdownTimeout = 10 * time.Second
)

// newLogger creates a JSON logger for CLI use.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// serveCmd starts the tracking server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tracking server",
	Long: `Start the uploadpoll tracking server.

The server will:
  - Load configuration from the specified YAML file
  - Accept jobs to track on POST /api/sessions
  - Redirect browsers on GET /uploads/{jobID}/wait once a job is done
  - Stream session updates on GET /api/sse
  - Expose Prometheus metrics on GET /metrics

The server runs until interrupted (Ctrl+C) or receives SIGTERM. Sessions
still polling at shutdown are cancelled.

Example:
  uploadpoll serve -c config.yaml
  uploadpoll serve --config /etc/uploadpoll/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger(slog.LevelInfo)

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Destinations == nil {
		return fmt.Errorf("serve requires a destinations section")
	}

	logger.Info("config loaded",
		"port", cfg.Port,
		"poll_interval", cfg.Poll.Interval.Duration().String(),
		"max_attempts", cfg.Poll.MaxAttempts,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tracker, err := config.BuildTracker(cfg,
		[]uploadpoll.Option{
			uploadpoll.WithLogger(logger),
			uploadpoll.WithMetrics(reg),
		},
		uploadpoll.WithTrackerLogger(logger),
		uploadpoll.WithMetricsGatherer(reg),
	)
	if err != nil {
		return fmt.Errorf("failed to create tracker: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// start server - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- tracker.Start(ctx)
	}()

	// wait for server to finish
	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
