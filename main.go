// Package main runs the house listing notifier: it checks every subscriber's
// search pages for new listings and tells them by email and Telegram.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"house-notifier/config"
	"house-notifier/otelx"
	"house-notifier/poll"
	"house-notifier/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	logger := newLogger(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Notifier failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	shutdownTracing, err := otelx.Init(ctx, logger, cfg.OTel)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("Failed to flush traces", "error", err)
		}
	}()

	app, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	switch cfg.Mode {
	case config.ModeServe:
		return serve(ctx, cfg, app.monitor, logger)
	default:
		report, err := app.monitor.Run(ctx)
		if report != nil {
			logger.Info("Run finished",
				"subscriptions", report.Subscriptions,
				"new_links", report.NewLinks,
				"persist_failures", report.PersistFailures,
				"duration_ms", report.DurationMS)
		}
		return err
	}
}

// serve runs the operational HTTP server and, when a schedule is set, the cron trigger.
func serve(ctx context.Context, cfg config.Config, monitor *poll.Monitor, logger *slog.Logger) error {
	if cfg.Schedule != "" {
		c, err := schedule(ctx, cfg.Schedule, monitor, logger)
		if err != nil {
			return err
		}
		c.Start()
		defer func() {
			<-c.Stop().Done()
		}()
		logger.Info("Scheduled checks enabled", "schedule", cfg.Schedule)
	}

	srv := server.New(&server.Config{Poller: monitor, Logger: logger})
	return srv.ListenAndServe(ctx, cfg.Port)
}

// schedule registers a check on every tick of the cron expression expr.
// Ticks that land while a check is still running are dropped.
func schedule(ctx context.Context, expr string, monitor *poll.Monitor, logger *slog.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(expr, func() {
		report, err := monitor.Run(ctx)
		switch {
		case errors.Is(err, poll.ErrRunInProgress):
			logger.Warn("Skipping scheduled check, previous check still running")
		case err != nil:
			logger.Error("Scheduled check failed", "error", err)
		default:
			logger.Info("Scheduled check finished", "new_links", report.NewLinks, "duration_ms", report.DurationMS)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("parse SCHEDULE %q: %w", expr, err)
	}
	return c, nil
}

func newLogger(w io.Writer, format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
