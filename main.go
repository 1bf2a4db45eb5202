package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"corpusflow/internal/app"
	"corpusflow/internal/config"
	"corpusflow/internal/logger"
)

func main() {
	// Structured logger with correlation IDs pulled from context
	log := slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil)))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		slog.Error("failed to bootstrap", "error", err)
		os.Exit(1)
	}
	defer deps.Close()

	a, err := app.New(ctx, cfg, deps)
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil && err != context.Canceled {
		slog.Error("pipeline exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("pipeline stopped")
}
