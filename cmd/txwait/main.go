package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"memeforge/internal/config"
	"memeforge/internal/infrastructure/logging"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}
	if _, err := logging.Init(logging.Config{
		Level:   cfg.LogLevel,
		Console: os.Stderr,
	}); err != nil {
		slog.Error("logger init error", "err", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(cfg).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
