package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joshjon/kit/log"

	"fuel/internal/config"
	"fuel/internal/daemon"
	"fuel/internal/fuelctx"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.NewLogger(log.WithDevelopment())

	fuelCtx, err := fuelctx.New()
	if err != nil {
		logger.Error("failed to resolve project context", "error", err)
		os.Exit(1)
	}

	if err := fuelCtx.EnsureLayout(); err != nil {
		logger.Error("failed to create .fuel layout", "error", err)
		os.Exit(1)
	}

	cfgStore, err := config.NewStore(fuelCtx.ConfigPath)
	if err != nil {
		logger.Error("failed to load config", "error", err, "path", fuelCtx.ConfigPath)
		os.Exit(1)
	}

	logger.Info("daemon configured",
		"project", fuelCtx.ProjectName(),
		"fuel_dir", fuelCtx.FuelDir,
		"primary_agent", cfgStore.Get().Primary,
	)

	d, closeStore, err := daemon.New(ctx, fuelCtx, cfgStore, logger)
	if err != nil {
		logger.Error("failed to construct daemon", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("daemon error", "error", err)
		os.Exit(1)
	}
}
