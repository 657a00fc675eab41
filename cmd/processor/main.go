package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/coldbell/predict/backend/internal/config"
	"github.com/coldbell/predict/backend/internal/dispatch"
	"github.com/coldbell/predict/backend/internal/logging"
	"github.com/coldbell/predict/backend/internal/program"
	_ "github.com/joho/godotenv/autoload"
)

const (
	exitFailed   = 1
	exitRejected = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadProcessorConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		return exitFailed
	}

	logger, closeLogger, err := logging.New("processor", cfg.Log)
	if err != nil {
		bootstrapLogger.Error("failed to initialize logger", "err", err)
		return exitFailed
	}
	defer func() {
		if closeErr := closeLogger(); closeErr != nil {
			bootstrapLogger.Error("failed to close logger", "err", closeErr)
		}
	}()

	if source, sourceErr := config.CurrentConfigSource(); sourceErr == nil {
		logger.Info("configuration loaded", "phase", source.Phase, "path", source.Path, "loaded", source.Loaded)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := dispatch.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize processor service", "err", err)
		return exitFailed
	}

	if err := svc.Run(ctx); err != nil {
		if code, ok := program.ErrorCode(err); ok {
			logger.Error("invocation rejected", "code", code, "kind", program.Error(code).String(), "err", err)
			return exitRejected
		}
		logger.Error("invocation failed", "err", err)
		return exitFailed
	}
	return 0
}
