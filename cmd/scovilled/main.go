package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"scoville/internal/config"
	"scoville/internal/engine"
	"scoville/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, path, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	logger.Info("scovilled starting", "config", path)

	eng := engine.New(cfg, logger)
	if err := eng.Run(ctx); err != nil {
		logger.Error("engine failed", logging.Error(err))
		os.Exit(1)
	}
	logger.Info("scovilled stopped")
}
