package main

import (
	"context"
	"log"
	"time"

	"researchmcp/internal/activities"
	"researchmcp/internal/app"
	"researchmcp/internal/config"
	"researchmcp/internal/logging"
	"researchmcp/internal/workflows"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load(".env")
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		logger.Fatal("dial temporal", zap.Error(err))
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	container, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("build container", zap.Error(err))
	}
	defer container.Close()

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)
	activities.Register(w, activities.FromContainer(container))

	logger.Info("researchmcp worker listening",
		zap.String("temporal", cfg.TemporalAddress),
		zap.String("queue", cfg.TemporalTaskQueue),
		zap.String("embed_providers", cfg.EmbedProviders),
		zap.String("extract_backend", cfg.ExtractBackend),
	)
	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Fatal("worker stopped", zap.Error(err))
	}
}
