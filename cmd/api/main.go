package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"researchmcp/internal/activities"
	"researchmcp/internal/api"
	"researchmcp/internal/app"
	"researchmcp/internal/config"
	"researchmcp/internal/logging"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	c, err := app.New(bootCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal("build container", zap.Error(err))
	}
	defer c.Close()

	// async ingestion is optional; the API still ingests synchronously without it
	tc, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		logger.Warn("temporal unavailable, async ingest disabled", zap.String("address", cfg.TemporalAddress), zap.Error(err))
		tc = nil
	} else {
		defer tc.Close()
	}

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           api.FromContainer(c, activities.FromContainer(c), tc).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("researchmcp api listening",
		zap.String("addr", cfg.APIAddr),
		zap.String("llm_providers", cfg.LLMProviders),
		zap.String("embed_providers", cfg.EmbedProviders),
		zap.String("vector_backend", cfg.VectorBackend),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("api server", zap.Error(err))
	}
}
