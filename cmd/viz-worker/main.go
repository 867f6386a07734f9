// Package main runs the visualization worker pool without the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"bookviz-api/internal/config"
	einoobs "bookviz-api/internal/observability/eino"
	"bookviz-api/internal/wire"
	"bookviz-api/pkg/logger"
	"bookviz-api/pkg/tracer"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: "viz-worker",
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	einoobs.Init()

	worker, cleanup, err := wire.InitializeWorker(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize worker", err)
	}
	defer cleanup()

	if err := worker.Pool.Start(ctx); err != nil {
		logger.Fatal(ctx, "failed to start worker pool", err)
	}
	logger.Info(ctx, "viz-worker started", "concurrency", cfg.Worker.EffectiveConcurrency())

	<-ctx.Done()
	logger.Info(context.Background(), "shutting down workers...")
	worker.Pool.Stop()
	logger.Info(context.Background(), "viz-worker exited")
}
