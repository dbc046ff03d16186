package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"reliefhub/internal/platform/config"
	"reliefhub/internal/platform/httpserver"
	"reliefhub/internal/platform/logger"
)

// main loads configuration, wires the stores, channel and services, then runs
// the HTTP server, the materializer and the limiter janitor until SIGINT or
// SIGTERM.
func main() {
	// .env is optional; real deployments set RELIEFHUB_* directly.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("RELIEFHUB_CONFIG"))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, log)
	if err != nil {
		log.Error("failed to start", "error", err)
		os.Exit(1)
	}

	err = run(ctx, cfg, a, log)
	a.close(log)
	if err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, a *app, log *slog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		srv := httpserver.New(cfg.Server.Addr, a.router)
		return httpserver.ListenAndServe(ctx, srv, cfg.Server.ShutdownTimeout, log)
	})
	g.Go(func() error {
		log.Info("notification materializer started", "driver", cfg.Channel.Driver)
		return a.consumer.Run(ctx, a.materializer)
	})
	g.Go(func() error {
		a.limiter.Run(ctx, time.Minute)
		return nil
	})
	return g.Wait()
}
