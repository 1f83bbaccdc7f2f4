package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"orderflow/internal/app"

	_ "net/http/pprof"
)

const shutdownTimeout = 5 * time.Second

func main() {
	// Optional .env for local overrides; absence is fine.
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := app.New()
	if err := a.Initialize(ctx, configPath); err != nil {
		slog.Error("Bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Localhost only.
	go func() {
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Debug("Pprof server stopped", slog.Any("error", err))
		}
	}()

	if err := a.Run(ctx); err != nil {
		slog.Error("Startup failed", slog.Any("error", err))
		os.Exit(1)
	}

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.Shutdown(shutdownCtx)
}
