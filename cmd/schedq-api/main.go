// schedq-api HTTP API для schedules и workflows.
//
// Конфигурация: SCHEDQ_CONFIG (YAML) и переменные окружения,
// см. internal/config.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaiso/schedq/internal/api"
	"github.com/shaiso/schedq/internal/config"
	"github.com/shaiso/schedq/internal/repo"
	"github.com/shaiso/schedq/internal/telemetry"
)

func main() {
	logger := telemetry.WithComponent(telemetry.SetupLogger(), "api")
	logger.Info("starting schedq-api")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := repo.NewPool(ctx, cfg.Database.PoolConfig(), logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database", "topology", cfg.Database.Topology)

	handler := api.NewHandler(api.Config{
		Schedules: repo.NewScheduleRepo(db),
		Workflows: repo.NewWorkflowRepo(db),
		Health:    db.Ping,
		Logger:    logger,
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              ":" + cfg.HTTP.APIPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
