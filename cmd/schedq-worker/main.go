// schedq-worker выполняет действия due schedules.
//
// Читает schedule.due из очереди schedules.due, перечитывает schedule
// из БД и вызывает executor по metadata.action (log, http).
// Неустранимые ошибки уходят в dlq.schedules.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/schedq/internal/config"
	"github.com/shaiso/schedq/internal/mq"
	"github.com/shaiso/schedq/internal/repo"
	"github.com/shaiso/schedq/internal/telemetry"
	"github.com/shaiso/schedq/internal/worker"
)

func main() {
	logger := telemetry.WithComponent(telemetry.SetupLogger(), "worker")
	logger.Info("starting schedq-worker")

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
	logger.Info("database connected")

	amqpURL := cfg.AMQP.URL
	if amqpURL == "" {
		amqpURL = mq.DefaultURL()
	}
	conn, err := mq.NewConnection(amqpURL, logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := mq.SetupTopology(ctx, conn); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}

	retry := worker.DefaultRetryPolicy
	retry.MaxAttempts = cfg.Worker.MaxAttempts

	w := worker.New(worker.Config{
		Conn:       conn,
		Schedules:  repo.NewScheduleRepo(db),
		Retry:      &retry,
		Prefetch:   cfg.AMQP.Prefetch,
		RatePerSec: cfg.Worker.RatePerSec,
		Logger:     logger,
	})

	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(rw http.ResponseWriter, _ *http.Request) {
		if !conn.IsConnected() {
			http.Error(rw, "amqp disconnected", http.StatusServiceUnavailable)
			return
		}
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              ":" + cfg.HTTP.MetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	w.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("schedq-worker stopped")
}
