// schedq-poller забирает due schedules и отдаёт их dispatcher.
//
// Если задан AMQP_URL, пары публикуются в schedq.schedules внутри
// транзакции claim; иначе только логируются. Экземпляров можно
// запускать сколько угодно: строки делятся через FOR UPDATE SKIP LOCKED.
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
	"github.com/shaiso/schedq/internal/scheduler"
	"github.com/shaiso/schedq/internal/telemetry"
)

func main() {
	logger := telemetry.WithComponent(telemetry.SetupLogger(), "poller")
	logger.Info("starting schedq-poller")

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
	logger.Info("database connected", "topology", cfg.Database.Topology)

	var dispatcher scheduler.Dispatcher = scheduler.LogDispatcher{Logger: logger}
	if cfg.AMQP.URL != "" {
		conn, err := mq.NewConnection(cfg.AMQP.URL, logger)
		if err != nil {
			logger.Error("failed to connect to RabbitMQ", "error", err)
			os.Exit(1)
		}
		defer conn.Close()

		if err := mq.SetupTopology(ctx, conn); err != nil {
			logger.Error("failed to setup topology", "error", err)
			os.Exit(1)
		}
		dispatcher = mq.NewScheduleDispatcher(mq.NewPublisher(conn, logger))
		logger.Info("publishing due schedules to RabbitMQ", "exchange", mq.ExchangeSchedules)
	} else {
		logger.Warn("AMQP_URL is not set, due schedules are only logged")
	}

	poller := scheduler.New(scheduler.Config{
		Claimer:    repo.NewClaimQueue(db, cfg.Poller.LockModeValue(), logger),
		Dispatcher: dispatcher,
		Logger:     logger,
		BatchSize:  cfg.Poller.BatchSize,
		Interval:   cfg.Poller.Interval.Std(),
		Stats:      db.Stats,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
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

	if err := poller.Run(ctx); err != nil {
		logger.Error("poller error", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("schedq-poller stopped")
}
