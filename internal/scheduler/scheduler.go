package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shaiso/schedq/internal/domain"
	"github.com/shaiso/schedq/internal/repo"
	"github.com/shaiso/schedq/internal/telemetry"
)

// Claimer забирает due schedules. Реализуется repo.ClaimQueue.
type Claimer interface {
	ClaimDueFunc(ctx context.Context, maxBatchSize int, now time.Time, fn repo.ClaimFunc) ([]domain.ClaimedItem, error)
}

// Dispatcher передаёт забранную пачку дальше (в очередь, в лог).
// Вызывается внутри транзакции claim: ошибка откатывает claim,
// и schedules будут забраны повторно.
type Dispatcher interface {
	Dispatch(ctx context.Context, items []domain.ClaimedItem) error
}

// DispatcherFunc адаптер функции к Dispatcher.
type DispatcherFunc func(ctx context.Context, items []domain.ClaimedItem) error

func (f DispatcherFunc) Dispatch(ctx context.Context, items []domain.ClaimedItem) error {
	return f(ctx, items)
}

// LogDispatcher только пишет забранные пары в лог.
type LogDispatcher struct {
	Logger *slog.Logger
}

func (d LogDispatcher) Dispatch(ctx context.Context, items []domain.ClaimedItem) error {
	for _, item := range items {
		d.Logger.Info("schedule due",
			"schedule_id", item.ScheduleID,
			"workflow_id", item.WorkflowID,
			"update_interval", item.Schedule.UpdateInterval,
		)
	}
	telemetry.DispatchedItems.WithLabelValues("log").Add(float64(len(items)))
	return nil
}

// Scheduler цикл опроса claim-очереди.
type Scheduler struct {
	claimer    Claimer
	dispatcher Dispatcher
	logger     *slog.Logger
	batchSize  int
	interval   time.Duration
	stats      func() repo.PoolStats
	now        func() time.Time
}

// Config конфигурация Scheduler.
type Config struct {
	Claimer    Claimer
	Dispatcher Dispatcher
	Logger     *slog.Logger

	// BatchSize максимальное число пар за один claim (default: 100).
	BatchSize int

	// Interval пауза между опросами (default: 1s).
	Interval time.Duration

	// Stats источник статистики пула для метрик, опционально.
	Stats func() repo.PoolStats
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = LogDispatcher{Logger: logger}
	}

	return &Scheduler{
		claimer:    cfg.Claimer,
		dispatcher: dispatcher,
		logger:     logger,
		batchSize:  batchSize,
		interval:   interval,
		stats:      cfg.Stats,
		now:        time.Now,
	}
}

// Tick выполняет один claim и передаёт пачку dispatcher.
// Возвращает число забранных пар.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	items, err := s.claimer.ClaimDueFunc(ctx, s.batchSize, s.now(), s.dispatcher.Dispatch)
	if err != nil {
		return 0, err
	}
	if len(items) > 0 {
		s.logger.Debug("claimed due schedules", "items", len(items))
	}
	return len(items), nil
}

// Run опрашивает очередь каждые Interval до отмены ctx.
//
// Если пачка вернулась полной, следующий claim выполняется сразу,
// не дожидаясь тика. Ошибки логируются и не останавливают цикл.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("poller started",
		"interval", s.interval,
		"batch_size", s.batchSize,
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.drain(ctx)
		s.recordPoolStats()

		select {
		case <-ctx.Done():
			s.logger.Info("poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) drain(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := s.Tick(ctx)
		switch {
		case err != nil:
			s.logTickError(ctx, err)
			return
		case n == 0:
			telemetry.PollerTicks.WithLabelValues("empty").Inc()
			return
		case n < s.batchSize:
			telemetry.PollerTicks.WithLabelValues("partial").Inc()
			return
		default:
			telemetry.PollerTicks.WithLabelValues("full").Inc()
		}
	}
}

func (s *Scheduler) logTickError(ctx context.Context, err error) {
	if ctx.Err() != nil && errors.Is(err, repo.ErrCanceled) {
		return
	}

	if errors.Is(err, repo.ErrClaimRejected) {
		telemetry.PollerTicks.WithLabelValues("rejected").Inc()
		s.logger.Warn("dispatch failed, claim rolled back", "error", err)
		return
	}

	telemetry.PollerTicks.WithLabelValues("error").Inc()
	if repo.Retryable(err) {
		s.logger.Warn("claim failed, will retry", "kind", repo.Kind(err), "error", err)
		return
	}
	s.logger.Error("claim failed", "kind", repo.Kind(err), "error", err)
}

func (s *Scheduler) recordPoolStats() {
	if s.stats == nil {
		return
	}
	st := s.stats()
	telemetry.PoolConns.WithLabelValues("total").Set(float64(st.Total))
	telemetry.PoolConns.WithLabelValues("idle").Set(float64(st.Idle))
	telemetry.PoolConns.WithLabelValues("acquired").Set(float64(st.Acquired))
	telemetry.PoolConns.WithLabelValues("max").Set(float64(st.Max))
}
