package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/schedq/internal/domain"
	"github.com/shaiso/schedq/internal/mq"
	"github.com/shaiso/schedq/internal/repo"
	"github.com/shaiso/schedq/internal/telemetry"
	"golang.org/x/time/rate"
)

const defaultPrefetch = 5

// errRateWait ожидание лимитера прервано; сообщение возвращается в очередь.
var errRateWait = errors.New("rate limiter wait")

// ScheduleLookup читает актуальное состояние schedule.
// Реализуется repo.ScheduleRepo.
type ScheduleLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error)
}

// RetryPolicy повторы выполнения одного Job внутри процесса.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy 3 попытки с экспоненциальной задержкой от 1s до 30s.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:  3,
	InitialDelay: time.Second,
	MaxDelay:     30 * time.Second,
}

// Worker потребляет schedule.due и выполняет вызовы workflows.
//
// Перед выполнением schedule перечитывается: если его удалили после
// claim, сообщение подтверждается без выполнения. Ошибки после всех
// попыток отправляют сообщение в DLQ.
type Worker struct {
	conn      *mq.Connection
	schedules ScheduleLookup
	registry  *Registry
	retry     RetryPolicy
	prefetch  int

	consumer *mq.Consumer

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	sleep      func(ctx context.Context, d time.Duration) error
	limiter    *rate.Limiter
}

// Config конфигурация Worker.
type Config struct {
	Conn      *mq.Connection
	Schedules ScheduleLookup // опционально

	// Registry executors (если nil, используется NewRegistry).
	Registry *Registry
	Retry    *RetryPolicy
	Prefetch int

	// RatePerSec ограничивает вызовы executors в секунду на процесс,
	// 0 без лимита.
	RatePerSec int

	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry(logger)
	}

	retry := DefaultRetryPolicy
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}

	return &Worker{
		limiter:   limiter,
		conn:      cfg.Conn,
		schedules: cfg.Schedules,
		registry:  registry,
		retry:     retry,
		prefetch:  prefetch,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// Start запускает consumer очереди schedules.due.
func (w *Worker) Start(ctx context.Context) error {
	if w.conn == nil {
		return fmt.Errorf("worker: amqp connection is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueSchedulesDue),
		Handler:  w.HandleScheduleDue,
		Prefetch: w.prefetch,
	})

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("schedule consumer error", "error", err)
		}
	}()

	w.logger.Info("worker started", "prefetch", w.prefetch, "max_attempts", w.retry.MaxAttempts)
	return nil
}

// Stop останавливает Worker и ждёт завершения текущего сообщения.
func (w *Worker) Stop() {
	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	if w.consumer != nil {
		w.consumer.Stop()
	}
	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// HandleScheduleDue обрабатывает одно сообщение schedule.due.
func (w *Worker) HandleScheduleDue(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.ScheduleDuePayload](&delivery.Message)
	if err != nil {
		return fmt.Errorf("%w: %w", mq.ErrReject, err)
	}
	return w.Process(ctx, payload)
}

// Process выполняет вызов workflow для одной забранной пары.
func (w *Worker) Process(ctx context.Context, p mq.ScheduleDuePayload) error {
	logger := telemetry.WithWorkflowID(
		telemetry.WithScheduleID(w.logger, p.ScheduleID.String()),
		p.WorkflowID.String(),
	)

	job := Job{
		WorkflowID: p.WorkflowID,
		ScheduleID: p.ScheduleID,
		OwnerID:    p.Schedule.OwnerID,
		Metadata:   p.Schedule.Metadata,
		DueAt:      p.Schedule.UpdatedAt.Add(time.Duration(p.Schedule.UpdateIntervalSeconds) * time.Second),
		ClaimedAt:  p.ClaimedAt,
	}

	if w.schedules != nil {
		current, err := w.schedules.GetByID(ctx, p.ScheduleID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			logger.Info("schedule deleted after claim, skipping")
			return nil
		case err != nil:
			return fmt.Errorf("load schedule: %w", err)
		}
		// Metadata могли поменять после claim: выполняем актуальную.
		job.Metadata = current.Metadata
	}

	executor, err := w.registry.Get(job.Action())
	if err != nil {
		return fmt.Errorf("%w: %w", mq.ErrReject, err)
	}

	if err := w.executeWithRetry(ctx, logger, executor, job); err != nil {
		if ctx.Err() != nil || errors.Is(err, errRateWait) {
			return err
		}
		logger.Warn("workflow trigger failed", "action", job.Action(), "error", err)
		return fmt.Errorf("%w: %w", mq.ErrReject, err)
	}

	logger.Debug("workflow triggered", "action", job.Action())
	return nil
}

// executeWithRetry повторяет Execute согласно RetryPolicy.
func (w *Worker) executeWithRetry(ctx context.Context, logger *slog.Logger, executor Executor, job Job) error {
	var lastErr error
	for attempt := 1; attempt <= w.retry.MaxAttempts; attempt++ {
		if err := w.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %w", errRateWait, err)
		}
		lastErr = executor.Execute(ctx, job)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrPermanent) || attempt == w.retry.MaxAttempts {
			break
		}

		delay := calculateBackoff(attempt, w.retry)
		logger.Debug("retrying workflow trigger", "attempt", attempt, "delay", delay, "error", lastErr)
		if err := w.sleep(ctx, delay); err != nil {
			return err
		}
	}

	if errors.Is(lastErr, ErrPermanent) {
		return lastErr
	}
	return fmt.Errorf("%w: %w", ErrRetryExhausted, lastErr)
}

// calculateBackoff delay = InitialDelay * 2^(attempt-1), не больше MaxDelay.
func calculateBackoff(attempt int, policy RetryPolicy) time.Duration {
	initial := policy.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	maxDelay := policy.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return min(delay, maxDelay)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
