package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shaiso/schedq/internal/domain"
	"github.com/shaiso/schedq/internal/repo"
)

// ScheduleService операции над schedules. Реализуется repo.ScheduleRepo.
type ScheduleService interface {
	Create(ctx context.Context, in repo.CreateScheduleInput) (*domain.Schedule, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error)
	ListByOwner(ctx context.Context, filter repo.ScheduleFilter) ([]domain.Schedule, error)
	Update(ctx context.Context, id uuid.UUID, in repo.UpdateScheduleInput) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByOwner(ctx context.Context, ownerID uuid.UUID) (int64, error)
}

// WorkflowService операции над workflows и их связями.
// Реализуется repo.WorkflowRepo.
type WorkflowService interface {
	Create(ctx context.Context, displayName string) (*domain.Workflow, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ReplaceSchedules(ctx context.Context, workflowID uuid.UUID, scheduleIDs []uuid.UUID) error
	ListSchedules(ctx context.Context, workflowID uuid.UUID) ([]domain.Schedule, error)
}

// Handler главный обработчик API с зависимостями.
type Handler struct {
	schedules ScheduleService
	workflows WorkflowService
	health    func(ctx context.Context) error
	logger    *slog.Logger
}

// Config конфигурация для создания Handler.
type Config struct {
	Schedules ScheduleService
	Workflows WorkflowService

	// Health проверка зависимостей для /healthz (обычно DB.Ping).
	Health func(ctx context.Context) error

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		schedules: cfg.Schedules,
		workflows: cfg.Workflows,
		health:    cfg.Health,
		logger:    logger,
	}
}
