package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Job один вызов workflow по расписанию.
type Job struct {
	WorkflowID uuid.UUID       `json:"workflow_id"`
	ScheduleID uuid.UUID       `json:"schedule_id"`
	OwnerID    uuid.UUID       `json:"owner_id"`
	Metadata   json.RawMessage `json:"metadata"`

	// DueAt срок, за который выполняется вызов.
	DueAt     time.Time `json:"due_at"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// Action имя executor из metadata.action (default: "log").
func (j Job) Action() string {
	return getString(j.config(), "action", "log")
}

func (j Job) config() map[string]any {
	var m map[string]any
	if len(j.Metadata) > 0 {
		_ = json.Unmarshal(j.Metadata, &m)
	}
	return m
}

// Executor выполняет Job одного вида action.
//
// Ошибка, совпадающая с ErrPermanent, не повторяется.
type Executor interface {
	Execute(ctx context.Context, job Job) error
}

// Registry реестр executors по action.
type Registry struct {
	executors map[string]Executor
}

// NewRegistry создаёт реестр с executors по умолчанию: log, http.
func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{executors: make(map[string]Executor)}
	r.Register("log", &LogExecutor{Logger: logger})
	r.Register("http", NewHTTPExecutor())
	return r
}

// Register добавляет executor для action.
func (r *Registry) Register(action string, executor Executor) {
	r.executors[action] = executor
}

// Get возвращает executor для action.
func (r *Registry) Get(action string) (Executor, error) {
	executor, ok := r.executors[action]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	return executor, nil
}

// LogExecutor пишет вызов в лог. Используется, когда action не задан.
type LogExecutor struct {
	Logger *slog.Logger
}

func (e *LogExecutor) Execute(ctx context.Context, job Job) error {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("workflow triggered",
		"workflow_id", job.WorkflowID,
		"schedule_id", job.ScheduleID,
		"due_at", job.DueAt,
	)
	return nil
}
