package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Schedule описывает повторяющийся триггер workflow.
//
// Schedule становится due, когда UpdatedAt + UpdateInterval <= now.
// UpdatedAt одновременно служит отметкой "последний раз забран
// из очереди": при claim его выставляют в now, что сдвигает
// следующий срок на UpdateInterval вперёд.
type Schedule struct {
	// ID уникальный идентификатор schedule.
	ID uuid.UUID `json:"id"`

	// OwnerID идентификатор workspace, которому принадлежит schedule.
	OwnerID uuid.UUID `json:"owner_id"`

	// UpdateInterval интервал между запусками.
	// В БД хранится в секундах (update_interval_seconds).
	UpdateInterval time.Duration `json:"update_interval"`

	// Metadata произвольный JSON-объект. Ограничение на размер
	// проверяется на уровне БД.
	Metadata json.RawMessage `json:"metadata"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// DueAt возвращает момент, начиная с которого schedule можно забрать.
func (s *Schedule) DueAt() time.Time {
	return s.UpdatedAt.Add(s.UpdateInterval)
}

// IsDue проверяет, пора ли запускать schedule.
// Удалённые schedules никогда не бывают due.
func (s *Schedule) IsDue(now time.Time) bool {
	if s.IsDeleted() {
		return false
	}
	return !s.DueAt().After(now)
}

// IsDeleted возвращает true для мягко удалённых schedules.
func (s *Schedule) IsDeleted() bool {
	return s.DeletedAt != nil
}

// IntervalSeconds возвращает интервал в целых секундах, как он хранится в БД.
func (s *Schedule) IntervalSeconds() int {
	return int(s.UpdateInterval / time.Second)
}

// WorkflowSchedule связывает workflow и schedule (many-to-many).
type WorkflowSchedule struct {
	WorkflowID uuid.UUID `json:"workflow_id"`
	ScheduleID uuid.UUID `json:"schedule_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// ClaimedItem пара (workflow, schedule), забранная из очереди.
//
// Schedule, связанный с несколькими workflows, даёт несколько
// ClaimedItem с одним и тем же снимком Schedule.
type ClaimedItem struct {
	WorkflowID uuid.UUID `json:"workflow_id"`
	ScheduleID uuid.UUID `json:"schedule_id"`

	// Schedule снимок строки на момент выборки (до обновления updated_at).
	Schedule *Schedule `json:"schedule"`
}
