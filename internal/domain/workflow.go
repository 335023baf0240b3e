package domain

import (
	"time"

	"github.com/google/uuid"
)

// Workflow внешняя сущность, на которую ссылаются schedules.
// Очереди важен только флаг мягкого удаления DeletedAt.
type Workflow struct {
	ID          uuid.UUID  `json:"id"`
	DisplayName string     `json:"display_name"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// IsDeleted возвращает true для мягко удалённых workflows.
func (w *Workflow) IsDeleted() bool {
	return w.DeletedAt != nil
}
