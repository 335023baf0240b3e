package repo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shaiso/schedq/internal/domain"
)

// WorkflowRepo репозиторий для workflows и связей workflow_schedules.
//
// Полноценный CRUD workflows живёт вне этого модуля; здесь только то,
// что нужно очереди: создание, чтение, мягкое удаление и замена набора
// schedules.
type WorkflowRepo struct {
	db  *DB
	now func() time.Time
}

// NewWorkflowRepo создаёт новый WorkflowRepo.
func NewWorkflowRepo(db *DB) *WorkflowRepo {
	return &WorkflowRepo{db: db, now: utcNow}
}

// Create создаёт workflow.
func (r *WorkflowRepo) Create(ctx context.Context, displayName string) (*domain.Workflow, error) {
	now := r.now()
	wf := &domain.Workflow{
		ID:          uuid.New(),
		DisplayName: displayName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO workflows (id, display_name, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
	`, wf.ID, wf.DisplayName, now)
	if err != nil {
		return nil, classifyID("create workflow", wf.ID, err)
	}
	return wf, nil
}

// GetByID возвращает активный workflow.
func (r *WorkflowRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	var wf domain.Workflow
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, display_name, created_at, updated_at, deleted_at
		FROM workflows
		WHERE id = $1 AND deleted_at IS NULL
	`, id).Scan(
		&wf.ID,
		&wf.DisplayName,
		&wf.CreatedAt,
		&wf.UpdatedAt,
		&wf.DeletedAt,
	)
	if err != nil {
		return nil, classifyID("get workflow", id, err)
	}
	wf.CreatedAt = wf.CreatedAt.UTC()
	wf.UpdatedAt = wf.UpdatedAt.UTC()
	return &wf, nil
}

// Delete мягко удаляет workflow.
//
// В той же транзакции удаляются schedules, у которых не осталось
// ни одного активного workflow. Повторное удаление не ошибка.
func (r *WorkflowRepo) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "delete workflow"
	now := r.now()

	return r.db.inTx(ctx, op, func(tx pgx.Tx) error {
		var deletedAt *time.Time
		err := tx.QueryRow(ctx, `
			SELECT deleted_at FROM workflows WHERE id = $1 FOR UPDATE
		`, id).Scan(&deletedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound(op, id)
		}
		if err != nil {
			return fmt.Errorf("lock workflow: %w", err)
		}
		if deletedAt != nil {
			return nil
		}

		if _, err := tx.Exec(ctx, `
			UPDATE workflows
			SET deleted_at = GREATEST($2::timestamptz, updated_at)
			WHERE id = $1
		`, id, now); err != nil {
			return fmt.Errorf("mark workflow deleted: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE schedules AS s
			SET deleted_at = GREATEST($2::timestamptz, s.updated_at)
			WHERE s.deleted_at IS NULL
			  AND s.id IN (SELECT schedule_id FROM workflow_schedules WHERE workflow_id = $1)
			  AND NOT EXISTS (
			      SELECT 1
			      FROM workflow_schedules AS ws
			      JOIN workflows AS w ON w.id = ws.workflow_id
			      WHERE ws.schedule_id = s.id AND w.deleted_at IS NULL
			  )
		`, id, now); err != nil {
			return fmt.Errorf("delete orphaned schedules: %w", err)
		}
		return nil
	})
}

// ReplaceSchedules заменяет набор schedules workflow целиком.
//
// Все старые связи удаляются, новые вставляются одной пачкой; всё в одной
// транзакции, поэтому при любой ошибке прежний набор остаётся нетронутым.
// Строка workflow блокируется, так что конкурентные замены выполняются
// по очереди. Дубликаты в scheduleIDs игнорируются.
func (r *WorkflowRepo) ReplaceSchedules(ctx context.Context, workflowID uuid.UUID, scheduleIDs []uuid.UUID) error {
	const op = "replace workflow schedules"
	ids := dedupIDs(scheduleIDs)
	now := r.now()

	return r.db.inTx(ctx, op, func(tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx, `
			SELECT true FROM workflows WHERE id = $1 AND deleted_at IS NULL FOR UPDATE
		`, workflowID).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound(op, workflowID)
		}
		if err != nil {
			return fmt.Errorf("lock workflow: %w", err)
		}

		if len(ids) > 0 {
			var missing uuid.UUID
			err := tx.QueryRow(ctx, `
				SELECT c.id
				FROM unnest($1::uuid[]) AS c(id)
				WHERE NOT EXISTS (
				    SELECT 1 FROM schedules AS s WHERE s.id = c.id AND s.deleted_at IS NULL
				)
				LIMIT 1
			`, ids).Scan(&missing)
			if err == nil {
				return notFound(op, missing)
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("check schedules: %w", err)
			}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM workflow_schedules WHERE workflow_id = $1`, workflowID); err != nil {
			return fmt.Errorf("delete links: %w", err)
		}

		if len(ids) == 0 {
			return nil
		}

		rows := make([][]any, len(ids))
		for i, sid := range ids {
			rows[i] = []any{workflowID, sid, now}
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"workflow_schedules"},
			[]string{"workflow_id", "schedule_id", "created_at"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("insert links: %w", err)
		}
		return nil
	})
}

// ListSchedules возвращает активные schedules, связанные с активным workflow.
func (r *WorkflowRepo) ListSchedules(ctx context.Context, workflowID uuid.UUID) ([]domain.Schedule, error) {
	const op = "list workflow schedules"

	if _, err := r.GetByID(ctx, workflowID); err != nil {
		return nil, err
	}

	rows, err := r.db.pool.Query(ctx, `
		SELECT s.id, s.owner_id, s.update_interval_seconds, s.metadata,
		       s.created_at, s.updated_at, s.deleted_at
		FROM workflow_schedules AS ws
		JOIN schedules AS s ON s.id = ws.schedule_id
		WHERE ws.workflow_id = $1 AND s.deleted_at IS NULL
		ORDER BY s.id
	`, workflowID)
	if err != nil {
		return nil, classifyID(op, workflowID, err)
	}

	schedules, err := collectSchedules(rows)
	if err != nil {
		return nil, classifyID(op, workflowID, err)
	}
	return schedules, nil
}

// dedupIDs возвращает уникальные id в исходном порядке.
func dedupIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return slices.Clip(out)
}
