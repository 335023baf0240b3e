package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shaiso/schedq/internal/domain"
)

// scheduleColumns порядок колонок, который ожидает scanSchedule.
const scheduleColumns = `id, owner_id, update_interval_seconds, metadata, created_at, updated_at, deleted_at`

// ScheduleRepo репозиторий для работы с schedules.
type ScheduleRepo struct {
	db  *DB
	now func() time.Time
}

// NewScheduleRepo создаёт новый ScheduleRepo.
func NewScheduleRepo(db *DB) *ScheduleRepo {
	return &ScheduleRepo{db: db, now: utcNow}
}

// CreateScheduleInput параметры создания schedule.
type CreateScheduleInput struct {
	OwnerID        uuid.UUID
	UpdateInterval time.Duration
	Metadata       json.RawMessage
}

// UpdateScheduleInput частичное обновление. nil означает "не менять".
type UpdateScheduleInput struct {
	Metadata       json.RawMessage
	UpdateInterval *time.Duration
}

// ScheduleFilter параметры выборки schedules владельца.
type ScheduleFilter struct {
	OwnerID uuid.UUID
	Limit   int
	Offset  int
}

// Create создаёт schedule с created_at = updated_at = now.
func (r *ScheduleRepo) Create(ctx context.Context, in CreateScheduleInput) (*domain.Schedule, error) {
	const op = "create schedule"

	secs, err := intervalSeconds(op, in.UpdateInterval)
	if err != nil {
		return nil, err
	}
	metadata, err := normalizeMetadata(op, in.Metadata)
	if err != nil {
		return nil, err
	}

	now := r.now()
	s := &domain.Schedule{
		ID:             uuid.New(),
		OwnerID:        in.OwnerID,
		UpdateInterval: time.Duration(secs) * time.Second,
		Metadata:       metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO schedules (id, owner_id, update_interval_seconds, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, s.ID, s.OwnerID, secs, []byte(metadata), now)
	if err != nil {
		return nil, classifyID(op, s.ID, err)
	}
	return s, nil
}

// GetByID возвращает активный schedule. Удалённые не видны.
func (r *ScheduleRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE id = $1 AND deleted_at IS NULL
	`, id)

	s, err := scanSchedule(row)
	if err != nil {
		return nil, classifyID("get schedule", id, err)
	}
	return s, nil
}

// ListByOwner возвращает активные schedules workspace, новые первыми.
func (r *ScheduleRepo) ListByOwner(ctx context.Context, filter ScheduleFilter) ([]domain.Schedule, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE owner_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, filter.OwnerID, limit, filter.Offset)
	if err != nil {
		return nil, classify("list schedules", err)
	}

	schedules, err := collectSchedules(rows)
	if err != nil {
		return nil, classify("list schedules", err)
	}
	return schedules, nil
}

// Update меняет metadata и/или интервал активного schedule.
// updated_at не трогается: его двигает только claim.
func (r *ScheduleRepo) Update(ctx context.Context, id uuid.UUID, in UpdateScheduleInput) error {
	const op = "update schedule"

	var secs *int
	if in.UpdateInterval != nil {
		v, err := intervalSeconds(op, *in.UpdateInterval)
		if err != nil {
			return err
		}
		secs = &v
	}

	var metadata []byte
	if in.Metadata != nil {
		m, err := normalizeMetadata(op, in.Metadata)
		if err != nil {
			return err
		}
		metadata = m
	}

	result, err := r.db.pool.Exec(ctx, `
		UPDATE schedules
		SET metadata = COALESCE($2, metadata),
		    update_interval_seconds = COALESCE($3, update_interval_seconds)
		WHERE id = $1 AND deleted_at IS NULL
	`, id, metadata, secs)
	if err != nil {
		return classifyID(op, id, err)
	}
	if result.RowsAffected() == 0 {
		return notFound(op, id)
	}
	return nil
}

// Delete мягко удаляет schedule.
//
// Повторное удаление не ошибка. ErrNotFound возвращается только для id,
// которого никогда не было.
func (r *ScheduleRepo) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "delete schedule"

	var existed bool
	err := r.db.pool.QueryRow(ctx, `
		WITH target AS (
			SELECT id FROM schedules WHERE id = $1
		), upd AS (
			UPDATE schedules
			SET deleted_at = GREATEST($2::timestamptz, updated_at)
			WHERE id = $1 AND deleted_at IS NULL
		)
		SELECT EXISTS (SELECT 1 FROM target)
	`, id, r.now()).Scan(&existed)
	if err != nil {
		return classifyID(op, id, err)
	}
	if !existed {
		return notFound(op, id)
	}
	return nil
}

// DeleteByOwner мягко удаляет все активные schedules workspace.
// Возвращает количество затронутых строк.
func (r *ScheduleRepo) DeleteByOwner(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE schedules
		SET deleted_at = GREATEST($2::timestamptz, updated_at)
		WHERE owner_id = $1 AND deleted_at IS NULL
	`, ownerID, r.now())
	if err != nil {
		return 0, classify("delete owner schedules", err)
	}
	return result.RowsAffected(), nil
}

// --- Helpers ---

func utcNow() time.Time {
	// Postgres хранит микросекунды; округляем сразу, чтобы значения
	// в памяти совпадали с прочитанными из БД.
	return time.Now().UTC().Truncate(time.Microsecond)
}

func intervalSeconds(op string, d time.Duration) (int, error) {
	if d < time.Second {
		return 0, invalidArgument(op, "update interval must be at least 1s, got %s", d)
	}
	if d%time.Second != 0 {
		return 0, invalidArgument(op, "update interval must be a whole number of seconds, got %s", d)
	}
	secs := d / time.Second
	if secs > 1<<31-1 {
		return 0, invalidArgument(op, "update interval too large: %s", d)
	}
	return int(secs), nil
}

func normalizeMetadata(op string, raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return json.RawMessage(`{}`), nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, invalidArgument(op, "metadata must be a JSON object: %v", err)
	}
	if obj == nil {
		return json.RawMessage(`{}`), nil
	}
	return raw, nil
}

func scanSchedule(row pgx.Row) (*domain.Schedule, error) {
	var s domain.Schedule
	var secs int
	var metadata []byte

	err := row.Scan(
		&s.ID,
		&s.OwnerID,
		&secs,
		&metadata,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	s.UpdateInterval = time.Duration(secs) * time.Second
	s.Metadata = json.RawMessage(metadata)
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	if s.DeletedAt != nil {
		t := s.DeletedAt.UTC()
		s.DeletedAt = &t
	}
	return &s, nil
}

func collectSchedules(rows pgx.Rows) ([]domain.Schedule, error) {
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, *s)
	}
	return schedules, rows.Err()
}
