package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shaiso/schedq/internal/domain"
	"github.com/shaiso/schedq/internal/telemetry"
)

// LockMode стратегия блокировки строк при claim.
type LockMode int

const (
	// LockSkip пропускает строки, уже заблокированные другим claimer
	// (FOR UPDATE SKIP LOCKED). Конкурирующие воркеры не ждут друг друга.
	LockSkip LockMode = iota

	// LockWait ждёт освобождения блокировки (простой FOR UPDATE).
	// После ожидания строка перепроверяется и, если её уже забрали,
	// в выборку не попадает.
	LockWait
)

// ParseLockMode разбирает "skip" / "wait".
func ParseLockMode(s string) (LockMode, error) {
	switch s {
	case "", "skip":
		return LockSkip, nil
	case "wait":
		return LockWait, nil
	default:
		return LockSkip, fmt.Errorf("unknown lock mode %q (want skip or wait)", s)
	}
}

func (m LockMode) String() string {
	if m == LockWait {
		return "wait"
	}
	return "skip"
}

func (m LockMode) clause() string {
	if m == LockWait {
		return "FOR UPDATE"
	}
	return "FOR UPDATE SKIP LOCKED"
}

// ErrClaimRejected claim откатился, потому что ClaimFunc вернула ошибку.
// Исходная ошибка доступна через errors.Is/As.
var ErrClaimRejected = errors.New("claimed batch rejected")

// ClaimFunc вызывается внутри транзакции claim до commit.
// Ошибка откатывает claim целиком: updated_at не меняется, schedules
// остаются due и будут забраны следующим опросом.
type ClaimFunc func(ctx context.Context, items []domain.ClaimedItem) error

// ClaimQueue выбирает due schedules, блокирует их и сдвигает срок.
type ClaimQueue struct {
	db       *DB
	lockMode LockMode
	logger   *slog.Logger
}

// NewClaimQueue создаёт ClaimQueue.
func NewClaimQueue(db *DB, lockMode LockMode, logger *slog.Logger) *ClaimQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClaimQueue{db: db, lockMode: lockMode, logger: logger}
}

// ClaimDue забирает до maxBatchSize пар (workflow, schedule), у которых
// наступил срок, и фиксирует транзакцию.
func (q *ClaimQueue) ClaimDue(ctx context.Context, maxBatchSize int, now time.Time) ([]domain.ClaimedItem, error) {
	return q.ClaimDueFunc(ctx, maxBatchSize, now, nil)
}

// ClaimDueFunc то же, что ClaimDue, но перед commit передаёт пачку в fn.
//
// Порядок: по возрастанию due_at, при равенстве по id schedule, внутри
// schedule по id workflow. Schedule никогда не делится между пачками:
// если его связи не помещаются в остаток пачки, он остаётся due.
// Единственное исключение: schedule, у которого связей больше, чем
// maxBatchSize, отдаётся усечённым до первых maxBatchSize workflows.
func (q *ClaimQueue) ClaimDueFunc(ctx context.Context, maxBatchSize int, now time.Time, fn ClaimFunc) ([]domain.ClaimedItem, error) {
	const op = "claim due schedules"

	if maxBatchSize <= 0 {
		return nil, invalidArgument(op, "max batch size must be positive, got %d", maxBatchSize)
	}
	now = now.UTC()

	started := time.Now()
	var items []domain.ClaimedItem
	var fnErr error

	err := q.db.inTx(ctx, op, func(tx pgx.Tx) error {
		schedules, err := q.selectDue(ctx, tx, maxBatchSize, now)
		if err != nil {
			return err
		}
		if len(schedules) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(schedules))
		for i := range schedules {
			ids[i] = schedules[i].ID
		}

		links, err := selectLinks(ctx, tx, ids)
		if err != nil {
			return err
		}

		batch := assembleBatch(schedules, links, maxBatchSize)
		if batch.truncated != uuid.Nil {
			telemetry.ClaimFanoutTruncated.Inc()
			q.logger.Warn("schedule fan-out exceeds batch size, truncated",
				"schedule_id", batch.truncated,
				"max_batch_size", maxBatchSize,
			)
		}
		if len(batch.claimed) == 0 {
			return nil
		}

		tag, err := tx.Exec(ctx, `
			UPDATE schedules
			SET updated_at = $1
			WHERE id = ANY($2) AND deleted_at IS NULL
		`, now, batch.claimed)
		if err != nil {
			return fmt.Errorf("touch schedules: %w", err)
		}
		if tag.RowsAffected() != int64(len(batch.claimed)) {
			// Строки заблокированы нами, значит расхождение означает
			// нарушенный инвариант, а не гонку.
			return fmt.Errorf("touch schedules: updated %d of %d rows", tag.RowsAffected(), len(batch.claimed))
		}

		if fn != nil {
			if err := fn(ctx, batch.items); err != nil {
				fnErr = err
				return err
			}
		}

		items = batch.items
		return nil
	})

	telemetry.ClaimDuration.Observe(time.Since(started).Seconds())

	if fnErr != nil {
		telemetry.ClaimBatches.WithLabelValues("aborted").Inc()
		return nil, fmt.Errorf("%s: %w: %w", op, ErrClaimRejected, fnErr)
	}
	if err != nil {
		telemetry.ClaimBatches.WithLabelValues("error").Inc()
		telemetry.ClaimErrors.WithLabelValues(Kind(err)).Inc()
		return nil, err
	}

	if len(items) == 0 {
		telemetry.ClaimBatches.WithLabelValues("empty").Inc()
		return []domain.ClaimedItem{}, nil
	}

	telemetry.ClaimBatches.WithLabelValues("claimed").Inc()
	telemetry.ClaimedItems.Add(float64(len(items)))
	return items, nil
}

// selectDue блокирует до limit due schedules, у которых есть хотя бы один
// активный workflow. Строки workflows и workflow_schedules не блокируются.
func (q *ClaimQueue) selectDue(ctx context.Context, tx pgx.Tx, limit int, now time.Time) ([]domain.Schedule, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules AS s
		WHERE s.deleted_at IS NULL
		  AND s.updated_at + s.update_interval_seconds * interval '1 second' <= $1
		  AND EXISTS (
		      SELECT 1
		      FROM workflow_schedules AS ws
		      JOIN workflows AS w ON w.id = ws.workflow_id
		      WHERE ws.schedule_id = s.id AND w.deleted_at IS NULL
		  )
		ORDER BY s.updated_at + s.update_interval_seconds * interval '1 second' ASC, s.id ASC
		LIMIT $2
		`+q.lockMode.clause(), now, limit)
	if err != nil {
		return nil, fmt.Errorf("select due schedules: %w", err)
	}

	schedules, err := collectSchedules(rows)
	if err != nil {
		return nil, fmt.Errorf("select due schedules: %w", err)
	}
	return schedules, nil
}

// selectLinks возвращает активные workflows для каждого schedule из ids,
// отсортированные по workflow_id.
func selectLinks(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	rows, err := tx.Query(ctx, `
		SELECT ws.schedule_id, ws.workflow_id
		FROM workflow_schedules AS ws
		JOIN workflows AS w ON w.id = ws.workflow_id
		WHERE ws.schedule_id = ANY($1) AND w.deleted_at IS NULL
		ORDER BY ws.schedule_id, ws.workflow_id
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("select workflow links: %w", err)
	}
	defer rows.Close()

	links := make(map[uuid.UUID][]uuid.UUID, len(ids))
	for rows.Next() {
		var scheduleID, workflowID uuid.UUID
		if err := rows.Scan(&scheduleID, &workflowID); err != nil {
			return nil, fmt.Errorf("scan workflow link: %w", err)
		}
		links[scheduleID] = append(links[scheduleID], workflowID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select workflow links: %w", err)
	}
	return links, nil
}

type claimBatch struct {
	items   []domain.ClaimedItem
	claimed []uuid.UUID

	// truncated id schedule, отданного не целиком, или uuid.Nil.
	truncated uuid.UUID
}

// assembleBatch раскладывает schedules (уже в порядке due_at, id) по
// workflows, соблюдая лимит limit на число элементов.
func assembleBatch(schedules []domain.Schedule, links map[uuid.UUID][]uuid.UUID, limit int) claimBatch {
	var b claimBatch

	for i := range schedules {
		s := &schedules[i]
		workflows := links[s.ID]
		if len(workflows) == 0 {
			// Последний workflow удалили между выборкой и чтением связей.
			continue
		}

		room := limit - len(b.items)
		if len(workflows) > room {
			if len(b.items) > 0 {
				break
			}
			workflows = workflows[:room]
			b.truncated = s.ID
		}

		for _, wfID := range workflows {
			b.items = append(b.items, domain.ClaimedItem{
				WorkflowID: wfID,
				ScheduleID: s.ID,
				Schedule:   s,
			})
		}
		b.claimed = append(b.claimed, s.ID)

		if len(b.items) == limit {
			break
		}
	}

	return b
}

