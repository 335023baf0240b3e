package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// inTx выполняет fn в транзакции READ COMMITTED.
//
// Соединение берётся с учётом AcquireTimeout. Если fn вернула ошибку
// или паниковала, транзакция откатывается; иначе фиксируется.
// Все ошибки возвращаются уже классифицированными.
func (db *DB) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) (err error) {
	conn, err := db.acquire(ctx, op)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(op, fmt.Errorf("begin tx: %w", err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.Background())
			panic(p)
		}
		if err != nil {
			// Откат на отдельном контексте: ctx мог быть уже отменён.
			if rbErr := tx.Rollback(context.Background()); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if err = fn(tx); err != nil {
		return classify(op, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return classify(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}
