package dbqueue

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FetchOne runs a single-row query on the read lane and scans it via scan.
func (q *Queue) FetchOne(ctx context.Context, scan func(row pgx.Row) error, sql string, args ...any) error {
	_, err := q.Submit(ctx, KindRead, 0, func(opCtx context.Context, conn *pgxpool.Conn) (any, error) {
		return nil, scan(conn.QueryRow(opCtx, sql, args...))
	})

	return err
}

// FetchAll runs a query on the read lane and hands the rows to collect.
// The rows are only valid inside collect.
func (q *Queue) FetchAll(ctx context.Context, collect func(rows pgx.Rows) error, sql string, args ...any) error {
	_, err := q.Submit(ctx, KindRead, 0, func(opCtx context.Context, conn *pgxpool.Conn) (any, error) {
		rows, err := conn.Query(opCtx, sql, args...)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		defer rows.Close()

		if err := collect(rows); err != nil {
			return nil, err
		}

		return nil, rows.Err()
	})

	return err
}

// Exec runs a statement on the write lane.
func (q *Queue) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	v, err := q.Submit(ctx, KindWrite, 0, func(opCtx context.Context, conn *pgxpool.Conn) (any, error) {
		tag, err := conn.Exec(opCtx, sql, args...)
		if err != nil {
			return nil, err
		}

		return tag, nil
	})
	if err != nil {
		return pgconn.CommandTag{}, err
	}

	return v.(pgconn.CommandTag), nil
}

// InTransaction runs fn inside a transaction on the write lane. The whole
// transaction occupies one queue slot, so multi-statement updates commit
// atomically without holding a lane worker across Submits.
func (q *Queue) InTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	_, err := q.Submit(ctx, KindWrite, 0, func(opCtx context.Context, conn *pgxpool.Conn) (any, error) {
		tx, err := conn.Begin(opCtx)
		if err != nil {
			return nil, fmt.Errorf("begin transaction: %w", err)
		}

		if err := fn(opCtx, tx); err != nil {
			_ = tx.Rollback(opCtx) //nolint:errcheck // rollback after failure is best-effort

			return nil, err
		}

		if err := tx.Commit(opCtx); err != nil {
			return nil, fmt.Errorf("commit transaction: %w", err)
		}

		return nil, nil
	})

	return err
}
