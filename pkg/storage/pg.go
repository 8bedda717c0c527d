package storage

import (
	"context"
	stderrors "errors"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgAdmin implements Admin against the tracker's own Postgres.
type PgAdmin struct {
	pool *pgxpool.Pool
}

func NewPgAdmin(ctx context.Context, dsn string) (*PgAdmin, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "connect tracker database")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping tracker database")
	}
	return &PgAdmin{pool: pool}, nil
}

func (a *PgAdmin) Close() { a.pool.Close() }

func (a *PgAdmin) ExecBatch(ctx context.Context, stmts []Statement) error {
	for i, chunk := range chunks(stmts) {
		if err := a.execChunk(ctx, chunk); err != nil {
			return errors.Wrapf(err, "batch chunk %d", i+1)
		}
	}
	return nil
}

func (a *PgAdmin) execChunk(ctx context.Context, chunk []Statement) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return err
	}
	for _, stmt := range chunk {
		if _, err := tx.Exec(ctx, stmt.SQL, stmt.Args...); err != nil {
			if rErr := tx.Rollback(ctx); rErr != nil {
				return stderrors.Join(err, rErr)
			}
			return err
		}
	}
	return tx.Commit(ctx)
}

func (a *PgAdmin) QueryInt64(ctx context.Context, sql string, args ...any) (int64, error) {
	var n int64
	if err := a.pool.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "scalar query")
	}
	return n, nil
}

func (a *PgAdmin) QueryRows(ctx context.Context, sql string, args ...any) ([][]any, error) {
	rows, err := a.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		out = append(out, values)
	}
	return out, rows.Err()
}
