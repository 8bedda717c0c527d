package storage

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNoAdmin is returned by stages that need direct storage when the run
// was configured without a database connection.
var ErrNoAdmin = errors.New("no direct storage connection configured")

// Statement is one parametrized SQL statement.
type Statement struct {
	SQL  string
	Args []any
}

// Admin is the narrow direct-storage surface the pipeline falls back to
// when the target's REST API lacks an operation. Implementations keep the
// pipeline backend-agnostic and unit-testable against an in-memory fake.
type Admin interface {
	// ExecBatch runs statements in bounded chunks, each chunk inside its own
	// explicit transaction, so a failing chunk cannot corrupt unrelated rows.
	ExecBatch(ctx context.Context, stmts []Statement) error
	// QueryInt64 runs a query whose result is a single integer value, such
	// as a count or an id lookup.
	QueryInt64(ctx context.Context, sql string, args ...any) (int64, error)
	// QueryRows runs a read query and returns every row as column values in
	// select order.
	QueryRows(ctx context.Context, sql string, args ...any) ([][]any, error)
}

// chunkSize bounds how many statements share one transaction.
const chunkSize = 200

func chunks(stmts []Statement) [][]Statement {
	var out [][]Statement
	for len(stmts) > 0 {
		n := chunkSize
		if n > len(stmts) {
			n = len(stmts)
		}
		out = append(out, stmts[:n])
		stmts = stmts[n:]
	}
	return out
}
