package storage

import (
	"context"
	"sync"
)

// MemAdmin is the in-memory Admin fake used by pipeline tests. It records
// executed statements per chunk and serves canned query results keyed by
// SQL text.
type MemAdmin struct {
	mu sync.Mutex

	// Chunks holds every executed chunk in order.
	Chunks [][]Statement

	// FailOn aborts the chunk containing a statement whose SQL matches.
	FailOn string
	// FailErr is returned when FailOn triggers.
	FailErr error

	Ints map[string]int64
	Rows map[string][][]any
}

func NewMemAdmin() *MemAdmin {
	return &MemAdmin{Ints: map[string]int64{}, Rows: map[string][][]any{}}
}

func (a *MemAdmin) ExecBatch(ctx context.Context, stmts []Statement) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, chunk := range chunks(stmts) {
		for _, stmt := range chunk {
			if a.FailOn != "" && stmt.SQL == a.FailOn {
				return a.FailErr
			}
		}
		a.Chunks = append(a.Chunks, chunk)
	}
	return nil
}

func (a *MemAdmin) QueryInt64(ctx context.Context, sql string, args ...any) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Ints[sql], nil
}

func (a *MemAdmin) QueryRows(ctx context.Context, sql string, args ...any) ([][]any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Rows[sql], nil
}

// Statements flattens every executed chunk, for assertions.
func (a *MemAdmin) Statements() []Statement {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Statement
	for _, chunk := range a.Chunks {
		out = append(out, chunk...)
	}
	return out
}
