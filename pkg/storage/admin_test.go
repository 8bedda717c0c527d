package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/require"
)

func TestChunks(t *testing.T) {
	stmts := make([]Statement, 450)
	for i := range stmts {
		stmts[i] = Statement{SQL: fmt.Sprintf("stmt-%d", i)}
	}
	got := chunks(stmts)
	require.Len(t, got, 3)
	require.Len(t, got[0], 200)
	require.Len(t, got[1], 200)
	require.Len(t, got[2], 50)

	require.Nil(t, chunks(nil))
}

func TestMemAdmin_RecordsChunks(t *testing.T) {
	admin := NewMemAdmin()
	stmts := make([]Statement, 250)
	for i := range stmts {
		stmts[i] = Statement{SQL: "UPDATE t SET x = $1", Args: []any{i}}
	}
	require.NoError(t, admin.ExecBatch(context.Background(), stmts))
	require.Len(t, admin.Chunks, 2)
	require.Len(t, admin.Statements(), 250)
}

func TestMemAdmin_CannedQueries(t *testing.T) {
	admin := NewMemAdmin()
	admin.Ints[`SELECT id FROM types WHERE name = $1`] = 42
	admin.Rows[`SELECT x FROM t`] = [][]any{{int64(1)}}

	n, err := admin.QueryInt64(context.Background(), `SELECT id FROM types WHERE name = $1`, "Task")
	require.NoError(t, err)
	require.Equal(t, int64(42), n)

	rows, err := admin.QueryRows(context.Background(), `SELECT x FROM t`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestMemAdmin_FailedChunkKeepsEarlierChunks(t *testing.T) {
	admin := NewMemAdmin()
	admin.FailOn = "boom"
	admin.FailErr = errors.New("constraint violated")

	stmts := make([]Statement, 0, 201)
	for i := 0; i < 200; i++ {
		stmts = append(stmts, Statement{SQL: "ok"})
	}
	stmts = append(stmts, Statement{SQL: "boom"})

	err := admin.ExecBatch(context.Background(), stmts)
	require.Error(t, err)
	// The first chunk committed independently of the failing one.
	require.Len(t, admin.Chunks, 1)
	require.Len(t, admin.Chunks[0], 200)
}
