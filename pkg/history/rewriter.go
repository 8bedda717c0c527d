package history

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/worklog-importer/pkg/staging"
	"github.com/iota-uz/worklog-importer/pkg/storage"
	"github.com/iota-uz/worklog-importer/pkg/timelog"
)

// entryBase is the wall-clock time of day given to rewritten time entries;
// same-day entries on one work item count up from here minute by minute.
var entryBase = 12 * time.Hour

// Rewriter backdates audit timestamps of entities created in the current
// run, so imported history reads as if it happened on the logged dates.
// It only ever touches ids it is explicitly given.
type Rewriter struct {
	admin storage.Admin
	log   *logrus.Logger
}

func New(admin storage.Admin, log *logrus.Logger) *Rewriter {
	return &Rewriter{admin: admin, log: log}
}

// Rewrite updates created/updated timestamps and the corresponding journal
// rows for the given newly created work items and time entries. Everything
// runs through the storage admin's chunked transactions.
func (r *Rewriter) Rewrite(ctx context.Context, graph *staging.Graph, createdWorkItems []int64, imported []timelog.ImportedWorkItem) error {
	if r.admin == nil {
		return errors.Wrap(storage.ErrNoAdmin, "history rewrite")
	}

	var stmts []storage.Statement
	stmts = append(stmts, r.workItemStatements(graph, createdWorkItems)...)
	entryStmts, err := r.entryStatements(imported)
	if err != nil {
		return err
	}
	stmts = append(stmts, entryStmts...)

	if len(stmts) == 0 {
		return nil
	}
	r.log.WithField("statements", len(stmts)).Info("rewriting audit timestamps")
	return r.admin.ExecBatch(ctx, stmts)
}

func (r *Rewriter) workItemStatements(graph *staging.Graph, created []int64) []storage.Statement {
	byID := map[int64]*staging.Task{}
	for _, key := range graph.SortedKeys() {
		task, _ := graph.TaskByKey(key)
		if task.WorkItemID != 0 {
			byID[task.WorkItemID] = task
		}
	}

	var stmts []storage.Statement
	for _, id := range created {
		task, ok := byID[id]
		if !ok {
			continue
		}
		createdAt := task.Agg.StartDate
		stmts = append(stmts,
			storage.Statement{
				SQL:  `UPDATE work_items SET created_at = $1, updated_at = $1 WHERE id = $2`,
				Args: []any{createdAt, id},
			},
			storage.Statement{
				SQL:  `UPDATE journals SET created_at = $1 WHERE journable_type = 'WorkItem' AND journable_id = $2`,
				Args: []any{createdAt, id},
			},
		)
	}
	return stmts
}

// entryStatements spreads entries created for the same work item and day by
// one-minute increments in creation order, keeping their relative order
// stable in any created_at sort.
func (r *Rewriter) entryStatements(imported []timelog.ImportedWorkItem) ([]storage.Statement, error) {
	var stmts []storage.Statement
	for _, item := range imported {
		perDay := map[string]int{}
		for _, e := range item.Entries {
			spent, err := time.Parse("2006-01-02", e.SpentOn)
			if err != nil {
				return nil, errors.Wrapf(err, "entry %d has malformed date %q", e.EntryID, e.SpentOn)
			}
			offset := perDay[e.SpentOn]
			perDay[e.SpentOn]++
			createdAt := spent.Add(entryBase + time.Duration(offset)*time.Minute)
			stmts = append(stmts,
				storage.Statement{
					SQL:  `UPDATE time_entries SET created_at = $1, updated_at = $1 WHERE id = $2`,
					Args: []any{createdAt, e.EntryID},
				},
				storage.Statement{
					SQL:  `UPDATE journals SET created_at = $1 WHERE journable_type = 'TimeEntry' AND journable_id = $2`,
					Args: []any{createdAt, e.EntryID},
				},
			)
		}
	}
	return stmts, nil
}
