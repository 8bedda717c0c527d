package timelog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/worklog-importer/pkg/aggregate"
	"github.com/iota-uz/worklog-importer/pkg/cache"
	"github.com/iota-uz/worklog-importer/pkg/staging"
	"github.com/iota-uz/worklog-importer/pkg/storage"
	"github.com/iota-uz/worklog-importer/pkg/tracker"
)

// Tuple is the identity of a time entry for reconciliation: a created
// entry's (date, minutes, user, activity) must be unique against existing
// entries, but duplicate desired tuples from the source are each created.
type Tuple struct {
	SpentOn    string
	Minutes    int
	UserID     int64
	ActivityID int64
}

// ImportedEntry is one time entry created by this run.
type ImportedEntry struct {
	EntryID int64
	SpentOn string
	Minutes int
	// Order is the creation index within the work item, used by the history
	// rewriter to spread same-day entries by one-minute increments.
	Order int
	// UserID is the log's actual author. The server attributed creation to
	// the session user; FixLoggedBy repairs that afterwards.
	UserID int64
}

// ImportedWorkItem groups the entries created for one work item.
type ImportedWorkItem struct {
	WorkItemID int64
	ProjectID  int64
	Entries    []ImportedEntry
}

// Reconciler creates exactly the time entries present in the source but
// missing on the target. It never updates or deletes existing entries.
type Reconciler struct {
	client  tracker.Client
	admin   storage.Admin
	entries *cache.EntryCache
	log     *logrus.Logger
	dryRun  bool

	activityIDs map[string]int64
}

func New(client tracker.Client, admin storage.Admin, entries *cache.EntryCache, log *logrus.Logger, dryRun bool) *Reconciler {
	return &Reconciler{
		client:      client,
		admin:       admin,
		entries:     entries,
		log:         log,
		dryRun:      dryRun,
		activityIDs: map[string]int64{},
	}
}

// Result of one reconciliation pass.
type Result struct {
	Imported []ImportedWorkItem
	// Skipped counts desired tuples already present on the target.
	Skipped int
}

// Reconcile walks every resolved task and creates its missing entries.
func (r *Reconciler) Reconcile(ctx context.Context, graph *staging.Graph) (*Result, error) {
	if err := r.loadActivities(ctx); err != nil {
		return nil, err
	}

	result := &Result{}
	for _, key := range graph.SortedKeys() {
		task, _ := graph.TaskByKey(key)
		if task.WorkItemID == 0 {
			if r.dryRun {
				continue
			}
			return nil, errors.Errorf("task %q was never resolved to a work item", key)
		}
		imported, skipped, err := r.reconcileTask(ctx, task)
		if err != nil {
			return nil, err
		}
		result.Skipped += skipped
		if len(imported.Entries) > 0 {
			result.Imported = append(result.Imported, imported)
		}
	}
	return result, nil
}

func (r *Reconciler) loadActivities(ctx context.Context) error {
	activities, err := r.client.ListActivities(ctx)
	if err != nil {
		return errors.Wrap(err, "list activities")
	}
	for _, a := range activities {
		r.activityIDs[aggregate.NormalizeName(a.Name)] = a.ID
	}
	return nil
}

func (r *Reconciler) activityID(ctx context.Context, name string) (int64, error) {
	if id, ok := r.activityIDs[aggregate.NormalizeName(name)]; ok {
		return id, nil
	}
	if r.dryRun {
		return 0, nil
	}
	id, err := r.createActivity(ctx, name)
	if err != nil {
		return 0, err
	}
	r.activityIDs[aggregate.NormalizeName(name)] = id
	return id, nil
}

func (r *Reconciler) createActivity(ctx context.Context, name string) (int64, error) {
	if r.client.Capability(tracker.CapCreateActivity) == tracker.CapSupported {
		created, err := r.client.CreateActivity(ctx, name)
		if err != nil {
			return 0, errors.Wrapf(err, "create activity %q", name)
		}
		return created.ID, nil
	}
	if r.admin == nil {
		return 0, errors.Wrapf(storage.ErrNoAdmin, "activity %q cannot be created on generation %s", name, r.client.Generation())
	}
	err := r.admin.ExecBatch(ctx, []storage.Statement{{
		SQL:  `INSERT INTO activities (name, position) SELECT $1, COALESCE(MAX(position), 0) + 1 FROM activities`,
		Args: []any{name},
	}})
	if err != nil {
		return 0, errors.Wrapf(err, "create activity %q in storage", name)
	}
	id, err := r.admin.QueryInt64(ctx, `SELECT id FROM activities WHERE name = $1`, name)
	if err != nil {
		return 0, errors.Wrapf(err, "look up created activity %q", name)
	}
	return id, nil
}

func (r *Reconciler) reconcileTask(ctx context.Context, task *staging.Task) (ImportedWorkItem, int, error) {
	imported := ImportedWorkItem{WorkItemID: task.WorkItemID, ProjectID: task.Project.ID}

	existing, err := r.existingEntries(ctx, task.WorkItemID)
	if err != nil {
		return imported, 0, err
	}
	budget := map[Tuple]int{}
	for _, e := range existing {
		budget[entryTuple(e)]++
	}

	desired, err := r.desiredTuples(ctx, task)
	if err != nil {
		return imported, 0, err
	}

	skipped := 0
	for i, want := range desired {
		if budget[want] > 0 {
			budget[want]--
			skipped++
			continue
		}
		if r.dryRun {
			r.log.WithFields(logrus.Fields{"workItem": task.WorkItemID, "tuple": fmt.Sprintf("%+v", want)}).
				Info("dry-run: would create time entry")
			continue
		}
		spent, err := time.Parse("2006-01-02", want.SpentOn)
		if err != nil {
			return imported, skipped, err
		}
		created, err := r.client.CreateTimeEntry(ctx, tracker.TimeEntry{
			WorkItemID: task.WorkItemID,
			ProjectID:  task.Project.ID,
			UserID:     want.UserID,
			ActivityID: want.ActivityID,
			SpentOn:    spent,
			Minutes:    want.Minutes,
		})
		if err != nil {
			return imported, skipped, errors.Wrapf(err, "create time entry on work item %d", task.WorkItemID)
		}
		imported.Entries = append(imported.Entries, ImportedEntry{
			EntryID: created.ID,
			SpentOn: want.SpentOn,
			Minutes: want.Minutes,
			Order:   i,
			UserID:  want.UserID,
		})
		existing = append(existing, created)
	}
	r.entries.Put(task.WorkItemID, existing)
	return imported, skipped, nil
}

// existingEntries consults the resumable cache first, then the
// direct-storage fast path, then the paginated API.
func (r *Reconciler) existingEntries(ctx context.Context, workItemID int64) ([]tracker.TimeEntry, error) {
	if cached, ok := r.entries.Get(workItemID); ok {
		return cached, nil
	}
	if r.admin != nil {
		rows, err := r.admin.QueryRows(ctx,
			`SELECT id, user_id, activity_id, spent_on, hours FROM time_entries WHERE work_item_id = $1 ORDER BY id`,
			workItemID)
		if err == nil && rows != nil {
			return entriesFromRows(workItemID, rows), nil
		}
	}
	entries, err := r.client.ListTimeEntries(ctx, workItemID)
	if err != nil {
		return nil, errors.Wrapf(err, "list time entries of work item %d", workItemID)
	}
	return entries, nil
}

// desiredTuples derives the multiset of wanted entries from the task's
// positive-hour logs, in source order.
func (r *Reconciler) desiredTuples(ctx context.Context, task *staging.Task) ([]Tuple, error) {
	var out []Tuple
	for _, row := range task.Agg.Logs {
		if row.Hours <= 0 {
			continue
		}
		activityID, err := r.activityID(ctx, row.Activity)
		if err != nil {
			return nil, err
		}
		out = append(out, Tuple{
			SpentOn:    row.Date.Format("2006-01-02"),
			Minutes:    tracker.MinutesFromHours(row.Hours),
			UserID:     task.Assignee.ID,
			ActivityID: activityID,
		})
	}
	return out, nil
}

func entryTuple(e tracker.TimeEntry) Tuple {
	return Tuple{
		SpentOn:    e.SpentOn.Format("2006-01-02"),
		Minutes:    e.Minutes,
		UserID:     e.UserID,
		ActivityID: e.ActivityID,
	}
}

// FixLoggedBy repairs attribution in one batched storage pass: entries are
// created by the authenticated session, not the log's actual author.
func (r *Reconciler) FixLoggedBy(ctx context.Context, imported []ImportedWorkItem) error {
	if r.admin == nil {
		return errors.Wrap(storage.ErrNoAdmin, "logged-by repair")
	}
	var stmts []storage.Statement
	for _, item := range imported {
		for _, e := range item.Entries {
			stmts = append(stmts, storage.Statement{
				SQL:  `UPDATE time_entries SET user_id = $1, logged_by_id = $1 WHERE id = $2`,
				Args: []any{e.UserID, e.EntryID},
			})
		}
	}
	if len(stmts) == 0 {
		return nil
	}
	sort.SliceStable(stmts, func(i, j int) bool {
		return stmts[i].Args[1].(int64) < stmts[j].Args[1].(int64)
	})
	r.log.WithField("entries", len(stmts)).Info("repairing logged-by attribution")
	if err := r.admin.ExecBatch(ctx, stmts); err != nil {
		return err
	}
	r.repairCachedAttribution(imported)
	return nil
}

// repairCachedAttribution mirrors the storage repair into the entry cache.
// Cached entries still carry the session user from creation; leaving them
// stale would make the next run re-create every repaired entry.
func (r *Reconciler) repairCachedAttribution(imported []ImportedWorkItem) {
	for _, item := range imported {
		cached, ok := r.entries.Get(item.WorkItemID)
		if !ok {
			continue
		}
		authors := make(map[int64]int64, len(item.Entries))
		for _, e := range item.Entries {
			authors[e.EntryID] = e.UserID
		}
		for i := range cached {
			if uid, ok := authors[cached[i].ID]; ok {
				cached[i].UserID = uid
			}
		}
		r.entries.Put(item.WorkItemID, cached)
	}
}

// entriesFromRows converts the fast-path row shape into entries. Column
// order matches the select list in existingEntries.
func entriesFromRows(workItemID int64, rows [][]any) []tracker.TimeEntry {
	out := make([]tracker.TimeEntry, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		e := tracker.TimeEntry{WorkItemID: workItemID}
		if v, ok := row[0].(int64); ok {
			e.ID = v
		}
		if v, ok := row[1].(int64); ok {
			e.UserID = v
		}
		if v, ok := row[2].(int64); ok {
			e.ActivityID = v
		}
		switch v := row[3].(type) {
		case time.Time:
			e.SpentOn = v
		case string:
			e.SpentOn, _ = time.Parse("2006-01-02", v)
		}
		if v, ok := row[4].(float64); ok {
			e.Minutes = tracker.MinutesFromHours(v)
		}
		out = append(out, e)
	}
	return out
}
