package pipeline

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/worklog-importer/pkg/aggregate"
	"github.com/iota-uz/worklog-importer/pkg/cache"
	"github.com/iota-uz/worklog-importer/pkg/configuration"
	"github.com/iota-uz/worklog-importer/pkg/history"
	"github.com/iota-uz/worklog-importer/pkg/resolver"
	"github.com/iota-uz/worklog-importer/pkg/source"
	"github.com/iota-uz/worklog-importer/pkg/staging"
	"github.com/iota-uz/worklog-importer/pkg/storage"
	"github.com/iota-uz/worklog-importer/pkg/timelog"
	"github.com/iota-uz/worklog-importer/pkg/tracker"
	"github.com/iota-uz/worklog-importer/pkg/verify"
)

// Pipeline drives the import stages in fixed order. The staging graph is
// built once and enriched in place; the two on-disk caches are the only
// state crossing run boundaries, flushed at stage completion.
type Pipeline struct {
	cfg     *configuration.Configuration
	log     *logrus.Logger
	client  tracker.Client
	admin   storage.Admin
	confirm resolver.Confirmer

	tasks   *cache.TaskCache
	entries *cache.EntryCache

	// Report of the final verification stage, for the CLI to print.
	Report *verify.Report
}

func New(cfg *configuration.Configuration, client tracker.Client, admin storage.Admin, confirm resolver.Confirmer) (*Pipeline, error) {
	tasks, err := cache.LoadTaskCache(cfg.TaskCachePath)
	if err != nil {
		return nil, err
	}
	entries, err := cache.LoadEntryCache(cfg.EntryCachePath)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:     cfg,
		log:     cfg.Logger(),
		client:  client,
		admin:   admin,
		confirm: confirm,
		tasks:   tasks,
		entries: entries,
	}, nil
}

// Run executes the configured mode.
func (p *Pipeline) Run(ctx context.Context) error {
	switch p.cfg.Mode {
	case configuration.ModeFullImport:
		return p.runImport(ctx)
	case configuration.ModeAnalyze:
		return p.runAnalyze(ctx)
	case configuration.ModeDatesOnly:
		return p.runDatesOnly(ctx)
	case configuration.ModeLoggedBy:
		return p.runLoggedBy(ctx)
	}
	return errors.Errorf("unknown mode %q", p.cfg.Mode)
}

type stage struct {
	name string
	run  func(ctx context.Context) error
}

// runStages executes stages in order, flushing both caches after each one
// completes, so a crash mid-stage loses at most that stage's new entries.
func (p *Pipeline) runStages(ctx context.Context, stages []stage) error {
	for _, s := range stages {
		started := time.Now()
		p.log.WithField("stage", s.name).Info("stage started")
		if err := s.run(ctx); err != nil {
			return errors.Wrapf(err, "stage %s", s.name)
		}
		if !p.cfg.DryRun {
			if err := p.tasks.Save(); err != nil {
				return errors.Wrapf(err, "stage %s: flush task cache", s.name)
			}
			if err := p.entries.Save(); err != nil {
				return errors.Wrapf(err, "stage %s: flush entry cache", s.name)
			}
		}
		p.log.WithFields(logrus.Fields{"stage": s.name, "took": time.Since(started).Round(time.Millisecond)}).
			Info("stage done")
	}
	return nil
}

// loadGraph runs the pre-mutation stages: read, validate, aggregate, stage.
func (p *Pipeline) loadGraph() (*staging.Graph, error) {
	rows, err := source.Read(p.cfg.SourcePath, p.cfg.SheetName)
	if err != nil {
		return nil, err
	}
	report := source.Validate(rows, time.Now().UTC().Truncate(24*time.Hour), p.cfg.DefaultActivity)
	if report.Total() > 0 {
		p.log.Warnf("source defects:\n%s", report)
	}
	graph := staging.BuildGraph(aggregate.Build(rows, p.cfg.DefaultTaskType))
	p.log.WithFields(logrus.Fields{
		"rows": len(rows), "users": len(graph.Users), "projects": len(graph.Projects), "tasks": len(graph.Tasks),
	}).Info("staging graph built")
	return graph, nil
}

func (p *Pipeline) newResolver(dryRun bool) *resolver.Resolver {
	return resolver.New(p.client, p.admin, p.confirm, p.tasks, p.log, resolver.Options{
		DryRun:          dryRun,
		SkipProjects:    p.cfg.SkipProjects,
		DefaultTaskType: p.cfg.DefaultTaskType,
		MemberRoleName:  p.cfg.MemberRoleName,
	})
}

func (p *Pipeline) runImport(ctx context.Context) error {
	var (
		graph *staging.Graph
		res   *resolver.Resolver
		rec   *timelog.Reconciler
		recR  *timelog.Result
	)
	res = p.newResolver(p.cfg.DryRun)
	rec = timelog.New(p.client, p.admin, p.entries, p.log, p.cfg.DryRun)

	stages := []stage{
		{"read-source", func(ctx context.Context) error {
			var err error
			graph, err = p.loadGraph()
			return err
		}},
		{"resolve-users", func(ctx context.Context) error { return res.ResolveUsers(ctx, graph) }},
		{"resolve-projects", func(ctx context.Context) error { return res.ResolveProjects(ctx, graph) }},
		{"resolve-types", func(ctx context.Context) error { return res.ResolveTypes(ctx, graph) }},
		{"resolve-tasks", func(ctx context.Context) error { return res.ResolveTasks(ctx, graph) }},
		{"reconcile-time-entries", func(ctx context.Context) error {
			var err error
			recR, err = rec.Reconcile(ctx, graph)
			return err
		}},
	}
	if p.admin != nil && !p.cfg.DryRun {
		stages = append(stages, stage{"fix-logged-by", func(ctx context.Context) error {
			return rec.FixLoggedBy(ctx, recR.Imported)
		}})
		if p.cfg.RewriteHistory {
			stages = append(stages, stage{"rewrite-history", func(ctx context.Context) error {
				return history.New(p.admin, p.log).Rewrite(ctx, graph, res.CreatedWorkItems, recR.Imported)
			}})
		}
	}
	stages = append(stages, stage{"verify", func(ctx context.Context) error {
		report, err := verify.New(p.client, p.log).Analyze(ctx, graph)
		if err != nil {
			return err
		}
		p.Report = report
		if report.Clean() {
			p.log.Info("verification clean: source and target agree")
		} else {
			p.log.Warnf("verification mismatch:\n%s", report)
		}
		return nil
	}})
	return p.runStages(ctx, stages)
}

func (p *Pipeline) runAnalyze(ctx context.Context) error {
	graph, err := p.loadGraph()
	if err != nil {
		return err
	}
	// Resolution in dry-run mode: match everything, mutate nothing.
	res := p.newResolver(true)
	if err := p.resolveAll(ctx, res, graph); err != nil {
		return err
	}
	report, err := verify.New(p.client, p.log).Analyze(ctx, graph)
	if err != nil {
		return err
	}
	p.Report = report
	p.log.Infof("analysis:\n%s", report)
	return nil
}

func (p *Pipeline) runDatesOnly(ctx context.Context) error {
	graph, imported, err := p.resolveExisting(ctx)
	if err != nil {
		return err
	}
	var created []int64
	for _, key := range graph.SortedKeys() {
		task, _ := graph.TaskByKey(key)
		if task.WorkItemID != 0 {
			created = append(created, task.WorkItemID)
		}
	}
	return history.New(p.admin, p.log).Rewrite(ctx, graph, created, imported)
}

func (p *Pipeline) runLoggedBy(ctx context.Context) error {
	_, imported, err := p.resolveExisting(ctx)
	if err != nil {
		return err
	}
	rec := timelog.New(p.client, p.admin, p.entries, p.log, false)
	if err := rec.FixLoggedBy(ctx, imported); err != nil {
		return err
	}
	if err := p.entries.Save(); err != nil {
		return errors.Wrap(err, "flush entry cache")
	}
	return nil
}

func (p *Pipeline) resolveAll(ctx context.Context, res *resolver.Resolver, graph *staging.Graph) error {
	if err := res.ResolveUsers(ctx, graph); err != nil {
		return err
	}
	if err := res.ResolveProjects(ctx, graph); err != nil {
		return err
	}
	if err := res.ResolveTypes(ctx, graph); err != nil {
		return err
	}
	return res.ResolveTasks(ctx, graph)
}

// resolveExisting matches the source against the target without creating
// anything, then pairs every desired tuple with the existing entry it
// matches, in source order. Repair modes operate on those pairs.
func (p *Pipeline) resolveExisting(ctx context.Context) (*staging.Graph, []timelog.ImportedWorkItem, error) {
	graph, err := p.loadGraph()
	if err != nil {
		return nil, nil, err
	}
	res := p.newResolver(true)
	if err := p.resolveAll(ctx, res, graph); err != nil {
		return nil, nil, err
	}

	var imported []timelog.ImportedWorkItem
	for _, key := range graph.SortedKeys() {
		task, _ := graph.TaskByKey(key)
		if task.WorkItemID == 0 {
			continue
		}
		entries, err := p.client.ListTimeEntries(ctx, task.WorkItemID)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "list time entries of work item %d", task.WorkItemID)
		}
		item := matchExisting(task, entries)
		if len(item.Entries) > 0 {
			imported = append(imported, item)
		}
	}
	return graph, imported, nil
}

// matchExisting pairs the task's positive-hour rows with existing entries
// by (date, minutes), multiset-style, ignoring attribution since that may
// be exactly what a repair run is about to fix.
func matchExisting(task *staging.Task, entries []tracker.TimeEntry) timelog.ImportedWorkItem {
	item := timelog.ImportedWorkItem{WorkItemID: task.WorkItemID, ProjectID: task.Project.ID}
	type k struct {
		date    string
		minutes int
	}
	pool := map[k][]tracker.TimeEntry{}
	for _, e := range entries {
		kk := k{e.SpentOn.Format("2006-01-02"), e.Minutes}
		pool[kk] = append(pool[kk], e)
	}
	order := 0
	for _, row := range task.Agg.Logs {
		if row.Hours <= 0 {
			continue
		}
		kk := k{row.Date.Format("2006-01-02"), tracker.MinutesFromHours(row.Hours)}
		candidates := pool[kk]
		if len(candidates) == 0 {
			continue
		}
		e := candidates[0]
		pool[kk] = candidates[1:]
		item.Entries = append(item.Entries, timelog.ImportedEntry{
			EntryID: e.ID,
			SpentOn: kk.date,
			Minutes: kk.minutes,
			Order:   order,
			UserID:  task.Assignee.ID,
		})
		order++
	}
	return item
}
