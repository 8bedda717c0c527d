package verify

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/worklog-importer/pkg/aggregate"
	"github.com/iota-uz/worklog-importer/pkg/source"
	"github.com/iota-uz/worklog-importer/pkg/staging"
	"github.com/iota-uz/worklog-importer/pkg/tracker"
)

// Tolerance absorbs rounding noise from the hours-to-minutes conversion.
// Any larger delta triggers row-level drift classification.
const Tolerance = 0.01

// Reason classifies why a source row has no matching target entry.
type Reason string

const (
	ReasonNoWorkItem Reason = "no matching work item"
	ReasonNoUser     Reason = "no matching user"
	ReasonNoActivity Reason = "no matching activity mapping"
	ReasonNearMiss   Reason = "mismatch despite resolved identifiers"
)

// Drift is one unmatched source row with its explanation and, for near
// misses, the closest existing entries.
type Drift struct {
	Row     source.Row
	TaskKey string
	Reason  Reason
	Nearest []tracker.TimeEntry
}

// ProjectTotals compares one project's source and target sides.
type ProjectTotals struct {
	Project       string
	SourceHours   float64
	TargetHours   float64
	SourceEntries int
	TargetEntries int
}

func (p ProjectTotals) Delta() float64 { return p.SourceHours - p.TargetHours }

// Report is the outcome of one verification pass. Mismatches are reported,
// never fatal.
type Report struct {
	Projects []ProjectTotals
	Drifts   []Drift
}

func (r *Report) SourceHours() float64 {
	var n float64
	for _, p := range r.Projects {
		n += p.SourceHours
	}
	return n
}

func (r *Report) TargetHours() float64 {
	var n float64
	for _, p := range r.Projects {
		n += p.TargetHours
	}
	return n
}

// Delta is the aggregate hours difference; by construction it equals the
// sum of the per-project deltas.
func (r *Report) Delta() float64 { return r.SourceHours() - r.TargetHours() }

func (r *Report) Clean() bool { return !r.mismatched() && len(r.Drifts) == 0 }

// mismatched checks every project separately: opposite-sign deltas must not
// cancel out in the aggregate, and equal hours split across a different
// number of entries is still a divergence.
func (r *Report) mismatched() bool {
	for _, p := range r.Projects {
		if math.Abs(p.Delta()) > Tolerance || p.SourceEntries != p.TargetEntries {
			return true
		}
	}
	return false
}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "source %.2fh vs target %.2fh (delta %+.2fh)\n", r.SourceHours(), r.TargetHours(), r.Delta())
	for _, p := range r.Projects {
		fmt.Fprintf(&b, "  %s: source %.2fh target %.2fh (delta %+.2fh, %d vs %d entries)\n",
			p.Project, p.SourceHours, p.TargetHours, p.Delta(), p.SourceEntries, p.TargetEntries)
	}
	if len(r.Drifts) > 0 {
		fmt.Fprintf(&b, "unmatched source rows (%d):\n", len(r.Drifts))
		for _, d := range r.Drifts {
			fmt.Fprintf(&b, "  row %d (%s %s %.2fh): %s\n", d.Row.Line, d.Row.Project, d.Row.User, d.Row.Hours, d.Reason)
			for _, near := range d.Nearest {
				fmt.Fprintf(&b, "    nearest: entry %d on %s, %d min, user %d, activity %d\n",
					near.ID, near.SpentOn.Format("2006-01-02"), near.Minutes, near.UserID, near.ActivityID)
			}
		}
	}
	return b.String()
}

// Analyzer compares source and target totals and explains every divergence
// row by row.
type Analyzer struct {
	client tracker.Client
	log    *logrus.Logger
}

func New(client tracker.Client, log *logrus.Logger) *Analyzer {
	return &Analyzer{client: client, log: log}
}

// Analyze computes totals per project across every staged task and, when
// they diverge beyond tolerance, classifies the unmatched rows.
func (a *Analyzer) Analyze(ctx context.Context, graph *staging.Graph) (*Report, error) {
	activities, err := a.client.ListActivities(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list activities")
	}
	activityIDs := map[string]int64{}
	for _, act := range activities {
		activityIDs[aggregate.NormalizeName(act.Name)] = act.ID
	}

	report := &Report{}
	perProject := map[string]*ProjectTotals{}
	totals := func(name string) *ProjectTotals {
		if p, ok := perProject[name]; ok {
			return p
		}
		p := &ProjectTotals{Project: name}
		perProject[name] = p
		return p
	}

	entriesByItem := map[int64][]tracker.TimeEntry{}
	for i, key := range graph.SortedKeys() {
		task, _ := graph.TaskByKey(key)
		p := totals(task.Project.Name)

		for _, row := range task.Agg.Logs {
			if row.Hours <= 0 {
				continue
			}
			p.SourceHours += row.Hours
			p.SourceEntries++
		}

		if task.WorkItemID == 0 {
			continue
		}
		entries, ok := entriesByItem[task.WorkItemID]
		if !ok {
			entries, err = a.client.ListTimeEntries(ctx, task.WorkItemID)
			if err != nil {
				return nil, errors.Wrapf(err, "list time entries of work item %d", task.WorkItemID)
			}
			entriesByItem[task.WorkItemID] = entries
		}
		for _, e := range entries {
			p.TargetHours += float64(e.Minutes) / 60
			p.TargetEntries++
		}
		if (i+1)%50 == 0 {
			a.log.WithField("tasks", i+1).Info("verification progress")
		}
	}

	names := make([]string, 0, len(perProject))
	for name := range perProject {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		report.Projects = append(report.Projects, *perProject[name])
	}

	if report.mismatched() {
		report.Drifts = a.classify(graph, entriesByItem, activityIDs)
	}
	return report, nil
}

// classify explains every positive-hour source row that has no matching
// target entry, consuming matches multiset-style so duplicates line up.
func (a *Analyzer) classify(graph *staging.Graph, entriesByItem map[int64][]tracker.TimeEntry, activityIDs map[string]int64) []Drift {
	var drifts []Drift
	budgets := map[int64]map[matchKey]int{}

	for _, key := range graph.SortedKeys() {
		task, _ := graph.TaskByKey(key)
		for _, row := range task.Agg.Logs {
			if row.Hours <= 0 {
				continue
			}
			switch {
			case task.WorkItemID == 0:
				drifts = append(drifts, Drift{Row: row, TaskKey: key, Reason: ReasonNoWorkItem})
				continue
			case task.Assignee.ID == 0:
				drifts = append(drifts, Drift{Row: row, TaskKey: key, Reason: ReasonNoUser})
				continue
			}
			activityID, ok := activityIDs[aggregate.NormalizeName(row.Activity)]
			if !ok {
				drifts = append(drifts, Drift{Row: row, TaskKey: key, Reason: ReasonNoActivity})
				continue
			}

			budget, ok := budgets[task.WorkItemID]
			if !ok {
				budget = map[matchKey]int{}
				for _, e := range entriesByItem[task.WorkItemID] {
					budget[matchKey{e.SpentOn.Format("2006-01-02"), e.Minutes, e.UserID, e.ActivityID}]++
				}
				budgets[task.WorkItemID] = budget
			}
			want := matchKey{row.Date.Format("2006-01-02"), tracker.MinutesFromHours(row.Hours), task.Assignee.ID, activityID}
			if budget[want] > 0 {
				budget[want]--
				continue
			}
			drifts = append(drifts, Drift{
				Row:     row,
				TaskKey: key,
				Reason:  ReasonNearMiss,
				Nearest: nearest(entriesByItem[task.WorkItemID], want),
			})
		}
	}
	return drifts
}

type matchKey struct {
	spentOn    string
	minutes    int
	userID     int64
	activityID int64
}

// nearest returns entries sharing the date or the duration with the wanted
// tuple, closest first, capped at three.
func nearest(entries []tracker.TimeEntry, want matchKey) []tracker.TimeEntry {
	type scored struct {
		entry tracker.TimeEntry
		score int
	}
	var candidates []scored
	for _, e := range entries {
		score := 0
		if e.SpentOn.Format("2006-01-02") == want.spentOn {
			score += 2
		}
		if e.Minutes == want.minutes {
			score += 2
		}
		if e.UserID == want.userID {
			score++
		}
		if e.ActivityID == want.activityID {
			score++
		}
		if score > 0 {
			candidates = append(candidates, scored{e, score})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	out := make([]tracker.TimeEntry, 0, 3)
	for _, c := range candidates {
		if len(out) == 3 {
			break
		}
		out = append(out, c.entry)
	}
	return out
}
