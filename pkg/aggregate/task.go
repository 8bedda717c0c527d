package aggregate

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/iota-uz/worklog-importer/pkg/source"
)

// Task is one aggregated work item: all source rows sharing
// (project, normalized assignee, raw label), with computed totals and dates.
type Task struct {
	Project  string
	Assignee string
	// Label is the raw work-item label exactly as the source spelled it.
	Label string

	// Type and RefID come from a leading "Type #id: " prefix when present.
	Type    string
	RefID   int
	Subject string

	TotalHours float64
	StartDate  time.Time
	DueDate    time.Time

	// Logs keeps every contributing row in source order, including rows
	// with non-positive hours.
	Logs []source.Row
}

// labelPattern matches "Bug #123: Fix the thing" style labels: a type word,
// a numeric reference id, then the subject.
var labelPattern = regexp.MustCompile(`^([A-Za-z][A-Za-z ]*?)\s*#(\d+)\s*:\s*(.*)$`)

// ParseLabel splits a raw label into type, reference id and subject. When
// the label carries no prefix, the whole label is the subject, RefID is 0
// and the type is empty (the caller applies the configured default).
func ParseLabel(label string) (typ string, refID int, subject string) {
	m := labelPattern.FindStringSubmatch(strings.TrimSpace(label))
	if m == nil {
		return "", 0, strings.TrimSpace(label)
	}
	id, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, strings.TrimSpace(label)
	}
	return strings.TrimSpace(m[1]), id, strings.TrimSpace(m[3])
}

// NormalizeName collapses case and interior whitespace so "jane  DOE" and
// "Jane Doe" address the same person.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// Build groups rows into aggregated tasks keyed by (project, normalized
// assignee, raw label). Output order is deterministic: by project, assignee,
// then label.
func Build(rows []source.Row, defaultType string) []*Task {
	type key struct {
		project  string
		assignee string
		label    string
	}
	byKey := map[key]*Task{}
	order := make([]key, 0)

	for _, row := range rows {
		k := key{project: row.Project, assignee: NormalizeName(row.User), label: row.Task}
		task, ok := byKey[k]
		if !ok {
			typ, refID, subject := ParseLabel(row.Task)
			if typ == "" {
				typ = defaultType
			}
			task = &Task{
				Project:  row.Project,
				Assignee: k.assignee,
				Label:    row.Task,
				Type:     typ,
				RefID:    refID,
				Subject:  subject,
			}
			byKey[k] = task
			order = append(order, k)
		}
		task.Logs = append(task.Logs, row)
	}

	tasks := make([]*Task, 0, len(byKey))
	for _, k := range order {
		task := byKey[k]
		task.Recompute()
		tasks = append(tasks, task)
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Project != b.Project {
			return a.Project < b.Project
		}
		if a.Assignee != b.Assignee {
			return a.Assignee < b.Assignee
		}
		return a.Label < b.Label
	})
	return tasks
}

// Recompute derives TotalHours, StartDate and DueDate from Logs. Only rows
// with positive hours count toward the total; every row counts for dates.
func (t *Task) Recompute() {
	t.TotalHours = 0
	t.StartDate = time.Time{}
	for _, row := range t.Logs {
		if row.Hours > 0 {
			t.TotalHours += row.Hours
		}
		if t.StartDate.IsZero() || row.Date.Before(t.StartDate) {
			t.StartDate = row.Date
		}
	}
	t.DueDate = dueDate(t.StartDate, t.TotalHours)
}

// dueDate is start + ceil(hours/8)-1 days for positive hours, start
// otherwise. An 8h task is due the day it starts.
func dueDate(start time.Time, hours float64) time.Time {
	if hours <= 0 {
		return start
	}
	days := int(math.Ceil(hours/8)) - 1
	return start.AddDate(0, 0, days)
}
