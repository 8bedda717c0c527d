package source

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// IssueKind classifies a row-level defect.
type IssueKind string

const (
	IssueMissingUser     IssueKind = "missing user"
	IssueMissingActivity IssueKind = "missing activity"
	IssueMissingTask     IssueKind = "missing task"
	IssueMissingProject  IssueKind = "missing project"
	IssueBadHours        IssueKind = "bad hours"
	IssueNegativeHours   IssueKind = "negative hours"
	IssueBadDate         IssueKind = "bad date"
)

type Issue struct {
	Kind IssueKind
	Line int
	Text string
}

// Report groups row-level defects by kind. Defects never abort the run;
// rows are defaulted in place and the issue recorded.
type Report struct {
	Issues map[IssueKind][]Issue
}

func (r *Report) add(kind IssueKind, line int, format string, args ...any) {
	if r.Issues == nil {
		r.Issues = map[IssueKind][]Issue{}
	}
	r.Issues[kind] = append(r.Issues[kind], Issue{Kind: kind, Line: line, Text: fmt.Sprintf(format, args...)})
}

func (r *Report) Total() int {
	n := 0
	for _, list := range r.Issues {
		n += len(list)
	}
	return n
}

// String renders the report grouped by kind, kinds sorted for stable output.
func (r *Report) String() string {
	if r.Total() == 0 {
		return "no source defects"
	}
	kinds := make([]string, 0, len(r.Issues))
	for k := range r.Issues {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	var b strings.Builder
	for _, k := range kinds {
		list := r.Issues[IssueKind(k)]
		fmt.Fprintf(&b, "%s (%d):\n", k, len(list))
		for _, issue := range list {
			fmt.Fprintf(&b, "  row %d: %s\n", issue.Line, issue.Text)
		}
	}
	return b.String()
}

// Validate checks every row and applies the documented defaults: missing
// date becomes runDate, missing or unparsable hours become 0, missing
// activity becomes fallbackActivity. Rows are modified in place.
func Validate(rows []Row, runDate time.Time, fallbackActivity string) *Report {
	report := &Report{}
	for i := range rows {
		row := &rows[i]
		if row.User == "" {
			report.add(IssueMissingUser, row.Line, "no user name")
		}
		if row.Activity == "" {
			report.add(IssueMissingActivity, row.Line, "no activity, defaulting to %q", fallbackActivity)
			row.Activity = fallbackActivity
		}
		if row.Task == "" {
			report.add(IssueMissingTask, row.Line, "no work-item label")
		}
		if row.Project == "" {
			report.add(IssueMissingProject, row.Line, "no project name")
		}
		if row.Date.IsZero() {
			report.add(IssueBadDate, row.Line, "unparsable date %q, defaulting to run date", row.RawDate)
			row.Date = runDate
		}
		switch {
		case row.RawHours == "":
			report.add(IssueBadHours, row.Line, "no hours, defaulting to 0")
			row.Hours = 0
		case !parsableHours(row.RawHours):
			report.add(IssueBadHours, row.Line, "unparsable hours %q, defaulting to 0", row.RawHours)
			row.Hours = 0
		case row.Hours < 0:
			report.add(IssueNegativeHours, row.Line, "negative hours %v", row.Hours)
		}
	}
	return report
}

func parsableHours(raw string) bool {
	_, err := parseFloat(raw)
	return err == nil
}
