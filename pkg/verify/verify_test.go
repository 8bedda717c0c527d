package verify

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/worklog-importer/pkg/aggregate"
	"github.com/iota-uz/worklog-importer/pkg/source"
	"github.com/iota-uz/worklog-importer/pkg/staging"
	"github.com/iota-uz/worklog-importer/pkg/tracker"
	"github.com/iota-uz/worklog-importer/pkg/tracker/trackertest"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func resolvedGraph(rows []source.Row) *staging.Graph {
	graph := staging.BuildGraph(aggregate.Build(rows, "Task"))
	for _, u := range graph.Users {
		u.ID = 5
	}
	var itemID int64 = 100
	for _, key := range graph.SortedKeys() {
		task, _ := graph.TaskByKey(key)
		task.Project.ID = 7
		itemID++
		task.WorkItemID = itemID
	}
	return graph
}

func TestAnalyze_CleanWhenSidesAgree(t *testing.T) {
	fake := trackertest.New()
	fake.Activities = []tracker.Activity{{ID: 3, Name: "Dev"}}
	rows := []source.Row{
		{Line: 2, Date: day("2024-01-02"), User: "Jane", Activity: "Dev", Task: "Task #12: Fix bug", Project: "Alpha", Hours: 3},
	}
	graph := resolvedGraph(rows)
	fake.TimeEntries = []tracker.TimeEntry{
		{ID: 1, WorkItemID: graph.Tasks[0].WorkItemID, UserID: 5, ActivityID: 3, SpentOn: day("2024-01-02"), Minutes: 180},
	}

	report, err := New(fake, testLogger()).Analyze(context.Background(), graph)
	require.NoError(t, err)
	require.True(t, report.Clean())
	require.InDelta(t, 3.0, report.SourceHours(), Tolerance)
	require.InDelta(t, 3.0, report.TargetHours(), Tolerance)
	require.Empty(t, report.Drifts)
}

func TestAnalyze_AggregateDeltaEqualsSumOfProjectDeltas(t *testing.T) {
	fake := trackertest.New()
	fake.Activities = []tracker.Activity{{ID: 3, Name: "Dev"}}
	rows := []source.Row{
		{Line: 2, Date: day("2024-01-02"), User: "Jane", Activity: "Dev", Task: "A", Project: "Alpha", Hours: 3},
		{Line: 3, Date: day("2024-01-02"), User: "Jane", Activity: "Dev", Task: "B", Project: "Beta", Hours: 2},
	}
	graph := resolvedGraph(rows)

	report, err := New(fake, testLogger()).Analyze(context.Background(), graph)
	require.NoError(t, err)

	var sum float64
	for _, p := range report.Projects {
		sum += p.Delta()
	}
	require.InDelta(t, report.Delta(), sum, 1e-9)
	require.InDelta(t, 5.0, report.Delta(), Tolerance)
}

func TestAnalyze_OppositeProjectDeltasDoNotCancel(t *testing.T) {
	fake := trackertest.New()
	fake.Activities = []tracker.Activity{{ID: 3, Name: "Dev"}}
	rows := []source.Row{
		{Line: 2, Date: day("2024-01-02"), User: "Jane", Activity: "Dev", Task: "A", Project: "Alpha", Hours: 2},
		{Line: 3, Date: day("2024-01-02"), User: "Jane", Activity: "Dev", Task: "B", Project: "Beta", Hours: 1},
	}
	graph := resolvedGraph(rows)
	// Alpha is missing its entry while Beta carries 2h too many: the
	// aggregate delta cancels to zero but both projects diverge.
	fake.TimeEntries = []tracker.TimeEntry{
		{ID: 1, WorkItemID: 102, UserID: 5, ActivityID: 3, SpentOn: day("2024-01-02"), Minutes: 60},
		{ID: 2, WorkItemID: 102, UserID: 5, ActivityID: 3, SpentOn: day("2024-01-02"), Minutes: 120},
	}

	report, err := New(fake, testLogger()).Analyze(context.Background(), graph)
	require.NoError(t, err)
	require.InDelta(t, 0.0, report.Delta(), Tolerance)
	require.False(t, report.Clean())
	require.Len(t, report.Drifts, 1)
	require.Equal(t, ReasonNearMiss, report.Drifts[0].Reason)
	require.Equal(t, 2, report.Drifts[0].Row.Line)
}

func TestAnalyze_EntryCountMismatchWithEqualHoursIsDirty(t *testing.T) {
	fake := trackertest.New()
	fake.Activities = []tracker.Activity{{ID: 3, Name: "Dev"}}
	rows := []source.Row{
		{Line: 2, Date: day("2024-01-02"), User: "Jane", Activity: "Dev", Task: "A", Project: "Alpha", Hours: 2},
	}
	graph := resolvedGraph(rows)
	// Same total hours, split across two entries instead of one.
	fake.TimeEntries = []tracker.TimeEntry{
		{ID: 1, WorkItemID: graph.Tasks[0].WorkItemID, UserID: 5, ActivityID: 3, SpentOn: day("2024-01-02"), Minutes: 60},
		{ID: 2, WorkItemID: graph.Tasks[0].WorkItemID, UserID: 5, ActivityID: 3, SpentOn: day("2024-01-02"), Minutes: 60},
	}

	report, err := New(fake, testLogger()).Analyze(context.Background(), graph)
	require.NoError(t, err)
	require.InDelta(t, 0.0, report.Delta(), Tolerance)
	require.False(t, report.Clean())
	require.Len(t, report.Drifts, 1)
	require.Equal(t, ReasonNearMiss, report.Drifts[0].Reason)
	require.NotEmpty(t, report.Drifts[0].Nearest)
}

func TestAnalyze_ClassifiesUnresolvedWorkItem(t *testing.T) {
	fake := trackertest.New()
	fake.Activities = []tracker.Activity{{ID: 3, Name: "Dev"}}
	rows := []source.Row{
		{Line: 2, Date: day("2024-01-02"), User: "Jane", Activity: "Dev", Task: "A", Project: "Alpha", Hours: 3},
	}
	graph := staging.BuildGraph(aggregate.Build(rows, "Task"))
	graph.Users[0].ID = 5
	// Work item never resolved.

	report, err := New(fake, testLogger()).Analyze(context.Background(), graph)
	require.NoError(t, err)
	require.False(t, report.Clean())
	require.Len(t, report.Drifts, 1)
	require.Equal(t, ReasonNoWorkItem, report.Drifts[0].Reason)
}

func TestAnalyze_ClassifiesMissingUserAndActivity(t *testing.T) {
	fake := trackertest.New()
	fake.Activities = []tracker.Activity{{ID: 3, Name: "Dev"}}
	rows := []source.Row{
		{Line: 2, Date: day("2024-01-02"), User: "Jane", Activity: "Dev", Task: "A", Project: "Alpha", Hours: 3},
		{Line: 3, Date: day("2024-01-02"), User: "Jane", Activity: "Onboarding", Task: "B", Project: "Alpha", Hours: 2},
	}
	graph := resolvedGraph(rows)
	graph.Users[0].ID = 0 // user never matched

	report, err := New(fake, testLogger()).Analyze(context.Background(), graph)
	require.NoError(t, err)
	require.Len(t, report.Drifts, 2)
	require.Equal(t, ReasonNoUser, report.Drifts[0].Reason)
	require.Equal(t, ReasonNoUser, report.Drifts[1].Reason)
}

func TestAnalyze_NearMissReportsNearestEntries(t *testing.T) {
	fake := trackertest.New()
	fake.Activities = []tracker.Activity{{ID: 3, Name: "Dev"}}
	rows := []source.Row{
		{Line: 2, Date: day("2024-01-02"), User: "Jane", Activity: "Dev", Task: "A", Project: "Alpha", Hours: 3},
	}
	graph := resolvedGraph(rows)
	// Same date, wrong duration.
	fake.TimeEntries = []tracker.TimeEntry{
		{ID: 1, WorkItemID: graph.Tasks[0].WorkItemID, UserID: 5, ActivityID: 3, SpentOn: day("2024-01-02"), Minutes: 60},
	}

	report, err := New(fake, testLogger()).Analyze(context.Background(), graph)
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	drift := report.Drifts[0]
	require.Equal(t, ReasonNearMiss, drift.Reason)
	require.Len(t, drift.Nearest, 1)
	require.Equal(t, int64(1), drift.Nearest[0].ID)
	require.Contains(t, report.String(), "nearest: entry 1")
}

func TestAnalyze_DuplicateRowsNeedDuplicateEntries(t *testing.T) {
	fake := trackertest.New()
	fake.Activities = []tracker.Activity{{ID: 3, Name: "Dev"}}
	row := source.Row{Line: 2, Date: day("2024-01-02"), User: "Jane", Activity: "Dev", Task: "A", Project: "Alpha", Hours: 1}
	graph := resolvedGraph([]source.Row{row, row})
	// Only one entry on the target for two identical desired rows.
	fake.TimeEntries = []tracker.TimeEntry{
		{ID: 1, WorkItemID: graph.Tasks[0].WorkItemID, UserID: 5, ActivityID: 3, SpentOn: day("2024-01-02"), Minutes: 60},
	}

	report, err := New(fake, testLogger()).Analyze(context.Background(), graph)
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	require.Equal(t, ReasonNearMiss, report.Drifts[0].Reason)
}
