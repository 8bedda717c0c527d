package staging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iota-uz/worklog-importer/pkg/aggregate"
	"github.com/iota-uz/worklog-importer/pkg/source"
)

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestSlug(t *testing.T) {
	require.Equal(t, "alpha", Slug("Alpha"))
	require.Equal(t, "my-big-project", Slug("My Big  Project!"))
	require.Equal(t, "a-1", Slug("--A 1--"))
}

func TestSplitName(t *testing.T) {
	first, last := SplitName("Jane Doe")
	require.Equal(t, "Jane", first)
	require.Equal(t, "Doe", last)

	first, last = SplitName("Cher")
	require.Equal(t, "Cher", first)
	require.Empty(t, last)

	first, last = SplitName("Juan Carlos de la Vega")
	require.Equal(t, "Juan", first)
	require.Equal(t, "Carlos de la Vega", last)
}

func TestBuildGraph_SameRefIDMergesAcrossSubjects(t *testing.T) {
	rows := []source.Row{
		{Date: day("2024-01-02"), User: "Jane Doe", Activity: "Dev", Task: "Task #12: Fix bug", Project: "Alpha", Hours: 3},
		{Date: day("2024-01-03"), User: "Jane Doe", Activity: "Dev", Task: "Task #12: Fix bug fast", Project: "Alpha", Hours: 2},
	}
	graph := BuildGraph(aggregate.Build(rows, "Task"))

	require.Len(t, graph.Tasks, 1)
	task := graph.Tasks[0]
	require.InDelta(t, 5.0, task.Agg.TotalHours, 1e-9)
	require.Equal(t, day("2024-01-02"), task.Agg.StartDate)
	require.Equal(t, day("2024-01-02"), task.Agg.DueDate)
	require.Len(t, task.Agg.Logs, 2)
	require.Len(t, graph.Users, 1)
	require.Len(t, graph.Projects, 1)
}

func TestBuildGraph_DifferentRefIDsNeverMerge(t *testing.T) {
	rows := []source.Row{
		{Date: day("2024-01-02"), User: "Jane", Task: "Task #12: Same subject", Project: "Alpha", Hours: 1},
		{Date: day("2024-01-02"), User: "Jane", Task: "Task #13: Same subject", Project: "Alpha", Hours: 1},
	}
	graph := BuildGraph(aggregate.Build(rows, "Task"))
	require.Len(t, graph.Tasks, 2)
}

func TestBuildGraph_NoRefIDKeyedBySubjectAndProject(t *testing.T) {
	rows := []source.Row{
		{Date: day("2024-01-02"), User: "Jane", Task: "Refactor  Parser", Project: "Alpha", Hours: 1},
		{Date: day("2024-01-03"), User: "Jane", Task: "Refactor  Parser", Project: "Beta", Hours: 1},
	}
	graph := BuildGraph(aggregate.Build(rows, "Task"))

	// Same subject in different projects stays separate.
	require.Len(t, graph.Tasks, 2)
	require.Len(t, graph.Projects, 2)
}

func TestBuildGraph_UserDedupAcrossSpellings(t *testing.T) {
	rows := []source.Row{
		{Date: day("2024-01-02"), User: "Jane  Doe", Task: "A", Project: "Alpha", Hours: 1},
		{Date: day("2024-01-02"), User: "jane doe", Task: "B", Project: "Alpha", Hours: 1},
	}
	graph := BuildGraph(aggregate.Build(rows, "Task"))

	require.Len(t, graph.Users, 1)
	require.Equal(t, "Jane", graph.Users[0].FirstName)
	require.Equal(t, "Doe", graph.Users[0].LastName)
}

func TestGraph_SortedKeysAndLookup(t *testing.T) {
	rows := []source.Row{
		{Date: day("2024-01-02"), User: "Jane", Task: "Task #2: B", Project: "Alpha", Hours: 1},
		{Date: day("2024-01-02"), User: "Jane", Task: "Task #1: A", Project: "Alpha", Hours: 1},
	}
	graph := BuildGraph(aggregate.Build(rows, "Task"))

	keys := graph.SortedKeys()
	require.Equal(t, []string{"#1@alpha", "#2@alpha"}, keys)

	task, ok := graph.TaskByKey("#1@alpha")
	require.True(t, ok)
	require.Equal(t, 1, task.Agg.RefID)
}
