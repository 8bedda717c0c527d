package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/iota-uz/worklog-importer/pkg/configuration"
	"github.com/iota-uz/worklog-importer/pkg/resolver"
	"github.com/iota-uz/worklog-importer/pkg/storage"
	"github.com/iota-uz/worklog-importer/pkg/tracker"
	"github.com/iota-uz/worklog-importer/pkg/tracker/trackertest"
)

func writeWorkbook(t *testing.T, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	_, err := f.NewSheet("Worklog")
	require.NoError(t, err)

	all := append([][]any{{"Date", "User", "Activity", "Task", "Project", "Hours"}}, rows...)
	for i, cells := range all {
		addr, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Worklog", addr, &cells))
	}
	path := filepath.Join(t.TempDir(), "worklog.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func testConfig(t *testing.T, sourcePath string, mode configuration.Mode) *configuration.Configuration {
	t.Helper()
	dir := t.TempDir()
	return &configuration.Configuration{
		SourcePath:      sourcePath,
		SheetName:       "Worklog",
		DefaultTaskType: "Task",
		DefaultActivity: "Development",
		MemberRoleName:  "Member",
		TaskCachePath:   filepath.Join(dir, "tasks.json"),
		EntryCachePath:  filepath.Join(dir, "entries.json"),
		Mode:            mode,
		LogLevel:        "panic",
	}
}

func seededFake() *trackertest.Fake {
	fake := trackertest.New()
	fake.Roles = []tracker.Role{{ID: 1, Name: "Member"}}
	fake.Types = []tracker.TaskType{{ID: 10, Name: "Task"}}
	fake.Activities = []tracker.Activity{{ID: 3, Name: "Dev"}}
	return fake
}

var importRows = [][]any{
	{"2024-01-02", "Jane Doe", "Dev", "Task #12: Fix bug", "Alpha", "3"},
	{"2024-01-03", "Jane Doe", "Dev", "Task #12: Fix bug fast", "Alpha", "2"},
	{"2024-01-04", "John Roe", "Dev", "Refactor parser", "Beta", "8.5"},
}

func newPipeline(t *testing.T, cfg *configuration.Configuration, fake *trackertest.Fake, admin storage.Admin) *Pipeline {
	t.Helper()
	p, err := New(cfg, fake, admin, resolver.AutoConfirm{})
	require.NoError(t, err)
	return p
}

func TestRun_FullImport(t *testing.T) {
	path := writeWorkbook(t, importRows)
	cfg := testConfig(t, path, configuration.ModeFullImport)
	fake := seededFake()
	admin := storage.NewMemAdmin()

	p := newPipeline(t, cfg, fake, admin)
	require.NoError(t, p.Run(context.Background()))

	require.Len(t, fake.Users, 2)
	require.Len(t, fake.Projects, 2)
	// Reference id 12 merged into one work item plus the parser task.
	require.Len(t, fake.WorkItems, 2)
	require.Len(t, fake.TimeEntries, 3)

	require.NotNil(t, p.Report)
	require.True(t, p.Report.Clean(), p.Report.String())
}

func TestRun_FullImportIsIdempotent(t *testing.T) {
	path := writeWorkbook(t, importRows)
	cfg := testConfig(t, path, configuration.ModeFullImport)
	fake := seededFake()
	admin := storage.NewMemAdmin()

	require.NoError(t, newPipeline(t, cfg, fake, admin).Run(context.Background()))
	items, entries := len(fake.WorkItems), len(fake.TimeEntries)

	// Second run against the same source and target state: cached ids are
	// re-verified and every desired tuple already exists.
	require.NoError(t, newPipeline(t, cfg, fake, admin).Run(context.Background()))
	require.Len(t, fake.WorkItems, items)
	require.Len(t, fake.TimeEntries, entries)
}

func TestRun_CachesSurviveAcrossRuns(t *testing.T) {
	path := writeWorkbook(t, importRows)
	cfg := testConfig(t, path, configuration.ModeFullImport)
	fake := seededFake()

	p := newPipeline(t, cfg, fake, nil)
	require.NoError(t, p.Run(context.Background()))
	require.NotEmpty(t, p.tasks.Entries)

	p2 := newPipeline(t, cfg, fake, nil)
	require.Equal(t, p.tasks.Entries, p2.tasks.Entries)
}

func TestRun_DryRunMutatesNothing(t *testing.T) {
	path := writeWorkbook(t, importRows)
	cfg := testConfig(t, path, configuration.ModeFullImport)
	cfg.DryRun = true
	fake := seededFake()

	p := newPipeline(t, cfg, fake, nil)
	require.NoError(t, p.Run(context.Background()))

	require.Empty(t, fake.Users)
	require.Empty(t, fake.Projects)
	require.Empty(t, fake.WorkItems)
	require.Empty(t, fake.TimeEntries)
}

func TestRun_DeclinedConfirmationPropagates(t *testing.T) {
	path := writeWorkbook(t, importRows)
	cfg := testConfig(t, path, configuration.ModeFullImport)
	fake := seededFake()

	p, err := New(cfg, fake, nil, declineAll{})
	require.NoError(t, err)
	err = p.Run(context.Background())
	require.ErrorIs(t, err, resolver.ErrDeclined)
	require.Empty(t, fake.Users)
}

type declineAll struct{}

func (declineAll) Confirm(string) (bool, error) { return false, nil }

func TestRun_AnalyzeModeNeverMutates(t *testing.T) {
	path := writeWorkbook(t, importRows)
	cfg := testConfig(t, path, configuration.ModeAnalyze)
	fake := seededFake()

	p := newPipeline(t, cfg, fake, nil)
	require.NoError(t, p.Run(context.Background()))

	require.Empty(t, fake.WorkItems)
	require.NotNil(t, p.Report)
	require.False(t, p.Report.Clean())
}

func TestRun_LoggedByModeRepairsAttribution(t *testing.T) {
	path := writeWorkbook(t, importRows)
	fake := seededFake()
	admin := storage.NewMemAdmin()

	// Import with a session user so every entry is misattributed.
	cfg := testConfig(t, path, configuration.ModeFullImport)
	fake.SessionUserID = 999
	require.NoError(t, newPipeline(t, cfg, fake, admin).Run(context.Background()))
	require.NotEmpty(t, fake.TimeEntries)
	for _, e := range fake.TimeEntries {
		require.Equal(t, int64(999), e.UserID)
	}

	// Standalone repair matches entries by (date, minutes) and rewrites
	// attribution through storage.
	repairAdmin := storage.NewMemAdmin()
	cfg2 := testConfig(t, path, configuration.ModeLoggedBy)
	p := newPipeline(t, cfg2, fake, repairAdmin)
	require.NoError(t, p.Run(context.Background()))

	stmts := repairAdmin.Statements()
	require.Len(t, stmts, 3)
	for _, stmt := range stmts {
		require.Contains(t, stmt.SQL, "logged_by_id")
	}
}

func TestRun_ImportAfterLoggedByRepairAddsNothing(t *testing.T) {
	path := writeWorkbook(t, importRows)
	cfg := testConfig(t, path, configuration.ModeFullImport)
	fake := seededFake()
	fake.SessionUserID = 999
	admin := storage.NewMemAdmin()

	require.NoError(t, newPipeline(t, cfg, fake, admin).Run(context.Background()))
	require.Len(t, fake.TimeEntries, 3)

	// Mirror the storage repair into the fake, the way the tracker would
	// read the updated rows afterwards.
	for _, stmt := range admin.Statements() {
		if !strings.Contains(stmt.SQL, "logged_by_id") {
			continue
		}
		user, entry := stmt.Args[0].(int64), stmt.Args[1].(int64)
		for i := range fake.TimeEntries {
			if fake.TimeEntries[i].ID == entry {
				fake.TimeEntries[i].UserID = user
			}
		}
	}

	// Rerunning the import must not duplicate the repaired entries.
	require.NoError(t, newPipeline(t, cfg, fake, admin).Run(context.Background()))
	require.Len(t, fake.TimeEntries, 3)
}

func TestRun_DatesOnlyModeRewritesTimestamps(t *testing.T) {
	path := writeWorkbook(t, importRows)
	fake := seededFake()

	cfg := testConfig(t, path, configuration.ModeFullImport)
	require.NoError(t, newPipeline(t, cfg, fake, nil).Run(context.Background()))

	admin := storage.NewMemAdmin()
	cfg2 := testConfig(t, path, configuration.ModeDatesOnly)
	require.NoError(t, newPipeline(t, cfg2, fake, admin).Run(context.Background()))

	stmts := admin.Statements()
	require.NotEmpty(t, stmts)
	var workItems, entries int
	for _, stmt := range stmts {
		switch {
		case strings.Contains(stmt.SQL, "work_items"):
			workItems++
		case strings.Contains(stmt.SQL, "time_entries"):
			entries++
		}
	}
	require.Equal(t, 2, workItems)
	require.Equal(t, 3, entries)
}
