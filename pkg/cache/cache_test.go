package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iota-uz/worklog-importer/pkg/tracker"
)

func TestTaskCache_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")

	c, err := LoadTaskCache(path)
	require.NoError(t, err)
	require.Empty(t, c.Entries)

	c.Put("#12@alpha", Resolution{WorkItemID: 101, Note: "matched by reference id"})
	c.Put("subject@beta", Resolution{WorkItemID: 102, Note: "created"})
	require.NoError(t, c.Save())

	reloaded, err := LoadTaskCache(path)
	require.NoError(t, err)
	r, ok := reloaded.Get("#12@alpha")
	require.True(t, ok)
	require.Equal(t, int64(101), r.WorkItemID)
	require.Equal(t, "matched by reference id", r.Note)

	reloaded.Delete("#12@alpha")
	_, ok = reloaded.Get("#12@alpha")
	require.False(t, ok)
}

func TestEntryCache_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entries.json")

	c, err := LoadEntryCache(path)
	require.NoError(t, err)

	spent := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	c.Put(101, []tracker.TimeEntry{{ID: 9, WorkItemID: 101, Minutes: 180, SpentOn: spent}})
	require.NoError(t, c.Save())

	reloaded, err := LoadEntryCache(path)
	require.NoError(t, err)
	entries, ok := reloaded.Get(101)
	require.True(t, ok)
	require.Len(t, entries, 1)
	require.Equal(t, 180, entries[0].Minutes)
	require.True(t, entries[0].SpentOn.Equal(spent))
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	c, err := LoadTaskCache(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	require.Empty(t, c.Entries)
}

func TestLoad_IncompatibleFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 99, "data": {}}`), 0o644))

	c, err := LoadTaskCache(path)
	require.NoError(t, err)
	require.Empty(t, c.Entries)

	require.NoError(t, os.WriteFile(path, []byte(`not json at all`), 0o644))
	c, err = LoadTaskCache(path)
	require.NoError(t, err)
	require.Empty(t, c.Entries)
}
