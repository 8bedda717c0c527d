package cache

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/go-faster/errors"

	"github.com/iota-uz/worklog-importer/pkg/tracker"
)

// schemaVersion guards against reusing a cache file written by an
// incompatible build. A mismatched file is discarded, not an error.
const schemaVersion = 1

// Resolution is one cached task resolution: the tracker work-item id a
// staging key resolved to, plus a human-readable note on how the match was
// made. Cached ids are re-verified before reuse, never trusted blindly.
type Resolution struct {
	WorkItemID int64  `json:"workItemId"`
	Note       string `json:"note"`
}

// TaskCache maps staging keys to resolutions across runs.
type TaskCache struct {
	path    string
	Entries map[string]Resolution
}

// EntryCache maps a resolved work-item id to the raw time entries that were
// known to exist on the target when last fetched.
type EntryCache struct {
	path    string
	Entries map[int64][]tracker.TimeEntry
}

type envelope struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// LoadTaskCache reads the cache at path. A missing or incompatible file
// yields an empty cache.
func LoadTaskCache(path string) (*TaskCache, error) {
	c := &TaskCache{path: path, Entries: map[string]Resolution{}}
	err := load(path, &c.Entries)
	return c, err
}

// LoadEntryCache reads the cache at path. A missing or incompatible file
// yields an empty cache.
func LoadEntryCache(path string) (*EntryCache, error) {
	c := &EntryCache{path: path, Entries: map[int64][]tracker.TimeEntry{}}
	err := load(path, &c.Entries)
	return c, err
}

func (c *TaskCache) Save() error  { return save(c.path, c.Entries) }
func (c *EntryCache) Save() error { return save(c.path, c.Entries) }

func (c *TaskCache) Get(key string) (Resolution, bool) {
	r, ok := c.Entries[key]
	return r, ok
}

func (c *TaskCache) Put(key string, r Resolution) {
	c.Entries[key] = r
}

func (c *TaskCache) Delete(key string) {
	delete(c.Entries, key)
}

func (c *EntryCache) Get(workItemID int64) ([]tracker.TimeEntry, bool) {
	entries, ok := c.Entries[workItemID]
	return entries, ok
}

func (c *EntryCache) Put(workItemID int64, entries []tracker.TimeEntry) {
	c.Entries[workItemID] = entries
}

func load(path string, into any) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read cache")
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Version != schemaVersion {
		// Stale or foreign file; start fresh rather than fail the run.
		return nil
	}
	if err := json.Unmarshal(env.Data, into); err != nil {
		return nil
	}
	return nil
}

// save writes atomically: marshal to a sibling temp file, then rename over
// the target, so a crash mid-write never clobbers the previous cache.
func save(path string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "encode cache")
	}
	out, err := json.MarshalIndent(envelope{Version: schemaVersion, Data: raw}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode cache")
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "write cache")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(out); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write cache")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "write cache")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "write cache")
	}
	return nil
}
