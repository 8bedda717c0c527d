package staging

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/iota-uz/worklog-importer/pkg/aggregate"
)

// User is a deduplicated source person. Identity is the normalized name;
// ID stays zero until the resolver matches or creates the tracker account.
type User struct {
	Name      string
	FirstName string
	LastName  string
	ID        int64
}

// Project is a deduplicated source project. AllowedTypeIDs and LockToken are
// filled in by the resolver from the tracker side.
type Project struct {
	Name string
	Slug string
	ID   int64

	AllowedTypeIDs map[int64]bool
	// LockToken is the tracker's optimistic-lock version for project updates.
	LockToken int
}

// Task is one staged work item wrapping an aggregated task. Identity is the
// staging Key; TypeID and WorkItemID are resolved later.
type Task struct {
	Key      string
	Project  *Project
	Assignee *User

	TypeID     int64
	WorkItemID int64

	Agg *aggregate.Task
}

// Graph is the single hand-off object between pipeline stages. It is built
// once from the source and enriched in place; stages never remove entries.
type Graph struct {
	Users    []*User
	Projects []*Project
	Tasks    []*Task

	usersByName    map[string]*User
	projectsByName map[string]*Project
	tasksByKey     map[string]*Task
}

// Key derives the staging identity of an aggregated task: reference id plus
// project slug when the label embeds an id, else normalized subject plus
// project slug. Tasks sharing a reference id always share a key; tasks with
// different reference ids never do.
func Key(t *aggregate.Task) string {
	slug := Slug(t.Project)
	if t.RefID > 0 {
		return fmt.Sprintf("#%d@%s", t.RefID, slug)
	}
	return fmt.Sprintf("%s@%s", aggregate.NormalizeName(t.Subject), slug)
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slug turns a project name into the tracker's identifier form.
func Slug(name string) string {
	s := slugStrip.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(s, "-")
}

// SplitName splits a display name into first and last. A single word is all
// first name; everything past the first word is the last name.
func SplitName(name string) (first, last string) {
	fields := strings.Fields(name)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}

// BuildGraph deduplicates aggregated tasks into the staging graph. Tasks
// that collapse onto the same key are merged: logs concatenate in input
// order and totals/dates recompute from the union.
func BuildGraph(tasks []*aggregate.Task) *Graph {
	g := &Graph{
		usersByName:    map[string]*User{},
		projectsByName: map[string]*Project{},
		tasksByKey:     map[string]*Task{},
	}
	for _, agg := range tasks {
		project := g.project(agg.Project)
		user := g.user(agg)
		key := Key(agg)

		staged, ok := g.tasksByKey[key]
		if !ok {
			g.tasksByKey[key] = &Task{Key: key, Project: project, Assignee: user, Agg: agg}
			g.Tasks = append(g.Tasks, g.tasksByKey[key])
			continue
		}
		staged.Agg.Logs = append(staged.Agg.Logs, agg.Logs...)
		staged.Agg.Recompute()
	}
	return g
}

func (g *Graph) project(name string) *Project {
	if p, ok := g.projectsByName[name]; ok {
		return p
	}
	p := &Project{Name: name, Slug: Slug(name), AllowedTypeIDs: map[int64]bool{}}
	g.projectsByName[name] = p
	g.Projects = append(g.Projects, p)
	return p
}

func (g *Graph) user(agg *aggregate.Task) *User {
	name := agg.Assignee
	if u, ok := g.usersByName[name]; ok {
		return u
	}
	// The first raw spelling wins for first/last splitting.
	raw := name
	if len(agg.Logs) > 0 {
		raw = agg.Logs[0].User
	}
	first, last := SplitName(raw)
	u := &User{Name: name, FirstName: first, LastName: last}
	g.usersByName[name] = u
	g.Users = append(g.Users, u)
	return u
}

// TaskByKey returns the staged task for a staging key.
func (g *Graph) TaskByKey(key string) (*Task, bool) {
	t, ok := g.tasksByKey[key]
	return t, ok
}

// SortedKeys returns all staging keys in lexical order, for deterministic
// iteration in logs and caches.
func (g *Graph) SortedKeys() []string {
	keys := make([]string, 0, len(g.tasksByKey))
	for k := range g.tasksByKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
