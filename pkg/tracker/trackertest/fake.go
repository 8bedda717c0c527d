// Package trackertest provides an in-memory tracker.Client for tests.
package trackertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-faster/errors"

	"github.com/iota-uz/worklog-importer/pkg/tracker"
)

// Fake is an in-memory tracker.Client. State is plain exported slices so
// tests can seed and inspect it directly. Error knobs simulate the failure
// modes the pipeline must handle.
type Fake struct {
	mu sync.Mutex

	Gen tracker.Generation

	Users       []tracker.User
	Projects    []tracker.Project
	Types       []tracker.TaskType
	Roles       []tracker.Role
	Memberships []tracker.Membership
	WorkItems   []tracker.WorkItem
	TimeEntries []tracker.TimeEntry
	Activities  []tracker.Activity

	// SessionUserID is attributed as creator of every created time entry,
	// mirroring the real server attributing to the authenticated session.
	SessionUserID int64

	// MembershipErrFor fails CreateMembership for a user id until the
	// user's status becomes active, simulating a locked account.
	MembershipErrFor map[int64]error
	// StickyMembershipErr keeps MembershipErrFor in place even after a
	// status change, simulating an account no remediation can fix.
	StickyMembershipErr bool

	// CreateErr fails every create operation when set.
	CreateErr error

	nextID int64
}

func New() *Fake {
	return &Fake{
		Gen:              tracker.GenV2,
		MembershipErrFor: map[int64]error{},
		nextID:           1000,
	}
}

func (f *Fake) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *Fake) Generation() tracker.Generation { return f.Gen }

func (f *Fake) Capability(cap tracker.Capability) tracker.CapState {
	return tracker.Support(f.Gen, cap)
}

func (f *Fake) ListUsers(ctx context.Context) ([]tracker.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tracker.User{}, f.Users...), nil
}

func (f *Fake) CreateUser(ctx context.Context, u tracker.User) (tracker.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return tracker.User{}, f.CreateErr
	}
	u.ID = f.id()
	if u.Status == "" {
		u.Status = tracker.UserActive
	}
	f.Users = append(f.Users, u)
	return u, nil
}

func (f *Fake) SetUserStatus(ctx context.Context, id int64, status tracker.UserStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Users {
		if f.Users[i].ID == id {
			f.Users[i].Status = status
			if status == tracker.UserActive && !f.StickyMembershipErr {
				delete(f.MembershipErrFor, id)
			}
			return nil
		}
	}
	return errors.Wrapf(tracker.ErrNotFound, "user %d", id)
}

func (f *Fake) ListProjects(ctx context.Context) ([]tracker.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tracker.Project{}, f.Projects...), nil
}

func (f *Fake) GetProject(ctx context.Context, id int64) (tracker.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.Projects {
		if p.ID == id {
			return p, nil
		}
	}
	return tracker.Project{}, errors.Wrapf(tracker.ErrNotFound, "project %d", id)
}

func (f *Fake) CreateProject(ctx context.Context, p tracker.Project) (tracker.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return tracker.Project{}, f.CreateErr
	}
	p.ID = f.id()
	f.Projects = append(f.Projects, p)
	return p, nil
}

func (f *Fake) EnableProjectType(ctx context.Context, p tracker.Project, typeID int64) (tracker.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Projects {
		if f.Projects[i].ID != p.ID {
			continue
		}
		if f.Projects[i].LockVersion != p.LockVersion {
			return tracker.Project{}, &tracker.APIError{StatusCode: 409, Method: "PATCH",
				Path: fmt.Sprintf("/projects/%d", p.ID), Body: "stale lock version"}
		}
		f.Projects[i].TypeIDs = append(f.Projects[i].TypeIDs, typeID)
		f.Projects[i].LockVersion++
		return f.Projects[i], nil
	}
	return tracker.Project{}, errors.Wrapf(tracker.ErrNotFound, "project %d", p.ID)
}

func (f *Fake) ListTypes(ctx context.Context) ([]tracker.TaskType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tracker.TaskType{}, f.Types...), nil
}

func (f *Fake) CreateType(ctx context.Context, name string) (tracker.TaskType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Gen == tracker.GenV1 {
		return tracker.TaskType{}, errors.Wrap(tracker.ErrNotFound, "POST /types")
	}
	t := tracker.TaskType{ID: f.id(), Name: name}
	f.Types = append(f.Types, t)
	return t, nil
}

func (f *Fake) ListRoles(ctx context.Context) ([]tracker.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tracker.Role{}, f.Roles...), nil
}

func (f *Fake) ListMemberships(ctx context.Context, projectID int64) ([]tracker.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tracker.Membership
	for _, m := range f.Memberships {
		if m.ProjectID == projectID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *Fake) CreateMembership(ctx context.Context, m tracker.Membership) (tracker.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, blocked := f.MembershipErrFor[m.UserID]; blocked {
		return tracker.Membership{}, err
	}
	m.ID = f.id()
	f.Memberships = append(f.Memberships, m)
	return m, nil
}

func (f *Fake) GetWorkItem(ctx context.Context, id int64) (tracker.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.WorkItems {
		if w.ID == id {
			return w, nil
		}
	}
	return tracker.WorkItem{}, errors.Wrapf(tracker.ErrNotFound, "work item %d", id)
}

func (f *Fake) ListWorkItems(ctx context.Context, projectID int64) ([]tracker.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tracker.WorkItem
	for _, w := range f.WorkItems {
		if w.ProjectID == projectID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *Fake) CreateWorkItem(ctx context.Context, w tracker.WorkItem) (tracker.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return tracker.WorkItem{}, f.CreateErr
	}
	member := false
	for _, m := range f.Memberships {
		if m.ProjectID == w.ProjectID && m.UserID == w.AssigneeID {
			member = true
			break
		}
	}
	if w.AssigneeID != 0 && !member {
		return tracker.WorkItem{}, &tracker.APIError{StatusCode: 422, Method: "POST",
			Path: "/work_items", Body: "assignee is not a project member"}
	}
	// A project with an explicit type list rejects other types. An empty
	// list means unconstrained, covering types granted outside the API.
	for _, p := range f.Projects {
		if p.ID != w.ProjectID || len(p.TypeIDs) == 0 {
			continue
		}
		allowed := false
		for _, tid := range p.TypeIDs {
			if tid == w.TypeID {
				allowed = true
			}
		}
		if !allowed {
			return tracker.WorkItem{}, &tracker.APIError{StatusCode: 422, Method: "POST",
				Path: "/work_items", Body: "type is not enabled for project"}
		}
	}
	w.ID = f.id()
	f.WorkItems = append(f.WorkItems, w)
	return w, nil
}

func (f *Fake) ListTimeEntries(ctx context.Context, workItemID int64) ([]tracker.TimeEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tracker.TimeEntry
	for _, e := range f.TimeEntries {
		if e.WorkItemID == workItemID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *Fake) CreateTimeEntry(ctx context.Context, e tracker.TimeEntry) (tracker.TimeEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return tracker.TimeEntry{}, f.CreateErr
	}
	e.ID = f.id()
	if f.SessionUserID != 0 {
		// The server attributes creation to the authenticated session, not
		// to the user the entry is for.
		e.UserID = f.SessionUserID
	}
	f.TimeEntries = append(f.TimeEntries, e)
	return e, nil
}

func (f *Fake) ListActivities(ctx context.Context) ([]tracker.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tracker.Activity{}, f.Activities...), nil
}

func (f *Fake) CreateActivity(ctx context.Context, name string) (tracker.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Gen == tracker.GenV1 {
		return tracker.Activity{}, errors.Wrap(tracker.ErrNotFound, "POST /activities")
	}
	a := tracker.Activity{ID: f.id(), Name: name}
	f.Activities = append(f.Activities, a)
	return a, nil
}
