package tracker

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"time"
)

const wireDate = "2006-01-02"

func (c *HTTPClient) ListUsers(ctx context.Context) ([]User, error) {
	return listAll[User](ctx, c, "/users", nil)
}

func (c *HTTPClient) CreateUser(ctx context.Context, u User) (User, error) {
	var created User
	err := c.do(ctx, http.MethodPost, "/users", u, &created)
	return created, err
}

func (c *HTTPClient) SetUserStatus(ctx context.Context, id int64, status UserStatus) error {
	body := map[string]string{"status": string(status)}
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/users/%d", id), body, nil)
}

func (c *HTTPClient) ListProjects(ctx context.Context) ([]Project, error) {
	return listAll[Project](ctx, c, "/projects", nil)
}

func (c *HTTPClient) GetProject(ctx context.Context, id int64) (Project, error) {
	var p Project
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/projects/%d", id), nil, &p)
	return p, err
}

func (c *HTTPClient) CreateProject(ctx context.Context, p Project) (Project, error) {
	var created Project
	err := c.do(ctx, http.MethodPost, "/projects", p, &created)
	return created, err
}

func (c *HTTPClient) EnableProjectType(ctx context.Context, p Project, typeID int64) (Project, error) {
	body := map[string]any{
		"typeIds":     append(append([]int64{}, p.TypeIDs...), typeID),
		"lockVersion": p.LockVersion,
	}
	var updated Project
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/projects/%d", p.ID), body, &updated)
	return updated, err
}

func (c *HTTPClient) ListTypes(ctx context.Context) ([]TaskType, error) {
	return listAll[TaskType](ctx, c, "/types", nil)
}

func (c *HTTPClient) CreateType(ctx context.Context, name string) (TaskType, error) {
	var created TaskType
	err := c.do(ctx, http.MethodPost, "/types", map[string]string{"name": name}, &created)
	return created, err
}

func (c *HTTPClient) ListRoles(ctx context.Context) ([]Role, error) {
	return listAll[Role](ctx, c, "/roles", nil)
}

func (c *HTTPClient) ListMemberships(ctx context.Context, projectID int64) ([]Membership, error) {
	return listAll[Membership](ctx, c, "/memberships", url.Values{"projectId": {fmt.Sprint(projectID)}})
}

func (c *HTTPClient) CreateMembership(ctx context.Context, m Membership) (Membership, error) {
	var created Membership
	err := c.do(ctx, http.MethodPost, "/memberships", m, &created)
	return created, err
}

// wireWorkItem carries dates as plain yyyy-mm-dd strings.
type wireWorkItem struct {
	ID         int64  `json:"id,omitempty"`
	ProjectID  int64  `json:"projectId"`
	TypeID     int64  `json:"typeId"`
	Subject    string `json:"subject"`
	AssigneeID int64  `json:"assigneeId,omitempty"`
	StartDate  string `json:"startDate,omitempty"`
	DueDate    string `json:"dueDate,omitempty"`
}

func toWireWorkItem(w WorkItem) wireWorkItem {
	out := wireWorkItem{
		ID:         w.ID,
		ProjectID:  w.ProjectID,
		TypeID:     w.TypeID,
		Subject:    w.Subject,
		AssigneeID: w.AssigneeID,
	}
	if !w.StartDate.IsZero() {
		out.StartDate = w.StartDate.Format(wireDate)
	}
	if !w.DueDate.IsZero() {
		out.DueDate = w.DueDate.Format(wireDate)
	}
	return out
}

func fromWireWorkItem(w wireWorkItem) WorkItem {
	out := WorkItem{
		ID:         w.ID,
		ProjectID:  w.ProjectID,
		TypeID:     w.TypeID,
		Subject:    w.Subject,
		AssigneeID: w.AssigneeID,
	}
	out.StartDate, _ = time.Parse(wireDate, w.StartDate)
	out.DueDate, _ = time.Parse(wireDate, w.DueDate)
	return out
}

func (c *HTTPClient) GetWorkItem(ctx context.Context, id int64) (WorkItem, error) {
	var w wireWorkItem
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/work_items/%d", id), nil, &w); err != nil {
		return WorkItem{}, err
	}
	return fromWireWorkItem(w), nil
}

func (c *HTTPClient) ListWorkItems(ctx context.Context, projectID int64) ([]WorkItem, error) {
	wire, err := listAll[wireWorkItem](ctx, c, "/work_items", url.Values{"projectId": {fmt.Sprint(projectID)}})
	if err != nil {
		return nil, err
	}
	out := make([]WorkItem, 0, len(wire))
	for _, w := range wire {
		out = append(out, fromWireWorkItem(w))
	}
	return out, nil
}

func (c *HTTPClient) CreateWorkItem(ctx context.Context, w WorkItem) (WorkItem, error) {
	var created wireWorkItem
	if err := c.do(ctx, http.MethodPost, "/work_items", toWireWorkItem(w), &created); err != nil {
		return WorkItem{}, err
	}
	return fromWireWorkItem(created), nil
}

// wireTimeEntry carries the spent date as yyyy-mm-dd and duration as hours;
// the client converts to integer minutes so identity tuples compare exactly.
type wireTimeEntry struct {
	ID         int64   `json:"id,omitempty"`
	WorkItemID int64   `json:"workItemId"`
	ProjectID  int64   `json:"projectId,omitempty"`
	UserID     int64   `json:"userId,omitempty"`
	ActivityID int64   `json:"activityId"`
	SpentOn    string  `json:"spentOn"`
	Hours      float64 `json:"hours"`
}

// MinutesFromHours rounds fractional hours to whole minutes.
func MinutesFromHours(hours float64) int {
	return int(math.Round(hours * 60))
}

func fromWireTimeEntry(e wireTimeEntry) TimeEntry {
	out := TimeEntry{
		ID:         e.ID,
		WorkItemID: e.WorkItemID,
		ProjectID:  e.ProjectID,
		UserID:     e.UserID,
		ActivityID: e.ActivityID,
		Minutes:    MinutesFromHours(e.Hours),
	}
	out.SpentOn, _ = time.Parse(wireDate, e.SpentOn)
	return out
}

func (c *HTTPClient) ListTimeEntries(ctx context.Context, workItemID int64) ([]TimeEntry, error) {
	wire, err := listAll[wireTimeEntry](ctx, c, "/time_entries", url.Values{"workItemId": {fmt.Sprint(workItemID)}})
	if err != nil {
		return nil, err
	}
	out := make([]TimeEntry, 0, len(wire))
	for _, e := range wire {
		out = append(out, fromWireTimeEntry(e))
	}
	return out, nil
}

func (c *HTTPClient) CreateTimeEntry(ctx context.Context, e TimeEntry) (TimeEntry, error) {
	body := wireTimeEntry{
		WorkItemID: e.WorkItemID,
		ProjectID:  e.ProjectID,
		UserID:     e.UserID,
		ActivityID: e.ActivityID,
		SpentOn:    e.SpentOn.Format(wireDate),
		Hours:      float64(e.Minutes) / 60,
	}
	var created wireTimeEntry
	if err := c.do(ctx, http.MethodPost, "/time_entries", body, &created); err != nil {
		return TimeEntry{}, err
	}
	return fromWireTimeEntry(created), nil
}

func (c *HTTPClient) ListActivities(ctx context.Context) ([]Activity, error) {
	return listAll[Activity](ctx, c, "/activities", nil)
}

func (c *HTTPClient) CreateActivity(ctx context.Context, name string) (Activity, error) {
	var created Activity
	err := c.do(ctx, http.MethodPost, "/activities", map[string]string{"name": name}, &created)
	return created, err
}
