package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/worklog-importer/pkg/aggregate"
	"github.com/iota-uz/worklog-importer/pkg/cache"
	"github.com/iota-uz/worklog-importer/pkg/staging"
	"github.com/iota-uz/worklog-importer/pkg/storage"
	"github.com/iota-uz/worklog-importer/pkg/tracker"
)

// ResolveTasks matches or creates every staged work item. Cached ids are
// re-verified against the tracker before reuse; a verified resolution is
// written back to the cache either way.
func (r *Resolver) ResolveTasks(ctx context.Context, graph *staging.Graph) error {
	itemsByProject := map[int64][]tracker.WorkItem{}

	for _, key := range graph.SortedKeys() {
		task, _ := graph.TaskByKey(key)
		if task.Project.ID == 0 {
			if r.opts.DryRun {
				continue
			}
			return errors.Errorf("task %q: project %q was never resolved", key, task.Project.Name)
		}

		if res, ok := r.tasks.Get(key); ok {
			if r.verifyCached(ctx, task, res) {
				task.WorkItemID = res.WorkItemID
				continue
			}
			r.tasks.Delete(key)
			r.log.WithFields(logrus.Fields{"key": key, "id": res.WorkItemID}).
				Warn("cached resolution no longer valid, re-resolving")
		}

		items, ok := itemsByProject[task.Project.ID]
		if !ok {
			var err error
			items, err = r.client.ListWorkItems(ctx, task.Project.ID)
			if err != nil {
				return errors.Wrapf(err, "list work items of %q", task.Project.Name)
			}
			itemsByProject[task.Project.ID] = items
		}

		if found, ok := matchWorkItem(task, items); ok {
			task.WorkItemID = found.ID
			r.tasks.Put(key, cache.Resolution{WorkItemID: found.ID, Note: fmt.Sprintf("matched subject %q", found.Subject)})
			continue
		}

		if r.opts.DryRun {
			r.log.WithField("key", key).Info("dry-run: would create work item")
			continue
		}
		created, err := r.createWorkItem(ctx, task)
		if err != nil {
			return err
		}
		task.WorkItemID = created.ID
		itemsByProject[task.Project.ID] = append(items, created)
		r.CreatedWorkItems = append(r.CreatedWorkItems, created.ID)
		r.tasks.Put(key, cache.Resolution{WorkItemID: created.ID, Note: "created in run " + r.RunID})
	}
	return nil
}

// verifyCached accepts a cached id only if the work item still exists and
// still belongs to the expected project.
func (r *Resolver) verifyCached(ctx context.Context, task *staging.Task, res cache.Resolution) bool {
	item, err := r.client.GetWorkItem(ctx, res.WorkItemID)
	if err != nil {
		return false
	}
	return item.ProjectID == task.Project.ID
}

// matchWorkItem looks for a natural-key match: same subject (case and space
// insensitive) within the project, or a subject matching any contributing
// row's parsed subject for merged reference-id tasks.
func matchWorkItem(task *staging.Task, items []tracker.WorkItem) (tracker.WorkItem, bool) {
	want := map[string]bool{aggregate.NormalizeName(task.Agg.Subject): true}
	for _, row := range task.Agg.Logs {
		_, _, subject := aggregate.ParseLabel(row.Task)
		want[aggregate.NormalizeName(subject)] = true
	}
	for _, item := range items {
		if want[aggregate.NormalizeName(item.Subject)] {
			return item, true
		}
	}
	return tracker.WorkItem{}, false
}

func (r *Resolver) createWorkItem(ctx context.Context, task *staging.Task) (tracker.WorkItem, error) {
	approved, err := r.confirm.Confirm(fmt.Sprintf("create work item %q in project %q", task.Agg.Subject, task.Project.Name))
	if err != nil {
		return tracker.WorkItem{}, err
	}
	if !approved {
		return tracker.WorkItem{}, errors.Wrapf(ErrDeclined, "work item %q", task.Agg.Subject)
	}

	if err := r.ensureProjectType(ctx, task); err != nil {
		return tracker.WorkItem{}, err
	}
	if err := r.ensureMembership(ctx, task.Project, task.Assignee); err != nil {
		return tracker.WorkItem{}, err
	}

	created, err := r.client.CreateWorkItem(ctx, tracker.WorkItem{
		ProjectID:  task.Project.ID,
		TypeID:     task.TypeID,
		Subject:    task.Agg.Subject,
		AssigneeID: task.Assignee.ID,
		StartDate:  task.Agg.StartDate,
		DueDate:    task.Agg.DueDate,
	})
	if err != nil {
		var apiErr *tracker.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 422 {
			return tracker.WorkItem{}, &RemediationError{
				Entity:  task.Agg.Subject,
				Project: task.Project.Name,
				Fix:     "relax the blocking required field or fix the assignee account in the tracker admin UI, then rerun",
				Err:     err,
			}
		}
		return tracker.WorkItem{}, errors.Wrapf(err, "create work item %q", task.Agg.Subject)
	}
	r.log.WithFields(logrus.Fields{"subject": created.Subject, "id": created.ID, "run": r.RunID}).Info("work item created")
	return created, nil
}

// ensureProjectType grants the task's type to its project when missing:
// through the API where supported, otherwise straight in storage.
func (r *Resolver) ensureProjectType(ctx context.Context, task *staging.Task) error {
	if task.Project.AllowedTypeIDs[task.TypeID] {
		return nil
	}
	if r.client.Capability(tracker.CapEnableProjectType) == tracker.CapSupported {
		p := tracker.Project{ID: task.Project.ID, LockVersion: task.Project.LockToken}
		for id := range task.Project.AllowedTypeIDs {
			p.TypeIDs = append(p.TypeIDs, id)
		}
		updated, err := r.client.EnableProjectType(ctx, p, task.TypeID)
		if err != nil {
			return errors.Wrapf(err, "enable type %d for project %q", task.TypeID, task.Project.Name)
		}
		r.adopt(task.Project, updated)
		return nil
	}
	if r.admin == nil {
		return errors.Wrapf(storage.ErrNoAdmin, "cannot enable type %d for project %q on generation %s",
			task.TypeID, task.Project.Name, r.client.Generation())
	}
	err := r.admin.ExecBatch(ctx, []storage.Statement{{
		SQL:  `INSERT INTO projects_types (project_id, type_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		Args: []any{task.Project.ID, task.TypeID},
	}})
	if err != nil {
		return errors.Wrapf(err, "enable type %d for project %q in storage", task.TypeID, task.Project.Name)
	}
	task.Project.AllowedTypeIDs[task.TypeID] = true
	return nil
}

// ensureMembership makes the assignee a member of the project, remediating
// locked or inactive accounts first via the API and then via storage. When
// nothing works the run aborts with a manual fix.
func (r *Resolver) ensureMembership(ctx context.Context, project *staging.Project, user *staging.User) error {
	memberships, err := r.client.ListMemberships(ctx, project.ID)
	if err != nil {
		return errors.Wrapf(err, "list memberships of %q", project.Name)
	}
	for _, m := range memberships {
		if m.UserID == user.ID {
			return nil
		}
	}

	roleID, err := r.memberRoleID(ctx)
	if err != nil {
		return err
	}
	m := tracker.Membership{ProjectID: project.ID, UserID: user.ID, RoleIDs: []int64{roleID}}

	if _, err = r.client.CreateMembership(ctx, m); err == nil {
		r.log.WithFields(logrus.Fields{"user": user.Name, "project": project.Name}).Info("membership created")
		return nil
	}
	firstErr := err

	// Locked or never-activated accounts reject memberships. Reactivate and
	// retry, then force the status in storage as a last resort.
	if err := r.client.SetUserStatus(ctx, user.ID, tracker.UserActive); err == nil {
		if _, err = r.client.CreateMembership(ctx, m); err == nil {
			r.log.WithFields(logrus.Fields{"user": user.Name}).Info("account reactivated, membership created")
			return nil
		}
	}
	if r.admin != nil {
		stmt := storage.Statement{
			SQL:  `UPDATE users SET status = $1, failed_login_count = 0 WHERE id = $2`,
			Args: []any{string(tracker.UserActive), user.ID},
		}
		if err := r.admin.ExecBatch(ctx, []storage.Statement{stmt}); err == nil {
			if _, err = r.client.CreateMembership(ctx, m); err == nil {
				r.log.WithFields(logrus.Fields{"user": user.Name}).Info("account unlocked in storage, membership created")
				return nil
			}
		}
	}
	return &RemediationError{
		Entity:  user.Name,
		Project: project.Name,
		Fix: fmt.Sprintf("activate the account of %q and add it to project %q with role %q manually",
			user.Name, project.Name, r.opts.MemberRoleName),
		Err: firstErr,
	}
}

func (r *Resolver) memberRoleID(ctx context.Context) (int64, error) {
	if r.roleID != 0 {
		return r.roleID, nil
	}
	roles, err := r.client.ListRoles(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list roles")
	}
	for _, role := range roles {
		if strings.EqualFold(role.Name, r.opts.MemberRoleName) {
			r.roleID = role.ID
			return role.ID, nil
		}
	}
	return 0, errors.Errorf("role %q does not exist on the tracker", r.opts.MemberRoleName)
}
