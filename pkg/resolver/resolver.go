package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/worklog-importer/pkg/aggregate"
	"github.com/iota-uz/worklog-importer/pkg/cache"
	"github.com/iota-uz/worklog-importer/pkg/staging"
	"github.com/iota-uz/worklog-importer/pkg/storage"
	"github.com/iota-uz/worklog-importer/pkg/tracker"
)

// Options configures a Resolver independent of the clients it talks to.
type Options struct {
	DryRun          bool
	SkipProjects    bool
	DefaultTaskType string
	MemberRoleName  string
}

// Resolver matches staged entities against the tracker and creates the ones
// that do not exist yet, in dependency order. It owns the task-resolution
// cache and records everything it created for the history rewriter.
type Resolver struct {
	client  tracker.Client
	admin   storage.Admin
	confirm Confirmer
	tasks   *cache.TaskCache
	log     *logrus.Logger
	opts    Options

	// RunID tags everything this run creates: cache notes and creation log
	// lines carry it, so a resolution can be traced back to the run that
	// made it.
	RunID string

	CreatedWorkItems []int64
	CreatedUsers     []int64
	CreatedProjects  []int64

	typesByName map[string]int64
	roleID      int64
}

// RemediationError aborts the run when automated remediation failed; it
// carries the manual fix an operator must apply before retrying.
type RemediationError struct {
	Entity  string
	Project string
	Fix     string
	Err     error
}

func (e *RemediationError) Error() string {
	return fmt.Sprintf("cannot import %q into project %q: %v; manual fix: %s", e.Entity, e.Project, e.Err, e.Fix)
}

func (e *RemediationError) Unwrap() error { return e.Err }

func New(client tracker.Client, admin storage.Admin, confirm Confirmer, tasks *cache.TaskCache, log *logrus.Logger, opts Options) *Resolver {
	return &Resolver{
		client:      client,
		admin:       admin,
		confirm:     confirm,
		tasks:       tasks,
		log:         log,
		opts:        opts,
		RunID:       uuid.NewString(),
		typesByName: map[string]int64{},
	}
}

// ResolveUsers matches every staged user by normalized name against the
// tracker's accounts, creating missing ones.
func (r *Resolver) ResolveUsers(ctx context.Context, graph *staging.Graph) error {
	existing, err := r.client.ListUsers(ctx)
	if err != nil {
		return errors.Wrap(err, "list users")
	}
	byName := map[string]tracker.User{}
	for _, u := range existing {
		byName[aggregate.NormalizeName(u.FirstName+" "+u.LastName)] = u
		byName[aggregate.NormalizeName(u.Login)] = u
	}

	for _, su := range graph.Users {
		if found, ok := byName[su.Name]; ok {
			su.ID = found.ID
			r.log.WithFields(logrus.Fields{"user": su.Name, "id": found.ID}).Debug("user matched")
			continue
		}
		if r.opts.DryRun {
			r.log.WithField("user", su.Name).Info("dry-run: would create user")
			continue
		}
		ok, err := r.confirm.Confirm(fmt.Sprintf("create user %q", su.Name))
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(ErrDeclined, "user %q", su.Name)
		}
		created, err := r.client.CreateUser(ctx, tracker.User{
			Login:     login(su),
			FirstName: su.FirstName,
			LastName:  su.LastName,
			Status:    tracker.UserActive,
		})
		if err != nil {
			return errors.Wrapf(err, "create user %q", su.Name)
		}
		su.ID = created.ID
		r.CreatedUsers = append(r.CreatedUsers, created.ID)
		r.log.WithFields(logrus.Fields{"user": su.Name, "id": created.ID, "run": r.RunID}).Info("user created")
	}
	return nil
}

func login(u *staging.User) string {
	return strings.ReplaceAll(u.Name, " ", ".")
}

// ResolveProjects matches staged projects by name or slug and creates the
// missing ones unless project creation is disabled, in which case a missing
// project is fatal.
func (r *Resolver) ResolveProjects(ctx context.Context, graph *staging.Graph) error {
	existing, err := r.client.ListProjects(ctx)
	if err != nil {
		return errors.Wrap(err, "list projects")
	}
	byKey := map[string]tracker.Project{}
	for _, p := range existing {
		byKey[aggregate.NormalizeName(p.Name)] = p
		byKey[p.Slug] = p
	}

	for _, sp := range graph.Projects {
		found, ok := byKey[aggregate.NormalizeName(sp.Name)]
		if !ok {
			found, ok = byKey[sp.Slug]
		}
		if ok {
			r.adopt(sp, found)
			continue
		}
		if r.opts.SkipProjects {
			return errors.Errorf("project %q does not exist and project creation is disabled", sp.Name)
		}
		if r.opts.DryRun {
			r.log.WithField("project", sp.Name).Info("dry-run: would create project")
			continue
		}
		approved, err := r.confirm.Confirm(fmt.Sprintf("create project %q (%s)", sp.Name, sp.Slug))
		if err != nil {
			return err
		}
		if !approved {
			return errors.Wrapf(ErrDeclined, "project %q", sp.Name)
		}
		created, err := r.client.CreateProject(ctx, tracker.Project{Name: sp.Name, Slug: sp.Slug})
		if err != nil {
			return errors.Wrapf(err, "create project %q", sp.Name)
		}
		r.adopt(sp, created)
		r.CreatedProjects = append(r.CreatedProjects, created.ID)
		r.log.WithFields(logrus.Fields{"project": sp.Name, "id": created.ID, "run": r.RunID}).Info("project created")
	}
	return nil
}

func (r *Resolver) adopt(sp *staging.Project, p tracker.Project) {
	sp.ID = p.ID
	sp.LockToken = p.LockVersion
	sp.AllowedTypeIDs = map[int64]bool{}
	for _, id := range p.TypeIDs {
		sp.AllowedTypeIDs[id] = true
	}
}

// ResolveTypes maps every staged task's type name to a tracker type id,
// creating missing types through the API or, on the legacy generation,
// straight in storage.
func (r *Resolver) ResolveTypes(ctx context.Context, graph *staging.Graph) error {
	existing, err := r.client.ListTypes(ctx)
	if err != nil {
		return errors.Wrap(err, "list types")
	}
	for _, t := range existing {
		r.typesByName[aggregate.NormalizeName(t.Name)] = t.ID
	}

	for _, task := range graph.Tasks {
		name := task.Agg.Type
		if name == "" {
			name = r.opts.DefaultTaskType
		}
		id, ok := r.typesByName[aggregate.NormalizeName(name)]
		if !ok {
			if r.opts.DryRun {
				r.log.WithField("type", name).Info("dry-run: would create work-item type")
				continue
			}
			id, err = r.createType(ctx, name)
			if err != nil {
				return err
			}
			r.typesByName[aggregate.NormalizeName(name)] = id
		}
		task.TypeID = id
	}
	return nil
}

func (r *Resolver) createType(ctx context.Context, name string) (int64, error) {
	if r.client.Capability(tracker.CapCreateType) == tracker.CapSupported {
		created, err := r.client.CreateType(ctx, name)
		if err != nil {
			return 0, errors.Wrapf(err, "create type %q", name)
		}
		return created.ID, nil
	}
	if r.admin == nil {
		return 0, errors.Wrapf(storage.ErrNoAdmin, "type %q cannot be created on generation %s", name, r.client.Generation())
	}
	err := r.admin.ExecBatch(ctx, []storage.Statement{{
		SQL:  `INSERT INTO types (name, position) SELECT $1, COALESCE(MAX(position), 0) + 1 FROM types`,
		Args: []any{name},
	}})
	if err != nil {
		return 0, errors.Wrapf(err, "create type %q in storage", name)
	}
	id, err := r.admin.QueryInt64(ctx, `SELECT id FROM types WHERE name = $1`, name)
	if err != nil {
		return 0, errors.Wrapf(err, "look up created type %q", name)
	}
	r.log.WithFields(logrus.Fields{"type": name, "id": id}).Info("type created via storage")
	return id, nil
}
