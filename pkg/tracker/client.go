package tracker

import "context"

// Client is the single interface over both API generations. Implementations
// hide pagination, retries and the generation-specific wire shapes; callers
// branch only on Capability for operations the REST surface may lack.
type Client interface {
	Generation() Generation
	Capability(cap Capability) CapState

	ListUsers(ctx context.Context) ([]User, error)
	CreateUser(ctx context.Context, u User) (User, error)
	// SetUserStatus unlocks or reactivates an account, used for membership
	// remediation before falling back to direct storage.
	SetUserStatus(ctx context.Context, id int64, status UserStatus) error

	ListProjects(ctx context.Context) ([]Project, error)
	GetProject(ctx context.Context, id int64) (Project, error)
	CreateProject(ctx context.Context, p Project) (Project, error)
	// EnableProjectType adds a work-item type to a project's allowed set.
	// Requires the project's current lock token; returns the updated project
	// carrying the new token.
	EnableProjectType(ctx context.Context, p Project, typeID int64) (Project, error)

	ListTypes(ctx context.Context) ([]TaskType, error)
	CreateType(ctx context.Context, name string) (TaskType, error)

	ListRoles(ctx context.Context) ([]Role, error)
	ListMemberships(ctx context.Context, projectID int64) ([]Membership, error)
	CreateMembership(ctx context.Context, m Membership) (Membership, error)

	GetWorkItem(ctx context.Context, id int64) (WorkItem, error)
	ListWorkItems(ctx context.Context, projectID int64) ([]WorkItem, error)
	CreateWorkItem(ctx context.Context, w WorkItem) (WorkItem, error)

	ListTimeEntries(ctx context.Context, workItemID int64) ([]TimeEntry, error)
	CreateTimeEntry(ctx context.Context, e TimeEntry) (TimeEntry, error)

	ListActivities(ctx context.Context) ([]Activity, error)
	CreateActivity(ctx context.Context, name string) (Activity, error)
}
