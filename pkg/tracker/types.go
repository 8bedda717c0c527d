package tracker

import "time"

// Generation is the API schema generation of the target server. The two
// generations expose different capability surfaces and expect different
// authentication headers, so it must be known before the first
// authenticated call.
type Generation string

const (
	GenUnknown Generation = ""
	GenV1      Generation = "v1"
	GenV2      Generation = "v2"
)

// Capability names an operation the REST surface may or may not expose.
type Capability string

const (
	CapCreateType        Capability = "create-type"
	CapEnableProjectType Capability = "enable-project-type"
	CapCreateActivity    Capability = "create-activity"
	CapRewriteTimestamps Capability = "rewrite-timestamps"
	CapAggregateCounts   Capability = "aggregate-counts"
)

// CapState is the explicit tri-state of a capability: known-supported,
// known-unsupported (route to direct storage), or unknown (treat as
// unsupported and surface it).
type CapState int

const (
	CapUnknown CapState = iota
	CapSupported
	CapUnsupported
)

// Support returns the capability table for a generation. The legacy
// generation lacks type management, activity creation, timestamp rewriting
// and aggregate count queries.
func Support(gen Generation, cap Capability) CapState {
	switch gen {
	case GenV2:
		return CapSupported
	case GenV1:
		switch cap {
		case CapCreateType, CapEnableProjectType, CapCreateActivity, CapRewriteTimestamps, CapAggregateCounts:
			return CapUnsupported
		}
		return CapSupported
	}
	return CapUnknown
}

type UserStatus string

const (
	UserActive     UserStatus = "active"
	UserLocked     UserStatus = "locked"
	UserRegistered UserStatus = "registered"
	UserInvited    UserStatus = "invited"
)

type User struct {
	ID        int64      `json:"id"`
	Login     string     `json:"login"`
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	Email     string     `json:"email"`
	Status    UserStatus `json:"status"`
}

type Project struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"identifier"`
	// LockVersion is the optimistic-lock token required on project updates.
	LockVersion int     `json:"lockVersion"`
	TypeIDs     []int64 `json:"typeIds"`
}

type TaskType struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Role struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Membership struct {
	ID        int64   `json:"id"`
	ProjectID int64   `json:"projectId"`
	UserID    int64   `json:"userId"`
	RoleIDs   []int64 `json:"roleIds"`
}

type WorkItem struct {
	ID         int64     `json:"id"`
	ProjectID  int64     `json:"projectId"`
	TypeID     int64     `json:"typeId"`
	Subject    string    `json:"subject"`
	AssigneeID int64     `json:"assigneeId"`
	StartDate  time.Time `json:"startDate"`
	DueDate    time.Time `json:"dueDate"`
}

type TimeEntry struct {
	ID         int64     `json:"id"`
	WorkItemID int64     `json:"workItemId"`
	ProjectID  int64     `json:"projectId"`
	UserID     int64     `json:"userId"`
	ActivityID int64     `json:"activityId"`
	SpentOn    time.Time `json:"spentOn"`
	// Minutes is the logged duration. The wire format carries hours; the
	// client converts so identity tuples compare on integers.
	Minutes int `json:"minutes"`
}

type Activity struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
