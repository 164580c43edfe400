// Package deletion governs bulk removal of tasks, timesheet entries and task
// approvals. Every request is validated, rate limited per actor, checked for
// ownership as a whole batch, executed in chunks and audited.
package deletion

import (
	"slices"
	"strings"
	"time"

	"github.com/hourledger/hourledger/internal/shared"
)

// MaxIDsPerCategory caps each id list in a single request.
const MaxIDsPerCategory = 500

// Category names a deletable record kind.
type Category string

const (
	CategoryTasks      Category = "tasks"
	CategoryTimesheets Category = "timesheets"
	CategoryApprovals  Category = "approvals"
)

// Categories lists every category in execution order.
var Categories = []Category{CategoryTasks, CategoryTimesheets, CategoryApprovals}

// Rejection reasons.
const (
	ReasonNotFound      = "not_found"
	ReasonOwnedByOther  = "owned_by_other"
	ReasonBatchRejected = "batch_rejected"
)

// Request asks to delete records owned by TargetOwner.
type Request struct {
	TargetOwner  string   `json:"targetOwner" validate:"omitempty,max=320"`
	TaskIDs      []string `json:"taskIds" validate:"max=500,dive,required,max=200"`
	TimesheetIDs []string `json:"timesheetIds" validate:"max=500,dive,required,max=200"`
	ApprovalIDs  []string `json:"approvalIds" validate:"max=500,dive,required,max=200"`
	DryRun       bool     `json:"dryRun"`
}

// Normalize lowercases the owner, defaulting it to the actor, and trims ids.
// Blank ids stay in place so validation can reject them.
func (r *Request) Normalize(actor shared.Actor) {
	r.TargetOwner = strings.ToLower(strings.TrimSpace(r.TargetOwner))
	if r.TargetOwner == "" {
		r.TargetOwner = strings.ToLower(actor.ID)
	}
	r.TaskIDs = trimIDs(r.TaskIDs)
	r.TimesheetIDs = trimIDs(r.TimesheetIDs)
	r.ApprovalIDs = trimIDs(r.ApprovalIDs)
}

// IDs returns the requested ids of category.
func (r Request) IDs(c Category) []string {
	switch c {
	case CategoryTasks:
		return r.TaskIDs
	case CategoryTimesheets:
		return r.TimesheetIDs
	case CategoryApprovals:
		return r.ApprovalIDs
	}
	return nil
}

// Counts returns the number of requested ids per category.
func (r Request) Counts() Counts {
	return NewCounts(len(r.TaskIDs), len(r.TimesheetIDs), len(r.ApprovalIDs))
}

func trimIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" && slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Counts tallies records per category.
type Counts struct {
	Tasks      int `json:"tasks"`
	Timesheets int `json:"timesheets"`
	Approvals  int `json:"approvals"`
	Total      int `json:"total"`
}

// NewCounts builds Counts with the total filled in.
func NewCounts(tasks, timesheets, approvals int) Counts {
	return Counts{Tasks: tasks, Timesheets: timesheets, Approvals: approvals, Total: tasks + timesheets + approvals}
}

// Add increments category by n.
func (c *Counts) Add(category Category, n int) {
	switch category {
	case CategoryTasks:
		c.Tasks += n
	case CategoryTimesheets:
		c.Timesheets += n
	case CategoryApprovals:
		c.Approvals += n
	default:
		return
	}
	c.Total += n
}

// Item is the ownership view of one stored record, doubling as its preview summary.
type Item struct {
	ID       string     `json:"id"`
	Category Category   `json:"category"`
	Owner    string     `json:"owner"`
	Label    string     `json:"label,omitempty"`
	Status   string     `json:"status,omitempty"`
	TaskID   string     `json:"taskId,omitempty"`
	Minutes  int        `json:"minutes,omitempty"`
	Date     *time.Time `json:"date,omitempty"`
}

// Rejection explains why an id blocked the batch.
type Rejection struct {
	ID          string   `json:"id"`
	Category    Category `json:"category"`
	Reason      string   `json:"reason"`
	ActualOwner string   `json:"actualOwner,omitempty"`
}

// Verified groups the records that passed ownership checks.
type Verified map[Category][]Item

// IDs returns the verified ids of category in request order.
func (v Verified) IDs(c Category) []string {
	ids := make([]string, 0, len(v[c]))
	for _, it := range v[c] {
		ids = append(ids, it.ID)
	}
	return ids
}

// Counts tallies verified records.
func (v Verified) Counts() Counts {
	return NewCounts(len(v[CategoryTasks]), len(v[CategoryTimesheets]), len(v[CategoryApprovals]))
}

// Result describes the outcome of a deletion request. On failure it reports the
// progress made before the error.
type Result struct {
	TargetOwner string    `json:"targetOwner"`
	DryRun      bool      `json:"dryRun"`
	KillSwitch  bool      `json:"killSwitch"`
	Requested   Counts    `json:"requested"`
	Verified    Counts    `json:"verified"`
	Deleted     Counts    `json:"deleted"`
	Cascaded    int       `json:"cascadedApprovals"`
	Preview     []Item    `json:"preview,omitempty"`
	Suspicious  bool      `json:"suspicious"`
	CompletedAt time.Time `json:"completedAt"`
}

// AuditError is the failure recorded on an audit entry.
type AuditError struct {
	Code    shared.Code    `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Targets lists the ids named by a request.
type Targets struct {
	TaskIDs      []string `json:"taskIds"`
	TimesheetIDs []string `json:"timesheetIds"`
	ApprovalIDs  []string `json:"approvalIds"`
}

// AuditEntry is one append-only deletion_audit row.
type AuditEntry struct {
	ActorID     string
	TargetOwner string
	Requested   Targets
	Counts      AuditCounts
	DryRun      bool
	Success     bool
	Suspicious  bool
	Error       *AuditError
	OccurredAt  time.Time
}

// AuditCounts are the totals stored with an audit entry.
type AuditCounts struct {
	Requested int
	Verified  int
	Deleted   int
	Cascaded  int
}

// Activity summarizes an actor's real deletions since a point in time.
type Activity struct {
	Deletions int
	Records   int
	First     *time.Time
	Last      *time.Time
}
