package timesheet

import (
	"time"

	"github.com/shopspring/decimal"
)

// TaskStatus enumerates task lifecycle states.
type TaskStatus string

const (
	// TaskActive accepts time postings.
	TaskActive TaskStatus = "active"
	// TaskCompleted is terminal and requires logged time.
	TaskCompleted TaskStatus = "completed"
	// TaskCancelled is terminal and requires no logged time.
	TaskCancelled TaskStatus = "cancelled"
)

// CriticalGapPercent is the estimate deviation at which a completion is flagged.
const CriticalGapPercent = 50

// BudgetStatus compares logged minutes against the task estimate after a posting.
type BudgetStatus struct {
	CurrentEstimate   int     `json:"currentEstimate"`
	TotalMinutesAfter int     `json:"totalMinutesAfter"`
	PercentOfBudget   float64 `json:"percentOfBudget"`
	IsOverBudget      bool    `json:"isOverBudget"`
	OverageMinutes    int     `json:"overageMinutes"`
}

// NewBudgetStatus computes the budget view for a task with estimate minutes after
// totalAfter minutes have been logged.
func NewBudgetStatus(estimate, totalAfter int) BudgetStatus {
	status := BudgetStatus{CurrentEstimate: estimate, TotalMinutesAfter: totalAfter}
	if estimate > 0 {
		pct := decimal.NewFromInt(int64(totalAfter)).Div(decimal.NewFromInt(int64(estimate))).Mul(decimal.NewFromInt(100)).Round(1)
		status.PercentOfBudget = pct.InexactFloat64()
		status.IsOverBudget = totalAfter > estimate
		if status.IsOverBudget {
			status.OverageMinutes = totalAfter - estimate
		}
	}
	return status
}

// TimeEntryRef is the task's reference to a timesheet entry.
type TimeEntryRef struct {
	EntryID   string       `json:"entryId"`
	Minutes   int          `json:"minutes"`
	Date      string       `json:"date"`
	AddedBy   string       `json:"addedBy"`
	AddedAt   time.Time    `json:"addedAt"`
	Budget    BudgetStatus `json:"budgetStatus"`
	PackageID string       `json:"packageId,omitempty"`
}

// Completion is written when a task is completed.
type Completion struct {
	CompletedAt      time.Time `json:"completedAt"`
	CompletedBy      string    `json:"completedBy"`
	EstimatedMinutes int       `json:"estimatedMinutes"`
	ActualMinutes    int       `json:"actualMinutes"`
	GapMinutes       int       `json:"gapMinutes"`
	GapPercent       int       `json:"gapPercent"`
	IsOver           bool      `json:"isOver"`
	IsUnder          bool      `json:"isUnder"`
	IsCritical       bool      `json:"isCritical"`
	GapReason        string    `json:"gapReason,omitempty"`
	Notes            string    `json:"notes,omitempty"`
}

// NewCompletion measures how far actual minutes drifted from the estimate. GapMinutes
// is absolute; a task without an estimate has no gap percentage.
func NewCompletion(estimated, actual int, by, reason, notes string, at time.Time) Completion {
	gap := actual - estimated
	c := Completion{
		CompletedAt:      at,
		CompletedBy:      by,
		EstimatedMinutes: estimated,
		ActualMinutes:    actual,
		GapMinutes:       absInt(gap),
		IsOver:           gap > 0,
		IsUnder:          gap < 0,
		GapReason:        reason,
		Notes:            notes,
	}
	if estimated > 0 {
		pct := decimal.NewFromInt(int64(absInt(gap))).Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(int64(estimated)))
		c.GapPercent = int(pct.Round(0).IntPart())
		c.IsCritical = pct.GreaterThanOrEqual(decimal.NewFromInt(CriticalGapPercent))
	}
	return c
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Cancellation is written when a task is cancelled.
type Cancellation struct {
	CancelledAt time.Time `json:"cancelledAt"`
	CancelledBy string    `json:"cancelledBy"`
	Reason      string    `json:"reason"`
}

// Task is a unit of assigned work bound to one service (and stage).
type Task struct {
	ID               string
	LedgerID         string
	ServiceID        string
	StageID          string
	Title            string
	AssignedTo       string
	EstimatedMinutes int
	ActualMinutes    int
	Status           TaskStatus
	TimeEntries      []TimeEntryRef
	Completion       *Completion
	Cancellation     *Cancellation
	Version          int64
}

// EditRecord captures one change to a timesheet entry.
type EditRecord struct {
	EditedAt time.Time         `json:"editedAt"`
	EditedBy string            `json:"editedBy"`
	Reason   string            `json:"reason,omitempty"`
	Before   map[string]string `json:"before"`
	After    map[string]string `json:"after"`
}

// Entry is an immutable record of logged time. Only the edit-with-history path
// changes Description and Date, appending to Edits.
type Entry struct {
	ID             string
	TaskID         string
	LedgerID       string
	ServiceID      string
	StageID        string
	PackageID      string
	Employee       string
	Minutes        int
	Hours          decimal.Decimal
	Date           time.Time
	Description    string
	IsInternal     bool
	ReservationID  string
	IdempotencyKey string
	Edits          []EditRecord
	CreatedAt      time.Time
}
