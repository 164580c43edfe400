// Package events is the append-only log of ledger affecting mutations. It is written
// after the primary transaction commits and is never read by business logic.
package events

import (
	"errors"
	"time"
)

// Type names a kind of ledger event.
type Type string

const (
	// TimeAdded is appended for every committed time posting.
	TimeAdded Type = "TIME_ADDED"
	// PackageDepleted is appended when a posting closes a package.
	PackageDepleted Type = "PACKAGE_DEPLETED"
	// TaskCompleted is appended when a task is completed.
	TaskCompleted Type = "TASK_COMPLETED"
	// TaskCancelled is appended when a task is cancelled.
	TaskCancelled Type = "TASK_CANCELLED"
	// EntryEdited is appended when a timesheet entry is edited.
	EntryEdited Type = "ENTRY_EDITED"
)

// ErrInvalidEvent indicates an event missing its type or actor.
var ErrInvalidEvent = errors.New("events: type and performer required")

// Event is one immutable record.
type Event struct {
	ID             string         `json:"id"`
	Type           Type           `json:"type"`
	LedgerID       string         `json:"ledgerId,omitempty"`
	ServiceID      string         `json:"serviceId,omitempty"`
	StageID        string         `json:"stageId,omitempty"`
	PackageID      string         `json:"packageId,omitempty"`
	TaskID         string         `json:"taskId,omitempty"`
	TimesheetID    string         `json:"timesheetId,omitempty"`
	Payload        map[string]any `json:"payload"`
	PerformedBy    string         `json:"performedBy"`
	Before         map[string]any `json:"before,omitempty"`
	After          map[string]any `json:"after,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
}

// Validate checks the minimal shape.
func (e Event) Validate() error {
	if e.Type == "" || e.PerformedBy == "" {
		return ErrInvalidEvent
	}
	return nil
}
