package timesheet

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hourledger/hourledger/internal/shared"
)

// DateLayout is the calendar date format used on the wire.
const DateLayout = "2006-01-02"

// PostInput describes one time posting.
type PostInput struct {
	LedgerID        string    `json:"ledgerId" validate:"required_if=IsInternal false"`
	ServiceID       string    `json:"serviceId,omitempty"`
	StageID         string    `json:"stageId,omitempty"`
	TaskID          string    `json:"taskId,omitempty" validate:"required_if=IsInternal false"`
	Minutes         int       `json:"minutes" validate:"gt=0,lte=1440"`
	Date            time.Time `json:"date" validate:"required"`
	Description     string    `json:"description" validate:"required,max=2000"`
	IsInternal      bool      `json:"isInternal"`
	ExpectedVersion *int64    `json:"expectedVersion,omitempty" validate:"omitempty,gte=0"`
	IdempotencyKey  string    `json:"idempotencyKey,omitempty" validate:"max=200"`
}

// Normalize trims free-text fields.
func (in PostInput) Normalize() PostInput {
	in.LedgerID = strings.TrimSpace(in.LedgerID)
	in.ServiceID = strings.TrimSpace(in.ServiceID)
	in.StageID = strings.TrimSpace(in.StageID)
	in.TaskID = strings.TrimSpace(in.TaskID)
	in.Description = strings.TrimSpace(in.Description)
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	return in
}

// Validate checks the posting shape. Non-internal work must reference a task so all
// client-billed time is traceable.
func (in PostInput) Validate() error {
	return shared.ValidateStruct(in)
}

// PostResult is returned to the caller and cached under the idempotency key.
type PostResult struct {
	EntryID         string           `json:"entryId"`
	ReservationID   string           `json:"reservationId"`
	LedgerID        string           `json:"ledgerId,omitempty"`
	ServiceID       string           `json:"serviceId,omitempty"`
	StageID         string           `json:"stageId,omitempty"`
	PackageID       string           `json:"packageId,omitempty"`
	TaskID          string           `json:"taskId,omitempty"`
	Minutes         int              `json:"minutes"`
	Hours           decimal.Decimal  `json:"hours"`
	IsInternal      bool             `json:"isInternal"`
	PreviousVersion int64            `json:"previousVersion,omitempty"`
	Version         int64            `json:"version,omitempty"`
	RemainingHours  *decimal.Decimal `json:"remainingHours,omitempty"`
	PackageDepleted bool             `json:"packageDepleted,omitempty"`
	Overdrawn       bool             `json:"overdrawn,omitempty"`
	FixedFee        bool             `json:"fixedFee,omitempty"`
	ActualMinutes   int              `json:"actualMinutes,omitempty"`
	Budget          *BudgetStatus    `json:"budgetStatus,omitempty"`
	Attempts        int              `json:"attempts"`
	PostedAt        time.Time        `json:"postedAt"`
}

// EditInput describes an edit-with-history request. Nil fields are left unchanged.
type EditInput struct {
	EntryID     string     `json:"entryId" validate:"required"`
	Description *string    `json:"description,omitempty" validate:"omitempty,min=1,max=2000"`
	Date        *time.Time `json:"date,omitempty"`
	Minutes     *int       `json:"minutes,omitempty"`
	Reason      string     `json:"reason,omitempty" validate:"max=500"`
}

// CompleteInput describes a task completion.
type CompleteInput struct {
	TaskID    string `json:"taskId" validate:"required"`
	Notes     string `json:"notes,omitempty" validate:"max=2000"`
	GapReason string `json:"gapReason,omitempty" validate:"max=500"`
}

// CancelInput describes a task cancellation.
type CancelInput struct {
	TaskID string `json:"taskId" validate:"required"`
	Reason string `json:"reason" validate:"required,max=500"`
}

// CapacityView summarises hours for a service or stage.
type CapacityView struct {
	ID             string          `json:"id"`
	Name           string          `json:"name,omitempty"`
	Legacy         bool            `json:"legacy,omitempty"`
	TotalHours     decimal.Decimal `json:"totalHours"`
	UsedHours      decimal.Decimal `json:"usedHours"`
	RemainingHours decimal.Decimal `json:"remainingHours"`
	WorkedHours    decimal.Decimal `json:"workedHours"`
	Progress       decimal.Decimal `json:"progress"`
	ActivePackage  string          `json:"activePackage,omitempty"`
}

// ServiceBalance is a service with its stages.
type ServiceBalance struct {
	CapacityView
	Type   string         `json:"type"`
	Stages []CapacityView `json:"stages,omitempty"`
}

// Balance is the read model of a ledger's hours.
type Balance struct {
	LedgerID string           `json:"ledgerId"`
	Version  int64            `json:"version"`
	Services []ServiceBalance `json:"services"`
}
