package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hourledger/hourledger/internal/shared"
)

var (
	// ErrServiceNotFound indicates the ledger has no such service.
	ErrServiceNotFound = errors.New("ledger: service not found")
	// ErrStageNotFound indicates the service has no such stage.
	ErrStageNotFound = errors.New("ledger: stage not found")
	// ErrNoCapacity indicates the target has no active package with hours left.
	ErrNoCapacity = errors.New("ledger: no active package")
)

// OverdraftError reports a deduction that would push a package past the overdraft limit.
type OverdraftError struct {
	LedgerID         string
	PackageID        string
	CurrentRemaining decimal.Decimal
	RequestedHours   decimal.Decimal
	WouldBe          decimal.Decimal
	Limit            decimal.Decimal
}

func (e *OverdraftError) Error() string {
	return fmt.Sprintf("ledger: overdraft limit exceeded on package %s: remaining %s, requested %s, would be %s (limit -%s)",
		e.PackageID, RoundHours(e.CurrentRemaining), RoundHours(e.RequestedHours), RoundHours(e.WouldBe), e.Limit)
}

// ErrorCode maps the overdraft to the resource exhausted class.
func (e *OverdraftError) ErrorCode() shared.Code {
	return shared.CodeResourceExhausted
}

// Details exposes the numbers a caller needs to act on the rejection.
func (e *OverdraftError) Details() map[string]any {
	return map[string]any{
		"ledgerId":         e.LedgerID,
		"packageId":        e.PackageID,
		"currentRemaining": RoundHours(e.CurrentRemaining).String(),
		"requestedHours":   RoundHours(e.RequestedHours).String(),
		"wouldBe":          RoundHours(e.WouldBe).String(),
		"limit":            e.Limit.String(),
	}
}

// Target selects where a posting lands.
type Target struct {
	ServiceID string
	StageID   string
}

// Deduction describes the package change produced by a posting.
type Deduction struct {
	PackageID      string          `json:"packageId"`
	Hours          decimal.Decimal `json:"hours"`
	Before         Package         `json:"before"`
	After          Package         `json:"after"`
	RemainingAfter decimal.Decimal `json:"remainingAfter"`
	Depleted       bool            `json:"depleted"`
	Overdrawn      bool            `json:"overdrawn"`
}

// Posting is the computed result of applying hours to a ledger. Nothing is persisted.
type Posting struct {
	Ledger    Ledger
	ServiceID string
	StageID   string
	Fixed     bool
	Deduction *Deduction
}

// Post computes the ledger after charging hours to target. Hourly services deduct from
// their own packages, legal procedures from the resolved stage, and fixed services only
// accumulate worked hours. overdraftLimit is the tolerated negative balance in hours.
func Post(l Ledger, target Target, hours, overdraftLimit decimal.Decimal, now time.Time) (Posting, error) {
	service, ok := l.Service(target.ServiceID)
	if !ok {
		return Posting{}, fmt.Errorf("%w: %s", ErrServiceNotFound, target.ServiceID)
	}
	posting := Posting{ServiceID: service.ID}

	switch service.Type {
	case ServiceFixed:
		posting.Fixed = true
		service.WorkedHours = service.WorkedHours.Add(hours)
		if stage, ok := service.ResolveStage(target.StageID); ok {
			stage.WorkedHours = stage.WorkedHours.Add(hours)
			service = service.WithStage(stage)
			posting.StageID = stage.ID
		}
		posting.Ledger = l.WithService(service)
		return posting, nil

	case ServiceLegalProcedure:
		stage, ok := service.ResolveStage(target.StageID)
		if !ok {
			return Posting{}, fmt.Errorf("%w: %s", ErrStageNotFound, target.StageID)
		}
		capacity, deduction, err := charge(l.ID, stage.Capacity, hours, overdraftLimit, now)
		if err != nil {
			return Posting{}, err
		}
		stage.Capacity = capacity
		stage.HoursUsed = stage.HoursUsed.Add(hours)
		service = service.WithStage(stage)
		service.HoursUsed = service.HoursUsed.Add(hours)
		posting.StageID = stage.ID
		posting.Deduction = deduction

	default:
		capacity, deduction, err := charge(l.ID, service.Capacity, hours, overdraftLimit, now)
		if err != nil {
			return Posting{}, err
		}
		service.Capacity = capacity
		service.HoursUsed = service.HoursUsed.Add(hours)
		posting.Deduction = deduction
	}

	posting.Ledger = l.WithService(service)
	return posting, nil
}

func charge(ledgerID string, c Capacity, hours, overdraftLimit decimal.Decimal, now time.Time) (Capacity, *Deduction, error) {
	pkg, ok := SelectActivePackage(c)
	if !ok {
		return c, nil, ErrNoCapacity
	}
	afterDeduction := pkg.HoursRemaining.Sub(hours)
	if afterDeduction.LessThan(overdraftLimit.Neg()) {
		return c, nil, &OverdraftError{
			LedgerID:         ledgerID,
			PackageID:        pkg.ID,
			CurrentRemaining: pkg.HoursRemaining,
			RequestedHours:   hours,
			WouldBe:          afterDeduction,
			Limit:            overdraftLimit,
		}
	}
	updated := Deduct(pkg, hours, now)
	next := ReplacePackage(c, updated)
	if !next.IsLegacy() {
		// Mirror for readers of the flat field; RemainingHours never reads it here.
		next.Flat = RemainingHours(next)
	}
	return next, &Deduction{
		PackageID:      pkg.ID,
		Hours:          hours,
		Before:         pkg,
		After:          updated,
		RemainingAfter: RemainingHours(next),
		Depleted:       updated.Status == PackageDepleted,
		Overdrawn:      afterDeduction.IsNegative(),
	}, nil
}
