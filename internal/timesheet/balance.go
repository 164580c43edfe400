package timesheet

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/hourledger/hourledger/internal/ledger"
	"github.com/hourledger/hourledger/internal/shared"
)

// Balance reports remaining, used and total hours per service and stage.
func (s *Service) Balance(ctx context.Context, ledgerID string) (Balance, error) {
	ledgerID = strings.TrimSpace(ledgerID)
	if ledgerID == "" {
		return Balance{}, shared.InvalidArgument("ledgerId required", map[string]any{"fields": map[string]any{"ledgerId": "required"}})
	}
	l, err := s.repo.GetLedger(ctx, ledgerID)
	if err != nil {
		return Balance{}, err
	}
	return NewBalance(l), nil
}

// NewBalance builds the read model from a ledger.
func NewBalance(l ledger.Ledger) Balance {
	out := Balance{LedgerID: l.ID, Version: l.Version, Services: make([]ServiceBalance, 0, len(l.Services))}
	for _, svc := range l.Services {
		sb := ServiceBalance{Type: string(svc.Type)}
		switch svc.Type {
		case ledger.ServiceFixed:
			sb.CapacityView = CapacityView{ID: svc.ID, Name: svc.Name, WorkedHours: svc.WorkedHours}
		case ledger.ServiceLegalProcedure:
			sb.CapacityView = CapacityView{ID: svc.ID, Name: svc.Name, WorkedHours: svc.WorkedHours}
			for _, st := range svc.Stages {
				view := capacityView(st.ID, st.Name, st.Capacity, st.HoursUsed)
				view.WorkedHours = st.WorkedHours
				sb.Stages = append(sb.Stages, view)
				sb.TotalHours = sb.TotalHours.Add(view.TotalHours)
				sb.UsedHours = sb.UsedHours.Add(view.UsedHours)
				sb.RemainingHours = sb.RemainingHours.Add(view.RemainingHours)
			}
			sb.Progress = progress(sb.UsedHours, sb.TotalHours)
		default:
			sb.CapacityView = capacityView(svc.ID, svc.Name, svc.Capacity, svc.HoursUsed)
			sb.WorkedHours = svc.WorkedHours
		}
		out.Services = append(out.Services, sb)
	}
	return out
}

func capacityView(id, name string, c ledger.Capacity, hoursUsed decimal.Decimal) CapacityView {
	view := CapacityView{
		ID:             id,
		Name:           name,
		Legacy:         c.IsLegacy(),
		RemainingHours: ledger.RemainingHours(c),
		UsedHours:      ledger.UsedHours(c, hoursUsed),
		TotalHours:     ledger.TotalHours(c, hoursUsed),
		Progress:       ledger.Progress(c, hoursUsed),
	}
	if p, ok := ledger.SelectActivePackage(c); ok {
		view.ActivePackage = p.ID
	}
	return view
}

func progress(used, total decimal.Decimal) decimal.Decimal {
	if !total.IsPositive() {
		return decimal.Zero
	}
	return used.Div(total).Mul(decimal.NewFromInt(100)).Round(1)
}
