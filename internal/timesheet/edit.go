package timesheet

import (
	"context"
	"strings"

	"github.com/hourledger/hourledger/internal/events"
	"github.com/hourledger/hourledger/internal/shared"
)

// EditEntry changes the description or date of an entry and appends the change to its
// history. Minutes are fixed once logged because they were already charged to a package.
func (s *Service) EditEntry(ctx context.Context, actor shared.Actor, in EditInput) (Entry, error) {
	in.EntryID = strings.TrimSpace(in.EntryID)
	in.Reason = strings.TrimSpace(in.Reason)
	if in.Description != nil {
		trimmed := strings.TrimSpace(*in.Description)
		in.Description = &trimmed
	}
	if err := shared.ValidateStruct(in); err != nil {
		return Entry{}, err
	}
	if in.Description == nil && in.Date == nil && in.Minutes == nil {
		return Entry{}, shared.InvalidArgument("nothing to edit", map[string]any{"entryId": in.EntryID})
	}

	var (
		edited Entry
		record EditRecord
	)
	err := s.inTx(ctx, "entry_edit", func(ctx context.Context, tx TxRepository) error {
		e, err := tx.GetEntry(ctx, in.EntryID)
		if err != nil {
			return err
		}
		if !actor.CanActOn(e.Employee) {
			return shared.PermissionDenied("only the author or an admin may edit this entry",
				map[string]any{"entryId": e.ID, "employee": e.Employee, "actorId": actor.ID})
		}
		if in.Minutes != nil && *in.Minutes != e.Minutes {
			return shared.FailedPrecondition("logged minutes cannot be edited",
				map[string]any{"entryId": e.ID, "minutes": e.Minutes, "requestedMinutes": *in.Minutes}).Wrap(ErrMinutesImmutable)
		}
		record = EditRecord{
			EditedAt: s.now(),
			EditedBy: actor.ID,
			Reason:   in.Reason,
			Before:   map[string]string{},
			After:    map[string]string{},
		}
		if in.Description != nil && *in.Description != e.Description {
			record.Before["description"] = e.Description
			record.After["description"] = *in.Description
			e.Description = *in.Description
		}
		if in.Date != nil {
			day := dateOnly(*in.Date)
			if !day.Equal(dateOnly(e.Date)) {
				record.Before["date"] = e.Date.Format(DateLayout)
				record.After["date"] = day.Format(DateLayout)
				e.Date = day
			}
		}
		if len(record.After) == 0 {
			edited = e
			return nil
		}
		e.Edits = append(append([]EditRecord(nil), e.Edits...), record)
		if err := tx.UpdateEntry(ctx, e); err != nil {
			return err
		}
		edited = e
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	if len(record.After) == 0 {
		return edited, nil
	}

	ctx = context.WithoutCancel(ctx)
	if s.events != nil {
		s.events.Record(ctx, events.Event{
			Type:        events.EntryEdited,
			LedgerID:    edited.LedgerID,
			ServiceID:   edited.ServiceID,
			StageID:     edited.StageID,
			PackageID:   edited.PackageID,
			TaskID:      edited.TaskID,
			TimesheetID: edited.ID,
			Payload:     map[string]any{"reason": in.Reason, "edits": len(edited.Edits)},
			PerformedBy: actor.ID,
			Before:      toAny(record.Before),
			After:       toAny(record.After),
			OccurredAt:  record.EditedAt,
		})
	}
	s.recordAudit(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   ActionEditEntry,
		Entity:   "timesheet_entry",
		EntityID: edited.ID,
		Meta:     map[string]any{"before": record.Before, "after": record.After, "reason": in.Reason},
		At:       record.EditedAt,
	})
	return edited, nil
}

func toAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
