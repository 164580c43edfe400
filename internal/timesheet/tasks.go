package timesheet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hourledger/hourledger/internal/events"
	"github.com/hourledger/hourledger/internal/platform/retry"
	"github.com/hourledger/hourledger/internal/shared"
)

// CompleteTask closes an active task that has logged time and records how far the
// actual minutes drifted from the estimate.
func (s *Service) CompleteTask(ctx context.Context, actor shared.Actor, in CompleteInput) (Task, error) {
	in.TaskID = strings.TrimSpace(in.TaskID)
	in.Notes = strings.TrimSpace(in.Notes)
	if err := shared.ValidateStruct(in); err != nil {
		return Task{}, err
	}
	var completed Task
	err := s.inTx(ctx, "task_complete", func(ctx context.Context, tx TxRepository) error {
		t, err := s.loadOwnedTask(ctx, tx, actor, in.TaskID)
		if err != nil {
			return err
		}
		if t.ActualMinutes == 0 {
			return shared.FailedPrecondition(fmt.Sprintf("task %s has no logged time", t.ID),
				map[string]any{"taskId": t.ID, "estimatedMinutes": t.EstimatedMinutes, "actualMinutes": 0}).Wrap(ErrNoLoggedTime)
		}
		completion := NewCompletion(t.EstimatedMinutes, t.ActualMinutes, actor.ID, in.GapReason, in.Notes, s.now())
		expected := t.Version
		t.Status = TaskCompleted
		t.Completion = &completion
		t.Version++
		if err := tx.UpdateTask(ctx, t, expected); err != nil {
			return err
		}
		completed = t
		return nil
	})
	if err != nil {
		return Task{}, err
	}

	ctx = context.WithoutCancel(ctx)
	c := completed.Completion
	if s.events != nil {
		s.events.Record(ctx, events.Event{
			Type:      events.TaskCompleted,
			LedgerID:  completed.LedgerID,
			ServiceID: completed.ServiceID,
			StageID:   completed.StageID,
			TaskID:    completed.ID,
			Payload: map[string]any{
				"estimatedMinutes": c.EstimatedMinutes,
				"actualMinutes":    c.ActualMinutes,
				"gapPercent":       c.GapPercent,
				"isCritical":       c.IsCritical,
			},
			PerformedBy: actor.ID,
			Before:      map[string]any{"status": string(TaskActive)},
			After:       map[string]any{"status": string(TaskCompleted), "version": completed.Version},
			OccurredAt:  c.CompletedAt,
		})
	}
	if c.IsCritical {
		s.logger.Warn("task completed with critical estimate gap",
			slog.String("task_id", completed.ID),
			slog.Int("gap_percent", c.GapPercent),
			slog.Bool("over", c.IsOver),
		)
		s.recordAudit(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   ActionTaskCompletionAlert,
			Entity:   "task",
			EntityID: completed.ID,
			Meta: map[string]any{
				"title":            completed.Title,
				"gapPercent":       c.GapPercent,
				"gapMinutes":       c.GapMinutes,
				"isOver":           c.IsOver,
				"estimatedMinutes": c.EstimatedMinutes,
				"actualMinutes":    c.ActualMinutes,
				"gapReason":        c.GapReason,
				"status":           "pending",
			},
			At: c.CompletedAt,
		})
	}
	s.recordAudit(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   ActionCompleteTask,
		Entity:   "task",
		EntityID: completed.ID,
		Meta: map[string]any{
			"actualMinutes": c.ActualMinutes,
			"gapPercent":    c.GapPercent,
			"isCritical":    c.IsCritical,
		},
		At: c.CompletedAt,
	})
	return completed, nil
}

// CancelTask cancels an active task that has no logged time. Pending approvals for the
// task are closed in the same transaction.
func (s *Service) CancelTask(ctx context.Context, actor shared.Actor, in CancelInput) (Task, error) {
	in.TaskID = strings.TrimSpace(in.TaskID)
	in.Reason = strings.TrimSpace(in.Reason)
	if err := shared.ValidateStruct(in); err != nil {
		return Task{}, err
	}
	var (
		cancelled Task
		approvals int64
	)
	err := s.inTx(ctx, "task_cancel", func(ctx context.Context, tx TxRepository) error {
		t, err := s.loadOwnedTask(ctx, tx, actor, in.TaskID)
		if err != nil {
			return err
		}
		if t.ActualMinutes > 0 {
			return shared.FailedPrecondition(fmt.Sprintf("task %s already has %d logged minutes", t.ID, t.ActualMinutes),
				map[string]any{"taskId": t.ID, "actualMinutes": t.ActualMinutes}).Wrap(ErrTimeAlreadyLogged)
		}
		expected := t.Version
		t.Status = TaskCancelled
		t.Cancellation = &Cancellation{CancelledAt: s.now(), CancelledBy: actor.ID, Reason: in.Reason}
		t.Version++
		if err := tx.UpdateTask(ctx, t, expected); err != nil {
			return err
		}
		n, err := tx.CancelPendingApprovals(ctx, t.ID)
		if err != nil {
			return err
		}
		cancelled, approvals = t, n
		return nil
	})
	if err != nil {
		return Task{}, err
	}

	ctx = context.WithoutCancel(ctx)
	if s.events != nil {
		s.events.Record(ctx, events.Event{
			Type:        events.TaskCancelled,
			LedgerID:    cancelled.LedgerID,
			ServiceID:   cancelled.ServiceID,
			StageID:     cancelled.StageID,
			TaskID:      cancelled.ID,
			Payload:     map[string]any{"reason": in.Reason, "approvalsCancelled": approvals},
			PerformedBy: actor.ID,
			Before:      map[string]any{"status": string(TaskActive)},
			After:       map[string]any{"status": string(TaskCancelled), "version": cancelled.Version},
			OccurredAt:  cancelled.Cancellation.CancelledAt,
		})
	}
	s.recordAudit(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   ActionCancelTask,
		Entity:   "task",
		EntityID: cancelled.ID,
		Meta:     map[string]any{"reason": in.Reason, "approvalsCancelled": approvals},
		At:       cancelled.Cancellation.CancelledAt,
	})
	return cancelled, nil
}

// loadOwnedTask reads an active task the actor may act on.
func (s *Service) loadOwnedTask(ctx context.Context, tx TxRepository, actor shared.Actor, id string) (Task, error) {
	t, err := tx.GetTask(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if !actor.CanActOn(t.AssignedTo) {
		return Task{}, shared.PermissionDenied("only the assigned actor or an admin may change this task",
			map[string]any{"taskId": t.ID, "assignedTo": t.AssignedTo, "actorId": actor.ID})
	}
	if t.Status != TaskActive {
		return Task{}, shared.FailedPrecondition(fmt.Sprintf("task %s is %s", t.ID, t.Status),
			map[string]any{"taskId": t.ID, "status": string(t.Status)}).Wrap(ErrTaskNotActive)
	}
	return t, nil
}

// inTx runs fn in a transaction, retrying store conflicts with the posting policy.
func (s *Service) inTx(ctx context.Context, operation string, fn func(context.Context, TxRepository) error) error {
	policy := retry.Policy{
		MaxAttempts: s.cfg.RetryAttempts,
		Backoff:     retry.Linear(s.cfg.RetryBackoff),
		Retryable:   shared.IsConflict,
		OnRetry: func(int, error) {
			s.metrics.Retry(operation)
		},
	}
	_, err := retry.Do(ctx, policy, func(ctx context.Context, _ int) (struct{}, error) {
		return struct{}{}, s.repo.WithTx(ctx, fn)
	})
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return shared.Aborted(fmt.Sprintf("%s: concurrent modification, gave up after %d attempts", operation, exhausted.Attempts), exhausted)
	}
	return err
}
