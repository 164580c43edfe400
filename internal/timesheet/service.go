package timesheet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/hourledger/hourledger/internal/events"
	"github.com/hourledger/hourledger/internal/ledger"
	"github.com/hourledger/hourledger/internal/platform/retry"
	"github.com/hourledger/hourledger/internal/reservation"
	"github.com/hourledger/hourledger/internal/shared"
	"github.com/hourledger/hourledger/internal/version"
)

// Audit actions written by this package.
const (
	ActionCreateEntry         = "CREATE_TIMESHEET_ENTRY"
	ActionEditEntry           = "EDIT_TIMESHEET_ENTRY"
	ActionCompleteTask        = "COMPLETE_TASK"
	ActionCancelTask          = "CANCEL_TASK"
	ActionTaskCompletionAlert = "TASK_COMPLETION_ALERT"
)

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ReservationPort brackets each transaction attempt.
type ReservationPort interface {
	Create(ctx context.Context, intent reservation.Intent) (reservation.Reservation, error)
	Commit(ctx context.Context, id string) error
	Rollback(ctx context.Context, id string, cause error) error
}

// EventPort appends to the event log without failing the caller.
type EventPort interface {
	Record(ctx context.Context, e events.Event) bool
}

// Metrics receives posting telemetry.
type Metrics interface {
	Posting(outcome string)
	Retry(operation string)
	OverdraftRejected()
	PackageDepleted()
	AuditWriteFailed(action string)
}

// Config tunes the posting transaction.
type Config struct {
	// OverdraftLimit is the negative balance in hours a package may reach.
	OverdraftLimit decimal.Decimal
	RetryAttempts  int
	// RetryBackoff is multiplied by the attempt number between retries.
	RetryBackoff time.Duration
}

// DefaultConfig returns the stock limits: 10 hours of overdraft, 3 attempts, 100ms steps.
func DefaultConfig() Config {
	return Config{
		OverdraftLimit: decimal.NewFromInt(10),
		RetryAttempts:  3,
		RetryBackoff:   100 * time.Millisecond,
	}
}

// Deps bundles the collaborators of Service. Only Repo and Reservations are required.
type Deps struct {
	Repo         Repository
	Reservations ReservationPort
	Events       EventPort
	Idempotency  shared.Registry
	Audit        AuditPort
	Metrics      Metrics
	Logger       *slog.Logger
}

// Service posts time and manages the task lifecycle.
type Service struct {
	repo         Repository
	reservations ReservationPort
	events       EventPort
	idempotency  shared.Registry
	audit        AuditPort
	metrics      Metrics
	logger       *slog.Logger
	cfg          Config
	inflight     singleflight.Group
	now          func() time.Time
	newID        func() string
}

// NewService wires a Service.
func NewService(deps Deps, cfg Config) *Service {
	defaults := DefaultConfig()
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaults.RetryAttempts
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = defaults.RetryBackoff
	}
	if cfg.OverdraftLimit.IsNegative() {
		cfg.OverdraftLimit = cfg.OverdraftLimit.Neg()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Service{
		repo:         deps.Repo,
		reservations: deps.Reservations,
		events:       deps.Events,
		idempotency:  deps.Idempotency,
		audit:        deps.Audit,
		metrics:      metrics,
		logger:       logger,
		cfg:          cfg,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        func() string { return "ts_" + uuid.NewString() },
	}
}

// WithNow overrides the clock for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Post records one time entry. Client work charges the ledger under optimistic locking and
// is retried on conflicts; a repeated idempotency key returns the first result unchanged.
func (s *Service) Post(ctx context.Context, actor shared.Actor, in PostInput) (PostResult, error) {
	if actor.ID == "" {
		return PostResult{}, shared.PermissionDenied("actor required", nil).Wrap(shared.ErrUnauthenticated)
	}
	in = in.Normalize()
	if in.IdempotencyKey == "" {
		return s.post(ctx, actor, in, "")
	}
	key := idempotencyKey(actor, in.IdempotencyKey)
	v, err, _ := s.inflight.Do(key, func() (any, error) {
		return s.post(ctx, actor, in, key)
	})
	if err != nil {
		return PostResult{}, err
	}
	return v.(PostResult), nil
}

// idempotencyKey scopes a client key to the actor that sent it.
func idempotencyKey(actor shared.Actor, key string) string {
	return actor.ID + ":" + key
}

func (s *Service) post(ctx context.Context, actor shared.Actor, in PostInput, key string) (PostResult, error) {
	if key != "" && s.idempotency != nil {
		cached, ok, err := shared.Lookup[PostResult](ctx, s.idempotency, key)
		if err != nil {
			return PostResult{}, fmt.Errorf("timesheet: idempotency check: %w", err)
		}
		if ok {
			s.metrics.Posting("replayed")
			return cached, nil
		}
	}
	if err := in.Validate(); err != nil {
		s.metrics.Posting("rejected")
		return PostResult{}, err
	}

	policy := retry.Policy{
		MaxAttempts: s.cfg.RetryAttempts,
		Backoff:     retry.Linear(s.cfg.RetryBackoff),
		Retryable:   shared.IsConflict,
		OnRetry: func(attempt int, err error) {
			s.metrics.Retry("timesheet_post")
			s.logger.Info("timesheet posting conflict, retrying",
				slog.Int("attempt", attempt),
				slog.String("ledger_id", in.LedgerID),
				slog.String("task_id", in.TaskID),
				slog.Any("error", err),
			)
		},
	}
	out, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (postOutcome, error) {
		return s.attempt(ctx, actor, in, attempt)
	})
	if err != nil {
		return PostResult{}, s.postFailure(in, err)
	}

	// The ledger is committed; the bookkeeping below must outlive a cancelled request.
	ctx = context.WithoutCancel(ctx)
	s.metrics.Posting("committed")
	s.recordPostEvents(ctx, actor, in, out)
	if key != "" && s.idempotency != nil {
		if err := shared.Remember(ctx, s.idempotency, key, out.result); err != nil {
			level := slog.LevelWarn
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				level = slog.LevelError
			}
			s.logger.Log(ctx, level, "idempotency register failed",
				slog.String("entry_id", out.result.EntryID),
				slog.Any("error", err),
			)
		}
	}
	s.recordAudit(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   ActionCreateEntry,
		Entity:   "timesheet_entry",
		EntityID: out.result.EntryID,
		Meta: map[string]any{
			"ledgerId":      in.LedgerID,
			"taskId":        in.TaskID,
			"minutes":       in.Minutes,
			"isInternal":    in.IsInternal,
			"packageId":     out.result.PackageID,
			"reservationId": out.result.ReservationID,
			"version":       out.result.Version,
		},
		At: out.result.PostedAt,
	})
	return out.result, nil
}

func (s *Service) postFailure(in PostInput, err error) error {
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		s.metrics.Posting("aborted")
		s.logger.Warn("timesheet posting aborted",
			slog.Int("attempts", exhausted.Attempts),
			slog.String("ledger_id", in.LedgerID),
			slog.Any("error", exhausted.Err),
		)
		return shared.Aborted(fmt.Sprintf("concurrent modification of ledger %s, gave up after %d attempts", in.LedgerID, exhausted.Attempts), exhausted).
			WithDetails(map[string]any{"ledgerId": in.LedgerID, "attempts": exhausted.Attempts})
	}
	var overdraft *ledger.OverdraftError
	if errors.As(err, &overdraft) {
		s.metrics.OverdraftRejected()
	}
	switch shared.CodeOf(err) {
	case shared.CodeInternal:
		s.metrics.Posting("failed")
	default:
		s.metrics.Posting("rejected")
	}
	return err
}

// postOutcome carries what the after-commit steps need from a successful attempt.
type postOutcome struct {
	result    PostResult
	deduction *ledger.Deduction
}

var postOperations = []string{"update_ledger", "update_task", "create_timesheet_entry", "create_event"}

func (s *Service) attempt(ctx context.Context, actor shared.Actor, in PostInput, attempt int) (postOutcome, error) {
	now := s.now()
	res, err := s.reservations.Create(ctx, reservation.Intent{
		Operations: postOperations,
		Payload: map[string]any{
			"ledgerId":       in.LedgerID,
			"taskId":         in.TaskID,
			"minutes":        in.Minutes,
			"isInternal":     in.IsInternal,
			"attempt":        attempt,
			"idempotencyKey": in.IdempotencyKey,
		},
		PerformedBy: actor.ID,
	})
	if err != nil {
		return postOutcome{}, fmt.Errorf("timesheet: create reservation: %w", err)
	}

	var out postOutcome
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := s.apply(ctx, tx, actor, in, res.ID, now)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		if rbErr := s.reservations.Rollback(context.WithoutCancel(ctx), res.ID, err); rbErr != nil {
			s.logger.Warn("reservation rollback failed", slog.String("reservation_id", res.ID), slog.Any("error", rbErr))
		}
		return postOutcome{}, mapPostError(in, err)
	}
	if err := s.reservations.Commit(context.WithoutCancel(ctx), res.ID); err != nil {
		s.logger.Warn("reservation commit failed", slog.String("reservation_id", res.ID), slog.Any("error", err))
	}
	out.result.Attempts = attempt
	return out, nil
}

// apply is the transaction body. It must not touch anything outside tx.
func (s *Service) apply(ctx context.Context, tx TxRepository, actor shared.Actor, in PostInput, reservationID string, now time.Time) (postOutcome, error) {
	hours := ledger.MinutesToHours(in.Minutes)
	result := PostResult{
		EntryID:       s.newID(),
		ReservationID: reservationID,
		LedgerID:      in.LedgerID,
		TaskID:        in.TaskID,
		Minutes:       in.Minutes,
		Hours:         hours,
		IsInternal:    in.IsInternal,
		PostedAt:      now,
	}
	out := postOutcome{}

	var task *Task
	if in.TaskID != "" {
		t, err := tx.GetTask(ctx, in.TaskID)
		if err != nil {
			return out, err
		}
		if t.Status != TaskActive {
			return out, shared.FailedPrecondition(fmt.Sprintf("task %s is %s", t.ID, t.Status),
				map[string]any{"taskId": t.ID, "status": string(t.Status)}).Wrap(ErrTaskNotActive)
		}
		if !actor.CanActOn(t.AssignedTo) {
			return out, shared.PermissionDenied("only the assigned actor or an admin may post time to this task",
				map[string]any{"taskId": t.ID, "assignedTo": t.AssignedTo, "actorId": actor.ID})
		}
		if !in.IsInternal && t.LedgerID != in.LedgerID {
			return out, shared.InvalidArgument(fmt.Sprintf("task %s does not belong to ledger %s", t.ID, in.LedgerID),
				map[string]any{"taskId": t.ID, "taskLedgerId": t.LedgerID, "ledgerId": in.LedgerID})
		}
		task = &t
	}

	if !in.IsInternal {
		target, err := resolveTarget(in, task)
		if err != nil {
			return out, err
		}
		loaded, err := version.Load(ctx, func(ctx context.Context) (ledger.Ledger, error) {
			return tx.GetLedger(ctx, in.LedgerID)
		}, in.ExpectedVersion)
		if err != nil {
			return out, err
		}
		posting, err := ledger.Post(loaded.Data, target, hours, s.cfg.OverdraftLimit, now)
		if err != nil {
			return out, err
		}
		next := posting.Ledger.Stamp(loaded.Next, actor.ID, now)
		if err := tx.UpdateLedger(ctx, next, loaded.Current); err != nil {
			return out, err
		}
		result.ServiceID = posting.ServiceID
		result.StageID = posting.StageID
		result.FixedFee = posting.Fixed
		result.PreviousVersion = loaded.Current
		result.Version = loaded.Next
		if d := posting.Deduction; d != nil {
			remaining := d.RemainingAfter
			result.PackageID = d.PackageID
			result.RemainingHours = &remaining
			result.PackageDepleted = d.Depleted
			result.Overdrawn = d.Overdrawn
			out.deduction = d
		}
	}

	if task != nil {
		ref := TimeEntryRef{
			EntryID:   result.EntryID,
			Minutes:   in.Minutes,
			Date:      in.Date.UTC().Format(DateLayout),
			AddedBy:   actor.ID,
			AddedAt:   now,
			Budget:    NewBudgetStatus(task.EstimatedMinutes, task.ActualMinutes+in.Minutes),
			PackageID: result.PackageID,
		}
		updated, err := tx.AppendTaskTime(ctx, task.ID, ref)
		if err != nil {
			return out, err
		}
		budget := NewBudgetStatus(updated.EstimatedMinutes, updated.ActualMinutes)
		result.ActualMinutes = updated.ActualMinutes
		result.Budget = &budget
	}

	entry := Entry{
		ID:             result.EntryID,
		TaskID:         in.TaskID,
		LedgerID:       in.LedgerID,
		ServiceID:      result.ServiceID,
		StageID:        result.StageID,
		PackageID:      result.PackageID,
		Employee:       actor.ID,
		Minutes:        in.Minutes,
		Hours:          hours,
		Date:           dateOnly(in.Date),
		Description:    in.Description,
		IsInternal:     in.IsInternal,
		ReservationID:  reservationID,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      now,
	}
	if err := tx.InsertEntry(ctx, entry); err != nil {
		return out, err
	}
	out.result = result
	return out, nil
}

// resolveTarget merges the requested service and stage with the task binding. Explicit
// references must agree with the task.
func resolveTarget(in PostInput, task *Task) (ledger.Target, error) {
	target := ledger.Target{ServiceID: in.ServiceID, StageID: in.StageID}
	if task != nil {
		if target.ServiceID == "" {
			target.ServiceID = task.ServiceID
		} else if task.ServiceID != "" && task.ServiceID != target.ServiceID {
			return target, shared.InvalidArgument("service does not match the task binding",
				map[string]any{"taskId": task.ID, "taskServiceId": task.ServiceID, "serviceId": target.ServiceID})
		}
		if target.StageID == "" {
			target.StageID = task.StageID
		} else if task.StageID != "" && task.StageID != target.StageID {
			return target, shared.InvalidArgument("stage does not match the task binding",
				map[string]any{"taskId": task.ID, "taskStageId": task.StageID, "stageId": target.StageID})
		}
	}
	if target.ServiceID == "" {
		return target, shared.InvalidArgument("serviceId required for client work", map[string]any{"fields": map[string]any{"serviceId": "required"}})
	}
	return target, nil
}

func mapPostError(in PostInput, err error) error {
	switch {
	case errors.Is(err, ledger.ErrNoCapacity):
		return shared.ResourceExhausted("no active package with remaining hours", map[string]any{
			"reason":    "no_active_package",
			"ledgerId":  in.LedgerID,
			"serviceId": in.ServiceID,
			"stageId":   in.StageID,
		}).Wrap(err)
	case errors.Is(err, ledger.ErrServiceNotFound), errors.Is(err, ledger.ErrStageNotFound):
		return shared.FailedPrecondition(err.Error(), map[string]any{
			"ledgerId":  in.LedgerID,
			"serviceId": in.ServiceID,
			"stageId":   in.StageID,
		}).Wrap(err)
	}
	return err
}

func (s *Service) recordPostEvents(ctx context.Context, actor shared.Actor, in PostInput, out postOutcome) {
	if s.events == nil {
		return
	}
	r := out.result
	timeAdded := events.Event{
		Type:        events.TimeAdded,
		LedgerID:    r.LedgerID,
		ServiceID:   r.ServiceID,
		StageID:     r.StageID,
		PackageID:   r.PackageID,
		TaskID:      r.TaskID,
		TimesheetID: r.EntryID,
		Payload: map[string]any{
			"minutes":    r.Minutes,
			"hours":      r.Hours.String(),
			"date":       in.Date.UTC().Format(DateLayout),
			"isInternal": r.IsInternal,
			"fixedFee":   r.FixedFee,
		},
		PerformedBy:    actor.ID,
		IdempotencyKey: in.IdempotencyKey,
		OccurredAt:     r.PostedAt,
	}
	if d := out.deduction; d != nil {
		timeAdded.Before = map[string]any{"version": r.PreviousVersion, "hoursRemaining": d.Before.HoursRemaining.String(), "hoursUsed": d.Before.HoursUsed.String()}
		timeAdded.After = map[string]any{"version": r.Version, "hoursRemaining": d.After.HoursRemaining.String(), "hoursUsed": d.After.HoursUsed.String()}
	} else if r.Version > 0 {
		timeAdded.Before = map[string]any{"version": r.PreviousVersion}
		timeAdded.After = map[string]any{"version": r.Version}
	}
	s.events.Record(ctx, timeAdded)

	if out.deduction != nil && out.deduction.Depleted {
		s.metrics.PackageDepleted()
		d := out.deduction
		s.events.Record(ctx, events.Event{
			Type:        events.PackageDepleted,
			LedgerID:    r.LedgerID,
			ServiceID:   r.ServiceID,
			StageID:     r.StageID,
			PackageID:   d.PackageID,
			TaskID:      r.TaskID,
			TimesheetID: r.EntryID,
			Payload: map[string]any{
				"packageHours":   d.After.Hours.String(),
				"overdraftHours": d.After.OverdraftHours.String(),
			},
			PerformedBy:    actor.ID,
			Before:         map[string]any{"status": string(d.Before.Status)},
			After:          map[string]any{"status": string(d.After.Status)},
			IdempotencyKey: in.IdempotencyKey,
			OccurredAt:     r.PostedAt,
		})
	}
}

func (s *Service) recordAudit(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.metrics.AuditWriteFailed(log.Action)
		s.logger.Warn("audit write dropped",
			slog.String("action", log.Action),
			slog.String("entity_id", log.EntityID),
			slog.Any("error", err),
		)
	}
}

type noopMetrics struct{}

func (noopMetrics) Posting(string)          {}
func (noopMetrics) Retry(string)            {}
func (noopMetrics) OverdraftRejected()      {}
func (noopMetrics) PackageDepleted()        {}
func (noopMetrics) AuditWriteFailed(string) {}
