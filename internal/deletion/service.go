package deletion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/hourledger/hourledger/internal/shared"
)

// Metrics receives deletion telemetry.
type Metrics interface {
	DeletionRequest(outcome string, dryRun bool)
	RecordsDeleted(category string, n int)
	SuspiciousDeletion()
	AuditWriteFailed(action string)
}

// Config tunes the governor.
type Config struct {
	Rate RatePolicy
	// OwnershipBatch is the number of ids loaded per ownership query.
	OwnershipBatch int
	// BatchSize is the number of records removed per transaction.
	BatchSize           int
	SuspiciousThreshold int
	SuspiciousWindow    time.Duration
	// KillSwitch turns every request into a preview.
	KillSwitch bool
}

// DefaultConfig returns the stock policy.
func DefaultConfig() Config {
	return Config{
		Rate: RatePolicy{
			MaxPerWindow: 10,
			Window:       5 * time.Minute,
			Cooldown:     30 * time.Second,
		},
		OwnershipBatch:      10,
		BatchSize:           500,
		SuspiciousThreshold: 1000,
		SuspiciousWindow:    time.Hour,
	}
}

// Service runs the deletion pipeline.
type Service struct {
	repo    Repository
	cfg     Config
	logger  *slog.Logger
	metrics Metrics
	now     func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, cfg Config, logger *slog.Logger, metrics Metrics) *Service {
	def := DefaultConfig()
	if cfg.OwnershipBatch <= 0 {
		cfg.OwnershipBatch = def.OwnershipBatch
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.SuspiciousThreshold <= 0 {
		cfg.SuspiciousThreshold = def.SuspiciousThreshold
	}
	if cfg.SuspiciousWindow <= 0 {
		cfg.SuspiciousWindow = def.SuspiciousWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Service{
		repo:    repo,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Delete validates, rate limits, verifies ownership and then removes or previews
// the requested records. An audit entry is written for every outcome.
func (s *Service) Delete(ctx context.Context, actor shared.Actor, req Request) (res Result, err error) {
	if actor.ID == "" {
		return Result{}, shared.PermissionDenied("actor required", nil).Wrap(shared.ErrUnauthenticated)
	}
	req.Normalize(actor)
	dryRun := req.DryRun || s.cfg.KillSwitch
	res = Result{
		TargetOwner: req.TargetOwner,
		DryRun:      dryRun,
		KillSwitch:  s.cfg.KillSwitch,
		Requested:   req.Counts(),
	}
	defer func() {
		res.CompletedAt = s.now()
		res.Suspicious = s.finish(ctx, actor, req, res, err)
	}()

	if err = s.validate(actor, req); err != nil {
		return res, err
	}
	if !dryRun {
		if err = s.checkRateLimit(ctx, actor.ID); err != nil {
			return res, err
		}
	}

	verified, rejected, err := verifyOwnership(ctx, s.repo, req.TargetOwner, req, s.cfg.OwnershipBatch)
	if err != nil {
		return res, fmt.Errorf("deletion: verify ownership: %w", err)
	}
	res.Verified = verified.Counts()
	if len(rejected) > 0 {
		s.logger.Warn("deletion ownership rejected",
			slog.String("actor", actor.ID),
			slog.String("target_owner", req.TargetOwner),
			slog.Int("rejected", len(rejected)),
		)
		return res, ownershipError(req.TargetOwner, verified, rejected)
	}

	if dryRun {
		for _, category := range Categories {
			res.Preview = append(res.Preview, verified[category]...)
		}
		return res, nil
	}

	err = s.execute(ctx, verified, &res)
	return res, err
}

func (s *Service) validate(actor shared.Actor, req Request) error {
	if err := shared.ValidateStruct(req); err != nil {
		return err
	}
	if req.Counts().Total == 0 {
		return shared.InvalidArgument("no records selected for deletion", nil)
	}
	if !actor.Owns(req.TargetOwner) && !actor.IsAdmin() {
		return shared.PermissionDenied("only admins may delete records of another owner", map[string]any{
			"targetOwner": req.TargetOwner,
		})
	}
	return nil
}

func (s *Service) checkRateLimit(ctx context.Context, actorID string) error {
	now := s.now()
	activity, err := s.repo.Activity(ctx, actorID, now.Add(-s.cfg.Rate.Window))
	if err != nil {
		return err
	}
	if err := s.cfg.Rate.evaluate(activity, now); err != nil {
		s.logger.Info("deletion rate limited", slog.String("actor", actorID), slog.Int("recent", activity.Deletions))
		return err
	}
	return nil
}

// execute removes primaries chunk by chunk, then approvals left pointing at
// deleted tasks. Each chunk commits on its own.
func (s *Service) execute(ctx context.Context, verified Verified, res *Result) error {
	for _, category := range Categories {
		n, err := s.deleteChunks(ctx, category, verified.IDs(category))
		res.Deleted.Add(category, n)
		if err != nil {
			return err
		}
	}

	taskIDs := verified.IDs(CategoryTasks)
	if len(taskIDs) == 0 {
		return nil
	}
	var orphans []string
	for chunk := range slices.Chunk(taskIDs, s.cfg.BatchSize) {
		ids, err := s.repo.ApprovalsForTasks(ctx, chunk)
		if err != nil {
			return fmt.Errorf("deletion: find orphaned approvals: %w", err)
		}
		orphans = append(orphans, ids...)
	}
	n, err := s.deleteChunks(ctx, CategoryApprovals, orphans)
	res.Cascaded += n
	return err
}

func (s *Service) deleteChunks(ctx context.Context, category Category, ids []string) (int, error) {
	deleted := 0
	for chunk := range slices.Chunk(ids, s.cfg.BatchSize) {
		var n int
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			n, err = tx.Delete(ctx, category, chunk)
			return err
		})
		if err != nil {
			return deleted, fmt.Errorf("deletion: delete %s chunk: %w", category, err)
		}
		deleted += n
		s.metrics.RecordsDeleted(string(category), n)
	}
	return deleted, nil
}

// finish writes the audit entry and reports whether the actor looks suspicious.
// Audit failures are logged and swallowed.
func (s *Service) finish(ctx context.Context, actor shared.Actor, req Request, res Result, failure error) bool {
	ctx = context.WithoutCancel(ctx)
	removed := res.Deleted.Total + res.Cascaded

	suspicious := false
	if !res.DryRun && removed > 0 {
		activity, err := s.repo.Activity(ctx, actor.ID, res.CompletedAt.Add(-s.cfg.SuspiciousWindow))
		if err != nil {
			s.logger.Warn("deletion suspicious-activity check failed", slog.String("actor", actor.ID), slog.Any("error", err))
		} else if total := activity.Records + removed; total > s.cfg.SuspiciousThreshold {
			suspicious = true
			s.metrics.SuspiciousDeletion()
			s.logger.Warn("suspicious deletion activity",
				slog.String("actor", actor.ID),
				slog.String("target_owner", req.TargetOwner),
				slog.Int("records_last_window", total),
				slog.Duration("window", s.cfg.SuspiciousWindow),
			)
		}
	}

	entry := AuditEntry{
		ActorID:     actor.ID,
		TargetOwner: req.TargetOwner,
		Requested:   Targets{TaskIDs: orEmpty(req.TaskIDs), TimesheetIDs: orEmpty(req.TimesheetIDs), ApprovalIDs: orEmpty(req.ApprovalIDs)},
		Counts: AuditCounts{
			Requested: res.Requested.Total,
			Verified:  res.Verified.Total,
			Deleted:   res.Deleted.Total,
			Cascaded:  res.Cascaded,
		},
		DryRun:     res.DryRun,
		Success:    failure == nil,
		Suspicious: suspicious,
		OccurredAt: res.CompletedAt,
	}
	if failure != nil {
		entry.Error = auditError(failure)
	}
	if err := s.repo.InsertAudit(ctx, entry); err != nil {
		s.metrics.AuditWriteFailed("DELETE_RECORDS")
		s.logger.Error("deletion audit write failed", slog.String("actor", actor.ID), slog.Any("error", err))
	}

	outcome := "success"
	if failure != nil {
		outcome = strings.ToLower(string(shared.CodeOf(failure)))
	}
	s.metrics.DeletionRequest(outcome, res.DryRun)
	if failure == nil {
		s.logger.Info("deletion request completed",
			slog.String("actor", actor.ID),
			slog.String("target_owner", req.TargetOwner),
			slog.Bool("dry_run", res.DryRun),
			slog.Int("deleted", res.Deleted.Total),
			slog.Int("cascaded", res.Cascaded),
		)
	} else if shared.CodeOf(failure) == shared.CodeInternal {
		s.logger.Error("deletion request failed", slog.String("actor", actor.ID), slog.Any("error", failure))
	}
	return suspicious
}

func auditError(err error) *AuditError {
	out := &AuditError{Code: shared.CodeOf(err), Message: err.Error(), Details: shared.DetailsOf(err)}
	var coded *shared.Error
	if errors.As(err, &coded) && coded.Message != "" {
		out.Message = coded.Message
	}
	return out
}

func orEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

type noopMetrics struct{}

func (noopMetrics) DeletionRequest(string, bool) {}
func (noopMetrics) RecordsDeleted(string, int)   {}
func (noopMetrics) SuspiciousDeletion()          {}
func (noopMetrics) AuditWriteFailed(string)      {}
