package sequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/hourledger/hourledger/internal/platform/retry"
	"github.com/hourledger/hourledger/internal/shared"
)

// Metrics receives issuance telemetry.
type Metrics interface {
	SequenceIssued(sequence string)
	SequenceNearLimit(sequence string)
	Retry(operation string)
}

// Config tunes a Generator.
type Config struct {
	Name           string
	Width          int
	NearLimitRatio float64
	RetryAttempts  int
	RetryBase      time.Duration
	RetryCap       time.Duration
}

// DefaultConfig issues case numbers like 2025001.
func DefaultConfig() Config {
	return Config{
		Name:           "case",
		Width:          3,
		NearLimitRatio: 0.95,
		RetryAttempts:  5,
		RetryBase:      100 * time.Millisecond,
		RetryCap:       time.Second,
	}
}

// Generator issues formatted sequence numbers.
type Generator struct {
	repo    Repository
	cfg     Config
	max     int64
	logger  *slog.Logger
	metrics Metrics
	now     func() time.Time
}

// NewGenerator constructs a Generator. Zero config fields take their defaults.
func NewGenerator(repo Repository, cfg Config, logger *slog.Logger, metrics Metrics) *Generator {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Width <= 0 || cfg.Width > 18 {
		cfg.Width = def.Width
	}
	if cfg.NearLimitRatio <= 0 || cfg.NearLimitRatio > 1 {
		cfg.NearLimitRatio = def.NearLimitRatio
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = def.RetryAttempts
	}
	if cfg.RetryBase < 0 {
		cfg.RetryBase = def.RetryBase
	}
	if cfg.RetryCap < 0 {
		cfg.RetryCap = def.RetryCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Generator{
		repo:    repo,
		cfg:     cfg,
		max:     MaxFor(cfg.Width),
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock for tests.
func (g *Generator) WithNow(now func() time.Time) {
	if now != nil {
		g.now = now
	}
}

// Next issues the next number for scope.
func (g *Generator) Next(ctx context.Context, scope string) (string, error) {
	scope = strings.TrimSpace(scope)
	if err := validScope(scope); err != nil {
		return "", shared.InvalidArgument(err.Error(), map[string]any{"scopeKey": scope}).Wrap(err)
	}

	type issued struct {
		number    int64
		nearLimit bool
	}
	policy := retry.Policy{
		MaxAttempts: g.cfg.RetryAttempts,
		Backoff:     retry.Exponential(g.cfg.RetryBase, g.cfg.RetryCap),
		Retryable:   shared.IsConflict,
		OnRetry: func(attempt int, err error) {
			g.metrics.Retry("sequence_next")
			g.logger.Info("sequence contention, retrying",
				slog.String("sequence", g.cfg.Name),
				slog.String("scope", scope),
				slog.Int("attempt", attempt),
			)
		},
	}
	out, err := retry.Do(ctx, policy, func(ctx context.Context, _ int) (issued, error) {
		var res issued
		err := g.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			now := g.now()
			c, err := tx.Increment(ctx, g.cfg.Name, scope, now)
			if err != nil {
				return err
			}
			if c.LastNumber > g.max {
				return shared.ResourceExhausted(fmt.Sprintf("sequence %s exhausted for scope %s", g.cfg.Name, scope), map[string]any{
					"sequence": g.cfg.Name,
					"scopeKey": scope,
					"max":      g.max,
					"width":    g.cfg.Width,
				})
			}
			if c.NearLimitWarnedAt == nil && g.nearLimit(c.LastNumber) {
				if err := tx.MarkNearLimit(ctx, g.cfg.Name, scope, now); err != nil {
					return err
				}
				res.nearLimit = true
			}
			res.number = c.LastNumber
			return nil
		})
		return res, err
	})
	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			return "", shared.ResourceExhausted(fmt.Sprintf("sequence %s contention, gave up after %d attempts", g.cfg.Name, exhausted.Attempts),
				map[string]any{"sequence": g.cfg.Name, "scopeKey": scope, "attempts": exhausted.Attempts}).Wrap(exhausted)
		}
		return "", err
	}

	g.metrics.SequenceIssued(g.cfg.Name)
	if out.nearLimit {
		g.metrics.SequenceNearLimit(g.cfg.Name)
		g.logger.Warn("sequence approaching limit",
			slog.String("sequence", g.cfg.Name),
			slog.String("scope", scope),
			slog.Int64("number", out.number),
			slog.Int64("max", g.max),
		)
	}
	return Format(scope, out.number, g.cfg.Width), nil
}

// NextCaseNumber issues a number scoped to the current year.
func (g *Generator) NextCaseNumber(ctx context.Context) (string, error) {
	return g.Next(ctx, strconv.Itoa(g.now().Year()))
}

// Stats reports the counter state for scope. A scope never issued reports zero usage.
func (g *Generator) Stats(ctx context.Context, scope string) (Stats, error) {
	scope = strings.TrimSpace(scope)
	if err := validScope(scope); err != nil {
		return Stats{}, shared.InvalidArgument(err.Error(), map[string]any{"scopeKey": scope}).Wrap(err)
	}
	c, err := g.repo.Get(ctx, g.cfg.Name, scope)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return Stats{}, err
	}
	st := Stats{
		Sequence:     g.cfg.Name,
		ScopeKey:     scope,
		LastNumber:   c.LastNumber,
		Max:          g.max,
		Remaining:    g.max - c.LastNumber,
		IssuedTotal:  c.IssuedTotal,
		LastIssuedAt: c.LastIssuedAt,
		NearLimit:    g.nearLimit(c.LastNumber),
	}
	if st.Remaining < 0 {
		st.Remaining = 0
	}
	if c.LastNumber > 0 {
		st.LastIssued = Format(scope, c.LastNumber, g.cfg.Width)
		st.UsedPercent = math.Floor(float64(c.LastNumber)/float64(g.max)*1000) / 10
	}
	return st, nil
}

func (g *Generator) nearLimit(n int64) bool {
	return float64(n) >= g.cfg.NearLimitRatio*float64(g.max)
}

type noopMetrics struct{}

func (noopMetrics) SequenceIssued(string)    {}
func (noopMetrics) SequenceNearLimit(string) {}
func (noopMetrics) Retry(string)             {}
