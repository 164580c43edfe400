package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics exposes collectors for the hour-ledger engine. A nil *LedgerMetrics is
// valid and records nothing.
type LedgerMetrics struct {
	postings            *prometheus.CounterVec
	retries             *prometheus.CounterVec
	overdraftRejections prometheus.Counter
	depletions          prometheus.Counter
	eventFailures       *prometheus.CounterVec
	auditFailures       *prometheus.CounterVec
	sequenceIssued      *prometheus.CounterVec
	sequenceNearLimit   *prometheus.CounterVec
	deletionRequests    *prometheus.CounterVec
	deletedRecords      *prometheus.CounterVec
	suspiciousDeletions prometheus.Counter
	staleReservations   prometheus.Gauge
}

var (
	defaultLedgerOnce    sync.Once
	defaultLedgerMetrics *LedgerMetrics
)

// NewLedgerMetrics registers the collectors against registerer, or the default
// registerer when nil.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	if registerer == nil {
		defaultLedgerOnce.Do(func() {
			defaultLedgerMetrics = buildLedgerMetrics(prometheus.DefaultRegisterer)
		})
		return defaultLedgerMetrics
	}
	return buildLedgerMetrics(registerer)
}

func buildLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	m := &LedgerMetrics{
		postings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hourledger_time_postings_total",
			Help: "Time postings by outcome (committed, replayed, rejected, aborted, failed).",
		}, []string{"outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hourledger_conflict_retries_total",
			Help: "Transaction retries after a concurrent write, by operation.",
		}, []string{"operation"}),
		overdraftRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hourledger_overdraft_rejections_total",
			Help: "Postings rejected for exceeding the overdraft limit.",
		}),
		depletions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hourledger_package_depletions_total",
			Help: "Packages closed by a posting.",
		}),
		eventFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hourledger_event_write_failures_total",
			Help: "Event log writes dropped, by event type.",
		}, []string{"type"}),
		auditFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hourledger_audit_write_failures_total",
			Help: "Audit trail writes dropped, by action.",
		}, []string{"action"}),
		sequenceIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hourledger_sequence_issued_total",
			Help: "Sequence numbers issued.",
		}, []string{"sequence"}),
		sequenceNearLimit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hourledger_sequence_near_limit_total",
			Help: "Sequence scopes that crossed the near-limit threshold.",
		}, []string{"sequence"}),
		deletionRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hourledger_deletion_requests_total",
			Help: "Governed deletion requests by outcome and mode.",
		}, []string{"outcome", "mode"}),
		deletedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hourledger_deleted_records_total",
			Help: "Records removed by governed deletion, by category.",
		}, []string{"category"}),
		suspiciousDeletions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hourledger_deletion_suspicious_activity_total",
			Help: "Deletion requests flagged for unusual volume.",
		}),
		staleReservations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hourledger_stale_reservations",
			Help: "Pending reservations past their expiry at the last scan.",
		}),
	}
	registerer.MustRegister(
		m.postings, m.retries, m.overdraftRejections, m.depletions,
		m.eventFailures, m.auditFailures, m.sequenceIssued, m.sequenceNearLimit,
		m.deletionRequests, m.deletedRecords, m.suspiciousDeletions, m.staleReservations,
	)
	return m
}

// Posting counts a posting outcome.
func (m *LedgerMetrics) Posting(outcome string) {
	if m == nil {
		return
	}
	m.postings.WithLabelValues(outcome).Inc()
}

// Retry counts a conflict retry for operation.
func (m *LedgerMetrics) Retry(operation string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(operation).Inc()
}

// OverdraftRejected counts an overdraft rejection.
func (m *LedgerMetrics) OverdraftRejected() {
	if m == nil {
		return
	}
	m.overdraftRejections.Inc()
}

// PackageDepleted counts a closed package.
func (m *LedgerMetrics) PackageDepleted() {
	if m == nil {
		return
	}
	m.depletions.Inc()
}

// EventWriteFailed counts a dropped event.
func (m *LedgerMetrics) EventWriteFailed(eventType string) {
	if m == nil {
		return
	}
	m.eventFailures.WithLabelValues(eventType).Inc()
}

// AuditWriteFailed counts a dropped audit record.
func (m *LedgerMetrics) AuditWriteFailed(action string) {
	if m == nil {
		return
	}
	m.auditFailures.WithLabelValues(action).Inc()
}

// SequenceIssued counts an issued number.
func (m *LedgerMetrics) SequenceIssued(sequence string) {
	if m == nil {
		return
	}
	m.sequenceIssued.WithLabelValues(sequence).Inc()
}

// SequenceNearLimit counts a near-limit warning.
func (m *LedgerMetrics) SequenceNearLimit(sequence string) {
	if m == nil {
		return
	}
	m.sequenceNearLimit.WithLabelValues(sequence).Inc()
}

// DeletionRequest counts a governed deletion request.
func (m *LedgerMetrics) DeletionRequest(outcome string, dryRun bool) {
	if m == nil {
		return
	}
	mode := "execute"
	if dryRun {
		mode = "dry_run"
	}
	m.deletionRequests.WithLabelValues(outcome, mode).Inc()
}

// RecordsDeleted adds n deleted records for category.
func (m *LedgerMetrics) RecordsDeleted(category string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deletedRecords.WithLabelValues(category).Add(float64(n))
}

// SuspiciousDeletion counts a flagged deletion.
func (m *LedgerMetrics) SuspiciousDeletion() {
	if m == nil {
		return
	}
	m.suspiciousDeletions.Inc()
}

// StaleReservations sets the stale reservation gauge.
func (m *LedgerMetrics) StaleReservations(n int) {
	if m == nil {
		return
	}
	m.staleReservations.Set(float64(n))
}
