package jobmetrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcomes(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.now = func() time.Time { return time.Unix(1_750_000_000, 0) }

	for i := 0; i < 4; i++ {
		require.NoError(t, m.Track("reservations:stale_report").End(nil))
	}
	boom := errors.New("timeout")
	require.ErrorIs(t, m.Track("reservations:stale_report").End(boom), boom)

	require.Equal(t, 4.0, testutil.ToFloat64(m.runs.WithLabelValues("reservations:stale_report", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("reservations:stale_report", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("reservations:stale_report")))
	require.Equal(t, 1, testutil.CollectAndCount(m.duration, "hourledger_job_duration_seconds"))
	require.Equal(t, 1_750_000_000.0, testutil.ToFloat64(m.lastSuccess.WithLabelValues("reservations:stale_report")))
}

func TestAddPurgedIgnoresEmptyRuns(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.AddPurged("idempotency", 0)
	m.AddPurged("idempotency", 12)
	m.AddPurged("idempotency", 3)

	require.Equal(t, 15.0, testutil.ToFloat64(m.purged.WithLabelValues("idempotency")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("idempotency:purge").End(boom), boom)
	m.AddPurged("idempotency", 5)
}
