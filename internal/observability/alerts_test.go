package observability

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	jobmetrics "github.com/hourledger/hourledger/internal/jobs"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertFile struct {
	Groups []struct {
		Name  string      `yaml:"name"`
		Rules []alertRule `yaml:"rules"`
	} `yaml:"groups"`
}

// nameRecorder collects the fully qualified names of every registered collector.
type nameRecorder struct {
	prometheus.Registerer
	names map[string]bool
}

var fqName = regexp.MustCompile(`fqName: "([^"]+)"`)

func (r *nameRecorder) Register(c prometheus.Collector) error {
	ch := make(chan *prometheus.Desc, 32)
	go func() {
		c.Describe(ch)
		close(ch)
	}()
	for d := range ch {
		if m := fqName.FindStringSubmatch(d.String()); m != nil {
			r.names[m[1]] = true
		}
	}
	return r.Registerer.Register(c)
}

func (r *nameRecorder) MustRegister(cs ...prometheus.Collector) {
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
}

func loadAlerts(t *testing.T) map[string]alertRule {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "deploy", "prometheus", "alerts", "ledger.yml"))
	require.NoError(t, err)

	var file alertFile
	require.NoError(t, yaml.Unmarshal(data, &file))

	rules := map[string]alertRule{}
	for _, g := range file.Groups {
		for _, r := range g.Rules {
			require.NotContains(t, rules, r.Alert, "duplicate alert")
			rules[r.Alert] = r
		}
	}
	return rules
}

func TestAlertRulesAreComplete(t *testing.T) {
	rules := loadAlerts(t)

	expected := map[string]string{
		"PostingAbortRate":       "warning",
		"EventLogWritesDropped":  "warning",
		"StaleReservations":      "warning",
		"SuspiciousDeletion":     "critical",
		"IdempotencyPurgeMissed": "warning",
		"JobFailures":            "warning",
	}
	require.Len(t, rules, len(expected))

	runbook, err := os.ReadFile(filepath.Join("..", "..", "docs", "runbook-ledger.md"))
	require.NoError(t, err)

	for name, severity := range expected {
		rule, ok := rules[name]
		require.True(t, ok, "missing alert %s", name)
		require.Equal(t, severity, rule.Labels["severity"], name)
		require.NotEmpty(t, rule.Expr, name)
		require.NotEmpty(t, rule.For, name)
		require.NotEmpty(t, rule.Annotations["summary"], name)
		require.NotEmpty(t, rule.Annotations["description"], name)

		anchor, found := strings.CutPrefix(rule.Annotations["runbook"], "docs/runbook-ledger.md#")
		require.True(t, found, "%s runbook must point into the ledger runbook", name)
		require.Contains(t, string(runbook), "## "+anchor+"\n", "%s runbook section missing", name)
	}
}

func TestAlertRulesReferenceRegisteredMetrics(t *testing.T) {
	rec := &nameRecorder{Registerer: prometheus.NewRegistry(), names: map[string]bool{}}
	NewLedgerMetrics(rec)
	jobmetrics.NewMetrics(rec)

	metric := regexp.MustCompile(`hourledger_[a-z_]+`)
	for name, rule := range loadAlerts(t) {
		for _, ref := range metric.FindAllString(rule.Expr, -1) {
			base := ref
			for _, suffix := range []string{"_bucket", "_sum", "_count"} {
				base = strings.TrimSuffix(base, suffix)
			}
			require.True(t, rec.names[ref] || rec.names[base], "%s references unknown metric %s", name, ref)
		}
	}
}
