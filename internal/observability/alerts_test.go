package observability

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	jobmetrics "github.com/dersa/ecoquality/internal/jobs"
)

type ruleFile struct {
	Groups []struct {
		Name  string `yaml:"name"`
		Rules []struct {
			Alert       string            `yaml:"alert"`
			Expr        string            `yaml:"expr"`
			For         string            `yaml:"for"`
			Labels      map[string]string `yaml:"labels"`
			Annotations map[string]string `yaml:"annotations"`
		} `yaml:"rules"`
	} `yaml:"groups"`
}

var metricRef = regexp.MustCompile(`ecoquality_[a-z_]+`)

func repoFile(t *testing.T, parts ...string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(append([]string{"..", ".."}, parts...)...))
	require.NoError(t, err)
	return data
}

// exportedMetricNames lists every family the API and the worker register.
func exportedMetricNames(t *testing.T) map[string]bool {
	t.Helper()
	api := NewMetrics()
	api.TrackDroppedDecisions(func() uint64 { return 0 })
	worker := prometheus.NewRegistry()
	jobmetrics.NewMetrics(worker)

	names := make(map[string]bool)
	for _, g := range []prometheus.Gatherer{api.Registerer().(prometheus.Gatherer), worker} {
		families, err := g.Gather()
		require.NoError(t, err)
		for _, f := range families {
			names[f.GetName()] = true
		}
	}
	// Vectors without observations are not gathered.
	for _, name := range []string{
		"ecoquality_authz_decisions_total",
		"ecoquality_jobs_failures_total",
	} {
		names[name] = true
	}
	return names
}

func TestAuthzAlertRules(t *testing.T) {
	var rules ruleFile
	require.NoError(t, yaml.Unmarshal(repoFile(t, "deploy", "prometheus", "alerts", "authz.yml"), &rules))
	require.Len(t, rules.Groups, 1)
	require.Equal(t, "authz", rules.Groups[0].Name)

	severities := map[string]string{
		"AuthzErrors":           "critical",
		"AuthzDenySpike":        "warning",
		"AuditDecisionsDropped": "warning",
		"AuditJobsFailing":      "warning",
	}
	runbook := string(repoFile(t, "docs", "runbook-authz.md"))
	known := exportedMetricNames(t)

	seen := make(map[string]bool)
	for _, rule := range rules.Groups[0].Rules {
		want, ok := severities[rule.Alert]
		require.True(t, ok, "unexpected rule %q", rule.Alert)
		seen[rule.Alert] = true

		assert.Equal(t, want, rule.Labels["severity"], rule.Alert)
		assert.NotEmpty(t, rule.For, rule.Alert)
		assert.NotEmpty(t, rule.Annotations["summary"], rule.Alert)
		assert.NotEmpty(t, rule.Annotations["description"], rule.Alert)

		anchor, ok := strings.CutPrefix(rule.Annotations["runbook"], "docs/runbook-authz.md#")
		require.True(t, ok, "%s runbook must point into runbook-authz.md", rule.Alert)
		assert.Contains(t, runbook, "\n## "+anchor+"\n", "%s runbook anchor missing", rule.Alert)

		refs := metricRef.FindAllString(rule.Expr, -1)
		require.NotEmpty(t, refs, "%s expression references no metric", rule.Alert)
		for _, ref := range refs {
			assert.True(t, known[ref], "%s references unknown metric %s", rule.Alert, ref)
		}
	}
	assert.Len(t, seen, len(severities))
}
