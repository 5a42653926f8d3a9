package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "ecoquality"

	labelJob    = "job"
	labelStatus = "status"
	labelResult = "result"

	statusSuccess = "success"
	statusFailure = "failure"
)

// Metrics holds the worker collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Runs     *prometheus.CounterVec
	Failures *prometheus.CounterVec
	Duration *prometheus.HistogramVec

	DecisionsPersisted *prometheus.CounterVec
	DecisionsPruned    prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the worker collectors on reg. A nil reg shares one
// instance on the default registerer so repeated calls do not panic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		defaultOnce.Do(func() { defaultMetrics = newMetrics(prometheus.DefaultRegisterer) })
		return defaultMetrics
	}
	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_total",
			Help: "Job executions by task type and status.",
		}, []string{labelJob, labelStatus}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_failures_total",
			Help: "Failed job executions by task type.",
		}, []string{labelJob}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "job_duration_seconds",
			Help:    "Job execution time in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{labelJob}),
		DecisionsPersisted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "audit", Name: "decisions_persisted_total",
			Help: "Authorization decisions written to audit_logs by the worker.",
		}, []string{labelResult}),
		DecisionsPruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "audit", Name: "decisions_pruned_total",
			Help: "Authorization decision rows removed by the retention job.",
		}),
	}
}

// Tracker times one job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing a run of job.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the outcome of the run and returns err unchanged, so it can
// wrap a named return in a defer.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := statusSuccess
	if err != nil {
		status = statusFailure
		t.metrics.Failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.Runs.WithLabelValues(t.job, status).Inc()
	t.metrics.Duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddAudited counts persisted decisions under result allow or deny.
func (m *Metrics) AddAudited(allowed bool, count int) {
	if m == nil || count <= 0 {
		return
	}
	result := "deny"
	if allowed {
		result = "allow"
	}
	m.DecisionsPersisted.WithLabelValues(result).Add(float64(count))
}

// AddPruned counts decision rows deleted by retention.
func (m *Metrics) AddPruned(rows int64) {
	if m == nil || rows <= 0 {
		return
	}
	m.DecisionsPruned.Add(float64(rows))
}
