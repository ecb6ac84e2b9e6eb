package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	revoked  prometheus.Counter
	orphans  prometheus.Gauge
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration and failures and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	if err != nil {
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddRevoked counts assignments removed because their principal left a tenant.
func (m *Metrics) AddRevoked(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.revoked.Add(float64(count))
}

// SetOrphans records how many principals the last sweep found holding grants
// without membership.
func (m *Metrics) SetOrphans(count int) {
	if m == nil {
		return
	}
	m.orphans.Set(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	revoked := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_authz_assignments_revoked_total",
		Help: "Assignments removed after their principal left the tenant.",
	})
	orphans := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "odyssey_authz_orphaned_principals",
		Help: "Principals found holding grants without tenant membership by the last sweep.",
	})
	registerer.MustRegister(failures, duration, revoked, orphans)
	return &Metrics{failures: failures, duration: duration, revoked: revoked, orphans: orphans}
}
