package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOutcome labels the result of a cache middleware consultation.
type CacheOutcome string

const (
	// CacheHit indicates the response was served from the store.
	CacheHit CacheOutcome = "hit"
	// CacheMiss indicates the handler ran and the response was captured.
	CacheMiss CacheOutcome = "miss"
	// CacheBypass indicates policy excluded the request from caching.
	CacheBypass CacheOutcome = "bypass"
)

// JobOutcome labels the terminal state of one scheduled job invocation.
type JobOutcome string

const (
	// JobSucceeded indicates the action returned without error.
	JobSucceeded JobOutcome = "success"
	// JobFailed indicates the action returned an error or panicked.
	JobFailed JobOutcome = "failure"
	// JobSkipped indicates overlap protection suppressed the trigger.
	JobSkipped JobOutcome = "skipped"
)

// Recorder publishes Prometheus metrics for the operational subsystem.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	cacheRequests *prometheus.CounterVec
	cacheEntries  prometheus.Gauge

	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec

	backupRuns *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	cacheRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "siteops",
		Subsystem: "cache",
		Name:      "requests_total",
		Help:      "Cacheable-route requests broken down by consultation outcome.",
	}, []string{"route", "outcome"})

	cacheEntries := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "siteops",
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Live entries in the response cache store.",
	})

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "siteops",
		Subsystem: "jobs",
		Name:      "runs_total",
		Help:      "Scheduled job invocations by terminal outcome.",
	}, []string{"job", "outcome"})

	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "siteops",
		Subsystem: "jobs",
		Name:      "duration_seconds",
		Help:      "Wall-clock duration of scheduled job invocations.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"job"})

	backupRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "siteops",
		Subsystem: "backup",
		Name:      "runs_total",
		Help:      "Backup attempts by outcome.",
	}, []string{"outcome"})

	reg.MustRegister(cacheRequests, cacheEntries, jobRuns, jobDuration, backupRuns)

	return &Recorder{
		gatherer:      reg,
		handler:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		cacheRequests: cacheRequests,
		cacheEntries:  cacheEntries,
		jobRuns:       jobRuns,
		jobDuration:   jobDuration,
		backupRuns:    backupRuns,
	}
}

// Handler serves the /metrics endpoint for this recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return r.handler
}

// Gatherer exposes the underlying registry for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return nil
	}
	return r.gatherer
}

// ObserveCacheRequest records one middleware consultation.
func (r *Recorder) ObserveCacheRequest(route string, outcome CacheOutcome) {
	if r == nil {
		return
	}
	r.cacheRequests.WithLabelValues(route, string(outcome)).Inc()
}

// SetCacheEntries publishes the store's current entry count.
func (r *Recorder) SetCacheEntries(n int) {
	if r == nil {
		return
	}
	r.cacheEntries.Set(float64(n))
}

// ObserveJobRun records a completed (or suppressed) scheduled job invocation.
func (r *Recorder) ObserveJobRun(job string, outcome JobOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	r.jobRuns.WithLabelValues(job, string(outcome)).Inc()
	if outcome != JobSkipped {
		r.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
	}
}

// ObserveBackup records one backup attempt.
func (r *Recorder) ObserveBackup(success bool) {
	if r == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	r.backupRuns.WithLabelValues(outcome).Inc()
}
