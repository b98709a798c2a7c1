package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/harun/lanes/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics of the job runners
type Metrics struct {
	registry *prometheus.Registry

	// Job metrics
	JobRunsTotal   *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
	JobErrorsTotal *prometheus.CounterVec

	// Scheduler metrics
	SchedulerTicksTotal *prometheus.CounterVec
	ScheduledJobs       prometheus.Gauge

	// Watcher metrics
	WatchEventsTotal   *prometheus.CounterVec
	WatchedDirectories prometheus.Gauge
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide job metrics
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates and registers all metrics on a private registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		JobRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lanes_job_runs_total",
				Help: "Total number of job runs by outcome",
			},
			[]string{"job", "status"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lanes_job_duration_seconds",
				Help:    "Duration of job command runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		),
		JobErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lanes_job_errors_total",
				Help: "Total number of failed job runs by kind",
			},
			[]string{"job", "kind"},
		),

		SchedulerTicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lanes_scheduler_ticks_total",
				Help: "Total cron ticks by submission result",
			},
			[]string{"job", "result"},
		),
		ScheduledJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lanes_scheduled_jobs",
				Help: "Number of jobs registered with the scheduler",
			},
		),

		WatchEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lanes_watch_events_total",
				Help: "Total debounced file events by result",
			},
			[]string{"result"},
		),
		WatchedDirectories: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lanes_watched_directories",
				Help: "Number of directories registered with the watcher",
			},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.JobRunsTotal)
	m.registry.MustRegister(m.JobDuration)
	m.registry.MustRegister(m.JobErrorsTotal)

	m.registry.MustRegister(m.SchedulerTicksTotal)
	m.registry.MustRegister(m.ScheduledJobs)

	m.registry.MustRegister(m.WatchEventsTotal)
	m.registry.MustRegister(m.WatchedDirectories)
}

// RecordJobRun records one finished job run. kind is empty on success.
func (m *Metrics) RecordJobRun(job string, duration time.Duration, kind string) {
	status := "success"
	if kind != "" {
		status = "error"
		m.JobErrorsTotal.WithLabelValues(job, kind).Inc()
	}
	m.JobRunsTotal.WithLabelValues(job, status).Inc()
	m.JobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordTick records a cron tick and whether its submission was accepted
func (m *Metrics) RecordTick(job string, accepted bool) {
	result := "submitted"
	if !accepted {
		result = "rejected"
	}
	m.SchedulerTicksTotal.WithLabelValues(job, result).Inc()
}

// RecordWatchEvent records a debounced file event and whether it was submitted
func (m *Metrics) RecordWatchEvent(accepted bool) {
	result := "submitted"
	if !accepted {
		result = "rejected"
	}
	m.WatchEventsTotal.WithLabelValues(result).Inc()
}

// Handler serves the job metrics together with the lane metrics of the
// default registry.
func (m *Metrics) Handler() http.Handler {
	observability.EnsureRegistered()
	return promhttp.HandlerFor(prometheus.Gatherers{prometheus.DefaultGatherer, m.registry}, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
