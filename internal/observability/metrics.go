package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Completion statuses recorded for finished tasks.
const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusPanic     = "panic"
	StatusCancelled = "cancelled"
)

type moduleMetrics struct {
	queueSize     *prometheus.GaugeVec
	enqueueTotal  *prometheus.CounterVec
	dequeueTotal  *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	waitDuration  *prometheus.HistogramVec
	clearedTotal  *prometheus.CounterVec
	rejectedTotal *prometheus.CounterVec
	activeLanes   prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "lanes_queue_size",
					Help: "Current number of pending tasks by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "lanes_enqueue_total",
					Help: "Total accepted submissions by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "lanes_dequeue_total",
					Help: "Total finished tasks by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "lanes_task_duration_seconds",
					Help:    "Task execution duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			waitDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "lanes_task_wait_seconds",
					Help:    "Time between submission and start of execution by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			clearedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "lanes_cleared_total",
					Help: "Total pending tasks discarded by clear or dispose, by lane.",
				},
				[]string{"lane"},
			),
			rejectedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "lanes_rejected_total",
					Help: "Total rejected submissions by reason.",
				},
				[]string{"reason"},
			),
			activeLanes: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "lanes_active",
					Help: "Number of lanes currently owned by registries.",
				},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.waitDuration,
			m.clearedTotal,
			m.rejectedTotal,
			m.activeLanes,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	m := getMetrics()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueStart(lane string, wait time.Duration, queueSize int) {
	m := getMetrics()
	m.waitDuration.WithLabelValues(lane).Observe(wait.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, status string, queueSize int) {
	m := getMetrics()
	m.dequeueTotal.WithLabelValues(lane, status).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCleared(lane string, count int) {
	m := getMetrics()
	if count > 0 {
		m.clearedTotal.WithLabelValues(lane).Add(float64(count))
	}
	m.queueSize.WithLabelValues(lane).Set(0)
}

func RecordRejected(reason string) {
	getMetrics().rejectedTotal.WithLabelValues(reason).Inc()
}

func AddActiveLanes(delta int) {
	getMetrics().activeLanes.Add(float64(delta))
}
