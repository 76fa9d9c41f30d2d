// Package metrics provides Prometheus metrics for the surge broker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the broker.
type Metrics struct {
	TasksEnqueued    prometheus.Counter
	EnqueueFailures  prometheus.Counter
	TasksProcessed   prometheus.Counter
	TaskRetries      prometheus.Counter
	CleanupFailures  prometheus.Counter
	SyncFallbacks    prometheus.Counter
	BatchesTotal     prometheus.Counter
	BatchDuration    prometheus.Histogram
	BatchSize        prometheus.Histogram
	QueueOccupancy   prometheus.Gauge
	Workers          prometheus.Gauge
	WebhookEvents    *prometheus.CounterVec
	ChannelsActive   prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		TasksEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "surge_cleanup_tasks_enqueued_total",
			Help: "Total disconnect cleanup tasks accepted onto the queue.",
		}),
		EnqueueFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "surge_cleanup_enqueue_failures_total",
			Help: "Total cleanup tasks rejected because the queue was full.",
		}),
		TasksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "surge_cleanup_tasks_processed_total",
			Help: "Total cleanup tasks completed successfully.",
		}),
		TaskRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "surge_cleanup_task_retries_total",
			Help: "Total cleanup task retry attempts.",
		}),
		CleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "surge_cleanup_failures_total",
			Help: "Total cleanup tasks dropped after exhausting retries.",
		}),
		SyncFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "surge_cleanup_sync_fallbacks_total",
			Help: "Total cleanups performed inline because the queue was full.",
		}),
		BatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "surge_cleanup_batches_total",
			Help: "Total cleanup batches processed by workers.",
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "surge_cleanup_batch_duration_seconds",
			Help:    "Wall-clock time spent processing one cleanup batch.",
			Buckets: prometheus.DefBuckets,
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "surge_cleanup_batch_size",
			Help:    "Number of tasks per processed cleanup batch.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),
		QueueOccupancy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "surge_cleanup_queue_occupancy",
			Help: "Current number of tasks waiting on the cleanup queue.",
		}),
		Workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "surge_cleanup_workers",
			Help: "Number of running cleanup workers.",
		}),
		WebhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surge_webhook_events_total",
				Help: "Lifecycle webhook events by delivery status.",
			},
			[]string{"status"},
		),
		ChannelsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "surge_channels_active",
			Help: "Number of channels with at least one subscriber.",
		}),
		registry: reg,
	}

	reg.MustRegister(
		m.TasksEnqueued,
		m.EnqueueFailures,
		m.TasksProcessed,
		m.TaskRetries,
		m.CleanupFailures,
		m.SyncFallbacks,
		m.BatchesTotal,
		m.BatchDuration,
		m.BatchSize,
		m.QueueOccupancy,
		m.Workers,
		m.WebhookEvents,
		m.ChannelsActive,
	)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
