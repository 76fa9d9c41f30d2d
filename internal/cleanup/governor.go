package cleanup

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/surgews/surge/internal/metrics"
)

// warnOccupancy is the queue-occupancy fraction above which a near-capacity
// health warning is emitted.
const warnOccupancy = 0.8

// Stats is a point-in-time view of the subsystem for operators.
type Stats struct {
	QueueDepth       int     `json:"queue_depth"`
	QueueCapacity    int     `json:"queue_capacity"`
	TasksEnqueued    int64   `json:"tasks_enqueued"`
	TasksProcessed   int64   `json:"tasks_processed"`
	TasksDropped     int64   `json:"tasks_dropped"`
	TasksFailed      int64   `json:"tasks_failed"`
	Retries          int64   `json:"retries"`
	SyncFallbacks    int64   `json:"sync_fallbacks"`
	BatchesProcessed int64   `json:"batches_processed"`
	TasksPerSecond   float64 `json:"tasks_per_second"`
}

// Governor tracks queue occupancy and processing throughput, emits the
// near-capacity health signal, and feeds the observability counters.
type Governor struct {
	queue  *Queue
	stats  *metrics.Metrics // may be nil
	logger zerolog.Logger

	warned    atomic.Bool
	enqueued  atomic.Int64
	processed atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
	retries   atomic.Int64
	fallbacks atomic.Int64
	batches   atomic.Int64

	rateMu    sync.Mutex
	rateCount int64
	rateAt    time.Time
}

// NewGovernor creates a governor over queue. stats may be nil.
func NewGovernor(queue *Queue, stats *metrics.Metrics, logger zerolog.Logger) *Governor {
	return &Governor{
		queue:  queue,
		stats:  stats,
		logger: logger.With().Str("component", "cleanup_governor").Logger(),
		rateAt: time.Now(),
	}
}

// NoteEnqueued records a task accepted onto the queue and checks the
// near-capacity threshold. The warning is edge-triggered: it fires once per
// excursion above the threshold and re-arms when occupancy falls below.
func (g *Governor) NoteEnqueued() {
	g.enqueued.Add(1)
	if g.stats != nil {
		g.stats.TasksEnqueued.Inc()
	}
	g.syncOccupancy()

	if g.Occupancy() >= warnOccupancy && g.warned.CompareAndSwap(false, true) {
		g.logger.Warn().
			Int("depth", g.queue.Len()).
			Int("capacity", g.queue.Cap()).
			Msg("cleanup queue near capacity")
	}
}

// NoteEnqueueFailed records a task dropped because the queue was full.
func (g *Governor) NoteEnqueueFailed() {
	g.dropped.Add(1)
	if g.stats != nil {
		g.stats.EnqueueFailures.Inc()
	}
}

// NoteFallback records an inline synchronous cleanup forced by a full queue.
func (g *Governor) NoteFallback() {
	g.fallbacks.Add(1)
	if g.stats != nil {
		g.stats.SyncFallbacks.Inc()
	}
}

// NoteRetry records one failed processing attempt being retried.
func (g *Governor) NoteRetry() {
	g.retries.Add(1)
	if g.stats != nil {
		g.stats.TaskRetries.Inc()
	}
}

// NoteProcessed records n tasks completed successfully.
func (g *Governor) NoteProcessed(n int) {
	g.processed.Add(int64(n))
	if g.stats != nil {
		g.stats.TasksProcessed.Add(float64(n))
	}
}

// NoteTerminalFailure records a task dropped after exhausting its retries.
func (g *Governor) NoteTerminalFailure() {
	g.failed.Add(1)
	if g.stats != nil {
		g.stats.CleanupFailures.Inc()
	}
}

// NoteBatch records a completed batch of n tasks taking elapsed.
func (g *Governor) NoteBatch(n int, elapsed time.Duration) {
	g.batches.Add(1)
	if g.stats != nil {
		g.stats.BatchesTotal.Inc()
		g.stats.BatchSize.Observe(float64(n))
		g.stats.BatchDuration.Observe(elapsed.Seconds())
	}
	g.syncOccupancy()
}

// Occupancy returns the queue fill fraction in [0, 1].
func (g *Governor) Occupancy() float64 {
	return float64(g.queue.Len()) / float64(g.queue.Cap())
}

// NearCapacity reports whether occupancy is at or above the warning
// threshold. Consumed by the readiness health check.
func (g *Governor) NearCapacity() bool {
	return g.Occupancy() >= warnOccupancy
}

// Snapshot returns current stats. The throughput figure is the task
// completion rate since the previous Snapshot call.
func (g *Governor) Snapshot() Stats {
	s := Stats{
		QueueDepth:       g.queue.Len(),
		QueueCapacity:    g.queue.Cap(),
		TasksEnqueued:    g.enqueued.Load(),
		TasksProcessed:   g.processed.Load(),
		TasksDropped:     g.dropped.Load(),
		TasksFailed:      g.failed.Load(),
		Retries:          g.retries.Load(),
		SyncFallbacks:    g.fallbacks.Load(),
		BatchesProcessed: g.batches.Load(),
	}

	g.rateMu.Lock()
	now := time.Now()
	if dt := now.Sub(g.rateAt).Seconds(); dt > 0 {
		s.TasksPerSecond = float64(s.TasksProcessed-g.rateCount) / dt
	}
	g.rateCount = s.TasksProcessed
	g.rateAt = now
	g.rateMu.Unlock()

	return s
}

func (g *Governor) syncOccupancy() {
	depth := g.queue.Len()
	if g.stats != nil {
		g.stats.QueueOccupancy.Set(float64(depth))
	}
	if float64(depth)/float64(g.queue.Cap()) < warnOccupancy {
		g.warned.Store(false)
	}
}
