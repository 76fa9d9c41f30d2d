package cleanup

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/surgews/surge/internal/config"
	"github.com/surgews/surge/internal/metrics"
)

// Service composes the queue, governor, reconciler, worker pool, and marker,
// and reacts to live configuration changes. Queue capacity is fixed for the
// process lifetime; worker count, batch shape, retry budget, and the async
// toggle apply live.
type Service struct {
	store  *config.Store
	queue  *Queue
	gov    *Governor
	rec    *Reconciler
	marker *Marker
	stats  *metrics.Metrics
	logger zerolog.Logger

	mu      sync.Mutex
	pool    *Pool // nil while the async path is disabled
	applied config.Cleanup
	stopped bool
}

// NewService builds the subsystem against its external collaborators and
// subscribes to config changes. Call Start to launch workers.
func NewService(store *config.Store, cm ChannelManager, ps PresenceStore, sink EventSink, stats *metrics.Metrics, logger zerolog.Logger) *Service {
	cl := store.Current().Cleanup
	queue := NewQueue(cl.QueueBufferSize)
	gov := NewGovernor(queue, stats, logger)
	rec := NewReconciler(cm, ps, sink, gov, logger)

	s := &Service{
		store:   store,
		queue:   queue,
		gov:     gov,
		rec:     rec,
		marker:  NewMarker(store, queue, gov, rec, logger),
		stats:   stats,
		logger:  logger.With().Str("component", "cleanup_service").Logger(),
		applied: cl,
	}
	store.Subscribe(s.onConfigChange)
	return s
}

// Marker returns the disconnect marker for the transport layer.
func (s *Service) Marker() *Marker { return s.marker }

// Governor exposes occupancy and throughput for health checks and stats.
func (s *Service) Governor() *Governor { return s.gov }

// Start launches the worker pool when the async path is enabled.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applied.AsyncEnabled {
		s.startPoolLocked(s.applied)
	} else {
		s.logger.Info().Msg("async cleanup disabled, running synchronous-only")
	}
}

// Stop drains the queue through the pool and shuts the workers down.
func (s *Service) Stop() {
	s.mu.Lock()
	pool := s.pool
	s.pool = nil
	s.stopped = true
	s.mu.Unlock()
	if pool != nil {
		pool.Stop()
	}
}

// onConfigChange applies a new cleanup configuration. Disabling async drains
// the existing queue to completion before the workers exit; re-enabling
// resumes normal enqueue behavior for new disconnects.
func (s *Service) onConfigChange(_, updated *config.Config) {
	cl := updated.Cleanup

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || cl == s.applied {
		return
	}

	if cl.QueueBufferSize != s.applied.QueueBufferSize {
		s.logger.Warn().
			Int("configured", cl.QueueBufferSize).
			Int("active", s.queue.Cap()).
			Msg("queue_buffer_size change requires a restart, keeping active capacity")
	}

	poolShape := cl.WorkerThreads != s.applied.WorkerThreads ||
		cl.BatchSize != s.applied.BatchSize ||
		cl.BatchTimeoutMS != s.applied.BatchTimeoutMS ||
		cl.MaxRetryAttempts != s.applied.MaxRetryAttempts

	switch {
	case !cl.AsyncEnabled && s.pool != nil:
		s.logger.Info().Msg("async cleanup disabled, draining queue")
		s.stopPoolLocked()
	case cl.AsyncEnabled && s.pool == nil:
		s.logger.Info().Msg("async cleanup enabled")
		s.startPoolLocked(cl)
	case cl.AsyncEnabled && poolShape:
		s.logger.Info().Msg("cleanup pool reconfigured, restarting workers")
		s.stopPoolLocked()
		s.startPoolLocked(cl)
	}

	s.applied = cl
}

func (s *Service) startPoolLocked(cl config.Cleanup) {
	s.pool = NewPool(PoolConfig{
		Workers:          cl.WorkerThreads.Resolve(),
		BatchSize:        cl.BatchSize,
		BatchTimeout:     cl.BatchTimeout(),
		MaxRetryAttempts: cl.MaxRetryAttempts,
	}, s.queue, s.gov, s.rec, s.stats, s.logger)
	s.pool.Start()
}

func (s *Service) stopPoolLocked() {
	pool := s.pool
	s.pool = nil
	if pool != nil {
		pool.Stop()
	}
}
