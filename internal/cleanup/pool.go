package cleanup

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/surgews/surge/internal/metrics"
)

// idleWait bounds how long an idle worker sleeps between looks at an empty
// queue when batch_timeout_ms is zero.
const idleWait = 10 * time.Millisecond

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Workers          int
	BatchSize        int
	BatchTimeout     time.Duration
	MaxRetryAttempts int
}

// Pool runs independent workers, each assembling batches from the shared
// queue and processing them to completion. Workers cooperate only through
// the queue; each batch is owned by exactly one worker.
type Pool struct {
	cfg    PoolConfig
	queue  *Queue
	gov    *Governor
	rec    *Reconciler
	stats  *metrics.Metrics // may be nil
	logger zerolog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewPool creates a pool over queue. Call Start to launch workers.
func NewPool(cfg PoolConfig, queue *Queue, gov *Governor, rec *Reconciler, stats *metrics.Metrics, logger zerolog.Logger) *Pool {
	return &Pool{
		cfg:    cfg,
		queue:  queue,
		gov:    gov,
		rec:    rec,
		stats:  stats,
		logger: logger.With().Str("component", "cleanup_pool").Logger(),
		stopCh: make(chan struct{}),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info().
		Int("workers", p.cfg.Workers).
		Int("batch_size", p.cfg.BatchSize).
		Dur("batch_timeout", p.cfg.BatchTimeout).
		Msg("cleanup workers started")
}

// Stop drains gracefully: workers finish the queued backlog, then exit. No
// queued task is discarded by shutdown itself.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	p.logger.Info().Msg("cleanup workers stopped")
}

// worker runs the assemble → process loop until told to stop and the queue
// is drained.
func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log := p.logger.With().Int("worker", id).Logger()
	log.Debug().Msg("worker started")
	if p.stats != nil {
		p.stats.Workers.Inc()
		defer p.stats.Workers.Dec()
	}

	for {
		first, ok := p.next()
		if !ok {
			log.Debug().Msg("worker drained, stopping")
			return
		}
		if first == nil {
			// Idle timeout tick with no tasks: a no-op iteration.
			continue
		}

		batch := p.fill(first)
		start := time.Now()
		for _, t := range batch {
			p.rec.Run(context.Background(), t, p.cfg.MaxRetryAttempts)
		}
		elapsed := time.Since(start)
		p.gov.NoteBatch(len(batch), elapsed)
		log.Debug().
			Int("tasks", len(batch)).
			Dur("elapsed", elapsed).
			Msg("batch completed")
	}
}

// next obtains the first task of a batch. A (nil, true) return is an idle
// tick; (nil, false) means the pool is stopping and the queue is empty.
func (p *Pool) next() (*Task, bool) {
	if t, ok := p.queue.TryDequeue(); ok {
		return t, true
	}

	select {
	case <-p.stopCh:
		// Draining: only the backlog remains, and it is empty.
		return nil, false
	default:
	}

	wait := p.cfg.BatchTimeout
	if wait <= 0 {
		wait = idleWait
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case t := <-p.queue.ch:
		return t, true
	case <-p.stopCh:
		return nil, true // take one more pass to drain the backlog
	case <-timer.C:
		return nil, true
	}
}

// fill assembles a batch starting from first: collect until BatchSize tasks
// or BatchTimeout since the first task, whichever comes first.
func (p *Pool) fill(first *Task) []*Task {
	batch := make([]*Task, 1, p.cfg.BatchSize)
	batch[0] = first
	if p.cfg.BatchSize == 1 {
		return batch
	}

	timer := time.NewTimer(p.cfg.BatchTimeout)
	defer timer.Stop()
	for len(batch) < p.cfg.BatchSize {
		select {
		case t := <-p.queue.ch:
			batch = append(batch, t)
		case <-timer.C:
			return batch
		}
	}
	return batch
}
