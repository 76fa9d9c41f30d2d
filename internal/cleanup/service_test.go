package cleanup

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surgews/surge/internal/channel"
	"github.com/surgews/surge/internal/config"
)

type serviceFixture struct {
	store *config.Store
	reg   *channel.Registry
	sink  *captureSink
	svc   *Service
}

func newServiceFixture(t *testing.T, mutate func(*config.Config)) *serviceFixture {
	t.Helper()
	cfg := config.Default()
	cfg.Cleanup.QueueBufferSize = 1000
	cfg.Cleanup.BatchSize = 10
	cfg.Cleanup.WorkerThreads = 2
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	store := config.NewStore(cfg, "", zerolog.Nop())
	reg := channel.NewRegistry(nil, zerolog.Nop())
	sink := &captureSink{}
	svc := NewService(store, reg, reg, sink, nil, zerolog.Nop())
	t.Cleanup(svc.Stop)

	return &serviceFixture{store: store, reg: reg, sink: sink, svc: svc}
}

func (f *serviceFixture) disconnect(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		conn := NewConnState(fmt.Sprintf("conn-%d", i), "app1")
		ch := fmt.Sprintf("ch-%d", i)
		f.reg.Subscribe("app1", ch, conn.ID())
		conn.AddChannel(ch)
		f.svc.Marker().Disconnect(context.Background(), conn)
	}
}

func (f *serviceFixture) apply(t *testing.T, mutate func(*config.Config)) {
	t.Helper()
	next := *f.store.Current()
	mutate(&next)
	require.NoError(t, f.store.Apply(&next))
}

func TestService_EndToEnd(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.svc.Start()

	f.disconnect(t, 100)

	waitFor(t, func() bool {
		return f.svc.Governor().Snapshot().TasksProcessed == 100
	}, "disconnects not processed")
	assert.Equal(t, 0, f.reg.ChannelCount())
}

func TestService_DisableAsyncDrainsQueue(t *testing.T) {
	// Workers not started yet, so the queue holds the whole backlog.
	f := newServiceFixture(t, nil)
	f.disconnect(t, 50)
	require.Equal(t, 50, f.svc.queue.Len())

	f.svc.Start()
	f.apply(t, func(cfg *config.Config) { cfg.Cleanup.AsyncEnabled = false })

	// The toggle drains synchronously: once Apply returns, every queued task
	// has been processed.
	assert.Equal(t, int64(50), f.svc.Governor().Snapshot().TasksProcessed)
	assert.Equal(t, 0, f.svc.queue.Len())

	// New disconnects now take the synchronous path without counting as
	// overload fallbacks.
	conn := NewConnState("late", "app1")
	conn.AddChannel("ch-late")
	f.reg.Subscribe("app1", "ch-late", "late")
	f.svc.Marker().Disconnect(context.Background(), conn)

	s := f.svc.Governor().Snapshot()
	assert.Equal(t, int64(0), s.SyncFallbacks)
	assert.Equal(t, int64(51), s.TasksProcessed)
}

func TestService_ReenableAsyncResumesWorkers(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.svc.Start()

	f.apply(t, func(cfg *config.Config) { cfg.Cleanup.AsyncEnabled = false })
	f.apply(t, func(cfg *config.Config) { cfg.Cleanup.AsyncEnabled = true })

	f.disconnect(t, 20)
	waitFor(t, func() bool {
		return f.svc.Governor().Snapshot().TasksProcessed == 20
	}, "workers did not resume after re-enable")
}

func TestService_PoolReconfigureRestartsWorkers(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.svc.Start()

	f.apply(t, func(cfg *config.Config) {
		cfg.Cleanup.BatchSize = 5
		cfg.Cleanup.WorkerThreads = 1
	})

	f.disconnect(t, 30)
	waitFor(t, func() bool {
		return f.svc.Governor().Snapshot().TasksProcessed == 30
	}, "reconfigured pool did not process tasks")
}

func TestService_QueueCapacityFixedAtRuntime(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.svc.Start()

	f.apply(t, func(cfg *config.Config) { cfg.Cleanup.QueueBufferSize = 9999 })

	// Capacity changes need a restart; the active queue keeps its size.
	assert.Equal(t, 1000, f.svc.queue.Cap())
}

func TestService_SyncOnlyStart(t *testing.T) {
	f := newServiceFixture(t, func(cfg *config.Config) {
		cfg.Cleanup.AsyncEnabled = false
	})
	f.svc.Start()

	f.disconnect(t, 10)
	s := f.svc.Governor().Snapshot()
	// Sync-only mode processes inline but leaves the overload-fallback
	// counter alone.
	assert.Equal(t, int64(0), s.SyncFallbacks)
	assert.Equal(t, int64(10), s.TasksProcessed)
	assert.Equal(t, 0, f.reg.ChannelCount())
}
