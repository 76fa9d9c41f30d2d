package cleanup

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/surgews/surge/internal/config"
)

// ConnState is the marker's view of a transport connection: identity, live
// membership, and a disconnect latch. The transport updates membership while
// the socket is open; the marker snapshots it exactly once at disconnect.
type ConnState struct {
	id    string
	appID string

	mu       sync.Mutex
	channels map[string]struct{}
	presence *PresenceIdentity

	disconnected atomic.Bool
}

// NewConnState creates the state for a freshly accepted connection, minting
// a socket ID when the transport does not supply one.
func NewConnState(connectionID, appID string) *ConnState {
	if connectionID == "" {
		connectionID = uuid.NewString()
	}
	return &ConnState{
		id:       connectionID,
		appID:    appID,
		channels: make(map[string]struct{}),
	}
}

// ID returns the connection identifier.
func (c *ConnState) ID() string { return c.id }

// AppID returns the owning application.
func (c *ConnState) AppID() string { return c.appID }

// AddChannel records a subscription.
func (c *ConnState) AddChannel(name string) {
	c.mu.Lock()
	c.channels[name] = struct{}{}
	c.mu.Unlock()
}

// RemoveChannel records an explicit unsubscribe.
func (c *ConnState) RemoveChannel(name string) {
	c.mu.Lock()
	delete(c.channels, name)
	c.mu.Unlock()
}

// SetPresence records the authenticated presence identity.
func (c *ConnState) SetPresence(userID string, userInfo []byte) {
	c.mu.Lock()
	c.presence = &PresenceIdentity{UserID: userID, UserInfo: userInfo}
	c.mu.Unlock()
}

// Disconnected reports whether the connection has been marked.
func (c *ConnState) Disconnected() bool { return c.disconnected.Load() }

// markDisconnected latches the disconnected state. True only on the first
// call.
func (c *ConnState) markDisconnected() bool {
	return c.disconnected.CompareAndSwap(false, true)
}

// snapshot captures membership at disconnect time.
func (c *ConnState) snapshot() ([]string, *PresenceIdentity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	channels := make([]string, 0, len(c.channels))
	for name := range c.channels {
		channels = append(channels, name)
	}
	return channels, c.presence
}

// Marker is called by the transport the instant a socket closes. The common
// path is O(1): latch the connection, snapshot membership, hand the task to
// the queue. It never blocks the caller unless async is disabled or the
// fallback policy demands inline cleanup.
type Marker struct {
	store  *config.Store
	queue  *Queue
	gov    *Governor
	rec    *Reconciler
	logger zerolog.Logger
}

// NewMarker wires the disconnect marker.
func NewMarker(store *config.Store, queue *Queue, gov *Governor, rec *Reconciler, logger zerolog.Logger) *Marker {
	return &Marker{
		store:  store,
		queue:  queue,
		gov:    gov,
		rec:    rec,
		logger: logger.With().Str("component", "cleanup_marker").Logger(),
	}
}

// Disconnect transitions the connection to disconnected exactly once and
// schedules its cleanup. A second call for the same connection is a no-op.
// Failures are absorbed here; the socket is already gone, so nothing is
// raised to the transport.
func (m *Marker) Disconnect(ctx context.Context, conn *ConnState) {
	if !conn.markDisconnected() {
		return
	}

	channels, presence := conn.snapshot()
	if len(channels) == 0 {
		return // nothing to reconcile
	}

	task := &Task{
		ConnectionID:   conn.ID(),
		AppID:          conn.AppID(),
		Channels:       channels,
		Presence:       presence,
		DisconnectedAt: time.Now(),
	}

	cl := m.store.Current().Cleanup

	// Deliberate sync-only mode is not an overload fallback; it runs inline
	// without touching the fallback counter.
	if !cl.AsyncEnabled {
		m.rec.Run(ctx, task, cl.MaxRetryAttempts)
		return
	}

	if m.queue.TryEnqueue(task) {
		m.gov.NoteEnqueued()
		return
	}

	// Queue saturated.
	if cl.FallbackToSync {
		m.gov.NoteFallback()
		m.logger.Warn().
			Str("connection_id", task.ConnectionID).
			Msg("cleanup queue full, falling back to synchronous cleanup")
		m.rec.Run(ctx, task, cl.MaxRetryAttempts)
		return
	}

	m.gov.NoteEnqueueFailed()
	m.logger.Error().
		Str("connection_id", task.ConnectionID).
		Str("app_id", task.AppID).
		Msg("cleanup queue full, task dropped")
}
