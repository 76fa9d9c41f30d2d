// Package cleanup implements the asynchronous disconnect-cleanup subsystem:
// when a socket closes, the transport marks the connection disconnected and
// enqueues a task describing the broker state to reconcile (channel
// membership, presence rosters, lifecycle webhooks). A bounded queue and a
// pool of batching workers keep mass disconnects from stalling the accept
// loop; on overload the subsystem falls back to inline synchronous cleanup or
// sheds tasks, depending on configuration.
package cleanup

import (
	"encoding/json"
	"time"
)

// PresenceIdentity is the (user_id, user_info) pair of a presence-channel
// member.
type PresenceIdentity struct {
	UserID   string
	UserInfo json.RawMessage
}

// Task is the unit of deferred work reconciling broker state after one
// connection closed. Channels is a snapshot taken at enqueue time and is
// never re-read; a retried task reuses the original snapshot.
type Task struct {
	ConnectionID   string
	AppID          string
	Channels       []string
	Presence       *PresenceIdentity
	DisconnectedAt time.Time

	// Retries counts failed processing attempts. The task is owned by
	// exactly one goroutine at a time, so plain mutation is safe.
	Retries int
}
