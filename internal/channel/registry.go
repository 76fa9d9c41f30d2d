// Package channel implements the in-memory channel registry and presence
// roster. All mutation is safe for concurrent use; removals are idempotent so
// a cleanup task can be re-run after a partial failure.
package channel

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/surgews/surge/internal/metrics"
)

// Member identifies a presence-channel member.
type Member struct {
	UserID   string          `json:"user_id"`
	UserInfo json.RawMessage `json:"user_info,omitempty"`
}

// RemoveResult reports the outcome of removing one connection from one channel.
type RemoveResult struct {
	Removed bool // the connection was actually subscribed
	Vacated bool // the channel has no subscribers left and was deleted
}

// PresenceResult reports the outcome of removing one connection of a presence
// member.
type PresenceResult struct {
	// StillPresent is true when the user has other connections subscribed to
	// the same channel, so no member_removed event is due.
	StillPresent bool
	Member       Member
}

// Removal is one entry of a batched connection removal.
type Removal struct {
	Channel string
	RemoveResult
}

type presenceMember struct {
	info  json.RawMessage
	conns map[string]struct{}
}

type entry struct {
	conns   map[string]struct{}
	members map[string]*presenceMember // presence channels only
}

// Registry tracks channel membership per application.
type Registry struct {
	mu     sync.RWMutex
	apps   map[string]map[string]*entry
	stats  *metrics.Metrics // may be nil
	logger zerolog.Logger
}

// NewRegistry creates an empty registry. stats may be nil.
func NewRegistry(stats *metrics.Metrics, logger zerolog.Logger) *Registry {
	return &Registry{
		apps:   make(map[string]map[string]*entry),
		stats:  stats,
		logger: logger.With().Str("component", "channels").Logger(),
	}
}

// Subscribe adds a connection to a channel, creating the channel on first
// subscriber. Returns whether the connection was newly added and the total
// subscriber count.
func (r *Registry) Subscribe(appID, channelName, connID string) (newlyAdded bool, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscribeLocked(appID, channelName, connID)
}

// Join adds a presence member's connection to a presence channel. The
// connection is also subscribed as a plain member.
func (r *Registry) Join(appID, channelName, connID string, m Member) (newlyAdded bool, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	newlyAdded, total = r.subscribeLocked(appID, channelName, connID)
	e := r.entry(appID, channelName)
	if e == nil || e.members == nil {
		return newlyAdded, total
	}
	pm, ok := e.members[m.UserID]
	if !ok {
		pm = &presenceMember{info: m.UserInfo, conns: make(map[string]struct{})}
		e.members[m.UserID] = pm
	}
	pm.conns[connID] = struct{}{}
	return newlyAdded, total
}

func (r *Registry) subscribeLocked(appID, channelName, connID string) (newlyAdded bool, total int) {
	channels, ok := r.apps[appID]
	if !ok {
		channels = make(map[string]*entry)
		r.apps[appID] = channels
	}
	e, ok := channels[channelName]
	if !ok {
		e = &entry{conns: make(map[string]struct{})}
		if TypeOf(channelName) == Presence {
			e.members = make(map[string]*presenceMember)
		}
		channels[channelName] = e
		if r.stats != nil {
			r.stats.ChannelsActive.Inc()
		}
	}

	if _, exists := e.conns[connID]; !exists {
		e.conns[connID] = struct{}{}
		newlyAdded = true
	}
	return newlyAdded, len(e.conns)
}

// RemoveMember removes a connection from a channel and reports whether the
// channel became empty. Removing an unknown connection or channel is a no-op,
// not an error.
func (r *Registry) RemoveMember(_ context.Context, appID, channelName, connID string) (RemoveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(appID, channelName, connID), nil
}

// RemovePresenceMember drops one connection of a presence member and reports
// whether the user is still present on the channel via other connections.
func (r *Registry) RemovePresenceMember(_ context.Context, appID, channelName, userID, connID string) (PresenceResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entry(appID, channelName)
	if e == nil || e.members == nil {
		return PresenceResult{}, nil
	}
	pm, ok := e.members[userID]
	if !ok {
		return PresenceResult{}, nil
	}
	delete(pm.conns, connID)
	member := Member{UserID: userID, UserInfo: pm.info}
	if len(pm.conns) > 0 {
		return PresenceResult{StillPresent: true, Member: member}, nil
	}
	delete(e.members, userID)
	return PresenceResult{StillPresent: false, Member: member}, nil
}

// RemoveConnection removes a connection from several channels of one app in a
// single lock acquisition. Results are correlated by channel name.
func (r *Registry) RemoveConnection(_ context.Context, appID, connID string, channels []string) ([]Removal, error) {
	if len(channels) == 0 {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Removal, 0, len(channels))
	for _, name := range channels {
		out = append(out, Removal{Channel: name, RemoveResult: r.removeLocked(appID, name, connID)})
	}
	return out, nil
}

// Members returns the presence roster of a channel.
func (r *Registry) Members(appID, channelName string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e := r.entry(appID, channelName)
	if e == nil || e.members == nil {
		return nil
	}
	out := make([]Member, 0, len(e.members))
	for id, pm := range e.members {
		out = append(out, Member{UserID: id, UserInfo: pm.info})
	}
	return out
}

// ConnectionCount returns the subscriber count of a channel, 0 if absent.
func (r *Registry) ConnectionCount(appID, channelName string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e := r.entry(appID, channelName); e != nil {
		return len(e.conns)
	}
	return 0
}

// ChannelCount returns the number of live channels across all apps.
func (r *Registry) ChannelCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, channels := range r.apps {
		n += len(channels)
	}
	return n
}

func (r *Registry) entry(appID, channelName string) *entry {
	if channels, ok := r.apps[appID]; ok {
		return channels[channelName]
	}
	return nil
}

func (r *Registry) removeLocked(appID, channelName, connID string) RemoveResult {
	e := r.entry(appID, channelName)
	if e == nil {
		return RemoveResult{}
	}
	_, existed := e.conns[connID]
	if existed {
		delete(e.conns, connID)
	}
	if len(e.conns) == 0 {
		// Empty channels are garbage collected immediately.
		delete(r.apps[appID], channelName)
		if len(r.apps[appID]) == 0 {
			delete(r.apps, appID)
		}
		if r.stats != nil {
			r.stats.ChannelsActive.Dec()
		}
		return RemoveResult{Removed: existed, Vacated: true}
	}
	return RemoveResult{Removed: existed}
}
