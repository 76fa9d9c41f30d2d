package cleanup

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/surgews/surge/internal/channel"
	"github.com/surgews/surge/internal/webhook"
)

// ChannelManager removes closed connections from channel membership. The
// registry in internal/channel implements it; the interface keeps the
// subsystem decoupled from the membership data structures.
type ChannelManager interface {
	// RemoveMember removes a connection from a channel and reports whether
	// the channel became empty.
	RemoveMember(ctx context.Context, appID, channelName, connectionID string) (channel.RemoveResult, error)
}

// BatchRemover is an optional fast path: remove one connection from several
// channels under a single lock acquisition.
type BatchRemover interface {
	RemoveConnection(ctx context.Context, appID, connectionID string, channels []string) ([]channel.Removal, error)
}

// PresenceStore removes presence-roster entries for closed connections.
type PresenceStore interface {
	RemovePresenceMember(ctx context.Context, appID, channelName, userID, connectionID string) (channel.PresenceResult, error)
}

// EventSink accepts lifecycle events for webhook delivery.
type EventSink interface {
	Enqueue(ev webhook.Event) error
}

// Reconciler performs the actual state reconciliation for one task. The same
// operation serves both call sites: queued batch processing and inline
// synchronous fallback.
type Reconciler struct {
	channels ChannelManager
	presence PresenceStore
	webhooks EventSink
	gov      *Governor
	logger   zerolog.Logger
}

// NewReconciler wires the reconciler to its collaborators.
func NewReconciler(cm ChannelManager, ps PresenceStore, sink EventSink, gov *Governor, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		channels: cm,
		presence: ps,
		webhooks: sink,
		gov:      gov,
		logger:   logger.With().Str("component", "cleanup").Logger(),
	}
}

// Run executes t to a terminal state: success, or dropped after exhausting
// maxRetries additional attempts. Returns true on success. Membership state
// after a terminal failure is whatever the last attempt produced; there is no
// rollback across the task.
func (r *Reconciler) Run(ctx context.Context, t *Task, maxRetries int) bool {
	for {
		err := r.clean(ctx, t)
		if err == nil {
			r.gov.NoteProcessed(1)
			return true
		}
		if t.Retries >= maxRetries {
			r.gov.NoteTerminalFailure()
			r.logger.Error().Err(err).
				Str("connection_id", t.ConnectionID).
				Str("app_id", t.AppID).
				Int("retry_count", t.Retries).
				Msg("cleanup failed, task dropped")
			return false
		}
		t.Retries++
		r.gov.NoteRetry()
	}
}

// clean reconciles broker state for one closed connection: presence rosters,
// channel membership, and due lifecycle events. The presence roster is
// handled first; removing the channel membership may delete a vacated
// channel entry, roster included, and the member payload must be captured
// before that happens. Safe to re-run after a partial failure because
// removals are idempotent and already-vacated channels report no further
// events.
func (r *Reconciler) clean(ctx context.Context, t *Task) error {
	var events []webhook.Event
	if t.Presence != nil {
		for _, name := range t.Channels {
			if channel.TypeOf(name) != channel.Presence {
				continue
			}
			pres, err := r.presence.RemovePresenceMember(ctx, t.AppID, name, t.Presence.UserID, t.ConnectionID)
			if err != nil {
				return err
			}
			// A zero Member means the roster had no such entry (e.g. a
			// retry re-running a finished removal): no event is due.
			if !pres.StillPresent && pres.Member.UserID != "" {
				events = append(events, webhook.Event{
					Name:    webhook.EventMemberRemoved,
					AppID:   t.AppID,
					Channel: name,
					UserID:  pres.Member.UserID,
				})
			}
		}
	}

	removals, err := r.removeAll(ctx, t)
	if err != nil {
		return err
	}
	for _, rem := range removals {
		if rem.Vacated {
			events = append(events, webhook.Event{
				Name:    webhook.EventChannelVacated,
				AppID:   t.AppID,
				Channel: rem.Channel,
			})
		}
	}

	for _, ev := range events {
		if err := r.webhooks.Enqueue(ev); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) removeAll(ctx context.Context, t *Task) ([]channel.Removal, error) {
	if br, ok := r.channels.(BatchRemover); ok {
		return br.RemoveConnection(ctx, t.AppID, t.ConnectionID, t.Channels)
	}

	removals := make([]channel.Removal, 0, len(t.Channels))
	for _, name := range t.Channels {
		res, err := r.channels.RemoveMember(ctx, t.AppID, name, t.ConnectionID)
		if err != nil {
			return nil, err
		}
		removals = append(removals, channel.Removal{Channel: name, RemoveResult: res})
	}
	return removals, nil
}
