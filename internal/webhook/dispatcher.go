// Package webhook delivers channel lifecycle events to the configured
// external endpoint using the Pusher webhook envelope: a JSON body
// {"time_ms": ..., "events": [...]} signed with HMAC-SHA256 of the app
// secret. Delivery retries are this package's responsibility; callers only
// decide whether an event is due.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/surgews/surge/internal/config"
	serrors "github.com/surgews/surge/internal/errors"
	"github.com/surgews/surge/internal/metrics"
	"github.com/surgews/surge/internal/retry"
)

// Lifecycle event names, as the Pusher webhook contract spells them.
const (
	EventChannelVacated = "channel_vacated"
	EventMemberRemoved  = "member_removed"
)

// Event is one lifecycle event destined for the webhook endpoint.
type Event struct {
	Name    string `json:"name"`
	AppID   string `json:"-"`
	Channel string `json:"channel"`
	UserID  string `json:"user_id,omitempty"`
}

type envelope struct {
	TimeMS int64   `json:"time_ms"`
	Events []Event `json:"events"`
}

// Dispatcher batches lifecycle events and POSTs them to the endpoint.
type Dispatcher struct {
	cfg    config.Webhook
	queue  chan Event
	client *http.Client
	retry  retry.Config
	stats  *metrics.Metrics
	logger zerolog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher. stats may be nil.
func NewDispatcher(cfg config.Webhook, stats *metrics.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		queue:  make(chan Event, cfg.QueueSize),
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  retry.DefaultConfig(),
		stats:  stats,
		logger: logger.With().Str("component", "webhooks").Logger(),
		stopCh: make(chan struct{}),
	}
}

// Start launches the sender goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.sender(ctx)
}

// Stop flushes queued events and stops the sender.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}

// Enqueue accepts an event for delivery without blocking. It returns
// ErrQueueFull when the event queue is saturated. With no endpoint
// configured, events are accepted and discarded.
func (d *Dispatcher) Enqueue(ev Event) error {
	if d.cfg.URL == "" {
		return nil
	}
	select {
	case d.queue <- ev:
		d.count("accepted")
		return nil
	default:
		d.count("rejected")
		d.logger.Warn().Str("event", ev.Name).Str("channel", ev.Channel).Msg("webhook queue full, event dropped")
		return serrors.ErrQueueFull
	}
}

func (d *Dispatcher) sender(ctx context.Context) {
	defer d.wg.Done()

	flush := time.NewTicker(d.nonZeroFlushInterval())
	defer flush.Stop()

	batch := make([]Event, 0, d.cfg.MaxBatch)
	for {
		select {
		case ev := <-d.queue:
			batch = append(batch, ev)
			if len(batch) >= d.cfg.MaxBatch {
				d.deliver(ctx, batch)
				batch = batch[:0]
			}
		case <-flush.C:
			if len(batch) > 0 {
				d.deliver(ctx, batch)
				batch = batch[:0]
			}
		case <-d.stopCh:
			// Drain whatever is left, then flush once.
			for {
				select {
				case ev := <-d.queue:
					batch = append(batch, ev)
					if len(batch) >= d.cfg.MaxBatch {
						d.deliver(ctx, batch)
						batch = batch[:0]
					}
				default:
					if len(batch) > 0 {
						d.deliver(ctx, batch)
					}
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, events []Event) {
	body, err := json.Marshal(envelope{
		TimeMS: time.Now().UnixMilli(),
		Events: events,
	})
	if err != nil {
		d.logger.Error().Err(err).Msg("marshaling webhook envelope")
		return
	}

	err = retry.Do(ctx, d.retry, func(ctx context.Context) error {
		return d.post(ctx, body)
	})
	if err != nil {
		d.count("failed")
		d.logger.Error().Err(err).Int("events", len(events)).Msg("webhook delivery failed")
		return
	}
	d.count("delivered")
	d.logger.Debug().Int("events", len(events)).Msg("webhook delivered")
}

func (d *Dispatcher) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pusher-Key", d.cfg.AppKey)
	req.Header.Set("X-Pusher-Signature", Sign(d.cfg.Secret, body))

	resp, err := d.client.Do(req)
	if err != nil {
		return &serrors.DeliveryError{Endpoint: d.cfg.URL, Err: err}
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &serrors.DeliveryError{Endpoint: d.cfg.URL, StatusCode: resp.StatusCode}
	}
	return nil
}

func (d *Dispatcher) nonZeroFlushInterval() time.Duration {
	if iv := d.cfg.FlushInterval(); iv > 0 {
		return iv
	}
	return 100 * time.Millisecond
}

func (d *Dispatcher) count(status string) {
	if d.stats != nil {
		d.stats.WebhookEvents.WithLabelValues(status).Inc()
	}
}

// Sign computes the hex HMAC-SHA256 of body with the app secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
