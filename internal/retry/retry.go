// Package retry implements the bounded exponential backoff used by webhook
// delivery attempts.
package retry

import (
	"context"
	"math/rand"
	"time"

	serrors "github.com/surgews/surge/internal/errors"
)

// Config bounds a retry loop.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

// DefaultConfig returns sensible delivery-retry defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Jitter:      true,
	}
}

// Do runs fn up to cfg.MaxAttempts times, doubling the delay between
// attempts up to cfg.MaxDelay. Permanent failures (per errors.IsRetryable)
// and context cancellation abort the loop immediately.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	delay := cfg.BaseDelay
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= cfg.MaxAttempts || !serrors.IsRetryable(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.jittered(delay)):
		}

		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}

// jittered spreads a delay over [d/2, d] so a burst of failed deliveries does
// not hammer the endpoint in lockstep.
func (c Config) jittered(d time.Duration) time.Duration {
	if !c.Jitter || d <= 0 {
		return d
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
