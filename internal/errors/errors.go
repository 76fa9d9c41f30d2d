// Package errors provides structured error types for the surge broker.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout      = errors.New("operation timed out")
	ErrUnavailable  = errors.New("service unavailable")
	ErrQueueFull    = errors.New("queue is full")
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrClosed       = errors.New("component is shut down")
)

// DeliveryError represents a failed webhook delivery attempt.
type DeliveryError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webhook delivery to %s failed: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("webhook delivery to %s returned status %d", e.Endpoint, e.StatusCode)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsRetryable returns true if the error is likely transient and worth retrying.
func IsRetryable(err error) bool {
	var dErr *DeliveryError
	if errors.As(err, &dErr) {
		if dErr.Err != nil {
			return true // network-level failure
		}
		switch dErr.StatusCode {
		case 408, 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable)
}
