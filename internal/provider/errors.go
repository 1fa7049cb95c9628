package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/tminus/tminus/internal/types"
)

// StatusError is a provider HTTP failure. Adapters wrap non-2xx responses in
// it so the classifier can route on status code.
type StatusError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration // from the Retry-After header, if present
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Message)
}

// ErrorClassifier maps raw adapter errors onto the engine taxonomy:
// TRANSIENT (retry with backoff, RetryAfter honored when set), PERMANENT
// (dead-letter the mirror), CANCELLED (context ended, re-deliver untouched).
type ErrorClassifier interface {
	Classify(err error) *types.Error
}

// DefaultClassifier implements the standard policy: network failures and 5xx
// retry, 429 retries honoring Retry-After, any other 4xx is permanent.
type DefaultClassifier struct{}

func (DefaultClassifier) Classify(err error) *types.Error {
	if err == nil {
		return nil
	}

	var typed *types.Error
	if errors.As(err, &typed) {
		return typed
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return types.Cancelledf("provider call cancelled: %v", err)
	}

	var status *StatusError
	if errors.As(err, &status) {
		switch {
		case status.StatusCode == 429:
			after := status.RetryAfter
			if after <= 0 {
				after = time.Second
			}
			return types.RetryLater(after)
		case status.StatusCode >= 500:
			return types.Transientf(err, "provider 5xx")
		default:
			return types.Permanentf(err, "provider rejected write")
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return types.Transientf(err, "network error")
	}

	// Unknown errors default to transient so a bug in an adapter degrades to
	// retries rather than silent data loss.
	return types.Transientf(err, "unclassified provider error")
}
