// Package reliability classifies transient failures and computes retry
// backoff for the ingestion and synthesis paths.
package reliability

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/mvailla/chatsight/internal/store"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes from
// synthesis providers.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableStoreError reports whether an append failure is worth
// redelivering. Validation failures never are; storage IO and network
// hiccups usually clear.
func IsRetryableStoreError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, store.ErrValidation) {
		return false
	}
	if errors.Is(err, store.ErrStorageIO) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
