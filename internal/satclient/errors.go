package satclient

import (
	"errors"
	"fmt"
	"time"

	derrors "satsync/pkg/domain-errors"
)

// RateLimitError reports remote throttling together with the service-dictated
// delay. It is retried with a longer pause than ordinary transient failures.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("remote service throttling, retry after %s", e.RetryAfter)
}

// IsTransient reports whether err is a transport-level failure worth retrying
// with backoff.
func IsTransient(err error) bool {
	return derrors.HasCode(err, derrors.CodeTransient)
}

// IsAuth reports whether err indicates a stale or rejected session. These are
// never retried at the call site; the orchestrator re-authenticates.
func IsAuth(err error) bool {
	return derrors.HasCode(err, derrors.CodeUnauthorized)
}

// IsProtocol reports an unexpected or malformed remote response.
func IsProtocol(err error) bool {
	return derrors.HasCode(err, derrors.CodeProtocol)
}

// AsRateLimit extracts a RateLimitError from the chain if present.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
