package repository

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by stores when a keyed record does not exist.
var ErrNotFound = errors.New("record not found")

// RateLimitedError signals that the channel demands a wait before the
// next send. It is a directive, not a fault: waits do not consume the
// delivery engine's retry budget.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("channel rate limited, retry after %s", e.RetryAfter)
}

// TransientError wraps timeouts and network failures that are worth
// retrying with backoff.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient channel error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError signals a rejection that retrying cannot fix, such as
// an invalid address or a recipient that blocked the channel. It
// triggers recipient deactivation.
type PermanentError struct {
	Reason string
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent channel error: %s", e.Reason) }

// AsRateLimited extracts a RateLimitedError if present.
func AsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	ok := errors.As(err, &rl)
	return rl, ok
}

// IsTransient reports whether err is a retryable channel failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is a non-retryable channel rejection.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
