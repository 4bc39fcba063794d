// Package txerr defines the transport/semantic error taxonomy used across
// the trading core: transient, rate-limited, authentication, and
// permanent failures each drive a different retry/pause policy.
package txerr

import (
	"errors"
	"fmt"
)

// Class is the taxonomy bucket a failure belongs to.
type Class string

const (
	// Transient failures are retried with exponential backoff + jitter.
	Transient Class = "transient"
	// RateLimited failures honor a server-supplied retry hint, then backoff.
	RateLimited Class = "rate_limited"
	// AuthError failures are never retried; trading pauses and requires
	// manual review.
	AuthError Class = "auth_error"
	// Permanent failures (4xx) are never retried; a detailed rejection
	// event is emitted instead.
	Permanent Class = "permanent"
)

// Error wraps an underlying cause with a taxonomy class and optional
// retry hint (used by RateLimited).
type Error struct {
	Class      Class
	Op         string // e.g. "place_order", "get_candles"
	RetryAfter float64 // seconds; zero means "use default backoff"
	Err        error
}

func (e *Error) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %s (%s, retry_after=%.1fs)", e.Op, e.Err, e.Class, e.RetryAfter)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Op, e.Err, e.Class)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a class and operation tag.
func New(class Class, op string, err error) *Error {
	return &Error{Class: class, Op: op, Err: err}
}

// WithRetryAfter attaches a server-supplied retry hint (rate-limited only).
func (e *Error) WithRetryAfter(sec float64) *Error {
	e.RetryAfter = sec
	return e
}

// Transientf builds a Transient-class error.
func Transientf(op string, format string, args ...any) *Error {
	return New(Transient, op, fmt.Errorf(format, args...))
}

// Permanentf builds a Permanent-class error.
func Permanentf(op string, format string, args ...any) *Error {
	return New(Permanent, op, fmt.Errorf(format, args...))
}

// ClassOf extracts the taxonomy class from err, defaulting to Transient for
// errors that never went through this package (unknown failures are safest
// to retry a bounded number of times rather than silently dropped).
func ClassOf(err error) Class {
	var te *Error
	if errors.As(err, &te) {
		return te.Class
	}
	return Transient
}

// Retryable reports whether the policy for this error class permits a retry.
func Retryable(err error) bool {
	switch ClassOf(err) {
	case Transient, RateLimited:
		return true
	default:
		return false
	}
}
