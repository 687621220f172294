// Package retry classifies work-function failures and computes retry delays
// for the batch runner.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Class represents the retry classification of an error.
type Class string

const (
	// ClassRateLimit means the remote side asked us to slow down.
	ClassRateLimit Class = "rate_limit"

	// ClassTransient represents recoverable network or 5xx-style failures.
	ClassTransient Class = "transient"

	// ClassPermanent represents 4xx-style or validation failures.
	ClassPermanent Class = "permanent"

	// ClassCancelled marks items interrupted by context cancellation.
	ClassCancelled Class = "cancelled"
)

// Error is a classified work-function error.
type Error struct {
	Class Class

	// RetryAfter is the server-provided wait hint for rate-limit errors.
	// Zero means no hint.
	RetryAfter time.Duration

	// StatusCode is the HTTP status that produced the error, if any.
	StatusCode int

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := "<nil>"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Class, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Class, msg)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: ClassTransient, Err: err}
}

// Permanent wraps err as a failure that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: ClassPermanent, Err: err}
}

// RateLimited wraps err as a server-reported rate limit. A positive
// retryAfter is used instead of the computed backoff.
func RateLimited(err error, retryAfter time.Duration) error {
	if err == nil {
		err = errors.New("rate limited")
	}
	return &Error{Class: ClassRateLimit, RetryAfter: retryAfter, Err: err}
}

// Classify returns the retry class of err.
//
// Explicitly classified errors keep their class. Network errors and deadline
// expiry are transient; context cancellation is reported as cancelled.
// Anything else is permanent.
func Classify(err error) Class {
	if err == nil {
		return ""
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified.Class
	}

	if errors.Is(err, context.Canceled) {
		return ClassCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}

	return ClassPermanent
}

// RetryAfterOf extracts the server wait hint from err, if any.
func RetryAfterOf(err error) time.Duration {
	var classified *Error
	if errors.As(err, &classified) && classified.Class == ClassRateLimit {
		return classified.RetryAfter
	}
	return 0
}

// ShouldRetry reports whether failures of the given class may be retried.
func ShouldRetry(class Class) bool {
	switch class {
	case ClassRateLimit:
		return true
	case ClassTransient:
		return true
	default:
		// permanent and cancelled failures are terminal
		return false
	}
}

// ClassifyStatus maps an HTTP status code to a retry class.
// Statuses below 400 are not errors and return "".
func ClassifyStatus(status int) Class {
	switch {
	case status == 429:
		return ClassRateLimit
	case status == 408:
		return ClassTransient
	case status >= 400 && status < 500:
		return ClassPermanent
	case status >= 500:
		return ClassTransient
	default:
		return ""
	}
}
