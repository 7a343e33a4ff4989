// Package taskruntime is the priority-queue job dispatcher (spec §4.1):
// queue routing, worker pool, retry/backoff, result storage, and the
// periodic scheduler that drives the fan-out and daily-topic ticks.
package taskruntime

import (
	"errors"
	"fmt"
	"net/http"
)

// FailureClass is one of the five signal classes a task handler reports
// on error. The dispatcher uses the class, not the error string, to
// decide whether to retry, reschedule, or mark a task terminally failed.
type FailureClass int

const (
	// ClassInternal is the default for an unclassified error: retry per
	// the task's declared policy.
	ClassInternal FailureClass = iota
	// ClassNotFound means the referenced entity no longer exists.
	// Terminal, no retry.
	ClassNotFound
	// ClassUpstream is a remote 5xx/timeout. Retryable per policy.
	ClassUpstream
	// ClassRateLimited is a remote 429. The dispatcher reschedules using
	// the provider-supplied delay and does not count the attempt against
	// max_retries.
	ClassRateLimited
	// ClassValidation is bad input. Terminal, no retry.
	ClassValidation
)

func (c FailureClass) String() string {
	switch c {
	case ClassNotFound:
		return "not_found"
	case ClassUpstream:
		return "upstream"
	case ClassRateLimited:
		return "rate_limited"
	case ClassValidation:
		return "validation"
	default:
		return "internal"
	}
}

// Terminal reports whether a task in this failure class should stop
// retrying immediately rather than follow the retry policy.
func (c FailureClass) Terminal() bool {
	return c == ClassNotFound || c == ClassValidation
}

// TaskError wraps a handler error with the failure class the
// dispatcher needs to route it, plus an optional provider-supplied
// retry-after delay for ClassRateLimited.
type TaskError struct {
	Class      FailureClass
	RetryAfter int // seconds; only meaningful for ClassRateLimited
	Err        error
}

func (e *TaskError) Error() string {
	if e.Err == nil {
		return e.Class.String()
	}
	return fmt.Sprintf("%s: %v", e.Class.String(), e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// NotFound wraps err as a terminal not-found failure.
func NotFound(err error) error { return &TaskError{Class: ClassNotFound, Err: err} }

// Upstream wraps err as a retryable upstream failure.
func Upstream(err error) error { return &TaskError{Class: ClassUpstream, Err: err} }

// RateLimited wraps err as a rate-limit failure carrying the
// provider's retry-after hint in seconds.
func RateLimited(err error, retryAfterSeconds int) error {
	return &TaskError{Class: ClassRateLimited, RetryAfter: retryAfterSeconds, Err: err}
}

// Validation wraps err as a terminal validation failure.
func Validation(err error) error { return &TaskError{Class: ClassValidation, Err: err} }

// Internal wraps err as a retry-per-policy internal failure.
func Internal(err error) error { return &TaskError{Class: ClassInternal, Err: err} }

// ClassOf extracts the failure class from err, defaulting to
// ClassInternal for an error a handler returned unwrapped.
func ClassOf(err error) FailureClass {
	if err == nil {
		return ClassInternal
	}
	var te *TaskError
	if errors.As(err, &te) {
		return te.Class
	}
	return ClassInternal
}

// RetryAfterOf extracts the rate-limit retry-after hint in seconds, or
// 0 if err carries none.
func RetryAfterOf(err error) int {
	var te *TaskError
	if errors.As(err, &te) && te.Class == ClassRateLimited {
		return te.RetryAfter
	}
	return 0
}

// ClassifyHTTPStatus maps an upstream HTTP status code to a failure
// class, matching spec §4.1/§7's enumerated behaviors for article
// fetch and provider calls.
func ClassifyHTTPStatus(status int) FailureClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ClassRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ClassValidation
	case status >= 500:
		return ClassUpstream
	case status >= 400:
		return ClassValidation
	default:
		return ClassInternal
	}
}
