package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across packages.
var (
	// ErrDuplicateJob is returned when a non-terminal job of the same
	// roaster and type already exists.
	ErrDuplicateJob = errors.New("duplicate job for roaster and type")

	// ErrNoJobAvailable is returned when no queued or due retrying job
	// can be claimed right now.
	ErrNoJobAvailable = errors.New("no job available")

	// ErrRateLimitExceeded is returned when a rate window has no headroom
	// and a blocking acquire timed out.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrBudgetExhausted is returned when a roaster's scrape budget cannot
	// cover a debit.
	ErrBudgetExhausted = errors.New("scrape budget exhausted")

	// ErrCacheCollision is returned when a cache put carries a different
	// value for an existing content-addressed key. This is a programmer
	// error and is never retried.
	ErrCacheCollision = errors.New("cache key collision with differing value")

	// ErrRoasterNotFound is returned for operations on an unknown roaster.
	ErrRoasterNotFound = errors.New("roaster not found")

	// ErrJobNotFound is returned for operations on an unknown job.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobTerminal is returned when a state transition targets a job
	// already in a terminal state.
	ErrJobTerminal = errors.New("job is in a terminal state")
)

// ErrorKind classifies failures for retry decisions.
type ErrorKind string

const (
	// ErrorKindTransient covers timeouts, 5xx responses, and network
	// failures. Retryable.
	ErrorKindTransient ErrorKind = "transient"
	// ErrorKindPermanent covers bad configuration and 404-style responses.
	// Never retried.
	ErrorKindPermanent ErrorKind = "permanent"
	// ErrorKindRateLimited means a rate window denied the attempt.
	// Retryable on the normal backoff schedule.
	ErrorKindRateLimited ErrorKind = "rate_limited"
	// ErrorKindBudgetExhausted means the scrape budget is spent. Retryable,
	// but on a longer backoff so the queue does not hot-loop until an
	// operator resets the budget.
	ErrorKindBudgetExhausted ErrorKind = "budget_exhausted"
)

// FetchError wraps a fetch failure with its retry classification.
type FetchError struct {
	Kind ErrorKind
	Err  error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("%s fetch error: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable fetch failure.
func Transient(err error) error {
	return &FetchError{Kind: ErrorKindTransient, Err: err}
}

// Permanent wraps err as a non-retryable fetch failure.
func Permanent(err error) error {
	return &FetchError{Kind: ErrorKindPermanent, Err: err}
}

// Transientf wraps a formatted message as a retryable fetch failure.
func Transientf(format string, args ...any) error {
	return Transient(fmt.Errorf(format, args...))
}

// Permanentf wraps a formatted message as a non-retryable fetch failure.
func Permanentf(format string, args ...any) error {
	return Permanent(fmt.Errorf(format, args...))
}

// KindOf classifies an error for retry purposes. Unclassified errors are
// treated as transient so an unexpected failure mode never silently
// dead-letters a job on its first occurrence.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, ErrRateLimitExceeded) {
		return ErrorKindRateLimited
	}
	if errors.Is(err, ErrBudgetExhausted) {
		return ErrorKindBudgetExhausted
	}
	return ErrorKindTransient
}
