// Package errors defines the typed error kinds chronikcache distinguishes,
// per the error handling design: NotFound, Transport, LimitExceeded,
// OutOfRange, PolicyReject and InternalInvariant.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an Error into one of the categories the core distinguishes.
type Kind int

const (
	// Unknown is the zero value; never returned by chronikcache itself.
	Unknown Kind = iota
	// NotFound means a store lookup found nothing for the key; call sites
	// convert this to a nil result rather than propagating it.
	NotFound
	// Transport covers indexer / subscription connectivity failures. It is
	// retryable by the retry envelope; it becomes fatal only once retries
	// are exhausted.
	Transport
	// LimitExceeded means the durable store could not shrink to the
	// configured ceiling during least-accessed eviction.
	LimitExceeded
	// OutOfRange means the caller requested a page past the known end.
	OutOfRange
	// PolicyReject means the subject's transaction count exceeds
	// maxTxLimit; reported via a status code, not normally surfaced as an
	// error to library callers.
	PolicyReject
	// InternalInvariant means a hash mismatch or similar invariant
	// violation was detected after a repair; it triggers a forced rebuild.
	InternalInvariant
	// Config marks a construction-time configuration problem.
	Config
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Transport:
		return "transport"
	case LimitExceeded:
		return "limit_exceeded"
	case OutOfRange:
		return "out_of_range"
	case PolicyReject:
		return "policy_reject"
	case InternalInvariant:
		return "internal_invariant"
	case Config:
		return "config"
	default:
		return "unknown"
	}
}

// Error is the typed error chronikcache raises and inspects internally.
type Error struct {
	kind    Kind
	message string
	wrapped error
}

// New creates an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind that wraps an existing error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...), wrapped: err}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.wrapped == nil {
		return fmt.Sprintf("%s: %s", e.kind, e.message)
	}
	return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.wrapped)
}

// Unwrap allows errors.Is/errors.As to see through to the wrapped cause.
func (e *Error) Unwrap() error { return e.wrapped }

// Is reports whether target is an *Error of the same Kind, or matches the
// wrapped cause.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.kind == e.kind
	}
	return false
}

// Code returns the error's Kind.
func (e *Error) Code() Kind { return e.kind }

// KindOf extracts the Kind from err, or Unknown if err is not (or does not
// wrap) a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return Unknown
}

// Is reports whether err is an *Error with the given Kind. Convenience
// wrapper so call sites can write errors.Is(err, errors.NotFound).
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
