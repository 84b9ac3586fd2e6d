// Package errkind provides the structured error type used to classify
// capability and validation failures per spec §7. Every error that can
// terminate or retry a node's action flows through this type so the
// scheduler can dispatch on Kind without parsing error strings.
package errkind

import "errors"

// Kind classifies a failure into one of the four categories spec §7 assigns
// distinct retry semantics to.
type Kind string

const (
	// Transient failures (network errors, rate limits, timeouts, provider
	// 5xx) are retried with exponential backoff up to retries.max.
	Transient Kind = "transient"
	// Validation failures (a plan that doesn't parse or violates graph
	// invariants) are retried with the validation error fed back into the
	// next planning attempt.
	Validation Kind = "validation"
	// Policy failures are not retried as-is; the caller degrades the
	// action (e.g. converting a PLAN node to EXECUTE at max depth) and
	// retries once under the new action.
	Policy Kind = "policy"
	// Fatal failures (misconfiguration, cancellation, non-recoverable
	// provider errors) are never retried.
	Fatal Kind = "fatal"
	// Deadlock is reserved for the scheduler's own liveness check; it is
	// never returned by a capability.
	Deadlock Kind = "deadlock"
)

// Error is the structured failure type threaded through action results,
// node.Result, and run_finished events. It preserves a cause chain so
// errors.Is/As still work across activity/workflow serialization boundaries
// the way a plain wrapped error would not.
type Error struct {
	Kind    Kind
	Message string
	Cause   *Error
	// Attempts records how many times the action was attempted before this
	// error became terminal. Zero means "not yet retried".
	Attempts int
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	if message == "" {
		message = string(kind) + " error"
	}
	return &Error{Kind: kind, Message: message}
}

// Wrap converts an arbitrary error into an Error chain of the given kind,
// preserving any existing Error chain so classification survives repeated
// wrapping.
func Wrap(kind Kind, message string, cause error) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Kind: kind, Message: message, Cause: FromError(cause)}
}

// FromError converts an arbitrary error into an Error chain, defaulting to
// Fatal when the error carries no existing classification.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: Fatal, Message: err.Error()}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap supports errors.Is/As across the Cause chain.
func (e *Error) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Retryable reports whether the error kind is one the scheduler should
// attempt to retry (subject to retries.max); Fatal and Deadlock are not.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case Transient, Validation:
		return true
	default:
		return false
	}
}
