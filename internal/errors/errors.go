// Package errors provides the unified error type used across the sync
// engine. Every failure that crosses a package boundary is classified
// into one of the Type values below so callers can decide between
// retrying, falling back to cached data, or surfacing a hard error.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Type classifies an error for handling and response mapping.
type Type string

const (
	// TypeOffline means there is no connectivity and no usable cache.
	TypeOffline Type = "OFFLINE"

	// TypeStaleServed is not a failure: cached data was returned even
	// though a refresh failed or was skipped. Attached to results as a
	// soft warning, never shown as a blocking error.
	TypeStaleServed Type = "STALE_SERVED"

	// TypeServerError covers 4xx/5xx responses, with the message
	// extracted from the response body when possible.
	TypeServerError Type = "SERVER_ERROR"

	// TypeUnsupportedType is a programmer error: a resource type the
	// coordinator has no route for. Fails fast, no network attempt.
	TypeUnsupportedType Type = "UNSUPPORTED_TYPE"

	// TypeMalformedPayload means a response or cached row could not be
	// decoded into the expected shape.
	TypeMalformedPayload Type = "MALFORMED_PAYLOAD"

	// TypePermissionDenied applies to interaction writes only and
	// routes the operation onto the durable retry queue.
	TypePermissionDenied Type = "PERMISSION_DENIED"

	// TypeTransientNetwork covers timeouts and connection errors that
	// are eligible for automatic retry with backoff.
	TypeTransientNetwork Type = "TRANSIENT_NETWORK"

	// TypeInternal is the catch-all for bugs and invariant violations.
	TypeInternal Type = "INTERNAL"
)

// Severity is used for logging and monitoring fan-out.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Error is the single error type shared by every layer of the engine.
type Error struct {
	Type    Type
	Message string
	Details string

	// Context of the failed operation.
	Operation   string
	ResourceRef string

	Severity   Severity
	Retryable  bool
	RetryAfter time.Duration

	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to reach the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Builder provides fluent construction of Error values.
type Builder struct {
	err *Error
}

// New starts a builder for the given type and message.
func New(t Type, message string) *Builder {
	return &Builder{err: &Error{
		Type:     t,
		Message:  message,
		Severity: defaultSeverity(t),
	}}
}

// WithDetails attaches free-form context to the error.
func (b *Builder) WithDetails(format string, args ...interface{}) *Builder {
	b.err.Details = fmt.Sprintf(format, args...)
	return b
}

// WithOperation records the operation that failed.
func (b *Builder) WithOperation(op string) *Builder {
	b.err.Operation = op
	return b
}

// WithResource records the resource reference, e.g. "template:t1".
func (b *Builder) WithResource(ref string) *Builder {
	b.err.ResourceRef = ref
	return b
}

// WithCause wraps an underlying error.
func (b *Builder) WithCause(cause error) *Builder {
	b.err.Cause = cause
	return b
}

// WithSeverity overrides the type-derived severity.
func (b *Builder) WithSeverity(s Severity) *Builder {
	b.err.Severity = s
	return b
}

// Retryable marks the error as eligible for automatic retry.
func (b *Builder) Retryable(after time.Duration) *Builder {
	b.err.Retryable = true
	b.err.RetryAfter = after
	return b
}

// Build finalizes the error.
func (b *Builder) Build() *Error {
	return b.err
}

func defaultSeverity(t Type) Severity {
	switch t {
	case TypeStaleServed:
		return SeverityLow
	case TypeUnsupportedType, TypeInternal:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// TypeOf extracts the classification of err, or TypeInternal when err
// is not an *Error.
func TypeOf(err error) Type {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return TypeInternal
}

// Is reports whether err carries the given classification.
func Is(err error, t Type) bool {
	return TypeOf(err) == t
}

// IsRetryable reports whether the operation that produced err may be
// retried automatically.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable || e.Type == TypeTransientNetwork
	}
	return false
}

// RetryAfter returns the retry hint attached to err, or zero when it
// carries none.
func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// Convenience constructors for the common cases.

// Offline builds the no-connectivity-no-cache error.
func Offline(ref string) *Error {
	return New(TypeOffline, "no internet connection and no cached data available").
		WithResource(ref).
		Build()
}

// UnsupportedType builds the fail-fast programmer error.
func UnsupportedType(resourceType string) *Error {
	return New(TypeUnsupportedType, "unsupported resource type").
		WithDetails("%q has no registered route", resourceType).
		Build()
}

// Malformed builds a payload decode failure.
func Malformed(ref string, cause error) *Error {
	return New(TypeMalformedPayload, "cannot decode payload").
		WithResource(ref).
		WithCause(cause).
		Build()
}

// Transient builds a retryable transport failure.
func Transient(op string, cause error) *Error {
	return New(TypeTransientNetwork, "network request failed").
		WithOperation(op).
		WithCause(cause).
		Retryable(0).
		Build()
}

// Server builds a 4xx/5xx failure with the extracted message.
func Server(status int, message string) *Error {
	if message == "" {
		message = fmt.Sprintf("server returned status %d", status)
	}
	return New(TypeServerError, message).
		WithDetails("status %d", status).
		Build()
}
