// Package apperr defines the internal error taxonomy shared by every
// service layer and the HTTP status/code mapping used to surface it.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies which bucket of the error taxonomy an error belongs to.
type Kind string

const (
	KindValidation Kind = "VALIDATION_ERROR"
	KindAuth       Kind = "UNAUTHORIZED"
	KindNotFound   Kind = "NOT_FOUND"
	KindConflict   Kind = "CONFLICT"
	KindQuota      Kind = "QUOTA_EXCEEDED"
	KindRateLimit  Kind = "RATE_LIMITED"
	KindNotRunning Kind = "NOT_RUNNING"
	KindNoContainer Kind = "NO_CONTAINER"
	KindMetricsUnavailable Kind = "METRICS_UNAVAILABLE"
	KindRuntimeUnavailable Kind = "RUNTIME_UNAVAILABLE"
	KindSandboxError Kind = "SANDBOX_ERROR"
	KindTimeout    Kind = "TIMEOUT"
	KindInternal   Kind = "INTERNAL_ERROR"
)

// Error is the internal error type carrying a Kind plus a user-facing message.
type Error struct {
	Kind    Kind
	Message string
	Details any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind, preserving cause for %w chains.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetails attaches structured details (e.g. field validation errors).
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

func Validation(message string) *Error { return New(KindValidation, message) }
func Auth(message string) *Error       { return New(KindAuth, message) }
func NotFound(message string) *Error   { return New(KindNotFound, message) }
func Conflict(message string) *Error   { return New(KindConflict, message) }
func Quota(message string) *Error      { return New(KindQuota, message) }
func RateLimited(message string) *Error { return New(KindRateLimit, message) }
func NotRunning(message string) *Error { return New(KindNotRunning, message) }
func NoContainer(message string) *Error { return New(KindNoContainer, message) }
func MetricsUnavailable(message string) *Error { return New(KindMetricsUnavailable, message) }
func RuntimeUnavailable(message string) *Error { return New(KindRuntimeUnavailable, message) }
func SandboxError(message string) *Error { return New(KindSandboxError, message) }
func Timeout(message string) *Error    { return New(KindTimeout, message) }
func Internal(message string) *Error   { return New(KindInternal, message) }

// As extracts an *Error from err, if present.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusCode maps a Kind to the HTTP status it surfaces as, per the
// external status mapping: validation->400; auth->401; not-found->404;
// conflict->409; quota/rate->429; others->500/503.
func StatusCode(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindQuota, KindRateLimit:
		return http.StatusTooManyRequests
	case KindRuntimeUnavailable, KindMetricsUnavailable, KindTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
