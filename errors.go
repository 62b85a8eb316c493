package tangguh

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// ErrorCode is the normalized classification of a failed call. The set is
// closed: every transport outcome maps onto exactly one of these codes so
// callers can branch on kind instead of raw status codes.
type ErrorCode string

const (
	CodeValidation   ErrorCode = "validation"
	CodeNotFound     ErrorCode = "not-found"
	CodeUnauthorized ErrorCode = "unauthorized"
	CodeForbidden    ErrorCode = "forbidden"
	CodeConflict     ErrorCode = "conflict"
	CodeRateLimited  ErrorCode = "rate-limited"
	CodeCircuitOpen  ErrorCode = "circuit-open"
	CodeTimeout      ErrorCode = "timeout"
	CodeNetworkError ErrorCode = "network-error"
	CodeInternal     ErrorCode = "internal-error"
)

// Sentinel errors for common failure scenarios.
var (
	// ErrCircuitOpen is returned when the circuit breaker rejects a call.
	ErrCircuitOpen = errors.New("tangguh: circuit open")

	// ErrRateLimited is returned when the local rate limiter denies a call.
	ErrRateLimited = errors.New("tangguh: rate limited")

	// ErrQueueFull is returned by Enqueue when the offline queue is at capacity.
	ErrQueueFull = errors.New("tangguh: offline queue full")

	// ErrMissingToken is returned when an authenticated call has no bearer token.
	ErrMissingToken = errors.New("tangguh: missing bearer token")
)

// CallError is the structured error attached to a failed Result. Code is
// always set; the remaining fields carry whatever diagnostic context the
// failing layer had available.
type CallError struct {
	Code          ErrorCode
	Message       string
	Status        int
	Details       json.RawMessage
	Endpoint      string
	Method        string
	Attempt       int
	CorrelationID string
	// Cooldown is the remaining breaker cooldown, set on circuit-open errors.
	Cooldown time.Duration
	// RetryAfter is a server-provided retry hint, set when the response
	// carried a usable Retry-After header.
	RetryAfter time.Duration
	Cause      error
}

// Error implements the error interface.
func (e *CallError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Endpoint != "" {
		msg = fmt.Sprintf("%s [%s %s]", msg, e.Method, e.Endpoint)
	}
	if e.CorrelationID != "" {
		msg = fmt.Sprintf("%s (correlation %s)", msg, e.CorrelationID)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *CallError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches another *CallError by code, and the package sentinel errors for
// the codes that have one.
func (e *CallError) Is(target error) bool {
	if e == nil {
		return false
	}
	if other, ok := target.(*CallError); ok {
		return e.Code == other.Code
	}
	switch target {
	case ErrCircuitOpen:
		return e.Code == CodeCircuitOpen
	case ErrRateLimited:
		return e.Code == CodeRateLimited
	case ErrMissingToken:
		return e.Code == CodeUnauthorized
	}
	return false
}

// Terminal reports whether the error is permanent: it is never retried by the
// retry executor and never kept in the offline queue.
func (e *CallError) Terminal() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case CodeValidation, CodeNotFound, CodeUnauthorized, CodeForbidden, CodeConflict:
		return true
	case CodeCircuitOpen:
		// Terminal for the current call; the breaker cooldown decides when
		// the endpoint is probed again.
		return true
	}
	return false
}

// Retryable reports whether the error represents a transient condition worth
// retrying. Circuit-open is deliberately excluded: it is a fast-fail, not a
// signal that the endpoint recovered.
func (e *CallError) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case CodeRateLimited, CodeTimeout, CodeNetworkError, CodeInternal:
		return true
	}
	return false
}

// codeFromStatus maps an HTTP status onto the closed error-code set.
func codeFromStatus(status int) ErrorCode {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return CodeValidation
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusTooManyRequests:
		return CodeRateLimited
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return CodeTimeout
	}
	return CodeInternal
}

// normalizeCode prefers the wire error code when it belongs to the closed
// set, falling back to the HTTP status mapping otherwise.
func normalizeCode(wire string, status int) ErrorCode {
	switch ErrorCode(wire) {
	case CodeValidation, CodeNotFound, CodeUnauthorized, CodeForbidden,
		CodeConflict, CodeRateLimited, CodeTimeout, CodeNetworkError, CodeInternal:
		return ErrorCode(wire)
	}
	return codeFromStatus(status)
}
