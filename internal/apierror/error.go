package apierror

import (
	"fmt"
	"net/http"
)

// Error codes produced by the gateway.
const (
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeTokenExpired         = "TOKEN_EXPIRED"
	CodeTokenRevoked         = "TOKEN_REVOKED"
	CodeInvalidToken         = "INVALID_TOKEN"
	CodeAccessDenied         = "ACCESS_DENIED"
	CodeProfileRequired      = "PROFILE_REQUIRED"
	CodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	CodeCircuitBreakerOpen   = "CIRCUIT_BREAKER_OPEN"
	CodeGatewayTimeout       = "GATEWAY_TIMEOUT"
	CodeServiceUnavailable   = "SERVICE_UNAVAILABLE"
	CodeRouteNotFound        = "ROUTE_NOT_FOUND"
	CodeRequestError         = "REQUEST_ERROR"
	CodeInternalError        = "INTERNAL_ERROR"
	CodeBadRequest           = "BAD_REQUEST"
	CodeValidationFailed     = "VALIDATION_FAILED"
	CodeMethodNotAllowed     = "METHOD_NOT_ALLOWED"
	CodeNotFound             = "NOT_FOUND"
	CodeInvalidRequestFormat = "INVALID_REQUEST_FORMAT"
)

// Error is a failure that already knows its client response. Pipeline
// stages return it to short-circuit with a specific status and code.
type Error struct {
	Status  int
	Code    string
	Message string
	// Headers are added to the response, e.g. Retry-After.
	Headers http.Header
	Cause   error
}

// New creates an Error.
func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%d): %s: %v", e.Code, e.Status, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithCause returns a copy of e wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	c := *e
	c.Cause = cause
	return &c
}

// WithHeader returns a copy of e that also sets the response header key.
func (e *Error) WithHeader(key, value string) *Error {
	c := *e
	c.Headers = e.Headers.Clone()
	if c.Headers == nil {
		c.Headers = make(http.Header)
	}
	c.Headers.Set(key, value)
	return &c
}
