// Package util holds error types and HTTP helpers shared by the gateway
// packages.
//
// # Error Conventions
//
//   - Sentinel errors (errors.New) name stable conditions checked with
//     errors.Is, e.g. ErrCircuitOpen.
//   - Structured error types carry context (backend name, route, retry
//     hint). Each implements Error, Is and, when it wraps, Unwrap.
//   - Ad-hoc context is added with fmt.Errorf and %w.
//
// The exception translator classifies failures purely through errors.Is /
// errors.As against the values declared here, so new failure kinds must be
// added here before they can receive a dedicated client response.
package util

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors used for classification.
var (
	ErrNotFound       = errors.New("not found")
	ErrTimeout        = errors.New("timeout")
	ErrCircuitOpen    = errors.New("circuit breaker open")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrBackendUnavail = errors.New("backend unavailable")
	ErrConfigInvalid  = errors.New("invalid configuration")
)

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	Field   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error at %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a ConfigError or ErrConfigInvalid.
func (e *ConfigError) Is(target error) bool {
	if target == ErrConfigInvalid {
		return true
	}
	_, ok := target.(*ConfigError)
	return ok || errors.Is(e.Cause, target)
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// RouteNotFoundError is returned when no route matches a request.
type RouteNotFoundError struct {
	Method string
	Path   string
}

// Error implements the error interface.
func (e *RouteNotFoundError) Error() string {
	return fmt.Sprintf("no route found for %s %s", e.Method, e.Path)
}

// Is matches ErrNotFound and other RouteNotFoundError values.
func (e *RouteNotFoundError) Is(target error) bool {
	if target == ErrNotFound {
		return true
	}
	_, ok := target.(*RouteNotFoundError)
	return ok
}

// NewRouteNotFoundError creates a new RouteNotFoundError.
func NewRouteNotFoundError(method, path string) *RouteNotFoundError {
	return &RouteNotFoundError{Method: method, Path: path}
}

// BackendError means the gateway could not reach a backend at all
// (connection refused, DNS failure, reset before response).
type BackendError struct {
	Backend string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("backend %s error: %s: %v", e.Backend, e.Message, e.Cause)
	}
	return fmt.Sprintf("backend %s error: %s", e.Backend, e.Message)
}

// Unwrap returns the underlying error.
func (e *BackendError) Unwrap() error {
	return e.Cause
}

// Is matches ErrBackendUnavail.
func (e *BackendError) Is(target error) bool {
	if target == ErrBackendUnavail {
		return true
	}
	_, ok := target.(*BackendError)
	return ok
}

// NewBackendError creates a new BackendError.
func NewBackendError(backend, message string, cause error) *BackendError {
	return &BackendError{Backend: backend, Message: message, Cause: cause}
}

// TimeoutError means a downstream call exceeded its deadline.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
	Cause     error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %v during %s", e.Duration, e.Operation)
}

// Unwrap returns the underlying error.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// Is matches ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	if target == ErrTimeout {
		return true
	}
	_, ok := target.(*TimeoutError)
	return ok
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration, cause error) *TimeoutError {
	return &TimeoutError{Operation: operation, Duration: duration, Cause: cause}
}

// RateLimitError is returned when a request exceeds its rate budget.
type RateLimitError struct {
	Key        string
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Key, e.Limit, e.RetryAfter)
}

// Is matches ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	if target == ErrRateLimited {
		return true
	}
	_, ok := target.(*RateLimitError)
	return ok
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(key string, limit, remaining int, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{Key: key, Limit: limit, Remaining: remaining, RetryAfter: retryAfter}
}

// CircuitOpenError is returned when a breaker refuses a call.
type CircuitOpenError struct {
	Name  string
	State string
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is %s", e.Name, e.State)
}

// Is matches ErrCircuitOpen.
func (e *CircuitOpenError) Is(target error) bool {
	if target == ErrCircuitOpen {
		return true
	}
	_, ok := target.(*CircuitOpenError)
	return ok
}

// NewCircuitOpenError creates a new CircuitOpenError.
func NewCircuitOpenError(name, state string) *CircuitOpenError {
	return &CircuitOpenError{Name: name, State: state}
}

// StatusError carries an explicit HTTP status chosen by the code that
// raised it, e.g. a rejected method or an oversized body.
type StatusError struct {
	StatusCode int
	Reason     string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Reason)
}

// NewStatusError creates a new StatusError.
func NewStatusError(statusCode int, reason string) *StatusError {
	return &StatusError{StatusCode: statusCode, Reason: reason}
}

// ServerError marks a backend 5xx response so the circuit breaker can count
// it as a failure while the response itself is still relayed to the client.
type ServerError struct {
	StatusCode int
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: status %d", e.StatusCode)
}

// NewServerError creates a new ServerError.
func NewServerError(statusCode int) *ServerError {
	return &ServerError{StatusCode: statusCode}
}
