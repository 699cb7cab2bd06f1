package providers

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoAPIKey marks an AuthError caused by the gateway's own configuration
// rather than an upstream rejection.
var ErrNoAPIKey = errors.New("no API key configured")

// ProviderError is a general upstream failure carrying the HTTP status the
// provider returned, if any.
type ProviderError struct {
	// Provider is the name of the provider that returned the error.
	Provider string

	// StatusCode is the HTTP status code (0 if not applicable).
	StatusCode int

	// Message is the error message.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %q error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %q error: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error for error chain support.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// AuthError is an authentication failure: either no key is configured
// locally or the provider rejected the key (HTTP 401/403).
type AuthError struct {
	// Provider is the provider the key belongs to.
	Provider string

	// Message describes the failure.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("provider %q authentication failed: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error for error chain support.
func (e *AuthError) Unwrap() error {
	return e.Cause
}

// TimeoutError means an upstream call exceeded its deadline.
type TimeoutError struct {
	// Provider is the provider the call targeted.
	Provider string

	// Elapsed is how long the call ran before the deadline expired.
	Elapsed time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider %q request timed out after %s", e.Provider, e.Elapsed.Round(time.Millisecond))
}

// StreamError is a failure while consuming an upstream SSE stream after the
// call was successfully established.
type StreamError struct {
	// Provider is the provider whose stream failed.
	Provider string

	// Message describes the failure.
	Message string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	return fmt.Sprintf("provider %q stream failed: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error for error chain support.
func (e *StreamError) Unwrap() error {
	return e.Cause
}
