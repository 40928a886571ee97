package authz

import (
	"errors"
	"fmt"
)

var (
	// ErrTokenFetchFailed indicates the token endpoint could not produce a
	// well-formed answer (network failure, bad status, malformed body).
	ErrTokenFetchFailed = errors.New("authz: token fetch failed")

	// ErrInvalidSessionID indicates an empty session id was supplied.
	ErrInvalidSessionID = errors.New("authz: session id is required")

	// ErrMissingEndpoint indicates the gateway has no token URL.
	ErrMissingEndpoint = errors.New("authz: token endpoint is required")
)

// APIError is a non-success HTTP answer from the token endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("authz: token endpoint returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("authz: token endpoint returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed on retry.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// fetchError tags err as a token fetch failure while keeping the cause.
func fetchError(format string, args ...any) error {
	return fmt.Errorf("%w: %w", ErrTokenFetchFailed, fmt.Errorf(format, args...))
}
