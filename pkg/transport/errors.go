package transport

import (
	"errors"
	"fmt"
)

// Sentinel errors for the transport package.
var (
	// ErrNotConnected indicates the adapter has no live connection.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrAlreadyConnected indicates a connection is already open or opening.
	ErrAlreadyConnected = errors.New("transport: already connected")

	// ErrMissingURL indicates no backend URL was configured.
	ErrMissingURL = errors.New("transport: backend URL is required")

	// ErrMissingToken indicates Connect was called without a token.
	ErrMissingToken = errors.New("transport: token is required")

	// ErrSendFailed indicates writing a message failed.
	ErrSendFailed = errors.New("transport: send failed")

	// ErrHandshakeFailed indicates session negotiation was rejected.
	ErrHandshakeFailed = errors.New("transport: handshake failed")
)

// APIError is an error event reported by the voice backend.
type APIError struct {
	// Code is the error code from the backend.
	Code string

	// Message is the human-readable error message.
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("transport: backend error [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("transport: backend error: %s", e.Message)
}

// ConnectionError represents a failed or broken connection.
type ConnectionError struct {
	// Reason describes why the connection failed.
	Reason string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates if reconnection should be attempted.
	Retryable bool
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transport: connection error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("transport: connection error: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(reason string, cause error, retryable bool) *ConnectionError {
	return &ConnectionError{
		Reason:    reason,
		Cause:     cause,
		Retryable: retryable,
	}
}

// IsNotConnected returns true if the error indicates no connection.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

// IsRetryable returns true if reconnecting may help.
func IsRetryable(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.Retryable
	}
	return false
}
