package session

import (
	"errors"
	"fmt"
)

// Failure kinds. They are surfaced to callers only through logs and
// metrics; the UI observes Status values.
var (
	// ErrTransportNotInitialized means no adapter is registered.
	ErrTransportNotInitialized = errors.New("session: transport not initialized")

	// ErrPermissionDenied means the microphone could not be acquired.
	ErrPermissionDenied = errors.New("session: microphone permission denied")

	// ErrTokenDenied means the gateway refused the session.
	ErrTokenDenied = errors.New("session: token denied")

	// ErrTokenFetchFailed means the gateway could not be reached or answered
	// with something unusable.
	ErrTokenFetchFailed = errors.New("session: token fetch failed")

	// ErrTransportConnectFailed means the adapter failed to connect or never
	// completed its handshake.
	ErrTransportConnectFailed = errors.New("session: transport connect failed")

	// ErrTransportDisconnectFailed means the adapter failed to disconnect.
	ErrTransportDisconnectFailed = errors.New("session: transport disconnect failed")

	// ErrTransportFailed means a live adapter reported an error or lost the
	// microphone.
	ErrTransportFailed = errors.New("session: transport error")

	// ErrSendFailed means a message or mute change could not be delivered.
	ErrSendFailed = errors.New("session: send failed")

	// ErrInvalidTransition means a status write violated the lifecycle.
	ErrInvalidTransition = errors.New("session: invalid status transition")

	// ErrInvalidConfig means StartSession was given an unusable Config.
	ErrInvalidConfig = errors.New("session: invalid config")
)

// Error describes a failed controller operation.
type Error struct {
	Op        string // "start", "end", "send_text", ...
	SessionID string
	Kind      error // one of the sentinels above
	Err       error // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := "session " + e.Op
	if e.SessionID != "" {
		msg += " [" + e.SessionID + "]"
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op, sessionID string, kind, cause error) *Error {
	return &Error{Op: op, SessionID: sessionID, Kind: kind, Err: cause}
}

// TransitionError reports a rejected status write.
type TransitionError struct {
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

var kinds = []struct {
	err   error
	label string
}{
	{ErrTransportNotInitialized, "transport_not_initialized"},
	{ErrPermissionDenied, "permission_denied"},
	{ErrTokenDenied, "token_denied"},
	{ErrTokenFetchFailed, "token_fetch_failed"},
	{ErrTransportConnectFailed, "transport_connect_failed"},
	{ErrTransportDisconnectFailed, "transport_disconnect_failed"},
	{ErrTransportFailed, "transport_error"},
	{ErrSendFailed, "send_failed"},
	{ErrInvalidTransition, "invalid_transition"},
	{ErrInvalidConfig, "invalid_config"},
}

// KindOf returns the label used in logs and metrics for err.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) && se.Kind != nil {
		err = se.Kind
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.label
		}
	}
	return "unknown"
}

// IsInvalidTransition reports whether err is a rejected status write.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
