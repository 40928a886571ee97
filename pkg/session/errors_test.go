package session

import (
	"errors"
	"testing"
)

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := newError("start", "s1", ErrTokenFetchFailed, cause)

	if !errors.Is(err, ErrTokenFetchFailed) {
		t.Error("kind not matched")
	}
	if !errors.Is(err, cause) {
		t.Error("cause not matched")
	}
	if want := "session start [s1]: session: token fetch failed: dial tcp: refused"; err.Error() != want {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrPermissionDenied, "permission_denied"},
		{newError("end", "", ErrTransportDisconnectFailed, errors.New("x")), "transport_disconnect_failed"},
		{&TransitionError{From: StatusIdle, To: StatusConnected}, "invalid_transition"},
		{errors.New("other"), "unknown"},
	}

	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
