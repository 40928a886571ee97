package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrMicrophoneBusy means another holder owns the microphone.
	ErrMicrophoneBusy = errors.New("session: microphone busy")

	// ErrMicrophoneBlocked means capture is not permitted.
	ErrMicrophoneBlocked = errors.New("session: microphone blocked")
)

// Microphone grants capture permission for one session.
type Microphone interface {
	Acquire(ctx context.Context) (Grant, error)
}

// Grant is a held microphone permission.
type Grant interface {
	// Release gives the microphone back. It is safe to call more than once.
	Release()
	// Revoked is closed when the permission is withdrawn while held.
	Revoked() <-chan struct{}
}

// MicrophoneFunc adapts a function to Microphone.
type MicrophoneFunc func(ctx context.Context) (Grant, error)

// Acquire implements Microphone.
func (f MicrophoneFunc) Acquire(ctx context.Context) (Grant, error) {
	return f(ctx)
}

// AlwaysGranted is a Microphone that never refuses.
var AlwaysGranted Microphone = MicrophoneFunc(func(context.Context) (Grant, error) {
	return NopGrant(), nil
})

type nopGrant struct{}

func (nopGrant) Release()                 {}
func (nopGrant) Revoked() <-chan struct{} { return nil }

// NopGrant returns a grant that is never revoked.
func NopGrant() Grant { return nopGrant{} }

// ExclusiveMicrophone hands the capture device to at most one holder at a
// time.
type ExclusiveMicrophone struct {
	mu      sync.Mutex
	blocked bool
	holder  *exclusiveGrant

	grants atomic.Int64
}

// NewExclusiveMicrophone creates an unblocked microphone.
func NewExclusiveMicrophone() *ExclusiveMicrophone {
	return &ExclusiveMicrophone{}
}

// Acquire implements Microphone.
func (m *ExclusiveMicrophone) Acquire(ctx context.Context) (Grant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.blocked {
		return nil, ErrMicrophoneBlocked
	}
	if m.holder != nil {
		return nil, ErrMicrophoneBusy
	}

	g := &exclusiveGrant{
		id:      m.grants.Add(1),
		owner:   m,
		revoked: make(chan struct{}),
	}
	m.holder = g
	return g, nil
}

// SetBlocked blocks or unblocks capture. Blocking revokes the current grant.
func (m *ExclusiveMicrophone) SetBlocked(blocked bool) {
	m.mu.Lock()
	m.blocked = blocked
	m.mu.Unlock()
	if blocked {
		m.Revoke()
	}
}

// Revoke withdraws the current grant, if any.
func (m *ExclusiveMicrophone) Revoke() {
	m.mu.Lock()
	g := m.holder
	m.holder = nil
	m.mu.Unlock()

	if g != nil {
		g.revoke()
	}
}

// Held reports whether a grant is outstanding.
func (m *ExclusiveMicrophone) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holder != nil
}

// GrantCount returns the number of grants handed out.
func (m *ExclusiveMicrophone) GrantCount() int64 {
	return m.grants.Load()
}

func (m *ExclusiveMicrophone) release(g *exclusiveGrant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holder == g {
		m.holder = nil
	}
}

type exclusiveGrant struct {
	id      int64
	owner   *ExclusiveMicrophone
	revoked chan struct{}
	once    sync.Once
}

func (g *exclusiveGrant) Release() {
	g.owner.release(g)
}

func (g *exclusiveGrant) Revoked() <-chan struct{} {
	return g.revoked
}

func (g *exclusiveGrant) revoke() {
	g.once.Do(func() { close(g.revoked) })
}
