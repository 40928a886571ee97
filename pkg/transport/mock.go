package transport

import (
	"context"
	"sync"
)

// Mock is a scriptable Adapter for tests.
type Mock struct {
	callbacks

	mu sync.RWMutex

	// State
	connected bool
	muted     bool

	// Configurable behavior
	ConnectFunc              func(ctx context.Context, p ConnectParams) error
	DisconnectFunc           func(ctx context.Context) error
	SendTextFunc             func(text string) error
	SendContextualUpdateFunc func(text string) error
	SetMicMutedFunc          func(muted bool) error

	// AutoConnect fires OnConnect right after a successful Connect.
	AutoConnect bool

	// Captured calls for assertions
	ConnectCalls    []ConnectParams
	DisconnectCalls int
	TextsSent       []string
	ContextualSent  []string
	MuteCalls       []bool
}

// NewMock creates a new Mock adapter.
func NewMock() *Mock {
	return &Mock{}
}

// Name implements Adapter.
func (m *Mock) Name() string { return "mock" }

// Connect implements Adapter.
func (m *Mock) Connect(ctx context.Context, p ConnectParams) error {
	m.mu.Lock()
	m.ConnectCalls = append(m.ConnectCalls, p)
	fn := m.ConnectFunc
	m.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, p); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.connected = true
	auto := m.AutoConnect
	m.mu.Unlock()

	if auto {
		m.emitConnect()
	}
	return nil
}

// Disconnect implements Adapter.
func (m *Mock) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.DisconnectCalls++
	fn := m.DisconnectFunc
	m.mu.Unlock()

	if fn != nil {
		if err := fn(ctx); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

// SendText implements Adapter.
func (m *Mock) SendText(text string) error {
	m.mu.RLock()
	fn := m.SendTextFunc
	m.mu.RUnlock()

	if fn != nil {
		return fn(text)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.TextsSent = append(m.TextsSent, text)
	return nil
}

// SendContextualUpdate implements Adapter.
func (m *Mock) SendContextualUpdate(text string) error {
	m.mu.RLock()
	fn := m.SendContextualUpdateFunc
	m.mu.RUnlock()

	if fn != nil {
		return fn(text)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.ContextualSent = append(m.ContextualSent, text)
	return nil
}

// SetMicMuted implements Adapter.
func (m *Mock) SetMicMuted(muted bool) error {
	m.mu.Lock()
	m.MuteCalls = append(m.MuteCalls, muted)
	fn := m.SetMicMutedFunc
	m.mu.Unlock()

	if fn != nil {
		if err := fn(muted); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.muted = muted
	m.mu.Unlock()
	return nil
}

// IsConnected reports whether Connect succeeded without a later Disconnect.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Muted returns the last mute value applied.
func (m *Mock) Muted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.muted
}

// ConnectCount returns the number of Connect calls.
func (m *Mock) ConnectCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ConnectCalls)
}

// LastConnect returns the parameters of the latest Connect call.
func (m *Mock) LastConnect() (ConnectParams, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.ConnectCalls) == 0 {
		return ConnectParams{}, false
	}
	return m.ConnectCalls[len(m.ConnectCalls)-1], true
}

// DisconnectCount returns the number of Disconnect calls.
func (m *Mock) DisconnectCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.DisconnectCalls
}

// Texts returns a copy of the texts sent.
func (m *Mock) Texts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.TextsSent...)
}

// ContextualUpdates returns a copy of the contextual updates sent.
func (m *Mock) ContextualUpdates() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.ContextualSent...)
}

// Mutes returns a copy of the mute values applied.
func (m *Mock) Mutes() []bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]bool(nil), m.MuteCalls...)
}

// Reset clears captured calls and state.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.muted = false
	m.ConnectCalls = nil
	m.DisconnectCalls = 0
	m.TextsSent = nil
	m.ContextualSent = nil
	m.MuteCalls = nil
}

// FailSends makes SendText and SendContextualUpdate return err. A nil err
// restores the default behavior. Safe to call while sends are in flight.
func (m *Mock) FailSends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		m.SendTextFunc = nil
		m.SendContextualUpdateFunc = nil
		return
	}
	m.SendTextFunc = func(string) error { return err }
	m.SendContextualUpdateFunc = func(string) error { return err }
}

// Simulation methods for testing

// SimulateConnect fires OnConnect.
func (m *Mock) SimulateConnect() {
	m.emitConnect()
}

// SimulateDisconnect fires OnDisconnect.
func (m *Mock) SimulateDisconnect() {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	m.emitDisconnect()
}

// SimulateError fires OnError.
func (m *Mock) SimulateError(err error) {
	m.emitError(err)
}

// SimulateMessage fires OnMessage.
func (m *Mock) SimulateMessage(msg Message) {
	m.emitMessage(msg)
}

// SimulateAudio fires OnAudio.
func (m *Mock) SimulateAudio(audio []byte) {
	m.emitAudio(audio)
}

// Ensure Mock implements Adapter.
var _ Adapter = (*Mock)(nil)
