package session

import (
	"sync"
	"time"
)

// Status summarizes the session lifecycle as observed by the UI.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

func (s Status) String() string { return string(s) }

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusConnecting, StatusConnected, StatusDisconnected, StatusError:
		return true
	}
	return false
}

// Active reports whether a session is being established or is live.
func (s Status) Active() bool {
	return s == StatusConnecting || s == StatusConnected
}

// CanTransition reports whether a write of to is legal while at from.
// Same-state writes are always accepted as no-ops.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch to {
	case StatusConnecting:
		return from == StatusIdle || from == StatusDisconnected || from == StatusError
	case StatusConnected:
		return from == StatusConnecting
	case StatusDisconnected:
		return from == StatusConnecting || from == StatusConnected || from == StatusError
	case StatusError:
		return true
	}
	return false
}

// Change is delivered to subscribers for every accepted transition.
type Change struct {
	From Status    `json:"from"`
	To   Status    `json:"to"`
	Seq  uint64    `json:"seq"`
	At   time.Time `json:"at"`
}

// Store holds the process-wide session status.
//
// Writes are serialized; subscribers see changes in write order and are
// called without the store lock held, so they may read the store or write
// to it again.
type Store struct {
	mu      sync.Mutex
	value   Status
	seq     uint64
	subs    map[int]func(Change)
	nextSub int

	pending  []Change
	draining bool
}

// NewStore creates a store at StatusIdle.
func NewStore() *Store {
	return &Store{
		value: StatusIdle,
		subs:  make(map[int]func(Change)),
	}
}

// Get returns the current status.
func (s *Store) Get() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Set moves the store to status. Writes of the current value are no-ops.
// Illegal transitions leave the value unchanged and return a
// *TransitionError.
func (s *Store) Set(status Status) error {
	if err := s.write(status); err != nil {
		return err
	}
	s.drain()
	return nil
}

// write applies status and queues the change without notifying.
func (s *Store) write(status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.value
	if !status.Valid() || !CanTransition(from, status) {
		return &TransitionError{From: from, To: status}
	}
	if from == status {
		return nil
	}
	s.value = status
	s.seq++
	s.pending = append(s.pending, Change{From: from, To: status, Seq: s.seq, At: time.Now()})
	return nil
}

// Subscribe registers fn for every accepted change. The returned function
// removes the subscription.
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// drain delivers queued changes. Only one goroutine drains at a time;
// writes that arrive meanwhile are delivered by the active drainer.
func (s *Store) drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true

	for len(s.pending) > 0 {
		c := s.pending[0]
		s.pending = s.pending[1:]
		subs := make([]func(Change), 0, len(s.subs))
		for _, fn := range s.subs {
			subs = append(subs, fn)
		}
		s.mu.Unlock()

		for _, fn := range subs {
			fn(c)
		}

		s.mu.Lock()
	}

	s.draining = false
	s.mu.Unlock()
}
