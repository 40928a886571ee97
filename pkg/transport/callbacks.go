package transport

import "sync"

// callbacks holds the lifecycle hooks shared by every adapter variant.
type callbacks struct {
	cbMu         sync.RWMutex
	onConnect    func()
	onDisconnect func()
	onError      func(err error)
	onMessage    func(msg Message)
	onAudio      func(audio []byte)
}

// OnConnect sets the connect callback.
func (c *callbacks) OnConnect(fn func()) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onConnect = fn
}

// OnDisconnect sets the disconnect callback.
func (c *callbacks) OnDisconnect(fn func()) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onDisconnect = fn
}

// OnError sets the error callback.
func (c *callbacks) OnError(fn func(err error)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onError = fn
}

// OnMessage sets the inbound event callback.
func (c *callbacks) OnMessage(fn func(msg Message)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onMessage = fn
}

// OnAudio sets the callback for agent audio.
func (c *callbacks) OnAudio(fn func(audio []byte)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onAudio = fn
}

// Emit helpers

func (c *callbacks) emitConnect() {
	c.cbMu.RLock()
	fn := c.onConnect
	c.cbMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *callbacks) emitDisconnect() {
	c.cbMu.RLock()
	fn := c.onDisconnect
	c.cbMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *callbacks) emitError(err error) {
	c.cbMu.RLock()
	fn := c.onError
	c.cbMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (c *callbacks) emitMessage(msg Message) {
	c.cbMu.RLock()
	fn := c.onMessage
	c.cbMu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}

func (c *callbacks) emitAudio(audio []byte) {
	c.cbMu.RLock()
	fn := c.onAudio
	c.cbMu.RUnlock()
	if fn != nil {
		fn(audio)
	}
}
