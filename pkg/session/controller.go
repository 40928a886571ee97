package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/voicelink/pkg/authz"
	"github.com/teslashibe/voicelink/pkg/transport"
)

var (
	errHandshakeTimeout = errors.New("no connect event before handshake timeout")
	errGrantRevoked     = errors.New("microphone grant revoked")
)

// Controller drives the voice session lifecycle for the current adapter.
//
// Every method may be called from any goroutine at any time. Failures are
// logged and counted; callers observe outcomes through Status.
type Controller struct {
	config   *ControllerConfig
	gateway  authz.Gateway
	registry *Registry
	store    *Store
	metrics  *Metrics
	logger   *slog.Logger

	mu       sync.Mutex
	attempt  *attempt
	micMuted bool
	language string
}

// attempt is the bookkeeping for one StartSession call, kept until the
// session it produced ends.
type attempt struct {
	id         string
	cfg        Config
	adapter    transport.Adapter
	generation uint64
	started    time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	grant     Grant
	handshake *time.Timer
	done      chan struct{}

	connected bool
	ending    bool
	finished  bool
}

// Info is a point-in-time view of the controller.
type Info struct {
	Status    Status `json:"status"`
	SessionID string `json:"sessionId,omitempty"`
	AttemptID string `json:"attemptId,omitempty"`
	Adapter   string `json:"adapter,omitempty"`
	MicMuted  bool   `json:"micMuted"`
	Language  string `json:"language,omitempty"`
}

// NewController creates a controller that authorizes sessions through
// gateway.
func NewController(gateway authz.Gateway, opts ...Option) *Controller {
	cfg := DefaultControllerConfig()
	cfg.Apply(opts...)

	if cfg.Store == nil {
		cfg.Store = NewStore()
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Microphone == nil {
		cfg.Microphone = AlwaysGranted
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Controller{
		config:   cfg,
		gateway:  gateway,
		registry: cfg.Registry,
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.With("component", "session.controller"),
		micMuted: cfg.MicMuted,
		language: cfg.Language,
	}

	if c.metrics != nil {
		c.store.Subscribe(c.metrics.RecordTransition)
	}
	return c
}

// Store returns the status store.
func (c *Controller) Store() *Store { return c.store }

// Registry returns the adapter registry.
func (c *Controller) Registry() *Registry { return c.registry }

// Status returns the current session status.
func (c *Controller) Status() Status { return c.store.Get() }

// Subscribe registers fn for status changes.
func (c *Controller) Subscribe(fn func(Change)) (cancel func()) {
	return c.store.Subscribe(fn)
}

// Info returns a snapshot of the controller state.
func (c *Controller) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := Info{
		Status:   c.store.Get(),
		MicMuted: c.micMuted,
		Language: c.language,
	}
	if a, ok := c.registry.Current(); ok {
		info.Adapter = a.Name()
	}
	if at := c.attempt; at != nil && !at.ending {
		info.SessionID = at.cfg.SessionID
		info.AttemptID = at.id
	}
	return info
}

// Register makes a the current adapter and routes its callbacks to the
// controller. An attempt owned by the adapter it replaces is abandoned.
func (c *Controller) Register(a transport.Adapter) {
	if a == nil {
		return
	}

	a.OnConnect(func() { c.handleConnect(a) })
	a.OnDisconnect(func() { c.handleDisconnect(a) })
	a.OnError(func(err error) { c.handleError(a, err) })
	a.OnMessage(func(msg transport.Message) { c.handleMessage(a, msg) })

	prev := c.registry.Register(a)
	c.logger.Info("adapter registered", "adapter", a.Name(), "generation", c.registry.Generation())

	if prev == nil || sameAdapter(prev, a) {
		return
	}

	c.mu.Lock()
	if at := c.attempt; at != nil && sameAdapter(at.adapter, prev) {
		c.logger.Warn("abandoning session of superseded adapter",
			"adapter", prev.Name(), "session_id", at.cfg.SessionID, "attempt", at.id)
		c.abandonLocked(at)
	}
	c.unlockAndNotify()
}

// Unregister removes a if it is still the current adapter.
func (c *Controller) Unregister(a transport.Adapter) {
	if a == nil || !c.registry.UnregisterIfCurrent(a) {
		return
	}
	c.logger.Info("adapter unregistered", "adapter", a.Name())

	c.mu.Lock()
	if at := c.attempt; at != nil && sameAdapter(at.adapter, a) {
		c.abandonLocked(at)
	}
	c.unlockAndNotify()
}

// StartSession authorizes and connects a session on the current adapter.
// It returns once the adapter's Connect has returned; the connected status
// is only set by the adapter's connect callback.
func (c *Controller) StartSession(ctx context.Context, cfg Config) {
	if err := cfg.Validate(); err != nil {
		c.report(newError("start", cfg.SessionID, ErrInvalidConfig, err))
		return
	}

	adapter, ok := c.registry.Current()
	if !ok {
		c.report(newError("start", cfg.SessionID, ErrTransportNotInitialized, nil))
		return
	}

	at, ok := c.begin(ctx, cfg, adapter)
	if !ok {
		return
	}
	defer at.cancel()

	log := c.logger.With("session_id", cfg.SessionID, "attempt", at.id, "adapter", adapter.Name())
	log.Info("starting session")

	// Cancelled when the attempt is abandoned.
	actx := at.ctx

	grant, err := c.config.Microphone.Acquire(actx)
	if err != nil {
		c.fail(at, ErrPermissionDenied, err)
		return
	}
	if !c.bindGrant(at, grant) {
		log.Info("session start abandoned before authorization")
		return
	}

	tctx, cancel := withTimeout(actx, c.config.TokenTimeout)
	token, err := c.gateway.RequestToken(tctx, cfg.SessionID)
	cancel()
	if err != nil {
		c.fail(at, ErrTokenFetchFailed, err)
		return
	}
	if !token.Allowed {
		c.fail(at, ErrTokenDenied, errors.New(denialReason(token)))
		return
	}

	c.mu.Lock()
	if c.staleLocked(at) {
		c.dropLocked(at)
		c.unlockAndNotify()
		log.Info("session start abandoned after authorization")
		return
	}
	params := transport.ConnectParams{
		Token:          token.Token,
		SessionID:      cfg.SessionID,
		InitialContext: cfg.InitialContext,
		Language:       c.language,
	}
	c.mu.Unlock()

	cctx, cancel := withTimeout(actx, c.config.ConnectTimeout)
	err = adapter.Connect(cctx, params)
	cancel()
	if err != nil {
		c.fail(at, ErrTransportConnectFailed, err)
		return
	}

	c.mu.Lock()
	if c.staleLocked(at) {
		c.dropLocked(at)
		c.unlockAndNotify()
		log.Info("session start abandoned after connect")
		return
	}
	muted := c.micMuted
	if !at.connected && c.config.HandshakeTimeout > 0 {
		at.handshake = time.AfterFunc(c.config.HandshakeTimeout, func() {
			c.handshakeExpired(at)
		})
	}
	c.mu.Unlock()

	if err := adapter.SetMicMuted(muted); err != nil {
		c.report(newError("set_mic_muted", cfg.SessionID, ErrSendFailed, err))
	}
	log.Debug("adapter connect returned", "mic_muted", muted)
}

// begin applies the in-flight guard and records a new attempt in the
// connecting state.
func (c *Controller) begin(ctx context.Context, cfg Config, adapter transport.Adapter) (*attempt, bool) {
	c.mu.Lock()

	if prev := c.attempt; prev != nil {
		if sameAdapter(prev.adapter, adapter) && !prev.ending && c.store.Get().Active() {
			c.mu.Unlock()
			c.logger.Info("session already in progress, ignoring start",
				"session_id", cfg.SessionID, "active_session_id", prev.cfg.SessionID)
			return nil, false
		}
		c.finishLocked(prev)
	}

	actx, cancel := context.WithCancel(ctx)
	at := &attempt{
		id:         uuid.NewString(),
		cfg:        cfg,
		adapter:    adapter,
		generation: c.registry.Generation(),
		started:    time.Now(),
		ctx:        actx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	if err := c.setLocked(StatusConnecting); err != nil {
		c.mu.Unlock()
		cancel()
		return nil, false
	}
	c.attempt = at
	c.unlockAndNotify()
	return at, true
}

// bindGrant attaches the microphone grant to at, or releases it when the
// attempt is already gone.
func (c *Controller) bindGrant(at *attempt, g Grant) bool {
	c.mu.Lock()
	if c.staleLocked(at) {
		g.Release()
		c.dropLocked(at)
		c.unlockAndNotify()
		return false
	}
	at.grant = g
	go c.watchGrant(at, g)
	c.mu.Unlock()
	return true
}

func (c *Controller) watchGrant(at *attempt, g Grant) {
	select {
	case <-g.Revoked():
		c.mu.Lock()
		if c.attempt != at || at.finished {
			c.mu.Unlock()
			return
		}
		c.failLocked(at, "transport", ErrTransportFailed, errGrantRevoked)
		c.unlockAndNotify()
	case <-at.done:
	}
}

func (c *Controller) handshakeExpired(at *attempt) {
	c.mu.Lock()
	if at.connected {
		c.mu.Unlock()
		return
	}
	if c.staleLocked(at) {
		c.dropLocked(at)
		c.unlockAndNotify()
		return
	}
	c.failLocked(at, "start", ErrTransportConnectFailed,
		fmt.Errorf("%w after %s", errHandshakeTimeout, c.config.HandshakeTimeout))
	c.unlockAndNotify()
}

// EndSession disconnects the current adapter. On success the status
// becomes disconnected. On failure a connected session is left as is so
// EndSession can be retried; a start still in progress ends in error.
func (c *Controller) EndSession(ctx context.Context) {
	adapter, ok := c.registry.Current()
	if !ok {
		c.logger.Debug("end session without adapter")
		return
	}

	c.mu.Lock()
	at := c.attempt
	sessionID := ""
	if at != nil {
		sessionID = at.cfg.SessionID
		at.ending = true
		at.cancel()
		stopTimer(at)
	}
	c.mu.Unlock()

	dctx, cancel := withTimeout(ctx, c.config.DisconnectTimeout)
	err := adapter.Disconnect(dctx)
	cancel()

	if err != nil {
		c.report(newError("end", sessionID, ErrTransportDisconnectFailed, err))
		c.mu.Lock()
		if at != nil && c.attempt == at && !at.finished {
			at.ending = false
			if !at.connected {
				// The start was cancelled above and cannot complete.
				c.finishLocked(at)
				_ = c.setLocked(StatusError)
			}
		}
		c.unlockAndNotify()
		return
	}

	c.mu.Lock()
	if c.attempt != nil && c.attempt != at {
		// A newer session started while this one was disconnecting.
		c.mu.Unlock()
		return
	}
	if at != nil {
		c.finishLocked(at)
	}
	if c.store.Get() != StatusIdle {
		_ = c.setLocked(StatusDisconnected)
	}
	c.unlockAndNotify()
	c.logger.Info("session ended", "session_id", sessionID, "adapter", adapter.Name())
}

// SendTextMessage sends a user message through the current adapter.
func (c *Controller) SendTextMessage(text string) {
	adapter, ok := c.registry.Current()
	if !ok {
		c.report(newError("send_text", "", ErrSendFailed, ErrTransportNotInitialized))
		return
	}
	if err := adapter.SendText(text); err != nil {
		c.report(newError("send_text", c.sessionID(), ErrSendFailed, err))
	}
}

// SendContextualUpdate sends background context through the current
// adapter.
func (c *Controller) SendContextualUpdate(text string) {
	adapter, ok := c.registry.Current()
	if !ok {
		c.report(newError("send_context", "", ErrSendFailed, ErrTransportNotInitialized))
		return
	}
	if err := adapter.SendContextualUpdate(text); err != nil {
		c.report(newError("send_context", c.sessionID(), ErrSendFailed, err))
	}
}

// SetMicMuted remembers the mute state and applies it to the current
// adapter. The state is re-applied after every successful connect.
func (c *Controller) SetMicMuted(muted bool) {
	c.mu.Lock()
	c.micMuted = muted
	c.mu.Unlock()

	adapter, ok := c.registry.Current()
	if !ok {
		c.report(newError("set_mic_muted", "", ErrSendFailed, ErrTransportNotInitialized))
		return
	}
	if err := adapter.SetMicMuted(muted); err != nil {
		c.report(newError("set_mic_muted", c.sessionID(), ErrSendFailed, err))
	}
}

// MicMuted returns the remembered mute state.
func (c *Controller) MicMuted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.micMuted
}

// SetLanguage sets the language used by the next connect.
func (c *Controller) SetLanguage(lang string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.language = lang
}

// Language returns the language used by the next connect.
func (c *Controller) Language() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.language
}

func (c *Controller) handleConnect(a transport.Adapter) {
	c.mu.Lock()
	if !c.registry.IsCurrent(a) {
		c.mu.Unlock()
		c.logger.Debug("ignoring connect from superseded adapter", "adapter", a.Name())
		return
	}

	at := c.attempt
	if at != nil && sameAdapter(at.adapter, a) && !at.ending {
		at.connected = true
		stopTimer(at)
		if c.metrics != nil {
			c.metrics.RecordStart(time.Since(at.started))
		}
	}
	_ = c.setLocked(StatusConnected)
	c.unlockAndNotify()
}

func (c *Controller) handleDisconnect(a transport.Adapter) {
	c.mu.Lock()
	if !c.registry.IsCurrent(a) {
		c.mu.Unlock()
		c.logger.Debug("ignoring disconnect from superseded adapter", "adapter", a.Name())
		return
	}

	if at := c.attempt; at != nil && sameAdapter(at.adapter, a) {
		c.finishLocked(at)
	}
	_ = c.setLocked(StatusDisconnected)
	c.unlockAndNotify()
}

func (c *Controller) handleError(a transport.Adapter, err error) {
	c.mu.Lock()
	if !c.registry.IsCurrent(a) {
		c.mu.Unlock()
		c.logger.Debug("ignoring error from superseded adapter", "adapter", a.Name(), "error", err)
		return
	}

	if at := c.attempt; at != nil && sameAdapter(at.adapter, a) {
		c.failLocked(at, "transport", ErrTransportFailed, err)
	} else {
		c.report(newError("transport", "", ErrTransportFailed, err))
		_ = c.setLocked(StatusError)
	}
	c.unlockAndNotify()
}

func (c *Controller) handleMessage(a transport.Adapter, msg transport.Message) {
	if !c.registry.IsCurrent(a) {
		return
	}
	c.logger.Debug("transport message", "type", msg.Type, "source", msg.Source, "text", msg.Text)
	if fn := c.config.OnMessage; fn != nil {
		fn(msg)
	}
}

// fail ends at with an error status unless it was abandoned meanwhile.
func (c *Controller) fail(at *attempt, kind, cause error) {
	c.mu.Lock()
	if c.staleLocked(at) {
		c.dropLocked(at)
		c.unlockAndNotify()
		c.logger.Info("abandoned session start failed", "session_id", at.cfg.SessionID,
			"attempt", at.id, "error", cause)
		return
	}
	c.failLocked(at, "start", kind, cause)
	c.unlockAndNotify()
}

func (c *Controller) failLocked(at *attempt, op string, kind, cause error) {
	err := newError(op, at.cfg.SessionID, kind, cause)
	c.logger.Error("session failed", "kind", KindOf(err), "attempt", at.id, "error", err)
	if c.metrics != nil {
		c.metrics.RecordFailure(op, err)
	}
	c.finishLocked(at)
	_ = c.setLocked(StatusError)
}

// abandonLocked drops at and moves the status to disconnected when legal.
func (c *Controller) abandonLocked(at *attempt) {
	c.finishLocked(at)
	if st := c.store.Get(); st != StatusIdle && CanTransition(st, StatusDisconnected) {
		_ = c.setLocked(StatusDisconnected)
	}
}

// finishLocked releases everything at holds and clears it if current.
func (c *Controller) finishLocked(at *attempt) {
	if !at.finished {
		at.finished = true
		at.cancel()
		stopTimer(at)
		close(at.done)
		if at.grant != nil {
			at.grant.Release()
		}
	}
	if c.attempt == at {
		c.attempt = nil
	}
}

// dropLocked cleans up a stale attempt. An ending attempt is left to
// EndSession; one that is still current is abandoned so the status leaves
// connecting.
func (c *Controller) dropLocked(at *attempt) {
	switch {
	case at.ending:
	case c.attempt == at:
		c.abandonLocked(at)
	default:
		c.finishLocked(at)
	}
}

func (c *Controller) staleLocked(at *attempt) bool {
	return c.attempt != at || at.ending || at.finished ||
		c.registry.Generation() != at.generation
}

// setLocked writes the store; subscribers run in unlockAndNotify.
func (c *Controller) setLocked(status Status) error {
	err := c.store.write(status)
	if err != nil {
		c.logger.Warn("rejected status transition", "error", err)
	}
	return err
}

func (c *Controller) unlockAndNotify() {
	c.mu.Unlock()
	c.store.drain()
}

func (c *Controller) report(err *Error) {
	switch err.Kind {
	case ErrSendFailed, ErrInvalidConfig:
		c.logger.Warn("session operation failed", "op", err.Op, "kind", KindOf(err), "error", err)
	default:
		c.logger.Error("session operation failed", "op", err.Op, "kind", KindOf(err), "error", err)
	}
	if c.metrics != nil {
		c.metrics.RecordFailure(err.Op, err)
	}
}

func (c *Controller) sessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt == nil {
		return ""
	}
	return c.attempt.cfg.SessionID
}

func stopTimer(at *attempt) {
	if at.handshake != nil {
		at.handshake.Stop()
		at.handshake = nil
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func denialReason(t authz.Token) string {
	if t.Error != "" {
		return t.Error
	}
	return "denied"
}
