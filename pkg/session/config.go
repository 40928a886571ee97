package session

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/voicelink/pkg/transport"
)

// Config describes one session to start. It is copied into the attempt and
// never modified.
type Config struct {
	SessionID      string
	InitialContext string
}

// Validate reports whether the config can start a session.
func (c Config) Validate() error {
	if c.SessionID == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidConfig)
	}
	return nil
}

// ControllerConfig holds controller settings.
type ControllerConfig struct {
	// TokenTimeout bounds the authorization request.
	TokenTimeout time.Duration

	// ConnectTimeout bounds adapter.Connect.
	ConnectTimeout time.Duration

	// DisconnectTimeout bounds adapter.Disconnect.
	DisconnectTimeout time.Duration

	// HandshakeTimeout is how long to wait for OnConnect after Connect
	// returned. Zero disables the check.
	HandshakeTimeout time.Duration

	// Language is the initial transport language code ("" = auto).
	Language string

	// MicMuted is the initial microphone mute state.
	MicMuted bool

	// OnMessage receives telemetry from the current adapter.
	OnMessage func(transport.Message)

	Microphone Microphone
	Store      *Store
	Registry   *Registry
	Metrics    *Metrics
	Logger     *slog.Logger
}

// DefaultControllerConfig returns the default controller settings.
func DefaultControllerConfig() *ControllerConfig {
	return &ControllerConfig{
		TokenTimeout:      10 * time.Second,
		ConnectTimeout:    15 * time.Second,
		DisconnectTimeout: 5 * time.Second,
		HandshakeTimeout:  20 * time.Second,
		Microphone:        AlwaysGranted,
		Logger:            slog.Default(),
	}
}

// Apply applies options to the config.
func (c *ControllerConfig) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Option configures a Controller.
type Option func(*ControllerConfig)

// WithTokenTimeout sets the authorization timeout.
func WithTokenTimeout(d time.Duration) Option {
	return func(c *ControllerConfig) {
		c.TokenTimeout = d
	}
}

// WithConnectTimeout sets the connect timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *ControllerConfig) {
		c.ConnectTimeout = d
	}
}

// WithDisconnectTimeout sets the disconnect timeout.
func WithDisconnectTimeout(d time.Duration) Option {
	return func(c *ControllerConfig) {
		c.DisconnectTimeout = d
	}
}

// WithHandshakeTimeout sets how long to wait for OnConnect.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *ControllerConfig) {
		c.HandshakeTimeout = d
	}
}

// WithLanguage sets the initial transport language.
func WithLanguage(lang string) Option {
	return func(c *ControllerConfig) {
		c.Language = lang
	}
}

// WithMicMuted sets the initial mute state.
func WithMicMuted(muted bool) Option {
	return func(c *ControllerConfig) {
		c.MicMuted = muted
	}
}

// WithMicrophone sets the permission source.
func WithMicrophone(m Microphone) Option {
	return func(c *ControllerConfig) {
		c.Microphone = m
	}
}

// WithMessageHandler forwards adapter messages to fn.
func WithMessageHandler(fn func(transport.Message)) Option {
	return func(c *ControllerConfig) {
		c.OnMessage = fn
	}
}

// WithStore shares an existing status store.
func WithStore(s *Store) Option {
	return func(c *ControllerConfig) {
		c.Store = s
	}
}

// WithRegistry shares an existing registry.
func WithRegistry(r *Registry) Option {
	return func(c *ControllerConfig) {
		c.Registry = r
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *ControllerConfig) {
		c.Metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *ControllerConfig) {
		c.Logger = logger
	}
}
