package transport

import (
	"log/slog"
	"net/http"
	"time"
)

// Config holds configuration for the bundled adapters.
type Config struct {
	// URL is the websocket endpoint (WebSocket) or the SDP signaling
	// endpoint (WebRTC).
	URL string

	// TokenParam is the query parameter carrying the session token on the
	// websocket URL. The token is also sent as a bearer header.
	TokenParam string

	// Timeout bounds the dial / negotiation phase of Connect.
	Timeout time.Duration

	// ReadTimeout is the idle timeout for inbound messages.
	ReadTimeout time.Duration

	// WriteTimeout bounds a single outbound write.
	WriteTimeout time.Duration

	// ICEServers lists STUN/TURN URLs for the WebRTC variant.
	ICEServers []string

	// AudioInput delivers outbound microphone frames. WebSocket expects
	// PCM16 chunks, WebRTC expects encoded Opus frames.
	AudioInput <-chan []byte

	// FrameDuration is the duration of one WebRTC audio frame.
	FrameDuration time.Duration

	// HTTPClient is used for WebRTC signaling.
	HTTPClient *http.Client

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		TokenParam:    "token",
		Timeout:       15 * time.Second,
		ReadTimeout:   5 * time.Minute,
		WriteTimeout:  10 * time.Second,
		ICEServers:    []string{"stun:stun.l.google.com:19302"},
		FrameDuration: 20 * time.Millisecond,
		Logger:        slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration for required fields.
func (c *Config) Validate() error {
	if c.URL == "" {
		return ErrMissingURL
	}
	return nil
}

// Option is a functional option for configuring adapters.
type Option func(*Config)

// WithURL sets the backend URL.
func WithURL(url string) Option {
	return func(c *Config) {
		c.URL = url
	}
}

// WithTokenParam sets the websocket query parameter for the token.
func WithTokenParam(name string) Option {
	return func(c *Config) {
		c.TokenParam = name
	}
}

// WithTimeout sets the connect timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithReadTimeout sets the inbound idle timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ReadTimeout = d
	}
}

// WithICEServers sets the STUN/TURN servers.
func WithICEServers(urls ...string) Option {
	return func(c *Config) {
		c.ICEServers = urls
	}
}

// WithAudioInput sets the microphone frame source.
func WithAudioInput(ch <-chan []byte) Option {
	return func(c *Config) {
		c.AudioInput = ch
	}
}

// WithHTTPClient sets the signaling HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
