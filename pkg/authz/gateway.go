// Package authz fetches short-lived voice session tokens from the remote
// authorization service.
package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/teslashibe/voicelink/internal/httpc"
)

// Token is the authorization answer for one session.
// Allowed implies Token is set; a denial carries Error instead.
type Token struct {
	Allowed bool   `json:"allowed"`
	Token   string `json:"token,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Gateway requests session tokens.
type Gateway interface {
	// RequestToken performs one round trip. Denials resolve with
	// Allowed=false; only transport or protocol failures return an error.
	RequestToken(ctx context.Context, sessionID string) (Token, error)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, sessionID string) (Token, error)

// RequestToken calls f.
func (f GatewayFunc) RequestToken(ctx context.Context, sessionID string) (Token, error) {
	return f(ctx, sessionID)
}

// Config configures an HTTPGateway.
type Config struct {
	// Endpoint is the voice-token URL.
	Endpoint string

	// Method is GET or POST. Defaults to POST.
	Method string

	// Timeout bounds a single request.
	Timeout time.Duration

	// Identity supplies the caller's ambient credential.
	Identity oauth2.TokenSource

	// Client overrides the HTTP client. Identity is ignored when set.
	Client *http.Client

	Logger *slog.Logger
}

// Option is a functional option for the gateway.
type Option func(*Config)

// WithMethod sets the HTTP method.
func WithMethod(method string) Option {
	return func(c *Config) { c.Method = strings.ToUpper(method) }
}

// WithTimeout bounds each token request.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithIdentity attaches the caller's credential to every request.
func WithIdentity(ts oauth2.TokenSource) Option {
	return func(c *Config) { c.Identity = ts }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) { c.Client = client }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// HTTPGateway talks to the voice-token endpoint over HTTP.
type HTTPGateway struct {
	endpoint string
	method   string
	timeout  time.Duration
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPGateway creates a gateway for endpoint.
func NewHTTPGateway(endpoint string, opts ...Option) (*HTTPGateway, error) {
	cfg := &Config{
		Endpoint: endpoint,
		Method:   http.MethodPost,
		Timeout:  10 * time.Second,
		Logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Endpoint == "" {
		return nil, ErrMissingEndpoint
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fetchError("invalid endpoint: %w", err)
	}
	if cfg.Method != http.MethodGet && cfg.Method != http.MethodPost {
		cfg.Method = http.MethodPost
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client := cfg.Client
	if client == nil {
		client = httpc.NewIdentityClient(cfg.Timeout, cfg.Identity)
	}

	return &HTTPGateway{
		endpoint: cfg.Endpoint,
		method:   cfg.Method,
		timeout:  cfg.Timeout,
		client:   client,
		logger:   cfg.Logger.With("component", "authz.gateway"),
	}, nil
}

type tokenRequest struct {
	SessionID string `json:"sessionId"`
}

// RequestToken implements Gateway.
func (g *HTTPGateway) RequestToken(ctx context.Context, sessionID string) (Token, error) {
	if sessionID == "" {
		return Token{}, fetchError("%w", ErrInvalidSessionID)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	req, err := g.newRequest(ctx, sessionID)
	if err != nil {
		return Token{}, fetchError("build request: %w", err)
	}

	start := time.Now()
	resp, err := httpc.Do(ctx, g.client, req)
	if err != nil {
		return Token{}, fetchError("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Token{}, fetchError("read body: %w", err)
	}

	g.logger.Debug("token response",
		"session_id", sessionID,
		"status", resp.StatusCode,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return decodeToken(resp.StatusCode, body)
}

func (g *HTTPGateway) newRequest(ctx context.Context, sessionID string) (*http.Request, error) {
	if g.method == http.MethodGet {
		u, err := url.Parse(g.endpoint)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set("sessionId", sessionID)
		u.RawQuery = q.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	payload, err := json.Marshal(tokenRequest{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// denialStatus lists statuses whose body may carry a policy denial.
func denialStatus(code int) bool {
	switch code {
	case http.StatusUnauthorized, http.StatusPaymentRequired,
		http.StatusForbidden, http.StatusTooManyRequests:
		return true
	}
	return false
}

// decodeToken turns a raw response into a well-formed Token.
func decodeToken(status int, body []byte) (Token, error) {
	success := status >= 200 && status < 300
	if !success && !denialStatus(status) {
		return Token{}, fetchError("%w", &APIError{StatusCode: status, Body: strings.TrimSpace(string(body))})
	}

	var raw struct {
		Allowed *bool  `json:"allowed"`
		Token   string `json:"token"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &raw); err != nil || raw.Allowed == nil {
		if !success {
			return Token{}, fetchError("%w", &APIError{StatusCode: status, Body: strings.TrimSpace(string(body))})
		}
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return Token{}, fetchError("decode response: %w", err)
	}

	if !success && *raw.Allowed {
		return Token{}, fetchError("%w", &APIError{StatusCode: status, Body: strings.TrimSpace(string(body))})
	}

	if *raw.Allowed {
		if raw.Token == "" {
			return Token{}, fetchError("allowed response without token")
		}
		return Token{Allowed: true, Token: raw.Token}, nil
	}

	reason := raw.Error
	if reason == "" {
		reason = "denied"
	}
	return Token{Allowed: false, Error: reason}, nil
}
