package authz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/teslashibe/voicelink/internal/httpc"
)

func newTestGateway(t *testing.T, h http.HandlerFunc, opts ...Option) *HTTPGateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	g, err := NewHTTPGateway(srv.URL+"/v1/voice/token", opts...)
	if err != nil {
		t.Fatalf("NewHTTPGateway: %v", err)
	}
	return g
}

func TestRequestTokenAllowed(t *testing.T) {
	var gotSession, gotAuth, gotMethod string
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		var body tokenRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotSession = body.SessionID
		_, _ = w.Write([]byte(`{"allowed":true,"token":"tok"}`))
	}, WithIdentity(httpc.StaticIdentity("ambient")))

	tok, err := g.RequestToken(context.Background(), "s1")
	if err != nil {
		t.Fatalf("RequestToken: %v", err)
	}
	if !tok.Allowed || tok.Token != "tok" {
		t.Errorf("unexpected token: %+v", tok)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %s, want POST", gotMethod)
	}
	if gotSession != "s1" {
		t.Errorf("sessionId = %q, want s1", gotSession)
	}
	if gotAuth != "Bearer ambient" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestRequestTokenGET(t *testing.T) {
	var gotQuery string
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("sessionId")
		_, _ = w.Write([]byte(`{"allowed":true,"token":"tok"}`))
	}, WithMethod("get"))

	if _, err := g.RequestToken(context.Background(), "s-get"); err != nil {
		t.Fatalf("RequestToken: %v", err)
	}
	if gotQuery != "s-get" {
		t.Errorf("query sessionId = %q", gotQuery)
	}
}

func TestRequestTokenDenied(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"ok body denial", http.StatusOK, `{"allowed":false,"error":"quota exceeded"}`, "quota exceeded"},
		{"forbidden denial", http.StatusForbidden, `{"allowed":false,"error":"plan"}`, "plan"},
		{"missing reason", http.StatusOK, `{"allowed":false}`, "denied"},
		{"stray token dropped", http.StatusOK, `{"allowed":false,"token":"x","error":"policy"}`, "policy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			tok, err := g.RequestToken(context.Background(), "s1")
			if err != nil {
				t.Fatalf("denial must not be an error: %v", err)
			}
			if tok.Allowed {
				t.Error("expected Allowed=false")
			}
			if tok.Token != "" {
				t.Errorf("denied token must be empty, got %q", tok.Token)
			}
			if tok.Error != tt.wantErr {
				t.Errorf("Error = %q, want %q", tok.Error, tt.wantErr)
			}
		})
	}
}

func TestRequestTokenFetchFailed(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `boom`},
		{"not found", http.StatusNotFound, `{"allowed":false}`},
		{"malformed", http.StatusOK, `not json`},
		{"missing allowed", http.StatusOK, `{"token":"tok"}`},
		{"allowed without token", http.StatusOK, `{"allowed":true}`},
		{"forbidden without body", http.StatusForbidden, ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := g.RequestToken(context.Background(), "s1")
			if !errors.Is(err, ErrTokenFetchFailed) {
				t.Fatalf("expected ErrTokenFetchFailed, got %v", err)
			}
		})
	}

	t.Run("api error is exposed", func(t *testing.T) {
		g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		_, err := g.RequestToken(context.Background(), "s1")
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected APIError, got %v", err)
		}
		if !apiErr.Retryable() {
			t.Error("502 should be retryable")
		}
	})
}

func TestRequestTokenTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, WithTimeout(50*time.Millisecond))

	_, err := g.RequestToken(context.Background(), "s1")
	if !errors.Is(err, ErrTokenFetchFailed) {
		t.Fatalf("expected ErrTokenFetchFailed on timeout, got %v", err)
	}
}

func TestRequestTokenEmptySession(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := g.RequestToken(context.Background(), "")
	if !errors.Is(err, ErrInvalidSessionID) || !errors.Is(err, ErrTokenFetchFailed) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewHTTPGatewayRequiresEndpoint(t *testing.T) {
	if _, err := NewHTTPGateway(""); !errors.Is(err, ErrMissingEndpoint) {
		t.Fatalf("expected ErrMissingEndpoint, got %v", err)
	}
}

func TestRequestTokenCustomClient(t *testing.T) {
	var gotAuth string
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"allowed":true,"token":"tok"}`))
	}, WithHTTPClient(&http.Client{Timeout: time.Second}), WithIdentity(httpc.StaticIdentity("ignored")))

	tok, err := g.RequestToken(context.Background(), "s1")
	if err != nil {
		t.Fatalf("RequestToken: %v", err)
	}
	if !tok.Allowed {
		t.Errorf("unexpected token: %+v", tok)
	}
	if gotAuth != "" {
		t.Errorf("custom client should not carry identity, got %q", gotAuth)
	}
}
