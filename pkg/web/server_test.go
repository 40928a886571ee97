package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vlog "github.com/teslashibe/voicelink/internal/log"
	"github.com/teslashibe/voicelink/pkg/authz"
	"github.com/teslashibe/voicelink/pkg/session"
	"github.com/teslashibe/voicelink/pkg/settings"
	"github.com/teslashibe/voicelink/pkg/transport"
)

type fixture struct {
	server     *Server
	controller *session.Controller
	adapter    *transport.Mock
	prefs      *settings.Store
	metrics    *session.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := vlog.Discard()

	gw := authz.GatewayFunc(func(ctx context.Context, id string) (authz.Token, error) {
		return authz.Token{Allowed: true, Token: "tok"}, nil
	})
	metrics := session.NewMetrics("voicelink")
	ctrl := session.NewController(gw, session.WithLogger(logger), session.WithMetrics(metrics))

	adapter := transport.NewMock()
	adapter.AutoConnect = true
	ctrl.Register(adapter)

	prefs := settings.NewStore(settings.Settings{}, nil, logger)
	prefs.Bind(ctrl)

	srv := NewServer(Config{Metrics: metrics.Handler(), Logger: logger}, ctrl, prefs)
	t.Cleanup(func() { _ = srv.Shutdown(time.Second) })

	return &fixture{server: srv, controller: ctrl, adapter: adapter, prefs: prefs, metrics: metrics}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.server.App().Test(req, 5000)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, data
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, body = f.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info session.Info
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Equal(t, session.StatusIdle, info.Status)
	assert.Equal(t, "mock", info.Adapter)
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/session/start", `{"sessionId":"s1","initialContext":"home"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.JSONEq(t, `{"sessionId":"s1"}`, string(body))

	require.Eventually(t, func() bool {
		return f.controller.Status() == session.StatusConnected
	}, 2*time.Second, 10*time.Millisecond)

	params, _ := f.adapter.LastConnect()
	assert.Equal(t, "home", params.InitialContext)

	resp, _ = f.do(t, http.MethodPost, "/api/session/text", `{"text":"hello"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, "/api/session/context", `{"text":"on kitchen page"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []string{"hello"}, f.adapter.Texts())
	assert.Equal(t, []string{"on kitchen page"}, f.adapter.ContextualUpdates())

	resp, body = f.do(t, http.MethodPost, "/api/session/end", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info session.Info
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Equal(t, session.StatusDisconnected, info.Status)
}

func TestStartGeneratesSessionID(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/session/start", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.Unmarshal(body, &out))
	assert.NotEmpty(t, out["sessionId"])

	require.Eventually(t, func() bool {
		p, ok := f.adapter.LastConnect()
		return ok && p.SessionID == out["sessionId"]
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBadRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name, method, path, body string
		want                     int
	}{
		{"malformed start", http.MethodPost, "/api/session/start", `{`, http.StatusBadRequest},
		{"empty text", http.MethodPost, "/api/session/text", `{"text":"  "}`, http.StatusBadRequest},
		{"missing context", http.MethodPost, "/api/session/context", `{}`, http.StatusBadRequest},
		{"unknown language", http.MethodPut, "/api/settings", `{"language":"klingon"}`, http.StatusBadRequest},
		{"ws without upgrade", http.MethodGet, "/ws/status", "", http.StatusUpgradeRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestSettingsEndpoints(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"micMuted":false,"language":"auto"}`, string(body))

	resp, body = f.do(t, http.MethodPut, "/api/settings", `{"micMuted":true,"language":"spanish"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"micMuted":true,"language":"spanish"}`, string(body))

	assert.True(t, f.controller.MicMuted())
	assert.True(t, f.adapter.Muted())
	assert.Equal(t, "es", f.controller.Language())

	resp, body = f.do(t, http.MethodPut, "/api/settings", `{"micMuted":false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"micMuted":false,"language":"spanish"}`, string(body))
}

func TestConversationFeed(t *testing.T) {
	f := newFixture(t)

	f.server.RecordMessage(transport.Message{Type: "user_transcript", Source: "user", Text: "hi"})
	f.server.RecordMessage(transport.Message{Type: "agent_response", Source: "agent", Text: "hello there"})
	f.server.RecordMessage(transport.Message{Type: "interruption", Source: "system"})

	resp, body := f.do(t, http.MethodGet, "/api/conversation", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []ConversationEntry
	require.NoError(t, json.Unmarshal(body, &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "user", entries[0].Role)
	assert.Equal(t, "hello there", entries[1].Message)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.controller.StartSession(context.Background(), session.Config{SessionID: "s1"})

	resp, body := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `voicelink_session_transitions_total{status="connected"} 1`)
	assert.Contains(t, string(body), "voicelink_session_active 1")
}
