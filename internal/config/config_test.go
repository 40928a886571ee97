package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voicelink.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().ListenAddr, cfg.ListenAddr)
	assert.Equal(t, 20*time.Second, cfg.HandshakeTimeout)
	assert.ErrorIs(t, cfg.Validate(), ErrMissingTokenURL)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
listen_addr = "127.0.0.1:9000"
token_url = "https://api.example.com/voice/token"
token_method = "GET"
transport = "webrtc"
transport_url = "https://rtc.example.com/sdp"
ice_servers = ["stun:a.example.com", " ", "turn:b.example.com"]
handshake_timeout = "5s"
mic_muted = true
language = "german"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.Equal(t, "GET", cfg.TokenMethod)
	assert.Equal(t, TransportWebRTC, cfg.Transport)
	assert.Equal(t, []string{"stun:a.example.com", "turn:b.example.com"}, cfg.ICEServers)
	assert.Equal(t, 5*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, 15*time.Second, cfg.ConnectTimeout, "undefined keys keep defaults")
	assert.True(t, cfg.MicMuted)
	assert.Equal(t, "german", cfg.Language)
}

func TestLoadFileErrors(t *testing.T) {
	t.Run("bad duration", func(t *testing.T) {
		_, err := Load(writeFile(t, `connect_timeout = "soon"`))
		assert.ErrorContains(t, err, "connect_timeout")
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := Load(writeFile(t, `listen = ":1"`))
		assert.ErrorContains(t, err, "unknown keys")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
		assert.Error(t, err)
	})
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := applyEnv(&cfg, envMap(map[string]string{
		"VOICELINK_TOKEN_URL":         "http://localhost/token",
		"VOICELINK_TRANSPORT_URL":     "wss://voice.example.com/ws",
		"VOICELINK_ICE_SERVERS":       "stun:x, stun:y",
		"VOICELINK_MIC_MUTED":         "true",
		"VOICELINK_TOKEN_TIMEOUT":     "250ms",
		"VOICELINK_REQUEST_LOGGING":   "1",
		"VOICELINK_UNRELATED_SETTING": "ignored",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://localhost/token", cfg.TokenURL)
	assert.Equal(t, []string{"stun:x", "stun:y"}, cfg.ICEServers)
	assert.True(t, cfg.MicMuted)
	assert.True(t, cfg.RequestLogging)
	assert.Equal(t, 250*time.Millisecond, cfg.TokenTimeout)

	t.Run("invalid bool", func(t *testing.T) {
		cfg := Default()
		err := applyEnv(&cfg, envMap(map[string]string{"VOICELINK_MIC_MUTED": "maybe"}))
		assert.ErrorContains(t, err, "VOICELINK_MIC_MUTED")
	})
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, `token_url = "http://file/token"`)
	t.Setenv("VOICELINK_TOKEN_URL", "http://env/token")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://env/token", cfg.TokenURL)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.TokenURL = "http://t"
	cfg.TransportURL = "ws://v"

	cfg.Transport = "carrier-pigeon"
	assert.ErrorIs(t, cfg.Validate(), ErrUnknownTransport)

	cfg.Transport = TransportWebSocket
	cfg.TransportURL = ""
	assert.ErrorIs(t, cfg.Validate(), ErrMissingTransportURL)
}
