// Package config loads voicelinkd configuration from a TOML file overlaid
// by VOICELINK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Transport kinds.
const (
	TransportWebSocket = "websocket"
	TransportWebRTC    = "webrtc"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VOICELINK_"

var (
	ErrMissingTokenURL     = errors.New("config: token_url is required")
	ErrMissingTransportURL = errors.New("config: transport_url is required")
	ErrUnknownTransport    = errors.New("config: unknown transport")
)

// Config is the daemon configuration.
type Config struct {
	ListenAddr     string
	RequestLogging bool

	TokenURL      string
	TokenMethod   string
	IdentityToken string

	Transport    string
	TransportURL string
	ICEServers   []string

	TokenTimeout      time.Duration
	ConnectTimeout    time.Duration
	DisconnectTimeout time.Duration
	HandshakeTimeout  time.Duration

	LogLevel  string
	LogFormat string

	MetricsNamespace string

	SettingsPath string
	MicMuted     bool
	Language     string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:        ":8080",
		TokenMethod:       "POST",
		Transport:         TransportWebSocket,
		ICEServers:        []string{"stun:stun.l.google.com:19302"},
		TokenTimeout:      10 * time.Second,
		ConnectTimeout:    15 * time.Second,
		DisconnectTimeout: 5 * time.Second,
		HandshakeTimeout:  20 * time.Second,
		LogLevel:          "info",
		LogFormat:         "text",
		MetricsNamespace:  "voicelink",
		Language:          "auto",
	}
}

type fileConfig struct {
	ListenAddr        string   `toml:"listen_addr"`
	RequestLogging    bool     `toml:"request_logging"`
	TokenURL          string   `toml:"token_url"`
	TokenMethod       string   `toml:"token_method"`
	IdentityToken     string   `toml:"identity_token"`
	Transport         string   `toml:"transport"`
	TransportURL      string   `toml:"transport_url"`
	ICEServers        []string `toml:"ice_servers"`
	TokenTimeout      string   `toml:"token_timeout"`
	ConnectTimeout    string   `toml:"connect_timeout"`
	DisconnectTimeout string   `toml:"disconnect_timeout"`
	HandshakeTimeout  string   `toml:"handshake_timeout"`
	LogLevel          string   `toml:"log_level"`
	LogFormat         string   `toml:"log_format"`
	MetricsNamespace  string   `toml:"metrics_namespace"`
	SettingsPath      string   `toml:"settings_path"`
	MicMuted          bool     `toml:"mic_muted"`
	Language          string   `toml:"language"`
}

// Load builds the configuration from defaults, the file at path (skipped
// when empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config: unknown keys %v", undecoded)
	}

	setString := func(key, v string, dst *string) {
		if meta.IsDefined(key) {
			*dst = strings.TrimSpace(v)
		}
	}
	setString("listen_addr", raw.ListenAddr, &cfg.ListenAddr)
	setString("token_url", raw.TokenURL, &cfg.TokenURL)
	setString("token_method", raw.TokenMethod, &cfg.TokenMethod)
	setString("identity_token", raw.IdentityToken, &cfg.IdentityToken)
	setString("transport", raw.Transport, &cfg.Transport)
	setString("transport_url", raw.TransportURL, &cfg.TransportURL)
	setString("log_level", raw.LogLevel, &cfg.LogLevel)
	setString("log_format", raw.LogFormat, &cfg.LogFormat)
	setString("metrics_namespace", raw.MetricsNamespace, &cfg.MetricsNamespace)
	setString("settings_path", raw.SettingsPath, &cfg.SettingsPath)
	setString("language", raw.Language, &cfg.Language)

	if meta.IsDefined("request_logging") {
		cfg.RequestLogging = raw.RequestLogging
	}
	if meta.IsDefined("mic_muted") {
		cfg.MicMuted = raw.MicMuted
	}
	if meta.IsDefined("ice_servers") {
		cfg.ICEServers = normalizeList(raw.ICEServers)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"token_timeout", raw.TokenTimeout, &cfg.TokenTimeout},
		{"connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout},
		{"disconnect_timeout", raw.DisconnectTimeout, &cfg.DisconnectTimeout},
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.HandshakeTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

// applyEnv overlays VOICELINK_* variables. lookup is os.LookupEnv outside
// tests.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	str("LISTEN_ADDR", &cfg.ListenAddr)
	str("TOKEN_URL", &cfg.TokenURL)
	str("TOKEN_METHOD", &cfg.TokenMethod)
	str("IDENTITY_TOKEN", &cfg.IdentityToken)
	str("TRANSPORT", &cfg.Transport)
	str("TRANSPORT_URL", &cfg.TransportURL)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	str("METRICS_NAMESPACE", &cfg.MetricsNamespace)
	str("SETTINGS_PATH", &cfg.SettingsPath)
	str("LANGUAGE", &cfg.Language)

	if v, ok := lookup(EnvPrefix + "ICE_SERVERS"); ok {
		cfg.ICEServers = normalizeList(strings.Split(v, ","))
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"REQUEST_LOGGING", &cfg.RequestLogging},
		{"MIC_MUTED", &cfg.MicMuted},
	}
	for _, b := range bools {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok {
			continue
		}
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", EnvPrefix, b.name, err)
		}
		*b.dst = parsed
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"TOKEN_TIMEOUT", &cfg.TokenTimeout},
		{"CONNECT_TIMEOUT", &cfg.ConnectTimeout},
		{"DISCONNECT_TIMEOUT", &cfg.DisconnectTimeout},
		{"HANDSHAKE_TIMEOUT", &cfg.HandshakeTimeout},
	}
	for _, d := range durations {
		v, ok := lookup(EnvPrefix + d.name)
		if !ok {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", EnvPrefix, d.name, err)
		}
		*d.dst = parsed
	}
	return nil
}

// Validate reports configuration the daemon cannot start with.
func (c Config) Validate() error {
	if c.TokenURL == "" {
		return ErrMissingTokenURL
	}
	switch c.Transport {
	case TransportWebSocket, TransportWebRTC:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, c.Transport)
	}
	if c.TransportURL == "" {
		return ErrMissingTransportURL
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
