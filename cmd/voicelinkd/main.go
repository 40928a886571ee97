// voicelinkd runs a voice session controller behind an HTTP control surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/teslashibe/voicelink/internal/config"
	"github.com/teslashibe/voicelink/internal/httpc"
	vlog "github.com/teslashibe/voicelink/internal/log"
	"github.com/teslashibe/voicelink/pkg/authz"
	"github.com/teslashibe/voicelink/pkg/session"
	"github.com/teslashibe/voicelink/pkg/settings"
	"github.com/teslashibe/voicelink/pkg/transport"
	"github.com/teslashibe/voicelink/pkg/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath    string
		envFile       string
		listenAddr    string
		transportKind string
		logLevel      string
		debug         bool
	)

	flagSet := pflag.NewFlagSet("voicelinkd", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to TOML config file")
	flagSet.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading VOICELINK_* variables")
	flagSet.StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides config)")
	flagSet.StringVar(&transportKind, "transport", "", "transport kind: websocket or webrtc (overrides config)")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	flagSet.BoolVar(&debug, "debug", false, "debug logging and request logs")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if transportKind != "" {
		cfg.Transport = transportKind
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if debug {
		cfg.LogLevel = "debug"
		cfg.RequestLogging = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	vlog.Init(cfg.LogLevel, cfg.LogFormat)
	logger := vlog.L()
	daemonLog := vlog.Component("voicelinkd")

	gateway, err := authz.NewHTTPGateway(cfg.TokenURL,
		authz.WithMethod(cfg.TokenMethod),
		authz.WithTimeout(cfg.TokenTimeout),
		authz.WithIdentity(httpc.StaticIdentity(cfg.IdentityToken)),
		authz.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	adapter, err := newAdapter(cfg)
	if err != nil {
		return err
	}

	prefs := settings.NewStore(settings.Settings{MicMuted: cfg.MicMuted, Language: cfg.Language},
		settings.NewFileBackend(cfg.SettingsPath), logger)
	if err := prefs.Load(); err != nil {
		daemonLog.Warn("failed to load settings, using defaults", "error", err)
	}

	metrics := session.NewMetrics(cfg.MetricsNamespace)

	var server *web.Server
	controller := session.NewController(gateway,
		session.WithTokenTimeout(cfg.TokenTimeout),
		session.WithConnectTimeout(cfg.ConnectTimeout),
		session.WithDisconnectTimeout(cfg.DisconnectTimeout),
		session.WithHandshakeTimeout(cfg.HandshakeTimeout),
		session.WithMicMuted(prefs.Get().MicMuted),
		session.WithLanguage(prefs.Get().TransportLanguage()),
		session.WithMicrophone(session.NewExclusiveMicrophone()),
		session.WithMetrics(metrics),
		session.WithMessageHandler(func(msg transport.Message) {
			if server != nil {
				server.RecordMessage(msg)
			}
		}),
		session.WithLogger(logger),
	)

	controller.Register(adapter)
	defer controller.Unregister(adapter)
	prefs.Bind(controller)

	server = web.NewServer(web.Config{
		Addr:           cfg.ListenAddr,
		RequestLogging: cfg.RequestLogging,
		Metrics:        metrics.Handler(),
		Logger:         logger,
	}, controller, prefs)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	daemonLog.Info("voicelinkd starting",
		"listen", cfg.ListenAddr, "transport", adapter.Name(), "token_url", cfg.TokenURL)

	runErr := server.Run(ctx)

	endCtx, endCancel := context.WithTimeout(context.Background(), cfg.DisconnectTimeout+time.Second)
	defer endCancel()
	controller.EndSession(endCtx)

	daemonLog.Info("voicelinkd stopped", "status", controller.Status())
	return runErr
}

func newAdapter(cfg config.Config) (transport.Adapter, error) {
	opts := []transport.Option{
		transport.WithURL(cfg.TransportURL),
		transport.WithTimeout(cfg.ConnectTimeout),
		transport.WithICEServers(cfg.ICEServers...),
		transport.WithLogger(vlog.With("transport", cfg.Transport, "url", cfg.TransportURL)),
	}

	if cfg.Transport == config.TransportWebRTC {
		rtc, err := transport.NewWebRTC(opts...)
		if err != nil {
			return nil, err
		}
		return rtc, nil
	}

	ws, err := transport.NewWebSocket(opts...)
	if err != nil {
		return nil, err
	}
	return ws, nil
}
