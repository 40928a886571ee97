// Package web exposes the voice session controller over HTTP and streams
// status and conversation events over websockets.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/voicelink/pkg/hub"
	"github.com/teslashibe/voicelink/pkg/session"
	"github.com/teslashibe/voicelink/pkg/settings"
	"github.com/teslashibe/voicelink/pkg/transport"
)

// Controller is the session surface the server drives.
type Controller interface {
	StartSession(ctx context.Context, cfg session.Config)
	EndSession(ctx context.Context)
	SendTextMessage(text string)
	SendContextualUpdate(text string)
	Info() session.Info
	Subscribe(fn func(session.Change)) (cancel func())
}

// Config holds server settings.
type Config struct {
	Addr           string
	AllowOrigins   string
	RequestLogging bool
	Metrics        http.Handler
	Logger         *slog.Logger
}

// ConversationEntry is one transcript line.
type ConversationEntry struct {
	Time    string `json:"time"`
	Role    string `json:"role"`
	Message string `json:"message"`
}

const maxConversation = 100

// Server is the HTTP control surface.
type Server struct {
	app        *fiber.App
	config     Config
	controller Controller
	settings   *settings.Store
	logger     *slog.Logger

	statusHub       *hub.Hub
	conversationHub *hub.Hub
	unsubscribe     func()

	conversation   []ConversationEntry
	conversationMu sync.RWMutex

	// starts tracks StartSession calls running in the background.
	starts sync.WaitGroup
}

// NewServer creates the server and subscribes it to status changes.
func NewServer(cfg Config, controller Controller, prefs *settings.Store) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AllowOrigins == "" {
		cfg.AllowOrigins = "*"
	}

	s := &Server{
		config:          cfg,
		controller:      controller,
		settings:        prefs,
		logger:          cfg.Logger.With("component", "web.server"),
		statusHub:       hub.New("status", cfg.Logger),
		conversationHub: hub.New("conversation", cfg.Logger),
		conversation:    make([]ConversationEntry, 0, maxConversation),
	}

	s.statusHub.OnConnect(func() (hub.Event, bool) {
		return hub.Event{Type: "status", Data: controller.Info()}, true
	})
	s.unsubscribe = controller.Subscribe(s.broadcastChange)

	app := fiber.New(fiber.Config{
		AppName:               "voicelink",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: "GET,POST,PUT,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	if cfg.RequestLogging {
		app.Use(logger.New())
	}

	app.Get("/healthz", s.handleHealth)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics))
	}

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/session/start", s.handleStart)
	api.Post("/session/end", s.handleEnd)
	api.Post("/session/text", s.handleText)
	api.Post("/session/context", s.handleContext)
	api.Get("/settings", s.handleGetSettings)
	api.Put("/settings", s.handlePutSettings)
	api.Get("/conversation", s.handleGetConversation)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/conversation", websocket.New(s.handleConversationWS))

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run starts the hubs and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	go s.statusHub.Run(ctx)
	go s.conversationHub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web server listening", "addr", s.config.Addr)
		errCh <- s.app.Listen(s.config.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(5 * time.Second)
	}
}

// Shutdown stops the server and waits for background starts.
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	err := s.app.ShutdownWithTimeout(timeout)
	s.starts.Wait()
	return err
}

// StatusHub returns the status broadcast hub.
func (s *Server) StatusHub() *hub.Hub {
	return s.statusHub
}

// RecordMessage adds adapter telemetry to the conversation feed.
// Only transcript and agent lines are kept.
func (s *Server) RecordMessage(msg transport.Message) {
	if msg.Text == "" || (msg.Source != "user" && msg.Source != "agent") {
		return
	}

	entry := ConversationEntry{
		Time:    time.Now().Format("15:04:05"),
		Role:    msg.Source,
		Message: msg.Text,
	}

	s.conversationMu.Lock()
	s.conversation = append(s.conversation, entry)
	if len(s.conversation) > maxConversation {
		s.conversation = s.conversation[1:]
	}
	s.conversationMu.Unlock()

	if err := s.conversationHub.BroadcastEvent(hub.Event{Type: "conversation", Data: entry}); err != nil {
		s.logger.Warn("conversation broadcast failed", "error", err)
	}
}

func (s *Server) broadcastChange(c session.Change) {
	if err := s.statusHub.BroadcastEvent(hub.Event{Type: "status", Data: c}); err != nil {
		s.logger.Warn("status broadcast failed", "error", err)
	}
}
