package web

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/voicelink/pkg/hub"
	"github.com/teslashibe/voicelink/pkg/session"
	"github.com/teslashibe/voicelink/pkg/settings"
)

// StartRequest is the body of POST /api/session/start.
type StartRequest struct {
	SessionID      string `json:"sessionId"`
	InitialContext string `json:"initialContext"`
}

// TextRequest is the body of the text and context endpoints.
type TextRequest struct {
	Text string `json:"text"`
}

// SettingsRequest is the body of PUT /api/settings. Omitted fields keep
// their current value.
type SettingsRequest struct {
	MicMuted *bool   `json:"micMuted"`
	Language *string `json:"language"`
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.controller.Info())
}

// handleStart runs StartSession in the background; progress is reported
// through status.
func (s *Server) handleStart(c *fiber.Ctx) error {
	var req StartRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	cfg := session.Config{SessionID: req.SessionID, InitialContext: req.InitialContext}
	s.starts.Add(1)
	go func() {
		defer s.starts.Done()
		s.controller.StartSession(context.Background(), cfg)
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"sessionId": req.SessionID,
	})
}

func (s *Server) handleEnd(c *fiber.Ctx) error {
	s.controller.EndSession(c.UserContext())
	return c.JSON(s.controller.Info())
}

func (s *Server) handleText(c *fiber.Ctx) error {
	text, err := parseText(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	s.controller.SendTextMessage(text)
	return c.SendStatus(fiber.StatusAccepted)
}

func (s *Server) handleContext(c *fiber.Ctx) error {
	text, err := parseText(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	s.controller.SendContextualUpdate(text)
	return c.SendStatus(fiber.StatusAccepted)
}

func (s *Server) handleGetSettings(c *fiber.Ctx) error {
	if s.settings == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "settings not configured"})
	}
	return c.JSON(s.settings.Get())
}

func (s *Server) handlePutSettings(c *fiber.Ctx) error {
	if s.settings == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "settings not configured"})
	}

	var req SettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	next := s.settings.Get()
	if req.MicMuted != nil {
		next.MicMuted = *req.MicMuted
	}
	if req.Language != nil {
		next.Language = *req.Language
	}

	if err := s.settings.Replace(next); err != nil {
		if errors.Is(err, settings.ErrUnknownLanguage) {
			return badRequest(c, err.Error())
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(s.settings.Get())
}

func (s *Server) handleGetConversation(c *fiber.Ctx) error {
	s.conversationMu.RLock()
	defer s.conversationMu.RUnlock()
	return c.JSON(s.conversation)
}

func (s *Server) handleStatusWS(c *websocket.Conn) {
	hub.NewClient(s.statusHub, c).Run()
}

func (s *Server) handleConversationWS(c *websocket.Conn) {
	hub.NewClient(s.conversationHub, c).Run()
}

func parseText(c *fiber.Ctx) (string, error) {
	var req TextRequest
	if err := c.BodyParser(&req); err != nil {
		return "", errors.New("invalid request body")
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", errors.New("text is required")
	}
	return text, nil
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}
