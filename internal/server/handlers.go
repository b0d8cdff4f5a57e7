package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/replanner/internal/agent/core"
	"github.com/mohammad-safakhou/replanner/internal/capability"
	"github.com/mohammad-safakhou/replanner/internal/session"
)

// ChatHandler runs conversation turns.
type ChatHandler struct {
	Conversation *session.Conversation
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("/chat", h.chat)
}

func (h *ChatHandler) chat(c echo.Context) error {
	var req core.ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	resp, err := h.Conversation.Send(c.Request().Context(), req)
	if err != nil {
		// the turn already ran; a history write failure is not the caller's problem
		c.Logger().Warnf("session %s history update failed: %v", req.SessionID, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// ToolsHandler exposes the tool catalogue and probe results.
type ToolsHandler struct {
	Catalogue *capability.Catalogue
	Prober    *Prober
}

func (h *ToolsHandler) Register(g *echo.Group) {
	g.GET("/tools", h.list)
	g.GET("/tools/health", h.health)
}

func (h *ToolsHandler) list(c echo.Context) error {
	out := make([]capability.Descriptor, 0, h.Catalogue.Len())
	for d := range h.Catalogue.List() {
		out = append(out, d)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ToolsHandler) health(c echo.Context) error {
	if h.Prober == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "health probes disabled")
	}
	ctx := c.Request().Context()
	var out []HealthStatus
	if c.QueryParam("refresh") == "true" {
		out = h.Prober.ProbeAll(ctx)
	} else {
		out = h.Prober.Status(ctx)
	}
	return c.JSON(http.StatusOK, out)
}

// TurnLister reads the turn audit.
type TurnLister interface {
	ListTurns(ctx context.Context, sessionID string, limit int) ([]core.TurnRecord, error)
}

// SessionsHandler serves the turn audit of a session.
type SessionsHandler struct {
	Turns TurnLister
}

func (h *SessionsHandler) Register(g *echo.Group, mw ...echo.MiddlewareFunc) {
	g.GET("/sessions/:id/turns", h.turns, mw...)
}

func (h *SessionsHandler) turns(c echo.Context) error {
	if h.Turns == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "turn audit requires postgres")
	}
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 500")
		}
		limit = n
	}
	turns, err := h.Turns.ListTurns(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if turns == nil {
		turns = []core.TurnRecord{}
	}
	return c.JSON(http.StatusOK, turns)
}
