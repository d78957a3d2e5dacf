package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/resourcefinder/internal/chat"
	"github.com/mohammad-safakhou/resourcefinder/internal/runtime"
	"github.com/mohammad-safakhou/resourcefinder/internal/store"
	"github.com/mohammad-safakhou/resourcefinder/models"
)

// SessionHeader carries a freshly issued session token on /chat responses.
const SessionHeader = "X-Session-Token"

// ChatService is the part of the orchestrator the HTTP layer uses
type ChatService interface {
	Chat(ctx context.Context, sessionID, userMessage string) (*chat.Reply, error)
	History(ctx context.Context, sessionID string) (models.Conversation, error)
	EndSession(ctx context.Context, sessionID string) error
}

// TurnLister reads archived turns
type TurnLister interface {
	ListTurns(ctx context.Context, sessionID string, limit int) ([]store.TurnRecord, error)
}

type ChatHandler struct {
	Chat    ChatService
	Archive TurnLister
	// Secret signs session tokens. Without it clients address sessions by
	// raw id.
	Secret     []byte
	Cookie     string
	SessionTTL time.Duration
}

type chatRequest struct {
	UserMessage string `json:"user_message"`
	SessionID   string `json:"session_id,omitempty"`
}

type chatResponse struct {
	BotResponse  string `json:"bot_response"`
	SessionID    string `json:"session_id"`
	SessionToken string `json:"session_token,omitempty"`
}

type historyMessage struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

type turnResponse struct {
	ID           string  `json:"id"`
	UserMessage  string  `json:"user_message"`
	Reply        string  `json:"reply"`
	SearchQuery  string  `json:"search_query,omitempty"`
	ToolCalls    int     `json:"tool_calls"`
	GatewayCalls int     `json:"gateway_calls"`
	Error        *string `json:"error,omitempty"`
	StartedAt    string  `json:"started_at"`
	DurationMS   int64   `json:"duration_ms"`
}

func (h *ChatHandler) Register(e *echo.Echo) {
	e.POST("/chat", h.chat)
	g := e.Group("/sessions")
	g.GET("/:id", h.history)
	g.DELETE("/:id", h.end)
	if h.Archive != nil {
		g.GET("/:id/turns", h.turns)
	}
}

// sessionFor picks the session a request may address. With signed tokens
// only the verified token counts.
func (h *ChatHandler) sessionFor(c echo.Context, requested string) string {
	if len(h.Secret) > 0 {
		id, _ := runtime.SessionFromContext(c.Request().Context())
		return id
	}
	return strings.TrimSpace(requested)
}

// owns reports whether the caller may act on session id.
func (h *ChatHandler) owns(c echo.Context, id string) bool {
	if len(h.Secret) == 0 {
		return true
	}
	tokID, ok := runtime.SessionFromContext(c.Request().Context())
	return ok && tokID == id
}

func (h *ChatHandler) chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.UserMessage) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_message required")
	}

	reply, err := h.Chat.Chat(c.Request().Context(), h.sessionFor(c, req.SessionID), req.UserMessage)
	if err != nil {
		return &turnError{err: err}
	}

	resp := chatResponse{BotResponse: reply.Text, SessionID: reply.SessionID}
	if len(h.Secret) > 0 {
		tok, err := runtime.SignSessionToken(reply.SessionID, h.Secret, h.SessionTTL)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to issue session token")
		}
		resp.SessionToken = tok
		c.Response().Header().Set(SessionHeader, tok)
		c.SetCookie(&http.Cookie{
			Name:     h.Cookie,
			Value:    tok,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Secure:   c.Scheme() == "https",
			MaxAge:   int(h.SessionTTL.Seconds()),
		})
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) history(c echo.Context) error {
	id := c.Param("id")
	if !h.owns(c, id) {
		return echo.NewHTTPError(http.StatusForbidden, "session token does not match")
	}
	conv, err := h.Chat.History(c.Request().Context(), id)
	if errors.Is(err, models.ErrSessionNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]historyMessage, 0, len(conv))
	for _, m := range conv.Transcript() {
		out = append(out, historyMessage{Role: m.Role, Content: m.Content})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"session_id": id, "messages": out})
}

func (h *ChatHandler) end(c echo.Context) error {
	id := c.Param("id")
	if !h.owns(c, id) {
		return echo.NewHTTPError(http.StatusForbidden, "session token does not match")
	}
	if err := h.Chat.EndSession(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if len(h.Secret) > 0 {
		c.SetCookie(&http.Cookie{Name: h.Cookie, Value: "", Path: "/", MaxAge: -1})
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *ChatHandler) turns(c echo.Context) error {
	id := c.Param("id")
	if !h.owns(c, id) {
		return echo.NewHTTPError(http.StatusForbidden, "session token does not match")
	}
	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	recs, err := h.Archive.ListTurns(c.Request().Context(), id, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]turnResponse, 0, len(recs))
	for _, r := range recs {
		out = append(out, turnResponse{
			ID:           r.ID,
			UserMessage:  r.UserMessage,
			Reply:        r.Reply,
			SearchQuery:  r.SearchQuery,
			ToolCalls:    r.ToolCalls,
			GatewayCalls: r.GatewayCalls,
			Error:        r.Error,
			StartedAt:    r.StartedAt.UTC().Format(time.RFC3339),
			DurationMS:   r.Duration.Milliseconds(),
		})
	}
	return c.JSON(http.StatusOK, out)
}
