package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/memohai/relay/internal/auth"
	"github.com/memohai/relay/internal/channel"
	"github.com/memohai/relay/internal/syncbridge"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// SyncBridge is the bridge surface exposed over HTTP.
type SyncBridge interface {
	CreateTopic(ctx context.Context, conversationID, title, workingDirectory string) (string, error)
	PostExchange(ctx context.Context, conversationID, topicID, user, assistant, messageID string) error
	ActiveCount() int
}

// SyncHandler lets an external plugin drive the topic mirror.
type SyncHandler struct {
	bridge SyncBridge
	secret string
	logger *slog.Logger
}

type CreateTopicRequest struct {
	ConversationID   string `json:"conversationId" validate:"required"`
	Title            string `json:"title" validate:"max=256"`
	WorkingDirectory string `json:"workingDirectory"`
}

type CreateTopicResponse struct {
	TopicID string `json:"topicId"`
}

type PostExchangeRequest struct {
	ConversationID   string `json:"conversationId" validate:"required"`
	TopicID          string `json:"topicId" validate:"required,numeric"`
	UserContent      string `json:"userContent" validate:"required"`
	AssistantContent string `json:"assistantContent" validate:"required"`
	MessageID        string `json:"messageId"`
}

type PostExchangeResponse struct {
	OK bool `json:"ok"`
}

type SyncStatusResponse struct {
	ActiveCount int `json:"activeCount"`
}

// NewSyncHandler creates the handler. A non-empty secret guards the routes
// with a sync-scoped bearer token.
func NewSyncHandler(log *slog.Logger, bridge SyncBridge, secret string) *SyncHandler {
	if log == nil {
		log = slog.Default()
	}
	return &SyncHandler{
		bridge: bridge,
		secret: strings.TrimSpace(secret),
		logger: log.With(slog.String("handler", "sync")),
	}
}

func (h *SyncHandler) Register(e *echo.Echo) {
	var mw []echo.MiddlewareFunc
	if h.secret != "" {
		mw = append(mw, auth.JWTMiddleware(h.secret, nil), auth.RequireScope(auth.ScopeSync))
	}
	g := e.Group("/sync", mw...)
	g.POST("/topics", h.CreateTopic)
	g.POST("/exchanges", h.PostExchange)
	g.GET("/status", h.Status)
}

func (h *SyncHandler) CreateTopic(c echo.Context) error {
	var req CreateTopicRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	topicID, err := h.bridge.CreateTopic(c.Request().Context(), req.ConversationID, req.Title, req.WorkingDirectory)
	if err != nil {
		h.logger.Error("create topic failed", slog.String("conversation_id", req.ConversationID), slog.Any("error", err))
		return syncHTTPError(err)
	}
	return c.JSON(http.StatusOK, CreateTopicResponse{TopicID: topicID})
}

func (h *SyncHandler) PostExchange(c echo.Context) error {
	var req PostExchangeRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	err := h.bridge.PostExchange(c.Request().Context(), req.ConversationID, req.TopicID, req.UserContent, req.AssistantContent, req.MessageID)
	if err != nil {
		h.logger.Error("post exchange failed", slog.String("conversation_id", req.ConversationID), slog.Any("error", err))
		return syncHTTPError(err)
	}
	return c.JSON(http.StatusOK, PostExchangeResponse{OK: true})
}

func (h *SyncHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, SyncStatusResponse{ActiveCount: h.bridge.ActiveCount()})
}

func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func syncHTTPError(err error) error {
	switch {
	case errors.Is(err, syncbridge.ErrUnknownTopic):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, channel.ErrTransportFailure):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
