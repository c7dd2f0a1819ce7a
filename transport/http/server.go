// Package http exposes the socket endpoint and the conversation REST surface.
package http

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/errors"
	"chat-relay/observability"
	"chat-relay/services"
	"chat-relay/transport/ws"
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type Server struct {
	echo          *echo.Echo
	log           *slog.Logger
	registry      contract.IRegistry
	presence      contract.IPresence
	conversations services.IConversationService
}

type Deps struct {
	Registry      contract.IRegistry
	Presence      contract.IPresence
	Conversations services.IConversationService
	Sockets       *ws.Server
	Metrics       *observability.Metrics
	Tokens        *auth.TokenManager
	// AllowedOrigin feeds CORS. Empty accepts any origin.
	AllowedOrigin string
}

func NewServer(log *slog.Logger, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(requestLogger(log))
	e.Use(cors(deps.AllowedOrigin))

	s := &Server{
		echo:          e,
		log:           log,
		registry:      deps.Registry,
		presence:      deps.Presence,
		conversations: deps.Conversations,
	}

	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(deps.Metrics.Handler()))

	authenticated := e.Group("", auth.Middleware(deps.Tokens))
	authenticated.GET("/ws", deps.Sockets.HandleWebSocket)
	authenticated.POST("/conv/create", s.handleCreateConversation)
	authenticated.GET("/conv/list", s.handleListConversations)
	authenticated.GET("/conv/:id", s.handleGetConversation)
	authenticated.GET("/message/conversation/:id", s.handleHistory)
	return s
}

func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func requestLogger(log *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			log.LogAttrs(context.Background(), slog.LevelDebug, "Request", attrs...)
			return nil
		},
	})
}

func cors(allowedOrigin string) echo.MiddlewareFunc {
	if allowedOrigin == "" {
		return middleware.CORS()
	}
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{allowedOrigin},
		AllowCredentials: true,
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.registry.Count(),
		"online":      s.presence.OnlineCount(),
	})
}

type createConversationRequest struct {
	ParticipantID string `json:"participantId" validate:"required,objectid"`
}

func (s *Server) handleCreateConversation(c echo.Context) error {
	var req createConversationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, msg("Invalid request body."))
	}
	if err := auth.ValidatePayload(&req); err != nil {
		return c.JSON(http.StatusBadRequest, msg("Invalid participants list."))
	}
	conversation, created, err := s.conversations.OpenDirect(c.Request().Context(), auth.UserID(c), req.ParticipantID)
	if err != nil {
		return s.fail(c, "Error while creating conversation", err)
	}
	if !created {
		return c.JSON(http.StatusOK, map[string]any{"msg": "Conversation found", "conversation": conversation})
	}
	return c.JSON(http.StatusCreated, map[string]any{"msg": "Conversation created", "conversation": conversation})
}

func (s *Server) handleListConversations(c echo.Context) error {
	summaries, err := s.conversations.List(c.Request().Context(), auth.UserID(c))
	if err != nil {
		return s.fail(c, "Error while fetching conversations", err)
	}
	return c.JSON(http.StatusOK, summaries)
}

func (s *Server) handleGetConversation(c echo.Context) error {
	conversation, err := s.conversations.Get(c.Request().Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		return s.fail(c, "Error while fetching conversation", err)
	}
	return c.JSON(http.StatusOK, conversation)
}

func (s *Server) handleHistory(c echo.Context) error {
	messages, err := s.conversations.History(c.Request().Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		return s.fail(c, "Error while fetching messages", err)
	}
	return c.JSON(http.StatusOK, messages)
}

// fail maps service errors to status codes. Unexpected errors are logged and hidden.
func (s *Server) fail(c echo.Context, summary string, err error) error {
	switch {
	case stderrors.Is(err, errors.ErrInvalidConversationID):
		return c.JSON(http.StatusBadRequest, msg("Invalid conversation ID."))
	case stderrors.Is(err, errors.ErrInvalidUserID), stderrors.Is(err, errors.ErrNoRecipient):
		return c.JSON(http.StatusBadRequest, msg("Invalid participants list."))
	case stderrors.Is(err, errors.ErrNotParticipant):
		return c.JSON(http.StatusForbidden, msg("Invalid parameter"))
	case stderrors.Is(err, errors.ErrConversationNotFound):
		return c.JSON(http.StatusNotFound, msg("Conversation not found"))
	}
	s.log.Error(summary, "user_id", auth.UserID(c), "error", err)
	return c.JSON(http.StatusInternalServerError, msg(summary))
}

func msg(text string) map[string]string {
	return map[string]string{"msg": text}
}
