package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"retailcrm/internal/entities"
	"retailcrm/internal/usecases"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type Authenticator interface {
	TokenParser
	Login(ctx context.Context, username, password string) (string, error)
}

type ChatPages interface {
	ListChats(ctx context.Context, orgID string, q usecases.PageQuery) (entities.Page[entities.Chat], error)
	ListMessages(ctx context.Context, orgID string, q usecases.PageQuery) (entities.Page[entities.Message], error)
}

type InboxService interface {
	SendMessage(ctx context.Context, orgID, userID, chatID, text string) (*entities.Message, error)
	MarkRead(ctx context.Context, orgID, chatID string) error
	SetAIEnabled(ctx context.Context, orgID, connectionID string, enabled bool) (*entities.Connection, error)
	PairingQR(ctx context.Context, orgID, connectionID string) ([]byte, error)
	CreateConnection(ctx context.Context, orgID, sessionID, name string, aiEnabled bool) (*entities.Connection, error)
	ListConnections(ctx context.Context, orgID string) ([]entities.Connection, error)
	GetConnection(ctx context.Context, orgID, connectionID string) (*entities.Connection, error)
}

type OwnershipService interface {
	Claim(ctx context.Context, orgID, userID, chatID string) (*entities.Service, error)
	Release(ctx context.Context, orgID, chatID string) (*entities.Service, error)
	Finish(ctx context.Context, orgID, chatID string) (*entities.Service, error)
}

type SettingsService interface {
	List(ctx context.Context, orgID string) ([]entities.Setting, error)
	Set(ctx context.Context, orgID, key, value string) error
}

type UsageReporter interface {
	Usage(ctx context.Context, orgID string, days int) (*entities.UsageSummary, error)
}

// Streamer upgrades an authenticated request to the realtime event stream.
type Streamer interface {
	Serve(w http.ResponseWriter, r *http.Request, orgID string) error
}

// SessionController pairs and unpairs devices when this process is the
// gateway itself. Nil with an external HTTP gateway.
type SessionController interface {
	Pair(ctx context.Context, sessionID string) error
	Logout(ctx context.Context, sessionID string) error
}

type Deps struct {
	Auth      Authenticator
	Pages     ChatPages
	Inbox     InboxService
	Ownership OwnershipService
	Usage     UsageReporter
	Settings  SettingsService
	Stream    Streamer
	Sessions  SessionController
	Webhook   *WebhookHandler
	MediaDir  string
	MediaPath string
	Logger    zerolog.Logger
}

type Handler struct {
	pages     ChatPages
	inbox     InboxService
	ownership OwnershipService
	usage     UsageReporter
	stream    Streamer
	logger    zerolog.Logger
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		pages:     deps.Pages,
		inbox:     deps.Inbox,
		ownership: deps.Ownership,
		usage:     deps.Usage,
		stream:    deps.Stream,
		logger:    deps.Logger.With().Str("component", "api").Logger(),
	}
}

func SetupRoutes(r *gin.Engine, deps Deps, middleware *Middleware) {
	h := NewHandler(deps)
	adminHandler := NewAdminHandler(deps.Inbox, deps.Sessions, deps.Settings, deps.Logger)

	r.Use(SecurityHeaders())
	r.Use(RequestSizeLimiter(10 << 20)) // 10MB max request size
	r.Use(middleware.CORSMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Gateway webhook: method and secret are checked by the handler itself.
	r.Any("/webhooks/gateway", deps.Webhook.Handle)

	if deps.MediaDir != "" {
		r.Static(deps.MediaPath, deps.MediaDir)
	}

	authGroup := r.Group("/api/auth")
	{
		authGroup.POST("/login", func(c *gin.Context) {
			var loginReq struct {
				Username string `json:"username" binding:"required"`
				Password string `json:"password" binding:"required"`
			}
			if err := c.ShouldBindJSON(&loginReq); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			token, err := deps.Auth.Login(c.Request.Context(), loginReq.Username, loginReq.Password)
			if err != nil {
				if errors.Is(err, entities.ErrUnauthorized) {
					c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
					return
				}
				respondError(c, h.logger, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"token": token})
		})
	}

	api := r.Group("/api")
	api.Use(middleware.AuthRequired())
	{
		// The stream is long lived; it stays outside the rate limiter.
		api.GET("/ws", h.Stream)
	}

	limited := api.Group("")
	limited.Use(middleware.RateLimitPerUser(10, 20))
	{
		limited.GET("/usage", h.Usage)
		limited.GET("/connections", h.ListConnections)
		limited.GET("/connections/:id/chats", h.ListChats)
		limited.GET("/connections/:id/qr", h.GetPairingQR)
		limited.PUT("/connections/:id/ai", h.SetAIEnabled)

		limited.GET("/chats/:id/messages", h.ListMessages)
		limited.POST("/chats/:id/messages", h.SendMessage)
		limited.POST("/chats/:id/read", h.MarkRead)
		limited.POST("/chats/:id/claim", h.Claim)
		limited.POST("/chats/:id/release", h.Release)
		limited.POST("/chats/:id/finish", h.Finish)
	}

	admin := r.Group("/api/admin")
	admin.Use(middleware.AuthRequired())
	admin.Use(middleware.AdminRequired())
	{
		admin.POST("/connections", adminHandler.CreateConnection)
		admin.POST("/connections/:id/pair", adminHandler.PairConnection)
		admin.POST("/connections/:id/logout", adminHandler.LogoutConnection)
		admin.GET("/settings", adminHandler.ListSettings)
		admin.PUT("/settings/:key", adminHandler.SetSetting)
	}
}

// currentUser returns the identity set by AuthRequired.
func currentUser(c *gin.Context) (userID, orgID string) {
	return c.GetString(ctxUserID), c.GetString(ctxOrgID)
}

// respondError maps domain errors to status codes.
func respondError(c *gin.Context, logger zerolog.Logger, err error) {
	switch {
	case errors.Is(err, entities.ErrInvalidCursor), errors.Is(err, entities.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, entities.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	case errors.Is(err, entities.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, entities.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	default:
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

func (h *Handler) Stream(c *gin.Context) {
	_, orgID := currentUser(c)
	if err := h.stream.Serve(c.Writer, c.Request, orgID); err != nil {
		// the upgrader already wrote the HTTP error
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
	}
}

func trimmedParam(c *gin.Context, name string) string {
	return strings.TrimSpace(c.Param(name))
}
