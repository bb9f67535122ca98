package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// AdminHandler manages an organization's gateway connections.
type AdminHandler struct {
	inbox    InboxService
	sessions SessionController
	settings SettingsService
	logger   zerolog.Logger
}

func NewAdminHandler(inbox InboxService, sessions SessionController, settings SettingsService, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		inbox:    inbox,
		sessions: sessions,
		settings: settings,
		logger:   logger.With().Str("component", "admin").Logger(),
	}
}

// CreateConnection registers a gateway session for the caller's organization.
func (h *AdminHandler) CreateConnection(c *gin.Context) {
	var payload struct {
		SessionID string `json:"session_id" binding:"required"`
		Name      string `json:"name"`
		AIEnabled bool   `json:"ai_enabled"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if !ValidSessionID(payload.SessionID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session id"})
		return
	}
	name := TruncateString(SanitizeString(payload.Name), MaxNameLength)

	_, orgID := currentUser(c)
	conn, err := h.inbox.CreateConnection(c.Request.Context(), orgID, payload.SessionID, name, payload.AIEnabled)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.Info().Str("connection_id", conn.ID).Str("session_id", conn.SessionID).Msg("connection created")
	c.JSON(http.StatusCreated, conn)
}

// PairConnection starts the device so a pairing QR becomes available.
func (h *AdminHandler) PairConnection(c *gin.Context) {
	if h.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Sessions are managed by the external gateway"})
		return
	}
	_, orgID := currentUser(c)
	conn, err := h.inbox.GetConnection(c.Request.Context(), orgID, trimmedParam(c, "id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.sessions.Pair(c.Request.Context(), conn.SessionID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "connecting"})
}

// LogoutConnection unpairs the device. Errors from an already closed
// session are logged, not returned.
func (h *AdminHandler) LogoutConnection(c *gin.Context) {
	if h.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Sessions are managed by the external gateway"})
		return
	}
	_, orgID := currentUser(c)
	conn, err := h.inbox.GetConnection(c.Request.Context(), orgID, trimmedParam(c, "id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.sessions.Logout(c.Request.Context(), conn.SessionID); err != nil {
		h.logger.Warn().Err(err).Str("session_id", conn.SessionID).Msg("logout failed")
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

func (h *AdminHandler) ListSettings(c *gin.Context) {
	_, orgID := currentUser(c)
	settings, err := h.settings.List(c.Request.Context(), orgID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": settings})
}

// SetSetting stores one organization setting. Unknown keys are rejected.
func (h *AdminHandler) SetSetting(c *gin.Context) {
	var payload struct {
		Value *string `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	_, orgID := currentUser(c)
	key := trimmedParam(c, "key")
	if err := h.settings.Set(c.Request.Context(), orgID, key, SanitizeString(*payload.Value)); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "status": "saved"})
}
