package http

import (
	"errors"
	"net/http"
	"strconv"

	"retailcrm/internal/entities"
	"retailcrm/internal/usecases"

	"github.com/gin-gonic/gin"
)

// pageQuery reads ?cursor&pageSize&search for the scope in path param :id.
func pageQuery(c *gin.Context) (usecases.PageQuery, error) {
	q := usecases.PageQuery{
		ScopeID: trimmedParam(c, "id"),
		Cursor:  c.Query("cursor"),
		Search:  TruncateString(SanitizeString(c.Query("search")), MaxSearchLength),
	}
	if raw := c.Query("pageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, errors.New("pageSize must be a number")
		}
		q.PageSize = n
	}
	return q, nil
}

// ListChats returns the connection's chats, newest activity first.
func (h *Handler) ListChats(c *gin.Context) {
	q, err := pageQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	_, orgID := currentUser(c)
	page, err := h.pages.ListChats(c.Request.Context(), orgID, q)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// ListMessages returns the chat's messages, newest first.
func (h *Handler) ListMessages(c *gin.Context) {
	q, err := pageQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	q.Search = ""
	_, orgID := currentUser(c)
	page, err := h.pages.ListMessages(c.Request.Context(), orgID, q)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// SendMessage sends operator text. A failed delivery still answers 200 with
// the FAILED message: the status is the error surface.
func (h *Handler) SendMessage(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	text := SanitizeString(req.Text)
	if !ValidateLength(text, 1, MaxMessageLength) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message must be between 1 and 4096 characters"})
		return
	}

	userID, orgID := currentUser(c)
	msg, err := h.inbox.SendMessage(c.Request.Context(), orgID, userID, trimmedParam(c, "id"), text)
	var dispatchErr *entities.DispatchError
	switch {
	case err == nil:
	case errors.As(err, &dispatchErr) && msg != nil:
		h.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("operator message not delivered")
	default:
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) MarkRead(c *gin.Context) {
	_, orgID := currentUser(c)
	if err := h.inbox.MarkRead(c.Request.Context(), orgID, trimmedParam(c, "id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "read"})
}

// Claim makes the caller the responsible human for the chat.
func (h *Handler) Claim(c *gin.Context) {
	userID, orgID := currentUser(c)
	svc, err := h.ownership.Claim(c.Request.Context(), orgID, userID, trimmedParam(c, "id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, svc)
}

// Release hands the chat back to the AI.
func (h *Handler) Release(c *gin.Context) {
	_, orgID := currentUser(c)
	svc, err := h.ownership.Release(c.Request.Context(), orgID, trimmedParam(c, "id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, svc)
}

func (h *Handler) Finish(c *gin.Context) {
	_, orgID := currentUser(c)
	svc, err := h.ownership.Finish(c.Request.Context(), orgID, trimmedParam(c, "id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, svc)
}

func (h *Handler) ListConnections(c *gin.Context) {
	_, orgID := currentUser(c)
	conns, err := h.inbox.ListConnections(c.Request.Context(), orgID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": conns})
}

// GetPairingQR returns the pending pairing QR as PNG.
func (h *Handler) GetPairingQR(c *gin.Context) {
	_, orgID := currentUser(c)
	png, err := h.inbox.PairingQR(c.Request.Context(), orgID, trimmedParam(c, "id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) SetAIEnabled(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	_, orgID := currentUser(c)
	conn, err := h.inbox.SetAIEnabled(c.Request.Context(), orgID, trimmedParam(c, "id"), *req.Enabled)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, conn)
}

// Usage returns daily message counts for ?days= (default 30).
func (h *Handler) Usage(c *gin.Context) {
	days := 0
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a number"})
			return
		}
		days = n
	}
	_, orgID := currentUser(c)
	summary, err := h.usage.Usage(c.Request.Context(), orgID, days)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
