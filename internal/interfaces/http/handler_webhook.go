package http

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"time"

	"retailcrm/internal/interfaces"
	"retailcrm/internal/usecases"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WebhookHandler acknowledges gateway deliveries and hands the body off for
// detached processing. Nothing that happens afterwards reaches the response.
type WebhookHandler struct {
	secret []byte
	queue  interfaces.TaskQueue
	runner interfaces.Runner
	logger zerolog.Logger
	now    func() time.Time
}

func NewWebhookHandler(secret string, queue interfaces.TaskQueue, runner interfaces.Runner, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		secret: []byte(secret),
		queue:  queue,
		runner: runner,
		logger: logger.With().Str("component", "webhook_http").Logger(),
		now:    time.Now,
	}
}

func (h *WebhookHandler) Handle(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.Header("Allow", http.MethodPost)
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(c.Query("apiSecret")), h.secret) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid secret"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable body"})
		return
	}

	task := interfaces.Task{
		ID:         uuid.NewString(),
		Kind:       usecases.TaskGatewayEvent,
		Payload:    body,
		EnqueuedAt: h.now().UTC(),
	}
	c.JSON(http.StatusOK, gin.H{"status": "received"})

	h.runner.Go("webhook", func(ctx context.Context) {
		if err := h.queue.Enqueue(ctx, task); err != nil {
			h.logger.Error().Err(err).Str("task_id", task.ID).Msg("enqueue webhook failed")
		}
	})
}
