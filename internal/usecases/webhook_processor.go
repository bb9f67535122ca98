package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"retailcrm/internal/entities"
	"retailcrm/internal/interfaces"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// TaskGatewayEvent is the task kind carrying a raw webhook body.
const TaskGatewayEvent = "gateway.event"

type gatewayEnvelope struct {
	Event     string          `json:"event" validate:"required"`
	SessionID string          `json:"sessionId" validate:"required"`
	Data      json.RawMessage `json:"data" validate:"required"`
}

var eventValidator = validator.New()

// DecodeGatewayEvent turns a webhook body into one of the three event shapes.
func DecodeGatewayEvent(raw []byte) (entities.GatewayEvent, error) {
	var env gatewayEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if err := eventValidator.Struct(env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	var evt entities.GatewayEvent
	switch env.Event {
	case entities.EventMessageReceived:
		var e entities.MessageReceived
		if err := decodeData(env.Data, &e); err != nil {
			return nil, err
		}
		e.SessionID = env.SessionID
		evt = e
	case entities.EventConnectionUpdate:
		var e entities.ConnectionUpdate
		if err := decodeData(env.Data, &e); err != nil {
			return nil, err
		}
		e.SessionID = env.SessionID
		evt = e
	case entities.EventMessageUpdated:
		var e entities.MessageUpdated
		if err := decodeData(env.Data, &e); err != nil {
			return nil, err
		}
		e.SessionID = env.SessionID
		evt = e
	default:
		return nil, fmt.Errorf("%w: %q", entities.ErrUnknownEvent, env.Event)
	}
	return evt, nil
}

func decodeData(data json.RawMessage, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode event data: %w", err)
	}
	if err := eventValidator.Struct(dst); err != nil {
		return fmt.Errorf("invalid event data: %w", err)
	}
	return nil
}

// WebhookProcessor does the work behind an acknowledged webhook delivery.
type WebhookProcessor struct {
	connections ConnectionStore
	messages    MessageStore
	directory   *Directory
	ledger      *Ledger
	media       *MediaPipeline
	scheduler   *Scheduler
	logger      zerolog.Logger
	now         func() time.Time
}

func NewWebhookProcessor(
	connections ConnectionStore,
	messages MessageStore,
	directory *Directory,
	ledger *Ledger,
	media *MediaPipeline,
	scheduler *Scheduler,
	logger zerolog.Logger,
) *WebhookProcessor {
	return &WebhookProcessor{
		connections: connections,
		messages:    messages,
		directory:   directory,
		ledger:      ledger,
		media:       media,
		scheduler:   scheduler,
		logger:      logger.With().Str("component", "webhook").Logger(),
		now:         time.Now,
	}
}

// HandleTask is the TaskHandler for TaskGatewayEvent.
func (p *WebhookProcessor) HandleTask(ctx context.Context, task interfaces.Task) error {
	evt, err := DecodeGatewayEvent(task.Payload)
	if err != nil {
		return err
	}
	return p.Handle(ctx, evt)
}

// Handle dispatches a decoded event.
func (p *WebhookProcessor) Handle(ctx context.Context, evt entities.GatewayEvent) error {
	switch e := evt.(type) {
	case entities.MessageReceived:
		return p.messageReceived(ctx, e)
	case entities.ConnectionUpdate:
		return p.connectionUpdate(ctx, e)
	case entities.MessageUpdated:
		return p.ledger.UpdateDeliveryStatus(ctx, e.ExternalID, e.Status)
	default:
		return fmt.Errorf("%w: %T", entities.ErrUnknownEvent, evt)
	}
}

func (p *WebhookProcessor) messageReceived(ctx context.Context, e entities.MessageReceived) error {
	log := p.logger.With().Str("session_id", e.SessionID).Str("external_id", e.ExternalID).Logger()
	if e.IsGroup {
		log.Debug().Msg("ignoring group message")
		return nil
	}

	conn, err := p.connections.GetBySession(ctx, e.SessionID)
	if err != nil {
		return fmt.Errorf("lookup connection: %w", err)
	}
	if conn == nil {
		return fmt.Errorf("connection for session %s: %w", e.SessionID, entities.ErrNotFound)
	}

	// Gateways redeliver and echo our own sends back as fromMe.
	if existing, err := p.messages.GetByExternalID(ctx, e.ExternalID); err != nil {
		return fmt.Errorf("lookup message: %w", err)
	} else if existing != nil {
		log.Debug().Str("message_id", existing.ID).Msg("duplicate delivery")
		return nil
	}

	name := e.PushName
	if e.FromMe {
		name = ""
	}
	client, err := p.directory.ResolveOrCreateClient(ctx, conn.OrganizationID, e.From, name)
	if err != nil {
		return err
	}
	chat, err := p.directory.ResolveOrCreateChat(ctx, client, conn)
	if err != nil {
		return err
	}

	msgType := entities.ParseMessageType(e.Type)
	if e.Media != nil && !msgType.IsMedia() {
		if kind, ok := Classify("", e.Media.MimeType); ok {
			msgType = kind
		}
	}
	sentAt := e.SentAt(p.now())

	if e.FromMe {
		// Typed on the phone app. Recorded, never answered.
		_, err := p.ledger.AppendOutbound(ctx, chat, Outbound{
			Author:     entities.AuthorBusinessApp,
			ExternalID: e.ExternalID,
			Type:       msgType,
			Text:       e.Content(),
			Status:     entities.StatusSent,
			SentAt:     sentAt,
		})
		return err
	}

	svc, err := p.directory.ResolveOrCreateService(ctx, chat, conn)
	if err != nil {
		return err
	}

	var (
		attachment *entities.MediaAttachment
		data       []byte
	)
	if e.Media != nil && p.media != nil {
		attachment, data, err = p.media.Persist(ctx, conn.OrganizationID, chat.ID, e.Media)
		if err != nil {
			// The message still lands with its text and type.
			log.Error().Err(err).Str("chat_id", chat.ID).Msg("media persist failed")
			attachment, data = nil, nil
		}
	}

	msg, err := p.ledger.AppendInbound(ctx, chat, client, Inbound{
		ExternalID: e.ExternalID,
		Type:       msgType,
		Text:       e.Content(),
		Media:      attachment,
		SentAt:     sentAt,
	})
	if err != nil {
		return err
	}

	if attachment != nil {
		p.media.EnrichAsync(msg, data)
	}
	return p.scheduler.Schedule(ctx, chat, svc)
}

func (p *WebhookProcessor) connectionUpdate(ctx context.Context, e entities.ConnectionUpdate) error {
	status, ok := entities.ParseConnectionStatus(e.Status)
	if !ok {
		p.logger.Warn().Str("session_id", e.SessionID).Str("status", e.Status).Msg("unknown connection status")
		return nil
	}
	qr := ""
	if status == entities.ConnectionQRCode {
		qr = e.QRCode
	}
	if err := p.connections.UpdateStatus(ctx, e.SessionID, status, NormalizePhone(e.Phone), qr); err != nil {
		return fmt.Errorf("update connection %s: %w", e.SessionID, err)
	}
	p.logger.Info().Str("session_id", e.SessionID).Str("status", string(status)).Msg("connection updated")
	return nil
}
