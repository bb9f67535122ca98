package usecases

import (
	"context"
	"fmt"
	"time"

	"retailcrm/internal/entities"
	"retailcrm/internal/interfaces"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Inbound is the content of a client authored message.
type Inbound struct {
	ExternalID string
	Type       entities.MessageType
	Text       string
	Media      *entities.MediaAttachment
	SentAt     time.Time
}

// Outbound is the content of a message written on the business side.
type Outbound struct {
	Author       entities.AuthorKind
	AuthorUserID string
	ExternalID   string
	Type         entities.MessageType
	Text         string
	Status       entities.MessageStatus
	SentAt       time.Time
}

// Ledger is the append-only message store. Rows are written once; only the
// delivery status and enrichment fields change afterwards. External ids are
// not unique: the webhook drops a redelivery it can already see, but two
// concurrent deliveries of one message may both land.
type Ledger struct {
	chats     ChatStore
	messages  MessageStore
	publisher interfaces.Publisher
	usage     UsageStore
	logger    zerolog.Logger
	now       func() time.Time
}

func NewLedger(chats ChatStore, messages MessageStore, publisher interfaces.Publisher, logger zerolog.Logger) *Ledger {
	return &Ledger{
		chats:     chats,
		messages:  messages,
		publisher: publisher,
		logger:    logger.With().Str("component", "ledger").Logger(),
		now:       time.Now,
	}
}

// TrackUsage makes every appended message count towards the organization's
// daily usage.
func (l *Ledger) TrackUsage(usage UsageStore) *Ledger {
	l.usage = usage
	return l
}

// AppendInbound stores a CLIENT message as RECEIVED and bumps the unread counter.
func (l *Ledger) AppendInbound(ctx context.Context, chat *entities.Chat, client *entities.Client, in Inbound) (*entities.Message, error) {
	msg := &entities.Message{
		ID:             uuid.NewString(),
		OrganizationID: chat.OrganizationID,
		ChatID:         chat.ID,
		ClientID:       client.ID,
		ExternalID:     in.ExternalID,
		Author:         entities.AuthorClient,
		Type:           in.Type,
		Text:           in.Text,
		Status:         entities.StatusReceived,
		Media:          in.Media,
		SendTimestamp:  l.stamp(in.SentAt),
	}
	if err := l.append(ctx, msg, true); err != nil {
		return nil, err
	}
	return msg, nil
}

// AppendOutbound stores a business side message. The unread counter is left alone.
func (l *Ledger) AppendOutbound(ctx context.Context, chat *entities.Chat, out Outbound) (*entities.Message, error) {
	if out.Type == "" {
		out.Type = entities.MessageText
	}
	if out.Status == "" {
		out.Status = entities.StatusPending
	}
	msg := &entities.Message{
		ID:             uuid.NewString(),
		OrganizationID: chat.OrganizationID,
		ChatID:         chat.ID,
		ClientID:       chat.ClientID,
		ExternalID:     out.ExternalID,
		Author:         out.Author,
		AuthorUserID:   out.AuthorUserID,
		Type:           out.Type,
		Text:           out.Text,
		Status:         out.Status,
		SendTimestamp:  l.stamp(out.SentAt),
	}
	if err := l.append(ctx, msg, false); err != nil {
		return nil, err
	}
	return msg, nil
}

func (l *Ledger) stamp(t time.Time) time.Time {
	if t.IsZero() {
		t = l.now()
	}
	return t.UTC().Truncate(time.Microsecond)
}

// append writes the row before the summary so the preview always names a
// message that exists.
func (l *Ledger) append(ctx context.Context, msg *entities.Message, incUnread bool) error {
	if err := l.messages.Insert(ctx, msg); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	err := l.chats.ApplySummary(ctx, msg.ChatID, entities.ChatSummary{
		MessageID: msg.ID,
		Text:      msg.Preview(),
		Type:      msg.Type,
		At:        msg.SendTimestamp,
		IncUnread: incUnread,
	})
	if err != nil {
		return fmt.Errorf("update chat summary: %w", err)
	}
	l.publish(entities.RealtimeMessageCreated, msg)
	if l.usage != nil {
		if err := l.usage.Record(ctx, msg.OrganizationID, msg.SendTimestamp, msg.Author); err != nil {
			l.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("usage not recorded")
		}
	}
	return nil
}

// UpdateDeliveryStatus applies a gateway delivery state. Unknown ids and
// unknown states are ignored. Transitions are last write wins.
func (l *Ledger) UpdateDeliveryStatus(ctx context.Context, externalID, gatewayStatus string) error {
	status, ok := entities.ParseGatewayStatus(gatewayStatus)
	if !ok {
		l.logger.Debug().Str("status", gatewayStatus).Msg("ignoring unknown delivery status")
		return nil
	}
	msg, err := l.messages.UpdateStatusByExternalID(ctx, externalID, status)
	if err != nil {
		return fmt.Errorf("update delivery status: %w", err)
	}
	if msg == nil {
		l.logger.Debug().Str("external_id", externalID).Msg("status update for unknown message")
		return nil
	}
	l.publish(entities.RealtimeMessageStatus, msg)
	return nil
}

// MarkDispatched records the result of a gateway send.
func (l *Ledger) MarkDispatched(ctx context.Context, msg *entities.Message, externalID string, status entities.MessageStatus) error {
	if err := l.messages.MarkDispatched(ctx, msg.ID, externalID, status); err != nil {
		return fmt.Errorf("mark message %s %s: %w", msg.ID, status, err)
	}
	if externalID != "" {
		msg.ExternalID = externalID
	}
	msg.Status = status
	l.publish(entities.RealtimeMessageStatus, msg)
	return nil
}

// SetEnrichment stores the machine generated transcript and summary.
func (l *Ledger) SetEnrichment(ctx context.Context, msg *entities.Message, e entities.Enrichment) error {
	if err := l.messages.SetEnrichment(ctx, msg.ID, e); err != nil {
		return fmt.Errorf("store enrichment: %w", err)
	}
	msg.MediaText = e.Text
	msg.MediaSummary = e.Summary
	l.publish(entities.RealtimeMessageEnriched, msg)
	return nil
}

func (l *Ledger) publish(kind string, msg *entities.Message) {
	if l.publisher == nil {
		return
	}
	l.publisher.Publish(entities.RealtimeEvent{
		Type:           kind,
		OrganizationID: msg.OrganizationID,
		ChatID:         msg.ChatID,
		Data:           *msg,
		At:             l.now().UTC(),
	})
}

// MarkRead resets the unread counter of a chat.
func (l *Ledger) MarkRead(ctx context.Context, chatID string) error {
	return l.chats.ResetUnread(ctx, chatID)
}
