package usecases

import (
	"context"
	"time"

	"retailcrm/internal/entities"
	"retailcrm/internal/interfaces"

	"github.com/rs/zerolog"
)

// Dispatcher sends business side text through the gateway. A failed send is
// terminal: the message is marked FAILED and nothing retries it.
type Dispatcher struct {
	ledger    *Ledger
	messenger interfaces.Messenger
	throttle  interfaces.Throttle
	logger    zerolog.Logger
	timeout   time.Duration
}

func NewDispatcher(ledger *Ledger, messenger interfaces.Messenger, throttle interfaces.Throttle, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		ledger:    ledger,
		messenger: messenger,
		throttle:  throttle,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
		timeout:   30 * time.Second,
	}
}

// SendText records the outbound message and hands it to the gateway when the
// connection is live. The returned message carries the final status even when
// an error is returned.
func (d *Dispatcher) SendText(ctx context.Context, conn *entities.Connection, chat *entities.Chat, out Outbound) (*entities.Message, error) {
	out.Type = entities.MessageText
	out.ExternalID = ""

	if !conn.IsConnected() {
		out.Status = entities.StatusFailed
		msg, err := d.ledger.AppendOutbound(ctx, chat, out)
		if err != nil {
			return nil, err
		}
		d.logger.Warn().
			Str("chat_id", chat.ID).
			Str("connection_status", string(conn.Status)).
			Msg("connection offline, message not sent")
		return msg, &entities.DispatchError{MessageID: msg.ID, Err: entities.ErrConnectionOffline}
	}

	out.Status = entities.StatusPending
	msg, err := d.ledger.AppendOutbound(ctx, chat, out)
	if err != nil {
		return nil, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if d.throttle != nil {
		if err := d.throttle.Wait(sendCtx, conn.ID); err != nil {
			return msg, d.fail(ctx, msg, err)
		}
	}

	externalID, err := d.messenger.SendText(sendCtx, conn.SessionID, chat.ClientPhone, out.Text)
	if err != nil {
		return msg, d.fail(ctx, msg, err)
	}
	if err := d.ledger.MarkDispatched(ctx, msg, externalID, entities.StatusSent); err != nil {
		return msg, err
	}
	d.logger.Info().Str("chat_id", chat.ID).Str("external_id", externalID).Str("author", string(out.Author)).Msg("message sent")
	return msg, nil
}

func (d *Dispatcher) fail(ctx context.Context, msg *entities.Message, cause error) error {
	d.logger.Error().Err(cause).Str("message_id", msg.ID).Msg("send failed")
	if err := d.ledger.MarkDispatched(ctx, msg, "", entities.StatusFailed); err != nil {
		d.logger.Error().Err(err).Str("message_id", msg.ID).Msg("mark failed")
	}
	return &entities.DispatchError{MessageID: msg.ID, Err: cause}
}
