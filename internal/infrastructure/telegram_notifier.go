package infrastructure

import (
	"context"
	"fmt"
	"strings"

	"retailcrm/internal/interfaces"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts escalation alerts to a staff group.
type TelegramNotifier struct {
	bot    telegramSender
	chatID int64
	logger zerolog.Logger
}

func NewTelegramNotifier(token string, chatID int64, logger zerolog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram token: %w", err)
	}
	n := newTelegramNotifier(bot, chatID, logger)
	n.logger.Info().Str("bot", bot.Self.UserName).Int64("chat_id", chatID).Msg("telegram alerts enabled")
	return n, nil
}

func newTelegramNotifier(bot telegramSender, chatID int64, logger zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		bot:    bot,
		chatID: chatID,
		logger: logger.With().Str("component", "telegram").Logger(),
	}
}

// NotifyEscalation implements interfaces.Notifier.
func (n *TelegramNotifier) NotifyEscalation(ctx context.Context, notice interfaces.EscalationNotice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(n.chatID, formatEscalation(notice))
	msg.DisableWebPagePreview = true
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram alert: %w", err)
	}
	n.logger.Debug().Str("chat_id", notice.ChatID).Msg("escalation alert sent")
	return nil
}

func formatEscalation(n interfaces.EscalationNotice) string {
	var b strings.Builder
	b.WriteString("Human takeover requested\n\n")
	name := n.ClientName
	if name == "" {
		name = "(unknown)"
	}
	fmt.Fprintf(&b, "Client: %s\n", name)
	if n.ClientPhone != "" {
		fmt.Fprintf(&b, "Phone: +%s\n", n.ClientPhone)
	}
	if n.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", n.Reason)
	}
	fmt.Fprintf(&b, "Chat: %s", n.ChatID)
	return b.String()
}
