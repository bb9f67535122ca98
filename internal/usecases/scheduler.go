package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"retailcrm/internal/entities"
	"retailcrm/internal/interfaces"

	"github.com/rs/zerolog"
)

type SchedulerOptions struct {
	Delay         time.Duration
	HistoryWindow int
}

// Scheduler debounces automated replies. Each qualifying inbound message
// moves the chat's persisted token to now+Delay and starts a waiter bound to
// that value. When the waiter wakes it fires only if the token is unchanged,
// so a burst produces one reply computed after its last message. No timer is
// ever cancelled; staleness is detected by comparison.
type Scheduler struct {
	chats       ChatStore
	services    ServiceStore
	connections ConnectionStore
	messages    MessageStore
	ai          interfaces.AIClient
	dispatcher  *Dispatcher
	notifier    interfaces.Notifier
	publisher   interfaces.Publisher
	runner      interfaces.Runner
	settings    SettingsStore
	opts        SchedulerOptions
	logger      zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewScheduler(
	chats ChatStore,
	services ServiceStore,
	connections ConnectionStore,
	messages MessageStore,
	ai interfaces.AIClient,
	dispatcher *Dispatcher,
	notifier interfaces.Notifier,
	publisher interfaces.Publisher,
	runner interfaces.Runner,
	opts SchedulerOptions,
	logger zerolog.Logger,
) *Scheduler {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 100
	}
	return &Scheduler{
		chats:       chats,
		services:    services,
		connections: connections,
		messages:    messages,
		ai:          ai,
		dispatcher:  dispatcher,
		notifier:    notifier,
		publisher:   publisher,
		runner:      runner,
		opts:        opts,
		logger:      logger.With().Str("component", "scheduler").Logger(),
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// UseSettings lets organization settings shape the generated replies.
func (s *Scheduler) UseSettings(settings SettingsStore) *Scheduler {
	s.settings = settings
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Schedule advances the chat's token and starts the waiter for it. Services
// not owned by the AI are skipped.
func (s *Scheduler) Schedule(ctx context.Context, chat *entities.Chat, svc *entities.Service) error {
	if s.ai == nil || !svc.AIOwned() {
		return nil
	}

	// Postgres keeps microseconds; the in-memory token must compare equal.
	token := s.now().Add(s.opts.Delay).UTC().Truncate(time.Microsecond)
	if err := s.chats.AdvanceDebounceToken(ctx, chat.ID, token); err != nil {
		return fmt.Errorf("advance debounce token: %w", err)
	}

	chatID := chat.ID
	s.runner.Go("debounce", func(ctx context.Context) {
		if err := s.sleep(ctx, token.Sub(s.now())); err != nil {
			// Shutdown. The sweeper picks the token up after restart.
			return
		}
		if err := s.Fire(ctx, chatID, token); err != nil {
			s.logger.Error().Err(err).Str("chat_id", chatID).Msg("automated reply failed")
		}
	})
	return nil
}

// Fire generates and sends the reply for token if it is still current.
// Stale tokens, human owned services and tokens already claimed by another
// waiter return nil.
func (s *Scheduler) Fire(ctx context.Context, chatID string, token time.Time) error {
	log := s.logger.With().Str("chat_id", chatID).Time("token", token).Logger()

	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return fmt.Errorf("reload chat: %w", err)
	}
	if chat == nil {
		return fmt.Errorf("chat %s: %w", chatID, entities.ErrNotFound)
	}
	if !chat.TokenMatches(token) {
		log.Debug().Msg("debounce superseded")
		return nil
	}

	svc, err := s.services.GetOpenByChat(ctx, chatID)
	if err != nil {
		return fmt.Errorf("reload service: %w", err)
	}
	if !svc.AIOwned() {
		log.Debug().Msg("service no longer AI owned")
		return nil
	}

	claimed, err := s.chats.ClaimDebounceToken(ctx, chatID, token)
	if err != nil {
		return fmt.Errorf("claim debounce token: %w", err)
	}
	if !claimed {
		log.Debug().Msg("debounce already fired")
		return nil
	}

	conn, err := s.connections.GetByID(ctx, chat.ConnectionID)
	if err != nil {
		return fmt.Errorf("load connection: %w", err)
	}
	if conn == nil {
		return fmt.Errorf("connection %s: %w", chat.ConnectionID, entities.ErrNotFound)
	}

	history, err := s.messages.Recent(ctx, chatID, s.opts.HistoryWindow)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	in := interfaces.ReplyInput{
		OrganizationID: chat.OrganizationID,
		ClientName:     chat.ClientName,
		ClientPhone:    chat.ClientPhone,
		ServiceID:      svc.ID,
		History:        history,
	}
	s.applySettings(ctx, &in)

	reply, err := s.ai.GenerateReply(ctx, in)
	if err != nil {
		return fmt.Errorf("generate reply: %w", err)
	}

	// A human may have claimed the chat while the generator was running.
	svc, err = s.services.GetOpenByChat(ctx, chatID)
	if err != nil {
		return fmt.Errorf("recheck service: %w", err)
	}
	if !svc.AIOwned() {
		log.Info().Msg("service claimed during generation, reply dropped")
		return nil
	}

	applied, err := s.applyReplyMetadata(ctx, chat, svc, reply)
	if err != nil {
		log.Error().Err(err).Msg("update service from reply")
	} else if !applied {
		log.Info().Msg("service claimed before reply was stored, reply dropped")
		return nil
	}

	if reply.Text == "" {
		log.Warn().Msg("generator returned empty reply")
		return nil
	}
	_, err = s.dispatcher.SendText(ctx, conn, chat, Outbound{
		Author: entities.AuthorAI,
		Text:   reply.Text,
	})
	var dispatchErr *entities.DispatchError
	if errors.As(err, &dispatchErr) {
		// Already logged and marked FAILED by the dispatcher.
		return nil
	}
	return err
}

// applyReplyMetadata reports false when the service left the AI between the
// re-check and the write.
func (s *Scheduler) applyReplyMetadata(ctx context.Context, chat *entities.Chat, svc *entities.Service, reply interfaces.Reply) (bool, error) {
	escalate := reply.Escalation != nil && reply.Escalation.Applicable
	if reply.ServiceDescription == "" && !escalate {
		return true, nil
	}
	if reply.ServiceDescription != "" {
		svc.Description = reply.ServiceDescription
	}
	if escalate {
		svc.ResponsibleType = entities.ResponsibleHumanUser
		svc.ResponsibleUserID = ""
		svc.EscalationReason = reply.Escalation.Reason
	}
	applied, err := s.services.ApplyReply(ctx, svc)
	if err != nil || !applied {
		return applied, err
	}
	publishService(s.publisher, svc, s.now())

	if escalate {
		s.logger.Info().Str("chat_id", chat.ID).Str("reason", svc.EscalationReason).Msg("service escalated to human")
		if s.notifier != nil {
			err := s.notifier.NotifyEscalation(ctx, interfaces.EscalationNotice{
				OrganizationID: chat.OrganizationID,
				ChatID:         chat.ID,
				ClientName:     chat.ClientName,
				ClientPhone:    chat.ClientPhone,
				Reason:         svc.EscalationReason,
			})
			if err != nil {
				s.logger.Error().Err(err).Str("chat_id", chat.ID).Msg("escalation notice failed")
			}
		}
	}
	return true, nil
}

func publishService(p interfaces.Publisher, svc *entities.Service, now time.Time) {
	if p == nil {
		return
	}
	p.Publish(entities.RealtimeEvent{
		Type:           entities.RealtimeServiceUpdated,
		OrganizationID: svc.OrganizationID,
		ChatID:         svc.ChatID,
		Data:           *svc,
		At:             now.UTC(),
	})
}

// applySettings fills the organization's reply settings. A failing lookup
// leaves the defaults; the reply still goes out.
func (s *Scheduler) applySettings(ctx context.Context, in *interfaces.ReplyInput) {
	if s.settings == nil {
		return
	}
	var err error
	if in.BusinessName, err = s.settings.Get(ctx, in.OrganizationID, entities.SettingBusinessName); err != nil {
		s.logger.Warn().Err(err).Str("organization_id", in.OrganizationID).Msg("load business name")
	}
	if in.Instructions, err = s.settings.Get(ctx, in.OrganizationID, entities.SettingAIInstructions); err != nil {
		s.logger.Warn().Err(err).Str("organization_id", in.OrganizationID).Msg("load ai instructions")
	}
}
