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

// Ownership moves the open service of a chat between the AI and operators.
// A pending debounce waiter notices the change on its own re-check.
type Ownership struct {
	chats       ChatStore
	services    ServiceStore
	connections ConnectionStore
	publisher   interfaces.Publisher
	logger      zerolog.Logger
	now         func() time.Time
}

func NewOwnership(chats ChatStore, services ServiceStore, connections ConnectionStore, publisher interfaces.Publisher, logger zerolog.Logger) *Ownership {
	return &Ownership{
		chats:       chats,
		services:    services,
		connections: connections,
		publisher:   publisher,
		logger:      logger.With().Str("component", "ownership").Logger(),
		now:         time.Now,
	}
}

// loadChat returns the chat when it belongs to orgID.
func loadChat(ctx context.Context, chats ChatStore, orgID, chatID string) (*entities.Chat, error) {
	chat, err := chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("load chat: %w", err)
	}
	if chat == nil || chat.OrganizationID != orgID {
		return nil, entities.ErrNotFound
	}
	return chat, nil
}

// Claim hands the chat to userID, opening a service if none is open.
func (o *Ownership) Claim(ctx context.Context, orgID, userID, chatID string) (*entities.Service, error) {
	chat, err := loadChat(ctx, o.chats, orgID, chatID)
	if err != nil {
		return nil, err
	}

	svc, err := o.services.GetOpenByChat(ctx, chat.ID)
	if err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}
	if svc == nil {
		svc = &entities.Service{
			ID:                uuid.NewString(),
			OrganizationID:    chat.OrganizationID,
			ChatID:            chat.ID,
			ClientID:          chat.ClientID,
			Status:            entities.ServiceInProgress,
			ResponsibleType:   entities.ResponsibleHumanUser,
			ResponsibleUserID: userID,
		}
		created, err := o.services.CreateIfAbsent(ctx, svc)
		if err != nil {
			return nil, fmt.Errorf("open service: %w", err)
		}
		if !created {
			if svc, err = o.services.GetOpenByChat(ctx, chat.ID); err != nil {
				return nil, fmt.Errorf("reselect service: %w", err)
			}
			if svc == nil {
				return nil, entities.ErrNotFound
			}
		} else {
			o.changed(svc, "claimed")
			return svc, nil
		}
	}

	svc.Status = entities.ServiceInProgress
	svc.ResponsibleType = entities.ResponsibleHumanUser
	svc.ResponsibleUserID = userID
	if err := o.services.Update(ctx, svc); err != nil {
		return nil, fmt.Errorf("claim service: %w", err)
	}
	o.changed(svc, "claimed")
	return svc, nil
}

// Release returns the open service to the AI. The connection must be AI eligible.
func (o *Ownership) Release(ctx context.Context, orgID, chatID string) (*entities.Service, error) {
	chat, err := loadChat(ctx, o.chats, orgID, chatID)
	if err != nil {
		return nil, err
	}
	conn, err := o.connections.GetByID(ctx, chat.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("load connection: %w", err)
	}
	if conn == nil {
		return nil, entities.ErrNotFound
	}
	if !conn.AIEnabled {
		return nil, fmt.Errorf("connection %s is not AI eligible: %w", conn.ID, entities.ErrForbidden)
	}

	svc, err := o.openService(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	svc.Status = entities.ServicePending
	svc.ResponsibleType = entities.ResponsibleAI
	svc.ResponsibleUserID = ""
	if err := o.services.Update(ctx, svc); err != nil {
		return nil, fmt.Errorf("release service: %w", err)
	}
	o.changed(svc, "released")
	return svc, nil
}

// Finish closes the open service. The next inbound message opens a new one.
func (o *Ownership) Finish(ctx context.Context, orgID, chatID string) (*entities.Service, error) {
	chat, err := loadChat(ctx, o.chats, orgID, chatID)
	if err != nil {
		return nil, err
	}
	svc, err := o.openService(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	at := o.now().UTC()
	svc.Status = entities.ServiceFinished
	svc.FinishedAt = &at
	if err := o.services.Update(ctx, svc); err != nil {
		return nil, fmt.Errorf("finish service: %w", err)
	}
	o.changed(svc, "finished")
	return svc, nil
}

func (o *Ownership) openService(ctx context.Context, chatID string) (*entities.Service, error) {
	svc, err := o.services.GetOpenByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}
	if svc == nil {
		return nil, fmt.Errorf("open service for chat %s: %w", chatID, entities.ErrNotFound)
	}
	return svc, nil
}

func (o *Ownership) changed(svc *entities.Service, action string) {
	o.logger.Info().
		Str("chat_id", svc.ChatID).
		Str("service_id", svc.ID).
		Str("responsible", string(svc.ResponsibleType)).
		Msg("service " + action)
	publishService(o.publisher, svc, o.now())
}
