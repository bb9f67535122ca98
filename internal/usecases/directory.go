package usecases

import (
	"context"
	"fmt"
	"strings"
	"time"

	"retailcrm/internal/entities"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Directory resolves Client, Chat and Service records, creating them on first
// sight. Every create is an insert-if-absent followed by a re-select, so
// concurrent duplicate deliveries converge on one row.
type Directory struct {
	clients  ClientStore
	chats    ChatStore
	services ServiceStore
	logger   zerolog.Logger
	now      func() time.Time
}

func NewDirectory(clients ClientStore, chats ChatStore, services ServiceStore, logger zerolog.Logger) *Directory {
	return &Directory{
		clients:  clients,
		chats:    chats,
		services: services,
		logger:   logger.With().Str("component", "directory").Logger(),
		now:      time.Now,
	}
}

// NormalizePhone reduces a gateway address to digits. JID suffixes such as
// "@s.whatsapp.net" or ":12" device parts are dropped, and Brazilian mobiles
// missing the ninth digit get it back.
func NormalizePhone(raw string) string {
	s := raw
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	// 55 + DDD + 8 digit mobile (6-9) -> insert the 9.
	if len(digits) == 12 && strings.HasPrefix(digits, "55") && digits[4] >= '6' {
		digits = digits[:4] + "9" + digits[4:]
	}
	return digits
}

// ResolveOrCreateClient finds the client by normalized phone or creates it.
// name seeds the profile only on creation.
func (d *Directory) ResolveOrCreateClient(ctx context.Context, orgID, phone, name string) (*entities.Client, error) {
	normalized := NormalizePhone(phone)
	if normalized == "" {
		return nil, fmt.Errorf("resolve client: empty phone %q", phone)
	}

	client, err := d.clients.GetByPhone(ctx, orgID, normalized)
	if err != nil {
		return nil, fmt.Errorf("lookup client: %w", err)
	}
	if client != nil {
		return client, nil
	}

	if name == "" {
		name = normalized
	}
	candidate := &entities.Client{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Name:           name,
		Phone:          normalized,
	}
	created, err := d.clients.CreateIfAbsent(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	if created {
		d.logger.Info().Str("client_id", candidate.ID).Str("org_id", orgID).Msg("client created")
		return candidate, nil
	}

	// Lost the race to a concurrent delivery.
	client, err = d.clients.GetByPhone(ctx, orgID, normalized)
	if err != nil {
		return nil, fmt.Errorf("reselect client: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("reselect client %s: %w", normalized, entities.ErrNotFound)
	}
	return client, nil
}

// ResolveOrCreateChat returns the single chat for (client, connection).
func (d *Directory) ResolveOrCreateChat(ctx context.Context, client *entities.Client, conn *entities.Connection) (*entities.Chat, error) {
	chat, err := d.chats.GetByClientConnection(ctx, client.ID, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("lookup chat: %w", err)
	}
	if chat != nil {
		return chat, nil
	}

	candidate := &entities.Chat{
		ID:             uuid.NewString(),
		OrganizationID: client.OrganizationID,
		ClientID:       client.ID,
		ConnectionID:   conn.ID,
		ClientName:     client.Name,
		ClientPhone:    client.Phone,
		LastActivityAt: d.now().UTC(),
	}
	created, err := d.chats.CreateIfAbsent(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	if created {
		return candidate, nil
	}

	chat, err = d.chats.GetByClientConnection(ctx, client.ID, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("reselect chat: %w", err)
	}
	if chat == nil {
		return nil, fmt.Errorf("reselect chat: %w", entities.ErrNotFound)
	}
	return chat, nil
}

// ResolveOrCreateService returns the open service of chat, opening one owned
// by the AI when the connection is AI eligible and by a human otherwise.
func (d *Directory) ResolveOrCreateService(ctx context.Context, chat *entities.Chat, conn *entities.Connection) (*entities.Service, error) {
	svc, err := d.services.GetOpenByChat(ctx, chat.ID)
	if err != nil {
		return nil, fmt.Errorf("lookup service: %w", err)
	}
	if svc != nil {
		return svc, nil
	}

	responsible := entities.ResponsibleHumanUser
	if conn.AIEnabled {
		responsible = entities.ResponsibleAI
	}
	candidate := &entities.Service{
		ID:              uuid.NewString(),
		OrganizationID:  chat.OrganizationID,
		ChatID:          chat.ID,
		ClientID:        chat.ClientID,
		Status:          entities.ServicePending,
		ResponsibleType: responsible,
	}
	created, err := d.services.CreateIfAbsent(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("open service: %w", err)
	}
	if created {
		d.logger.Info().Str("chat_id", chat.ID).Str("responsible", string(responsible)).Msg("service opened")
		return candidate, nil
	}

	svc, err = d.services.GetOpenByChat(ctx, chat.ID)
	if err != nil {
		return nil, fmt.Errorf("reselect service: %w", err)
	}
	if svc == nil {
		return nil, fmt.Errorf("reselect service: %w", entities.ErrNotFound)
	}
	return svc, nil
}
