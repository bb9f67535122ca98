package usecases

import (
	"context"
	"time"

	"retailcrm/internal/entities"
)

// Lookups return (nil, nil) when the row does not exist. CreateIfAbsent
// reports false when a uniqueness constraint already held a row.

type OrganizationStore interface {
	Create(ctx context.Context, org *entities.Organization) error
	GetByID(ctx context.Context, id string) (*entities.Organization, error)
}

type ConnectionStore interface {
	Create(ctx context.Context, conn *entities.Connection) error
	GetByID(ctx context.Context, id string) (*entities.Connection, error)
	GetBySession(ctx context.Context, sessionID string) (*entities.Connection, error)
	List(ctx context.Context) ([]entities.Connection, error)
	UpdateStatus(ctx context.Context, sessionID string, status entities.ConnectionStatus, phone, qrCode string) error
	SetAIEnabled(ctx context.Context, id string, enabled bool) error
}

type ClientStore interface {
	GetByID(ctx context.Context, id string) (*entities.Client, error)
	GetByPhone(ctx context.Context, orgID, phone string) (*entities.Client, error)
	CreateIfAbsent(ctx context.Context, client *entities.Client) (bool, error)
}

type ChatStore interface {
	GetByID(ctx context.Context, id string) (*entities.Chat, error)
	GetByClientConnection(ctx context.Context, clientID, connectionID string) (*entities.Chat, error)
	CreateIfAbsent(ctx context.Context, chat *entities.Chat) (bool, error)
	ApplySummary(ctx context.Context, chatID string, summary entities.ChatSummary) error
	ResetUnread(ctx context.Context, chatID string) error

	// AdvanceDebounceToken moves the token forward only; older tokens lose.
	AdvanceDebounceToken(ctx context.Context, chatID string, token time.Time) error
	// ClaimDebounceToken marks token as fired. Only one caller wins per token.
	ClaimDebounceToken(ctx context.Context, chatID string, token time.Time) (bool, error)
	// ListDueTokens returns chats whose unclaimed token lies in [notBefore, dueBefore].
	ListDueTokens(ctx context.Context, dueBefore, notBefore time.Time, limit int) ([]entities.Chat, error)

	ListByConnection(ctx context.Context, connectionID string, from *entities.Cursor, limit int) ([]entities.Chat, error)
	SearchByClientName(ctx context.Context, connectionID, query string, limit int) ([]entities.Chat, error)
	SearchByLastMessage(ctx context.Context, connectionID, query string, limit int) ([]entities.Chat, error)
}

type ServiceStore interface {
	GetByID(ctx context.Context, id string) (*entities.Service, error)
	GetOpenByChat(ctx context.Context, chatID string) (*entities.Service, error)
	CreateIfAbsent(ctx context.Context, svc *entities.Service) (bool, error)
	// Update returns ErrNotFound when the service is no longer open.
	Update(ctx context.Context, svc *entities.Service) error
	// ApplyReply writes reply metadata only while the AI holds the open
	// service. False means a human took it or it was finished.
	ApplyReply(ctx context.Context, svc *entities.Service) (bool, error)
}

type MessageStore interface {
	Insert(ctx context.Context, msg *entities.Message) error
	GetByID(ctx context.Context, id string) (*entities.Message, error)
	GetByExternalID(ctx context.Context, externalID string) (*entities.Message, error)
	MarkDispatched(ctx context.Context, id, externalID string, status entities.MessageStatus) error
	// UpdateStatusByExternalID returns nil when no message carries externalID.
	UpdateStatusByExternalID(ctx context.Context, externalID string, status entities.MessageStatus) (*entities.Message, error)
	SetEnrichment(ctx context.Context, id string, enrichment entities.Enrichment) error
	ListByChat(ctx context.Context, chatID string, from *entities.Cursor, limit int) ([]entities.Message, error)
	// Recent returns the newest limit messages in chronological order.
	Recent(ctx context.Context, chatID string, limit int) ([]entities.Message, error)
}

type UserStore interface {
	Create(ctx context.Context, user *entities.User) error
	GetByID(ctx context.Context, id string) (*entities.User, error)
	GetByUsername(ctx context.Context, username string) (*entities.User, error)
}

// UsageStore keeps per organization daily message counters.
type UsageStore interface {
	Record(ctx context.Context, orgID string, at time.Time, author entities.AuthorKind) error
	History(ctx context.Context, orgID string, from time.Time) ([]entities.DailyUsage, error)
}

type SettingsStore interface {
	Get(ctx context.Context, orgID, key string) (string, error)
	Set(ctx context.Context, orgID, key, value string) error
	All(ctx context.Context, orgID string) ([]entities.Setting, error)
}
