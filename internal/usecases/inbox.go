package usecases

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"retailcrm/internal/entities"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
)

// Inbox is what operators do with a chat besides changing its owner.
type Inbox struct {
	chats       ChatStore
	connections ConnectionStore
	ledger      *Ledger
	dispatcher  *Dispatcher
}

func NewInbox(chats ChatStore, connections ConnectionStore, ledger *Ledger, dispatcher *Dispatcher) *Inbox {
	return &Inbox{chats: chats, connections: connections, ledger: ledger, dispatcher: dispatcher}
}

// SendMessage sends operator text. A failed send still returns the FAILED
// message so the caller can show it.
func (i *Inbox) SendMessage(ctx context.Context, orgID, userID, chatID, text string) (*entities.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: message text is empty", entities.ErrInvalidInput)
	}
	chat, err := loadChat(ctx, i.chats, orgID, chatID)
	if err != nil {
		return nil, err
	}
	conn, err := i.connection(ctx, orgID, chat.ConnectionID)
	if err != nil {
		return nil, err
	}
	return i.dispatcher.SendText(ctx, conn, chat, Outbound{
		Author:       entities.AuthorHumanUser,
		AuthorUserID: userID,
		Text:         text,
	})
}

func (i *Inbox) MarkRead(ctx context.Context, orgID, chatID string) error {
	chat, err := loadChat(ctx, i.chats, orgID, chatID)
	if err != nil {
		return err
	}
	return i.ledger.MarkRead(ctx, chat.ID)
}

func (i *Inbox) connection(ctx context.Context, orgID, id string) (*entities.Connection, error) {
	conn, err := i.connections.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load connection: %w", err)
	}
	if conn == nil || conn.OrganizationID != orgID {
		return nil, entities.ErrNotFound
	}
	return conn, nil
}

// SetAIEnabled toggles whether new services on the connection start AI owned.
func (i *Inbox) SetAIEnabled(ctx context.Context, orgID, connectionID string, enabled bool) (*entities.Connection, error) {
	conn, err := i.connection(ctx, orgID, connectionID)
	if err != nil {
		return nil, err
	}
	if err := i.connections.SetAIEnabled(ctx, conn.ID, enabled); err != nil {
		return nil, err
	}
	conn.AIEnabled = enabled
	return conn, nil
}

// PairingQR renders the pending pairing payload of a connection as PNG.
func (i *Inbox) PairingQR(ctx context.Context, orgID, connectionID string) ([]byte, error) {
	conn, err := i.connection(ctx, orgID, connectionID)
	if err != nil {
		return nil, err
	}
	if conn.Status != entities.ConnectionQRCode || conn.QRCode == "" {
		return nil, fmt.Errorf("no pairing code for connection %s: %w", conn.ID, entities.ErrNotFound)
	}
	// Some gateways ship the QR already rendered.
	if b64, ok := strings.CutPrefix(conn.QRCode, "data:image/png;base64,"); ok {
		return base64.StdEncoding.DecodeString(b64)
	}
	return qrcode.Encode(conn.QRCode, qrcode.Medium, 256)
}

// CreateConnection registers a gateway session for an organization.
func (i *Inbox) CreateConnection(ctx context.Context, orgID, sessionID, name string, aiEnabled bool) (*entities.Connection, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", entities.ErrInvalidInput)
	}
	conn := &entities.Connection{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		SessionID:      sessionID,
		Name:           name,
		Status:         entities.ConnectionDisconnected,
		AIEnabled:      aiEnabled,
	}
	if err := i.connections.Create(ctx, conn); err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}
	return conn, nil
}

// ListConnections returns the organization's gateway sessions.
func (i *Inbox) ListConnections(ctx context.Context, orgID string) ([]entities.Connection, error) {
	all, err := i.connections.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]entities.Connection, 0, len(all))
	for _, c := range all {
		if c.OrganizationID == orgID {
			out = append(out, c)
		}
	}
	return out, nil
}

// GetConnection returns one of the organization's connections.
func (i *Inbox) GetConnection(ctx context.Context, orgID, connectionID string) (*entities.Connection, error) {
	return i.connection(ctx, orgID, connectionID)
}
