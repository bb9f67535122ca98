package entities

import "time"

// Chat is the single thread between one Client and one Connection.
type Chat struct {
	ID              string      `json:"id"`
	OrganizationID  string      `json:"organization_id"`
	ClientID        string      `json:"client_id"`
	ConnectionID    string      `json:"connection_id"`
	ClientName      string      `json:"client_name,omitempty"`
	ClientPhone     string      `json:"client_phone,omitempty"`
	LastMessageID   string      `json:"last_message_id,omitempty"`
	LastMessageText string      `json:"last_message_text"`
	LastMessageType MessageType `json:"last_message_type,omitempty"`
	LastMessageAt   *time.Time  `json:"last_message_at,omitempty"`
	LastActivityAt  time.Time   `json:"last_activity_at"`
	UnreadCount     int         `json:"unread_count"`

	// DebounceToken is the scheduled fire time of the most recent qualifying
	// inbound message. DebounceFiredToken is the last token a waiter claimed.
	DebounceToken      *time.Time `json:"-"`
	DebounceFiredToken *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

// TokenMatches reports whether token is still the chat's current debounce token.
func (c *Chat) TokenMatches(token time.Time) bool {
	return c.DebounceToken != nil && c.DebounceToken.Equal(token)
}

// ChatSummary is the preview written after every ledger append.
type ChatSummary struct {
	MessageID string
	Text      string
	Type      MessageType
	At        time.Time
	IncUnread bool
}
