package entities

import (
	"strings"
	"time"
)

type MessageType string

const (
	MessageText     MessageType = "TEXT"
	MessageAudio    MessageType = "AUDIO"
	MessageImage    MessageType = "IMAGE"
	MessageVideo    MessageType = "VIDEO"
	MessageDocument MessageType = "DOCUMENT"
)

// ParseMessageType accepts gateway lowercase names ("ptt" is a voice note).
func ParseMessageType(s string) MessageType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "audio", "ptt", "voice":
		return MessageAudio
	case "image", "sticker":
		return MessageImage
	case "video":
		return MessageVideo
	case "document", "file":
		return MessageDocument
	}
	return MessageText
}

// IsMedia reports whether the type carries an attachment.
func (t MessageType) IsMedia() bool {
	return t != MessageText && t != ""
}

type MessageStatus string

const (
	StatusPending   MessageStatus = "PENDING"
	StatusReceived  MessageStatus = "RECEIVED"
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
	StatusFailed    MessageStatus = "FAILED"
)

// ParseGatewayStatus maps gateway delivery states onto internal status.
func ParseGatewayStatus(s string) (MessageStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return StatusPending, true
	case "sent", "server_ack":
		return StatusSent, true
	case "delivered", "delivery_ack":
		return StatusDelivered, true
	case "read", "played":
		return StatusRead, true
	case "failed", "error":
		return StatusFailed, true
	}
	return "", false
}

type AuthorKind string

const (
	AuthorClient      AuthorKind = "CLIENT"
	AuthorAI          AuthorKind = "AI"
	AuthorHumanUser   AuthorKind = "HUMAN_USER"
	AuthorBusinessApp AuthorKind = "BUSINESS_APP"
)

// MediaAttachment is the durable copy of an inbound attachment.
type MediaAttachment struct {
	StorageID string `json:"storage_id"`
	URL       string `json:"url"`
	MimeType  string `json:"mime_type"`
	Size      int64  `json:"size"`
	FileName  string `json:"file_name,omitempty"`
}

// Message is a ledger row. Content is immutable; Status and the enrichment
// fields are the only columns updated after insert.
type Message struct {
	ID             string           `json:"id"`
	OrganizationID string           `json:"organization_id"`
	ChatID         string           `json:"chat_id"`
	ClientID       string           `json:"client_id"`
	ExternalID     string           `json:"external_id,omitempty"`
	Author         AuthorKind       `json:"author"`
	AuthorUserID   string           `json:"author_user_id,omitempty"`
	Type           MessageType      `json:"type"`
	Text           string           `json:"text"`
	Status         MessageStatus    `json:"status"`
	Media          *MediaAttachment `json:"media,omitempty"`
	MediaText      string           `json:"media_text,omitempty"`
	MediaSummary   string           `json:"media_summary,omitempty"`
	SendTimestamp  time.Time        `json:"send_timestamp"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Preview is the text stored as the chat's last message summary.
func (m *Message) Preview() string {
	if m.Text != "" {
		return m.Text
	}
	if m.Type.IsMedia() {
		return "[" + strings.ToLower(string(m.Type)) + "]"
	}
	return ""
}

// Enrichment is the machine generated augmentation of a media message.
type Enrichment struct {
	Text    string `json:"text"`
	Summary string `json:"summary"`
}
