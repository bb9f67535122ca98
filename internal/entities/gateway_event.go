package entities

import "time"

// Gateway webhook event names.
const (
	EventMessageReceived  = "message.received"
	EventConnectionUpdate = "connection.update"
	EventMessageUpdated   = "message.updated"
)

// GatewayEvent is the decoded webhook body. The concrete type is one of
// MessageReceived, ConnectionUpdate or MessageUpdated.
type GatewayEvent interface {
	EventName() string
	Session() string
}

// MediaRef points at a transient attachment on the gateway. It is not
// validated with the event; an unusable ref only loses the attachment.
type MediaRef struct {
	URL      string `json:"url"`
	MimeType string `json:"mimetype"`
	FileName string `json:"filename"`
}

// MessageReceived is the data of a message.received event.
type MessageReceived struct {
	SessionID  string    `json:"-"`
	ExternalID string    `json:"id" validate:"required"`
	From       string    `json:"from" validate:"required"`
	PushName   string    `json:"pushName"`
	FromMe     bool      `json:"fromMe"`
	IsGroup    bool      `json:"isGroup"`
	Timestamp  int64     `json:"timestamp"`
	Type       string    `json:"type"`
	Body       string    `json:"body"`
	Caption    string    `json:"caption"`
	Media      *MediaRef `json:"media,omitempty"`
}

func (e MessageReceived) EventName() string { return EventMessageReceived }
func (e MessageReceived) Session() string   { return e.SessionID }

// SentAt returns the gateway timestamp, falling back to now. Gateways send
// either seconds or milliseconds.
func (e MessageReceived) SentAt(now time.Time) time.Time {
	switch {
	case e.Timestamp <= 0:
		return now
	case e.Timestamp > 1e12:
		return time.UnixMilli(e.Timestamp).UTC()
	default:
		return time.Unix(e.Timestamp, 0).UTC()
	}
}

// Content returns the text body or the media caption.
func (e MessageReceived) Content() string {
	if e.Body != "" {
		return e.Body
	}
	return e.Caption
}

// ConnectionUpdate is the data of a connection.update event.
type ConnectionUpdate struct {
	SessionID string `json:"-"`
	Status    string `json:"status" validate:"required"`
	Phone     string `json:"phone"`
	QRCode    string `json:"qrcode"`
}

func (e ConnectionUpdate) EventName() string { return EventConnectionUpdate }
func (e ConnectionUpdate) Session() string   { return e.SessionID }

// MessageUpdated is the data of a message.updated event.
type MessageUpdated struct {
	SessionID  string `json:"-"`
	ExternalID string `json:"id" validate:"required"`
	Status     string `json:"status" validate:"required"`
}

func (e MessageUpdated) EventName() string { return EventMessageUpdated }
func (e MessageUpdated) Session() string   { return e.SessionID }
