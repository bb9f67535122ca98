package entities

import "time"

type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionQRCode       ConnectionStatus = "qrcode"
)

// ParseConnectionStatus maps gateway wording onto a known status.
func ParseConnectionStatus(s string) (ConnectionStatus, bool) {
	switch ConnectionStatus(s) {
	case ConnectionConnected, ConnectionDisconnected, ConnectionConnecting, ConnectionQRCode:
		return ConnectionStatus(s), true
	case "open":
		return ConnectionConnected, true
	case "close", "closed":
		return ConnectionDisconnected, true
	}
	return "", false
}

// Connection is an organization's gateway session (one WhatsApp number).
type Connection struct {
	ID             string           `json:"id"`
	OrganizationID string           `json:"organization_id"`
	SessionID      string           `json:"session_id"`
	Name           string           `json:"name"`
	Phone          string           `json:"phone"`
	Status         ConnectionStatus `json:"status"`
	AIEnabled      bool             `json:"ai_enabled"`
	QRCode         string           `json:"-"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// IsConnected reports whether outbound sends may proceed.
func (c *Connection) IsConnected() bool {
	return c != nil && c.Status == ConnectionConnected
}
