package entities

import "time"

const (
	RealtimeMessageCreated  = "message.created"
	RealtimeMessageStatus   = "message.status"
	RealtimeMessageEnriched = "message.enriched"
	RealtimeServiceUpdated  = "service.updated"
)

// RealtimeEvent is pushed to operators subscribed to an organization.
type RealtimeEvent struct {
	Type           string    `json:"type"`
	OrganizationID string    `json:"organization_id"`
	ChatID         string    `json:"chat_id,omitempty"`
	Data           any       `json:"data"`
	At             time.Time `json:"at"`
}
