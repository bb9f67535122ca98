package entities

import "time"

// Organization is the tenant that owns connections, clients and operators.
// This subsystem only reads it.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Client is a retail customer, unique per (organization, normalized phone).
type Client struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Phone          string    `json:"phone"` // normalized, digits only
	Email          string    `json:"email,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
