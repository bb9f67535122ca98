package entities

import "time"

type ServiceStatus string

const (
	ServicePending    ServiceStatus = "PENDING"
	ServiceInProgress ServiceStatus = "IN_PROGRESS"
	ServiceFinished   ServiceStatus = "FINISHED"
)

// IsOpen reports whether the status belongs to the open set.
func (s ServiceStatus) IsOpen() bool {
	return s == ServicePending || s == ServiceInProgress
}

type ResponsibleType string

const (
	ResponsibleAI          ResponsibleType = "AI"
	ResponsibleHumanUser   ResponsibleType = "HUMAN_USER"
	ResponsibleBusinessApp ResponsibleType = "BUSINESS_APP"
	ResponsibleClient      ResponsibleType = "CLIENT"
)

// Service is a bounded ownership window over a Chat. At most one Service per
// Chat is open at any time.
type Service struct {
	ID                string          `json:"id"`
	OrganizationID    string          `json:"organization_id"`
	ChatID            string          `json:"chat_id"`
	ClientID          string          `json:"client_id"`
	Status            ServiceStatus   `json:"status"`
	ResponsibleType   ResponsibleType `json:"responsible_type"`
	ResponsibleUserID string          `json:"responsible_user_id,omitempty"`
	Description       string          `json:"description,omitempty"`
	EscalationReason  string          `json:"escalation_reason,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	FinishedAt        *time.Time      `json:"finished_at,omitempty"`
}

// AIOwned reports whether automated replies should be scheduled.
func (s *Service) AIOwned() bool {
	return s != nil && s.Status.IsOpen() && s.ResponsibleType == ResponsibleAI
}
