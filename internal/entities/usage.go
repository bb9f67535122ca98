package entities

import "time"

// DailyUsage counts the messages an organization exchanged on one UTC day.
type DailyUsage struct {
	Date             time.Time `json:"date"`
	MessagesSent     int       `json:"messages_sent"`
	MessagesReceived int       `json:"messages_received"`
	AIReplies        int       `json:"ai_replies"`
}

type UsageSummary struct {
	Days           []DailyUsage `json:"days"`
	TotalSent      int          `json:"total_sent"`
	TotalReceived  int          `json:"total_received"`
	TotalAIReplies int          `json:"total_ai_replies"`
}
