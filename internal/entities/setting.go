package entities

import "time"

// Organization settings understood by the reply generator.
const (
	SettingBusinessName   = "business_name"
	SettingAIInstructions = "ai_instructions"
)

// SettingLimits maps every accepted key to its maximum length in runes.
var SettingLimits = map[string]int{
	SettingBusinessName:   128,
	SettingAIInstructions: 4000,
}

type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
