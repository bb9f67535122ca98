package usecases

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"retailcrm/internal/entities"
)

// Settings manages the organization settings that shape automated replies.
type Settings struct {
	store SettingsStore
}

func NewSettings(store SettingsStore) *Settings {
	return &Settings{store: store}
}

func (s *Settings) List(ctx context.Context, orgID string) ([]entities.Setting, error) {
	return s.store.All(ctx, orgID)
}

// Set stores a known key. An empty value clears it.
func (s *Settings) Set(ctx context.Context, orgID, key, value string) error {
	limit, ok := entities.SettingLimits[key]
	if !ok {
		return fmt.Errorf("%w: unknown setting %q", entities.ErrInvalidInput, key)
	}
	value = strings.TrimSpace(value)
	if utf8.RuneCountInString(value) > limit {
		return fmt.Errorf("%w: %s exceeds %d characters", entities.ErrInvalidInput, key, limit)
	}
	return s.store.Set(ctx, orgID, key, value)
}
