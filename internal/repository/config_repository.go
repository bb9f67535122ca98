package repository

import (
	"context"

	"retailcrm/internal/entities"
)

// ConfigRepository stores per organization key/value settings.
type ConfigRepository struct {
	db DBTX
}

func NewConfigRepository(db DBTX) *ConfigRepository {
	return &ConfigRepository{db: db}
}

// Get returns the value for key, or "" when unset.
func (r *ConfigRepository) Get(ctx context.Context, orgID, key string) (string, error) {
	var value string
	err := r.db.QueryRow(ctx,
		"SELECT value FROM organization_settings WHERE organization_id = $1 AND key = $2",
		orgID, key).Scan(&value)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

func (r *ConfigRepository) Set(ctx context.Context, orgID, key, value string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO organization_settings (organization_id, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (organization_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, orgID, key, value)
	return err
}

func (r *ConfigRepository) All(ctx context.Context, orgID string) ([]entities.Setting, error) {
	rows, err := r.db.Query(ctx,
		"SELECT key, value, updated_at FROM organization_settings WHERE organization_id = $1 ORDER BY key",
		orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := []entities.Setting{}
	for rows.Next() {
		var s entities.Setting
		if err := rows.Scan(&s.Key, &s.Value, &s.UpdatedAt); err != nil {
			return nil, err
		}
		settings = append(settings, s)
	}
	return settings, rows.Err()
}
