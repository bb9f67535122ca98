package repository

import (
	"context"

	"retailcrm/internal/entities"

	"github.com/jackc/pgx/v5"
)

type ServiceRepository struct {
	db DBTX
}

func NewServiceRepository(db DBTX) *ServiceRepository {
	return &ServiceRepository{db: db}
}

const serviceColumns = `id, organization_id, chat_id, client_id, status, responsible_type,
	COALESCE(responsible_user_id::text, ''), description, escalation_reason,
	created_at, updated_at, finished_at`

func scanService(row pgx.Row) (*entities.Service, error) {
	var s entities.Service
	err := row.Scan(&s.ID, &s.OrganizationID, &s.ChatID, &s.ClientID, &s.Status, &s.ResponsibleType,
		&s.ResponsibleUserID, &s.Description, &s.EscalationReason,
		&s.CreatedAt, &s.UpdatedAt, &s.FinishedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *ServiceRepository) GetByID(ctx context.Context, id string) (*entities.Service, error) {
	s, err := scanService(r.db.QueryRow(ctx, "SELECT "+serviceColumns+" FROM services WHERE id = $1", id))
	if isNoRows(err) {
		return nil, nil
	}
	return s, err
}

func (r *ServiceRepository) GetOpenByChat(ctx context.Context, chatID string) (*entities.Service, error) {
	s, err := scanService(r.db.QueryRow(ctx,
		"SELECT "+serviceColumns+" FROM services WHERE chat_id = $1 AND status IN ('PENDING', 'IN_PROGRESS')",
		chatID))
	if isNoRows(err) {
		return nil, nil
	}
	return s, err
}

// CreateIfAbsent conflicts on the partial unique index over open services.
func (r *ServiceRepository) CreateIfAbsent(ctx context.Context, svc *entities.Service) (bool, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO services (id, organization_id, chat_id, client_id, status, responsible_type, responsible_user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (chat_id) WHERE status IN ('PENDING', 'IN_PROGRESS') DO NOTHING
		RETURNING created_at, updated_at
	`, svc.ID, svc.OrganizationID, svc.ChatID, svc.ClientID, svc.Status, svc.ResponsibleType,
		nullString(svc.ResponsibleUserID),
	).Scan(&svc.CreatedAt, &svc.UpdatedAt)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Update writes an open service. A service finished meanwhile is not
// reopened; the call reports ErrNotFound.
func (r *ServiceRepository) Update(ctx context.Context, svc *entities.Service) error {
	err := r.db.QueryRow(ctx, `
		UPDATE services SET
			status = $2,
			responsible_type = $3,
			responsible_user_id = $4,
			description = $5,
			escalation_reason = $6,
			finished_at = $7,
			updated_at = now()
		WHERE id = $1 AND status IN ('PENDING', 'IN_PROGRESS')
		RETURNING updated_at
	`, svc.ID, svc.Status, svc.ResponsibleType, nullString(svc.ResponsibleUserID),
		svc.Description, svc.EscalationReason, svc.FinishedAt,
	).Scan(&svc.UpdatedAt)
	if isNoRows(err) {
		return entities.ErrNotFound
	}
	return err
}

// ApplyReply stores the description and escalation carried by an AI reply.
// It only touches a service the AI still holds and reports false when an
// operator took it or it was finished in between.
func (r *ServiceRepository) ApplyReply(ctx context.Context, svc *entities.Service) (bool, error) {
	err := r.db.QueryRow(ctx, `
		UPDATE services SET
			description = $2,
			responsible_type = $3,
			escalation_reason = $4,
			updated_at = now()
		WHERE id = $1 AND status IN ('PENDING', 'IN_PROGRESS') AND responsible_type = 'AI'
		RETURNING updated_at
	`, svc.ID, svc.Description, svc.ResponsibleType, svc.EscalationReason,
	).Scan(&svc.UpdatedAt)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
