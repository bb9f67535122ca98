package repository

import (
	"context"

	"retailcrm/internal/entities"
)

type OrganizationRepository struct {
	db DBTX
}

func NewOrganizationRepository(db DBTX) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

func (r *OrganizationRepository) Create(ctx context.Context, org *entities.Organization) error {
	return r.db.QueryRow(ctx,
		"INSERT INTO organizations (id, name) VALUES ($1, $2) RETURNING created_at",
		org.ID, org.Name).Scan(&org.CreatedAt)
}

func (r *OrganizationRepository) GetByID(ctx context.Context, id string) (*entities.Organization, error) {
	var org entities.Organization
	err := r.db.QueryRow(ctx,
		"SELECT id, name, created_at FROM organizations WHERE id = $1", id,
	).Scan(&org.ID, &org.Name, &org.CreatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}
