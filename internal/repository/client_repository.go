package repository

import (
	"context"

	"retailcrm/internal/entities"

	"github.com/jackc/pgx/v5"
)

type ClientRepository struct {
	db DBTX
}

func NewClientRepository(db DBTX) *ClientRepository {
	return &ClientRepository{db: db}
}

func scanClient(row pgx.Row) (*entities.Client, error) {
	var c entities.Client
	if err := row.Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Phone, &c.Email, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ClientRepository) GetByID(ctx context.Context, id string) (*entities.Client, error) {
	c, err := scanClient(r.db.QueryRow(ctx,
		"SELECT id, organization_id, name, phone, email, created_at FROM clients WHERE id = $1", id))
	if isNoRows(err) {
		return nil, nil
	}
	return c, err
}

func (r *ClientRepository) GetByPhone(ctx context.Context, orgID, phone string) (*entities.Client, error) {
	c, err := scanClient(r.db.QueryRow(ctx,
		"SELECT id, organization_id, name, phone, email, created_at FROM clients WHERE organization_id = $1 AND phone = $2",
		orgID, phone))
	if isNoRows(err) {
		return nil, nil
	}
	return c, err
}

// CreateIfAbsent relies on UNIQUE (organization_id, phone); a concurrent
// insert of the same phone yields false instead of an error.
func (r *ClientRepository) CreateIfAbsent(ctx context.Context, client *entities.Client) (bool, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO clients (id, organization_id, name, phone, email)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (organization_id, phone) DO NOTHING
		RETURNING created_at
	`, client.ID, client.OrganizationID, client.Name, client.Phone, client.Email).Scan(&client.CreatedAt)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
