package repository

import (
	"context"

	"retailcrm/internal/entities"
)

type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *entities.User) error {
	return r.db.QueryRow(ctx,
		"INSERT INTO users (id, organization_id, username, password_hash, role) VALUES ($1, $2, $3, $4, $5) RETURNING created_at",
		user.ID, user.OrganizationID, user.Username, user.PasswordHash, user.Role).Scan(&user.CreatedAt)
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*entities.User, error) {
	return r.getOne(ctx, "id", id)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*entities.User, error) {
	return r.getOne(ctx, "username", username)
}

func (r *UserRepository) getOne(ctx context.Context, column, value string) (*entities.User, error) {
	var user entities.User
	err := r.db.QueryRow(ctx,
		"SELECT id, organization_id, username, password_hash, role, created_at FROM users WHERE "+column+" = $1",
		value).Scan(&user.ID, &user.OrganizationID, &user.Username, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if isNoRows(err) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
