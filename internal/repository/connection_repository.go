package repository

import (
	"context"

	"retailcrm/internal/entities"

	"github.com/jackc/pgx/v5"
)

type ConnectionRepository struct {
	db DBTX
}

func NewConnectionRepository(db DBTX) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

const connectionColumns = "id, organization_id, session_id, name, phone, status, ai_enabled, qr_code, updated_at"

func scanConnection(row pgx.Row) (*entities.Connection, error) {
	var c entities.Connection
	err := row.Scan(&c.ID, &c.OrganizationID, &c.SessionID, &c.Name, &c.Phone,
		&c.Status, &c.AIEnabled, &c.QRCode, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ConnectionRepository) Create(ctx context.Context, conn *entities.Connection) error {
	if conn.Status == "" {
		conn.Status = entities.ConnectionDisconnected
	}
	return r.db.QueryRow(ctx, `
		INSERT INTO connections (id, organization_id, session_id, name, phone, status, ai_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING updated_at
	`, conn.ID, conn.OrganizationID, conn.SessionID, conn.Name, conn.Phone, conn.Status, conn.AIEnabled,
	).Scan(&conn.UpdatedAt)
}

func (r *ConnectionRepository) GetByID(ctx context.Context, id string) (*entities.Connection, error) {
	c, err := scanConnection(r.db.QueryRow(ctx,
		"SELECT "+connectionColumns+" FROM connections WHERE id = $1", id))
	if isNoRows(err) {
		return nil, nil
	}
	return c, err
}

func (r *ConnectionRepository) GetBySession(ctx context.Context, sessionID string) (*entities.Connection, error) {
	c, err := scanConnection(r.db.QueryRow(ctx,
		"SELECT "+connectionColumns+" FROM connections WHERE session_id = $1", sessionID))
	if isNoRows(err) {
		return nil, nil
	}
	return c, err
}

func (r *ConnectionRepository) List(ctx context.Context) ([]entities.Connection, error) {
	rows, err := r.db.Query(ctx, "SELECT "+connectionColumns+" FROM connections ORDER BY session_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entities.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// UpdateStatus keeps the previous phone when the gateway omits it. The QR
// payload is cleared once the session leaves the pairing state.
func (r *ConnectionRepository) UpdateStatus(ctx context.Context, sessionID string, status entities.ConnectionStatus, phone, qrCode string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE connections
		SET status = $2,
		    phone = COALESCE(NULLIF($3, ''), phone),
		    qr_code = $4,
		    updated_at = now()
		WHERE session_id = $1
	`, sessionID, status, phone, qrCode)
	return err
}

func (r *ConnectionRepository) SetAIEnabled(ctx context.Context, id string, enabled bool) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE connections SET ai_enabled = $2, updated_at = now() WHERE id = $1", id, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return entities.ErrNotFound
	}
	return nil
}
