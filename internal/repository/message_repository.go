package repository

import (
	"context"

	"retailcrm/internal/entities"

	"github.com/jackc/pgx/v5"
)

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `id, organization_id, chat_id, client_id, COALESCE(external_id, ''),
	author, COALESCE(author_user_id::text, ''), type, text, status, media,
	media_text, media_summary, send_timestamp, created_at`

func scanMessage(row pgx.Row) (*entities.Message, error) {
	var m entities.Message
	err := row.Scan(&m.ID, &m.OrganizationID, &m.ChatID, &m.ClientID, &m.ExternalID,
		&m.Author, &m.AuthorUserID, &m.Type, &m.Text, &m.Status, &m.Media,
		&m.MediaText, &m.MediaSummary, &m.SendTimestamp, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MessageRepository) queryMessages(ctx context.Context, sql string, args ...any) ([]entities.Message, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entities.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *MessageRepository) Insert(ctx context.Context, m *entities.Message) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO messages (id, organization_id, chat_id, client_id, external_id, author, author_user_id,
		                      type, text, status, media, send_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at
	`, m.ID, m.OrganizationID, m.ChatID, m.ClientID, nullString(m.ExternalID), m.Author,
		nullString(m.AuthorUserID), m.Type, m.Text, m.Status, m.Media, m.SendTimestamp,
	).Scan(&m.CreatedAt)
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*entities.Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx, "SELECT "+messageColumns+" FROM messages WHERE id = $1", id))
	if isNoRows(err) {
		return nil, nil
	}
	return m, err
}

func (r *MessageRepository) GetByExternalID(ctx context.Context, externalID string) (*entities.Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE external_id = $1 ORDER BY created_at DESC LIMIT 1", externalID))
	if isNoRows(err) {
		return nil, nil
	}
	return m, err
}

func (r *MessageRepository) MarkDispatched(ctx context.Context, id, externalID string, status entities.MessageStatus) error {
	_, err := r.db.Exec(ctx,
		"UPDATE messages SET external_id = COALESCE($2, external_id), status = $3 WHERE id = $1",
		id, nullString(externalID), status)
	return err
}

func (r *MessageRepository) UpdateStatusByExternalID(ctx context.Context, externalID string, status entities.MessageStatus) (*entities.Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx, `
		UPDATE messages SET status = $2
		WHERE id = (SELECT id FROM messages WHERE external_id = $1 ORDER BY created_at DESC LIMIT 1)
		RETURNING `+messageColumns,
		externalID, status))
	if isNoRows(err) {
		return nil, nil
	}
	return m, err
}

func (r *MessageRepository) SetEnrichment(ctx context.Context, id string, e entities.Enrichment) error {
	_, err := r.db.Exec(ctx,
		"UPDATE messages SET media_text = $2, media_summary = $3 WHERE id = $1",
		id, e.Text, e.Summary)
	return err
}

func (r *MessageRepository) ListByChat(ctx context.Context, chatID string, from *entities.Cursor, limit int) ([]entities.Message, error) {
	if from == nil {
		return r.queryMessages(ctx, "SELECT "+messageColumns+`
			FROM messages
			WHERE chat_id = $1
			ORDER BY send_timestamp DESC, id DESC
			LIMIT $2
		`, chatID, limit)
	}
	return r.queryMessages(ctx, "SELECT "+messageColumns+`
		FROM messages
		WHERE chat_id = $1 AND (send_timestamp, id) <= ($2, $3::uuid)
		ORDER BY send_timestamp DESC, id DESC
		LIMIT $4
	`, chatID, from.At, from.ID, limit)
}

func (r *MessageRepository) Recent(ctx context.Context, chatID string, limit int) ([]entities.Message, error) {
	return r.queryMessages(ctx, "SELECT "+messageColumns+`
		FROM (
			SELECT * FROM messages WHERE chat_id = $1
			ORDER BY send_timestamp DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY send_timestamp, id
	`, chatID, limit)
}
