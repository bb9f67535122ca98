package repository

import (
	"context"
	"strings"
	"time"

	"retailcrm/internal/entities"

	"github.com/jackc/pgx/v5"
)

type ChatRepository struct {
	db DBTX
}

func NewChatRepository(db DBTX) *ChatRepository {
	return &ChatRepository{db: db}
}

const chatSelect = `
	SELECT c.id, c.organization_id, c.client_id, c.connection_id,
	       cl.name, cl.phone,
	       COALESCE(c.last_message_id::text, ''), c.last_message_text, c.last_message_type,
	       c.last_message_at, c.last_activity_at, c.unread_count,
	       c.debounce_token, c.debounce_fired_token, c.created_at
	FROM chats c
	JOIN clients cl ON cl.id = c.client_id
`

func scanChat(row pgx.Row) (*entities.Chat, error) {
	var c entities.Chat
	err := row.Scan(&c.ID, &c.OrganizationID, &c.ClientID, &c.ConnectionID,
		&c.ClientName, &c.ClientPhone,
		&c.LastMessageID, &c.LastMessageText, &c.LastMessageType,
		&c.LastMessageAt, &c.LastActivityAt, &c.UnreadCount,
		&c.DebounceToken, &c.DebounceFiredToken, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ChatRepository) queryChats(ctx context.Context, sql string, args ...any) ([]entities.Chat, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entities.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *ChatRepository) GetByID(ctx context.Context, id string) (*entities.Chat, error) {
	c, err := scanChat(r.db.QueryRow(ctx, chatSelect+" WHERE c.id = $1", id))
	if isNoRows(err) {
		return nil, nil
	}
	return c, err
}

func (r *ChatRepository) GetByClientConnection(ctx context.Context, clientID, connectionID string) (*entities.Chat, error) {
	c, err := scanChat(r.db.QueryRow(ctx,
		chatSelect+" WHERE c.client_id = $1 AND c.connection_id = $2", clientID, connectionID))
	if isNoRows(err) {
		return nil, nil
	}
	return c, err
}

func (r *ChatRepository) CreateIfAbsent(ctx context.Context, chat *entities.Chat) (bool, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO chats (id, organization_id, client_id, connection_id, last_activity_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (client_id, connection_id) DO NOTHING
		RETURNING created_at
	`, chat.ID, chat.OrganizationID, chat.ClientID, chat.ConnectionID, chat.LastActivityAt).Scan(&chat.CreatedAt)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ApplySummary stores the preview only when it is not older than the one
// already stored; the unread counter moves regardless.
func (r *ChatRepository) ApplySummary(ctx context.Context, chatID string, s entities.ChatSummary) error {
	inc := 0
	if s.IncUnread {
		inc = 1
	}
	_, err := r.db.Exec(ctx, `
		UPDATE chats SET
			last_message_id   = CASE WHEN last_message_at IS NULL OR last_message_at <= $3 THEN $2::uuid ELSE last_message_id END,
			last_message_text = CASE WHEN last_message_at IS NULL OR last_message_at <= $3 THEN $4 ELSE last_message_text END,
			last_message_type = CASE WHEN last_message_at IS NULL OR last_message_at <= $3 THEN $5 ELSE last_message_type END,
			last_message_at   = GREATEST(COALESCE(last_message_at, $3), $3),
			last_activity_at  = GREATEST(last_activity_at, $3),
			unread_count      = unread_count + $6
		WHERE id = $1
	`, chatID, s.MessageID, s.At, s.Text, s.Type, inc)
	return err
}

func (r *ChatRepository) ResetUnread(ctx context.Context, chatID string) error {
	tag, err := r.db.Exec(ctx, "UPDATE chats SET unread_count = 0 WHERE id = $1", chatID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return entities.ErrNotFound
	}
	return nil
}

func (r *ChatRepository) AdvanceDebounceToken(ctx context.Context, chatID string, token time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE chats SET debounce_token = $2
		WHERE id = $1 AND (debounce_token IS NULL OR debounce_token < $2)
	`, chatID, token)
	return err
}

func (r *ChatRepository) ClaimDebounceToken(ctx context.Context, chatID string, token time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE chats SET debounce_fired_token = debounce_token
		WHERE id = $1 AND debounce_token = $2 AND debounce_fired_token IS DISTINCT FROM $2
	`, chatID, token)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ChatRepository) ListDueTokens(ctx context.Context, dueBefore, notBefore time.Time, limit int) ([]entities.Chat, error) {
	return r.queryChats(ctx, chatSelect+`
		WHERE c.debounce_token IS NOT NULL
		  AND c.debounce_token <= $1 AND c.debounce_token >= $2
		  AND c.debounce_fired_token IS DISTINCT FROM c.debounce_token
		ORDER BY c.debounce_token
		LIMIT $3
	`, dueBefore, notBefore, limit)
}

func (r *ChatRepository) ListByConnection(ctx context.Context, connectionID string, from *entities.Cursor, limit int) ([]entities.Chat, error) {
	if from == nil {
		return r.queryChats(ctx, chatSelect+`
			WHERE c.connection_id = $1
			ORDER BY c.last_activity_at DESC, c.id DESC
			LIMIT $2
		`, connectionID, limit)
	}
	return r.queryChats(ctx, chatSelect+`
		WHERE c.connection_id = $1 AND (c.last_activity_at, c.id) <= ($2, $3::uuid)
		ORDER BY c.last_activity_at DESC, c.id DESC
		LIMIT $4
	`, connectionID, from.At, from.ID, limit)
}

func (r *ChatRepository) SearchByClientName(ctx context.Context, connectionID, query string, limit int) ([]entities.Chat, error) {
	return r.queryChats(ctx, chatSelect+`
		WHERE c.connection_id = $1 AND cl.name ILIKE '%' || $2 || '%' ESCAPE '\'
		ORDER BY c.last_activity_at DESC, c.id DESC
		LIMIT $3
	`, connectionID, escapeLike(query), limit)
}

func (r *ChatRepository) SearchByLastMessage(ctx context.Context, connectionID, query string, limit int) ([]entities.Chat, error) {
	return r.queryChats(ctx, chatSelect+`
		WHERE c.connection_id = $1 AND c.last_message_text ILIKE '%' || $2 || '%' ESCAPE '\'
		ORDER BY c.last_activity_at DESC, c.id DESC
		LIMIT $3
	`, connectionID, escapeLike(query), limit)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes query match literally inside an ILIKE pattern.
func escapeLike(query string) string {
	return likeEscaper.Replace(query)
}
