package repository

import (
	"context"
	"time"

	"retailcrm/internal/entities"
)

type UsageRepository struct {
	db DBTX
}

func NewUsageRepository(db DBTX) *UsageRepository {
	return &UsageRepository{db: db}
}

// Record counts one message on the UTC day of at. Client messages count as
// received; everything else as sent, and AI messages also as AI replies.
func (r *UsageRepository) Record(ctx context.Context, orgID string, at time.Time, author entities.AuthorKind) error {
	var sent, received, ai int
	switch author {
	case entities.AuthorClient:
		received = 1
	case entities.AuthorAI:
		sent, ai = 1, 1
	default:
		sent = 1
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO message_usage (organization_id, day, messages_sent, messages_received, ai_replies)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (organization_id, day)
		DO UPDATE SET
			messages_sent = message_usage.messages_sent + EXCLUDED.messages_sent,
			messages_received = message_usage.messages_received + EXCLUDED.messages_received,
			ai_replies = message_usage.ai_replies + EXCLUDED.ai_replies
	`, orgID, utcDay(at), sent, received, ai)
	return err
}

// History returns the recorded days from the UTC day of from onwards, oldest
// first. Days without traffic have no row.
func (r *UsageRepository) History(ctx context.Context, orgID string, from time.Time) ([]entities.DailyUsage, error) {
	rows, err := r.db.Query(ctx, `
		SELECT day, messages_sent, messages_received, ai_replies
		FROM message_usage
		WHERE organization_id = $1 AND day >= $2
		ORDER BY day ASC
	`, orgID, utcDay(from))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	usage := []entities.DailyUsage{}
	for rows.Next() {
		var u entities.DailyUsage
		if err := rows.Scan(&u.Date, &u.MessagesSent, &u.MessagesReceived, &u.AIReplies); err != nil {
			return nil, err
		}
		usage = append(usage, u)
	}
	return usage, rows.Err()
}

func utcDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
