package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mohumedraslan/intaj-gateway/internal/channel"
	"github.com/mohumedraslan/intaj-gateway/internal/db"
)

// PGStore is the Postgres-backed conversation log.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Append inserts one message. A missing id or timestamp is filled in.
func (s *PGStore) Append(ctx context.Context, msg channel.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO messages (id, conversation_id, role, kind, content, media_url, platform, external_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		msg.ID, msg.ConversationID, string(msg.Role), string(msg.Kind),
		msg.Text, db.ToPgText(msg.MediaURL), msg.Platform.String(),
		db.ToPgText(msg.ExternalID), msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// Latest returns the n most recent messages of a conversation, oldest first.
func (s *PGStore) Latest(ctx context.Context, conversationID string, n int) ([]channel.Message, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id::text, conversation_id, role, kind, content,
       COALESCE(media_url, ''), platform, COALESCE(external_id, ''), created_at
FROM messages
WHERE conversation_id = $1
ORDER BY created_at DESC
LIMIT $2`, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var newestFirst []channel.Message
	for rows.Next() {
		var msg channel.Message
		var role, kind, platform string
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &role, &kind, &msg.Text,
			&msg.MediaURL, &platform, &msg.ExternalID, &msg.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = channel.Role(role)
		msg.Kind = channel.MessageKind(kind)
		msg.Platform = channel.Platform(platform)
		newestFirst = append(newestFirst, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}

	// reverse to chronological order
	for i, j := 0, len(newestFirst)-1; i < j; i, j = i+1, j-1 {
		newestFirst[i], newestFirst[j] = newestFirst[j], newestFirst[i]
	}
	return newestFirst, nil
}
