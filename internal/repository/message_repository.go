package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"stayline/internal/entities"
)

// MessageRepository is the append-only conversation log. Every append is a
// new row; nothing is ever updated or deleted.
type MessageRepository struct {
	db *pgxpool.Pool
}

func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Append(ctx context.Context, conversationID string, role entities.Role, content string, metadata map[string]string) (*entities.Message, error) {
	msg := &entities.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Metadata:       metadata,
		CreatedAt:      time.Now(),
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, msg.ConversationID, msg.Role, msg.Content, metadataJSON(metadata), msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// History returns the newest limit messages in creation order (oldest
// first). limit <= 0 means no limit.
func (r *MessageRepository) History(ctx context.Context, conversationID string, limit int) ([]entities.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, metadata, created_at
		FROM messages WHERE conversation_id=$1
		ORDER BY created_at ASC, id ASC`
	args := []any{conversationID}
	if limit > 0 {
		// Take the tail without losing the ascending order.
		query = `
			SELECT id, conversation_id, role, content, metadata, created_at FROM (
				SELECT id, conversation_id, role, content, metadata, created_at
				FROM messages WHERE conversation_id=$1
				ORDER BY created_at DESC, id DESC
				LIMIT $2
			) tail ORDER BY created_at ASC, id ASC`
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []entities.Message{}
	for rows.Next() {
		var m entities.Message
		var meta []byte
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &meta, &m.CreatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &m.Metadata)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
