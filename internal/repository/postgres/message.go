package postgres

import (
	"context"
	"fmt"

	"docchat/internal/repository"
)

// MessageRepo implements repository.MessageRepository
type MessageRepo struct {
	db *DB
}

// NewMessageRepo creates a new message repository
func NewMessageRepo(db *DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Add persists one chat message
func (r *MessageRepo) Add(ctx context.Context, msg *repository.Message) error {
	query := `
		INSERT INTO messages (id, session_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.Pool.Exec(ctx, query, msg.ID, msg.SessionID, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add message: %w", err)
	}
	return nil
}

// History returns the most recent messages in chronological order
func (r *MessageRepo) History(ctx context.Context, sessionID string, limit int) ([]*repository.Message, error) {
	query := `
		SELECT id, session_id, role, content, created_at FROM (
			SELECT id, session_id, role, content, created_at
			FROM messages
			WHERE session_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	var messages []*repository.Message
	for rows.Next() {
		var msg repository.Message
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

// Ensure MessageRepo implements MessageRepository
var _ repository.MessageRepository = (*MessageRepo)(nil)
