package messages

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chatly/chat-app/internal/chat"
)

// PostgresRepository stores messages in the messages table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repository on db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, msg chat.Message) (chat.Message, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (id, sender_id, receiver_id, text, image_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.SenderID, msg.ReceiverID, msg.Text, msg.ImageURL, msg.CreatedAt)
	if err != nil {
		return chat.Message{}, fmt.Errorf("messages: db error: %w", err)
	}
	return msg, nil
}

func (r *PostgresRepository) ListBetween(ctx context.Context, a, b string) ([]chat.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, sender_id, receiver_id, text, image_url, created_at
		 FROM messages
		 WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		 ORDER BY created_at, id`, a, b)
	if err != nil {
		return nil, fmt.Errorf("messages: db error: %w", err)
	}
	defer rows.Close()

	out := make([]chat.Message, 0)
	for rows.Next() {
		var m chat.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &m.ImageURL, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("messages: db error: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messages: db error: %w", err)
	}
	return out, nil
}
