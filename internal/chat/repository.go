package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/classpoll/internal/models"
)

// Repository handles chat message persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a chat repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends a message.
func (r *Repository) Insert(ctx context.Context, m *models.ChatMessage) error {
	const query = `INSERT INTO chat_messages (sender_name, sender_role, message, timestamp)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	if err := r.pool.QueryRow(ctx, query, m.SenderName, string(m.SenderRole), m.Message, m.Timestamp).Scan(&m.ID); err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

// Latest returns up to limit messages, newest first.
func (r *Repository) Latest(ctx context.Context, limit int) ([]models.ChatMessage, error) {
	const query = `SELECT id, sender_name, sender_role, message, timestamp
		FROM chat_messages ORDER BY timestamp DESC, id DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ChatMessage
	for rows.Next() {
		var (
			m    models.ChatMessage
			role string
		)
		if err := rows.Scan(&m.ID, &m.SenderName, &role, &m.Message, &m.Timestamp); err != nil {
			return nil, err
		}
		m.SenderRole = models.Role(role)
		list = append(list, m)
	}
	return list, rows.Err()
}

// DeleteBefore removes messages older than cutoff and returns how many were deleted.
func (r *Repository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM chat_messages WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
