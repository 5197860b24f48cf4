package participants

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/classpoll/internal/models"
)

// Store is the durable participant identity store.
type Store interface {
	// Get returns the participant, or nil when the session id was never seen.
	Get(ctx context.Context, sessionID string) (*models.Participant, error)
	// Upsert records name/role for sessionID. It never clears the kicked flag.
	Upsert(ctx context.Context, sessionID, name string, role models.Role, at time.Time) (*models.Participant, error)
	// Kick sets the sticky kicked flag, creating the record if needed.
	Kick(ctx context.Context, sessionID string) error
}

// Repository handles participant persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a participants repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns a participant by session id.
func (r *Repository) Get(ctx context.Context, sessionID string) (*models.Participant, error) {
	const query = `SELECT session_id, name, role, connected_at, is_kicked FROM participants WHERE session_id = $1`
	p, err := scanParticipant(r.pool.QueryRow(ctx, query, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// Upsert creates or refreshes a participant.
func (r *Repository) Upsert(ctx context.Context, sessionID, name string, role models.Role, at time.Time) (*models.Participant, error) {
	const query = `INSERT INTO participants (session_id, name, role, connected_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE SET name = EXCLUDED.name, role = EXCLUDED.role, connected_at = EXCLUDED.connected_at
		RETURNING session_id, name, role, connected_at, is_kicked`
	p, err := scanParticipant(r.pool.QueryRow(ctx, query, sessionID, name, string(role), at))
	if err != nil {
		return nil, fmt.Errorf("upsert participant: %w", err)
	}
	return p, nil
}

// Kick marks a participant kicked. Kicking an unknown session creates a kicked placeholder
// so the first registration attempt is refused.
func (r *Repository) Kick(ctx context.Context, sessionID string) error {
	const query = `INSERT INTO participants (session_id, name, role, is_kicked)
		VALUES ($1, '', 'student', TRUE)
		ON CONFLICT (session_id) DO UPDATE SET is_kicked = TRUE`
	if _, err := r.pool.Exec(ctx, query, sessionID); err != nil {
		return fmt.Errorf("kick participant: %w", err)
	}
	return nil
}

func scanParticipant(row pgx.Row) (*models.Participant, error) {
	var (
		p    models.Participant
		role string
	)
	if err := row.Scan(&p.SessionID, &p.Name, &role, &p.ConnectedAt, &p.IsKicked); err != nil {
		return nil, err
	}
	p.Role = models.Role(role)
	return &p, nil
}
