package votes

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/classpoll/internal/models"
	"github.com/aura-webinar/classpoll/pkg/database"
)

// Repository handles vote persistence. UNIQUE (poll_id, student_session_id) is the
// authority for one vote per participant per poll.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a votes repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert records a vote, returning models.ErrDuplicateVote on a uniqueness conflict.
func (r *Repository) Insert(ctx context.Context, v *models.Vote) error {
	const query = `INSERT INTO votes (poll_id, student_session_id, student_name, option_id, voted_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	err := r.pool.QueryRow(ctx, query, v.PollID, v.SessionID, v.StudentName, v.OptionID, v.VotedAt).Scan(&v.ID)
	if database.IsUniqueViolation(err, "") {
		return models.ErrDuplicateVote
	}
	if err != nil {
		return fmt.Errorf("insert vote: %w", err)
	}
	return nil
}

// Exists reports whether sessionID already voted on pollID.
func (r *Repository) Exists(ctx context.Context, pollID uuid.UUID, sessionID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM votes WHERE poll_id = $1 AND student_session_id = $2)`
	var ok bool
	err := r.pool.QueryRow(ctx, query, pollID, sessionID).Scan(&ok)
	return ok, err
}

// Count returns the number of votes on a poll.
func (r *Repository) Count(ctx context.Context, pollID uuid.UUID) (int, error) {
	const query = `SELECT COUNT(*) FROM votes WHERE poll_id = $1`
	var n int
	err := r.pool.QueryRow(ctx, query, pollID).Scan(&n)
	return n, err
}

// ListByPoll returns all votes on a poll in the order they were cast.
func (r *Repository) ListByPoll(ctx context.Context, pollID uuid.UUID) ([]models.Vote, error) {
	const query = `SELECT id, poll_id, student_session_id, student_name, option_id, voted_at
		FROM votes WHERE poll_id = $1 ORDER BY voted_at, id`
	rows, err := r.pool.Query(ctx, query, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Vote
	for rows.Next() {
		var v models.Vote
		if err := rows.Scan(&v.ID, &v.PollID, &v.SessionID, &v.StudentName, &v.OptionID, &v.VotedAt); err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	return list, rows.Err()
}
