package polls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/classpoll/internal/models"
	"github.com/aura-webinar/classpoll/pkg/database"
)

const pollColumns = `id, question, options, duration, question_number, started_at, ended_at, is_active, created_at`

// Repository handles poll persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a polls repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateDraft inserts an inactive poll numbered one past the highest existing question number.
func (r *Repository) CreateDraft(ctx context.Context, p *models.Poll) error {
	options, err := json.Marshal(p.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	const query = `INSERT INTO polls (question, options, duration, question_number, is_active)
		VALUES ($1, $2, $3, (SELECT COALESCE(MAX(question_number), 0) + 1 FROM polls), FALSE)
		RETURNING id, question_number, created_at`
	if err := r.pool.QueryRow(ctx, query, p.Question, options, p.Duration).
		Scan(&p.ID, &p.QuestionNumber, &p.CreatedAt); err != nil {
		return fmt.Errorf("insert poll: %w", err)
	}
	p.IsActive = false
	p.StartedAt, p.EndedAt = nil, nil
	return nil
}

// Get returns a poll by ID.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	query := `SELECT ` + pollColumns + ` FROM polls WHERE id = $1`
	p, err := scanPoll(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrPollNotFound
	}
	return p, err
}

// GetActive returns the active poll, or nil when none is active.
func (r *Repository) GetActive(ctx context.Context) (*models.Poll, error) {
	query := `SELECT ` + pollColumns + ` FROM polls WHERE is_active LIMIT 1`
	p, err := scanPoll(r.pool.QueryRow(ctx, query))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// Activate moves a draft poll to active. The polls_single_active index rejects a second active poll.
func (r *Repository) Activate(ctx context.Context, id uuid.UUID, at time.Time) (*models.Poll, error) {
	query := `UPDATE polls SET is_active = TRUE, started_at = $2
		WHERE id = $1 AND NOT is_active AND started_at IS NULL
		RETURNING ` + pollColumns
	p, err := scanPoll(r.pool.QueryRow(ctx, query, id, at))
	switch {
	case database.IsUniqueViolation(err, "polls_single_active"):
		return nil, models.ErrPollAlreadyActive
	case errors.Is(err, pgx.ErrNoRows):
		return nil, r.transitionError(ctx, id)
	}
	return p, err
}

// Deactivate moves an active poll to ended.
func (r *Repository) Deactivate(ctx context.Context, id uuid.UUID, at time.Time) (*models.Poll, error) {
	query := `UPDATE polls SET is_active = FALSE, ended_at = $2
		WHERE id = $1 AND is_active
		RETURNING ` + pollColumns
	p, err := scanPoll(r.pool.QueryRow(ctx, query, id, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.transitionError(ctx, id)
	}
	return p, err
}

// History returns ended polls, most recently created first.
func (r *Repository) History(ctx context.Context, limit int) ([]models.Poll, error) {
	query := `SELECT ` + pollColumns + ` FROM polls
		WHERE NOT is_active AND ended_at IS NOT NULL
		ORDER BY created_at DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Poll
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}

// SaveSnapshot stores the final results of an ended poll. Re-archiving the same poll overwrites it.
func (r *Repository) SaveSnapshot(ctx context.Context, res *models.Results, archiveKey string) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	var key *string
	if archiveKey != "" {
		key = &archiveKey
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO poll_result_snapshots (poll_id, results, total_votes, archive_key)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (poll_id) DO UPDATE
		SET results = EXCLUDED.results, total_votes = EXCLUDED.total_votes, archive_key = EXCLUDED.archive_key`,
		res.Poll.ID, body, res.TotalVotes, key)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// transitionError tells a missing poll apart from one in the wrong state.
func (r *Repository) transitionError(ctx context.Context, id uuid.UUID) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return models.ErrInvalidTransition
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPoll(row scanner) (*models.Poll, error) {
	var (
		p       models.Poll
		options []byte
	)
	if err := row.Scan(&p.ID, &p.Question, &options, &p.Duration, &p.QuestionNumber,
		&p.StartedAt, &p.EndedAt, &p.IsActive, &p.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(options, &p.Options); err != nil {
		return nil, fmt.Errorf("unmarshal options: %w", err)
	}
	return &p, nil
}
