package votes

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/classpoll/internal/models"
)

// Store is the persistence the ledger needs. Insert must enforce (PollID, SessionID)
// uniqueness itself and report a conflict as models.ErrDuplicateVote.
type Store interface {
	Insert(ctx context.Context, v *models.Vote) error
	Exists(ctx context.Context, pollID uuid.UUID, sessionID string) (bool, error)
	Count(ctx context.Context, pollID uuid.UUID) (int, error)
	ListByPoll(ctx context.Context, pollID uuid.UUID) ([]models.Vote, error)
}

// Ledger records votes and answers questions about them.
type Ledger struct {
	store Store
	now   func() time.Time
}

// NewLedger creates a vote ledger over store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Submit records a vote. The existence check only saves a write; a concurrent
// duplicate still fails at the store with models.ErrDuplicateVote.
func (l *Ledger) Submit(ctx context.Context, pollID uuid.UUID, sessionID, name, optionID string) (*models.Vote, error) {
	voted, err := l.store.Exists(ctx, pollID, sessionID)
	if err != nil {
		return nil, err
	}
	if voted {
		return nil, models.ErrDuplicateVote
	}
	v := &models.Vote{
		PollID:      pollID,
		SessionID:   sessionID,
		StudentName: name,
		OptionID:    optionID,
		VotedAt:     l.now(),
	}
	if err := l.store.Insert(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// HasVoted reports whether sessionID voted on pollID.
func (l *Ledger) HasVoted(ctx context.Context, pollID uuid.UUID, sessionID string) (bool, error) {
	return l.store.Exists(ctx, pollID, sessionID)
}

// Count returns the number of votes cast on pollID.
func (l *Ledger) Count(ctx context.Context, pollID uuid.UUID) (int, error) {
	return l.store.Count(ctx, pollID)
}

// ListByPoll returns the votes cast on pollID.
func (l *Ledger) ListByPoll(ctx context.Context, pollID uuid.UUID) ([]models.Vote, error) {
	return l.store.ListByPoll(ctx, pollID)
}

// Tally counts votes per option in option order. Percentages are rounded
// count/total*100, and all zero when there are no votes.
func Tally(options []models.PollOption, votes []models.Vote) []models.OptionResult {
	counts := make(map[string]int, len(options))
	for _, v := range votes {
		counts[v.OptionID]++
	}
	total := len(votes)
	out := make([]models.OptionResult, 0, len(options))
	for _, o := range options {
		r := models.OptionResult{OptionID: o.ID, OptionText: o.Text, Count: counts[o.ID]}
		if total > 0 {
			r.Percentage = int(math.Round(float64(r.Count) / float64(total) * 100))
		}
		out = append(out, r)
	}
	return out
}
