package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/aura-webinar/classpoll/internal/models"
)

type voteKey struct {
	pollID    uuid.UUID
	sessionID string
}

// Votes is an in-memory vote store with a (poll, session) uniqueness index.
type Votes struct {
	mu     sync.Mutex
	votes  []models.Vote
	unique map[voteKey]struct{}
}

// NewVotes creates an empty vote store.
func NewVotes() *Votes {
	return &Votes{unique: make(map[voteKey]struct{})}
}

func (s *Votes) Insert(_ context.Context, v *models.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := voteKey{pollID: v.PollID, sessionID: v.SessionID}
	if _, dup := s.unique[key]; dup {
		return models.ErrDuplicateVote
	}
	v.ID = uuid.New()
	s.unique[key] = struct{}{}
	s.votes = append(s.votes, *v)
	return nil
}

func (s *Votes) Exists(_ context.Context, pollID uuid.UUID, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.unique[voteKey{pollID: pollID, sessionID: sessionID}]
	return ok, nil
}

func (s *Votes) Count(_ context.Context, pollID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.votes {
		if v.PollID == pollID {
			n++
		}
	}
	return n, nil
}

func (s *Votes) ListByPoll(_ context.Context, pollID uuid.UUID) ([]models.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []models.Vote
	for _, v := range s.votes {
		if v.PollID == pollID {
			list = append(list, v)
		}
	}
	return list, nil
}
