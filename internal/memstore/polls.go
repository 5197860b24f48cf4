package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/classpoll/internal/models"
)

// Polls is an in-memory poll store.
type Polls struct {
	mu    sync.Mutex
	polls map[uuid.UUID]*models.Poll
}

// NewPolls creates an empty poll store.
func NewPolls() *Polls {
	return &Polls{polls: make(map[uuid.UUID]*models.Poll)}
}

func (s *Polls) CreateDraft(_ context.Context, p *models.Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := 1
	for _, existing := range s.polls {
		if existing.QuestionNumber >= next {
			next = existing.QuestionNumber + 1
		}
	}
	p.ID = uuid.New()
	p.QuestionNumber = next
	p.IsActive = false
	p.StartedAt, p.EndedAt = nil, nil
	p.CreatedAt = time.Now()
	s.polls[p.ID] = clonePoll(p)
	return nil
}

func (s *Polls) Get(_ context.Context, id uuid.UUID) (*models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[id]
	if !ok {
		return nil, models.ErrPollNotFound
	}
	return clonePoll(p), nil
}

func (s *Polls) GetActive(_ context.Context) (*models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.polls {
		if p.IsActive {
			return clonePoll(p), nil
		}
	}
	return nil, nil
}

func (s *Polls) Activate(_ context.Context, id uuid.UUID, at time.Time) (*models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[id]
	if !ok {
		return nil, models.ErrPollNotFound
	}
	if p.State() != models.PollDraft {
		return nil, models.ErrInvalidTransition
	}
	for _, other := range s.polls {
		if other.IsActive {
			return nil, models.ErrPollAlreadyActive
		}
	}
	p.IsActive = true
	p.StartedAt = &at
	return clonePoll(p), nil
}

func (s *Polls) Deactivate(_ context.Context, id uuid.UUID, at time.Time) (*models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[id]
	if !ok {
		return nil, models.ErrPollNotFound
	}
	if p.State() != models.PollActive {
		return nil, models.ErrInvalidTransition
	}
	p.IsActive = false
	p.EndedAt = &at
	return clonePoll(p), nil
}

func (s *Polls) History(_ context.Context, limit int) ([]models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []models.Poll
	for _, p := range s.polls {
		if !p.IsActive && p.EndedAt != nil {
			list = append(list, *clonePoll(p))
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].QuestionNumber > list[j].QuestionNumber
	})
	if limit >= 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func clonePoll(p *models.Poll) *models.Poll {
	c := *p
	c.Options = append([]models.PollOption(nil), p.Options...)
	if p.StartedAt != nil {
		t := *p.StartedAt
		c.StartedAt = &t
	}
	if p.EndedAt != nil {
		t := *p.EndedAt
		c.EndedAt = &t
	}
	return &c
}
