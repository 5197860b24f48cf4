package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/aura-webinar/classpoll/internal/models"
)

// Participants is an in-memory participant identity store.
type Participants struct {
	mu    sync.Mutex
	users map[string]*models.Participant
}

// NewParticipants creates an empty participant store.
func NewParticipants() *Participants {
	return &Participants{users: make(map[string]*models.Participant)}
}

func (s *Participants) Get(_ context.Context, sessionID string) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.users[sessionID]
	if !ok {
		return nil, nil
	}
	c := *p
	return &c, nil
}

func (s *Participants) Upsert(_ context.Context, sessionID, name string, role models.Role, at time.Time) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.users[sessionID]
	if !ok {
		p = &models.Participant{SessionID: sessionID}
		s.users[sessionID] = p
	}
	p.Name, p.Role, p.ConnectedAt = name, role, at
	c := *p
	return &c, nil
}

func (s *Participants) Kick(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.users[sessionID]
	if !ok {
		p = &models.Participant{SessionID: sessionID, Role: models.RoleStudent}
		s.users[sessionID] = p
	}
	p.IsKicked = true
	return nil
}

// Len returns the number of participant records.
func (s *Participants) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}
