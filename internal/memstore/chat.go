package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/classpoll/internal/models"
)

// Chat is an in-memory append-only chat store.
type Chat struct {
	mu       sync.Mutex
	messages []models.ChatMessage
}

// NewChat creates an empty chat store.
func NewChat() *Chat {
	return &Chat{}
}

func (s *Chat) Insert(_ context.Context, m *models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = uuid.New()
	s.messages = append(s.messages, *m)
	return nil
}

// Latest returns up to limit messages, newest first. Insertion order breaks timestamp ties.
func (s *Chat) Latest(_ context.Context, limit int) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ChatMessage, 0, limit)
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.messages[i])
	}
	return out, nil
}

func (s *Chat) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.messages[:0]
	var deleted int64
	for _, m := range s.messages {
		if m.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, m)
	}
	s.messages = kept
	return deleted, nil
}
