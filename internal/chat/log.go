package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aura-webinar/classpoll/internal/models"
)

// Store is the append-only persistence behind the chat log.
type Store interface {
	Insert(ctx context.Context, m *models.ChatMessage) error
	Latest(ctx context.Context, limit int) ([]models.ChatMessage, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Log is the classroom chat record.
type Log struct {
	store Store
	now   func() time.Time
}

// NewLog creates a chat log over store.
func NewLog(store Store) *Log {
	return &Log{store: store, now: time.Now}
}

// Save trims and stores a message from name/role.
func (l *Log) Save(ctx context.Context, name string, role models.Role, text string) (*models.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: message is empty", models.ErrInvalidMessage)
	}
	if utf8.RuneCountInString(text) > models.MaxChatMessageLength {
		return nil, fmt.Errorf("%w: message exceeds %d characters", models.ErrInvalidMessage, models.MaxChatMessageLength)
	}
	m := &models.ChatMessage{
		SenderName: name,
		SenderRole: role,
		Message:    text,
		Timestamp:  l.now(),
	}
	if err := l.store.Insert(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Recent returns the newest limit messages ordered oldest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	list, err := l.store.Latest(ctx, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, nil
}

// PruneOlderThan deletes messages older than age.
func (l *Log) PruneOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	return l.PruneBefore(ctx, l.now().Add(-age))
}

// PruneBefore deletes messages sent before cutoff and returns how many were removed.
func (l *Log) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return l.store.DeleteBefore(ctx, cutoff)
}
