package models

import (
	"time"

	"github.com/google/uuid"
)

// PollState is the lifecycle stage of a poll, derived from its timestamps.
type PollState string

const (
	PollDraft  PollState = "draft"
	PollActive PollState = "active"
	PollEnded  PollState = "ended"
)

// PollOption is one selectable answer of a poll.
type PollOption struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect,omitempty"`
}

// Poll represents a multiple-choice question broadcast to the classroom.
// JSON field names follow the client wire format.
type Poll struct {
	ID             uuid.UUID    `json:"_id"`
	Question       string       `json:"question"`
	Options        []PollOption `json:"options"`
	Duration       int          `json:"duration"` // seconds
	QuestionNumber int          `json:"questionNumber"`
	StartedAt      *time.Time   `json:"startedAt,omitempty"`
	EndedAt        *time.Time   `json:"endedAt,omitempty"`
	IsActive       bool         `json:"isActive"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// State reports where the poll is in the draft -> active -> ended lifecycle.
func (p *Poll) State() PollState {
	switch {
	case p.EndedAt != nil:
		return PollEnded
	case p.IsActive:
		return PollActive
	default:
		return PollDraft
	}
}

// Deadline returns startedAt+duration. ok is false for a poll that was never started.
func (p *Poll) Deadline() (deadline time.Time, ok bool) {
	if p.StartedAt == nil {
		return time.Time{}, false
	}
	return p.StartedAt.Add(time.Duration(p.Duration) * time.Second), true
}

// RemainingSeconds returns the whole seconds left before the deadline at now, never negative.
// Elapsed time is truncated to whole seconds the way clients count down.
func (p *Poll) RemainingSeconds(now time.Time) int {
	if p.StartedAt == nil {
		return 0
	}
	elapsed := int(now.Sub(*p.StartedAt) / time.Second)
	remaining := p.Duration - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// HasOption reports whether optionID is one of the poll's options.
func (p *Poll) HasOption(optionID string) bool {
	for _, o := range p.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}
