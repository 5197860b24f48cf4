package realtime

import (
	"encoding/json"
	"time"

	"github.com/aura-webinar/classpoll/internal/models"
)

// Inbound events.
const (
	EventRegister        = "user:register"
	EventCreatePoll      = "teacher:create-poll"
	EventEndPoll         = "teacher:end-poll"
	EventKickStudent     = "teacher:kick-student"
	EventVote            = "student:vote"
	EventGetCurrentState = "get:current-state"
	EventGetPollHistory  = "get:poll-history"
	EventChatSend        = "chat:send"
)

// Outbound events.
const (
	EventRegistered    = "user:registered"
	EventKicked        = "user:kicked"
	EventError         = "error"
	EventPollCreated   = "poll:created"
	EventPollEnded     = "poll:ended"
	EventPollResults   = "poll:results"
	EventPollState     = "poll:state"
	EventPollHistory   = "poll:history"
	EventVoteSubmitted = "vote:submitted"
	EventStudentsList  = "students:list"
	EventChatMessage   = "chat:message"
	EventChatHistory   = "chat:history"
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type registerRequest struct {
	SessionID string      `json:"sessionId"`
	Name      string      `json:"name"`
	Role      models.Role `json:"role"`
}

type createPollRequest struct {
	Question string              `json:"question"`
	Options  []models.PollOption `json:"options"`
	Duration int                 `json:"duration"`
}

type pollRequest struct {
	PollID string `json:"pollId"`
}

type voteRequest struct {
	PollID   string `json:"pollId"`
	OptionID string `json:"optionId"`
}

type kickRequest struct {
	SessionID string `json:"sessionId"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type successPayload struct {
	Success bool `json:"success"`
}

type pollCreatedPayload struct {
	Poll      *models.Poll `json:"poll"`
	StartedAt *time.Time   `json:"startedAt"`
}

type pollEndedPayload struct {
	Poll    *models.Poll    `json:"poll"`
	Results *models.Results `json:"results"`
}

// pollStatePayload is the late-joiner snapshot. Poll is null when nothing can be answered.
type pollStatePayload struct {
	Poll          *models.Poll    `json:"poll"`
	StartedAt     *time.Time      `json:"startedAt,omitempty"`
	HasVoted      *bool           `json:"hasVoted,omitempty"`
	Results       *models.Results `json:"results,omitempty"`
	TimeRemaining *int            `json:"timeRemaining,omitempty"`
}

type studentPayload struct {
	Name      string `json:"name"`
	SessionID string `json:"sessionId"`
}

type chatPayload struct {
	Name      string      `json:"name"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
	Role      models.Role `json:"role"`
}

func toChatPayload(m models.ChatMessage) chatPayload {
	return chatPayload{Name: m.SenderName, Message: m.Message, Timestamp: m.Timestamp, Role: m.SenderRole}
}
