package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxChatMessageLength is the maximum number of characters in a chat message.
const MaxChatMessageLength = 500

// ChatMessage is one entry of the shared classroom chat.
type ChatMessage struct {
	ID         uuid.UUID `json:"id"`
	SenderName string    `json:"senderName"`
	SenderRole Role      `json:"senderRole"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}
