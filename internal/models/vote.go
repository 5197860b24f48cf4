package models

import (
	"time"

	"github.com/google/uuid"
)

// Vote is a student's answer to a poll. One per (PollID, SessionID).
type Vote struct {
	ID          uuid.UUID `json:"_id"`
	PollID      uuid.UUID `json:"pollId"`
	SessionID   string    `json:"studentSessionId"`
	StudentName string    `json:"studentName"`
	OptionID    string    `json:"optionId"`
	VotedAt     time.Time `json:"votedAt"`
}

// OptionResult is the tally of a single option.
type OptionResult struct {
	OptionID   string `json:"optionId"`
	OptionText string `json:"optionText"`
	Count      int    `json:"count"`
	Percentage int    `json:"percentage"`
}

// Voter is the audit entry shown in results and history.
type Voter struct {
	Name    string    `json:"name"`
	VotedAt time.Time `json:"votedAt"`
}

// Results is a poll with its current tally.
type Results struct {
	Poll       *Poll          `json:"poll"`
	Results    []OptionResult `json:"results"`
	TotalVotes int            `json:"totalVotes"`
	Voters     []Voter        `json:"voters"`
}
