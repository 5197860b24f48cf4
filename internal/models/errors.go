package models

import "errors"

var (
	// ErrPollNotFound is returned for an operation on an unknown poll id.
	ErrPollNotFound = errors.New("poll not found")
	// ErrDuplicateVote is returned when the participant already voted on the poll.
	ErrDuplicateVote = errors.New("you have already voted on this poll")
	// ErrInvalidTransition is returned for a lifecycle transition not allowed from the poll's state.
	ErrInvalidTransition = errors.New("invalid poll state transition")
	// ErrPollAlreadyActive is returned when activating a poll while another one is active.
	ErrPollAlreadyActive = errors.New("another poll is already active")
	// ErrPollClosed is returned when voting on a poll that is not accepting answers.
	ErrPollClosed = errors.New("poll is not open for answers")
	// ErrUnknownOption is returned when a vote names an option the poll does not have.
	ErrUnknownOption = errors.New("unknown poll option")
	// ErrInvalidPoll is returned when a poll definition fails validation.
	ErrInvalidPoll = errors.New("invalid poll")
	// ErrInvalidMessage is returned for an empty or oversized chat message.
	ErrInvalidMessage = errors.New("invalid chat message")
)
