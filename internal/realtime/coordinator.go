package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/classpoll/internal/chat"
	"github.com/aura-webinar/classpoll/internal/models"
	"github.com/aura-webinar/classpoll/internal/participants"
	"github.com/aura-webinar/classpoll/internal/polls"
)

const (
	// DefaultChatHistory is how many recent chat messages a registering client receives.
	DefaultChatHistory = 20
	// maxNameLength bounds display names.
	maxNameLength = 50
	// actionTimeout bounds the store calls of one inbound action.
	actionTimeout = 15 * time.Second
)

// ErrUnauthorized is returned when the connection's role may not perform the action.
var ErrUnauthorized = errors.New("Unauthorized")

// ErrNotStudent is returned when a kick targets a teacher session.
var ErrNotStudent = errors.New("Only students can be kicked")

// Coordinator dispatches connection events: it validates roles, routes actions to the
// poll, vote, chat and participant components, reconciles late joiners and decides
// every outbound broadcast. Each action is fault isolated; a failure only ever
// produces one error event to the requester.
type Coordinator struct {
	hub          *Hub
	polls        *polls.Manager
	chat         *chat.Log
	participants participants.Store
	logger       *zap.Logger
	chatHistory  int
}

// NewCoordinator wires a coordinator and subscribes it to roster changes and poll endings.
func NewCoordinator(hub *Hub, manager *polls.Manager, chatLog *chat.Log, people participants.Store, chatHistory int, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if chatHistory <= 0 {
		chatHistory = DefaultChatHistory
	}
	c := &Coordinator{
		hub:          hub,
		polls:        manager,
		chat:         chatLog,
		participants: people,
		logger:       logger,
		chatHistory:  chatHistory,
	}
	hub.SetRosterChangeHandler(c.broadcastRoster)
	manager.SetEndedHandler(c.broadcastPollEnded)
	return c
}

// Hub returns the connection registry the coordinator broadcasts through.
func (c *Coordinator) Hub() *Hub {
	return c.hub
}

// Connect adds a freshly opened connection to the broadcast group.
func (c *Coordinator) Connect(conn Conn) {
	c.hub.Join(conn)
}

// Disconnect drops the connection's registry entry. Durable identity and votes stay.
func (c *Coordinator) Disconnect(conn Conn) {
	c.hub.Leave(conn)
}

// Handle runs one inbound action for conn.
func (c *Coordinator) Handle(conn Conn, msg WSMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("action panicked", zap.String("event", msg.Event), zap.String("conn_id", conn.ID()), zap.Any("panic", r))
			c.sendError(conn, "Internal error")
		}
	}()

	switch msg.Event {
	case EventRegister:
		c.register(ctx, conn, msg.Data)
	case EventCreatePoll:
		c.createPoll(ctx, conn, msg.Data)
	case EventEndPoll:
		c.endPoll(ctx, conn, msg.Data)
	case EventVote:
		c.submitVote(ctx, conn, msg.Data)
	case EventKickStudent:
		c.kickStudent(ctx, conn, msg.Data)
	case EventGetCurrentState:
		c.currentState(ctx, conn)
	case EventGetPollHistory:
		c.pollHistory(ctx, conn)
	case EventChatSend:
		c.sendChat(ctx, conn, msg.Data)
	default:
		c.logger.Debug("ignoring unknown event", zap.String("event", msg.Event), zap.String("conn_id", conn.ID()))
	}
}

func (c *Coordinator) register(ctx context.Context, conn Conn, data json.RawMessage) {
	var req registerRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError(conn, "Invalid registration")
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.Name = strings.TrimSpace(req.Name)
	if req.SessionID == "" || req.Name == "" || len([]rune(req.Name)) > maxNameLength || !req.Role.Valid() {
		c.sendError(conn, "Invalid registration")
		return
	}

	existing, err := c.participants.Get(ctx, req.SessionID)
	if err != nil {
		c.fail(conn, "register", err, "Registration failed")
		return
	}
	if existing != nil && existing.IsKicked {
		c.logger.Info("kicked participant refused", zap.String("session_id", req.SessionID))
		c.hub.Send(conn.ID(), EventKicked, nil)
		return
	}
	if _, err := c.participants.Upsert(ctx, req.SessionID, req.Name, req.Role, c.polls.Now()); err != nil {
		c.fail(conn, "register", err, "Registration failed")
		return
	}

	c.hub.Register(conn, req.SessionID, req.Name, req.Role)
	c.logger.Info("participant registered",
		zap.String("session_id", req.SessionID), zap.String("name", req.Name), zap.String("role", string(req.Role)))

	if err := c.sendState(ctx, conn, req.SessionID); err != nil {
		c.fail(conn, "register", err, "Registration failed")
		return
	}
	c.sendChatHistory(ctx, conn)
	if req.Role == models.RoleTeacher {
		c.hub.Send(conn.ID(), EventStudentsList, c.roster())
	}
	c.hub.Send(conn.ID(), EventRegistered, successPayload{Success: true})
}

// sendState runs late-joiner reconciliation: the requester gets the active poll with the
// server-computed seconds remaining, its own vote status and the current tally, or a null
// poll when nothing can still be answered.
func (c *Coordinator) sendState(ctx context.Context, conn Conn, sessionID string) error {
	poll, remaining, err := c.polls.LivePoll(ctx)
	if err != nil {
		return fmt.Errorf("live poll: %w", err)
	}
	if poll == nil {
		c.hub.Send(conn.ID(), EventPollState, pollStatePayload{})
		return nil
	}
	voted, err := c.polls.HasVoted(ctx, poll.ID, sessionID)
	if err != nil {
		return fmt.Errorf("has voted: %w", err)
	}
	results, err := c.polls.GetResults(ctx, poll.ID)
	if err != nil {
		return fmt.Errorf("results: %w", err)
	}
	c.hub.Send(conn.ID(), EventPollState, pollStatePayload{
		Poll:          poll,
		StartedAt:     poll.StartedAt,
		HasVoted:      &voted,
		Results:       results,
		TimeRemaining: &remaining,
	})
	return nil
}

func (c *Coordinator) sendChatHistory(ctx context.Context, conn Conn) {
	recent, err := c.chat.Recent(ctx, c.chatHistory)
	if err != nil {
		c.logger.Error("chat history", zap.String("conn_id", conn.ID()), zap.Error(err))
		return
	}
	out := make([]chatPayload, 0, len(recent))
	for _, m := range recent {
		out = append(out, toChatPayload(m))
	}
	c.hub.Send(conn.ID(), EventChatHistory, out)
}

func (c *Coordinator) createPoll(ctx context.Context, conn Conn, data json.RawMessage) {
	if _, err := c.requireRole(conn, models.RoleTeacher); err != nil {
		c.sendError(conn, err.Error())
		return
	}
	var req createPollRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError(conn, "Invalid poll")
		return
	}

	students := c.hub.CountByRole(models.RoleStudent)
	poll, err := c.polls.StartPoll(ctx, polls.Draft{Question: req.Question, Options: req.Options, Duration: req.Duration}, students)
	if err != nil {
		c.fail(conn, "create poll", err, "Failed to create poll")
		return
	}
	c.hub.Broadcast(EventPollCreated, pollCreatedPayload{Poll: poll, StartedAt: poll.StartedAt})
	c.broadcastRoster()
}

func (c *Coordinator) endPoll(ctx context.Context, conn Conn, data json.RawMessage) {
	if _, err := c.requireRole(conn, models.RoleTeacher); err != nil {
		c.sendError(conn, err.Error())
		return
	}
	var req pollRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError(conn, "Poll not found")
		return
	}
	pollID, err := uuid.Parse(req.PollID)
	if err != nil {
		c.sendError(conn, "Poll not found")
		return
	}
	// The ended broadcast comes from the manager's ended handler.
	if _, err := c.polls.EndPoll(ctx, pollID); err != nil {
		c.fail(conn, "end poll", err, "Failed to end poll")
	}
}

func (c *Coordinator) submitVote(ctx context.Context, conn Conn, data json.RawMessage) {
	entry, err := c.requireRole(conn, models.RoleStudent)
	if err != nil {
		c.sendError(conn, err.Error())
		return
	}
	var req voteRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError(conn, "Invalid vote")
		return
	}
	pollID, err := uuid.Parse(req.PollID)
	if err != nil {
		c.sendError(conn, "Poll not found")
		return
	}
	if _, err := c.polls.SubmitVote(ctx, pollID, entry.SessionID, entry.Name, req.OptionID); err != nil {
		c.fail(conn, "vote", err, "Failed to submit vote")
		return
	}
	c.hub.Send(conn.ID(), EventVoteSubmitted, successPayload{Success: true})

	results, err := c.polls.GetResults(ctx, pollID)
	if err != nil {
		c.logger.Error("results after vote", zap.String("poll_id", pollID.String()), zap.Error(err))
		return
	}
	c.hub.Broadcast(EventPollResults, results)
}

func (c *Coordinator) kickStudent(ctx context.Context, conn Conn, data json.RawMessage) {
	if _, err := c.requireRole(conn, models.RoleTeacher); err != nil {
		c.sendError(conn, err.Error())
		return
	}
	var req kickRequest
	if err := json.Unmarshal(data, &req); err != nil || strings.TrimSpace(req.SessionID) == "" {
		c.sendError(conn, "Invalid kick request")
		return
	}
	target, online := c.hub.FindByParticipant(req.SessionID)
	if online && target.Role != models.RoleStudent {
		c.sendError(conn, ErrNotStudent.Error())
		return
	}
	if !online {
		known, err := c.participants.Get(ctx, req.SessionID)
		if err != nil {
			c.fail(conn, "kick", err, "Failed to kick student")
			return
		}
		if known != nil && known.Role != models.RoleStudent {
			c.sendError(conn, ErrNotStudent.Error())
			return
		}
	}
	if err := c.participants.Kick(ctx, req.SessionID); err != nil {
		c.fail(conn, "kick", err, "Failed to kick student")
		return
	}
	c.logger.Info("participant kicked", zap.String("session_id", req.SessionID))

	if !online {
		c.broadcastRoster()
		return
	}
	c.hub.Send(target.ConnID, EventKicked, nil)
	// Unregister fires the roster broadcast.
	c.hub.Unregister(target.ConnID)
	c.hub.Close(target.ConnID)
}

func (c *Coordinator) currentState(ctx context.Context, conn Conn) {
	entry, ok := c.hub.Lookup(conn.ID())
	if !ok {
		c.logger.Debug("state request from unregistered connection", zap.String("conn_id", conn.ID()))
		return
	}
	if err := c.sendState(ctx, conn, entry.SessionID); err != nil {
		c.fail(conn, "current state", err, "Failed to fetch state")
	}
}

func (c *Coordinator) pollHistory(ctx context.Context, conn Conn) {
	history, err := c.polls.GetHistory(ctx)
	if err != nil {
		c.fail(conn, "poll history", err, "Failed to fetch history")
		return
	}
	c.hub.Send(conn.ID(), EventPollHistory, history)
}

func (c *Coordinator) sendChat(ctx context.Context, conn Conn, data json.RawMessage) {
	entry, ok := c.hub.Lookup(conn.ID())
	if !ok {
		c.sendError(conn, ErrUnauthorized.Error())
		return
	}
	var req chatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError(conn, "Invalid chat message")
		return
	}
	saved, err := c.chat.Save(ctx, entry.Name, entry.Role, req.Message)
	if err != nil {
		c.fail(conn, "chat", err, "Failed to send message")
		return
	}
	c.hub.Broadcast(EventChatMessage, toChatPayload(*saved))
}

func (c *Coordinator) broadcastPollEnded(res *models.Results) {
	c.hub.Broadcast(EventPollEnded, pollEndedPayload{Poll: res.Poll, Results: res})
}

func (c *Coordinator) broadcastRoster() {
	c.hub.SendToRole(models.RoleTeacher, EventStudentsList, c.roster())
}

func (c *Coordinator) roster() []studentPayload {
	students := c.hub.ListByRole(models.RoleStudent)
	out := make([]studentPayload, 0, len(students))
	for _, s := range students {
		out = append(out, studentPayload{Name: s.Name, SessionID: s.SessionID})
	}
	return out
}

func (c *Coordinator) requireRole(conn Conn, role models.Role) (Entry, error) {
	entry, ok := c.hub.Lookup(conn.ID())
	if !ok || entry.Role != role {
		return Entry{}, ErrUnauthorized
	}
	return entry, nil
}

// fail logs err and tells the requester. Known errors keep their own message;
// anything else (persistence failures) is reported as fallback.
func (c *Coordinator) fail(conn Conn, action string, err error, fallback string) {
	msg := userMessage(err, fallback)
	if msg == fallback {
		c.logger.Error(action+" failed", zap.String("conn_id", conn.ID()), zap.Error(err))
	} else {
		c.logger.Debug(action+" rejected", zap.String("conn_id", conn.ID()), zap.String("reason", msg))
	}
	c.sendError(conn, msg)
}

func (c *Coordinator) sendError(conn Conn, message string) {
	c.hub.Send(conn.ID(), EventError, errorPayload{Message: message})
}

func userMessage(err error, fallback string) string {
	var admission *polls.AdmissionError
	switch {
	case errors.As(err, &admission):
		return admission.Reason
	case errors.Is(err, ErrUnauthorized):
		return ErrUnauthorized.Error()
	case errors.Is(err, models.ErrPollNotFound):
		return "Poll not found"
	case errors.Is(err, models.ErrInvalidTransition):
		return "Poll is not active"
	case errors.Is(err, models.ErrDuplicateVote),
		errors.Is(err, models.ErrPollClosed),
		errors.Is(err, models.ErrUnknownOption),
		errors.Is(err, models.ErrInvalidPoll),
		errors.Is(err, models.ErrInvalidMessage):
		return err.Error()
	}
	return fallback
}
