package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/classpoll/internal/chat"
	"github.com/aura-webinar/classpoll/internal/memstore"
	"github.com/aura-webinar/classpoll/internal/models"
	"github.com/aura-webinar/classpoll/internal/polls"
	"github.com/aura-webinar/classpoll/internal/votes"
)

type session struct {
	t       *testing.T
	coord   *Coordinator
	manager *polls.Manager
	people  *memstore.Participants
}

func newSession(t *testing.T) *session {
	t.Helper()
	manager := polls.NewManager(memstore.NewPolls(), votes.NewLedger(memstore.NewVotes()), nil, polls.DefaultLimits, nil)
	t.Cleanup(manager.Shutdown)
	people := memstore.NewParticipants()
	coord := NewCoordinator(NewHub(nil), manager, chat.NewLog(memstore.NewChat()), people, DefaultChatHistory, nil)
	return &session{t: t, coord: coord, manager: manager, people: people}
}

func message(t *testing.T, event string, payload interface{}) WSMessage {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return WSMessage{Event: event, Data: data}
}

// join opens a connection and registers it.
func (s *session) join(sessionID, name string, role models.Role) *fakeConn {
	c := newFakeConn()
	s.coord.Connect(c)
	s.coord.Handle(c, message(s.t, EventRegister, registerRequest{SessionID: sessionID, Name: name, Role: role}))
	return c
}

func (s *session) createPoll(teacher *fakeConn, duration int) {
	s.coord.Handle(teacher, message(s.t, EventCreatePoll, createPollRequest{
		Question: "Favorite color?",
		Options:  []models.PollOption{{ID: "a", Text: "Red"}, {ID: "b", Text: "Blue"}},
		Duration: duration,
	}))
}

func (s *session) vote(student *fakeConn, pollID, optionID string) {
	s.coord.Handle(student, message(s.t, EventVote, voteRequest{PollID: pollID, OptionID: optionID}))
}

func errorMessage(t *testing.T, c *fakeConn) string {
	t.Helper()
	var p errorPayload
	decode(t, c.last(t, EventError), &p)
	return p.Message
}

func createdPoll(t *testing.T, c *fakeConn) *models.Poll {
	t.Helper()
	var p pollCreatedPayload
	decode(t, c.last(t, EventPollCreated), &p)
	require.NotNil(t, p.Poll)
	return p.Poll
}

func TestRegisterWithoutActivePoll(t *testing.T) {
	s := newSession(t)
	student := s.join("s1", "Alice", models.RoleStudent)

	assert.Equal(t, []string{EventPollState, EventChatHistory, EventRegistered}, student.events())

	var state map[string]json.RawMessage
	decode(t, student.last(t, EventPollState), &state)
	assert.Equal(t, "null", string(state["poll"]))

	var history []chatPayload
	decode(t, student.last(t, EventChatHistory), &history)
	assert.Empty(t, history)
}

func TestRegisterRejectsInvalidRequest(t *testing.T) {
	s := newSession(t)
	c := s.join("", "Alice", models.RoleStudent)
	assert.Equal(t, "Invalid registration", errorMessage(t, c))

	c = s.join("s1", "Alice", models.Role("admin"))
	assert.Equal(t, "Invalid registration", errorMessage(t, c))
	assert.Equal(t, 0, s.coord.Hub().CountByRole(models.RoleStudent))
}

func TestTeacherReceivesRoster(t *testing.T) {
	s := newSession(t)
	teacher := s.join("t1", "Ms. T", models.RoleTeacher)
	assert.Equal(t, 1, teacher.count(EventStudentsList))

	s.join("s2", "Bob", models.RoleStudent)
	alice := s.join("s1", "Alice", models.RoleStudent)
	assert.Equal(t, 0, alice.count(EventStudentsList))

	var roster []studentPayload
	decode(t, teacher.last(t, EventStudentsList), &roster)
	assert.Equal(t, []studentPayload{{Name: "Alice", SessionID: "s1"}, {Name: "Bob", SessionID: "s2"}}, roster)

	s.coord.Disconnect(alice)
	decode(t, teacher.last(t, EventStudentsList), &roster)
	assert.Equal(t, []studentPayload{{Name: "Bob", SessionID: "s2"}}, roster)
}

func TestCreatePollBroadcasts(t *testing.T) {
	s := newSession(t)
	teacher := s.join("t1", "Ms. T", models.RoleTeacher)
	student := s.join("s1", "Alice", models.RoleStudent)
	anon := newFakeConn()
	s.coord.Connect(anon)

	s.createPoll(teacher, 60)

	for _, c := range []*fakeConn{teacher, student, anon} {
		p := createdPoll(t, c)
		assert.Equal(t, "Favorite color?", p.Question)
		assert.Equal(t, 1, p.QuestionNumber)
		assert.True(t, p.IsActive)
	}
}

func TestStudentCannotCreatePoll(t *testing.T) {
	s := newSession(t)
	student := s.join("s1", "Alice", models.RoleStudent)

	s.createPoll(student, 60)
	assert.Equal(t, "Unauthorized", errorMessage(t, student))
	assert.Equal(t, 0, student.count(EventPollCreated))

	anon := newFakeConn()
	s.coord.Connect(anon)
	s.createPoll(anon, 60)
	assert.Equal(t, "Unauthorized", errorMessage(t, anon))
}

func TestInvalidPollRejected(t *testing.T) {
	s := newSession(t)
	teacher := s.join("t1", "Ms. T", models.RoleTeacher)

	s.coord.Handle(teacher, message(t, EventCreatePoll, createPollRequest{
		Question: "Q?",
		Options:  []models.PollOption{{ID: "a", Text: "Only"}},
		Duration: 60,
	}))
	assert.Contains(t, errorMessage(t, teacher), "at least two options")
}

func TestAdmissionRequiresAllAnswers(t *testing.T) {
	s := newSession(t)
	teacher := s.join("t1", "Ms. T", models.RoleTeacher)
	students := []*fakeConn{
		s.join("s1", "Alice", models.RoleStudent),
		s.join("s2", "Bob", models.RoleStudent),
		s.join("s3", "Cara", models.RoleStudent),
	}

	s.createPoll(teacher, 60)
	first := createdPoll(t, teacher)
	s.vote(students[0], first.ID.String(), "a")
	s.vote(students[1], first.ID.String(), "b")

	teacher.reset()
	s.createPoll(teacher, 60)
	assert.Equal(t, polls.ReasonStudentsPending, errorMessage(t, teacher))
	assert.Equal(t, 0, teacher.count(EventPollCreated))

	s.vote(students[2], first.ID.String(), "a")
	s.createPoll(teacher, 60)
	second := createdPoll(t, teacher)
	assert.Equal(t, 2, second.QuestionNumber)

	// The answered poll was closed so only one stays active.
	var ended pollEndedPayload
	decode(t, students[0].last(t, EventPollEnded), &ended)
	assert.Equal(t, first.ID, ended.Poll.ID)
	assert.Equal(t, 3, ended.Results.TotalVotes)
}

func TestInterleavedCreatePollAdmitsOne(t *testing.T) {
	s := newSession(t)
	teachers := []*fakeConn{
		s.join("t1", "Ms. T", models.RoleTeacher),
		s.join("t2", "Mr. U", models.RoleTeacher),
	}
	alice := s.join("s1", "Alice", models.RoleStudent)
	s.join("s2", "Bob", models.RoleStudent)
	s.join("s3", "Cara", models.RoleStudent)

	var wg sync.WaitGroup
	for _, teacher := range teachers {
		wg.Add(1)
		go func(c *fakeConn) {
			defer wg.Done()
			s.createPoll(c, 60)
		}(teacher)
	}
	wg.Wait()

	assert.Equal(t, 1, alice.count(EventPollCreated))
	assert.Equal(t, 0, alice.count(EventPollEnded))
	refused := teachers[0].count(EventError) + teachers[1].count(EventError)
	assert.Equal(t, 1, refused)
	for _, teacher := range teachers {
		if teacher.count(EventError) == 1 {
			assert.Equal(t, polls.ReasonStudentsPending, errorMessage(t, teacher))
		}
	}

	active, err := s.manager.ActivePoll(context.Background())
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, 1, active.QuestionNumber)
}

func TestVoteFlow(t *testing.T) {
	s := newSession(t)
	teacher := s.join("t1", "Ms. T", models.RoleTeacher)
	alice := s.join("s1", "Alice", models.RoleStudent)
	bob := s.join("s2", "Bob", models.RoleStudent)

	s.createPoll(teacher, 60)
	p := createdPoll(t, teacher)

	s.vote(alice, p.ID.String(), "a")
	var ack successPayload
	decode(t, alice.last(t, EventVoteSubmitted), &ack)
	assert.True(t, ack.Success)

	for _, c := range []*fakeConn{teacher, alice, bob} {
		var res models.Results
		decode(t, c.last(t, EventPollResults), &res)
		assert.Equal(t, 1, res.TotalVotes)
		assert.Equal(t, 100, res.Results[0].Percentage)
		require.Len(t, res.Voters, 1)
		assert.Equal(t, "Alice", res.Voters[0].Name)
	}

	s.vote(alice, p.ID.String(), "b")
	assert.Equal(t, models.ErrDuplicateVote.Error(), errorMessage(t, alice))

	s.vote(bob, p.ID.String(), "nope")
	assert.Equal(t, models.ErrUnknownOption.Error(), errorMessage(t, bob))

	s.vote(bob, "not-a-uuid", "a")
	assert.Equal(t, "Poll not found", errorMessage(t, bob))

	s.vote(teacher, p.ID.String(), "a")
	assert.Equal(t, "Unauthorized", errorMessage(t, teacher))
}

func TestLateJoinerGetsActivePoll(t *testing.T) {
	s := newSession(t)
	teacher := s.join("t1", "Ms. T", models.RoleTeacher)
	s.createPoll(teacher, 60)
	p := createdPoll(t, teacher)

	late := s.join("s9", "Zed", models.RoleStudent)

	var state pollStatePayload
	decode(t, late.last(t, EventPollState), &state)
	require.NotNil(t, state.Poll)
	assert.Equal(t, p.ID, state.Poll.ID)
	require.NotNil(t, state.TimeRemaining)
	assert.True(t, *state.TimeRemaining > 0 && *state.TimeRemaining <= 60)
	require.NotNil(t, state.HasVoted)
	assert.False(t, *state.HasVoted)
	require.NotNil(t, state.Results)
	assert.Equal(t, 0, state.Results.TotalVotes)
}

func TestReconnectKeepsVote(t *testing.T) {
	s := newSession(t)
	teacher := s.join("t1", "Ms. T", models.RoleTeacher)
	alice := s.join("s1", "Alice", models.RoleStudent)
	s.createPoll(teacher, 60)
	p := createdPoll(t, teacher)
	s.vote(alice, p.ID.String(), "b")
	s.coord.Disconnect(alice)

	again := s.join("s1", "Alice", models.RoleStudent)
	var state pollStatePayload
	decode(t, again.last(t, EventPollState), &state)
	require.NotNil(t, state.HasVoted)
	assert.True(t, *state.HasVoted)
	assert.Equal(t, 1, state.Results.TotalVotes)

	s.vote(again, p.ID.String(), "a")
	assert.Equal(t, models.ErrDuplicateVote.Error(), errorMessage(t, again))

	again.reset()
	s.coord.Handle(again, WSMessage{Event: EventGetCurrentState})
	decode(t, again.last(t, EventPollState), &state)
	assert.True(t, *state.HasVoted)
}

func TestEndPollBroadcastsResults(t *testing.T) {
	s := newSession(t)
	teacher := s.join("t1", "Ms. T", models.RoleTeacher)
	alice := s.join("s1", "Alice", models.RoleStudent)
	s.createPoll(teacher, 60)
	p := createdPoll(t, teacher)
	s.vote(alice, p.ID.String(), "a")

	s.coord.Handle(alice, message(t, EventEndPoll, pollRequest{PollID: p.ID.String()}))
	assert.Equal(t, "Unauthorized", errorMessage(t, alice))

	s.coord.Handle(teacher, message(t, EventEndPoll, pollRequest{PollID: p.ID.String()}))
	for _, c := range []*fakeConn{teacher, alice} {
		var ended pollEndedPayload
		decode(t, c.last(t, EventPollEnded), &ended)
		assert.Equal(t, p.ID, ended.Poll.ID)
		assert.False(t, ended.Poll.IsActive)
		assert.Equal(t, 1, ended.Results.TotalVotes)
	}

	s.coord.Handle(teacher, message(t, EventEndPoll, pollRequest{PollID: p.ID.String()}))
	assert.Equal(t, "Poll is not active", errorMessage(t, teacher))

	late := s.join("s2", "Bob", models.RoleStudent)
	var state map[string]json.RawMessage
	decode(t, late.last(t, EventPollState), &state)
	assert.Equal(t, "null", string(state["poll"]))
}

func TestPollExpiryBroadcasts(t *testing.T) {
	s := newSession(t)
	teacher := s.join("t1", "Ms. T", models.RoleTeacher)
	alice := s.join("s1", "Alice", models.RoleStudent)
	s.createPoll(teacher, 1)

	require.Eventually(t, func() bool { return alice.count(EventPollEnded) == 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, teacher.count(EventPollEnded))
}

func TestKickStudent(t *testing.T) {
	s := newSession(t)
	teacher := s.join("t1", "Ms. T", models.RoleTeacher)
	alice := s.join("s1", "Alice", models.RoleStudent)
	s.join("s2", "Bob", models.RoleStudent)

	s.coord.Handle(alice, message(t, EventKickStudent, kickRequest{SessionID: "s2"}))
	assert.Equal(t, "Unauthorized", errorMessage(t, alice))

	s.coord.Handle(teacher, message(t, EventKickStudent, kickRequest{SessionID: "s1"}))
	assert.Equal(t, 1, alice.count(EventKicked))
	assert.True(t, alice.isClosed())

	var roster []studentPayload
	decode(t, teacher.last(t, EventStudentsList), &roster)
	assert.Equal(t, []studentPayload{{Name: "Bob", SessionID: "s2"}}, roster)

	// Kicking again is harmless.
	teacher.reset()
	s.coord.Handle(teacher, message(t, EventKickStudent, kickRequest{SessionID: "s1"}))
	assert.Equal(t, 0, teacher.count(EventError))
	assert.Equal(t, 1, teacher.count(EventStudentsList))

	// A kicked participant cannot come back under the same session id.
	back := s.join("s1", "Alice", models.RoleStudent)
	assert.Equal(t, []string{EventKicked}, back.events())
	_, ok := s.coord.Hub().Lookup(back.ID())
	assert.False(t, ok)

	p, err := s.people.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, p.IsKicked)
}

func TestKickUnknownSession(t *testing.T) {
	s := newSession(t)
	teacher := s.join("t1", "Ms. T", models.RoleTeacher)

	s.coord.Handle(teacher, message(t, EventKickStudent, kickRequest{SessionID: "ghost"}))
	s.coord.Handle(teacher, message(t, EventKickStudent, kickRequest{SessionID: "ghost"}))
	assert.Equal(t, 0, teacher.count(EventError))

	// One record for the teacher, one kicked placeholder.
	assert.Equal(t, 2, s.people.Len())
	p, err := s.people.Get(context.Background(), "ghost")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.IsKicked)

	ghost := s.join("ghost", "Casper", models.RoleStudent)
	assert.Equal(t, []string{EventKicked}, ghost.events())
	assert.Equal(t, 2, s.people.Len())
}

func TestKickRejectsTeacher(t *testing.T) {
	s := newSession(t)
	teacher := s.join("t1", "Ms. T", models.RoleTeacher)
	other := s.join("t2", "Mr. U", models.RoleTeacher)

	s.coord.Handle(teacher, message(t, EventKickStudent, kickRequest{SessionID: "t1"}))
	assert.Equal(t, ErrNotStudent.Error(), errorMessage(t, teacher))
	s.coord.Handle(teacher, message(t, EventKickStudent, kickRequest{SessionID: "t2"}))
	assert.Equal(t, 2, teacher.count(EventError))
	assert.Equal(t, 0, other.count(EventKicked))
	assert.False(t, other.isClosed())

	// Offline teachers are protected too.
	s.coord.Disconnect(other)
	s.coord.Handle(teacher, message(t, EventKickStudent, kickRequest{SessionID: "t2"}))
	assert.Equal(t, 3, teacher.count(EventError))

	for _, id := range []string{"t1", "t2"} {
		p, err := s.people.Get(context.Background(), id)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.False(t, p.IsKicked, id)
	}
}

func TestChat(t *testing.T) {
	s := newSession(t)
	teacher := s.join("t1", "Ms. T", models.RoleTeacher)
	alice := s.join("s1", "Alice", models.RoleStudent)

	s.coord.Handle(alice, message(t, EventChatSend, chatRequest{Message: "  hello  "}))
	for _, c := range []*fakeConn{teacher, alice} {
		var m chatPayload
		decode(t, c.last(t, EventChatMessage), &m)
		assert.Equal(t, "hello", m.Message)
		assert.Equal(t, "Alice", m.Name)
		assert.Equal(t, models.RoleStudent, m.Role)
	}

	s.coord.Handle(alice, message(t, EventChatSend, chatRequest{Message: "   "}))
	assert.Contains(t, errorMessage(t, alice), "message is empty")

	anon := newFakeConn()
	s.coord.Connect(anon)
	s.coord.Handle(anon, message(t, EventChatSend, chatRequest{Message: "hi"}))
	assert.Equal(t, "Unauthorized", errorMessage(t, anon))
	assert.Equal(t, 1, teacher.count(EventChatMessage))
}

func TestChatHistoryOnRegister(t *testing.T) {
	s := newSession(t)
	teacher := s.join("t1", "Ms. T", models.RoleTeacher)
	for i := 1; i <= 25; i++ {
		s.coord.Handle(teacher, message(t, EventChatSend, chatRequest{Message: fmt.Sprintf("note %d", i)}))
	}

	late := s.join("s1", "Alice", models.RoleStudent)
	var history []chatPayload
	decode(t, late.last(t, EventChatHistory), &history)
	require.Len(t, history, DefaultChatHistory)
	assert.Equal(t, "note 6", history[0].Message)
	assert.Equal(t, "note 25", history[len(history)-1].Message)
}

func TestPollHistory(t *testing.T) {
	s := newSession(t)
	teacher := s.join("t1", "Ms. T", models.RoleTeacher)
	s.createPoll(teacher, 60)
	first := createdPoll(t, teacher)
	s.coord.Handle(teacher, message(t, EventEndPoll, pollRequest{PollID: first.ID.String()}))
	s.createPoll(teacher, 60)

	s.coord.Handle(teacher, WSMessage{Event: EventGetPollHistory})
	var history []models.Results
	decode(t, teacher.last(t, EventPollHistory), &history)
	require.Len(t, history, 1)
	assert.Equal(t, first.ID, history[0].Poll.ID)
}

func TestUnknownEventIgnored(t *testing.T) {
	s := newSession(t)
	c := newFakeConn()
	s.coord.Connect(c)
	s.coord.Handle(c, WSMessage{Event: "teacher:launch-rocket"})
	assert.Empty(t, c.events())
}
