package realtime

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/classpoll/internal/models"
)

func dialSession(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil reads messages until event arrives.
func readUntil(t *testing.T, conn *websocket.Conn, event string) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Event == event {
			return msg
		}
	}
}

func TestServeWsEndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newSession(t)
	r := gin.New()
	r.GET("/ws", ServeWs(s.coord, nil))
	srv := httptest.NewServer(r)
	defer srv.Close()

	teacher := dialSession(t, srv)
	require.NoError(t, teacher.WriteJSON(message(t, EventRegister, registerRequest{SessionID: "t1", Name: "Ms. T", Role: models.RoleTeacher})))
	readUntil(t, teacher, EventRegistered)

	student := dialSession(t, srv)
	require.NoError(t, student.WriteJSON(message(t, EventRegister, registerRequest{SessionID: "s1", Name: "Alice", Role: models.RoleStudent})))
	readUntil(t, student, EventRegistered)

	var roster []studentPayload
	decode(t, readUntil(t, teacher, EventStudentsList), &roster)
	require.Len(t, roster, 1)
	assert.Equal(t, "s1", roster[0].SessionID)

	require.NoError(t, teacher.WriteJSON(message(t, EventCreatePoll, createPollRequest{
		Question: "2+2?",
		Options:  []models.PollOption{{ID: "a", Text: "4"}, {ID: "b", Text: "5"}},
		Duration: 30,
	})))
	var created pollCreatedPayload
	decode(t, readUntil(t, student, EventPollCreated), &created)
	require.NotNil(t, created.Poll)

	require.NoError(t, student.WriteJSON(message(t, EventVote, voteRequest{PollID: created.Poll.ID.String(), OptionID: "a"})))
	var res models.Results
	decode(t, readUntil(t, teacher, EventPollResults), &res)
	assert.Equal(t, 1, res.TotalVotes)

	require.NoError(t, teacher.WriteJSON(message(t, EventKickStudent, kickRequest{SessionID: "s1"})))
	readUntil(t, student, EventKicked)

	// The server closes the kicked socket.
	require.NoError(t, student.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := student.ReadMessage()
	assert.Error(t, err)

	require.Eventually(t, func() bool { return s.coord.Hub().ConnectionCount() == 1 }, 3*time.Second, 20*time.Millisecond)
}
