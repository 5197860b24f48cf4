package realtime

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// fakeConn records what the hub sends to it.
type fakeConn struct {
	id     string
	mu     sync.Mutex
	msgs   []WSMessage
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{id: uuid.New().String()}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(msg WSMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.msgs = append(c.msgs, msg)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.msgs))
	for _, m := range c.msgs {
		out = append(out, m.Event)
	}
	return out
}

// last returns the most recent message with event, failing the test when there is none.
func (c *fakeConn) last(t *testing.T, event string) WSMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.msgs) - 1; i >= 0; i-- {
		if c.msgs[i].Event == event {
			return c.msgs[i]
		}
	}
	require.FailNowf(t, "event not received", "%s not in %d messages", event, len(c.msgs))
	return WSMessage{}
}

func (c *fakeConn) count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.msgs {
		if m.Event == event {
			n++
		}
	}
	return n
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = nil
}

func decode(t *testing.T, msg WSMessage, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(msg.Data, v))
}
