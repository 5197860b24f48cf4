package realtime

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	maxMessage   = 64 * 1024
	sendBuffer   = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS middleware guards the HTTP surface; sockets accept any origin
	},
}

// Client is a single WebSocket connection.
type Client struct {
	id     string
	conn   *websocket.Conn
	logger *zap.Logger

	mu     sync.Mutex
	send   chan WSMessage
	closed bool
}

func newClient(conn *websocket.Conn, logger *zap.Logger) *Client {
	return &Client{
		id:     uuid.New().String(),
		conn:   conn,
		logger: logger,
		send:   make(chan WSMessage, sendBuffer),
	}
}

// ID implements Conn.
func (c *Client) ID() string { return c.id }

// Send implements Conn. Messages to a closed client or over a full buffer are dropped.
func (c *Client) Send(msg WSMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close implements Conn. The write pump flushes queued messages and then closes the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(coordinator *Coordinator, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		client := newClient(conn, logger)
		coordinator.Connect(client)
		go client.writePump()
		client.readPump(coordinator)
	}
}

func (c *Client) readPump(coordinator *Coordinator) {
	defer func() {
		coordinator.Disconnect(c)
		c.Close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
		coordinator.Handle(c, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
