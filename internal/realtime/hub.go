package realtime

import (
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/aura-webinar/classpoll/internal/models"
)

// Conn is one live transport connection.
type Conn interface {
	// ID is the opaque handle of the connection, unique for the process lifetime.
	ID() string
	// Send queues msg without blocking. It reports false when the message was dropped.
	Send(msg WSMessage) bool
	// Close ends the connection after already queued messages are written.
	Close()
}

// Entry binds a live connection to a participant identity.
type Entry struct {
	ConnID    string
	SessionID string
	Name      string
	Role      models.Role
	conn      Conn
}

// RosterChangeHandler is called after a student entry is registered or removed.
type RosterChangeHandler func()

// Hub is the connection registry: the flat broadcast group of open connections and the
// subset of them that registered as a participant. Nothing here is persisted; entries are
// rebuilt by registration each time a transport connects.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]Conn   // every open connection (broadcast group)
	entries  map[string]*Entry // connID -> registered participant
	logger   *zap.Logger
	onRoster RosterChangeHandler
}

// NewHub creates an empty connection registry.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		conns:   make(map[string]Conn),
		entries: make(map[string]*Entry),
		logger:  logger,
	}
}

// SetRosterChangeHandler sets the callback for student roster changes.
func (h *Hub) SetRosterChangeHandler(fn RosterChangeHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRoster = fn
}

// Join adds an open connection to the broadcast group.
func (h *Hub) Join(c Conn) {
	h.mu.Lock()
	h.conns[c.ID()] = c
	h.mu.Unlock()
	h.logger.Debug("connection joined", zap.String("conn_id", c.ID()))
}

// Leave removes a connection from the broadcast group and drops its registry entry.
func (h *Hub) Leave(c Conn) {
	h.mu.Lock()
	delete(h.conns, c.ID())
	h.mu.Unlock()
	h.Unregister(c.ID())
	h.logger.Debug("connection left", zap.String("conn_id", c.ID()))
}

// Register binds c to a participant, overwriting any previous entry for c.
func (h *Hub) Register(c Conn, sessionID, name string, role models.Role) Entry {
	e := &Entry{ConnID: c.ID(), SessionID: sessionID, Name: name, Role: role, conn: c}
	h.mu.Lock()
	prev := h.entries[c.ID()]
	h.entries[c.ID()] = e
	h.conns[c.ID()] = c
	onRoster := h.onRoster
	h.mu.Unlock()

	if onRoster != nil && (role == models.RoleStudent || (prev != nil && prev.Role == models.RoleStudent)) {
		onRoster()
	}
	h.logger.Debug("participant registered",
		zap.String("conn_id", c.ID()), zap.String("session_id", sessionID), zap.String("role", string(role)))
	return *e
}

// Unregister removes the entry bound to connID. It reports whether one existed.
func (h *Hub) Unregister(connID string) bool {
	h.mu.Lock()
	e, ok := h.entries[connID]
	delete(h.entries, connID)
	onRoster := h.onRoster
	h.mu.Unlock()
	if !ok {
		return false
	}
	if onRoster != nil && e.Role == models.RoleStudent {
		onRoster()
	}
	h.logger.Debug("participant unregistered", zap.String("conn_id", connID), zap.String("session_id", e.SessionID))
	return true
}

// Lookup returns the entry bound to connID.
func (h *Hub) Lookup(connID string) (Entry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.entries[connID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// ListByRole returns a snapshot of the entries with role, ordered by name.
func (h *Hub) ListByRole(role models.Role) []Entry {
	h.mu.RLock()
	out := make([]Entry, 0, len(h.entries))
	for _, e := range h.entries {
		if e.Role == role {
			out = append(out, *e)
		}
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// CountByRole returns the number of registered entries with role.
func (h *Hub) CountByRole(role models.Role) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, e := range h.entries {
		if e.Role == role {
			n++
		}
	}
	return n
}

// FindByParticipant returns the live entry bound to sessionID, if any.
func (h *Hub) FindByParticipant(sessionID string) (Entry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, e := range h.entries {
		if e.SessionID == sessionID {
			return *e, true
		}
	}
	return Entry{}, false
}

// Close closes the connection behind connID, if it is open.
func (h *Hub) Close(connID string) {
	h.mu.RLock()
	c := h.conns[connID]
	h.mu.RUnlock()
	if c != nil {
		c.Close()
	}
}

// Send delivers an event to one connection. Delivery is best effort.
func (h *Hub) Send(connID, event string, payload interface{}) {
	msg, ok := h.envelope(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	c := h.conns[connID]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	if !c.Send(msg) {
		h.logger.Warn("send buffer full, message dropped", zap.String("conn_id", connID), zap.String("event", event))
	}
}

// Broadcast delivers an event to every open connection.
func (h *Hub) Broadcast(event string, payload interface{}) {
	msg, ok := h.envelope(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	targets := make([]Conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.Send(msg)
	}
}

// SendToRole delivers an event to every registered connection with role.
func (h *Hub) SendToRole(role models.Role, event string, payload interface{}) {
	msg, ok := h.envelope(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	var targets []Conn
	for _, e := range h.entries {
		if e.Role == role {
			targets = append(targets, e.conn)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.Send(msg)
	}
}

// ConnectionCount returns the number of open connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) envelope(event string, payload interface{}) (WSMessage, bool) {
	var data []byte
	switch v := payload.(type) {
	case nil:
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			h.logger.Error("marshal event payload", zap.String("event", event), zap.Error(err))
			return WSMessage{}, false
		}
	}
	return WSMessage{Event: event, Data: data}, true
}
