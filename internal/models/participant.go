package models

import "time"

// Role is the single role flag a client presents on registration.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleTeacher || r == RoleStudent
}

// Participant is the durable identity behind a client-generated session id.
// It survives reconnects; IsKicked is sticky.
type Participant struct {
	SessionID   string    `json:"sessionId"`
	Name        string    `json:"name"`
	Role        Role      `json:"role"`
	ConnectedAt time.Time `json:"connectedAt"`
	IsKicked    bool      `json:"isKicked"`
}
