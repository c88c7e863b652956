package domain

import (
	"time"
)

// Role identifies the author of a turn.
type Role string

const (
	// RoleUser marks a turn written by the user.
	RoleUser Role = "user"
	// RoleAssistant marks a turn written by the assistant.
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one message in a conversation. Turns are never mutated once created.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// StoredMessage is a turn as persisted in the message log.
type StoredMessage struct {
	Turn
	UserID    string `json:"user_id"`
	SessionID string `json:"chat_session_id,omitempty"`
}
