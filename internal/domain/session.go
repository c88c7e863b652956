package domain

import (
	"time"
)

// ChatSession holds summary metadata for one chat session.
type ChatSession struct {
	SessionID     string
	UserID        string
	MessageCount  int
	LastMessageAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
