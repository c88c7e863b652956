// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/ammora/internal/domain"
)

// Repository is the durable message store used by the chat engine and the
// HTTP API. Lookups of absent records return (nil, nil).
type Repository interface {
	// GetUser retrieves a user profile by ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user profile.
	UpsertUser(ctx context.Context, user *domain.User) error

	// GetPreferences retrieves the preference set for a user.
	GetPreferences(ctx context.Context, userID string) (*domain.Preferences, error)

	// UpsertPreferences creates or replaces the preference set for a user.
	UpsertPreferences(ctx context.Context, prefs *domain.Preferences) error

	// RecentTurns returns the most recent limit turns for a user, oldest first.
	RecentTurns(ctx context.Context, userID string, limit int) ([]domain.Turn, error)

	// AppendTurn appends a turn to the user's message log.
	AppendTurn(ctx context.Context, userID, sessionID string, turn domain.Turn) error

	// SessionMessages returns the most recent limit messages of a chat session, oldest first.
	SessionMessages(ctx context.Context, sessionID string, limit int) ([]domain.StoredMessage, error)

	// GetThreadRecord retrieves the remote thread record for a user.
	GetThreadRecord(ctx context.Context, userID string) (*domain.ThreadRecord, error)

	// SetThreadRecord replaces the remote thread record for a user.
	SetThreadRecord(ctx context.Context, record *domain.ThreadRecord) error

	// TouchSession refreshes last-activity and message count for a chat session.
	TouchSession(ctx context.Context, sessionID, userID string, at time.Time) error

	// GetSession retrieves chat session metadata.
	GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
