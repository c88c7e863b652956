// Package chat implements the conversation session engine: it decides what
// context the model sees, when that context must be refreshed, and persists
// each exchange in the background.
package chat

import (
	"time"

	"github.com/ashureev/ammora/internal/domain"
)

// ChatTurnRequest is one incoming user message.
type ChatTurnRequest struct {
	UserID    string
	SessionID string
	Message   string
}

// ChatTurnResult is returned to the caller before persistence runs.
type ChatTurnResult struct {
	AssistantText string
	// ThreadID is empty for stateless turns.
	ThreadID        string
	ContextInjected bool
}

// Config tunes the engine.
type Config struct {
	// RefreshEvery re-injects user context every N turns on a thread.
	RefreshEvery int
	// HistoryLimit is how many recent turns stateless prompts include.
	HistoryLimit      int
	PersistWorkers    int
	PersistQueueSize  int
	PersistJobTimeout time.Duration
	// DrainTimeout bounds how long Close waits for queued persistence.
	DrainTimeout time.Duration
}

// DefaultConfig returns default engine configuration.
func DefaultConfig() Config {
	return Config{
		RefreshEvery:      DefaultRefreshEvery,
		HistoryLimit:      DefaultHistorySize,
		PersistWorkers:    4,
		PersistQueueSize:  256,
		PersistJobTimeout: 30 * time.Second,
		DrainTimeout:      10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RefreshEvery <= 0 {
		c.RefreshEvery = d.RefreshEvery
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	if c.PersistWorkers <= 0 {
		c.PersistWorkers = d.PersistWorkers
	}
	if c.PersistQueueSize <= 0 {
		c.PersistQueueSize = d.PersistQueueSize
	}
	if c.PersistJobTimeout <= 0 {
		c.PersistJobTimeout = d.PersistJobTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	return c
}

// PersistJob is the background work left after a reply has been returned.
type PersistJob struct {
	UserID    string
	SessionID string
	// TrackThread is false for stateless turns, which have no remote thread.
	TrackThread      bool
	PreviousThreadID string
	ThreadID         string
	UserTurn         domain.Turn
	AssistantTurn    domain.Turn
}
