package chat

import (
	"sync"

	"github.com/ashureev/ammora/internal/domain"
)

// DefaultHistorySize is the default number of turns cached per user.
const DefaultHistorySize = 10

// HistoryCache holds each user's most recent turns so that prompts can be
// built without a store round-trip.
type HistoryCache interface {
	// Get returns the cached turns, oldest first, and whether the user had an entry.
	Get(userID string) ([]domain.Turn, bool)
	// Set replaces the user's entry, creating it if needed.
	Set(userID string, turns []domain.Turn)
	// Append adds a turn to an existing entry. Without an entry it does nothing.
	Append(userID string, turn domain.Turn)
	// Size is the maximum number of turns held per user.
	Size() int
}

// MemoryHistoryCache is a process-local HistoryCache. Each user's entry has
// its own lock; there is no lock spanning users.
type MemoryHistoryCache struct {
	size    int
	entries sync.Map // userID -> *historyEntry
}

type historyEntry struct {
	mu   sync.Mutex
	ring *turnRing
}

var _ HistoryCache = (*MemoryHistoryCache)(nil)

// NewMemoryHistoryCache creates a cache holding up to size turns per user.
func NewMemoryHistoryCache(size int) *MemoryHistoryCache {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &MemoryHistoryCache{size: size}
}

// Get returns a copy of the user's cached turns.
func (c *MemoryHistoryCache) Get(userID string) ([]domain.Turn, bool) {
	v, ok := c.entries.Load(userID)
	if !ok {
		return nil, false
	}
	entry := v.(*historyEntry)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.ring.Snapshot(), true
}

// Set replaces the user's cached turns, keeping at most the newest size turns.
func (c *MemoryHistoryCache) Set(userID string, turns []domain.Turn) {
	v, _ := c.entries.LoadOrStore(userID, &historyEntry{ring: newTurnRing(c.size)})
	entry := v.(*historyEntry)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.ring.Reset(turns)
}

// Append adds a turn to the user's entry if one exists.
func (c *MemoryHistoryCache) Append(userID string, turn domain.Turn) {
	v, ok := c.entries.Load(userID)
	if !ok {
		return
	}
	entry := v.(*historyEntry)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.ring.Push(turn)
}

// Size returns the per-user bound.
func (c *MemoryHistoryCache) Size() int {
	return c.size
}
