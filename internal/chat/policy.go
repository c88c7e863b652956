package chat

import "github.com/ashureev/ammora/internal/domain"

// DefaultRefreshEvery matches the provider-side truncation window: the
// thread keeps the last 50 messages, so context is re-sent every 50 turns.
const DefaultRefreshEvery = 50

// ShouldInject reports whether the user's context must be sent with the next
// turn. That is the case when no remote thread exists yet, or when the
// thread has completed a positive multiple of refreshEvery turns.
func ShouldInject(record domain.ThreadRecord, refreshEvery int) bool {
	if !record.HasThread() {
		return true
	}
	if refreshEvery <= 0 {
		refreshEvery = DefaultRefreshEvery
	}
	return record.TurnCount > 0 && record.TurnCount%refreshEvery == 0
}
