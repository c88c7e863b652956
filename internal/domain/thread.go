package domain

import (
	"time"
)

// ThreadRecord tracks the remote conversation thread held for a user.
// TurnCount counts completed turns on ThreadID and is reset whenever
// ThreadID changes.
type ThreadRecord struct {
	UserID    string
	ThreadID  string
	TurnCount int
	UpdatedAt time.Time
}

// HasThread returns true if a remote thread has been created for the user.
func (t ThreadRecord) HasThread() bool {
	return t.ThreadID != ""
}
