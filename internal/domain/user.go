// Package domain contains core domain types for the Ammora chat backend.
package domain

import (
	"time"
)

// User is the profile of a person chatting with the assistant.
// The chat engine only ever reads it.
type User struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Age       int       `json:"age,omitempty"`
	Gender    string    `json:"gender,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayName returns the name used when addressing the user.
func (u *User) DisplayName() string {
	if u == nil || u.Name == "" {
		return "friend"
	}
	return u.Name
}
