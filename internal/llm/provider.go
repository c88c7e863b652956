// Package llm talks to the language-model provider. It offers a stateful
// client that appends to provider-hosted threads and a stateless client
// that sends a fully assembled prompt.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrInvalidThread is returned when the referenced remote thread does not
	// exist or can no longer be used. Callers may recover by starting a new thread.
	ErrInvalidThread = errors.New("llm: remote thread is invalid")

	// ErrRunFailed is returned when a run reaches a failed, cancelled or expired status.
	ErrRunFailed = errors.New("llm: run did not complete")

	// ErrRunTimeout is returned when a run is still active after the configured timeout.
	ErrRunTimeout = errors.New("llm: run timed out")

	// ErrProvider covers transport failures and unexpected provider responses.
	ErrProvider = errors.New("llm: provider request failed")
)

// Message is one entry of a provider-ready conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ThreadRequest asks for a reply on a remote thread.
type ThreadRequest struct {
	Message string
	// ThreadID is the thread to append to; empty creates a new thread.
	ThreadID string
	// SystemContext, when set, is injected into the thread before Message.
	SystemContext string
}

// ThreadReply is the assistant's answer and the thread it was produced on.
type ThreadReply struct {
	Text     string
	ThreadID string
}

// ThreadResponder produces replies on provider-hosted persistent threads.
type ThreadResponder interface {
	Respond(ctx context.Context, req ThreadRequest) (*ThreadReply, error)
}

// CompletionRequest is a self-contained prompt for a stateless reply.
type CompletionRequest struct {
	SystemPrompt string
	History      []Message
	Message      string
}

// CompletionResponder produces replies from a fully assembled prompt.
type CompletionResponder interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
