package chat

import "errors"

var (
	// ErrInvalidInput is returned when a request is missing its user ID or message.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned when the user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUpstreamUnavailable is returned when the store or model provider fails.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrPersistenceFailure marks background persistence errors. They are
	// only logged and never reach the caller.
	ErrPersistenceFailure = errors.New("persistence failure")
)
