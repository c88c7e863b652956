// Package api provides HTTP, websocket and gRPC handlers for the chat service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/ammora/internal/chat"
	"github.com/ashureev/ammora/internal/domain"
	"github.com/ashureev/ammora/internal/store"
)

// ChatService is the part of the conversation engine the handlers use.
type ChatService interface {
	HandleChatTurn(ctx context.Context, req chat.ChatTurnRequest) (*chat.ChatTurnResult, error)
	HandleStatelessTurn(ctx context.Context, req chat.ChatTurnRequest) (*chat.ChatTurnResult, error)
	RecentHistory(ctx context.Context, userID string, limit int) ([]domain.Turn, error)
}

// Handler provides common handler utilities.
type Handler struct {
	repo      store.Repository
	chat      ChatService
	bodyLimit int64
	logger    *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, svc ChatService, bodyLimit int64, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if bodyLimit <= 0 {
		bodyLimit = 1 << 20
	}
	return &Handler{
		repo:      repo,
		chat:      svc,
		bodyLimit: bodyLimit,
		logger:    logger,
	}
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Success writes data wrapped in a success envelope.
func Success(w http.ResponseWriter, status int, data any) {
	JSON(w, status, envelope{Success: true, Data: data})
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, envelope{Success: false, Error: message})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides internal error detail from clients.
func publicMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "user_id and message are required"
	case http.StatusNotFound:
		return "user not found"
	case http.StatusBadGateway:
		return "the assistant is unavailable, please try again"
	default:
		return "internal server error"
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.bodyLimit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
