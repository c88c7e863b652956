package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/ammora/internal/store"
)

const (
	serviceName = "ammora-chat"
	// Version is reported by the health endpoint.
	Version = "1.0.0"
)

// PersistenceStats reports the background persistence backlog.
type PersistenceStats interface {
	PendingPersistence() int
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo    store.Repository
	stats   PersistenceStats
	timeout time.Duration
}

// NewHealthHandler creates a new health handler. stats may be nil.
func NewHealthHandler(repo store.Repository, stats PersistenceStats, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthHandler{repo: repo, stats: stats, timeout: timeout}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := map[string]interface{}{
		"status":  "healthy",
		"service": serviceName,
		"version": Version,
		"checks":  map[string]string{"api": "ok"},
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		status["checks"].(map[string]string)["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		status["checks"].(map[string]string)["database"] = "ok"
	}

	if h.stats != nil {
		status["pending_persist_jobs"] = h.stats.PendingPersistence()
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
