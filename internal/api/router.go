package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/ammora/internal/identity"
	"github.com/ashureev/ammora/internal/middleware"
)

// RouterConfig collects what NewRouter wires together.
type RouterConfig struct {
	APIKey         string
	AllowedOrigins []string
	Health         *HealthHandler
	Chat           *ChatHandler
	WebSocket      *WebSocketHandler
}

// NewRouter builds the HTTP router. /health is public; everything under
// /api and /ws requires the API key.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	cfg.Health.RegisterHealth(r)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.APIKey))
		r.Route("/api", cfg.Chat.RegisterRoutes)
		if cfg.WebSocket != nil {
			r.Get("/ws/chat", cfg.WebSocket.ServeHTTP)
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		Error(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}
