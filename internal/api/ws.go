package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/ammora/internal/chat"
	"github.com/ashureev/ammora/internal/identity"
)

const wsWriteTimeout = 10 * time.Second

// ConnRegistry tracks open chat sockets per user and session. A new socket
// for the same user and session replaces the old one.
type ConnRegistry struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewConnRegistry creates an empty registry.
func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{active: make(map[string]map[string]*websocket.Conn)}
}

// Register adds conn for a user/session, closing any socket it replaces.
func (m *ConnRegistry) Register(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]*websocket.Conn)
	}
	if existing, exists := m.active[userID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	m.active[userID][sessionID] = conn
	slog.Info("Chat socket registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes conn if it is still the current socket for the user/session.
func (m *ConnRegistry) Unregister(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.active[userID]
	if !ok {
		return
	}
	if current, exists := sessions[sessionID]; exists && current == conn {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(m.active, userID)
		}
		slog.Info("Chat socket unregistered", "user_id", userID, "session_id", sessionID)
	}
}

// Count returns the number of open sockets.
func (m *ConnRegistry) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}

// CloseAll closes every open socket.
func (m *ConnRegistry) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for userID, sessions := range m.active {
		for _, conn := range sessions {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(m.active, userID)
	}
}

// wsMessage is both the inbound and outbound frame format.
type wsMessage struct {
	Type     string `json:"type"`
	Content  string `json:"content,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`
}

// WebSocketHandler runs chat turns over a websocket. Each inbound
// {"type":"message"} frame is one turn on the user's thread.
type WebSocketHandler struct {
	chat           ChatService
	registry       *ConnRegistry
	originPatterns []string
	logger         *slog.Logger
}

// NewWebSocketHandler creates a websocket chat handler. originPatterns are
// passed to websocket.Accept; nil accepts only same-origin requests.
func NewWebSocketHandler(svc ChatService, registry *ConnRegistry, originPatterns []string, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = NewConnRegistry()
	}
	return &WebSocketHandler{
		chat:           svc,
		registry:       registry,
		originPatterns: originPatterns,
		logger:         logger,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusBadRequest, "user_id is required")
		return
	}
	h.logger.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.registry.Register(userID, sessionID, ws)
	defer h.registry.Unregister(userID, sessionID, ws)

	h.readLoop(r.Context(), ws, userID, sessionID)
	h.logger.Info("Chat socket ended", "user_id", userID)
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, userID, sessionID string) {
	for {
		var msg wsMessage
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		switch msg.Type {
		case "message":
			res, err := h.chat.HandleChatTurn(ctx, chat.ChatTurnRequest{
				UserID:    userID,
				SessionID: sessionID,
				Message:   msg.Content,
			})
			if err != nil {
				status := statusFor(err)
				h.logger.Error("Chat turn failed", "user_id", userID, "status", status, "error", err)
				if !h.write(ctx, ws, wsMessage{Type: "error", Content: publicMessage(status)}) {
					return
				}
				continue
			}
			if !h.write(ctx, ws, wsMessage{Type: "reply", Content: res.AssistantText, ThreadID: res.ThreadID}) {
				return
			}
		case "ping":
			if !h.write(ctx, ws, wsMessage{Type: "pong"}) {
				return
			}
		default:
			if !h.write(ctx, ws, wsMessage{Type: "error", Content: "unknown message type"}) {
				return
			}
		}
	}
}

func (h *WebSocketHandler) write(ctx context.Context, ws *websocket.Conn, msg wsMessage) bool {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, ws, msg); err != nil {
		h.logger.Debug("WebSocket write failed", "error", err, "type", msg.Type)
		return false
	}
	return true
}
