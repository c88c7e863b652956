package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/ammora/internal/chat"
	"github.com/ashureev/ammora/internal/config"
	"github.com/ashureev/ammora/internal/domain"
	"github.com/ashureev/ammora/internal/identity"
)

const sessionMessageLimit = 50

// ChatHandler serves chat, profile and history endpoints.
type ChatHandler struct {
	*Handler
	defaultMode string
}

// NewChatHandler creates a chat handler. defaultMode is config.ModeThread or
// config.ModeStateless and can be overridden per request with ?mode=.
func NewChatHandler(base *Handler, defaultMode string) *ChatHandler {
	if defaultMode != config.ModeStateless {
		defaultMode = config.ModeThread
	}
	return &ChatHandler{Handler: base, defaultMode: defaultMode}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.Chat)
	r.Get("/user/{userID}", h.GetUser)
	r.Put("/user/{userID}", h.PutUser)
	r.Get("/preferences/{userID}", h.GetPreferences)
	r.Put("/preferences/{userID}", h.PutPreferences)
	r.Get("/messages/{sessionID}", h.GetSessionMessages)
	r.Get("/history/{userID}", h.GetHistory)
}

type chatRequest struct {
	UserID        string `json:"user_id"`
	Message       string `json:"message"`
	ChatSessionID string `json:"chat_session_id,omitempty"`
}

type chatResponse struct {
	UserID          string `json:"user_id"`
	Message         string `json:"message"`
	ThreadID        string `json:"thread_id,omitempty"`
	ContextInjected bool   `json:"context_injected"`
}

// Chat answers one user message.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !h.decode(w, r, &req) {
		return
	}

	sessionID := identity.SanitizeSessionID(req.ChatSessionID)
	if sessionID == "" {
		sessionID = identity.SessionIDFromContext(r.Context())
	}
	turn := chat.ChatTurnRequest{
		UserID:    strings.TrimSpace(req.UserID),
		SessionID: sessionID,
		Message:   req.Message,
	}

	mode := h.defaultMode
	if m := r.URL.Query().Get("mode"); m != "" {
		mode = strings.ToLower(m)
	}

	var (
		res *chat.ChatTurnResult
		err error
	)
	switch mode {
	case config.ModeThread:
		res, err = h.chat.HandleChatTurn(r.Context(), turn)
	case config.ModeStateless:
		res, err = h.chat.HandleStatelessTurn(r.Context(), turn)
	default:
		Error(w, http.StatusBadRequest, "mode must be thread or stateless")
		return
	}
	if err != nil {
		status := statusFor(err)
		h.logger.Error("Chat turn failed",
			"user_id", turn.UserID,
			"session_id", turn.SessionID,
			"mode", mode,
			"status", status,
			"error", err,
		)
		Error(w, status, publicMessage(status))
		return
	}

	Success(w, http.StatusOK, chatResponse{
		UserID:          turn.UserID,
		Message:         res.AssistantText,
		ThreadID:        res.ThreadID,
		ContextInjected: res.ContextInjected,
	})
}

type userResponse struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Age       int       `json:"age,omitempty"`
	Gender    string    `json:"gender,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u *domain.User) userResponse {
	return userResponse{
		UserID:    u.UserID,
		Name:      u.Name,
		Age:       u.Age,
		Gender:    u.Gender,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
	}
}

// GetUser returns a user profile.
func (h *ChatHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to get user", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	if user == nil {
		Error(w, http.StatusNotFound, "user not found")
		return
	}
	Success(w, http.StatusOK, toUserResponse(user))
}

type userRequest struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Age    int    `json:"age"`
	Gender string `json:"gender"`
}

// PutUser creates or updates a user profile.
func (h *ChatHandler) PutUser(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	var req userRequest
	if !h.decode(w, r, &req) {
		return
	}
	if userID == "" || strings.TrimSpace(req.Name) == "" {
		Error(w, http.StatusBadRequest, "user id and name are required")
		return
	}
	if req.Age < 0 {
		Error(w, http.StatusBadRequest, "age must not be negative")
		return
	}

	ctx := r.Context()
	existing, err := h.repo.GetUser(ctx, userID)
	if err != nil {
		h.logger.Error("Failed to get user", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	now := time.Now().UTC()
	user := &domain.User{
		UserID:    userID,
		Name:      strings.TrimSpace(req.Name),
		Email:     strings.TrimSpace(req.Email),
		Age:       req.Age,
		Gender:    strings.TrimSpace(req.Gender),
		CreatedAt: now,
		UpdatedAt: now,
	}
	status := http.StatusCreated
	if existing != nil {
		user.CreatedAt = existing.CreatedAt
		status = http.StatusOK
	}

	if err := h.repo.UpsertUser(ctx, user); err != nil {
		h.logger.Error("Failed to save user", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save user")
		return
	}
	Success(w, status, toUserResponse(user))
}

type preferencesBody struct {
	SupportType        string            `json:"support_type"`
	ConversationTone   string            `json:"conversation_tone"`
	RelationshipStatus string            `json:"relationship_status"`
	TopicsToAvoid      []string          `json:"topics_to_avoid"`
	Occupation         string            `json:"occupation,omitempty"`
	Hobbies            []string          `json:"hobbies,omitempty"`
	SleepSchedule      string            `json:"sleep_schedule,omitempty"`
	Location           string            `json:"location,omitempty"`
	Extra              map[string]string `json:"extra,omitempty"`
}

func toPreferencesBody(p domain.Preferences) preferencesBody {
	return preferencesBody{
		SupportType:        p.SupportType,
		ConversationTone:   p.ConversationTone,
		RelationshipStatus: p.RelationshipStatus,
		TopicsToAvoid:      p.TopicsToAvoid,
		Occupation:         p.Occupation,
		Hobbies:            p.Hobbies,
		SleepSchedule:      p.SleepSchedule,
		Location:           p.Location,
		Extra:              p.Extra,
	}
}

// GetPreferences returns a user's preferences, or the defaults if none are stored.
func (h *ChatHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	prefs, err := h.repo.GetPreferences(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to get preferences", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load preferences")
		return
	}
	p := domain.DefaultPreferences()
	if prefs != nil {
		p = prefs.WithDefaults(p)
	}
	Success(w, http.StatusOK, toPreferencesBody(p))
}

// PutPreferences replaces a user's preferences.
func (h *ChatHandler) PutPreferences(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	var req preferencesBody
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	user, err := h.repo.GetUser(ctx, userID)
	if err != nil {
		h.logger.Error("Failed to get user", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	if user == nil {
		Error(w, http.StatusNotFound, "user not found")
		return
	}

	prefs := &domain.Preferences{
		UserID:             userID,
		SupportType:        strings.TrimSpace(req.SupportType),
		ConversationTone:   strings.TrimSpace(req.ConversationTone),
		RelationshipStatus: strings.TrimSpace(req.RelationshipStatus),
		TopicsToAvoid:      req.TopicsToAvoid,
		Occupation:         strings.TrimSpace(req.Occupation),
		Hobbies:            req.Hobbies,
		SleepSchedule:      strings.TrimSpace(req.SleepSchedule),
		Location:           strings.TrimSpace(req.Location),
		Extra:              req.Extra,
		UpdatedAt:          time.Now().UTC(),
	}
	if err := h.repo.UpsertPreferences(ctx, prefs); err != nil {
		h.logger.Error("Failed to save preferences", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save preferences")
		return
	}
	Success(w, http.StatusOK, toPreferencesBody(prefs.WithDefaults(domain.DefaultPreferences())))
}

type messageItem struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type messagesResponse struct {
	SessionID     string        `json:"chat_session_id"`
	Messages      []messageItem `json:"messages"`
	Count         int           `json:"count"`
	LastMessageAt *time.Time    `json:"last_message_at,omitempty"`
}

// GetSessionMessages returns the last messages of a chat session, oldest first.
func (h *ChatHandler) GetSessionMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SanitizeSessionID(chi.URLParam(r, "sessionID"))
	if sessionID == "" {
		Error(w, http.StatusBadRequest, "invalid session id")
		return
	}

	ctx := r.Context()
	msgs, err := h.repo.SessionMessages(ctx, sessionID, sessionMessageLimit)
	if err != nil {
		h.logger.Error("Failed to get session messages", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	resp := messagesResponse{SessionID: sessionID, Messages: make([]messageItem, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, messageItem{
			ID:        m.ID,
			Message:   m.Text,
			Type:      string(m.Role),
			Timestamp: m.Timestamp,
		})
	}
	resp.Count = len(resp.Messages)

	if session, err := h.repo.GetSession(ctx, sessionID); err != nil {
		h.logger.Warn("Failed to get chat session", "session_id", sessionID, "error", err)
	} else if session != nil {
		resp.LastMessageAt = &session.LastMessageAt
	}

	Success(w, http.StatusOK, resp)
}

// GetHistory returns the user's recent turns through the history cache.
func (h *ChatHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	turns, err := h.chat.RecentHistory(r.Context(), userID, limit)
	if err != nil {
		status := statusFor(err)
		h.logger.Error("Failed to get history", "user_id", userID, "error", err)
		Error(w, status, "failed to load history")
		return
	}

	items := make([]messageItem, 0, len(turns))
	for _, t := range turns {
		items = append(items, messageItem{ID: t.ID, Message: t.Text, Type: string(t.Role), Timestamp: t.Timestamp})
	}
	Success(w, http.StatusOK, map[string]any{"messages": items, "count": len(items)})
}
