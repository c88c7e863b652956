//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/ammora/internal/chat"
	"github.com/ashureev/ammora/internal/config"
	"github.com/ashureev/ammora/internal/domain"
	"github.com/ashureev/ammora/internal/identity"
	"github.com/ashureev/ammora/internal/store"
)

const testAPIKey = "test-key"

// fakeChat records requests and returns a canned result or error.
type fakeChat struct {
	mu        sync.Mutex
	result    *chat.ChatTurnResult
	err       error
	pending   int
	history   []domain.Turn
	threadReq []chat.ChatTurnRequest
	stateReq  []chat.ChatTurnRequest
}

func (f *fakeChat) HandleChatTurn(_ context.Context, req chat.ChatTurnRequest) (*chat.ChatTurnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threadReq = append(f.threadReq, req)
	return f.result, f.err
}

func (f *fakeChat) HandleStatelessTurn(_ context.Context, req chat.ChatTurnRequest) (*chat.ChatTurnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateReq = append(f.stateReq, req)
	return f.result, f.err
}

func (f *fakeChat) PendingPersistence() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

func (f *fakeChat) RecentHistory(_ context.Context, userID string, _ int) ([]domain.Turn, error) {
	if userID == "" {
		return nil, chat.ErrInvalidInput
	}
	return f.history, nil
}

func newTestRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newTestServer(t *testing.T, repo store.Repository, svc *fakeChat) *httptest.Server {
	t.Helper()
	base := NewHandler(repo, svc, 1<<10, nil)
	router := NewRouter(RouterConfig{
		APIKey:         testAPIKey,
		AllowedOrigins: []string{"*"},
		Health:         NewHealthHandler(repo, svc, 0),
		Chat:           NewChatHandler(base, config.ModeThread),
		WebSocket:      NewWebSocketHandler(svc, nil, []string{"*"}, nil),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, body string, withKey bool) (*http.Response, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if withKey {
		req.Header.Set(identity.APIKeyHeaderName, testAPIKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp, env
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestErrorEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusBadRequest, "nope")

	var got map[string]any
	if err := json.NewDecoder(w.Result().Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["success"] != false || got["error"] != "nope" {
		t.Errorf("unexpected body: %v", got)
	}
	if _, ok := got["data"]; ok {
		t.Errorf("error envelope must not carry data: %v", got)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("x: %w", chat.ErrInvalidInput):        http.StatusBadRequest,
		fmt.Errorf("x: %w", chat.ErrNotFound):            http.StatusNotFound,
		fmt.Errorf("x: %w", chat.ErrUpstreamUnavailable): http.StatusBadGateway,
		errors.New("other"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Errorf("statusFor(%v) = %d, want %d", err, got, want)
		}
	}
}

func TestChatRequiresAPIKey(t *testing.T) {
	t.Parallel()

	svc := &fakeChat{}
	srv := newTestServer(t, newTestRepo(t), svc)

	resp, env := doJSON(t, http.MethodPost, srv.URL+"/api/chat", `{"user_id":"u1","message":"hi"}`, false)
	if resp.StatusCode != http.StatusUnauthorized || env.Success {
		t.Fatalf("expected 401 failure, got %d %+v", resp.StatusCode, env)
	}
	if len(svc.threadReq) != 0 {
		t.Fatal("engine must not be called without a key")
	}
}

func TestChatSuccess(t *testing.T) {
	t.Parallel()

	svc := &fakeChat{result: &chat.ChatTurnResult{AssistantText: "hello", ThreadID: "t-1", ContextInjected: true}}
	srv := newTestServer(t, newTestRepo(t), svc)

	resp, env := doJSON(t, http.MethodPost, srv.URL+"/api/chat", `{"user_id":" u1 ","message":"hi","chat_session_id":"s-1"}`, true)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("expected 200 success, got %d %+v", resp.StatusCode, env)
	}
	data := env.Data.(map[string]any)
	if data["message"] != "hello" || data["thread_id"] != "t-1" || data["user_id"] != "u1" {
		t.Fatalf("unexpected data: %v", data)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.threadReq) != 1 {
		t.Fatalf("expected 1 thread turn, got %d", len(svc.threadReq))
	}
	if got := svc.threadReq[0]; got.UserID != "u1" || got.SessionID != "s-1" || got.Message != "hi" {
		t.Fatalf("unexpected turn request: %+v", got)
	}
}

func TestChatStatelessMode(t *testing.T) {
	t.Parallel()

	svc := &fakeChat{result: &chat.ChatTurnResult{AssistantText: "plain"}}
	srv := newTestServer(t, newTestRepo(t), svc)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/chat?mode=stateless", `{"user_id":"u1","message":"hi"}`, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.stateReq) != 1 || len(svc.threadReq) != 0 {
		t.Fatalf("expected stateless path, got thread=%d stateless=%d", len(svc.threadReq), len(svc.stateReq))
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/chat?mode=bogus", `{"user_id":"u1","message":"hi"}`, true)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown mode, got %d", resp.StatusCode)
	}
}

func TestChatErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: message is required", chat.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("%w: user u1", chat.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: boom", chat.ErrUpstreamUnavailable), http.StatusBadGateway},
	}
	for _, tc := range cases {
		svc := &fakeChat{err: tc.err}
		srv := newTestServer(t, newTestRepo(t), svc)
		resp, env := doJSON(t, http.MethodPost, srv.URL+"/api/chat", `{"user_id":"u1","message":"hi"}`, true)
		if resp.StatusCode != tc.want || env.Success || env.Error == "" {
			t.Errorf("%v: got %d %+v, want %d", tc.err, resp.StatusCode, env, tc.want)
		}
		if strings.Contains(env.Error, "boom") {
			t.Errorf("internal detail leaked: %q", env.Error)
		}
	}
}

func TestChatRejectsBadBody(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, newTestRepo(t), &fakeChat{})

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/chat", `{not json`, true)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	big := `{"user_id":"u1","message":"` + strings.Repeat("x", 2<<10) + `"}`
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/chat", big, true)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.StatusCode)
	}
}

func TestUserAndPreferencesEndpoints(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, newTestRepo(t), &fakeChat{})

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/user/u1", "", true)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for missing user, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/api/preferences/u1", `{"conversation_tone":"Playful"}`, true)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for preferences of missing user, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/api/user/u1", `{"name":"Asha","age":29,"email":"a@example.com"}`, true)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/api/user/u1", `{"name":"Asha R","age":30}`, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on update, got %d", resp.StatusCode)
	}

	resp, env := doJSON(t, http.MethodGet, srv.URL+"/api/user/u1", "", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	user := env.Data.(map[string]any)
	if user["name"] != "Asha R" || user["age"] != float64(30) {
		t.Fatalf("unexpected user: %v", user)
	}

	_, env = doJSON(t, http.MethodGet, srv.URL+"/api/preferences/u1", "", true)
	prefs := env.Data.(map[string]any)
	if prefs["conversation_tone"] != "Gentle" || prefs["support_type"] != "Supportive Friend" {
		t.Fatalf("expected default preferences, got %v", prefs)
	}

	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/api/preferences/u1", `{"conversation_tone":"Playful","topics_to_avoid":["work"]}`, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	_, env = doJSON(t, http.MethodGet, srv.URL+"/api/preferences/u1", "", true)
	prefs = env.Data.(map[string]any)
	if prefs["conversation_tone"] != "Playful" || prefs["support_type"] != "Supportive Friend" {
		t.Fatalf("unexpected preferences: %v", prefs)
	}
}

func TestSessionMessagesEndpoint(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()
	for i, role := range []domain.Role{domain.RoleUser, domain.RoleAssistant} {
		turn := domain.Turn{ID: fmt.Sprintf("m%d", i), Role: role, Text: fmt.Sprintf("text %d", i), Timestamp: time.Now()}
		if err := repo.AppendTurn(ctx, "u1", "s-1", turn); err != nil {
			t.Fatalf("AppendTurn failed: %v", err)
		}
	}

	srv := newTestServer(t, repo, &fakeChat{})
	resp, env := doJSON(t, http.MethodGet, srv.URL+"/api/messages/s-1", "", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	data := env.Data.(map[string]any)
	if data["count"] != float64(2) {
		t.Fatalf("expected 2 messages, got %v", data["count"])
	}
	msgs := data["messages"].([]any)
	first := msgs[0].(map[string]any)
	if first["type"] != "user" || first["message"] != "text 0" {
		t.Fatalf("unexpected first message: %v", first)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	t.Parallel()

	svc := &fakeChat{history: []domain.Turn{{ID: "1", Role: domain.RoleUser, Text: "hey"}}}
	srv := newTestServer(t, newTestRepo(t), svc)

	_, env := doJSON(t, http.MethodGet, srv.URL+"/api/history/u1?limit=5", "", true)
	data := env.Data.(map[string]any)
	if data["count"] != float64(1) {
		t.Fatalf("unexpected history: %v", data)
	}

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/history/u1?limit=-1", "", true)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", resp.StatusCode)
	}
}

func TestHealthAndNotFound(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, newTestRepo(t), &fakeChat{pending: 3})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.StatusCode != http.StatusOK || health["status"] != "healthy" || health["version"] != Version {
		t.Fatalf("unexpected health: %d %v", resp.StatusCode, health)
	}
	if health["pending_persist_jobs"] != float64(3) {
		t.Fatalf("expected 3 pending persistence jobs, got %v", health["pending_persist_jobs"])
	}

	nf, env := doJSON(t, http.MethodGet, srv.URL+"/nope", "", false)
	if nf.StatusCode != http.StatusNotFound || env.Success {
		t.Fatalf("expected JSON 404, got %d %+v", nf.StatusCode, env)
	}
}

func TestHealthDegradedWhenDatabaseClosed(t *testing.T) {
	t.Parallel()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "closed.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	_ = repo.Close()

	w := httptest.NewRecorder()
	NewHealthHandler(repo, nil, 0).Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}
