package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/ammora/internal/chat"
	"github.com/ashureev/ammora/internal/identity"
)

func dialChat(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	header := http.Header{}
	header.Set(identity.APIKeyHeaderName, testAPIKey)
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestWebSocketChatTurn(t *testing.T) {
	t.Parallel()

	svc := &fakeChat{result: &chat.ChatTurnResult{AssistantText: "hi there", ThreadID: "t-7"}}
	srv := newTestServer(t, newTestRepo(t), svc)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat?user_id=u1&chat_session_id=s-9"
	conn := dialChat(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := wsjson.Write(ctx, conn, wsMessage{Type: "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var got wsMessage
	if err := wsjson.Read(ctx, conn, &got); err != nil || got.Type != "pong" {
		t.Fatalf("expected pong, got %+v (%v)", got, err)
	}

	if err := wsjson.Write(ctx, conn, wsMessage{Type: "message", Content: "hello"}); err != nil {
		t.Fatalf("write message: %v", err)
	}
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if got.Type != "reply" || got.Content != "hi there" || got.ThreadID != "t-7" {
		t.Fatalf("unexpected reply: %+v", got)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if req := svc.threadReq[0]; req.UserID != "u1" || req.SessionID != "s-9" || req.Message != "hello" {
		t.Fatalf("unexpected turn request: %+v", req)
	}
}

func TestWebSocketChatError(t *testing.T) {
	t.Parallel()

	svc := &fakeChat{err: fmt.Errorf("%w: user u1", chat.ErrNotFound)}
	srv := newTestServer(t, newTestRepo(t), svc)
	conn := dialChat(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/chat?user_id=u1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := wsjson.Write(ctx, conn, wsMessage{Type: "message", Content: "hello"}); err != nil {
		t.Fatalf("write message: %v", err)
	}
	var got wsMessage
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != "error" || got.Content != "user not found" {
		t.Fatalf("unexpected frame: %+v", got)
	}
}

func TestWebSocketRequiresUserID(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, newTestRepo(t), &fakeChat{})
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/ws/chat", nil)
	req.Header.Set(identity.APIKeyHeaderName, testAPIKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestConnRegistryReplaceAndUnregister(t *testing.T) {
	t.Parallel()

	reg := NewConnRegistry()
	srv := newTestServer(t, newTestRepo(t), &fakeChat{})
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat?user_id=u1"

	a := dialChat(t, wsURL)
	b := dialChat(t, wsURL)

	reg.Register("u1", "s", a)
	reg.Register("u1", "s", b)
	if reg.Count() != 1 {
		t.Fatalf("expected replaced socket, got %d", reg.Count())
	}
	reg.Unregister("u1", "s", a)
	if reg.Count() != 1 {
		t.Fatal("unregistering a stale socket must not remove the current one")
	}
	reg.Unregister("u1", "s", b)
	if reg.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", reg.Count())
	}
}
