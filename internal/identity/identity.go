// Package identity authenticates API callers and carries the chat session
// ID through the request context.
package identity

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"regexp"
	"strings"
)

const (
	APIKeyHeaderName      = "X-API-Key"
	SessionHeaderName     = "X-Chat-Session-ID"
	DefaultSessionIDValue = ""
)

type contextKey int

const (
	sessionIDKey contextKey = iota
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// SessionIDFromContext extracts the chat session ID from the request context.
// It is empty when the caller did not send one.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

// WithSessionID returns a copy of ctx carrying sessionID.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, SanitizeSessionID(sessionID))
}

// SanitizeSessionID trims id and returns it if it is well formed, or the
// empty session otherwise.
func SanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("chat_session_id")
	}
	return SanitizeSessionID(sid)
}

// ValidAPIKey reports whether got matches want in constant time.
func ValidAPIKey(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// Middleware rejects requests without the configured API key and injects
// the per-request chat session ID.
func Middleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(APIKeyHeaderName)
			if key == "" {
				// Browsers cannot set headers on websocket upgrades.
				key = r.URL.Query().Get("api_key")
			}
			if !ValidAPIKey(key, apiKey) {
				w.Header().Set("Content-Type", "application/json")
				http.Error(w, `{"success":false,"error":"invalid or missing API key"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), sessionIDKey, sessionIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
