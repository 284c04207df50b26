package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// MockTwitchServer creates a test server that mocks Twitch Helix API and
// OAuth token responses. Register handlers per path, or use the Mock* helpers
// for the common shapes.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	requests atomic.Int64
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.requests.Add(1)
		key := r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Requests returns how many requests the server has seen.
func (m *MockTwitchServer) Requests() int64 {
	return m.requests.Load()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockUsersResponse adds a handler for /users returning the given records.
func (m *MockTwitchServer) MockUsersResponse(users []map[string]string) {
	m.Handlers["/users"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": users})
	}
}

// MockStreamsResponse adds a handler for /streams returning the given records.
func (m *MockTwitchServer) MockStreamsResponse(streams []map[string]any) {
	m.Handlers["/streams"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": streams})
	}
}

// MockFollowedResponse adds a handler for /channels/followed returning one
// unpaginated page.
func (m *MockTwitchServer) MockFollowedResponse(follows []map[string]string) {
	m.Handlers["/channels/followed"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": follows, "pagination": map[string]string{}})
	}
}

// MockBadgesResponse adds handlers for both global and channel chat badges.
func (m *MockTwitchServer) MockBadgesResponse(sets []map[string]any) {
	h := func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": sets})
	}
	m.Handlers["/chat/badges/global"] = h
	m.Handlers["/chat/badges"] = h
}

// MockErrorResponse adds a handler for path that always fails with status.
func (m *MockTwitchServer) MockErrorResponse(path string, status int, message string) {
	m.Handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "message": message}) //nolint:errcheck // test mock response
	}
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	}
}
