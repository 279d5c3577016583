// Package testutil holds shared fixtures: a fake Helix API and a Postgres test database.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

// MockTwitchServer serves canned Helix responses keyed by path.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu    sync.Mutex
	calls map[string]int
}

// NewMockTwitchServer starts a server whose unknown paths return 404.
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
		calls:    make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.calls[r.URL.Path]++
		handler, ok := m.Handlers[r.URL.Path]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// BaseURL is the value to use as HelixClient.BaseURL.
func (m *MockTwitchServer) BaseURL() string { return m.URL + "/helix" }

// Calls reports how many requests hit path.
func (m *MockTwitchServer) Calls(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[path]
}

func (m *MockTwitchServer) handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	m.Handlers[path] = h
	m.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockUserResponse answers /helix/users for any login (and for the token owner).
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.handle("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": []map[string]string{{"id": userID, "login": login}}})
	})
}

// MockStreamsResponse answers /helix/streams.
func (m *MockTwitchServer) MockStreamsResponse(streams []map[string]any) {
	m.handle("/helix/streams", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": streams})
	})
}

// MockChatters answers /helix/chat/chatters with a single page.
func (m *MockTwitchServer) MockChatters(logins ...string) {
	m.handle("/helix/chat/chatters", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": loginRows(logins), "pagination": map[string]string{}, "total": len(logins)})
	})
}

// MockRoster answers a roster listing path such as /helix/channels/vips,
// paging by the request's first parameter with numeric cursors.
func (m *MockTwitchServer) MockRoster(path string, logins ...string) {
	m.handle(path, func(w http.ResponseWriter, r *http.Request) {
		first, _ := strconv.Atoi(r.URL.Query().Get("first"))
		if first <= 0 {
			first = 20
		}
		start, _ := strconv.Atoi(r.URL.Query().Get("after"))
		end := min(start+first, len(logins))
		cursor := ""
		if end < len(logins) {
			cursor = strconv.Itoa(end)
		}
		writeJSON(w, map[string]any{"data": loginRows(logins[start:end]), "pagination": map[string]string{"cursor": cursor}})
	})
}

// MockStatus makes path answer with a Helix error body.
func (m *MockTwitchServer) MockStatus(path string, status int) {
	m.handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": http.StatusText(status), "status": status, "message": "mock"}) //nolint:errcheck // test mock response
	})
}

func loginRows(logins []string) []map[string]string {
	rows := make([]map[string]string, 0, len(logins))
	for _, l := range logins {
		rows = append(rows, map[string]string{"user_login": l, "user_name": l})
	}
	return rows
}
