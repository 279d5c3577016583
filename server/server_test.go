package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMux(t *testing.T) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewMux(ctx, Deps{Config: testConfig(), Picker: &fakePicker{}})
}

func TestNewMux_AdminAuth(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "secret")
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")
	mux := newTestMux(t)

	cases := []struct {
		path   string
		token  string
		status int
	}{
		{"/api/status", "", http.StatusUnauthorized},
		{"/api/status", "secret", http.StatusOK},
		{"/healthz", "", http.StatusOK},
		{"/overlay", "", http.StatusOK},
		{"/metrics", "", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.path+"/"+tc.token, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.token != "" {
				req.Header.Set("X-Admin-Token", tc.token)
			}
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, req)
			assert.Equal(t, tc.status, rr.Code)
		})
	}
}

func TestNewMux_CorrelationID(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "")
	mux := newTestMux(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, "corr-123", rr.Header().Get("X-Correlation-ID"))

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, rr.Header().Get("X-Correlation-ID"))
}

func TestNewMux_PickRoute(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "")
	mux := newTestMux(t)

	req := httptest.NewRequest(http.MethodPost, "/api/pick", strings.NewReader(`{"count":1}`))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

// Overlay streams must work through the middleware stack's response writer.
func TestNewMux_OverlayEventsStream(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "")
	srv := httptest.NewServer(newTestMux(t))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/overlay/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
}

func TestStart_ShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Start(ctx, Deps{Config: testConfig()}, "127.0.0.1:0") }()

	time.AfterFunc(100*time.Millisecond, cancel)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
