package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
}

func TestAdminAuthMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		username       string
		password       string
		token          string
		setup          func(r *http.Request)
		expectedStatus int
	}{
		{name: "no auth configured allows request", expectedStatus: http.StatusOK},
		{
			name: "valid basic auth", username: "admin", password: "secret123",
			setup:          func(r *http.Request) { r.SetBasicAuth("admin", "secret123") },
			expectedStatus: http.StatusOK,
		},
		{
			name: "wrong basic auth password", username: "admin", password: "secret123",
			setup:          func(r *http.Request) { r.SetBasicAuth("admin", "nope") },
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "valid admin token header", token: "tok-123",
			setup:          func(r *http.Request) { r.Header.Set("X-Admin-Token", "tok-123") },
			expectedStatus: http.StatusOK,
		},
		{
			name: "valid bearer token", token: "tok-123",
			setup:          func(r *http.Request) { r.Header.Set("Authorization", "Bearer tok-123") },
			expectedStatus: http.StatusOK,
		},
		{
			name: "wrong token", token: "tok-123",
			setup:          func(r *http.Request) { r.Header.Set("X-Admin-Token", "tok-999") },
			expectedStatus: http.StatusUnauthorized,
		},
		{name: "missing credentials", token: "tok-123", expectedStatus: http.StatusUnauthorized},
		{
			name: "basic auth accepted when token also configured", username: "admin", password: "pw", token: "tok",
			setup:          func(r *http.Request) { r.SetBasicAuth("admin", "pw") },
			expectedStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ADMIN_USERNAME", tt.username)
			t.Setenv("ADMIN_PASSWORD", tt.password)
			t.Setenv("ADMIN_TOKEN", tt.token)

			handler := adminAuth(okHandler(), loadAuthConfig())
			req := httptest.NewRequest(http.MethodPost, "/api/pick", nil)
			if tt.setup != nil {
				tt.setup(req)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
			if rr.Code == http.StatusUnauthorized && rr.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header on 401")
			}
		})
	}
}

func TestIPRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := newIPRateLimiter(ctx, &rateLimiterConfig{enabled: true, requestsPerIP: 3, window: time.Minute})
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !rl.allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.allow("10.0.0.1") {
		t.Fatal("4th request inside the window should be blocked")
	}
	if !rl.allow("10.0.0.2") {
		t.Fatal("other IPs have their own budget")
	}

	now = now.Add(61 * time.Second)
	if !rl.allow("10.0.0.1") {
		t.Fatal("request after the window should be allowed")
	}

	now = now.Add(3 * time.Minute)
	rl.cleanup()
	rl.mu.Lock()
	n := len(rl.visitors)
	rl.mu.Unlock()
	if n != 0 {
		t.Fatalf("cleanup left %d visitors", n)
	}
}

func TestIPRateLimiter_Disabled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := newIPRateLimiter(ctx, &rateLimiterConfig{enabled: false, requestsPerIP: 1, window: time.Minute})
	for i := 0; i < 5; i++ {
		if !rl.allow("10.0.0.1") {
			t.Fatal("disabled limiter must allow everything")
		}
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := newIPRateLimiter(ctx, &rateLimiterConfig{enabled: true, requestsPerIP: 1, window: time.Minute})
	handler := rateLimitMiddleware(okHandler(), rl)

	do := func(method string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/api/raffle/draw", nil)
		req.RemoteAddr = "192.0.2.7:5555"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	if rr := do(http.MethodPost); rr.Code != http.StatusOK {
		t.Fatalf("first POST: got %d", rr.Code)
	}
	rr := do(http.MethodPost)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second POST: expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want 60", rr.Header().Get("Retry-After"))
	}
	for i := 0; i < 3; i++ {
		if rr := do(http.MethodGet); rr.Code != http.StatusOK {
			t.Fatalf("GET should not be limited, got %d", rr.Code)
		}
	}
}

func TestLoadRateLimiterConfig(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "")
	t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", "")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "")
	cfg := loadRateLimiterConfig()
	if !cfg.enabled || cfg.requestsPerIP != 30 || cfg.window != time.Minute {
		t.Fatalf("defaults = %+v", cfg)
	}

	t.Setenv("RATE_LIMIT_ENABLED", "0")
	t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", "5")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "10")
	cfg = loadRateLimiterConfig()
	if cfg.enabled || cfg.requestsPerIP != 5 || cfg.window != 10*time.Second {
		t.Fatalf("overrides = %+v", cfg)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"remote addr with port", "192.0.2.1:1234", "", "192.0.2.1"},
		{"remote addr without port", "192.0.2.1", "", "192.0.2.1"},
		{"forwarded first hop", "10.0.0.1:80", "203.0.113.5, 10.0.0.1", "203.0.113.5"},
		{"ipv6", "[2001:db8::1]:443", "", "2001:db8::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		env        string
		permissive string
		origins    string
		origin     string
		wantOrigin string
	}{
		{name: "dev is permissive", env: "dev", origin: "http://x.test", wantOrigin: "*"},
		{name: "production allowed origin", env: "production", origins: "https://panel.example.com", origin: "https://panel.example.com", wantOrigin: "https://panel.example.com"},
		{name: "production other origin", env: "production", origins: "https://panel.example.com", origin: "https://evil.test", wantOrigin: ""},
		{name: "wildcard subdomain", env: "production", origins: "*.example.com", origin: "https://obs.example.com", wantOrigin: "https://obs.example.com"},
		{name: "explicit restriction in dev", env: "dev", permissive: "false", origin: "http://x.test", wantOrigin: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENV", tt.env)
			t.Setenv("CORS_PERMISSIVE", tt.permissive)
			t.Setenv("CORS_ALLOWED_ORIGINS", tt.origins)

			handler := withCORSConfig(okHandler(), loadCORSConfig())
			req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
			req.Header.Set("Origin", tt.origin)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Setenv("ENV", "dev")
	t.Setenv("CORS_PERMISSIVE", "")
	called := false
	handler := withCORSConfig(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }), loadCORSConfig())
	req := httptest.NewRequest(http.MethodOptions, "/api/pick", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rr.Code)
	}
	if called {
		t.Error("preflight reached the handler")
	}
}
