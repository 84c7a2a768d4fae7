package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mediavault/internal/api"
	"mediavault/internal/audit"
	"mediavault/internal/auth"
	"mediavault/internal/media"
)

const (
	testAdminSecret  = "server-admin-secret"
	testViewerSecret = "server-viewer-secret"
)

func newTestServer(t *testing.T, rateCfg RateLimitConfig) (*httptest.Server, *api.Handler) {
	t.Helper()

	verifier, err := auth.NewVerifier(testAdminSecret, testViewerSecret)
	if err != nil {
		t.Fatalf("NewVerifier returned error: %v", err)
	}
	backend, err := media.NewLocalBackend(media.LocalConfig{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("NewLocalBackend returned error: %v", err)
	}
	handler := &api.Handler{
		Verifier:  verifier,
		Sessions:  auth.NewSessionManager(time.Hour),
		Media:     backend,
		Validator: media.NewValidator(0),
		Audit:     audit.NewMemoryLog(0),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	srv, err := New(handler, Config{
		Addr:      "127.0.0.1:0",
		RateLimit: rateCfg,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts, handler
}

func loginToken(t *testing.T, ts *httptest.Server, secret string) string {
	t.Helper()

	resp, err := http.Post(ts.URL+"/login", "application/json", strings.NewReader(`{"secret":"`+secret+`"}`))
	if err != nil {
		t.Fatalf("login request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from login, got %d", resp.StatusCode)
	}
	for _, cookie := range resp.Cookies() {
		if cookie.Name == "mediavault_session" {
			return cookie.Value
		}
	}
	t.Fatal("login response carried no session cookie")
	return ""
}

func TestProtectedPathsRequireSession(t *testing.T) {
	ts, _ := newTestServer(t, RateLimitConfig{})

	for _, path := range []string{"/media", "/media/travel/a.jpg", "/thumbs/travel/a.jpg", "/upload", "/admin/logs"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("GET %s: expected 401, got %d", path, resp.StatusCode)
		}
	}
}

func TestBrowserRedirectedToLoginPage(t *testing.T) {
	ts, _ := newTestServer(t, RateLimitConfig{})

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/media", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Accept", "text/html")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("GET /media failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/login.html" {
		t.Fatalf("expected redirect to /login.html, got %q", loc)
	}
}

func TestAuthenticatedRequestPassesThrough(t *testing.T) {
	ts, _ := newTestServer(t, RateLimitConfig{})
	token := loginToken(t, ts, testViewerSecret)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/media", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /media failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload struct {
		Media []media.Item `json:"media"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode media index: %v", err)
	}
	if payload.Media == nil {
		t.Fatal("expected an empty array, not null")
	}
}

func TestHealthzIsPublic(t *testing.T) {
	ts, _ := newTestServer(t, RateLimitConfig{})

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestSecurityHeadersApplied(t *testing.T) {
	ts, _ := newTestServer(t, RateLimitConfig{})

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	resp.Body.Close()

	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected nosniff, got %q", got)
	}
	if got := resp.Header.Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected DENY, got %q", got)
	}
	csp := resp.Header.Get("Content-Security-Policy")
	if !strings.Contains(csp, "media-src 'self'") {
		t.Fatalf("expected media-src directive, got %q", csp)
	}
}

func TestRequestIDEchoedAndGenerated(t *testing.T) {
	ts, _ := newTestServer(t, RateLimitConfig{})

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("expected echoed request id, got %q", got)
	}

	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected a generated request id")
	}
}

func TestLoginRateLimited(t *testing.T) {
	ts, _ := newTestServer(t, RateLimitConfig{LoginLimit: 2, LoginWindow: time.Minute})

	for i := 0; i < 2; i++ {
		resp, err := http.Post(ts.URL+"/login", "application/json", strings.NewReader(`{"secret":"wrong"}`))
		if err != nil {
			t.Fatalf("login request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, resp.StatusCode)
		}
	}

	resp, err := http.Post(ts.URL+"/login", "application/json", strings.NewReader(`{"secret":"wrong"}`))
	if err != nil {
		t.Fatalf("login request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected a Retry-After header")
	}
}

func TestProtectedPath(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"/upload", true},
		{"/media", true},
		{"/media/travel/a.jpg", true},
		{"/thumbs/travel/a.jpg", true},
		{"/admin/logs", true},
		{"/healthz", false},
		{"/login", false},
		{"/logout", false},
		{"/check-auth", false},
		{"/", false},
		{"/login.html", false},
	}
	for _, tc := range cases {
		if got := protectedPath(tc.path); got != tc.want {
			t.Fatalf("protectedPath(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestExtractClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:1234"
	if ip := extractClientIP(req); ip != "192.0.2.7" {
		t.Fatalf("expected remote addr host, got %q", ip)
	}

	req.Header.Set("X-Real-IP", "198.51.100.2")
	if ip := extractClientIP(req); ip != "198.51.100.2" {
		t.Fatalf("expected X-Real-IP, got %q", ip)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 198.51.100.2")
	if ip := extractClientIP(req); ip != "203.0.113.5" {
		t.Fatalf("expected first forwarded address, got %q", ip)
	}
}

func TestNewRequiresHandler(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Fatal("expected error for nil handler")
	}
}
