package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"mediavault/internal/audit"
	"mediavault/internal/auth"
	"mediavault/internal/media"
)

// ThumbnailQueue accepts items for background preview rendering.
type ThumbnailQueue interface {
	Enqueue(item media.Item)
}

// Handler carries every dependency the HTTP surface needs. It is built once
// at startup and shared across requests.
type Handler struct {
	Verifier            *auth.Verifier
	Sessions            *auth.SessionManager
	Media               media.Backend
	Validator           media.Validator
	Thumbnails          ThumbnailQueue
	Audit               audit.Log
	Logger              *slog.Logger
	SessionCookiePolicy SessionCookiePolicy

	defaultsOnce sync.Once
}

// initDefaults fills optional dependencies exactly once so concurrent
// requests never observe a half-assigned field.
func (h *Handler) initDefaults() {
	h.defaultsOnce.Do(func() {
		if h.Sessions == nil {
			h.Sessions = auth.NewSessionManager(30 * time.Minute)
		}
		if h.Audit == nil {
			h.Audit = audit.NewMemoryLog(0)
		}
	})
}

func (h *Handler) sessionManager() *auth.SessionManager {
	h.initDefaults()
	return h.Sessions
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// Health reports server and session-store health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if err := h.sessionManager().Ping(r.Context()); err != nil {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

type loginRequest struct {
	Secret string `json:"secret"`
}

// Login exchanges a shared secret for a session bound to the matching role.
// Browser form posts are answered with redirects, API clients with JSON.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	secret, browser, err := extractLoginSecret(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	role, ok := h.Verifier.Verify(secret)
	if !ok {
		h.logger().Warn("login rejected", "remote_addr", r.RemoteAddr)
		if browser {
			http.Redirect(w, r, "/login.html?error=1", http.StatusSeeOther)
			return
		}
		writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid credentials"))
		return
	}

	token, expiresAt, err := h.sessionManager().Create(role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.setSessionCookie(w, r, token, expiresAt)
	h.logger().Info("login succeeded", "role", string(role), "remote_addr", r.RemoteAddr)
	if browser {
		http.Redirect(w, r, landingPage(role), http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"role":      string(role),
		"expiresAt": expiresAt.UTC(),
	})
}

// extractLoginSecret reads the secret from a JSON body or a browser form
// post. The second return value reports whether the client expects redirect
// responses.
func extractLoginSecret(r *http.Request) (string, bool, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseForm(); err != nil {
			return "", true, fmt.Errorf("parse login form: %w", err)
		}
		secret := r.PostFormValue("secret")
		if secret == "" {
			secret = r.PostFormValue("password")
		}
		return secret, true, nil
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		return "", wantsHTML(r), err
	}
	return req.Secret, wantsHTML(r), nil
}

// Logout revokes the current session. Revocation is immediate: the token is
// deleted server-side, not just forgotten by the browser.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	if token := ExtractToken(r); token != "" {
		if err := h.sessionManager().Revoke(token); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	h.ClearSessionCookie(w, r)
	if wantsHTML(r) {
		http.Redirect(w, r, "/login.html", http.StatusSeeOther)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckAuth reports whether the request carries a valid session and which
// role it belongs to.
func (h *Handler) CheckAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	role, err := h.AuthenticateRequest(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"role":          string(role),
	})
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// landingPage picks the view a browser lands on after login.
func landingPage(role auth.Role) string {
	if role == auth.RoleAdmin {
		return "/admin.html"
	}
	return "/media.html"
}
