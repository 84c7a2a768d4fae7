package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"mediavault/internal/auth"
)

type contextKey string

const roleContextKey contextKey = "authenticatedRole"

// ContextWithRole stores the authenticated role in the provided context.
func ContextWithRole(ctx context.Context, role auth.Role) context.Context {
	return context.WithValue(ctx, roleContextKey, role)
}

// RoleFromContext retrieves the authenticated role from context if present.
func RoleFromContext(ctx context.Context) (auth.Role, bool) {
	role, ok := ctx.Value(roleContextKey).(auth.Role)
	return role, ok
}

// AuthenticateRequest validates the session token on the request and returns
// the role it was issued for.
func (h *Handler) AuthenticateRequest(r *http.Request) (auth.Role, error) {
	token := ExtractToken(r)
	if token == "" {
		return "", fmt.Errorf("missing session token")
	}
	role, ok, err := h.sessionManager().Validate(token)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("invalid or expired session")
	}
	return role, nil
}

func (h *Handler) requireAuthenticatedRole(w http.ResponseWriter, r *http.Request) (auth.Role, bool) {
	role, ok := RoleFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("authentication required"))
		return "", false
	}
	return role, true
}

func (h *Handler) requireRole(w http.ResponseWriter, r *http.Request, required auth.Role) (auth.Role, bool) {
	role, ok := h.requireAuthenticatedRole(w, r)
	if !ok {
		return "", false
	}
	if role != required {
		WriteError(w, http.StatusForbidden, fmt.Errorf("forbidden"))
		return "", false
	}
	return role, true
}

// ExtractToken pulls the session token from the Authorization header or the
// session cookie.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}
