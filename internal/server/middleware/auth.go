package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/keydropio/keydrop/internal/model"
	"github.com/keydropio/keydrop/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
)

// SearchSecretHeader carries the shared secret for key search.
const SearchSecretHeader = "X-Search-Secret"

// Principal represents the authenticated identity making the request.
type Principal struct {
	Type    string // "admin" or "search"
	Subject string
	IsAdmin bool
}

// RequireAdmin returns an HTTP middleware that admits only requests bearing
// a valid admin JWT in the Authorization header. When admin auth is not
// configured every request is refused.
func RequireAdmin(auth *service.AdminAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.Enabled() {
				writeAuthError(w, http.StatusForbidden, "Admin access is not configured")
				return
			}

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeAuthError(w, http.StatusUnauthorized, "Authentication required. Provide a Bearer token.")
				return
			}
			p, err := auth.ValidateToken(strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), AuthPrincipalKey, &Principal{
				Type:    "admin",
				Subject: p.Subject,
				IsAdmin: true,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSecret returns an HTTP middleware that admits only requests whose
// X-Search-Secret header matches secret. An empty secret refuses every
// request.
func RequireSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				writeAuthError(w, http.StatusForbidden, "Search is not configured")
				return
			}
			presented := r.Header.Get(SearchSecretHeader)
			if presented == "" {
				writeAuthError(w, http.StatusUnauthorized, "Authentication required. Provide the "+SearchSecretHeader+" header.")
				return
			}
			if !service.SecretMatches(secret, presented) {
				writeAuthError(w, http.StatusForbidden, "Invalid search secret")
				return
			}

			ctx := context.WithValue(r.Context(), AuthPrincipalKey, &Principal{Type: "search"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Message: message},
	})
}
