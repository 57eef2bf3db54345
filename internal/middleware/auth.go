package middleware

import (
	"context"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/savegress/optimizer/backend/internal/auth"
	"github.com/savegress/optimizer/backend/internal/syncguard"
)

type contextKey string

const ClaimsContextKey contextKey = "claims"

// Auth validates the bearer access token on every request and attaches the
// resulting Claims to the request context - the admin API's entire
// authentication gate.
func Auth(authService *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, `{"error": "missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				http.Error(w, `{"error": "invalid authorization header format"}`, http.StatusUnauthorized)
				return
			}

			claims, err := authService.ValidateToken(parts[1])
			if err != nil {
				http.Error(w, `{"error": "invalid or expired token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin ensures the authenticated operator holds the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(ClaimsContextKey).(*auth.Claims)
		if !ok || claims.Role != "admin" {
			http.Error(w, `{"error": "admin access required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClaimsFromContext returns the authenticated operator's claims, or nil if
// the request was never routed through Auth.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(ClaimsContextKey).(*auth.Claims)
	return claims
}

// SyncRateLimit admits sync operations at the edge at the limiter's
// configured rate (one per minute with the default SYNC_RATE_LIMIT_PER_MINUTE
// of 1), fingerprinted on (tenant id, last path
// segment) so /sync/users, /sync/licenses and /sync/usage are limited
// independently per tenant.
func SyncRateLimit(limiter *syncguard.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := chi.URLParam(r, "tenantID")
			operation := path.Base(r.URL.Path)
			if !limiter.Allow(syncguard.Fingerprint(tenantID, operation)) {
				http.Error(w, `{"error": "rate limit exceeded, at most one sync per tenant per minute"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
