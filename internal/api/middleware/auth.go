package middleware

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/anupkhanal/ocrhub/internal/api/response"
	"github.com/anupkhanal/ocrhub/internal/store"
)

const keyPrefixLen = 8

// Auth validates the opaque API key before any request reaches the core.
type Auth struct {
	store store.Store
}

// NewAuth creates the Auth middleware.
func NewAuth(s store.Store) *Auth {
	return &Auth{store: s}
}

// Authenticate validates the Bearer token, looks up candidate keys by prefix,
// and sets tenant_id, key_prefix, and scopes in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		if len(rawKey) < keyPrefixLen {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key format", nil)
			return
		}

		prefix := rawKey[:keyPrefixLen]

		keys, err := a.store.GetAPIKeyByPrefix(r.Context(), prefix)
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate API key", nil)
			return
		}

		for _, key := range keys {
			if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) != nil {
				continue
			}

			ctx := r.Context()
			ctx = SetTenantID(ctx, key.TenantID)
			ctx = SetKeyPrefix(ctx, prefix)
			ctx = setScopes(ctx, key.Scopes)

			// Last-used bookkeeping must not add latency to the request.
			go a.store.UpdateAPIKeyLastUsed(context.Background(), key.ID)

			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		response.Error(w, http.StatusUnauthorized,
			"INVALID_TOKEN", "Invalid API key", nil)
	})
}

// RequireScope returns middleware that checks whether the authenticated
// API key carries the given scope.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, s := range getScopes(r) {
				if s == scope {
					next.ServeHTTP(w, r)
					return
				}
			}
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "Insufficient permissions", nil)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
