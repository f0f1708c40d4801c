package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const (
	tenantIDKey  contextKey = "tenant_id"
	keyPrefixKey contextKey = "key_prefix"
	scopesKey    contextKey = "api_key_scopes"
)

func SetTenantID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantIDKey, id)
}

func GetTenantID(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(tenantIDKey).(uuid.UUID)
	return id, ok
}

func SetKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

func setScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, scopesKey, scopes)
}

func getScopes(r *http.Request) []string {
	scopes, _ := r.Context().Value(scopesKey).([]string)
	return scopes
}

// ClientIdentity is the rate-limit identity: the authenticated key prefix
// when present, otherwise the client IP (proxy headers respected so all
// callers behind one proxy are not throttled as a single client).
func ClientIdentity(r *http.Request) string {
	if prefix, ok := getKeyPrefix(r); ok {
		return "key:" + prefix
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return "ip:" + strings.TrimSpace(first)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return "ip:" + real
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return "ip:" + host
}
