// Package middleware contains HTTP middleware for the controller.
package middleware

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"opscore/internal/auth"
	"opscore/internal/store"

	"github.com/google/uuid"
)

// tenantKey is the context key for the authenticated tenant.
type tenantKey struct{}

// AuthMiddleware resolves the Bearer API key to a tenant and stores it on
// the request context. Every operation must be scoped by tenant_id.
func AuthMiddleware(s store.TenantStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Missing authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
				return
			}

			tenant, err := s.GetTenantByAPIKeyHash(r.Context(), auth.HashKey(parts[1]))
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				http.Error(w, "Internal error", http.StatusInternalServerError)
				return
			}
			if tenant == nil || err != nil {
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), tenantKey{}, tenant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewContextWithTenant returns a context carrying the tenant, the same way
// AuthMiddleware stores it.
func NewContextWithTenant(ctx context.Context, t *store.Tenant) context.Context {
	return context.WithValue(ctx, tenantKey{}, t)
}

// TenantFromContext extracts the authenticated tenant from the context.
func TenantFromContext(ctx context.Context) (*store.Tenant, bool) {
	t, ok := ctx.Value(tenantKey{}).(*store.Tenant)
	return t, ok
}

// TenantIDFromContext extracts the tenant ID from the context.
func TenantIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if t, ok := TenantFromContext(ctx); ok {
		return t.ID, true
	}
	return uuid.Nil, false
}
