package middleware

import (
	"encoding/json"
	"net/http"
	"opscore/internal/store"
	"opscore/pkg/api"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware throttles requests per tenant using an in-process
// token bucket. This is the cheap edge guard in front of the API; the
// durable fixed-window limiter in the store is a separate feature that
// tenants call for their own identifiers.
func RateLimitMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limiters := sync.Map{} // tenantID -> cachedLimiter

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant, ok := TenantFromContext(r.Context())
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(api.ErrorResponse{
					Error: "Unauthorized",
					Code:  "401",
				})
				return
			}

			// APIRateLimit=0 means unlimited
			if tenant.APIRateLimit > 0 {
				limiter := getOrCreateLimiter(&limiters, tenant, 5*time.Minute)
				if !limiter.Allow() {
					w.Header().Set("Retry-After", "1")
					http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

func getOrCreateLimiter(limiters *sync.Map, tenant *store.Tenant, ttl time.Duration) *rate.Limiter {
	if limiter, ok := limiters.Load(tenant.ID); ok {
		cached := limiter.(*cachedLimiter)
		if time.Now().Before(cached.expiresAt) {
			return cached.limiter
		}
		// expired, need to create new
	}

	burst := tenant.APIRateBurst
	if burst <= 0 {
		burst = tenant.APIRateLimit
	}
	limiter := rate.NewLimiter(
		rate.Limit(tenant.APIRateLimit),
		burst,
	)
	limiters.Store(tenant.ID, &cachedLimiter{
		limiter:   limiter,
		expiresAt: time.Now().Add(ttl),
	})
	return limiter
}
