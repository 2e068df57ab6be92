package api

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/tiller/pkg/contracts"
)

// PrincipalHeader carries the caller's identity. The execution
// environment in front of this daemon (gateway, mTLS proxy) is trusted
// to set it; the identity is the sole input to authority checks.
const PrincipalHeader = "X-Tiller-Principal"

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal attaches a caller address to the context.
func WithPrincipal(ctx context.Context, p contracts.Address) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal retrieves the caller address from the context.
func GetPrincipal(ctx context.Context) (contracts.Address, bool) {
	p, ok := ctx.Value(principalKey).(contracts.Address)
	return p, ok
}

// PrincipalMiddleware resolves the caller's identity from the request.
// Requests without a principal are rejected: plan/drop would fail their
// authority check anyway and the election needs a voter identity.
func PrincipalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := contracts.Address(r.Header.Get(PrincipalHeader))
		if principal == contracts.AddressNone {
			WriteError(w, r, http.StatusUnauthorized, "Missing Principal", "the "+PrincipalHeader+" header is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// RateLimitMiddleware enforces per-actor rate limiting. A zero rps
// disables limiting entirely.
func RateLimitMiddleware(rps float64) func(http.Handler) http.Handler {
	var (
		mu       sync.Mutex
		limiters = make(map[contracts.Address]*rate.Limiter)
	)
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rps <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			actor := contracts.Address(r.RemoteAddr)
			if principal, ok := GetPrincipal(r.Context()); ok {
				actor = principal
			}

			mu.Lock()
			limiter, ok := limiters[actor]
			if !ok {
				limiter = rate.NewLimiter(rate.Limit(rps), burst)
				limiters[actor] = limiter
			}
			mu.Unlock()

			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				WriteError(w, r, http.StatusTooManyRequests, "Rate Limited", "per-actor request rate exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
