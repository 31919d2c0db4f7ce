/*
middleware.go - Principal extraction and API-key gating

PURPOSE:
  Two pieces of request plumbing:
  - Principal: reads the caller's identity headers (X-Tenant-ID,
    X-User-ID, X-Role) and stashes a Principal in the request context.
  - APIKeyGate: resolves X-API-Key to a verification app via the engine
    gate and stashes the AccessContext.

HEADERS:
  X-Tenant-ID  Tenant the caller acts for (required on tenant routes)
  X-User-ID    Acting user, recorded on ledger entries
  X-Role       "tenant" or "operator"
  X-API-Key    Verification app key (external routes only)

SEE ALSO:
  - engine/gate.go: API-key resolution
  - server.go: Where these are mounted
*/
package api

import (
	"context"
	"net/http"

	"github.com/warp/loyalty-engine/engine"
)

type contextKey string

const (
	principalKey contextKey = "principal"
	accessKey    contextKey = "access"
)

// Principal extracts the caller identity headers into the request context.
// Missing headers yield a zero-value Principal; role checks happen in the
// domain services, not here.
func Principal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := engine.Principal{
			UserID:   r.Header.Get("X-User-ID"),
			TenantID: engine.TenantID(r.Header.Get("X-Tenant-ID")),
			Role:     engine.Role(r.Header.Get("X-Role")),
		}
		ctx := context.WithValue(r.Context(), principalKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFrom(r *http.Request) engine.Principal {
	p, _ := r.Context().Value(principalKey).(engine.Principal)
	return p
}

// APIKeyGate resolves X-API-Key against the verification app registry and
// rejects the request before any handler runs when the key is missing,
// unknown or belongs to a disabled app.
func APIKeyGate(gate *engine.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access, err := gate.Resolve(r.Context(), r.Header.Get("X-API-Key"))
			if err != nil {
				writeDomainError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), accessKey, *access)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func accessFrom(r *http.Request) engine.AccessContext {
	a, _ := r.Context().Value(accessKey).(engine.AccessContext)
	return a
}
