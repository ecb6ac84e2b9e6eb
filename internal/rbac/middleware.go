package rbac

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Gate   *Gate
	Logger *slog.Logger
}

// RequireAny ensures the current principal has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	keys := mustParseKeys(perms)
	return m.require(keys, func(r *http.Request, id shared.Identity) Decision {
		return m.Gate.CheckAny(r.Context(), id.PrincipalID, id.TenantID, keys...)
	})
}

// RequireAll ensures the current principal has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	keys := mustParseKeys(perms)
	return m.require(keys, func(r *http.Request, id shared.Identity) Decision {
		return m.Gate.CheckAll(r.Context(), id.PrincipalID, id.TenantID, keys...)
	})
}

func (m Middleware) require(keys []Key, check func(*http.Request, shared.Identity) Decision) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(keys) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			id, ok := shared.IdentityFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			d := check(r, id)
			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}
			if m.Logger != nil && d.Reason == ReasonUnavailable {
				m.Logger.Warn("rbac middleware denied: resolver unavailable", slog.String("path", r.URL.Path))
			}
			httpx.RespondError(w, httpx.ErrForbidden)
		})
	}
}

// mustParseKeys parses route-level permission constants. A typo there is a
// programming error and panics at router construction.
func mustParseKeys(perms []string) []Key {
	keys := make([]Key, 0, len(perms))
	for _, p := range perms {
		keys = append(keys, MustParseKey(p))
	}
	return dedupeKeys(keys)
}
