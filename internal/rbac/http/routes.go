package rbachttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

const mutationRateWindow = time.Minute

// MountRoutes registers the authorization API. mutationsPerMinute <= 0 disables rate limiting.
func (h *Handler) MountRoutes(r chi.Router, mutationsPerMinute int) {
	mutations := func(next http.Handler) http.Handler { return next }
	if mutationsPerMinute > 0 {
		mutations = httprate.Limit(mutationsPerMinute, mutationRateWindow,
			httprate.WithKeyFuncs(rateLimitKey),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			}),
		)
	}

	r.Get("/permissions", h.listPermissions)
	r.Get("/me/permissions", h.myPermissions)
	r.Post("/check", h.check)

	r.Get("/roles", h.listRoles)
	r.Get("/roles/{roleID}", h.getRole)
	r.Get("/roles/{roleID}/members", h.roleMembers)
	r.Get("/members/{principalID}/roles", h.principalRoles)

	r.Group(func(gr chi.Router) {
		gr.Use(mutations)
		gr.Post("/roles", h.createRole)
		gr.Patch("/roles/{roleID}", h.updateRole)
		gr.Delete("/roles/{roleID}", h.deleteRole)
		gr.Post("/members/{principalID}/roles", h.assign)
		gr.Delete("/members/{principalID}/roles/{roleID}", h.remove)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if id, ok := shared.IdentityFromContext(r.Context()); ok {
		return "principal:" + id.TenantID.String() + ":" + id.PrincipalID.String(), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
