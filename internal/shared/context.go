package shared

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Headers set by the upstream authentication layer once a principal is verified.
const (
	HeaderPrincipalID = "X-Principal-ID"
	HeaderTenantID    = "X-Tenant-ID"
)

// Identity is the verified principal acting inside a tenant.
type Identity struct {
	PrincipalID uuid.UUID
	TenantID    uuid.UUID
}

// Valid reports whether both halves of the identity are present.
func (i Identity) Valid() bool {
	return i.PrincipalID != uuid.Nil && i.TenantID != uuid.Nil
}

type identityContextKey struct{}

// ContextWithIdentity stores the identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	if !ok || !id.Valid() {
		return Identity{}, false
	}
	return id, true
}

// IdentityFromHeaders parses the upstream identity headers.
func IdentityFromHeaders(h http.Header) (Identity, error) {
	principal, err := uuid.Parse(strings.TrimSpace(h.Get(HeaderPrincipalID)))
	if err != nil {
		return Identity{}, ErrMissingIdentity
	}
	tenant, err := uuid.Parse(strings.TrimSpace(h.Get(HeaderTenantID)))
	if err != nil {
		return Identity{}, ErrMissingIdentity
	}
	id := Identity{PrincipalID: principal, TenantID: tenant}
	if !id.Valid() {
		return Identity{}, ErrMissingIdentity
	}
	return id, nil
}
