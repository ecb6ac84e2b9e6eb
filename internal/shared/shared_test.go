package shared

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityFromHeaders(t *testing.T) {
	principal, tenant := uuid.New(), uuid.New()
	h := http.Header{}
	h.Set(HeaderPrincipalID, principal.String())
	h.Set(HeaderTenantID, " "+tenant.String()+" ")

	id, err := IdentityFromHeaders(h)
	require.NoError(t, err)
	assert.Equal(t, principal, id.PrincipalID)
	assert.Equal(t, tenant, id.TenantID)

	h.Set(HeaderTenantID, uuid.Nil.String())
	_, err = IdentityFromHeaders(h)
	assert.ErrorIs(t, err, ErrMissingIdentity)

	_, err = IdentityFromHeaders(http.Header{})
	assert.ErrorIs(t, err, ErrMissingIdentity)
}

func TestIdentityContextRoundTrip(t *testing.T) {
	_, ok := IdentityFromContext(context.Background())
	assert.False(t, ok)

	id := Identity{PrincipalID: uuid.New(), TenantID: uuid.New()}
	got, ok := IdentityFromContext(ContextWithIdentity(context.Background(), id))
	require.True(t, ok)
	assert.Equal(t, id, got)
}

func TestNormalizePage(t *testing.T) {
	page, size := NormalizePage(0, 0)
	assert.Equal(t, 1, page)
	assert.Equal(t, DefaultPageSize, size)

	_, size = NormalizePage(3, 1000)
	assert.Equal(t, MaxPageSize, size)
	assert.Equal(t, 40, Offset(3, 20))

	p := NewPagination(2, 10, 25)
	assert.Equal(t, 3, p.TotalPages)
}

func TestScopesAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, scope := range AllScopes() {
		assert.False(t, seen[scope], "duplicate scope %s", scope)
		seen[scope] = true
	}
}
