package rbac

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

type fixture struct {
	repo   *memRepo
	svc    *Service
	tenant uuid.UUID
	owner  uuid.UUID
	roles  map[string]Role
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:   newMemRepo(),
		tenant: uuid.New(),
		owner:  uuid.New(),
		roles:  map[string]Role{},
	}
	f.svc = NewService(ServiceConfig{
		Repo:    f.repo,
		Denials: f.repo,
	})
	roles, err := f.svc.ProvisionTenant(context.Background(), f.tenant, f.owner)
	require.NoError(t, err)
	for _, r := range roles {
		f.roles[r.Name] = r
	}
	return f
}

func (f *fixture) ownerID() shared.Identity {
	return shared.Identity{PrincipalID: f.owner, TenantID: f.tenant}
}

// join adds a tenant member holding the named default roles.
func (f *fixture) join(t *testing.T, roleNames ...string) uuid.UUID {
	t.Helper()
	p := uuid.New()
	f.repo.addMember(f.tenant, p)
	for _, name := range roleNames {
		_, err := f.svc.Assign(context.Background(), f.ownerID(), p, f.roles[name].ID)
		require.NoError(t, err)
	}
	return p
}

func (f *fixture) as(principal uuid.UUID) shared.Identity {
	return shared.Identity{PrincipalID: principal, TenantID: f.tenant}
}

func keys(raw ...string) []Key {
	out := make([]Key, len(raw))
	for i, s := range raw {
		out[i] = MustParseKey(s)
	}
	return out
}
