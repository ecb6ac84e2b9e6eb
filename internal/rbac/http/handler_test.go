package rbachttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

type stubEngine struct {
	roles    []rbac.Role
	err      error
	created  rbac.RoleInput
	updated  rbac.RoleUpdate
	assigned [2]uuid.UUID
	decision rbac.Decision
	perms    []rbac.Key
}

func (s *stubEngine) Catalog() *rbac.Catalog { return rbac.DefaultCatalog() }

func (s *stubEngine) Check(ctx context.Context, principalID, tenantID uuid.UUID, area, action string) rbac.Decision {
	return s.decision
}

func (s *stubEngine) EffectivePermissions(ctx context.Context, id shared.Identity) ([]rbac.Key, error) {
	return s.perms, s.err
}

func (s *stubEngine) CreateRole(ctx context.Context, id shared.Identity, in rbac.RoleInput) (rbac.Role, error) {
	s.created = in
	if s.err != nil {
		return rbac.Role{}, s.err
	}
	return rbac.Role{ID: uuid.New(), TenantID: id.TenantID, Name: in.Name, Permissions: in.Permissions}, nil
}

func (s *stubEngine) UpdateRole(ctx context.Context, id shared.Identity, roleID uuid.UUID, upd rbac.RoleUpdate) (rbac.Role, error) {
	s.updated = upd
	return rbac.Role{ID: roleID, TenantID: id.TenantID}, s.err
}

func (s *stubEngine) DeleteRole(ctx context.Context, id shared.Identity, roleID uuid.UUID) error {
	return s.err
}

func (s *stubEngine) GetRole(ctx context.Context, id shared.Identity, roleID uuid.UUID) (rbac.Role, error) {
	if s.err != nil {
		return rbac.Role{}, s.err
	}
	return s.roles[0], nil
}

func (s *stubEngine) ListRoles(ctx context.Context, id shared.Identity) ([]rbac.Role, error) {
	return s.roles, s.err
}

func (s *stubEngine) Assign(ctx context.Context, id shared.Identity, principalID, roleID uuid.UUID) (rbac.Assignment, error) {
	s.assigned = [2]uuid.UUID{principalID, roleID}
	return rbac.Assignment{ID: uuid.New(), TenantID: id.TenantID, PrincipalID: principalID, RoleID: roleID}, s.err
}

func (s *stubEngine) Remove(ctx context.Context, id shared.Identity, principalID, roleID uuid.UUID) (bool, error) {
	return false, s.err
}

func (s *stubEngine) ListForPrincipal(ctx context.Context, id shared.Identity, principalID uuid.UUID) ([]rbac.Role, error) {
	return s.roles, s.err
}

func (s *stubEngine) ListForRole(ctx context.Context, id shared.Identity, roleID uuid.UUID) ([]uuid.UUID, error) {
	return []uuid.UUID{id.PrincipalID}, s.err
}

var caller = shared.Identity{PrincipalID: uuid.New(), TenantID: uuid.New()}

func newRouter(engine Engine) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get("X-Anonymous") == "" {
				req = req.WithContext(shared.ContextWithIdentity(req.Context(), caller))
			}
			next.ServeHTTP(w, req)
		})
	})
	NewHandler(nil, engine).MountRoutes(r, 0)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestCreateRoleParsesPermissions(t *testing.T) {
	engine := &stubEngine{}
	rr := do(t, newRouter(engine), http.MethodPost, "/roles", `{"name":"Sales","permissions":["deals:view","clients:create"]}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	assert.Equal(t, "Sales", engine.created.Name)
	assert.Equal(t, []rbac.Key{rbac.NewKey("deals", "view"), rbac.NewKey("clients", "create")}, engine.created.Permissions)

	var body roleResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, []string{"clients:create", "deals:view"}, body.Permissions)
}

func TestCreateRoleValidation(t *testing.T) {
	engine := &stubEngine{}
	h := newRouter(engine)

	rr := do(t, h, http.MethodPost, "/roles", `{"permissions":["deals:view"]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/roles", `{"name":"x","permissions":["nonsense"]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/roles", `{"name":"x","unknown":true}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUpdateRoleDistinguishesClearFromUnchanged(t *testing.T) {
	engine := &stubEngine{}
	h := newRouter(engine)
	roleID := uuid.New()

	rr := do(t, h, http.MethodPatch, "/roles/"+roleID.String(), `{"description":"ops"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Nil(t, engine.updated.Permissions)
	require.NotNil(t, engine.updated.Description)
	assert.Equal(t, "ops", *engine.updated.Description)

	rr = do(t, h, http.MethodPatch, "/roles/"+roleID.String(), `{"permissions":[]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotNil(t, engine.updated.Permissions)
	assert.Empty(t, engine.updated.Permissions)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{rbac.ErrForbidden, http.StatusForbidden},
		{rbac.Deny(rbac.ReasonUnknownPermission).Err(), http.StatusForbidden},
		{rbac.ErrRoleNotFound, http.StatusNotFound},
		{rbac.ErrRoleInUse, http.StatusConflict},
		{rbac.ErrDefaultRoleProtected, http.StatusConflict},
		{rbac.ErrDuplicateRoleName, http.StatusConflict},
		{rbac.ErrInvalidRole, http.StatusBadRequest},
	}
	for _, tc := range cases {
		engine := &stubEngine{err: tc.err}
		rr := do(t, newRouter(engine), http.MethodDelete, "/roles/"+uuid.NewString(), "")
		assert.Equal(t, tc.status, rr.Code, tc.err.Error())
	}
}

func TestForbiddenBodyIsGeneric(t *testing.T) {
	forbidden := do(t, newRouter(&stubEngine{err: rbac.ErrForbidden}), http.MethodGet, "/roles", "")
	unknown := do(t, newRouter(&stubEngine{err: rbac.Deny(rbac.ReasonUnknownPermission).Err()}), http.MethodGet, "/roles", "")
	assert.Equal(t, http.StatusForbidden, forbidden.Code)
	assert.Equal(t, forbidden.Body.String(), unknown.Body.String())
}

func TestAssignDuplicateIsConflict(t *testing.T) {
	engine := &stubEngine{err: rbac.ErrDuplicateAssignment}
	principal, role := uuid.New(), uuid.New()
	rr := do(t, newRouter(engine), http.MethodPost, "/members/"+principal.String()+"/roles", `{"role_id":"`+role.String()+`"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, [2]uuid.UUID{principal, role}, engine.assigned)
}

func TestAssignRejectsBadRoleID(t *testing.T) {
	rr := do(t, newRouter(&stubEngine{}), http.MethodPost, "/members/"+uuid.NewString()+"/roles", `{"role_id":"owner"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRemoveReturnsNoContent(t *testing.T) {
	rr := do(t, newRouter(&stubEngine{}), http.MethodDelete, "/members/"+uuid.NewString()+"/roles/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestCheckAndMyPermissions(t *testing.T) {
	engine := &stubEngine{decision: rbac.Allow(), perms: []rbac.Key{rbac.NewKey("deals", "view")}}
	h := newRouter(engine)

	rr := do(t, h, http.MethodPost, "/check", `{"feature_area":"deals","action":"view"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var d rbac.Decision
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &d))
	assert.True(t, d.Allowed)

	rr = do(t, h, http.MethodGet, "/me/permissions", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"permissions":["deals:view"]}`, rr.Body.String())
}

func TestMissingIdentityIsUnauthorized(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/roles", nil)
	req.Header.Set("X-Anonymous", "1")
	rr := httptest.NewRecorder()
	newRouter(&stubEngine{}).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestListPermissionsReturnsCatalog(t *testing.T) {
	rr := do(t, newRouter(&stubEngine{}), http.MethodGet, "/permissions", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Permissions []rbac.Permission `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Len(t, body.Permissions, len(rbac.DefaultCatalog().All()))
}
