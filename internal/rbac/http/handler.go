package rbachttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// Engine is the subset of rbac.Service the HTTP adapter drives.
type Engine interface {
	Catalog() *rbac.Catalog
	Check(ctx context.Context, principalID, tenantID uuid.UUID, area, action string) rbac.Decision
	EffectivePermissions(ctx context.Context, id shared.Identity) ([]rbac.Key, error)
	CreateRole(ctx context.Context, id shared.Identity, in rbac.RoleInput) (rbac.Role, error)
	UpdateRole(ctx context.Context, id shared.Identity, roleID uuid.UUID, upd rbac.RoleUpdate) (rbac.Role, error)
	DeleteRole(ctx context.Context, id shared.Identity, roleID uuid.UUID) error
	GetRole(ctx context.Context, id shared.Identity, roleID uuid.UUID) (rbac.Role, error)
	ListRoles(ctx context.Context, id shared.Identity) ([]rbac.Role, error)
	Assign(ctx context.Context, id shared.Identity, principalID, roleID uuid.UUID) (rbac.Assignment, error)
	Remove(ctx context.Context, id shared.Identity, principalID, roleID uuid.UUID) (bool, error)
	ListForPrincipal(ctx context.Context, id shared.Identity, principalID uuid.UUID) ([]rbac.Role, error)
	ListForRole(ctx context.Context, id shared.Identity, roleID uuid.UUID) ([]uuid.UUID, error)
}

// Handler exposes role and assignment administration over JSON.
type Handler struct {
	logger    *slog.Logger
	engine    Engine
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, engine Engine) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, engine: engine, validator: validator.New()}
}

type roleRequest struct {
	Name        string   `json:"name" validate:"required,max=64"`
	Description string   `json:"description" validate:"max=500"`
	Permissions []string `json:"permissions" validate:"dive,required"`
}

type roleUpdateRequest struct {
	Name        *string   `json:"name" validate:"omitempty,max=64"`
	Description *string   `json:"description" validate:"omitempty,max=500"`
	Permissions *[]string `json:"permissions" validate:"omitempty,dive,required"`
}

type assignRequest struct {
	RoleID string `json:"role_id" validate:"required,uuid"`
}

type checkRequest struct {
	FeatureArea string `json:"feature_area" validate:"required"`
	Action      string `json:"action" validate:"required"`
}

type roleResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Permissions []string  `json:"permissions"`
	IsDefault   bool      `json:"is_default"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toRoleResponse(role rbac.Role) roleResponse {
	perms := role.PermissionSet().Strings()
	return roleResponse{
		ID:          role.ID,
		Name:        role.Name,
		Description: role.Description,
		Permissions: perms,
		IsDefault:   role.IsDefault,
		CreatedAt:   role.CreatedAt,
		UpdatedAt:   role.UpdatedAt,
	}
}

func toRoleResponses(roles []rbac.Role) []roleResponse {
	out := make([]roleResponse, len(roles))
	for i, role := range roles {
		out[i] = toRoleResponse(role)
	}
	return out
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": h.engine.Catalog().All()})
}

func (h *Handler) myPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	keys, err := h.engine.EffectivePermissions(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	perms := make([]string, len(keys))
	for i, k := range keys {
		perms[i] = k.String()
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req checkRequest
	if !h.decode(w, r, &req) {
		return
	}
	d := h.engine.Check(r.Context(), id.PrincipalID, id.TenantID, req.FeatureArea, req.Action)
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	roles, err := h.engine.ListRoles(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": toRoleResponses(roles)})
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if !h.decode(w, r, &req) {
		return
	}
	perms, err := parseKeys(req.Permissions)
	if err != nil {
		h.fail(w, err)
		return
	}
	role, err := h.engine.CreateRole(r.Context(), id, rbac.RoleInput{
		Name:        req.Name,
		Description: req.Description,
		Permissions: perms,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRoleResponse(role))
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	roleID, ok := h.pathUUID(w, r, "roleID")
	if !ok {
		return
	}
	role, err := h.engine.GetRole(r.Context(), id, roleID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleResponse(role))
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	roleID, ok := h.pathUUID(w, r, "roleID")
	if !ok {
		return
	}
	var req roleUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}
	upd := rbac.RoleUpdate{Name: req.Name, Description: req.Description}
	if req.Permissions != nil {
		perms, err := parseKeys(*req.Permissions)
		if err != nil {
			h.fail(w, err)
			return
		}
		upd.Permissions = perms
	}
	role, err := h.engine.UpdateRole(r.Context(), id, roleID, upd)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleResponse(role))
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	roleID, ok := h.pathUUID(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.engine.DeleteRole(r.Context(), id, roleID); err != nil {
		h.fail(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) roleMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	roleID, ok := h.pathUUID(w, r, "roleID")
	if !ok {
		return
	}
	principals, err := h.engine.ListForRole(r.Context(), id, roleID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"principals": principals})
}

func (h *Handler) principalRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	principalID, ok := h.pathUUID(w, r, "principalID")
	if !ok {
		return
	}
	roles, err := h.engine.ListForPrincipal(r.Context(), id, principalID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": toRoleResponses(roles)})
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	principalID, ok := h.pathUUID(w, r, "principalID")
	if !ok {
		return
	}
	var req assignRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.engine.Assign(r.Context(), id, principalID, uuid.MustParse(req.RoleID))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, a)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	principalID, ok := h.pathUUID(w, r, "principalID")
	if !ok {
		return
	}
	roleID, ok := h.pathUUID(w, r, "roleID")
	if !ok {
		return
	}
	if _, err := h.engine.Remove(r.Context(), id, principalID, roleID); err != nil {
		h.fail(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (shared.Identity, bool) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return shared.Identity{}, false
	}
	return id, true
}

func (h *Handler) pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s must be a uuid", httpx.ErrValidation, param))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				fields = append(fields, strings.ToLower(fe.Field())+" "+fe.Tag())
			}
			httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, strings.Join(fields, ", ")))
			return false
		}
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	rbac.RespondError(w, h.logger, err)
}

// parseKeys returns a non-nil slice so an explicit empty list clears a role.
func parseKeys(raw []string) ([]rbac.Key, error) {
	keys := make([]rbac.Key, 0, len(raw))
	for _, s := range raw {
		k, err := rbac.ParseKey(s)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}
