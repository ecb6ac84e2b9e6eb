package tenancyhttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// Directory is the membership mirror maintained by the upstream tenant service.
type Directory interface {
	Join(ctx context.Context, tenantID, principalID uuid.UUID) (bool, error)
	IsMember(ctx context.Context, tenantID, principalID uuid.UUID) (bool, error)
}

// Departures removes a member together with its grants. rbac.Service implements it.
type Departures interface {
	Leave(ctx context.Context, tenantID, actor, principalID uuid.UUID) (rbac.Departure, error)
}

// Authorizer gates routes by permission. rbac.Middleware implements it.
type Authorizer interface {
	RequireAny(perms ...string) func(http.Handler) http.Handler
}

// Handler exposes membership sync endpoints scoped to the caller's tenant.
type Handler struct {
	logger     *slog.Logger
	directory  Directory
	departures Departures
}

// NewHandler builds the membership handler.
func NewHandler(logger *slog.Logger, directory Directory, departures Departures) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, directory: directory, departures: departures}
}

// MountRoutes registers GET, PUT and DELETE /members/{principalID}.
func (h *Handler) MountRoutes(r chi.Router, authz Authorizer) {
	r.With(authz.RequireAny("members:view")).Get("/members/{principalID}", h.show)
	r.With(authz.RequireAny("members:assign")).Put("/members/{principalID}", h.join)
	r.With(authz.RequireAny("members:remove")).Delete("/members/{principalID}", h.leave)
}

type membershipResponse struct {
	TenantID    uuid.UUID `json:"tenant_id"`
	PrincipalID uuid.UUID `json:"principal_id"`
	Member      bool      `json:"member"`
	Joined      bool      `json:"joined,omitempty"`
	Revoked     int       `json:"revoked,omitempty"`
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, principalID, ok := h.target(w, r)
	if !ok {
		return
	}
	member, err := h.directory.IsMember(r.Context(), id.TenantID, principalID)
	if err != nil {
		h.logger.Error("membership lookup", slog.String("tenant_id", id.TenantID.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if !member {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, membershipResponse{TenantID: id.TenantID, PrincipalID: principalID, Member: true})
}

func (h *Handler) join(w http.ResponseWriter, r *http.Request) {
	id, principalID, ok := h.target(w, r)
	if !ok {
		return
	}
	joined, err := h.directory.Join(r.Context(), id.TenantID, principalID)
	if err != nil {
		h.logger.Error("join tenant", slog.String("tenant_id", id.TenantID.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusOK
	if joined {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, membershipResponse{TenantID: id.TenantID, PrincipalID: principalID, Member: true, Joined: joined})
}

func (h *Handler) leave(w http.ResponseWriter, r *http.Request) {
	id, principalID, ok := h.target(w, r)
	if !ok {
		return
	}
	d, err := h.departures.Leave(r.Context(), id.TenantID, id.PrincipalID, principalID)
	if err != nil {
		rbac.RespondError(w, h.logger, err)
		return
	}
	if !d.Left && d.Revoked == 0 {
		httpx.NoContent(w)
		return
	}
	httpx.JSON(w, http.StatusOK, membershipResponse{TenantID: id.TenantID, PrincipalID: principalID, Revoked: d.Revoked})
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (shared.Identity, uuid.UUID, bool) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return shared.Identity{}, uuid.Nil, false
	}
	principalID, err := uuid.Parse(chi.URLParam(r, "principalID"))
	if err != nil || principalID == uuid.Nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "principal_id must be a uuid")
		return shared.Identity{}, uuid.Nil, false
	}
	return id, principalID, true
}
