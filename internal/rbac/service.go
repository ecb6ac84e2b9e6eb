package rbac

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// AuditReader is the read side of the audit log.
type AuditReader interface {
	Query(ctx context.Context, tenantID uuid.UUID, filters audit.Filters) (audit.Result, error)
	Export(ctx context.Context, tenantID uuid.UUID, filters audit.Filters) ([]audit.Event, error)
}

// ServiceConfig wires the engine's collaborators.
type ServiceConfig struct {
	Repo    RepositoryPort
	Catalog *Catalog
	Cache   PermissionCache
	Audit   AuditReader
	Denials DenialRecorder
	Metrics MetricsRecorder
	Logger  *slog.Logger
	// CheckTimeout bounds permission resolution inside the gate.
	CheckTimeout time.Duration
}

// Service is the public contract of the authorization engine. Every
// administrative operation is itself authorized against the actor's permissions.
type Service struct {
	catalog     *Catalog
	roles       *RoleStore
	assignments *AssignmentStore
	resolver    *Resolver
	gate        *Gate
	audit       AuditReader
	logger      *slog.Logger
}

// NewService constructs the engine.
func NewService(cfg ServiceConfig) *Service {
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	logger := orDefault(cfg.Logger)
	resolver := NewResolver(cfg.Repo, ResolverOptions{Cache: cfg.Cache, Metrics: cfg.Metrics, Logger: logger})
	return &Service{
		catalog:     catalog,
		roles:       NewRoleStore(cfg.Repo, catalog),
		assignments: NewAssignmentStore(cfg.Repo),
		resolver:    resolver,
		gate: NewGate(catalog, resolver, GateOptions{
			Denials: cfg.Denials,
			Timeout: cfg.CheckTimeout,
			Metrics: cfg.Metrics,
			Logger:  logger,
		}),
		audit:  cfg.Audit,
		logger: logger,
	}
}

// Gate exposes the decision point for middleware and embedding services.
func (s *Service) Gate() *Gate { return s.gate }

// Catalog returns the permission catalog.
func (s *Service) Catalog() *Catalog { return s.catalog }

// Check decides whether principal may perform action on area within tenant.
func (s *Service) Check(ctx context.Context, principalID, tenantID uuid.UUID, area, action string) Decision {
	return s.gate.Check(ctx, principalID, tenantID, area, action)
}

// EffectivePermissions lists the caller's own permissions in the caller's tenant.
func (s *Service) EffectivePermissions(ctx context.Context, id shared.Identity) ([]Key, error) {
	if !id.Valid() {
		return nil, ErrUnauthorized
	}
	set, err := s.resolver.Resolve(ctx, id.TenantID, id.PrincipalID)
	if err != nil {
		return nil, err
	}
	return set.Keys(), nil
}

// ProvisionTenant seeds the default roles and grants owner to the creator. It is
// called by tenant creation, which is not itself permission-gated.
func (s *Service) ProvisionTenant(ctx context.Context, tenantID, ownerID uuid.UUID) ([]Role, error) {
	roles, err := s.roles.Provision(ctx, tenantID, ownerID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("tenant provisioned", slog.String("tenant_id", tenantID.String()), slog.Int("roles", len(roles)))
	return roles, nil
}

// CreateRole defines a custom role in the actor's tenant.
func (s *Service) CreateRole(ctx context.Context, id shared.Identity, in RoleInput) (Role, error) {
	if err := s.require(ctx, id, shared.PermRolesCreate); err != nil {
		return Role{}, err
	}
	return s.roles.Create(ctx, id.TenantID, id.PrincipalID, in)
}

// UpdateRole edits a role in the actor's tenant.
func (s *Service) UpdateRole(ctx context.Context, id shared.Identity, roleID uuid.UUID, upd RoleUpdate) (Role, error) {
	if err := s.require(ctx, id, shared.PermRolesUpdate); err != nil {
		return Role{}, err
	}
	return s.roles.Update(ctx, id.TenantID, id.PrincipalID, roleID, upd)
}

// DeleteRole removes a custom role nobody holds.
func (s *Service) DeleteRole(ctx context.Context, id shared.Identity, roleID uuid.UUID) error {
	if err := s.require(ctx, id, shared.PermRolesDelete); err != nil {
		return err
	}
	return s.roles.Delete(ctx, id.TenantID, id.PrincipalID, roleID)
}

// GetRole returns one role.
func (s *Service) GetRole(ctx context.Context, id shared.Identity, roleID uuid.UUID) (Role, error) {
	if err := s.require(ctx, id, shared.PermRolesView); err != nil {
		return Role{}, err
	}
	return s.roles.Get(ctx, id.TenantID, roleID)
}

// ListRoles returns the tenant's roles.
func (s *Service) ListRoles(ctx context.Context, id shared.Identity) ([]Role, error) {
	if err := s.require(ctx, id, shared.PermRolesView); err != nil {
		return nil, err
	}
	return s.roles.List(ctx, id.TenantID)
}

// Assign grants a role to a principal.
func (s *Service) Assign(ctx context.Context, id shared.Identity, principalID, roleID uuid.UUID) (Assignment, error) {
	if err := s.require(ctx, id, shared.PermMembersAssign); err != nil {
		return Assignment{}, err
	}
	return s.assignments.Assign(ctx, id.TenantID, id.PrincipalID, principalID, roleID)
}

// Remove revokes a role from a principal; revoking an absent grant is a no-op.
func (s *Service) Remove(ctx context.Context, id shared.Identity, principalID, roleID uuid.UUID) (bool, error) {
	if err := s.require(ctx, id, shared.PermMembersRemove); err != nil {
		return false, err
	}
	return s.assignments.Remove(ctx, id.TenantID, id.PrincipalID, principalID, roleID)
}

// Leave ends a principal's tenant membership and revokes its grants atomically.
// It is driven by the membership system rather than an end user, so it is not
// gated here; actor is uuid.Nil for system-initiated removals.
func (s *Service) Leave(ctx context.Context, tenantID, actor, principalID uuid.UUID) (Departure, error) {
	d, err := s.assignments.Leave(ctx, tenantID, actor, principalID)
	if err != nil {
		return Departure{}, err
	}
	if d.Left || d.Revoked > 0 {
		s.logger.Info("principal left tenant",
			slog.String("tenant_id", tenantID.String()),
			slog.String("principal_id", principalID.String()),
			slog.Bool("membership_removed", d.Left),
			slog.Int("revoked", d.Revoked))
	}
	return d, nil
}

// RemovePrincipal is Leave for callers that only need the revoked count.
func (s *Service) RemovePrincipal(ctx context.Context, tenantID, actor, principalID uuid.UUID) (int, error) {
	d, err := s.Leave(ctx, tenantID, actor, principalID)
	return d.Revoked, err
}

// OrphanedPrincipals lists up to limit principals holding grants in tenants they left.
func (s *Service) OrphanedPrincipals(ctx context.Context, limit int) ([]PrincipalRef, error) {
	return s.assignments.Orphans(ctx, limit)
}

// ListForPrincipal returns the roles a principal holds. Principals may always list their own.
func (s *Service) ListForPrincipal(ctx context.Context, id shared.Identity, principalID uuid.UUID) ([]Role, error) {
	if !id.Valid() {
		return nil, ErrUnauthorized
	}
	if principalID != id.PrincipalID {
		if err := s.require(ctx, id, shared.PermMembersView); err != nil {
			return nil, err
		}
	}
	return s.assignments.ListForPrincipal(ctx, id.TenantID, principalID)
}

// ListForRole returns the principals holding a role.
func (s *Service) ListForRole(ctx context.Context, id shared.Identity, roleID uuid.UUID) ([]uuid.UUID, error) {
	if err := s.require(ctx, id, shared.PermMembersView); err != nil {
		return nil, err
	}
	return s.assignments.ListForRole(ctx, id.TenantID, roleID)
}

// QueryAuditLog pages through the tenant's audit events.
func (s *Service) QueryAuditLog(ctx context.Context, id shared.Identity, filters audit.Filters) (audit.Result, error) {
	if err := s.require(ctx, id, shared.PermAuditView); err != nil {
		return audit.Result{}, err
	}
	if s.audit == nil {
		return audit.Result{}, ErrUnavailable
	}
	return s.audit.Query(ctx, id.TenantID, filters)
}

// ExportAuditLog returns every matching event for CSV export.
func (s *Service) ExportAuditLog(ctx context.Context, id shared.Identity, filters audit.Filters) ([]audit.Event, error) {
	if err := s.require(ctx, id, shared.PermAuditExport); err != nil {
		return nil, err
	}
	if s.audit == nil {
		return nil, ErrUnavailable
	}
	return s.audit.Export(ctx, id.TenantID, filters)
}

func (s *Service) require(ctx context.Context, id shared.Identity, perm string) error {
	if !id.Valid() {
		return ErrUnauthorized
	}
	return s.gate.Require(ctx, id.PrincipalID, id.TenantID, perm)
}
