package rbac

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
)

// RepositoryPort is the persistence contract the stores and the resolver depend on.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	TenantGeneration(ctx context.Context, tenantID uuid.UUID) (int64, error)
	ResolvePermissions(ctx context.Context, tenantID, principalID uuid.UUID) ([]Key, error)
	GetRole(ctx context.Context, tenantID, roleID uuid.UUID) (Role, error)
	ListRoles(ctx context.Context, tenantID uuid.UUID) ([]Role, error)
	ListRolesForPrincipal(ctx context.Context, tenantID, principalID uuid.UUID) ([]Role, error)
	ListPrincipalsForRole(ctx context.Context, tenantID, roleID uuid.UUID) ([]uuid.UUID, error)
	// OrphanedPrincipals lists principals that still hold assignments in a tenant
	// they no longer belong to.
	OrphanedPrincipals(ctx context.Context, limit int) ([]PrincipalRef, error)
}

// TxRepository exposes the operations that must run inside one transaction.
type TxRepository interface {
	// CreateTenantState reports false when the tenant already exists.
	CreateTenantState(ctx context.Context, tenantID uuid.UUID) (bool, error)
	// BumpGeneration invalidates every cached permission set of the tenant.
	BumpGeneration(ctx context.Context, tenantID uuid.UUID) (int64, error)

	InsertRole(ctx context.Context, role Role) error
	UpdateRole(ctx context.Context, role Role) error
	ReplaceRolePermissions(ctx context.Context, tenantID, roleID uuid.UUID, perms []Key) error
	// LockRole loads a role of any tenant by id, FOR UPDATE when exclusive and FOR SHARE otherwise.
	LockRole(ctx context.Context, roleID uuid.UUID, exclusive bool) (Role, error)
	CountRoleAssignments(ctx context.Context, tenantID, roleID uuid.UUID) (int, error)
	DeleteRole(ctx context.Context, tenantID, roleID uuid.UUID) error

	// InsertAssignment reports false when the (tenant, principal, role) triple already exists.
	InsertAssignment(ctx context.Context, a Assignment) (bool, error)
	DeleteAssignment(ctx context.Context, tenantID, principalID, roleID uuid.UUID) (Assignment, bool, error)
	DeleteAssignmentsForPrincipal(ctx context.Context, tenantID, principalID uuid.UUID) ([]Assignment, error)

	// LockMembership reports whether the principal belongs to the tenant and holds
	// the membership row FOR SHARE until the transaction ends.
	LockMembership(ctx context.Context, tenantID, principalID uuid.UUID) (bool, error)
	// EnsureMembership records the principal as a tenant member if it is not one already.
	EnsureMembership(ctx context.Context, tenantID, principalID uuid.UUID) error
	// DeleteMembership reports false when the principal was not a member.
	DeleteMembership(ctx context.Context, tenantID, principalID uuid.UUID) (bool, error)

	RecordAudit(ctx context.Context, ev audit.Event) (audit.Event, error)
}

// PermissionCache stores resolved permission sets under generation-scoped keys.
type PermissionCache interface {
	Get(ctx context.Context, key string) (PermissionSet, bool, error)
	Set(ctx context.Context, key string, set PermissionSet) error
}

// DenialRecorder persists access.denied events.
type DenialRecorder interface {
	RecordDenial(ctx context.Context, ev audit.Event) error
}

// MetricsRecorder receives authorization telemetry. *observability.Metrics implements it.
type MetricsRecorder interface {
	ObserveDecision(allowed bool, reason string)
	ObserveResolve(source string, d time.Duration)
	ObserveCacheLookup(level, result string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveDecision(bool, string)         {}
func (nopMetrics) ObserveResolve(string, time.Duration) {}
func (nopMetrics) ObserveCacheLookup(string, string)    {}

func orNop(m MetricsRecorder) MetricsRecorder {
	if m == nil {
		return nopMetrics{}
	}
	return m
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
