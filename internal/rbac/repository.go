package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/db"
)

const (
	constraintRoleName       = "roles_tenant_name_key"
	constraintAssignmentDupe = "role_assignments_principal_role_key"
	roleColumns              = "r.id, r.tenant_id, r.name, r.description, r.is_default, r.created_at, r.updated_at"
)

// Repository provides PostgreSQL backed persistence for roles and assignments.
type Repository struct {
	pool  *pgxpool.Pool
	audit *audit.PGStore
}

var _ RepositoryPort = (*Repository)(nil)

// NewRepository constructs a repository. Audit events are written through auditStore
// on the mutation's own transaction.
func NewRepository(pool *pgxpool.Pool, auditStore *audit.PGStore) *Repository {
	return &Repository{pool: pool, audit: auditStore}
}

type txRepo struct {
	tx    pgx.Tx
	audit *audit.PGStore
}

// WithTx wraps callback in a read-committed transaction, retried on serialization failures.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, audit: r.audit})
	})
}

// SyncCatalog upserts the catalog into the permissions reference table.
func (r *Repository) SyncCatalog(ctx context.Context, perms []Permission) error {
	areas := make([]string, len(perms))
	actions := make([]string, len(perms))
	descriptions := make([]string, len(perms))
	for i, p := range perms {
		areas[i], actions[i], descriptions[i] = p.FeatureArea, p.Action, p.Description
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO permissions (feature_area, action, description)
SELECT * FROM unnest($1::text[], $2::text[], $3::text[])
ON CONFLICT (feature_area, action) DO UPDATE SET description = EXCLUDED.description`, areas, actions, descriptions)
	if err != nil {
		return fmt.Errorf("rbac: sync catalog: %w", err)
	}
	return nil
}

// TenantGeneration returns the tenant's cache generation, or 0 when it was never provisioned.
func (r *Repository) TenantGeneration(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var gen int64
	err := r.pool.QueryRow(ctx, `SELECT generation FROM tenant_authz_state WHERE tenant_id = $1`, tenantID).Scan(&gen)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rbac: tenant generation: %w", err)
	}
	return gen, nil
}

// ResolvePermissions returns the union of permissions over every role the principal holds.
func (r *Repository) ResolvePermissions(ctx context.Context, tenantID, principalID uuid.UUID) ([]Key, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT rp.feature_area, rp.action
FROM role_assignments ra
JOIN role_permissions rp ON rp.tenant_id = ra.tenant_id AND rp.role_id = ra.role_id
WHERE ra.tenant_id = $1 AND ra.principal_id = $2
ORDER BY rp.feature_area, rp.action`, tenantID, principalID)
	if err != nil {
		return nil, fmt.Errorf("rbac: resolve permissions: %w", err)
	}
	defer rows.Close()
	var keys []Key
	for rows.Next() {
		var k Key
		if err := rows.Scan(&k.FeatureArea, &k.Action); err != nil {
			return nil, fmt.Errorf("rbac: scan permission: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// GetRole loads one role of the tenant.
func (r *Repository) GetRole(ctx context.Context, tenantID, roleID uuid.UUID) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.tenant_id = $1 AND r.id = $2`, tenantID, roleID))
	if err != nil {
		return Role{}, err
	}
	role.Permissions, err = rolePermissions(ctx, r.pool, roleID)
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// ListRoles returns all roles of the tenant ordered by name.
func (r *Repository) ListRoles(ctx context.Context, tenantID uuid.UUID) ([]Role, error) {
	return r.listRoles(ctx, tenantID, `SELECT `+roleColumns+` FROM roles r WHERE r.tenant_id = $1 ORDER BY lower(r.name)`, tenantID)
}

// ListRolesForPrincipal returns the roles assigned to the principal in the tenant.
func (r *Repository) ListRolesForPrincipal(ctx context.Context, tenantID, principalID uuid.UUID) ([]Role, error) {
	return r.listRoles(ctx, tenantID, `SELECT `+roleColumns+` FROM roles r
JOIN role_assignments ra ON ra.tenant_id = r.tenant_id AND ra.role_id = r.id
WHERE ra.tenant_id = $1 AND ra.principal_id = $2
ORDER BY lower(r.name)`, tenantID, principalID)
}

// ListPrincipalsForRole returns the principals holding the role.
func (r *Repository) ListPrincipalsForRole(ctx context.Context, tenantID, roleID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT principal_id FROM role_assignments
WHERE tenant_id = $1 AND role_id = $2 ORDER BY assigned_at, principal_id`, tenantID, roleID)
	if err != nil {
		return nil, fmt.Errorf("rbac: list principals: %w", err)
	}
	defer rows.Close()
	principals := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("rbac: scan principal: %w", err)
		}
		principals = append(principals, id)
	}
	return principals, rows.Err()
}

// OrphanedPrincipals finds assignments whose principal has no membership row.
func (r *Repository) OrphanedPrincipals(ctx context.Context, limit int) ([]PrincipalRef, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT a.tenant_id, a.principal_id
FROM role_assignments a
WHERE NOT EXISTS (
    SELECT 1 FROM tenant_members m WHERE m.tenant_id = a.tenant_id AND m.principal_id = a.principal_id
)
ORDER BY a.tenant_id, a.principal_id
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("rbac: orphaned principals: %w", err)
	}
	defer rows.Close()
	refs := []PrincipalRef{}
	for rows.Next() {
		var ref PrincipalRef
		if err := rows.Scan(&ref.TenantID, &ref.PrincipalID); err != nil {
			return nil, fmt.Errorf("rbac: scan orphan: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r *Repository) listRoles(ctx context.Context, tenantID uuid.UUID, query string, args ...any) ([]Role, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("rbac: list roles: %w", err)
	}
	roles, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Role, error) {
		return scanRole(row)
	})
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return []Role{}, nil
	}

	permRows, err := r.pool.Query(ctx, `SELECT role_id, feature_area, action FROM role_permissions
WHERE tenant_id = $1 ORDER BY feature_area, action`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("rbac: list role permissions: %w", err)
	}
	defer permRows.Close()
	byRole := make(map[uuid.UUID][]Key, len(roles))
	for permRows.Next() {
		var (
			roleID uuid.UUID
			k      Key
		)
		if err := permRows.Scan(&roleID, &k.FeatureArea, &k.Action); err != nil {
			return nil, fmt.Errorf("rbac: scan role permission: %w", err)
		}
		byRole[roleID] = append(byRole[roleID], k)
	}
	if err := permRows.Err(); err != nil {
		return nil, err
	}
	for i := range roles {
		roles[i].Permissions = byRole[roles[i].ID]
		if roles[i].Permissions == nil {
			roles[i].Permissions = []Key{}
		}
	}
	return roles, nil
}

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.TenantID, &role.Name, &role.Description, &role.IsDefault, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, ErrRoleNotFound
	}
	if err != nil {
		return Role{}, fmt.Errorf("rbac: scan role: %w", err)
	}
	return role, nil
}

func rolePermissions(ctx context.Context, q db.Querier, roleID uuid.UUID) ([]Key, error) {
	rows, err := q.Query(ctx, `SELECT feature_area, action FROM role_permissions WHERE role_id = $1 ORDER BY feature_area, action`, roleID)
	if err != nil {
		return nil, fmt.Errorf("rbac: role permissions: %w", err)
	}
	defer rows.Close()
	keys := []Key{}
	for rows.Next() {
		var k Key
		if err := rows.Scan(&k.FeatureArea, &k.Action); err != nil {
			return nil, fmt.Errorf("rbac: scan role permission: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ============================================================================
// TRANSACTIONAL OPERATIONS
// ============================================================================

func (t *txRepo) CreateTenantState(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	tag, err := t.tx.Exec(ctx, `INSERT INTO tenant_authz_state (tenant_id) VALUES ($1) ON CONFLICT (tenant_id) DO NOTHING`, tenantID)
	if err != nil {
		return false, fmt.Errorf("rbac: create tenant state: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepo) BumpGeneration(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var gen int64
	err := t.tx.QueryRow(ctx, `UPDATE tenant_authz_state SET generation = generation + 1 WHERE tenant_id = $1 RETURNING generation`, tenantID).Scan(&gen)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrTenantNotProvisioned
	}
	if err != nil {
		return 0, fmt.Errorf("rbac: bump generation: %w", err)
	}
	return gen, nil
}

func (t *txRepo) InsertRole(ctx context.Context, role Role) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO roles (id, tenant_id, name, description, is_default, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, role.ID, role.TenantID, role.Name, role.Description, role.IsDefault, role.CreatedAt, role.UpdatedAt)
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err, constraintRoleName):
		return fmt.Errorf("%w: %q", ErrDuplicateRoleName, role.Name)
	case db.IsForeignKeyViolation(err):
		return ErrTenantNotProvisioned
	default:
		return fmt.Errorf("rbac: insert role: %w", err)
	}
}

func (t *txRepo) UpdateRole(ctx context.Context, role Role) error {
	tag, err := t.tx.Exec(ctx, `UPDATE roles SET name = $3, description = $4, updated_at = $5 WHERE tenant_id = $1 AND id = $2`,
		role.TenantID, role.ID, role.Name, role.Description, role.UpdatedAt)
	if db.IsUniqueViolation(err, constraintRoleName) {
		return fmt.Errorf("%w: %q", ErrDuplicateRoleName, role.Name)
	}
	if err != nil {
		return fmt.Errorf("rbac: update role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRoleNotFound
	}
	return nil
}

func (t *txRepo) ReplaceRolePermissions(ctx context.Context, tenantID, roleID uuid.UUID, perms []Key) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("rbac: clear role permissions: %w", err)
	}
	if len(perms) == 0 {
		return nil
	}
	areas := make([]string, len(perms))
	actions := make([]string, len(perms))
	for i, k := range perms {
		areas[i], actions[i] = k.FeatureArea, k.Action
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO role_permissions (tenant_id, role_id, feature_area, action)
SELECT $1, $2, p.feature_area, p.action FROM unnest($3::text[], $4::text[]) AS p(feature_area, action)`,
		tenantID, roleID, areas, actions)
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: permissions table out of sync with catalog", ErrUnknownPermission)
	}
	if err != nil {
		return fmt.Errorf("rbac: insert role permissions: %w", err)
	}
	return nil
}

func (t *txRepo) LockRole(ctx context.Context, roleID uuid.UUID, exclusive bool) (Role, error) {
	lock := "FOR SHARE"
	if exclusive {
		lock = "FOR UPDATE"
	}
	role, err := scanRole(t.tx.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.id = $1 `+lock, roleID))
	if err != nil {
		return Role{}, err
	}
	role.Permissions, err = rolePermissions(ctx, t.tx, roleID)
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

func (t *txRepo) CountRoleAssignments(ctx context.Context, tenantID, roleID uuid.UUID) (int, error) {
	var n int
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM role_assignments WHERE tenant_id = $1 AND role_id = $2`, tenantID, roleID).Scan(&n); err != nil {
		return 0, fmt.Errorf("rbac: count assignments: %w", err)
	}
	return n, nil
}

func (t *txRepo) DeleteRole(ctx context.Context, tenantID, roleID uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM roles WHERE tenant_id = $1 AND id = $2`, tenantID, roleID)
	if db.IsForeignKeyViolation(err) {
		return ErrRoleInUse
	}
	if err != nil {
		return fmt.Errorf("rbac: delete role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRoleNotFound
	}
	return nil
}

func (t *txRepo) InsertAssignment(ctx context.Context, a Assignment) (bool, error) {
	tag, err := t.tx.Exec(ctx, `INSERT INTO role_assignments (id, tenant_id, principal_id, role_id, assigned_by, assigned_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT ON CONSTRAINT `+constraintAssignmentDupe+` DO NOTHING`,
		a.ID, a.TenantID, a.PrincipalID, a.RoleID, a.AssignedBy, a.AssignedAt)
	if db.IsForeignKeyViolation(err) {
		return false, ErrRoleNotFound
	}
	if err != nil {
		return false, fmt.Errorf("rbac: insert assignment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepo) DeleteAssignment(ctx context.Context, tenantID, principalID, roleID uuid.UUID) (Assignment, bool, error) {
	a := Assignment{TenantID: tenantID, PrincipalID: principalID, RoleID: roleID}
	err := t.tx.QueryRow(ctx, `DELETE FROM role_assignments WHERE tenant_id = $1 AND principal_id = $2 AND role_id = $3
RETURNING id, assigned_by, assigned_at`, tenantID, principalID, roleID).Scan(&a.ID, &a.AssignedBy, &a.AssignedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Assignment{}, false, nil
	}
	if err != nil {
		return Assignment{}, false, fmt.Errorf("rbac: delete assignment: %w", err)
	}
	return a, true, nil
}

func (t *txRepo) DeleteAssignmentsForPrincipal(ctx context.Context, tenantID, principalID uuid.UUID) ([]Assignment, error) {
	rows, err := t.tx.Query(ctx, `DELETE FROM role_assignments WHERE tenant_id = $1 AND principal_id = $2
RETURNING id, role_id, assigned_by, assigned_at`, tenantID, principalID)
	if err != nil {
		return nil, fmt.Errorf("rbac: delete principal assignments: %w", err)
	}
	defer rows.Close()
	var removed []Assignment
	for rows.Next() {
		a := Assignment{TenantID: tenantID, PrincipalID: principalID}
		if err := rows.Scan(&a.ID, &a.RoleID, &a.AssignedBy, &a.AssignedAt); err != nil {
			return nil, fmt.Errorf("rbac: scan removed assignment: %w", err)
		}
		removed = append(removed, a)
	}
	return removed, rows.Err()
}

func (t *txRepo) LockMembership(ctx context.Context, tenantID, principalID uuid.UUID) (bool, error) {
	var one int
	err := t.tx.QueryRow(ctx, `SELECT 1 FROM tenant_members WHERE tenant_id = $1 AND principal_id = $2 FOR SHARE`,
		tenantID, principalID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("rbac: lock membership: %w", err)
	}
	return true, nil
}

func (t *txRepo) EnsureMembership(ctx context.Context, tenantID, principalID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO tenant_members (tenant_id, principal_id) VALUES ($1, $2)
ON CONFLICT (tenant_id, principal_id) DO NOTHING`, tenantID, principalID)
	if err != nil {
		return fmt.Errorf("rbac: ensure membership: %w", err)
	}
	return nil
}

func (t *txRepo) DeleteMembership(ctx context.Context, tenantID, principalID uuid.UUID) (bool, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM tenant_members WHERE tenant_id = $1 AND principal_id = $2`, tenantID, principalID)
	if err != nil {
		return false, fmt.Errorf("rbac: delete membership: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepo) RecordAudit(ctx context.Context, ev audit.Event) (audit.Event, error) {
	if t.audit == nil {
		return audit.Event{}, fmt.Errorf("%w: store not configured", audit.ErrAuditWrite)
	}
	return t.audit.Record(ctx, t.tx, ev)
}
