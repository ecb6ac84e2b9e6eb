// Package tenancy mirrors tenant membership for the authorization engine.
package tenancy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/db"
)

// ErrInvalidMember is returned when a tenant or principal id is missing.
var ErrInvalidMember = errors.New("tenancy: tenant and principal are required")

// Member is one row of the membership mirror.
type Member struct {
	TenantID    uuid.UUID
	PrincipalID uuid.UUID
	JoinedAt    time.Time
}

// PGDirectory reads and writes tenant_members. Departures are not handled here:
// removing a member must also revoke its grants, which rbac.Service.Leave does in
// one transaction.
type PGDirectory struct {
	pool   db.Querier
	logger *slog.Logger
}

// NewPGDirectory wires the directory.
func NewPGDirectory(pool db.Querier, logger *slog.Logger) *PGDirectory {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGDirectory{pool: pool, logger: logger}
}

// IsMember reports whether the principal currently belongs to the tenant.
func (d *PGDirectory) IsMember(ctx context.Context, tenantID, principalID uuid.UUID) (bool, error) {
	if tenantID == uuid.Nil || principalID == uuid.Nil {
		return false, nil
	}
	var exists bool
	err := d.pool.QueryRow(ctx, `SELECT EXISTS (
    SELECT 1 FROM tenant_members WHERE tenant_id = $1 AND principal_id = $2
)`, tenantID, principalID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("tenancy: membership lookup: %w", err)
	}
	return exists, nil
}

// Join records membership. It reports false when the principal already belonged to the tenant.
func (d *PGDirectory) Join(ctx context.Context, tenantID, principalID uuid.UUID) (bool, error) {
	if tenantID == uuid.Nil || principalID == uuid.Nil {
		return false, ErrInvalidMember
	}
	tag, err := d.pool.Exec(ctx, `INSERT INTO tenant_members (tenant_id, principal_id)
VALUES ($1, $2)
ON CONFLICT (tenant_id, principal_id) DO NOTHING`, tenantID, principalID)
	if err != nil {
		return false, fmt.Errorf("tenancy: join: %w", err)
	}
	joined := tag.RowsAffected() == 1
	if joined {
		d.logger.Info("principal joined tenant",
			slog.String("tenant_id", tenantID.String()),
			slog.String("principal_id", principalID.String()))
	}
	return joined, nil
}

// Members lists the tenant's members ordered by join time.
func (d *PGDirectory) Members(ctx context.Context, tenantID uuid.UUID) ([]Member, error) {
	rows, err := d.pool.Query(ctx, `SELECT tenant_id, principal_id, joined_at
FROM tenant_members
WHERE tenant_id = $1
ORDER BY joined_at, principal_id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("tenancy: list members: %w", err)
	}
	defer rows.Close()
	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.TenantID, &m.PrincipalID, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
