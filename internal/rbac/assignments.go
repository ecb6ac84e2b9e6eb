package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
)

// AssignmentStore grants and revokes roles.
type AssignmentStore struct {
	repo  RepositoryPort
	now   func() time.Time
	newID func() uuid.UUID
}

// NewAssignmentStore constructs an AssignmentStore.
func NewAssignmentStore(repo RepositoryPort) *AssignmentStore {
	return &AssignmentStore{repo: repo, now: time.Now, newID: uuid.New}
}

// Assign grants roleID to principalID within tenantID. Membership is checked in
// the same transaction as the insert, so a concurrent Leave either sees the new
// grant and revokes it or makes this call fail.
func (s *AssignmentStore) Assign(ctx context.Context, tenantID, actor, principalID, roleID uuid.UUID) (Assignment, error) {
	if principalID == uuid.Nil {
		return Assignment{}, fmt.Errorf("%w: principal required", ErrCrossTenantAssignment)
	}

	a := Assignment{
		ID:          s.newID(),
		TenantID:    tenantID,
		PrincipalID: principalID,
		RoleID:      roleID,
		AssignedBy:  actor,
		AssignedAt:  s.now().UTC(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.LockRole(ctx, roleID, false)
		if err != nil {
			return err
		}
		if role.TenantID != tenantID {
			return fmt.Errorf("%w: role belongs to another tenant", ErrCrossTenantAssignment)
		}
		member, err := tx.LockMembership(ctx, tenantID, principalID)
		if err != nil {
			return err
		}
		if !member {
			return fmt.Errorf("%w: principal is not a member of the tenant", ErrCrossTenantAssignment)
		}
		inserted, err := tx.InsertAssignment(ctx, a)
		if err != nil {
			return err
		}
		if !inserted {
			return ErrDuplicateAssignment
		}
		if _, err := tx.BumpGeneration(ctx, tenantID); err != nil {
			return err
		}
		_, err = tx.RecordAudit(ctx, assignmentEvent(audit.EventAssignmentCreated, a, role.Name, actor, a.AssignedAt))
		return err
	})
	if err != nil {
		return Assignment{}, err
	}
	return a, nil
}

// Remove revokes roleID from principalID. Revoking a role the principal does not
// hold succeeds without writing an event; removed reports whether anything changed.
func (s *AssignmentStore) Remove(ctx context.Context, tenantID, actor, principalID, roleID uuid.UUID) (removed bool, err error) {
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.LockRole(ctx, roleID, false)
		if errors.Is(err, ErrRoleNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		a, ok, err := tx.DeleteAssignment(ctx, tenantID, principalID, roleID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if _, err := tx.BumpGeneration(ctx, tenantID); err != nil {
			return err
		}
		if _, err := tx.RecordAudit(ctx, assignmentEvent(audit.EventAssignmentRemoved, a, role.Name, actor, s.now().UTC())); err != nil {
			return err
		}
		removed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// Leave ends the principal's membership and revokes every role it held in the
// tenant, all in one transaction. Calling it again after a partial outage is safe:
// grants left behind by an earlier membership removal are still revoked.
func (s *AssignmentStore) Leave(ctx context.Context, tenantID, actor, principalID uuid.UUID) (Departure, error) {
	if tenantID == uuid.Nil || principalID == uuid.Nil {
		return Departure{}, fmt.Errorf("%w: tenant and principal required", ErrCrossTenantAssignment)
	}
	var d Departure
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		d = Departure{}
		left, err := tx.DeleteMembership(ctx, tenantID, principalID)
		if err != nil {
			return err
		}
		removed, err := tx.DeleteAssignmentsForPrincipal(ctx, tenantID, principalID)
		if err != nil {
			return err
		}
		if !left && len(removed) == 0 {
			return nil
		}
		names := make(map[uuid.UUID]string, len(removed))
		for _, a := range removed {
			if _, ok := names[a.RoleID]; ok {
				continue
			}
			role, err := tx.LockRole(ctx, a.RoleID, false)
			if err != nil {
				return err
			}
			names[a.RoleID] = role.Name
		}
		if _, err := tx.BumpGeneration(ctx, tenantID); err != nil {
			return err
		}
		now := s.now().UTC()
		if left {
			if _, err := tx.RecordAudit(ctx, audit.Event{
				TenantID:         tenantID,
				ActorPrincipalID: actor,
				EventType:        audit.EventMemberRemoved,
				TargetType:       audit.TargetMember,
				TargetID:         principalID.String(),
				OccurredAt:       now,
				Metadata:         map[string]any{"revoked": len(removed)},
			}); err != nil {
				return err
			}
		}
		for _, a := range removed {
			ev := assignmentEvent(audit.EventAssignmentRemoved, a, names[a.RoleID], actor, now)
			ev.Metadata["cause"] = "principal_removed"
			if _, err := tx.RecordAudit(ctx, ev); err != nil {
				return err
			}
		}
		d = Departure{Left: left, Revoked: len(removed)}
		return nil
	})
	if err != nil {
		return Departure{}, err
	}
	return d, nil
}

// RemovePrincipal is Leave reporting only the number of revoked assignments.
func (s *AssignmentStore) RemovePrincipal(ctx context.Context, tenantID, actor, principalID uuid.UUID) (int, error) {
	d, err := s.Leave(ctx, tenantID, actor, principalID)
	return d.Revoked, err
}

// Orphans lists principals holding grants in tenants they have left.
func (s *AssignmentStore) Orphans(ctx context.Context, limit int) ([]PrincipalRef, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.OrphanedPrincipals(ctx, limit)
}

// ListForPrincipal returns the roles the principal holds in the tenant.
func (s *AssignmentStore) ListForPrincipal(ctx context.Context, tenantID, principalID uuid.UUID) ([]Role, error) {
	return s.repo.ListRolesForPrincipal(ctx, tenantID, principalID)
}

// ListForRole returns the principals holding the role.
func (s *AssignmentStore) ListForRole(ctx context.Context, tenantID, roleID uuid.UUID) ([]uuid.UUID, error) {
	if _, err := s.repo.GetRole(ctx, tenantID, roleID); err != nil {
		return nil, err
	}
	return s.repo.ListPrincipalsForRole(ctx, tenantID, roleID)
}

func assignmentEvent(typ audit.EventType, a Assignment, roleName string, actor uuid.UUID, at time.Time) audit.Event {
	return audit.Event{
		TenantID:         a.TenantID,
		ActorPrincipalID: actor,
		EventType:        typ,
		TargetType:       audit.TargetAssignment,
		TargetID:         a.ID.String(),
		OccurredAt:       at,
		Metadata: map[string]any{
			"principal_id": a.PrincipalID.String(),
			"role_id":      a.RoleID.String(),
			"role_name":    roleName,
		},
	}
}
