package rbac

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
)

// RoleStore manages role definitions.
type RoleStore struct {
	repo    RepositoryPort
	catalog *Catalog
	now     func() time.Time
	newID   func() uuid.UUID
}

// NewRoleStore constructs a RoleStore.
func NewRoleStore(repo RepositoryPort, catalog *Catalog) *RoleStore {
	return &RoleStore{repo: repo, catalog: catalog, now: time.Now, newID: uuid.New}
}

// Create defines a custom role. Name uniqueness is enforced by the store's unique index.
func (s *RoleStore) Create(ctx context.Context, tenantID, actor uuid.UUID, in RoleInput) (Role, error) {
	name, err := validateRoleName(in.Name)
	if err != nil {
		return Role{}, err
	}
	perms := dedupeKeys(in.Permissions)
	if err := s.catalog.Validate(perms); err != nil {
		return Role{}, err
	}
	now := s.now().UTC()
	role := Role{
		ID:          s.newID(),
		TenantID:    tenantID,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Permissions: perms,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertRole(ctx, role); err != nil {
			return err
		}
		if err := tx.ReplaceRolePermissions(ctx, tenantID, role.ID, perms); err != nil {
			return err
		}
		_, err := tx.RecordAudit(ctx, roleEvent(audit.EventRoleCreated, role, actor, map[string]any{
			"name":        role.Name,
			"permissions": keyStrings(perms),
		}))
		return err
	})
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// Update changes a role's name, description or permission set. Default roles
// accept description changes only.
func (s *RoleStore) Update(ctx context.Context, tenantID, actor, roleID uuid.UUID, upd RoleUpdate) (Role, error) {
	var newName string
	if upd.Name != nil {
		name, err := validateRoleName(*upd.Name)
		if err != nil {
			return Role{}, err
		}
		newName = name
	}
	var newPerms []Key
	if upd.Permissions != nil {
		newPerms = dedupeKeys(upd.Permissions)
		if err := s.catalog.Validate(newPerms); err != nil {
			return Role{}, err
		}
	}

	var updated Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.LockRole(ctx, roleID, true)
		if err != nil {
			return err
		}
		if role.TenantID != tenantID {
			return ErrRoleNotFound
		}
		before := role.Permissions
		meta := map[string]any{"name": role.Name}

		if upd.Name != nil && newName != role.Name {
			if role.IsDefault {
				return fmt.Errorf("%w: %q cannot be renamed", ErrDefaultRoleProtected, role.Name)
			}
			meta["previous_name"] = role.Name
			meta["name"] = newName
			role.Name = newName
		}
		if upd.Description != nil {
			role.Description = strings.TrimSpace(*upd.Description)
		}
		permsChanged := upd.Permissions != nil && !equalKeys(before, newPerms)
		if permsChanged {
			if role.IsDefault {
				return fmt.Errorf("%w: %q permissions are fixed", ErrDefaultRoleProtected, role.Name)
			}
			added, removed := diffKeys(before, newPerms)
			meta["permissions"] = keyStrings(newPerms)
			meta["added"] = keyStrings(added)
			meta["removed"] = keyStrings(removed)
			role.Permissions = newPerms
		}
		role.UpdatedAt = s.now().UTC()

		if err := tx.UpdateRole(ctx, role); err != nil {
			return err
		}
		if permsChanged {
			if err := tx.ReplaceRolePermissions(ctx, tenantID, role.ID, newPerms); err != nil {
				return err
			}
			if _, err := tx.BumpGeneration(ctx, tenantID); err != nil {
				return err
			}
		}
		if _, err := tx.RecordAudit(ctx, roleEvent(audit.EventRoleUpdated, role, actor, meta)); err != nil {
			return err
		}
		updated = role
		return nil
	})
	if err != nil {
		return Role{}, err
	}
	return updated, nil
}

// Delete removes a custom role that no principal holds. The row lock serializes
// against concurrent assigns, which take a shared lock on the same row.
func (s *RoleStore) Delete(ctx context.Context, tenantID, actor, roleID uuid.UUID) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.LockRole(ctx, roleID, true)
		if err != nil {
			return err
		}
		if role.TenantID != tenantID {
			return ErrRoleNotFound
		}
		if role.IsDefault {
			return fmt.Errorf("%w: %q cannot be deleted", ErrDefaultRoleProtected, role.Name)
		}
		n, err := tx.CountRoleAssignments(ctx, tenantID, roleID)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %d assignment(s)", ErrRoleInUse, n)
		}
		if err := tx.DeleteRole(ctx, tenantID, roleID); err != nil {
			return err
		}
		role.UpdatedAt = s.now().UTC()
		_, err = tx.RecordAudit(ctx, roleEvent(audit.EventRoleDeleted, role, actor, map[string]any{
			"name":        role.Name,
			"description": role.Description,
			"permissions": keyStrings(role.Permissions),
		}))
		return err
	})
}

// Get returns one role of the tenant.
func (s *RoleStore) Get(ctx context.Context, tenantID, roleID uuid.UUID) (Role, error) {
	return s.repo.GetRole(ctx, tenantID, roleID)
}

// List returns every role of the tenant ordered by name.
func (s *RoleStore) List(ctx context.Context, tenantID uuid.UUID) ([]Role, error) {
	return s.repo.ListRoles(ctx, tenantID)
}

// Provision seeds the default roles into a new tenant and grants owner to the creator,
// atomically. It fails with ErrTenantProvisioned when run twice.
func (s *RoleStore) Provision(ctx context.Context, tenantID, owner uuid.UUID) ([]Role, error) {
	if tenantID == uuid.Nil || owner == uuid.Nil {
		return nil, fmt.Errorf("%w: tenant and owner required", ErrInvalidRole)
	}
	templates := s.catalog.DefaultRoles()
	now := s.now().UTC()
	roles := make([]Role, 0, len(templates))
	for _, t := range templates {
		roles = append(roles, Role{
			ID:          s.newID(),
			TenantID:    tenantID,
			Name:        t.Name,
			Description: t.Description,
			Permissions: t.Permissions,
			IsDefault:   true,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created, err := tx.CreateTenantState(ctx, tenantID)
		if err != nil {
			return err
		}
		if !created {
			return ErrTenantProvisioned
		}
		var ownerRole Role
		names := make([]string, 0, len(roles))
		for _, role := range roles {
			if err := tx.InsertRole(ctx, role); err != nil {
				return err
			}
			if err := tx.ReplaceRolePermissions(ctx, tenantID, role.ID, role.Permissions); err != nil {
				return err
			}
			if role.Name == RoleOwner {
				ownerRole = role
			}
			names = append(names, role.Name)
		}
		grant := Assignment{
			ID:          s.newID(),
			TenantID:    tenantID,
			PrincipalID: owner,
			RoleID:      ownerRole.ID,
			AssignedBy:  owner,
			AssignedAt:  now,
		}
		if err := tx.EnsureMembership(ctx, tenantID, owner); err != nil {
			return err
		}
		if _, err := tx.InsertAssignment(ctx, grant); err != nil {
			return err
		}
		if _, err := tx.BumpGeneration(ctx, tenantID); err != nil {
			return err
		}
		if _, err := tx.RecordAudit(ctx, audit.Event{
			TenantID:         tenantID,
			ActorPrincipalID: owner,
			EventType:        audit.EventTenantProvisioned,
			TargetType:       audit.TargetTenant,
			TargetID:         tenantID.String(),
			OccurredAt:       now,
			Metadata:         map[string]any{"default_roles": names},
		}); err != nil {
			return err
		}
		_, err = tx.RecordAudit(ctx, assignmentEvent(audit.EventAssignmentCreated, grant, ownerRole.Name, owner, now))
		return err
	})
	if err != nil {
		return nil, err
	}
	return roles, nil
}

func validateRoleName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	switch {
	case name == "":
		return "", fmt.Errorf("%w: name required", ErrInvalidRole)
	case utf8.RuneCountInString(name) > MaxRoleNameLength:
		return "", fmt.Errorf("%w: name longer than %d characters", ErrInvalidRole, MaxRoleNameLength)
	}
	return name, nil
}

func roleEvent(typ audit.EventType, role Role, actor uuid.UUID, meta map[string]any) audit.Event {
	return audit.Event{
		TenantID:         role.TenantID,
		ActorPrincipalID: actor,
		EventType:        typ,
		TargetType:       audit.TargetRole,
		TargetID:         role.ID.String(),
		OccurredAt:       role.UpdatedAt,
		Metadata:         meta,
	}
}

func equalKeys(a, b []Key) bool {
	if len(a) != len(b) {
		return false
	}
	set := NewPermissionSet(a...)
	for _, k := range b {
		if !set.HasKey(k) {
			return false
		}
	}
	return true
}

func diffKeys(before, after []Key) (added, removed []Key) {
	prev := NewPermissionSet(before...)
	next := NewPermissionSet(after...)
	for _, k := range after {
		if !prev.HasKey(k) {
			added = append(added, k)
		}
	}
	for _, k := range before {
		if !next.HasKey(k) {
			removed = append(removed, k)
		}
	}
	return added, removed
}
