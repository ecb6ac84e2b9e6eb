package rbac

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
)

// memRepo is an in-memory RepositoryPort. Transactions are serialized by one
// mutex and rolled back by restoring a snapshot, which gives the same
// all-or-nothing and uniqueness guarantees as the Postgres schema.
type memRepo struct {
	mu    sync.Mutex
	state memState

	failAudit    atomic.Bool
	resolveCalls atomic.Int64

	errMu         sync.Mutex
	resolveErr    error
	membershipErr error
}

type memState struct {
	generations map[uuid.UUID]int64
	roles       map[uuid.UUID]Role
	members     map[PrincipalRef]bool
	assignments []Assignment
	events      []audit.Event
	nextEventID int64
}

func newMemRepo() *memRepo {
	return &memRepo{state: memState{
		generations: map[uuid.UUID]int64{},
		roles:       map[uuid.UUID]Role{},
		members:     map[PrincipalRef]bool{},
	}}
}

func (s memState) clone() memState {
	out := memState{
		generations: make(map[uuid.UUID]int64, len(s.generations)),
		roles:       make(map[uuid.UUID]Role, len(s.roles)),
		members:     make(map[PrincipalRef]bool, len(s.members)),
		assignments: append([]Assignment(nil), s.assignments...),
		events:      append([]audit.Event(nil), s.events...),
		nextEventID: s.nextEventID,
	}
	for k, v := range s.generations {
		out.generations[k] = v
	}
	for k, v := range s.members {
		out.members[k] = v
	}
	for k, v := range s.roles {
		v.Permissions = append([]Key(nil), v.Permissions...)
		out.roles[k] = v
	}
	return out
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := r.state.clone()
	if err := fn(ctx, &memTx{repo: r}); err != nil {
		r.state = snapshot
		return err
	}
	return nil
}

func (r *memRepo) TenantGeneration(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.generations[tenantID], nil
}

func (r *memRepo) ResolvePermissions(ctx context.Context, tenantID, principalID uuid.UUID) ([]Key, error) {
	r.resolveCalls.Add(1)
	r.errMu.Lock()
	err := r.resolveErr
	r.errMu.Unlock()
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set := PermissionSet{}
	for _, a := range r.state.assignments {
		if a.TenantID != tenantID || a.PrincipalID != principalID {
			continue
		}
		for _, k := range r.state.roles[a.RoleID].Permissions {
			set[k] = struct{}{}
		}
	}
	return set.Keys(), nil
}

func (r *memRepo) setResolveErr(err error) {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	r.resolveErr = err
}

func (r *memRepo) GetRole(ctx context.Context, tenantID, roleID uuid.UUID) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.state.roles[roleID]
	if !ok || role.TenantID != tenantID {
		return Role{}, ErrRoleNotFound
	}
	role.Permissions = append([]Key{}, role.Permissions...)
	return role, nil
}

func (r *memRepo) ListRoles(ctx context.Context, tenantID uuid.UUID) ([]Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roles := []Role{}
	for _, role := range r.state.roles {
		if role.TenantID == tenantID {
			roles = append(roles, role)
		}
	}
	sortRoles(roles)
	return roles, nil
}

func (r *memRepo) ListRolesForPrincipal(ctx context.Context, tenantID, principalID uuid.UUID) ([]Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roles := []Role{}
	for _, a := range r.state.assignments {
		if a.TenantID == tenantID && a.PrincipalID == principalID {
			roles = append(roles, r.state.roles[a.RoleID])
		}
	}
	sortRoles(roles)
	return roles, nil
}

func (r *memRepo) ListPrincipalsForRole(ctx context.Context, tenantID, roleID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	principals := []uuid.UUID{}
	for _, a := range r.state.assignments {
		if a.TenantID == tenantID && a.RoleID == roleID {
			principals = append(principals, a.PrincipalID)
		}
	}
	return principals, nil
}

func (r *memRepo) OrphanedPrincipals(ctx context.Context, limit int) ([]PrincipalRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[PrincipalRef]bool{}
	refs := []PrincipalRef{}
	for _, a := range r.state.assignments {
		ref := PrincipalRef{TenantID: a.TenantID, PrincipalID: a.PrincipalID}
		if r.state.members[ref] || seen[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
		if len(refs) == limit {
			break
		}
	}
	return refs, nil
}

func (r *memRepo) addMember(tenantID uuid.UUID, principals ...uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range principals {
		r.state.members[PrincipalRef{TenantID: tenantID, PrincipalID: p}] = true
	}
}

// dropMember deletes the membership row without touching grants, as a direct
// write to the mirror table would.
func (r *memRepo) dropMember(tenantID, principalID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.state.members, PrincipalRef{TenantID: tenantID, PrincipalID: principalID})
}

func (r *memRepo) isMember(tenantID, principalID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.members[PrincipalRef{TenantID: tenantID, PrincipalID: principalID}]
}

func (r *memRepo) setMembershipErr(err error) {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	r.membershipErr = err
}

func (r *memRepo) events(tenantID uuid.UUID) []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Event
	for _, ev := range r.state.events {
		if ev.TenantID == tenantID {
			out = append(out, ev)
		}
	}
	return out
}

func (r *memRepo) eventsOfType(tenantID uuid.UUID, typ audit.EventType) []audit.Event {
	var out []audit.Event
	for _, ev := range r.events(tenantID) {
		if ev.EventType == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (r *memRepo) assignmentCount(tenantID, principalID, roleID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.state.assignments {
		if a.TenantID == tenantID && a.PrincipalID == principalID && a.RoleID == roleID {
			n++
		}
	}
	return n
}

func (r *memRepo) roleExists(roleID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.state.roles[roleID]
	return ok
}

// RecordDenial satisfies DenialRecorder.
func (r *memRepo) RecordDenial(ctx context.Context, ev audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := (&memTx{repo: r}).RecordAudit(ctx, ev)
	return err
}

func sortRoles(roles []Role) {
	sort.Slice(roles, func(i, j int) bool {
		return strings.ToLower(roles[i].Name) < strings.ToLower(roles[j].Name)
	})
}

type memTx struct {
	repo *memRepo
}

func (t *memTx) st() *memState { return &t.repo.state }

func (t *memTx) CreateTenantState(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	if _, ok := t.st().generations[tenantID]; ok {
		return false, nil
	}
	t.st().generations[tenantID] = 1
	return true, nil
}

func (t *memTx) BumpGeneration(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	gen, ok := t.st().generations[tenantID]
	if !ok {
		return 0, ErrTenantNotProvisioned
	}
	gen++
	t.st().generations[tenantID] = gen
	return gen, nil
}

func (t *memTx) nameTaken(role Role) bool {
	for id, other := range t.st().roles {
		if id != role.ID && other.TenantID == role.TenantID && strings.EqualFold(other.Name, role.Name) {
			return true
		}
	}
	return false
}

func (t *memTx) InsertRole(ctx context.Context, role Role) error {
	if _, ok := t.st().generations[role.TenantID]; !ok {
		return ErrTenantNotProvisioned
	}
	if t.nameTaken(role) {
		return ErrDuplicateRoleName
	}
	role.Permissions = nil
	t.st().roles[role.ID] = role
	return nil
}

func (t *memTx) UpdateRole(ctx context.Context, role Role) error {
	existing, ok := t.st().roles[role.ID]
	if !ok || existing.TenantID != role.TenantID {
		return ErrRoleNotFound
	}
	if t.nameTaken(role) {
		return ErrDuplicateRoleName
	}
	existing.Name, existing.Description, existing.UpdatedAt = role.Name, role.Description, role.UpdatedAt
	t.st().roles[role.ID] = existing
	return nil
}

func (t *memTx) ReplaceRolePermissions(ctx context.Context, tenantID, roleID uuid.UUID, perms []Key) error {
	role, ok := t.st().roles[roleID]
	if !ok {
		return ErrRoleNotFound
	}
	role.Permissions = append([]Key{}, perms...)
	t.st().roles[roleID] = role
	return nil
}

func (t *memTx) LockRole(ctx context.Context, roleID uuid.UUID, exclusive bool) (Role, error) {
	role, ok := t.st().roles[roleID]
	if !ok {
		return Role{}, ErrRoleNotFound
	}
	role.Permissions = append([]Key{}, role.Permissions...)
	return role, nil
}

func (t *memTx) CountRoleAssignments(ctx context.Context, tenantID, roleID uuid.UUID) (int, error) {
	n := 0
	for _, a := range t.st().assignments {
		if a.TenantID == tenantID && a.RoleID == roleID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) DeleteRole(ctx context.Context, tenantID, roleID uuid.UUID) error {
	if n, _ := t.CountRoleAssignments(ctx, tenantID, roleID); n > 0 {
		return ErrRoleInUse
	}
	role, ok := t.st().roles[roleID]
	if !ok || role.TenantID != tenantID {
		return ErrRoleNotFound
	}
	delete(t.st().roles, roleID)
	return nil
}

func (t *memTx) InsertAssignment(ctx context.Context, a Assignment) (bool, error) {
	role, ok := t.st().roles[a.RoleID]
	if !ok || role.TenantID != a.TenantID {
		return false, ErrRoleNotFound
	}
	for _, existing := range t.st().assignments {
		if existing.TenantID == a.TenantID && existing.PrincipalID == a.PrincipalID && existing.RoleID == a.RoleID {
			return false, nil
		}
	}
	t.st().assignments = append(t.st().assignments, a)
	return true, nil
}

func (t *memTx) DeleteAssignment(ctx context.Context, tenantID, principalID, roleID uuid.UUID) (Assignment, bool, error) {
	for i, a := range t.st().assignments {
		if a.TenantID == tenantID && a.PrincipalID == principalID && a.RoleID == roleID {
			t.st().assignments = append(t.st().assignments[:i:i], t.st().assignments[i+1:]...)
			return a, true, nil
		}
	}
	return Assignment{}, false, nil
}

func (t *memTx) DeleteAssignmentsForPrincipal(ctx context.Context, tenantID, principalID uuid.UUID) ([]Assignment, error) {
	var kept, removed []Assignment
	for _, a := range t.st().assignments {
		if a.TenantID == tenantID && a.PrincipalID == principalID {
			removed = append(removed, a)
			continue
		}
		kept = append(kept, a)
	}
	t.st().assignments = kept
	return removed, nil
}

func (t *memTx) LockMembership(ctx context.Context, tenantID, principalID uuid.UUID) (bool, error) {
	t.repo.errMu.Lock()
	err := t.repo.membershipErr
	t.repo.errMu.Unlock()
	if err != nil {
		return false, err
	}
	return t.st().members[PrincipalRef{TenantID: tenantID, PrincipalID: principalID}], nil
}

func (t *memTx) EnsureMembership(ctx context.Context, tenantID, principalID uuid.UUID) error {
	t.st().members[PrincipalRef{TenantID: tenantID, PrincipalID: principalID}] = true
	return nil
}

func (t *memTx) DeleteMembership(ctx context.Context, tenantID, principalID uuid.UUID) (bool, error) {
	ref := PrincipalRef{TenantID: tenantID, PrincipalID: principalID}
	if !t.st().members[ref] {
		return false, nil
	}
	delete(t.st().members, ref)
	return true, nil
}

var errAuditDown = errors.New("audit store offline")

func (t *memTx) RecordAudit(ctx context.Context, ev audit.Event) (audit.Event, error) {
	if err := ev.Validate(); err != nil {
		return audit.Event{}, err
	}
	if t.repo.failAudit.Load() {
		return audit.Event{}, errors.Join(audit.ErrAuditWrite, errAuditDown)
	}
	t.st().nextEventID++
	ev.ID = t.st().nextEventID
	t.st().events = append(t.st().events, ev)
	return ev, nil
}
