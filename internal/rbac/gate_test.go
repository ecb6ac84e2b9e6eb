package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
)

type staticResolver struct {
	set   PermissionSet
	err   error
	delay time.Duration
}

func (s staticResolver) Resolve(ctx context.Context, tenantID, principalID uuid.UUID) (PermissionSet, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.set, s.err
}

type recordingMetrics struct {
	mu        sync.Mutex
	decisions []string
}

func (m *recordingMetrics) ObserveDecision(allowed bool, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if allowed {
		reason = "allow"
	}
	m.decisions = append(m.decisions, reason)
}
func (m *recordingMetrics) ObserveResolve(string, time.Duration) {}
func (m *recordingMetrics) ObserveCacheLookup(string, string)    {}

type recordingDenials struct {
	mu     sync.Mutex
	events []audit.Event
	err    error
}

func (d *recordingDenials) RecordDenial(ctx context.Context, ev audit.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return d.err
}

func TestGateDecisions(t *testing.T) {
	principal, tenant := uuid.New(), uuid.New()
	granted := NewPermissionSet(keys("deals:view", "files:view")...)
	metrics := &recordingMetrics{}
	denials := &recordingDenials{}
	g := NewGate(DefaultCatalog(), staticResolver{set: granted}, GateOptions{Metrics: metrics, Denials: denials})
	ctx := context.Background()

	assert.Equal(t, Allow(), g.Check(ctx, principal, tenant, "deals", "view"))
	assert.Equal(t, Allow(), g.Check(ctx, principal, tenant, " DEALS ", "View"))
	assert.Equal(t, Deny(ReasonForbidden), g.Check(ctx, principal, tenant, "deals", "delete"))
	assert.Equal(t, Deny(ReasonUnknownPermission), g.Check(ctx, principal, tenant, "deals", "teleport"))
	assert.Equal(t, Deny(ReasonUnauthorized), g.Check(ctx, uuid.Nil, tenant, "deals", "view"))
	assert.Equal(t, Deny(ReasonUnauthorized), g.Check(ctx, principal, uuid.Nil, "deals", "view"))

	assert.Equal(t, []string{"allow", "allow", "forbidden", "unknown_permission", "unauthorized", "unauthorized"}, metrics.decisions)

	require.Len(t, denials.events, 2)
	assert.Equal(t, audit.EventAccessDenied, denials.events[0].EventType)
	assert.Equal(t, "deals:delete", denials.events[0].TargetID)
	assert.Equal(t, "forbidden", denials.events[0].Metadata["reason"])
	assert.Equal(t, "unknown_permission", denials.events[1].Metadata["reason"])
}

func TestGateUnknownPermissionWinsOverMissingIdentity(t *testing.T) {
	metrics := &recordingMetrics{}
	denials := &recordingDenials{}
	g := NewGate(DefaultCatalog(), staticResolver{set: NewPermissionSet(keys("deals:view")...)}, GateOptions{Metrics: metrics, Denials: denials})
	ctx := context.Background()

	assert.Equal(t, Deny(ReasonUnknownPermission), g.Check(ctx, uuid.Nil, uuid.Nil, "deals", "teleport"))
	assert.Equal(t, Deny(ReasonUnknownPermission), g.Check(ctx, uuid.Nil, uuid.New(), "nope", "view"))
	assert.Equal(t, Deny(ReasonUnknownPermission), g.CheckAll(ctx, uuid.New(), uuid.Nil, NewKey("deals", "view"), NewKey("nope", "x")))
	assert.Equal(t, Deny(ReasonUnauthorized), g.Check(ctx, uuid.Nil, uuid.Nil, "deals", "view"))

	assert.Equal(t, []string{"unknown_permission", "unknown_permission", "unknown_permission", "unauthorized"}, metrics.decisions)
	assert.Empty(t, denials.events, "denials without a tenant cannot be audited")
}

func TestGateCheckAllAndAny(t *testing.T) {
	g := NewGate(DefaultCatalog(), staticResolver{set: NewPermissionSet(keys("deals:view")...)}, GateOptions{})
	ctx := context.Background()
	p, tn := uuid.New(), uuid.New()

	assert.True(t, g.CheckAll(ctx, p, tn, keys("deals:view")...).Allowed)
	assert.False(t, g.CheckAll(ctx, p, tn, keys("deals:view", "deals:update")...).Allowed)
	assert.True(t, g.CheckAny(ctx, p, tn, keys("deals:update", "deals:view")...).Allowed)
	assert.Equal(t, Deny(ReasonForbidden), g.CheckAny(ctx, p, tn, keys("deals:update", "deals:delete")...))
	assert.Equal(t, Deny(ReasonUnknownPermission), g.CheckAny(ctx, p, tn, NewKey("deals", "view"), NewKey("nope", "x")))
	assert.Equal(t, Deny(ReasonUnknownPermission), g.CheckAll(ctx, p, tn))

	input := []Key{{FeatureArea: "DEALS", Action: "VIEW"}}
	g.CheckAll(ctx, p, tn, input...)
	assert.Equal(t, "DEALS", input[0].FeatureArea, "caller's keys are not mutated")
}

func TestGateFailsClosed(t *testing.T) {
	ctx := context.Background()
	p, tn := uuid.New(), uuid.New()

	broken := NewGate(DefaultCatalog(), staticResolver{err: errors.New("pool exhausted")}, GateOptions{})
	assert.Equal(t, Deny(ReasonUnavailable), broken.Check(ctx, p, tn, "deals", "view"))

	slow := NewGate(DefaultCatalog(), staticResolver{
		set:   NewPermissionSet(keys("deals:view")...),
		delay: time.Second,
	}, GateOptions{Timeout: 20 * time.Millisecond})
	assert.Equal(t, Deny(ReasonUnavailable), slow.Check(ctx, p, tn, "deals", "view"))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	g := NewGate(DefaultCatalog(), staticResolver{set: NewPermissionSet(keys("deals:view")...)}, GateOptions{})
	assert.False(t, g.Check(cancelled, p, tn, "deals", "view").Allowed)
}

func TestGateDenialWriteFailureStillDenies(t *testing.T) {
	denials := &recordingDenials{err: errors.New("audit offline")}
	g := NewGate(DefaultCatalog(), staticResolver{set: PermissionSet{}}, GateOptions{Denials: denials})
	d := g.Check(context.Background(), uuid.New(), uuid.New(), "deals", "view")
	assert.Equal(t, Deny(ReasonForbidden), d)
	assert.Len(t, denials.events, 1)
}

func TestGateRequire(t *testing.T) {
	g := NewGate(DefaultCatalog(), staticResolver{set: NewPermissionSet(keys("deals:view")...)}, GateOptions{})
	ctx := context.Background()
	p, tn := uuid.New(), uuid.New()

	assert.NoError(t, g.Require(ctx, p, tn, "deals:view"))
	assert.ErrorIs(t, g.Require(ctx, p, tn, "deals:delete"), ErrForbidden)
	assert.ErrorIs(t, g.Require(ctx, uuid.Nil, tn, "deals:view"), ErrUnauthorized)

	err := g.Require(ctx, p, tn, "deals:teleport")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, err, ErrUnknownPermission)
	assert.ErrorIs(t, g.Require(ctx, p, tn, "garbage"), ErrForbidden)
}

func TestGateSeesRevocationImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cache, _ := newRedisCache(t)
	g := NewGate(DefaultCatalog(), NewResolver(f.repo, ResolverOptions{Cache: cache}), GateOptions{})
	p := f.join(t, RoleMember)

	require.True(t, g.Check(ctx, p, f.tenant, "deals", "create").Allowed)
	_, err := f.svc.Remove(ctx, f.ownerID(), p, f.roles[RoleMember].ID)
	require.NoError(t, err)
	assert.Equal(t, Deny(ReasonForbidden), g.Check(ctx, p, f.tenant, "deals", "create"))
}
