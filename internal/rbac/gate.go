package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
)

const denialWriteTimeout = 2 * time.Second

// PermissionResolver is the resolver contract the gate depends on.
type PermissionResolver interface {
	Resolve(ctx context.Context, tenantID, principalID uuid.UUID) (PermissionSet, error)
}

// GateOptions configures optional gate behavior.
type GateOptions struct {
	// Denials, when set, receives an access.denied event for forbidden and unknown-permission outcomes.
	Denials DenialRecorder
	// Timeout bounds permission resolution; expiry denies.
	Timeout time.Duration
	Metrics MetricsRecorder
	Logger  *slog.Logger
}

// Gate is the single decision point every protected action passes through.
// It fails closed: any error while deciding yields a denial.
type Gate struct {
	catalog  *Catalog
	resolver PermissionResolver
	denials  DenialRecorder
	timeout  time.Duration
	metrics  MetricsRecorder
	tracer   trace.Tracer
	logger   *slog.Logger
}

// NewGate constructs a gate.
func NewGate(catalog *Catalog, resolver PermissionResolver, opts GateOptions) *Gate {
	return &Gate{
		catalog:  catalog,
		resolver: resolver,
		denials:  opts.Denials,
		timeout:  opts.Timeout,
		metrics:  orNop(opts.Metrics),
		tracer:   otel.Tracer(tracerName),
		logger:   orDefault(opts.Logger),
	}
}

// Check decides whether principal may perform action on feature area inside tenant.
func (g *Gate) Check(ctx context.Context, principalID, tenantID uuid.UUID, area, action string) Decision {
	return g.decide(ctx, principalID, tenantID, []Key{NewKey(area, action)}, true)
}

// CheckAll allows only when every key is held.
func (g *Gate) CheckAll(ctx context.Context, principalID, tenantID uuid.UUID, keys ...Key) Decision {
	return g.decide(ctx, principalID, tenantID, keys, true)
}

// CheckAny allows when at least one key is held.
func (g *Gate) CheckAny(ctx context.Context, principalID, tenantID uuid.UUID, keys ...Key) Decision {
	return g.decide(ctx, principalID, tenantID, keys, false)
}

// Require checks one "area:action" permission and maps a denial onto the error taxonomy.
func (g *Gate) Require(ctx context.Context, principalID, tenantID uuid.UUID, perm string) error {
	key, err := ParseKey(perm)
	if err != nil {
		g.metrics.ObserveDecision(false, string(ReasonUnknownPermission))
		return fmt.Errorf("%w: %w", ErrForbidden, err)
	}
	return g.CheckAll(ctx, principalID, tenantID, key).Err()
}

func (g *Gate) decide(ctx context.Context, principalID, tenantID uuid.UUID, keys []Key, all bool) (d Decision) {
	ctx, span := g.tracer.Start(ctx, "rbac.check", trace.WithAttributes(
		attribute.String("tenant_id", tenantID.String()),
		attribute.String("principal_id", principalID.String()),
		attribute.StringSlice("permissions", keyStrings(keys)),
	))
	defer func() {
		span.SetAttributes(attribute.Bool("allowed", d.Allowed), attribute.String("reason", string(d.Reason)))
		span.End()
		g.metrics.ObserveDecision(d.Allowed, string(d.Reason))
	}()

	// The catalog is consulted before the identity so an uncatalogued pair is
	// unknown_permission for every caller, anonymous ones included.
	anonymous := principalID == uuid.Nil || tenantID == uuid.Nil
	if len(keys) == 0 {
		return Deny(ReasonUnknownPermission)
	}
	normalized := make([]Key, len(keys))
	for i, k := range keys {
		k = NewKey(k.FeatureArea, k.Action)
		normalized[i] = k
		if !g.catalog.HasKey(k) {
			if !anonymous {
				g.recordDenial(ctx, principalID, tenantID, k, ReasonUnknownPermission)
			}
			return Deny(ReasonUnknownPermission)
		}
	}
	if anonymous {
		return Deny(ReasonUnauthorized)
	}

	resolveCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		resolveCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	granted, err := g.resolver.Resolve(resolveCtx, tenantID, principalID)
	if err == nil {
		err = resolveCtx.Err()
	}
	if err != nil {
		span.RecordError(err)
		g.logger.Error("authorization check failed closed",
			slog.String("tenant_id", tenantID.String()),
			slog.String("principal_id", principalID.String()),
			slog.Any("error", err))
		return Deny(ReasonUnavailable)
	}

	for _, k := range normalized {
		held := granted.HasKey(k)
		if held && !all {
			return Allow()
		}
		if !held && all {
			g.recordDenial(ctx, principalID, tenantID, k, ReasonForbidden)
			return Deny(ReasonForbidden)
		}
	}
	if all {
		return Allow()
	}
	g.recordDenial(ctx, principalID, tenantID, normalized[0], ReasonForbidden)
	return Deny(ReasonForbidden)
}

func (g *Gate) recordDenial(ctx context.Context, principalID, tenantID uuid.UUID, key Key, reason DenyReason) {
	if g.denials == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), denialWriteTimeout)
	defer cancel()
	err := g.denials.RecordDenial(ctx, audit.Event{
		TenantID:         tenantID,
		ActorPrincipalID: principalID,
		EventType:        audit.EventAccessDenied,
		TargetType:       audit.TargetPermission,
		TargetID:         key.String(),
		Metadata:         map[string]any{"reason": string(reason)},
	})
	if err != nil {
		g.logger.Warn("record denial", slog.String("tenant_id", tenantID.String()), slog.Any("error", err))
	}
}
