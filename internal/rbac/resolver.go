package rbac

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/odyssey-erp/odyssey-authz/internal/rbac"

type resolverRepo interface {
	TenantGeneration(ctx context.Context, tenantID uuid.UUID) (int64, error)
	ResolvePermissions(ctx context.Context, tenantID, principalID uuid.UUID) ([]Key, error)
}

// Resolver computes a principal's effective permissions within a tenant.
type Resolver struct {
	repo    resolverRepo
	cache   PermissionCache
	group   singleflight.Group
	metrics MetricsRecorder
	tracer  trace.Tracer
	logger  *slog.Logger
}

// ResolverOptions configures optional collaborators.
type ResolverOptions struct {
	Cache   PermissionCache
	Metrics MetricsRecorder
	Logger  *slog.Logger
}

// NewResolver constructs a resolver. Without a cache every call reads Postgres.
func NewResolver(repo resolverRepo, opts ResolverOptions) *Resolver {
	return &Resolver{
		repo:    repo,
		cache:   opts.Cache,
		metrics: orNop(opts.Metrics),
		tracer:  otel.Tracer(tracerName),
		logger:  orDefault(opts.Logger),
	}
}

// Resolve returns the union of permissions over the principal's roles in the tenant.
// It never writes. The returned set may be shared between callers and must not be modified.
func (r *Resolver) Resolve(ctx context.Context, tenantID, principalID uuid.UUID) (PermissionSet, error) {
	ctx, span := r.tracer.Start(ctx, "rbac.resolve", trace.WithAttributes(
		attribute.String("tenant_id", tenantID.String()),
		attribute.String("principal_id", principalID.String()),
	))
	defer span.End()
	start := time.Now()

	gen, err := r.repo.TenantGeneration(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tenant generation")
		return nil, err
	}
	if gen == 0 {
		return PermissionSet{}, nil
	}

	key := CacheKey(tenantID, principalID, gen)
	if r.cache != nil {
		set, ok, err := r.cache.Get(ctx, key)
		if err != nil {
			r.logger.Warn("permission cache read failed", slog.String("tenant_id", tenantID.String()), slog.Any("error", err))
		} else if ok {
			span.SetAttributes(attribute.String("source", "cache"))
			r.metrics.ObserveResolve("cache", time.Since(start))
			return set, nil
		}
	}

	v, err, shared := r.group.Do(key, func() (any, error) {
		keys, err := r.repo.ResolvePermissions(ctx, tenantID, principalID)
		if err != nil {
			return nil, err
		}
		set := NewPermissionSet(keys...)
		if r.cache != nil {
			if err := r.cache.Set(ctx, key, set); err != nil {
				r.logger.Warn("permission cache write failed", slog.String("tenant_id", tenantID.String()), slog.Any("error", err))
			}
		}
		return set, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve permissions")
		return nil, err
	}
	span.SetAttributes(attribute.String("source", "db"), attribute.Bool("shared", shared))
	r.metrics.ObserveResolve("db", time.Since(start))
	return v.(PermissionSet), nil
}
