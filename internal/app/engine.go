package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/internal/observability"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

// EngineDeps are the runtime handles the authorization engine is built from.
type EngineDeps struct {
	Config  *Config
	Logger  *slog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics
}

// Engine bundles the service with the stores the HTTP layer needs directly.
type Engine struct {
	Service    *rbac.Service
	Catalog    *rbac.Catalog
	AuditStore *audit.PGStore
	Audit      *audit.Service
}

// AuditExporter returns the CSV writer used by the audit export endpoint.
func (e *Engine) AuditExporter() audit.CSVExporter {
	return audit.NewExporter()
}

// ConnectRedis dials Redis. An unreachable server is logged and a lazy client returned,
// since the permission cache falls back to Postgres reads.
func ConnectRedis(ctx context.Context, cfg *Config, logger *slog.Logger) *redis.Client {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
		return cache.NewClient(cfg.RedisOptions())
	}
	return client
}

// LoadCatalog returns the catalog at path, or the embedded one when path is empty.
func LoadCatalog(path string) (*rbac.Catalog, error) {
	if path == "" {
		return rbac.DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return rbac.LoadCatalog(data)
}

// BuildEngine loads the catalog, mirrors it into Postgres and assembles rbac.Service.
func BuildEngine(ctx context.Context, deps EngineDeps) (*Engine, error) {
	cfg := deps.Config
	if cfg == nil {
		cfg = &Config{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	catalog, err := LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}

	auditStore := audit.NewPGStore(deps.Pool)
	repo := rbac.NewRepository(deps.Pool, auditStore)
	if err := repo.SyncCatalog(ctx, catalog.All()); err != nil {
		return nil, fmt.Errorf("sync catalog: %w", err)
	}

	svcCfg := rbac.ServiceConfig{
		Repo:         repo,
		Catalog:      catalog,
		Logger:       logger,
		CheckTimeout: cfg.CheckTimeout,
	}
	if deps.Metrics != nil {
		svcCfg.Metrics = deps.Metrics
	}
	if cfg.CacheTTL > 0 {
		cacheOpts := rbac.CacheOptions{TTL: cfg.CacheTTL, LocalSize: cfg.LocalCacheSize}
		if deps.Metrics != nil {
			cacheOpts.Metrics = deps.Metrics
		}
		svcCfg.Cache = rbac.NewTieredCache(deps.Redis, cacheOpts)
	}
	if cfg.AuditDenials {
		svcCfg.Denials = auditStore
	}
	auditService := audit.NewService(auditStore)
	svcCfg.Audit = auditService

	logger.Info("authorization engine ready",
		slog.Int("permissions", len(catalog.All())),
		slog.Bool("cache", svcCfg.Cache != nil),
		slog.Bool("audit_denials", cfg.AuditDenials))

	return &Engine{
		Service:    rbac.NewService(svcCfg),
		Catalog:    catalog,
		AuditStore: auditStore,
		Audit:      auditService,
	}, nil
}
