package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "authz:perms:v1"

// CacheOptions tunes the tiered permission cache.
type CacheOptions struct {
	// TTL bounds how long an entry lives in either tier.
	TTL time.Duration
	// LocalSize is the in-process LRU capacity; 0 disables the local tier.
	LocalSize int
	Metrics   MetricsRecorder
}

// TieredCache keeps resolved permission sets in an in-process LRU backed by Redis.
// Keys embed the tenant generation, so entries are never invalidated in place:
// a mutation bumps the generation and old keys simply stop being asked for.
type TieredCache struct {
	local   *lru.LRU[string, []Key]
	client  *redis.Client
	ttl     time.Duration
	metrics MetricsRecorder
}

var _ PermissionCache = (*TieredCache)(nil)

// NewTieredCache builds the cache. client may be nil to run with the local tier only.
func NewTieredCache(client *redis.Client, opts CacheOptions) *TieredCache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &TieredCache{client: client, ttl: ttl, metrics: orNop(opts.Metrics)}
	if opts.LocalSize > 0 {
		c.local = lru.NewLRU[string, []Key](opts.LocalSize, nil, ttl)
	}
	return c
}

// CacheKey composes the cache key for one principal at one tenant generation.
func CacheKey(tenantID, principalID uuid.UUID, generation int64) string {
	return fmt.Sprintf("%s:%s:%s:%d", cacheKeyPrefix, tenantID, principalID, generation)
}

// Get returns the cached set. A Redis failure is returned as an error so the caller can fall back.
func (c *TieredCache) Get(ctx context.Context, key string) (PermissionSet, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	if c.local != nil {
		if keys, ok := c.local.Get(key); ok {
			c.metrics.ObserveCacheLookup("l1", "hit")
			return NewPermissionSet(keys...), true, nil
		}
		c.metrics.ObserveCacheLookup("l1", "miss")
	}
	if c.client == nil {
		return nil, false, nil
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.metrics.ObserveCacheLookup("l2", "miss")
		return nil, false, nil
	}
	if err != nil {
		c.metrics.ObserveCacheLookup("l2", "error")
		return nil, false, fmt.Errorf("rbac: cache get: %w", err)
	}
	var raw []string
	if err := json.Unmarshal(payload, &raw); err != nil {
		c.metrics.ObserveCacheLookup("l2", "error")
		return nil, false, fmt.Errorf("rbac: cache decode: %w", err)
	}
	keys := make([]Key, 0, len(raw))
	for _, s := range raw {
		k, err := ParseKey(s)
		if err != nil {
			c.metrics.ObserveCacheLookup("l2", "error")
			return nil, false, fmt.Errorf("rbac: cache decode: %w", err)
		}
		keys = append(keys, k)
	}
	c.metrics.ObserveCacheLookup("l2", "hit")
	if c.local != nil {
		c.local.Add(key, keys)
	}
	return NewPermissionSet(keys...), true, nil
}

// Set stores the set in both tiers.
func (c *TieredCache) Set(ctx context.Context, key string, set PermissionSet) error {
	if c == nil {
		return nil
	}
	keys := set.Keys()
	if c.local != nil {
		c.local.Add(key, keys)
	}
	if c.client == nil {
		return nil
	}
	raw, err := json.Marshal(keyStrings(keys))
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("rbac: cache set: %w", err)
	}
	return nil
}
