package rbac

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// Snapshot is the authorization state of one user under one guard
type Snapshot struct {
	Superuser   bool
	Permissions map[string]struct{}
}

// Has reports whether the snapshot contains the permission name
func (s Snapshot) Has(name string) bool {
	_, ok := s.Permissions[name]
	return ok
}

func newSnapshot(superuser bool, names []string) Snapshot {
	perms := make(map[string]struct{}, len(names))
	for _, name := range names {
		perms[name] = struct{}{}
	}
	return Snapshot{Superuser: superuser, Permissions: perms}
}

// CacheConfig configures the permission cache
type CacheConfig struct {
	Size      int
	TTL       time.Duration
	KeyPrefix string
	Metrics   *observability.Metrics
	Logger    *observability.Logger
}

// PermissionCache keeps snapshots in a local expiring LRU. Entries are keyed
// by a generation number; Invalidate bumps the generation so every instance
// sharing the Redis key stops serving older snapshots.
type PermissionCache struct {
	local      *lru.LRU[string, Snapshot]
	client     *redis.Client
	genKey     string
	generation atomic.Int64
	metrics    *observability.Metrics
	logger     *observability.Logger
}

// NewPermissionCache creates a permission cache. client may be nil, in which
// case invalidation only reaches this process.
func NewPermissionCache(cfg CacheConfig, client *redis.Client) *PermissionCache {
	if cfg.Size <= 0 {
		cfg.Size = 10000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "gatekeeper:"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	return &PermissionCache{
		local:   lru.NewLRU[string, Snapshot](cfg.Size, nil, cfg.TTL),
		client:  client,
		genKey:  cfg.KeyPrefix + "rbac:generation",
		metrics: cfg.Metrics,
		logger:  logger.WithField("component", "rbac_cache"),
	}
}

func (c *PermissionCache) currentGeneration(ctx context.Context) (int64, error) {
	if c.client == nil {
		return c.generation.Load(), nil
	}
	gen, err := c.client.Get(ctx, c.genKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Get returns the cached snapshot or loads and stores it. Redis errors
// bypass the cache rather than fail the check.
func (c *PermissionCache) Get(ctx context.Context, guard Guard, userID uuid.UUID, load func(context.Context) (Snapshot, error)) (Snapshot, error) {
	gen, err := c.currentGeneration(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("Permission cache generation unavailable, bypassing cache")
		return load(ctx)
	}

	key := fmt.Sprintf("%d/%s/%s", gen, guard, userID)
	if snap, ok := c.local.Get(key); ok {
		c.metrics.RecordCacheLookup("rbac", true)
		return snap, nil
	}
	c.metrics.RecordCacheLookup("rbac", false)

	snap, err := load(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	c.local.Add(key, snap)
	return snap, nil
}

// Invalidate drops every cached snapshot
func (c *PermissionCache) Invalidate(ctx context.Context) {
	c.generation.Add(1)
	c.local.Purge()
	c.metrics.RecordCacheInvalidation("rbac")
	if c.client == nil {
		return
	}
	if err := c.client.Incr(ctx, c.genKey).Err(); err != nil {
		c.logger.WithError(err).Error("Failed to publish permission cache invalidation")
	}
}

// Len returns the number of locally cached snapshots
func (c *PermissionCache) Len() int {
	return c.local.Len()
}
