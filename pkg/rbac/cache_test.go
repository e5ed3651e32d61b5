package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

type countingLoader struct {
	calls int
	snap  Snapshot
	err   error
}

func (l *countingLoader) load(ctx context.Context) (Snapshot, error) {
	l.calls++
	return l.snap, l.err
}

func TestPermissionCache_Local(t *testing.T) {
	ctx := context.Background()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	cache := NewPermissionCache(CacheConfig{Metrics: metrics}, nil)
	userID := uuid.New()
	loader := &countingLoader{snap: newSnapshot(false, []string{"sample.items.index"})}

	snap, err := cache.Get(ctx, GuardWeb, userID, loader.load)
	require.NoError(t, err)
	assert.True(t, snap.Has("sample.items.index"))

	_, err = cache.Get(ctx, GuardWeb, userID, loader.load)
	require.NoError(t, err)
	assert.Equal(t, 1, loader.calls)

	_, err = cache.Get(ctx, GuardAPI, userID, loader.load)
	require.NoError(t, err)
	assert.Equal(t, 2, loader.calls, "guards are cached separately")

	cache.Invalidate(ctx)
	assert.Equal(t, 0, cache.Len())
	_, err = cache.Get(ctx, GuardWeb, userID, loader.load)
	require.NoError(t, err)
	assert.Equal(t, 3, loader.calls)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheLookupsTotal.WithLabelValues("rbac", "hit")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.CacheLookupsTotal.WithLabelValues("rbac", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheInvalidationsTotal.WithLabelValues("rbac")))
}

func TestPermissionCache_LoadErrorNotCached(t *testing.T) {
	ctx := context.Background()
	cache := NewPermissionCache(CacheConfig{}, nil)
	loader := &countingLoader{err: errors.New("database down")}

	_, err := cache.Get(ctx, GuardWeb, uuid.New(), loader.load)
	assert.Error(t, err)
	assert.Equal(t, 0, cache.Len())
}

func TestPermissionCache_TTL(t *testing.T) {
	ctx := context.Background()
	cache := NewPermissionCache(CacheConfig{TTL: 20 * time.Millisecond}, nil)
	userID := uuid.New()
	loader := &countingLoader{}

	_, err := cache.Get(ctx, GuardWeb, userID, loader.load)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := cache.Get(ctx, GuardWeb, userID, loader.load)
		return err == nil && loader.calls == 2
	}, time.Second, 10*time.Millisecond)
}

func TestPermissionCache_SharedGeneration(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	userID := uuid.New()

	first := NewPermissionCache(CacheConfig{KeyPrefix: "test:"}, client)
	second := NewPermissionCache(CacheConfig{KeyPrefix: "test:"}, client)
	loader := &countingLoader{}

	_, err := second.Get(ctx, GuardWeb, userID, loader.load)
	require.NoError(t, err)
	_, err = second.Get(ctx, GuardWeb, userID, loader.load)
	require.NoError(t, err)
	assert.Equal(t, 1, loader.calls)

	first.Invalidate(ctx)

	gen, err := client.Get(ctx, "test:rbac:generation").Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)

	_, err = second.Get(ctx, GuardWeb, userID, loader.load)
	require.NoError(t, err)
	assert.Equal(t, 2, loader.calls, "invalidation on one instance reaches the other")
}

func TestPermissionCache_RedisDownBypassesCache(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	cache := NewPermissionCache(CacheConfig{}, client)
	loader := &countingLoader{snap: newSnapshot(true, nil)}
	mr.Close()

	for i := 0; i < 2; i++ {
		snap, err := cache.Get(ctx, GuardWeb, uuid.New(), loader.load)
		require.NoError(t, err)
		assert.True(t, snap.Superuser)
	}
	assert.Equal(t, 2, loader.calls)
	assert.Equal(t, 0, cache.Len())

	cache.Invalidate(ctx)
}

func TestEvaluator_CacheInvalidatedByStoreWrites(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	cache := NewPermissionCache(CacheConfig{}, client)
	store, db := setupTestStore(t, WithInvalidator(cache))
	eval := NewEvaluator(store, WithCache(cache))

	update := mustPermission(t, store, "sample.items.update", GuardWeb)
	editor := mustRole(t, store, "editor", GuardWeb, update)
	userID := createUser(t, db, "alice")
	req := Request{Subject: testSubject{userID, GuardWeb}, Resource: ResourceItem, Action: ActionUpdate, TargetID: uuid.New()}

	assert.ErrorIs(t, eval.Authorize(ctx, req), ErrForbidden)
	assert.Equal(t, 1, cache.Len())

	require.NoError(t, store.AssignRoleToUser(ctx, userID, editor.ID))
	assert.NoError(t, eval.Authorize(ctx, req))

	require.NoError(t, store.RevokeRoleFromUser(ctx, userID, editor.ID))
	assert.ErrorIs(t, eval.Authorize(ctx, req), ErrForbidden)
}
