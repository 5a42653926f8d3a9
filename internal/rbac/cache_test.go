package rbac

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), mr
}

func TestCacheRoundTripAndBump(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	key, err := cache.Key(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "rbac:eff:7:0:0", key)

	set := ComputeEffective([]string{"maintenance"}, []EdgeRow{
		{RoleKey: "maintenance", PermissionKey: "energy.record.view", Granted: true},
		{RoleKey: "maintenance", PermissionKey: "energy.record.delete", Granted: false},
	})
	require.NoError(t, cache.Put(ctx, key, set))

	got, ok, err := cache.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Permitted("energy.record.view"))
	_, reason := got.Evaluate("energy.record.delete")
	assert.Equal(t, ReasonExplicitDeny, reason)

	require.NoError(t, cache.BumpPrincipal(ctx, 7))
	key, err = cache.Key(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "rbac:eff:7:0:1", key)
	_, ok, err = cache.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.BumpAll(ctx))
	key, err = cache.Key(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "rbac:eff:7:1:1", key)
}

func TestCacheDisabled(t *testing.T) {
	var cache *Cache
	ctx := context.Background()
	assert.False(t, cache.enabled())
	assert.NoError(t, cache.BumpAll(ctx))
	assert.NoError(t, cache.BumpPrincipal(ctx, 1))
	assert.NoError(t, NewCache(nil, time.Minute).Put(ctx, "k", EffectiveSet{}))
}

func TestServiceUsesCacheAcrossRequests(t *testing.T) {
	cache, mr := newTestCache(t)
	f := newFixture(t, WithCache(cache))
	ctx := context.Background()
	f.grant(t, "quality_technician", "quality.test.create")
	f.assign(t, 1, "quality_technician")

	require.True(t, f.svc.IsPermitted(ctx, 1, "quality.test.create"))
	key, err := cache.Key(ctx, 1)
	require.NoError(t, err)
	assert.True(t, mr.Exists(key))

	// A grant bumps the global version, so the next check reloads from the store.
	f.grant(t, "quality_technician", "quality.test.approve")
	assert.True(t, f.svc.IsPermitted(ctx, 1, "quality.test.approve"))
}

func TestServiceInvalidatesPrincipalOnAssign(t *testing.T) {
	cache, _ := newTestCache(t)
	f := newFixture(t, WithCache(cache))
	ctx := context.Background()
	f.grant(t, "production_manager", "energy.record.view")

	require.False(t, f.svc.IsPermitted(ctx, 2, "energy.record.view"))
	f.assign(t, 2, "production_manager")
	assert.True(t, f.svc.IsPermitted(ctx, 2, "energy.record.view"))

	require.NoError(t, f.svc.UnassignRole(ctx, 2, f.roles["production_manager"].ID))
	assert.False(t, f.svc.IsPermitted(ctx, 2, "energy.record.view"))
}

func TestServiceBypassesCacheAfterFailedBump(t *testing.T) {
	cache, mr := newTestCache(t)
	f := newFixture(t, WithCache(cache))
	ctx := context.Background()
	f.grant(t, "operator", "quality.test.view")
	f.assign(t, 3, "operator")
	require.True(t, f.svc.IsPermitted(ctx, 3, "quality.test.view"))

	mr.SetError("LOADING")
	_, err := f.svc.Deny(ctx, f.roles["operator"].ID, f.perms["quality.test.view"].ID)
	require.NoError(t, err)
	assert.True(t, f.svc.stale.Load())
	assert.False(t, f.svc.IsPermitted(ctx, 3, "quality.test.view"))

	mr.SetError("")
	assert.False(t, f.svc.IsPermitted(ctx, 3, "quality.test.view"))
	assert.False(t, f.svc.stale.Load())
}

// flakyIncr fails the next n INCR commands.
type flakyIncr struct {
	n atomic.Int32
}

func (h *flakyIncr) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *flakyIncr) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if cmd.Name() == "incr" && h.n.Add(-1) >= 0 {
			err := errors.New("connection reset by peer")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (h *flakyIncr) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestServiceRetriesTransientBumpFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	hook := &flakyIncr{}
	client.AddHook(hook)

	f := newFixture(t, WithCache(NewCache(client, time.Minute)))
	ctx := context.Background()
	f.grant(t, "operator", "quality.test.view")
	f.assign(t, 4, "operator")
	require.True(t, f.svc.IsPermitted(ctx, 4, "quality.test.view"))
	before, err := mr.Get(cacheGlobalVersionKey)
	require.NoError(t, err)

	// Another replica shares the Redis entries and has no local stale flag.
	replica := NewService(f.store, WithCache(NewCache(client, time.Minute)))
	require.True(t, replica.IsPermitted(ctx, 4, "quality.test.view"))

	hook.n.Store(bumpAttempts - 1)
	_, err = f.svc.Deny(ctx, f.roles["operator"].ID, f.perms["quality.test.view"].ID)
	require.NoError(t, err)
	assert.False(t, f.svc.stale.Load())

	after, err := mr.Get(cacheGlobalVersionKey)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
	assert.False(t, replica.IsPermitted(ctx, 4, "quality.test.view"))
}
