package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheGlobalVersionKey = "rbac:version"
	cachePrincipalPrefix  = "rbac:principal:"
	cacheSetPrefix        = "rbac:eff:"
)

// Cache stores effective sets in Redis under versioned keys. A mutation
// bumps a version, which makes every older entry unreachable at once.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper. A nil client or zero TTL disables it.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil && c.ttl > 0
}

// Key composes the entry key for a principal from the global and the
// principal version.
func (c *Cache) Key(ctx context.Context, principalID int64) (string, error) {
	id := strconv.FormatInt(principalID, 10)
	vals, err := c.client.MGet(ctx, cacheGlobalVersionKey, cachePrincipalPrefix+id).Result()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s:%s:%s", cacheSetPrefix, id, versionOf(vals[0]), versionOf(vals[1])), nil
}

func versionOf(v any) string {
	s, ok := v.(string)
	if !ok || s == "" {
		return "0"
	}
	return s
}

// Get loads a cached set. The boolean is false on a miss.
func (c *Cache) Get(ctx context.Context, key string) (EffectiveSet, bool, error) {
	if !c.enabled() {
		return EffectiveSet{}, false, nil
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return EffectiveSet{}, false, nil
	}
	if err != nil {
		return EffectiveSet{}, false, err
	}
	var set EffectiveSet
	if err := json.Unmarshal(payload, &set); err != nil {
		return EffectiveSet{}, false, err
	}
	set.index()
	return set, true, nil
}

// Put stores a set under key.
func (c *Cache) Put(ctx context.Context, key string, set EffectiveSet) error {
	if !c.enabled() {
		return nil
	}
	raw, err := json.Marshal(set)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

// BumpAll invalidates every cached set.
func (c *Cache) BumpAll(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	return c.client.Incr(ctx, cacheGlobalVersionKey).Err()
}

// BumpPrincipal invalidates the cached set of one principal.
func (c *Cache) BumpPrincipal(ctx context.Context, principalID int64) error {
	if !c.enabled() {
		return nil
	}
	return c.client.Incr(ctx, cachePrincipalPrefix+strconv.FormatInt(principalID, 10)).Err()
}
