package assets

import (
	"context"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/media-registry/media-registry/internal/config"
	"github.com/media-registry/media-registry/internal/storage"
	"github.com/media-registry/media-registry/internal/telemetry"
)

// Cache records the last confirmed resource type per object id. It is a pure
// performance hint: entries expire after a TTL, a stale or missing entry only
// costs extra probes, and the whole cache rebuilds from cold on restart.
//
// The cache key is the trailing filename segment of the id, not the full
// folder path — a move only changes the folder prefix, so keying on the
// segment keeps the discovery valid across moves of the same object.
type Cache interface {
	// Get returns the cached type for id, or false when no unexpired entry
	// exists.
	Get(ctx context.Context, id string) (storage.ResourceType, bool)

	// Put unconditionally overwrites the entry for id. Last write wins on
	// concurrent puts.
	Put(ctx context.Context, id string, rt storage.ResourceType)
}

// cacheKey reduces an object id to its identity for caching purposes.
func cacheKey(id string) string {
	return path.Base(id)
}

// NewCache builds the cache selected by the configuration: process-local
// memory (default) or Redis for sharing discoveries across instances.
func NewCache(cfg *config.CacheConfig) (Cache, error) {
	if cfg.Backend == "redis" {
		return NewRedisCache(&cfg.Redis, cfg.TTL), nil
	}
	return NewMemoryCache(cfg.TTL), nil
}

// ---------------------------------------------------------------------------
// Memory
// ---------------------------------------------------------------------------

type memoryEntry struct {
	rt           storage.ResourceType
	discoveredAt time.Time
}

// MemoryCache is a process-local TTL cache. Expiry is lazy: an expired entry
// is treated as absent on read and removed then, never swept in the
// background.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache returns an empty memory cache with the given TTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(ctx context.Context, id string) (storage.ResourceType, bool) {
	key := cacheKey(id)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return storage.TypeUnknown, false
	}
	if c.now().Sub(entry.discoveredAt) >= c.ttl {
		delete(c.entries, key)
		return storage.TypeUnknown, false
	}
	return entry.rt, true
}

func (c *MemoryCache) Put(ctx context.Context, id string, rt storage.ResourceType) {
	key := cacheKey(id)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{rt: rt, discoveredAt: c.now()}
}

// ---------------------------------------------------------------------------
// Redis
// ---------------------------------------------------------------------------

const redisKeyPrefix = "mreg:type:"

// RedisCache shares type discoveries across registry instances. Redis owns
// expiry via the key TTL. Redis errors degrade to cache misses; the cache is
// never allowed to fail an operation that would otherwise just probe.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache connects a cache to the configured Redis instance.
func NewRedisCache(cfg *config.RedisConfig, ttl time.Duration) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisCache{
		client: client,
		ttl:    ttl,
		log:    slog.Default().With("component", "typecache"),
	}
}

func (c *RedisCache) Get(ctx context.Context, id string) (storage.ResourceType, bool) {
	val, err := c.client.Get(ctx, redisKeyPrefix+cacheKey(id)).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("redis get failed, treating as miss", "error", err)
		}
		return storage.TypeUnknown, false
	}

	rt := storage.ParseType(val)
	if !rt.IsConcrete() {
		return storage.TypeUnknown, false
	}
	return rt, true
}

func (c *RedisCache) Put(ctx context.Context, id string, rt storage.ResourceType) {
	if err := c.client.Set(ctx, redisKeyPrefix+cacheKey(id), string(rt), c.ttl).Err(); err != nil {
		c.log.Warn("redis set failed, discovery not shared", "error", err)
	}
}

// Close releases the Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// cachedLookup wraps a cache Get with hit/miss accounting.
func cachedLookup(ctx context.Context, cache Cache, id string) (storage.ResourceType, bool) {
	rt, ok := cache.Get(ctx, id)
	if ok {
		telemetry.TypeCacheLookupsTotal.WithLabelValues("hit").Inc()
	} else {
		telemetry.TypeCacheLookupsTotal.WithLabelValues("miss").Inc()
	}
	return rt, ok
}
