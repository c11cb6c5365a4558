// ratelimit.go provides Gin middleware that enforces per-client token-bucket rate limits,
// returning 429 responses when the configured requests-per-minute threshold is exceeded.
// Two limiter implementations exist: a process-local in-memory bucket (default) and a
// Redis-backed one so a horizontally scaled deployment enforces one shared limit.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"

	"github.com/media-registry/media-registry/internal/config"
)

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	// RequestsPerMinute is the maximum number of requests allowed per minute
	RequestsPerMinute int
	// BurstSize is the maximum burst of requests allowed
	BurstSize int
	// CleanupInterval is how often to clean up expired entries
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 120,
		BurstSize:         20, // Allow burst for clients fetching several assets at once
		CleanupInterval:   5 * time.Minute,
	}
}

// UploadRateLimitConfig returns stricter limits for upload endpoints
func UploadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 30,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
	}
}

// Limiter is the rate-limit decision interface shared by the memory and Redis
// implementations.
type Limiter interface {
	// Allow reports whether one request under key may proceed, and how many
	// requests remain in the current window.
	Allow(ctx context.Context, key string) (allowed bool, remaining int)

	// Limit returns the configured requests-per-minute ceiling.
	Limit() int

	// Stop releases background resources.
	Stop()
}

// NewLimiter builds the limiter selected by the application configuration:
// Redis-backed when security.rate_limiting.use_redis is set, process-local
// memory otherwise.
func NewLimiter(cfg *config.Config) Limiter {
	rlCfg := RateLimitConfig{
		RequestsPerMinute: cfg.Security.RateLimiting.RequestsPerMinute,
		BurstSize:         cfg.Security.RateLimiting.Burst,
		CleanupInterval:   5 * time.Minute,
	}
	if rlCfg.RequestsPerMinute <= 0 {
		rlCfg = DefaultRateLimitConfig()
	}
	if rlCfg.BurstSize <= 0 {
		rlCfg.BurstSize = rlCfg.RequestsPerMinute / 6
		if rlCfg.BurstSize < 1 {
			rlCfg.BurstSize = 1
		}
	}

	if cfg.Security.RateLimiting.UseRedis {
		return NewRedisRateLimiter(&cfg.Cache.Redis, rlCfg)
	}
	return NewRateLimiter(rlCfg)
}

// ---------------------------------------------------------------------------
// In-memory limiter
// ---------------------------------------------------------------------------

// rateLimitEntry tracks request counts for a single client
type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
}

// RateLimiter implements a process-local token bucket rate limiter
type RateLimiter struct {
	config  RateLimitConfig
	entries map[string]*rateLimitEntry
	mu      sync.RWMutex
	stopCh  chan struct{}
}

var _ Limiter = (*RateLimiter)(nil)

// NewRateLimiter creates a new rate limiter with the given config
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		entries: make(map[string]*rateLimitEntry),
		stopCh:  make(chan struct{}),
	}

	// Start cleanup goroutine
	go rl.cleanup()

	return rl
}

// cleanup periodically removes expired entries
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, entry := range rl.entries {
				// Remove entries that haven't been accessed in 10 minutes
				if now.Sub(entry.lastUpdate) > 10*time.Minute {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// Limit returns the configured requests-per-minute ceiling.
func (rl *RateLimiter) Limit() int {
	return rl.config.RequestsPerMinute
}

// Allow checks if a request from the given key should be allowed
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	entry, exists := rl.entries[key]

	if !exists {
		// New client, give them full burst
		rl.entries[key] = &rateLimitEntry{
			tokens:     float64(rl.config.BurstSize) - 1,
			lastUpdate: now,
		}
		return true, rl.config.BurstSize - 1
	}

	// Calculate tokens to add based on time elapsed
	elapsed := now.Sub(entry.lastUpdate)
	tokensPerSecond := float64(rl.config.RequestsPerMinute) / 60.0
	tokensToAdd := elapsed.Seconds() * tokensPerSecond

	// Update tokens (capped at burst size)
	entry.tokens = min(float64(rl.config.BurstSize), entry.tokens+tokensToAdd)
	entry.lastUpdate = now

	if entry.tokens >= 1 {
		entry.tokens--
		return true, int(entry.tokens)
	}

	return false, 0
}

// ---------------------------------------------------------------------------
// Redis-backed limiter
// ---------------------------------------------------------------------------

// RedisRateLimiter enforces one shared limit across all registry instances
// using the GCRA implementation in redis_rate. Redis failures fail open: a
// broken limiter must never take down asset serving.
type RedisRateLimiter struct {
	client  *redis.Client
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	rpm     int
	log     *slog.Logger
}

var _ Limiter = (*RedisRateLimiter)(nil)

// NewRedisRateLimiter connects a limiter to the configured Redis instance.
func NewRedisRateLimiter(redisCfg *config.RedisConfig, cfg RateLimitConfig) *RedisRateLimiter {
	client := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Address,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	return &RedisRateLimiter{
		client:  client,
		limiter: redis_rate.NewLimiter(client),
		limit: redis_rate.Limit{
			Rate:   cfg.RequestsPerMinute,
			Burst:  cfg.BurstSize,
			Period: time.Minute,
		},
		rpm: cfg.RequestsPerMinute,
		log: slog.Default().With("component", "ratelimit"),
	}
}

// Limit returns the configured requests-per-minute ceiling.
func (rl *RedisRateLimiter) Limit() int {
	return rl.rpm
}

// Allow checks the shared bucket in Redis.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, int) {
	res, err := rl.limiter.Allow(ctx, "mreg:ratelimit:"+key, rl.limit)
	if err != nil {
		rl.log.Warn("redis rate limit check failed, allowing request", "error", err)
		return true, rl.limit.Burst
	}
	return res.Allowed > 0, res.Remaining
}

// Stop releases the Redis connection pool.
func (rl *RedisRateLimiter) Stop() {
	if err := rl.client.Close(); err != nil {
		rl.log.Warn("redis close failed", "error", err)
	}
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// RateLimitMiddleware creates a Gin middleware that rate limits requests
func RateLimitMiddleware(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := getRateLimitKey(c)

		allowed, remaining := limiter.Allow(c.Request.Context(), key)
		if !allowed {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": 60,
			})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		c.Next()
	}
}

// getRateLimitKey determines the key to use for rate limiting. The registry
// has no per-user auth on the asset surface, so the client IP is the identity.
func getRateLimitKey(c *gin.Context) string {
	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
