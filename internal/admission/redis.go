package admission

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "lines:"

// acquireScript increments the tenant counter and reverts inside the same
// script execution when the limit is exceeded. Redis runs the whole script
// atomically, which closes the race the naive INCR-then-DECR sequence has.
var acquireScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current > tonumber(ARGV[1]) then
	redis.call('DECR', KEYS[1])
	return 0
end
return 1
`)

// releaseScript decrements with a floor of zero so a stray double release
// cannot drive the counter negative.
var releaseScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current <= 0 then
	redis.call('SET', KEYS[1], '0')
	return -1
end
return redis.call('DECR', KEYS[1])
`)

// RedisLimiter keeps line counters in a shared Redis store so the limit
// holds across bridge replicas.
type RedisLimiter struct {
	rdb          *redis.Client
	mu           sync.RWMutex
	tenantLimits map[string]int
	defaultLimit int
}

func NewRedisLimiter(url string, defaultLimit int) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if defaultLimit <= 0 {
		defaultLimit = 5
	}
	return &RedisLimiter{
		rdb:          redis.NewClient(opts),
		tenantLimits: make(map[string]int),
		defaultLimit: defaultLimit,
	}, nil
}

// NewRedisLimiterWithClient wires an existing client; used by tests.
func NewRedisLimiterWithClient(rdb *redis.Client, defaultLimit int) *RedisLimiter {
	if defaultLimit <= 0 {
		defaultLimit = 5
	}
	return &RedisLimiter{
		rdb:          rdb,
		tenantLimits: make(map[string]int),
		defaultLimit: defaultLimit,
	}
}

// SetTenantLimit overrides the line limit for one tenant.
func (l *RedisLimiter) SetTenantLimit(tenantID string, limit int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 {
		delete(l.tenantLimits, tenantID)
		return
	}
	l.tenantLimits[tenantID] = limit
}

func (l *RedisLimiter) TryAcquire(ctx context.Context, tenantID string) (bool, error) {
	res, err := acquireScript.Run(ctx, l.rdb, []string{key(tenantID)}, l.Limit(tenantID)).Int()
	if err != nil {
		return false, fmt.Errorf("admission acquire: %w", err)
	}
	return res == 1, nil
}

func (l *RedisLimiter) Release(ctx context.Context, tenantID string) error {
	res, err := releaseScript.Run(ctx, l.rdb, []string{key(tenantID)}).Int()
	if err != nil {
		return fmt.Errorf("admission release: %w", err)
	}
	if res == -1 {
		log.Printf("admission: release below floor for tenant %s, clamping at zero", tenantID)
	}
	return nil
}

func (l *RedisLimiter) ActiveCount(ctx context.Context, tenantID string) (int, error) {
	val, err := l.rdb.Get(ctx, key(tenantID)).Int()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("admission count: %w", err)
	}
	if val < 0 {
		val = 0
	}
	return val, nil
}

func (l *RedisLimiter) Limit(tenantID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if limit, ok := l.tenantLimits[tenantID]; ok {
		return limit
	}
	return l.defaultLimit
}

func (l *RedisLimiter) Close() error {
	return l.rdb.Close()
}

func key(tenantID string) string {
	return keyPrefix + strings.TrimSpace(tenantID)
}

// NewLimiter creates a redis-backed limiter when a URL is configured,
// otherwise a process-local one.
func NewLimiter(redisURL string, defaultLimit int) (Limiter, error) {
	if strings.TrimSpace(redisURL) == "" {
		return NewLocalLimiter(defaultLimit), nil
	}
	return NewRedisLimiter(redisURL, defaultLimit)
}
