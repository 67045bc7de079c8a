package action

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/triage-ai/blinkguard/internal/cache"
	"go.uber.org/zap"
)

// DescriptorCache stores fetched descriptors by action URL.
type DescriptorCache interface {
	Get(ctx context.Context, apiURL string) (*Descriptor, bool)
	Set(ctx context.Context, apiURL string, d *Descriptor)
}

// MemoryCache is an in-process DescriptorCache.
type MemoryCache struct {
	ttl *cache.TTLCache[*Descriptor]
}

// NewMemoryCache creates an in-memory descriptor cache.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: cache.NewTTLCache[*Descriptor](ttl)}
}

func (m *MemoryCache) Get(_ context.Context, apiURL string) (*Descriptor, bool) {
	return m.ttl.GetFresh(apiURL)
}

func (m *MemoryCache) Set(_ context.Context, apiURL string, d *Descriptor) {
	m.ttl.Set(apiURL, d)
}

// RedisCache shares descriptors between blink-server replicas.
type RedisCache struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache creates a Redis-backed descriptor cache.
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{redis: client, prefix: "blinkguard:descriptor:v1", ttl: ttl, logger: logger}
}

func (r *RedisCache) key(apiURL string) string {
	return r.prefix + ":" + apiURL
}

func (r *RedisCache) Get(ctx context.Context, apiURL string) (*Descriptor, bool) {
	result, err := r.redis.Get(ctx, r.key(apiURL)).Result()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("descriptor cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var d Descriptor
	if err := json.Unmarshal([]byte(result), &d); err != nil {
		return nil, false
	}
	return &d, true
}

func (r *RedisCache) Set(ctx context.Context, apiURL string, d *Descriptor) {
	raw, err := json.Marshal(d)
	if err != nil {
		return
	}
	if err := r.redis.Set(ctx, r.key(apiURL), raw, r.ttl).Err(); err != nil {
		r.logger.Warn("descriptor cache write failed", zap.Error(err))
	}
}
