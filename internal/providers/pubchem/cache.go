package pubchem

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

const redisCachePrefix = "chemsearch:lookup:"

// Cache stores raw PUG REST response bodies keyed by request identity.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// MemoryCache is a bounded in-process LRU with a single TTL for all entries.
type MemoryCache struct {
	entries *lru.LRU[string, []byte]
}

func NewMemoryCache(maxEntries int, ttl time.Duration) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 2048
	}
	return &MemoryCache{entries: lru.NewLRU[string, []byte](maxEntries, nil, ttl)}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, ok := m.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

// Set ignores ttl; entries expire on the cache-wide TTL.
func (m *MemoryCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.entries.Add(key, append([]byte(nil), value...))
	return nil
}

func (m *MemoryCache) Len() int {
	return m.entries.Len()
}

// RedisCache shares response bodies between service replicas.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, redisCachePrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, redisCachePrefix+key, value, ttl).Err()
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// TieredCache reads layers in order and backfills faster layers on a hit
// in a slower one. Writes go to every layer.
type TieredCache struct {
	layers []Cache
	ttl    time.Duration
}

func NewTieredCache(ttl time.Duration, layers ...Cache) *TieredCache {
	kept := make([]Cache, 0, len(layers))
	for _, layer := range layers {
		if layer != nil {
			kept = append(kept, layer)
		}
	}
	return &TieredCache{layers: kept, ttl: ttl}
}

func (t *TieredCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var firstErr error
	for i, layer := range t.layers {
		value, ok, err := layer.Get(ctx, key)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !ok {
			continue
		}
		for j := 0; j < i; j++ {
			_ = t.layers[j].Set(ctx, key, value, t.ttl)
		}
		return value, true, nil
	}
	return nil, false, firstErr
}

func (t *TieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var errs []error
	for _, layer := range t.layers {
		if err := layer.Set(ctx, key, value, ttl); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
