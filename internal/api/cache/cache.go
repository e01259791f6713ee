// Package cache keeps the popular-posts response in Redis. Concurrent
// misses for the same key share one database query.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/enzosv/mediumcrawler/internal/model"
	"github.com/enzosv/mediumcrawler/internal/store"
	"github.com/enzosv/mediumcrawler/pkg/metrics"
	pkgredis "github.com/enzosv/mediumcrawler/pkg/redis"
)

const keyPrefix = "popular:"

// Backend is the subset of *pkgredis.Client the cache uses.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// PopularCache is safe to use with a nil backend, in which case every call
// goes straight to the compute function.
type PopularCache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *PopularCache {
	return &PopularCache{
		backend: backend,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "popular-cache"),
	}
}

func (c *PopularCache) get(ctx context.Context, key string) ([]model.PopularPost, bool) {
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	var posts []model.PopularPost
	if err := json.Unmarshal([]byte(data), &posts); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	return posts, true
}

func (c *PopularCache) set(ctx context.Context, key string, posts []model.PopularPost) {
	data, err := json.Marshal(posts)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached list for policy, computing and storing it
// on a miss. The bool reports a cache hit.
func (c *PopularCache) GetOrCompute(
	ctx context.Context,
	policy store.PopularPolicy,
	computeFn func() ([]model.PopularPost, error),
) ([]model.PopularPost, bool, error) {
	if c.backend == nil {
		c.misses.Add(1)
		c.metrics.CacheMiss()
		posts, err := computeFn()
		return posts, false, err
	}
	key := buildKey(policy)
	if posts, ok := c.get(ctx, key); ok {
		c.hits.Add(1)
		c.metrics.CacheHit()
		return posts, true, nil
	}
	c.misses.Add(1)
	c.metrics.CacheMiss()
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if posts, ok := c.get(ctx, key); ok {
			return posts, nil
		}
		posts, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, posts)
		return posts, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]model.PopularPost), false, nil
}

// Invalidate drops every cached popular list.
func (c *PopularCache) Invalidate(ctx context.Context) error {
	if c.backend == nil {
		return nil
	}
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating popular cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *PopularCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func buildKey(policy store.PopularPolicy) string {
	return fmt.Sprintf("%sclaps=%d:daily=%d", keyPrefix, policy.ClapThreshold, policy.DailyClapThreshold)
}
