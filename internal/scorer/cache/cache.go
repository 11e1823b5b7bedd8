// Package cache caches the scorer's top-k diagnostic listings in Redis.
// Listings are cheap to serve but expensive to recompute on large stores,
// and they only change when a batch is absorbed, so absorb paths invalidate
// the model's keys by pattern.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/phrasewatch/phrasewatch/pkg/config"
	pkgredis "github.com/phrasewatch/phrasewatch/pkg/redis"
)

const keyPrefix = "phrases:"

// DiagnosticsCache serves cached top-k listings keyed by model, view, and
// limit. Concurrent misses for the same key are collapsed through
// singleflight so the store is only walked once.
type DiagnosticsCache struct {
	client *pkgredis.Client
	cfg    config.RedisConfig
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a DiagnosticsCache.
func New(client *pkgredis.Client, cfg config.RedisConfig) *DiagnosticsCache {
	return &DiagnosticsCache{
		client: client,
		cfg:    cfg,
		logger: slog.Default().With("component", "diagnostics-cache"),
	}
}

// GetOrCompute returns the cached listing for (model, view, limit), or
// computes it, stores it, and returns it. The second return reports a hit.
func (c *DiagnosticsCache) GetOrCompute(
	ctx context.Context,
	model, view string,
	limit int,
	computeFn func() (any, error),
) (json.RawMessage, bool, error) {
	key := c.buildKey(model, view, limit)

	if data, ok := c.get(ctx, key); ok {
		return data, true, nil
	}

	val, err, _ := c.group.Do(key, func() (any, error) {
		if data, ok := c.get(ctx, key); ok {
			return data, nil
		}
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshaling listing: %w", err)
		}
		if err := c.client.Set(ctx, key, data, c.cfg.CacheTTL); err != nil {
			c.logger.Error("cache set failed", "key", key, "error", err)
		}
		return json.RawMessage(data), nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(json.RawMessage), false, nil
}

// InvalidateModel removes every cached listing for one model. Called after
// the model's store absorbs a batch.
func (c *DiagnosticsCache) InvalidateModel(ctx context.Context, model string) error {
	pattern := keyPrefix + model + ":*"
	deleted, err := c.client.FlushByPattern(ctx, pattern)
	if err != nil {
		return fmt.Errorf("invalidating model %s: %w", model, err)
	}
	c.logger.Debug("model listings invalidated", "model", model, "keys_deleted", deleted)
	return nil
}

// InvalidateAll removes every cached listing.
func (c *DiagnosticsCache) InvalidateAll(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

// Stats returns hit and miss counts since startup.
func (c *DiagnosticsCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *DiagnosticsCache) get(ctx context.Context, key string) (json.RawMessage, bool) {
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return json.RawMessage(data), true
}

func (c *DiagnosticsCache) buildKey(model, view string, limit int) string {
	return fmt.Sprintf("%s%s:%s:limit=%d", keyPrefix, model, view, limit)
}
