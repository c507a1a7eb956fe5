package searcher

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/papyrus-search/papyrus/pkg/config"
	"github.com/papyrus-search/papyrus/pkg/logger"
	pkgredis "github.com/papyrus-search/papyrus/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const cacheKeyPrefix = "papyrus:search:"

// QueryCache is a Redis-backed result cache keyed by (mode, query, topK).
// Cache failures degrade to misses so the engine never depends on Redis
// availability.
type QueryCache struct {
	client *pkgredis.Client
	cfg    config.RedisConfig
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// NewQueryCache wraps a connected Redis client.
func NewQueryCache(client *pkgredis.Client, cfg config.RedisConfig) *QueryCache {
	return &QueryCache{
		client: client,
		cfg:    cfg,
		logger: logger.WithComponent("query-cache"),
	}
}

// Get returns the cached response for the query, if present.
func (c *QueryCache) Get(ctx context.Context, mode, query string, topK int) (*Response, bool) {
	key := c.buildKey(mode, query, topK)
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	var resp Response
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "mode", mode, "query", query)
	return &resp, true
}

// Set stores a response under the query key with the configured TTL.
func (c *QueryCache) Set(ctx context.Context, mode, query string, topK int, resp *Response) {
	key := c.buildKey(mode, query, topK)
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.cfg.CacheTTL); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached response or computes it, collapsing
// concurrent computations of the same key into one.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	mode, query string,
	topK int,
	computeFn func() (*Response, error),
) (*Response, bool, error) {
	if resp, ok := c.Get(ctx, mode, query, topK); ok {
		return resp, true, nil
	}
	key := c.buildKey(mode, query, topK)
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if resp, ok := c.Get(ctx, mode, query, topK); ok {
			return resp, nil
		}
		resp, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, mode, query, topK, resp)
		return resp, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*Response), false, nil
}

// Invalidate removes every cached query result.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, cacheKeyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating query cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

// HitStats returns the hit and miss counters.
func (c *QueryCache) HitStats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// buildKey hashes the normalised query. Term order is irrelevant for OR and
// AND but significant for phrases, so phrase queries keep their order.
func (c *QueryCache) buildKey(mode, query string, topK int) string {
	terms := strings.Fields(strings.ToLower(query))
	if mode != "phrase" {
		sort.Strings(terms)
	}
	raw := fmt.Sprintf("%s|%s|k=%d", mode, strings.Join(terms, ","), topK)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", cacheKeyPrefix, hash[:16])
}
