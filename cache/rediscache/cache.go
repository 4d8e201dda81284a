/*
Package rediscache memoizes dashboard summaries in Redis.

KEYS:
  <prefix>:summary:<threshold>   JSON-encoded inventory.Summary, expires after TTL

INVALIDATION:
  Cache implements inventory.Listener. Any committed change deletes every
  key under the prefix, so the next Summary call recomputes from the store.
  TTL bounds staleness if an invalidation is lost (e.g. Redis briefly down).

USAGE:
  client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
  cache := rediscache.New(client, cfg.Redis.TTL, logger)
  inv := inventory.New(store, inventory.WithSummaryCache(cache))
*/
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/stock-ledger/inventory"
)

const DefaultPrefix = "stock"

type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

var (
	_ inventory.SummaryCache = (*Cache)(nil)
	_ inventory.Listener     = (*Cache)(nil)
)

// New creates a cache with DefaultPrefix.
func New(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Cache {
	return &Cache{
		client: client,
		prefix: DefaultPrefix,
		ttl:    ttl,
		logger: logger.Named("cache"),
	}
}

// WithPrefix returns a copy of c that namespaces keys under prefix.
func (c *Cache) WithPrefix(prefix string) *Cache {
	cp := *c
	cp.prefix = prefix
	return &cp
}

func (c *Cache) key(k string) string {
	return c.prefix + ":" + k
}

func (c *Cache) GetSummary(ctx context.Context, key string) (inventory.Summary, bool, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.logger.Debug("cache miss", zap.String("key", key))
		return inventory.Summary{}, false, nil
	}
	if err != nil {
		return inventory.Summary{}, false, fmt.Errorf("redis get error: %w", err)
	}

	var s inventory.Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return inventory.Summary{}, false, fmt.Errorf("unmarshal error: %w", err)
	}
	c.logger.Debug("cache hit", zap.String("key", key))
	return s, true, nil
}

func (c *Cache) SetSummary(ctx context.Context, key string, s inventory.Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// OnChange drops every cached summary.
func (c *Cache) OnChange(ctx context.Context, ev inventory.ChangeEvent) error {
	return c.Invalidate(ctx)
}

// Invalidate deletes all keys under the prefix.
func (c *Cache) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+":*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan error: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del error: %w", err)
	}
	c.logger.Debug("cache invalidated", zap.Int("keys", len(keys)))
	return nil
}

// Ping checks Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping error: %w", err)
	}
	return nil
}
