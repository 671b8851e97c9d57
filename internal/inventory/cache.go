package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// LevelCache wraps Redis-based caching for stock level reads with a
// per-company version key. Every committed movement bumps the version, so
// cached listings can never outlive the ledger truth they summarise.
type LevelCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLevelCache instantiates the cache helper.
func NewLevelCache(client *redis.Client, ttl time.Duration) *LevelCache {
	return &LevelCache{client: client, ttl: ttl}
}

func (c *LevelCache) versionKey(rc shared.RequestContext) string {
	return fmt.Sprintf("inventory:levels:%d:%d:version", rc.TenantID, rc.CompanyID)
}

// Version returns the current cache version, initialising when missing.
func (c *LevelCache) Version(ctx context.Context, rc shared.RequestContext) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, c.versionKey(rc)).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, c.versionKey(rc), 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Bump invalidates all cached level reads for the company.
func (c *LevelCache) Bump(ctx context.Context, rc shared.RequestContext) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, c.versionKey(rc)).Err()
}

// BuildKey composes the cache key with the current version.
func (c *LevelCache) BuildKey(ctx context.Context, rc shared.RequestContext, parts ...string) (string, error) {
	ver, err := c.Version(ctx, rc)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("inventory:levels:%d:%d:%d", rc.TenantID, rc.CompanyID, ver)
	for _, part := range parts {
		key += ":" + part
	}
	return key, nil
}

// FetchLevels loads cached levels or populates them using the loader.
func (c *LevelCache) FetchLevels(ctx context.Context, rc shared.RequestContext, key string, loader func(context.Context) ([]StockLevel, error)) ([]StockLevel, error) {
	if loader == nil {
		return nil, errors.New("inventory: cache loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var levels []StockLevel
		if err := json.Unmarshal(raw, &levels); err == nil {
			return levels, nil
		}
		// Corrupt payload falls through to the loader and is overwritten.
	} else if err != redis.Nil {
		return nil, err
	}

	levels, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(levels)
	if err != nil {
		return nil, err
	}
	if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
		return nil, err
	}
	return levels, nil
}
