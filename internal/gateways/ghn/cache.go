package ghn

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"shoporder/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	cacheKeyPrefix = "ghn:"
	feeTTL         = 10 * time.Minute
)

// CachedClient serves master data and fee quotes from Redis, falling back to
// the carrier on a miss. Shipment calls always go to the carrier. A nil
// redis client disables caching.
type CachedClient struct {
	*Client
	cache *redis.Client
	ttl   time.Duration
}

// NewCachedClient wraps c with a Redis read-through cache.
func NewCachedClient(c *Client, cache *redis.Client, ttl time.Duration) *CachedClient {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedClient{Client: c, cache: cache, ttl: ttl}
}

func (c *CachedClient) Provinces(ctx context.Context) ([]Province, error) {
	var out []Province
	err := c.readThrough(ctx, cacheKeyPrefix+"provinces", c.ttl, &out, func() (interface{}, error) {
		return c.Client.Provinces(ctx)
	})
	return out, err
}

func (c *CachedClient) Districts(ctx context.Context, provinceID int) ([]District, error) {
	var out []District
	key := fmt.Sprintf("%sdistricts:%d", cacheKeyPrefix, provinceID)
	err := c.readThrough(ctx, key, c.ttl, &out, func() (interface{}, error) {
		return c.Client.Districts(ctx, provinceID)
	})
	return out, err
}

func (c *CachedClient) Wards(ctx context.Context, districtID int) ([]Ward, error) {
	var out []Ward
	key := fmt.Sprintf("%swards:%d", cacheKeyPrefix, districtID)
	err := c.readThrough(ctx, key, c.ttl, &out, func() (interface{}, error) {
		return c.Client.Wards(ctx, districtID)
	})
	return out, err
}

func (c *CachedClient) CalculateFee(ctx context.Context, req FeeRequest) (*Fee, error) {
	var out Fee
	key := fmt.Sprintf("%sfee:%d:%s:%d:%s:%d:%s", cacheKeyPrefix,
		req.FromDistrictID, req.FromWardCode, req.ToDistrictID, req.ToWardCode,
		req.WeightGrams, req.DeclaredValue.Round(0).String())
	err := c.readThrough(ctx, key, feeTTL, &out, func() (interface{}, error) {
		return c.Client.CalculateFee(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// readThrough decodes the cached value at key into out, or calls load and
// caches its result. Cache errors are logged and never fail the call.
func (c *CachedClient) readThrough(ctx context.Context, key string, ttl time.Duration, out interface{}, load func() (interface{}, error)) error {
	if c.cache != nil {
		data, err := c.cache.Get(ctx, key).Bytes()
		if err == nil {
			if uErr := json.Unmarshal(data, out); uErr == nil {
				return nil
			}
		} else if err != redis.Nil {
			logger.Warn("ghn cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	v, err := load()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	if c.cache != nil {
		if err := c.cache.Set(ctx, key, payload, ttl).Err(); err != nil {
			logger.Warn("ghn cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}
