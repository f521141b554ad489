package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/minsukang/kimchibot/internal/domain"
)

const fundsKey = "funds:free_krw"

// FundsCache implements domain.FundsCache as a single expiring key. The TTL
// is the validity window of the session layer's sufficiency gate; an expired
// or missing key forces a live balance query.
type FundsCache struct {
	rdb *redis.Client
}

// NewFundsCache creates a FundsCache backed by the given Client.
func NewFundsCache(c *Client) *FundsCache {
	return &FundsCache{rdb: c.Underlying()}
}

// SetFreeKRW stores the free capital figure with the given validity window.
func (fc *FundsCache) SetFreeKRW(ctx context.Context, amount float64, ttl time.Duration) error {
	val := strconv.FormatFloat(amount, 'f', -1, 64)
	if err := fc.rdb.Set(ctx, fundsKey, val, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set free krw: %w", err)
	}
	return nil
}

// GetFreeKRW returns the cached free capital or domain.ErrNotFound when the
// key is missing or expired.
func (fc *FundsCache) GetFreeKRW(ctx context.Context) (float64, error) {
	val, err := fc.rdb.Get(ctx, fundsKey).Result()
	if err == redis.Nil {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redis: get free krw: %w", err)
	}
	amount, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse free krw: %w", err)
	}
	return amount, nil
}

// Compile-time interface check.
var _ domain.FundsCache = (*FundsCache)(nil)
