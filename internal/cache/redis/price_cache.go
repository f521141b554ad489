package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/minsukang/kimchibot/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each ticker is
// stored at key "ticker:{venue}:{symbol}" with fields "price", "volume" and
// "ts" (Unix nanosecond timestamp).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func tickerKey(venue domain.Venue, symbol string) string {
	return "ticker:" + string(venue) + ":" + symbol
}

// SetTicker stores the last known ticker for a symbol on a venue.
func (pc *PriceCache) SetTicker(ctx context.Context, venue domain.Venue, symbol string, t domain.Ticker) error {
	key := tickerKey(venue, symbol)
	fields := map[string]interface{}{
		"price":  strconv.FormatFloat(t.Price, 'f', -1, 64),
		"volume": strconv.FormatFloat(t.Volume24h, 'f', -1, 64),
		"ts":     strconv.FormatInt(t.At.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redis: set ticker %s/%s: %w", venue, symbol, err)
	}
	return nil
}

// GetTicker retrieves the last known ticker for a symbol on a venue. It
// returns domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetTicker(ctx context.Context, venue domain.Venue, symbol string) (domain.Ticker, error) {
	key := tickerKey(venue, symbol)
	vals, err := pc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("redis: get ticker %s/%s: %w", venue, symbol, err)
	}
	if len(vals) == 0 {
		return domain.Ticker{}, domain.ErrNotFound
	}

	var t domain.Ticker
	priceStr, ok := vals["price"]
	if !ok {
		return domain.Ticker{}, domain.ErrNotFound
	}
	if t.Price, err = strconv.ParseFloat(priceStr, 64); err != nil {
		return domain.Ticker{}, fmt.Errorf("redis: parse price %s/%s: %w", venue, symbol, err)
	}
	if volStr, ok := vals["volume"]; ok {
		if t.Volume24h, err = strconv.ParseFloat(volStr, 64); err != nil {
			return domain.Ticker{}, fmt.Errorf("redis: parse volume %s/%s: %w", venue, symbol, err)
		}
	}
	if tsStr, ok := vals["ts"]; ok {
		tsNano, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return domain.Ticker{}, fmt.Errorf("redis: parse ts %s/%s: %w", venue, symbol, err)
		}
		t.At = time.Unix(0, tsNano)
	}
	return t, nil
}

// LastPrice retrieves only the price field of the ticker.
func (pc *PriceCache) LastPrice(ctx context.Context, venue domain.Venue, symbol string) (float64, error) {
	priceStr, err := pc.rdb.HGet(ctx, tickerKey(venue, symbol), "price").Result()
	if err == redis.Nil {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redis: last price %s/%s: %w", venue, symbol, err)
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse price %s/%s: %w", venue, symbol, err)
	}
	return price, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
