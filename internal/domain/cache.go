package domain

import (
	"context"
	"time"
)

// Ticker is the last known quote for a symbol on a venue.
type Ticker struct {
	Price     float64
	Volume24h float64 // quote-currency traded volume over 24h
	At        time.Time
}

// PriceCache stores last-known tickers written by the streaming feeds. The
// engine only ever reads last-known values; it never blocks waiting for a
// fresh tick. A missing entry is reported as ErrNotFound.
type PriceCache interface {
	SetTicker(ctx context.Context, venue Venue, symbol string, t Ticker) error
	GetTicker(ctx context.Context, venue Venue, symbol string) (Ticker, error)
	// LastPrice is a convenience for callers that only need the price.
	LastPrice(ctx context.Context, venue Venue, symbol string) (float64, error)
}

// FundsCache caches the free-capital figure used by the session layer's
// sufficiency gate, with a short validity window.
type FundsCache interface {
	SetFreeKRW(ctx context.Context, amount float64, ttl time.Duration) error
	// GetFreeKRW returns ErrNotFound when no valid cached value exists.
	GetFreeKRW(ctx context.Context) (float64, error)
}
