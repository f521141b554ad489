// Package rate supplies the USDT→KRW exchange rate from the local venue's
// public ticker.
package rate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Config holds the rate source parameters.
type Config struct {
	// URL is the public ticker endpoint returning the KRW-USDT trade price.
	URL string
	// InitialKRW seeds the rate before the first successful fetch.
	InitialKRW float64
}

// Source fetches the KRW-USDT rate and serves the last known value. Reads
// never fail: a fetch error keeps the previous value, so a flapping endpoint
// degrades to a stale rate rather than a dead engine.
type Source struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.RWMutex
	rate      float64
	fetchedAt time.Time
}

// New creates a Source seeded with cfg.InitialKRW.
func New(cfg Config, logger *slog.Logger) *Source {
	return &Source{
		url: cfg.URL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger.With(slog.String("component", "rate_source")),
		rate:   cfg.InitialKRW,
	}
}

// USDTToKRW returns the last known rate.
func (s *Source) USDTToKRW() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rate
}

// FetchedAt returns when the rate was last fetched successfully, zero if
// never.
func (s *Source) FetchedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetchedAt
}

// Refresh fetches the current rate. On failure the last known value is kept
// and the error returned for logging by the scheduler.
func (s *Source) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("rate: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rate: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("rate: fetch: status %d: %s", resp.StatusCode, string(body))
	}

	var tickers []struct {
		TradePrice float64 `json:"trade_price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tickers); err != nil {
		return fmt.Errorf("rate: decode ticker: %w", err)
	}
	if len(tickers) == 0 || tickers[0].TradePrice <= 0 {
		return fmt.Errorf("rate: ticker returned no usable price")
	}

	s.mu.Lock()
	s.rate = tickers[0].TradePrice
	s.fetchedAt = time.Now().UTC()
	s.mu.Unlock()

	s.logger.Debug("rate refreshed",
		slog.Float64("usdt_krw", tickers[0].TradePrice),
	)
	return nil
}

// Fixed is a constant rate source for simulation and tests.
type Fixed float64

// USDTToKRW returns the constant.
func (f Fixed) USDTToKRW() float64 { return float64(f) }
