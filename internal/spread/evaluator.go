// Package spread decides whether the current price gap for a symbol is an
// admissible arbitrage opportunity.
package spread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/minsukang/kimchibot/internal/domain"
	"github.com/minsukang/kimchibot/internal/fees"
)

// Config holds the admissibility gates. All three are explicit configuration;
// there are no built-in thresholds.
type Config struct {
	MinNetProfitPct float64
	MinVolumeKRW    float64 // 24h local-venue traded volume floor
	MaxSlippagePct  float64 // order size as a percent of 24h volume
}

// Evaluator assesses symbols against the fee model and the configured gates.
// It supplies its own live exchange rate from the rate source.
type Evaluator struct {
	schedule fees.Schedule
	rates    domain.RateSource
	prices   domain.PriceCache
	cfg      Config
	logger   *slog.Logger
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(schedule fees.Schedule, rates domain.RateSource, prices domain.PriceCache, cfg Config, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		schedule: schedule,
		rates:    rates,
		prices:   prices,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "spread_evaluator")),
	}
}

// Assess evaluates the high-premium direction for symbol at the given
// investment size. It returns nil (not an error) when either venue has no
// last-known price, or when any gate fails: net profit percent at or below
// the threshold, 24h volume below the liquidity floor, or estimated slippage
// above the bound.
func (e *Evaluator) Assess(ctx context.Context, symbol string, investmentKRW float64) (*domain.Opportunity, error) {
	local, err := e.prices.GetTicker(ctx, domain.VenueUpbit, symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("spread: local ticker %s: %w", symbol, err)
	}
	global, err := e.prices.GetTicker(ctx, domain.VenueBinance, symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("spread: global ticker %s: %w", symbol, err)
	}
	if local.Price <= 0 || global.Price <= 0 {
		return nil, nil
	}

	rate := e.rates.USDTToKRW()
	if rate <= 0 {
		return nil, nil
	}

	amount := investmentKRW / (global.Price * rate)
	res, err := e.schedule.Evaluate(fees.DirectionHighPremium, symbol, amount, local.Price, global.Price, rate)
	if err != nil {
		return nil, fmt.Errorf("spread: evaluate %s: %w", symbol, err)
	}

	if res.NetPct <= e.cfg.MinNetProfitPct {
		return nil, nil
	}
	if local.Volume24h < e.cfg.MinVolumeKRW {
		e.logger.DebugContext(ctx, "volume below floor",
			slog.String("symbol", symbol),
			slog.Float64("volume_krw", local.Volume24h),
		)
		return nil, nil
	}
	if slip := estimateSlippagePct(investmentKRW, local.Volume24h); slip > e.cfg.MaxSlippagePct {
		e.logger.DebugContext(ctx, "estimated slippage above bound",
			slog.String("symbol", symbol),
			slog.Float64("slippage_pct", slip),
		)
		return nil, nil
	}

	return &domain.Opportunity{
		Symbol:       symbol,
		LocalPrice:   local.Price,
		GlobalPrice:  global.Price,
		Rate:         rate,
		SpreadPct:    fees.SpreadPct(local.Price, global.Price, rate),
		NetProfitKRW: res.NetKRW,
		NetProfitPct: res.NetPct,
		DetectedAt:   time.Now().UTC(),
	}, nil
}

// estimateSlippagePct is a static size-versus-liquidity check, not a book
// depth model: order notional as a percent of 24h traded volume.
func estimateSlippagePct(investmentKRW, volume24hKRW float64) float64 {
	if volume24hKRW <= 0 {
		return 100
	}
	return investmentKRW / volume24hKRW * 100
}
