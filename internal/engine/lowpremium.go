package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/minsukang/kimchibot/internal/domain"
	"github.com/minsukang/kimchibot/internal/fees"
)

// LowPremiumConfig holds the leg-2 search parameters.
type LowPremiumConfig struct {
	Symbols       []string
	SearchTimeout time.Duration
}

// LowPremiumProcessor continuously scans all watched symbols, except the one
// used in leg 1, for a candidate whose net profit clears the carried-over
// requirement. It is invoked once per qualifying price update while the
// state is AwaitingLowPremium.
type LowPremiumProcessor struct {
	state      *CycleState
	cycles     domain.CycleStore
	exch       domain.Exchange
	settle     SettlementWaiter
	schedule   fees.Schedule
	rates      domain.RateSource
	prices     domain.PriceCache
	completion *Completion
	cfg        LowPremiumConfig
	logger     *slog.Logger
}

// NewLowPremiumProcessor creates the leg-2 processor.
func NewLowPremiumProcessor(
	state *CycleState,
	cycles domain.CycleStore,
	exch domain.Exchange,
	settle SettlementWaiter,
	schedule fees.Schedule,
	rates domain.RateSource,
	prices domain.PriceCache,
	completion *Completion,
	cfg LowPremiumConfig,
	logger *slog.Logger,
) *LowPremiumProcessor {
	return &LowPremiumProcessor{
		state:      state,
		cycles:     cycles,
		exch:       exch,
		settle:     settle,
		schedule:   schedule,
		rates:      rates,
		prices:     prices,
		completion: completion,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "low_premium")),
	}
}

type lpCandidate struct {
	symbol      string
	localPrice  float64
	globalPrice float64
	amount      float64
	result      fees.Result
}

// TryAdvance runs one low-premium scan. It returns nil when there is nothing
// to do: wrong phase, no required profit set, or no qualifying candidate this
// scan (the caller retries on the next price update). A timeout closes the
// cycle as target-missed and returns a failing result.
func (p *LowPremiumProcessor) TryAdvance(ctx context.Context) *LegResult {
	view, ok := p.state.LowPremiumSnapshot()
	if !ok {
		return nil
	}

	if time.Since(view.SearchStart) > p.cfg.SearchTimeout {
		if err := p.completion.CloseTargetMissed(ctx, view); err != nil {
			p.logger.ErrorContext(ctx, "close target missed",
				slog.String("cycle_id", view.CycleID),
				slog.String("error", err.Error()),
			)
		}
		return &LegResult{Kind: ResultFailure, CycleID: view.CycleID, Reason: "low premium search timeout"}
	}

	best := p.scan(ctx, view)
	if best == nil {
		return nil
	}

	// Re-check the phase after the scan; a concurrent transition (another
	// handler, the timeout path) may have won in the meantime.
	if !p.state.BeginLowPremium() {
		return nil
	}

	p.logger.InfoContext(ctx, "low premium leg started",
		slog.String("cycle_id", view.CycleID),
		slog.String("symbol", best.symbol),
		slog.Float64("expected_net_krw", best.result.NetKRW),
		slog.Float64("required_net_krw", view.RequiredNetKRW),
	)

	if err := p.executeLeg(ctx, view, best); err != nil {
		p.completion.Fail(ctx, view.CycleID, err.Error())
		return &LegResult{Kind: ResultFailure, CycleID: view.CycleID, Reason: err.Error()}
	}

	if err := p.completion.Complete(ctx, view.CycleID); err != nil {
		p.logger.WarnContext(ctx, "completion report failed",
			slog.String("cycle_id", view.CycleID),
			slog.String("error", err.Error()),
		)
	}
	return &LegResult{Kind: ResultSuccess, CycleID: view.CycleID, NextPhase: PhaseIdle}
}

// scan returns the highest-net-profit candidate clearing the required
// profit, or nil. The comparison against the requirement is >=, so a
// negative requirement admits a bounded loss; among qualifiers the strict >
// comparison keeps the first-seen candidate on ties.
func (p *LowPremiumProcessor) scan(ctx context.Context, view LowPremiumView) *lpCandidate {
	rate := p.rates.USDTToKRW()
	if rate <= 0 {
		return nil
	}

	var best *lpCandidate
	for _, symbol := range p.cfg.Symbols {
		if symbol == view.HPSymbol {
			continue
		}
		local, err := p.prices.GetTicker(ctx, domain.VenueUpbit, symbol)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				p.logger.WarnContext(ctx, "local ticker read failed",
					slog.String("symbol", symbol),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		global, err := p.prices.GetTicker(ctx, domain.VenueBinance, symbol)
		if err != nil {
			continue
		}
		if local.Price <= 0 || global.Price <= 0 {
			continue
		}

		amount := view.HPInvestmentKRW / local.Price
		res, err := p.schedule.Evaluate(fees.DirectionLowPremium, symbol, amount, local.Price, global.Price, rate)
		if err != nil {
			p.logger.WarnContext(ctx, "fee evaluation failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		if res.NetKRW < view.RequiredNetKRW {
			continue
		}
		if best == nil || res.NetKRW > best.result.NetKRW {
			best = &lpCandidate{
				symbol:      symbol,
				localPrice:  local.Price,
				globalPrice: global.Price,
				amount:      amount,
				result:      res,
			}
		}
	}
	return best
}

// executeLeg runs buy → transfer → sell in the low-premium direction and
// persists the completed cycle. The cycle must reach COMPLETED in storage or
// the attempt is a failure.
func (p *LowPremiumProcessor) executeLeg(ctx context.Context, view LowPremiumView, cand *lpCandidate) error {
	cycle, err := p.cycles.GetByID(ctx, view.CycleID)
	if err != nil {
		return fmt.Errorf("get cycle: %w", err)
	}

	// Buy on the local venue: spend the carried-over investment as a market buy.
	buy, err := p.exch.PlaceOrder(ctx, domain.VenueUpbit, cand.symbol, domain.OrderTypeMarket, domain.OrderSideBuy, 0, view.HPInvestmentKRW)
	if err != nil {
		return fmt.Errorf("local buy: %w", err)
	}
	buy, err = p.settle.WaitOrder(ctx, domain.VenueUpbit, buy.ID, cand.symbol)
	if err != nil {
		return err
	}

	// Transfer to the global venue.
	addr, err := p.exch.GetDepositAddress(ctx, domain.VenueBinance, cand.symbol)
	if err != nil {
		return fmt.Errorf("deposit address: %w", err)
	}
	if _, err := p.exch.Withdraw(ctx, domain.VenueUpbit, cand.symbol, addr.Address, buy.FilledAmount, "", addr.Tag); err != nil {
		return fmt.Errorf("withdraw: %w", err)
	}
	arriving := buy.FilledAmount - p.schedule.TransferFee(cand.symbol)
	if err := p.settle.WaitDeposit(ctx, domain.VenueBinance, cand.symbol, arriving); err != nil {
		return err
	}

	// Sell on the global venue.
	sell, err := p.exch.PlaceOrder(ctx, domain.VenueBinance, cand.symbol, domain.OrderTypeMarket, domain.OrderSideSell, arriving, 0)
	if err != nil {
		return fmt.Errorf("global sell: %w", err)
	}
	sell, err = p.settle.WaitOrder(ctx, domain.VenueBinance, sell.ID, cand.symbol)
	if err != nil {
		return err
	}

	rate := p.rates.USDTToKRW()
	buyPrice := buy.FilledPrice
	if buyPrice <= 0 {
		buyPrice = cand.localPrice
	}
	sellPrice := sell.FilledPrice
	if sellPrice <= 0 {
		sellPrice = cand.globalPrice
	}
	actual, err := p.schedule.Evaluate(fees.DirectionLowPremium, cand.symbol, buy.FilledAmount, buyPrice, sellPrice, rate)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	cycle.Status = domain.CycleCompleted
	cycle.LPSymbol = cand.symbol
	cycle.LPBuyPrice = buyPrice
	cycle.LPSellPrice = sellPrice
	cycle.LPAmount = buy.FilledAmount
	cycle.LPFees = actual.Fees
	cycle.LPNetKRW = actual.NetKRW
	cycle.LPNetUSD = actual.NetUSD
	cycle.TotalNetKRW = cycle.HPNetKRW + actual.NetKRW
	cycle.TotalNetUSD = cycle.HPNetUSD + actual.NetUSD
	if cycle.InvestmentKRW != 0 {
		cycle.TotalNetPct = cycle.TotalNetKRW / cycle.InvestmentKRW * 100
	}
	cycle.ClosedAt = &now
	if err := p.cycles.Update(ctx, cycle); err != nil {
		return fmt.Errorf("persist completed: %w", err)
	}

	persisted, err := p.cycles.GetByID(ctx, cycle.ID)
	if err != nil {
		return fmt.Errorf("re-read cycle: %w", err)
	}
	if persisted.Status != domain.CycleCompleted {
		return fmt.Errorf("expected status %s after leg 2, found %s", domain.CycleCompleted, persisted.Status)
	}
	return nil
}
