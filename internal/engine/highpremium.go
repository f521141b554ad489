package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/minsukang/kimchibot/internal/domain"
	"github.com/minsukang/kimchibot/internal/fees"
)

// Investment sizing strategies.
const (
	InvestFixedAmount = "fixed_amount"
	InvestPercentage  = "percentage"
	InvestFull        = "full"
)

// HighPremiumConfig holds the sizing and target parameters for leg 1.
type HighPremiumConfig struct {
	InvestmentStrategy   string
	FixedAmountKRW       float64
	InvestmentPct        float64 // bounded 0-100, used by InvestPercentage
	OverallTargetPct     float64
	Simulated            bool
	SimInitialCapitalKRW float64
}

// HighPremiumProcessor executes leg 1: sizing, buy on the global venue,
// transfer, sell on the local venue, persistence, and computation of the
// profit target remaining for leg 2.
type HighPremiumProcessor struct {
	state      *CycleState
	cycles     domain.CycleStore
	portfolio  domain.PortfolioStore
	exch       domain.Exchange
	settle     SettlementWaiter
	schedule   fees.Schedule
	completion *Completion
	cfg        HighPremiumConfig
	logger     *slog.Logger

	// Planned-investment probe cache, so price-tick assessment does not hit
	// the store on every update.
	probeMu sync.Mutex
	probe   float64
	probeAt time.Time
}

// NewHighPremiumProcessor creates the leg-1 processor.
func NewHighPremiumProcessor(
	state *CycleState,
	cycles domain.CycleStore,
	portfolio domain.PortfolioStore,
	exch domain.Exchange,
	settle SettlementWaiter,
	schedule fees.Schedule,
	completion *Completion,
	cfg HighPremiumConfig,
	logger *slog.Logger,
) *HighPremiumProcessor {
	return &HighPremiumProcessor{
		state:      state,
		cycles:     cycles,
		portfolio:  portfolio,
		exch:       exch,
		settle:     settle,
		schedule:   schedule,
		completion: completion,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "high_premium")),
	}
}

// ValidateInvestmentStrategy rejects unknown strategy values at startup.
func ValidateInvestmentStrategy(name string) error {
	switch name {
	case InvestFixedAmount, InvestPercentage, InvestFull:
		return nil
	default:
		return fmt.Errorf("engine: unknown investment strategy %q", name)
	}
}

// PlannedInvestment returns the KRW size the next leg-1 would commit, for use
// as the evaluator's probe amount. The value is cached briefly.
func (p *HighPremiumProcessor) PlannedInvestment(ctx context.Context) (float64, error) {
	p.probeMu.Lock()
	if !p.probeAt.IsZero() && time.Since(p.probeAt) < 30*time.Second {
		v := p.probe
		p.probeMu.Unlock()
		return v, nil
	}
	p.probeMu.Unlock()

	capital, err := p.totalCapital(ctx)
	if err != nil {
		return 0, err
	}
	inv := p.investmentSize(capital)

	p.probeMu.Lock()
	p.probe = inv
	p.probeAt = time.Now()
	p.probeMu.Unlock()
	return inv, nil
}

// Process runs leg 1 for the committed opportunity. The state machine is
// already in HighPremiumProcessing when this is called (the decision window
// commit made that transition). On success the state carries the required
// low-premium profit into AwaitingLowPremium; on any failure the cycle is
// marked FAILED and state resets to idle.
func (p *HighPremiumProcessor) Process(ctx context.Context, opp *domain.Opportunity) LegResult {
	capital, err := p.totalCapital(ctx)
	if err != nil {
		return p.fail(ctx, "", fmt.Sprintf("determine capital: %v", err))
	}
	investment := p.investmentSize(capital)
	if investment <= 0 {
		return p.fail(ctx, "", fmt.Sprintf("non-positive investment %0.f KRW from capital %.0f", investment, capital))
	}

	amount := investment / (opp.GlobalPrice * opp.Rate)
	expected, err := p.schedule.Evaluate(fees.DirectionHighPremium, opp.Symbol, amount, opp.LocalPrice, opp.GlobalPrice, opp.Rate)
	if err != nil {
		return p.fail(ctx, "", err.Error())
	}

	cycle := domain.Cycle{
		ID:            uuid.New().String(),
		Status:        domain.CycleStarted,
		HPSymbol:      opp.Symbol,
		HPBuyPrice:    opp.GlobalPrice,
		HPSellPrice:   opp.LocalPrice,
		HPRate:        opp.Rate,
		HPAmount:      amount,
		HPSpreadPct:   opp.SpreadPct,
		InvestmentKRW: investment,
		InvestmentUSD: investment / opp.Rate,
		CreatedAt:     time.Now().UTC(),
	}
	if err := p.cycles.Create(ctx, cycle); err != nil {
		return p.fail(ctx, "", fmt.Sprintf("persist cycle: %v", err))
	}
	p.state.BindCycle(cycle.ID)

	p.logger.InfoContext(ctx, "high premium leg started",
		slog.String("cycle_id", cycle.ID),
		slog.String("symbol", opp.Symbol),
		slog.Float64("investment_krw", investment),
		slog.Float64("expected_net_pct", expected.NetPct),
	)

	actual, err := p.executeLeg(ctx, &cycle, opp)
	if err != nil {
		return p.fail(ctx, cycle.ID, err.Error())
	}

	// The persisted status must confirm settlement before leg 2 may ever
	// start; anything else is an invariant violation, not a silent continue.
	persisted, err := p.cycles.GetByID(ctx, cycle.ID)
	if err != nil {
		return p.fail(ctx, cycle.ID, fmt.Sprintf("re-read cycle: %v", err))
	}
	if persisted.Status != domain.CycleHPSold {
		return p.fail(ctx, cycle.ID, fmt.Sprintf("expected status %s after leg 1, found %s", domain.CycleHPSold, persisted.Status))
	}

	// Leg 2 must recover the remainder of the overall target. This may be
	// negative when leg 1 already exceeded it, meaning leg 2 may run at a
	// bounded loss.
	required := investment*p.cfg.OverallTargetPct/100 - actual.NetKRW
	if !p.state.AwaitLowPremium(required, opp.Rate, opp.Symbol, investment) {
		// Defensive guard: out-of-order transition attempt, keep current phase.
		return LegResult{Kind: ResultSuccess, CycleID: cycle.ID, NextPhase: p.state.Phase()}
	}

	// Persist the phase so a crash between legs resumes here.
	persisted.Status = domain.CycleAwaitingLP
	if err := p.cycles.Update(ctx, persisted); err != nil {
		p.logger.WarnContext(ctx, "persist awaiting_lp status failed",
			slog.String("cycle_id", cycle.ID),
			slog.String("error", err.Error()),
		)
	}

	p.logger.InfoContext(ctx, "high premium leg settled",
		slog.String("cycle_id", cycle.ID),
		slog.Float64("net_krw", actual.NetKRW),
		slog.Float64("required_lp_net_krw", required),
	)
	return LegResult{Kind: ResultSuccess, CycleID: cycle.ID, NextPhase: PhaseAwaitingLowPremium}
}

// executeLeg runs buy → transfer → sell and persists the leg-1 outcome as
// HP_SOLD. It returns the fee-model result at actual fill prices.
func (p *HighPremiumProcessor) executeLeg(ctx context.Context, cycle *domain.Cycle, opp *domain.Opportunity) (fees.Result, error) {
	cycle.Status = domain.CycleInProgress
	if err := p.cycles.Update(ctx, *cycle); err != nil {
		return fees.Result{}, fmt.Errorf("persist in_progress: %w", err)
	}

	// Buy on the global venue: spend the full USDT notional as a market buy.
	spendUSDT := cycle.HPAmount * opp.GlobalPrice
	buy, err := p.exch.PlaceOrder(ctx, domain.VenueBinance, cycle.HPSymbol, domain.OrderTypeMarket, domain.OrderSideBuy, 0, spendUSDT)
	if err != nil {
		return fees.Result{}, fmt.Errorf("global buy: %w", err)
	}
	buy, err = p.settle.WaitOrder(ctx, domain.VenueBinance, buy.ID, cycle.HPSymbol)
	if err != nil {
		return fees.Result{}, err
	}

	// Transfer to the local venue.
	addr, err := p.exch.GetDepositAddress(ctx, domain.VenueUpbit, cycle.HPSymbol)
	if err != nil {
		return fees.Result{}, fmt.Errorf("deposit address: %w", err)
	}
	transferFee := p.schedule.TransferFee(cycle.HPSymbol)
	sendAmount := buy.FilledAmount
	if _, err := p.exch.Withdraw(ctx, domain.VenueBinance, cycle.HPSymbol, addr.Address, sendAmount, "", addr.Tag); err != nil {
		return fees.Result{}, fmt.Errorf("withdraw: %w", err)
	}
	arriving := sendAmount - transferFee
	if err := p.settle.WaitDeposit(ctx, domain.VenueUpbit, cycle.HPSymbol, arriving); err != nil {
		return fees.Result{}, err
	}

	// Sell on the local venue.
	sell, err := p.exch.PlaceOrder(ctx, domain.VenueUpbit, cycle.HPSymbol, domain.OrderTypeMarket, domain.OrderSideSell, arriving, 0)
	if err != nil {
		return fees.Result{}, fmt.Errorf("local sell: %w", err)
	}
	sell, err = p.settle.WaitOrder(ctx, domain.VenueUpbit, sell.ID, cycle.HPSymbol)
	if err != nil {
		return fees.Result{}, err
	}

	buyPrice := buy.FilledPrice
	if buyPrice <= 0 {
		buyPrice = opp.GlobalPrice
	}
	sellPrice := sell.FilledPrice
	if sellPrice <= 0 {
		sellPrice = opp.LocalPrice
	}
	actual, err := p.schedule.Evaluate(fees.DirectionHighPremium, cycle.HPSymbol, buy.FilledAmount, sellPrice, buyPrice, opp.Rate)
	if err != nil {
		return fees.Result{}, err
	}

	now := time.Now().UTC()
	cycle.Status = domain.CycleHPSold
	cycle.HPBuyPrice = buyPrice
	cycle.HPSellPrice = sellPrice
	cycle.HPAmount = buy.FilledAmount
	cycle.HPFees = actual.Fees
	cycle.HPNetKRW = actual.NetKRW
	cycle.HPNetUSD = actual.NetUSD
	cycle.HPCompletedAt = &now
	if err := p.cycles.Update(ctx, *cycle); err != nil {
		return fees.Result{}, fmt.Errorf("persist hp_sold: %w", err)
	}
	return actual, nil
}

// totalCapital returns current total capital, reusing the latest persisted
// snapshot; on first run it bootstraps from the live exchange balance (real
// mode) or the configured constant (simulation), persisting the bootstrap so
// it is never recomputed.
func (p *HighPremiumProcessor) totalCapital(ctx context.Context) (float64, error) {
	snap, err := p.portfolio.Latest(ctx)
	if err == nil {
		return snap.TotalKRW, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return 0, fmt.Errorf("latest snapshot: %w", err)
	}

	var totalKRW float64
	source := "exchange"
	if p.cfg.Simulated {
		totalKRW = p.cfg.SimInitialCapitalKRW
		source = "simulated"
	} else {
		balances, err := p.exch.GetBalances(ctx, domain.VenueUpbit)
		if err != nil {
			return 0, fmt.Errorf("bootstrap balance: %w", err)
		}
		for _, b := range balances {
			if b.Currency == "KRW" {
				totalKRW += b.Balance
			}
		}
	}

	if _, err := p.portfolio.Create(ctx, domain.PortfolioSnapshot{
		TotalKRW: totalKRW,
		Source:   source,
	}); err != nil {
		return 0, fmt.Errorf("persist bootstrap snapshot: %w", err)
	}
	p.logger.InfoContext(ctx, "capital bootstrapped",
		slog.Float64("total_krw", totalKRW),
		slog.String("source", source),
	)
	return totalKRW, nil
}

func (p *HighPremiumProcessor) investmentSize(capital float64) float64 {
	switch p.cfg.InvestmentStrategy {
	case InvestFixedAmount:
		return p.cfg.FixedAmountKRW
	case InvestPercentage:
		pct := p.cfg.InvestmentPct
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		return capital * pct / 100
	default:
		return capital
	}
}

func (p *HighPremiumProcessor) fail(ctx context.Context, cycleID, reason string) LegResult {
	p.completion.Fail(ctx, cycleID, reason)
	return LegResult{Kind: ResultFailure, CycleID: cycleID, Reason: reason}
}
