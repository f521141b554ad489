package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minsukang/kimchibot/internal/domain"
	"github.com/minsukang/kimchibot/internal/spread"
)

func newFlowHarness(t *testing.T, cfg FlowConfig, maxCycles int) (*harness, *FlowManager) {
	t.Helper()
	h := newHarness(t,
		HighPremiumConfig{
			InvestmentStrategy:   InvestFixedAmount,
			FixedAmountKRW:       1_400_000,
			OverallTargetPct:     1.0,
			Simulated:            true,
			SimInitialCapitalKRW: 5_000_000,
		},
		LowPremiumConfig{Symbols: cfg.Symbols, SearchTimeout: time.Hour},
		zeroFees(),
	)
	eval := spread.NewEvaluator(zeroFees(), fixedRate{v: 1400}, h.prices, spread.Config{
		MinNetProfitPct: 0.5,
		MinVolumeKRW:    1_000_000,
		MaxSlippagePct:  10,
	}, testLogger())
	cfg.MaxCycles = maxCycles
	fm := NewFlowManager(h.state, eval, h.hp, h.lp, cfg, testLogger())
	return h, fm
}

func seedSymbol(t *testing.T, h *harness, symbol string, localPrice, globalPrice float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.prices.SetTicker(ctx, domain.VenueUpbit, symbol, domain.Ticker{Price: localPrice, Volume24h: 1e12, At: time.Now()}))
	require.NoError(t, h.prices.SetTicker(ctx, domain.VenueBinance, symbol, domain.Ticker{Price: globalPrice, Volume24h: 1e12, At: time.Now()}))
	h.exch.setPrice(domain.VenueUpbit, symbol, localPrice)
	h.exch.setPrice(domain.VenueBinance, symbol, globalPrice)
}

func TestFlowCommitsBestCandidateAtExpiry(t *testing.T) {
	ctx := context.Background()
	h, fm := newFlowHarness(t, FlowConfig{
		Symbols:        []string{"XRP", "DOGE"},
		DecisionWindow: 50 * time.Millisecond,
	}, 0)

	// XRP nets about 1.43%, DOGE about 3.57%.
	seedSymbol(t, h, "XRP", 710, 0.5)
	seedSymbol(t, h, "DOGE", 725, 0.5)

	fm.OnPriceUpdate(ctx, domain.VenueUpbit, "XRP")
	require.Equal(t, PhaseDecisionWindow, h.state.Phase())
	assert.Equal(t, "XRP", h.state.BestCandidate().Symbol)

	fm.OnPriceUpdate(ctx, domain.VenueUpbit, "DOGE")
	assert.Equal(t, "DOGE", h.state.BestCandidate().Symbol)

	// At the hard deadline the best candidate, not the first, is committed
	// and leg 1 runs through to AwaitingLowPremium.
	require.Eventually(t, func() bool {
		return h.state.Phase() == PhaseAwaitingLowPremium
	}, 2*time.Second, 5*time.Millisecond)

	view, ok := h.state.LowPremiumSnapshot()
	require.True(t, ok)
	cycle, err := h.cycles.GetByID(ctx, view.CycleID)
	require.NoError(t, err)
	assert.Equal(t, "DOGE", cycle.HPSymbol)
	assert.Equal(t, domain.CycleAwaitingLP, cycle.Status)
}

func TestFlowIgnoresUnwatchedSymbols(t *testing.T) {
	ctx := context.Background()
	h, fm := newFlowHarness(t, FlowConfig{
		Symbols:        []string{"XRP"},
		DecisionWindow: time.Hour,
	}, 0)
	seedSymbol(t, h, "BTC", 100_000_000, 50_000)

	fm.OnPriceUpdate(ctx, domain.VenueUpbit, "BTC")
	assert.Equal(t, PhaseIdle, h.state.Phase())
}

func TestFlowNoWindowBelowThreshold(t *testing.T) {
	ctx := context.Background()
	h, fm := newFlowHarness(t, FlowConfig{
		Symbols:        []string{"XRP"},
		DecisionWindow: time.Hour,
	}, 0)

	// No premium at all: 0.5 USDT at 1400 KRW/USDT is exactly 700 KRW.
	seedSymbol(t, h, "XRP", 700, 0.5)

	fm.OnPriceUpdate(ctx, domain.VenueUpbit, "XRP")
	assert.Equal(t, PhaseIdle, h.state.Phase())
}

func TestFlowStopsAtMaxCycles(t *testing.T) {
	ctx := context.Background()
	h, fm := newFlowHarness(t, FlowConfig{
		Symbols:        []string{"XRP"},
		DecisionWindow: 10 * time.Millisecond,
	}, 1)
	seedSymbol(t, h, "XRP", 710, 0.5)
	h.exch.fail["Withdraw"] = errors.New("wallet maintenance")

	fm.OnPriceUpdate(ctx, domain.VenueUpbit, "XRP")
	require.Equal(t, PhaseDecisionWindow, h.state.Phase())

	require.Eventually(t, func() bool {
		return h.state.Phase() == PhaseStopped
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), fm.ClosedCycles())

	// Stopped is terminal: further updates open nothing.
	fm.OnPriceUpdate(ctx, domain.VenueUpbit, "XRP")
	assert.Equal(t, PhaseStopped, h.state.Phase())
}
