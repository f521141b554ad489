package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minsukang/kimchibot/internal/domain"
	"github.com/minsukang/kimchibot/internal/notify"
)

func TestHighPremiumProcessHappyPath(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		HighPremiumConfig{
			InvestmentStrategy:   InvestFixedAmount,
			FixedAmountKRW:       1_400_000,
			OverallTargetPct:     1.0,
			Simulated:            true,
			SimInitialCapitalKRW: 5_000_000,
		},
		LowPremiumConfig{Symbols: []string{"XRP"}, SearchTimeout: time.Hour},
		zeroFees(),
	)
	h.exch.setPrice(domain.VenueBinance, "XRP", 0.5)
	h.exch.setPrice(domain.VenueUpbit, "XRP", 710)

	o := &domain.Opportunity{
		Symbol:      "XRP",
		LocalPrice:  710,
		GlobalPrice: 0.5,
		Rate:        1400,
		SpreadPct:   1.43,
		DetectedAt:  time.Now().UTC(),
	}
	cand := h.commitOpportunity(t, o)

	res := h.hp.Process(ctx, cand)
	require.True(t, res.Success())
	require.NotEmpty(t, res.CycleID)
	assert.Equal(t, PhaseAwaitingLowPremium, h.state.Phase())

	cycle, err := h.cycles.GetByID(ctx, res.CycleID)
	require.NoError(t, err)
	assert.Equal(t, domain.CycleAwaitingLP, cycle.Status)
	assert.Equal(t, "XRP", cycle.HPSymbol)
	assert.Equal(t, 1_400_000.0, cycle.InvestmentKRW)
	assert.InDelta(t, 1000.0, cycle.InvestmentUSD, 1e-9)
	// 2000 coins bought at 700 KRW equivalent and sold at 710, no fees.
	assert.InDelta(t, 2000.0, cycle.HPAmount, 1e-9)
	assert.InDelta(t, 20_000.0, cycle.HPNetKRW, 1e-6)
	require.NotNil(t, cycle.HPCompletedAt)

	// Target is 1% of 1,400,000 = 14,000, already exceeded by leg 1.
	view, ok := h.state.LowPremiumSnapshot()
	require.True(t, ok)
	assert.InDelta(t, -6_000.0, view.RequiredNetKRW, 1e-6)
	assert.Equal(t, 1400.0, view.HPRate)
	assert.Equal(t, "XRP", view.HPSymbol)

	// First run bootstraps the simulated capital snapshot.
	snap, err := h.portfolio.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5_000_000.0, snap.TotalKRW)
	assert.Equal(t, "simulated", snap.Source)
}

func TestHighPremiumProcessFailureMarksCycleFailed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		HighPremiumConfig{
			InvestmentStrategy:   InvestFixedAmount,
			FixedAmountKRW:       1_400_000,
			OverallTargetPct:     0.5,
			Simulated:            true,
			SimInitialCapitalKRW: 5_000_000,
		},
		LowPremiumConfig{Symbols: []string{"XRP"}, SearchTimeout: time.Hour},
		zeroFees(),
	)
	h.exch.setPrice(domain.VenueBinance, "XRP", 0.5)
	h.exch.setPrice(domain.VenueUpbit, "XRP", 710)
	h.exch.fail["Withdraw"] = errors.New("wallet maintenance")

	cand := h.commitOpportunity(t, &domain.Opportunity{
		Symbol: "XRP", LocalPrice: 710, GlobalPrice: 0.5, Rate: 1400,
	})
	res := h.hp.Process(ctx, cand)
	require.False(t, res.Success())
	require.NotEmpty(t, res.CycleID)

	cycle, err := h.cycles.GetByID(ctx, res.CycleID)
	require.NoError(t, err)
	assert.Equal(t, domain.CycleFailed, cycle.Status)
	assert.Contains(t, cycle.ErrorDetails, "withdraw")

	assert.Equal(t, PhaseIdle, h.state.Phase())
	assert.True(t, h.notifier.has(notify.EventCycleFailed))
}

func TestHighPremiumNonPositiveInvestment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		HighPremiumConfig{
			InvestmentStrategy:   InvestFixedAmount,
			FixedAmountKRW:       0,
			OverallTargetPct:     0.5,
			Simulated:            true,
			SimInitialCapitalKRW: 5_000_000,
		},
		LowPremiumConfig{},
		zeroFees(),
	)
	cand := h.commitOpportunity(t, &domain.Opportunity{
		Symbol: "XRP", LocalPrice: 710, GlobalPrice: 0.5, Rate: 1400,
	})
	res := h.hp.Process(ctx, cand)
	require.False(t, res.Success())
	assert.Empty(t, res.CycleID)
	assert.Equal(t, PhaseIdle, h.state.Phase())
}

func TestPlannedInvestmentStrategies(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name string
		cfg  HighPremiumConfig
		want float64
	}{
		{
			name: "fixed amount ignores capital",
			cfg:  HighPremiumConfig{InvestmentStrategy: InvestFixedAmount, FixedAmountKRW: 1_000_000},
			want: 1_000_000,
		},
		{
			name: "percentage of capital",
			cfg:  HighPremiumConfig{InvestmentStrategy: InvestPercentage, InvestmentPct: 50},
			want: 2_500_000,
		},
		{
			name: "full capital",
			cfg:  HighPremiumConfig{InvestmentStrategy: InvestFull},
			want: 5_000_000,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.cfg, LowPremiumConfig{}, zeroFees())
			_, err := h.portfolio.Create(ctx, domain.PortfolioSnapshot{TotalKRW: 5_000_000, Source: "simulated"})
			require.NoError(t, err)

			got, err := h.hp.PlannedInvestment(ctx)
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestPlannedInvestmentSurfacesSnapshotStoreError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, HighPremiumConfig{
		InvestmentStrategy:   InvestFixedAmount,
		FixedAmountKRW:       1_000_000,
		Simulated:            true,
		SimInitialCapitalKRW: 5_000_000,
	}, LowPremiumConfig{}, zeroFees())
	h.portfolio.latestErr = errors.New("connection reset by peer")

	_, err := h.hp.PlannedInvestment(ctx)
	require.Error(t, err)
	// A transient store error must not be mistaken for first-run and
	// trigger a fresh capital bootstrap.
	assert.Empty(t, h.portfolio.snaps)
}

func TestPercentageStrategyIsBounded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, HighPremiumConfig{InvestmentStrategy: InvestPercentage, InvestmentPct: 250}, LowPremiumConfig{}, zeroFees())
	_, err := h.portfolio.Create(ctx, domain.PortfolioSnapshot{TotalKRW: 2_000_000, Source: "simulated"})
	require.NoError(t, err)

	got, err := h.hp.PlannedInvestment(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2_000_000.0, got)
}

func TestValidateInvestmentStrategy(t *testing.T) {
	assert.NoError(t, ValidateInvestmentStrategy(InvestFixedAmount))
	assert.NoError(t, ValidateInvestmentStrategy(InvestPercentage))
	assert.NoError(t, ValidateInvestmentStrategy(InvestFull))
	assert.Error(t, ValidateInvestmentStrategy("martingale"))
}
