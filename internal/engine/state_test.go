package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minsukang/kimchibot/internal/domain"
)

func opp(symbol string, netPct float64) *domain.Opportunity {
	return &domain.Opportunity{
		Symbol:       symbol,
		LocalPrice:   710,
		GlobalPrice:  0.5,
		Rate:         1400,
		NetProfitPct: netPct,
		NetProfitKRW: netPct * 10_000,
		DetectedAt:   time.Now().UTC(),
	}
}

func TestDecisionWindowKeepsBestCandidate(t *testing.T) {
	s := NewCycleState(testLogger())

	require.True(t, s.OpenDecisionWindow(opp("XRP", 1.2), time.Hour, func() {}))
	assert.Equal(t, PhaseDecisionWindow, s.Phase())

	// A weaker candidate never displaces the current best.
	assert.False(t, s.Consider(opp("DOGE", 0.8)))
	assert.Equal(t, "XRP", s.BestCandidate().Symbol)

	// An equal candidate loses the tie to the first-seen one.
	assert.False(t, s.Consider(opp("ADA", 1.2)))
	assert.Equal(t, "XRP", s.BestCandidate().Symbol)

	// A strictly better candidate wins.
	assert.True(t, s.Consider(opp("TRX", 1.5)))
	assert.Equal(t, "TRX", s.BestCandidate().Symbol)

	cand := s.CommitWindow()
	require.NotNil(t, cand)
	assert.Equal(t, "TRX", cand.Symbol)
	assert.Equal(t, PhaseHighPremium, s.Phase())

	// The decision buffer is consumed by the commit.
	assert.Nil(t, s.BestCandidate())
}

func TestOpenDecisionWindowOnlyWhenIdle(t *testing.T) {
	s := NewCycleState(testLogger())
	require.True(t, s.OpenDecisionWindow(opp("XRP", 1.0), time.Hour, func() {}))
	assert.False(t, s.OpenDecisionWindow(opp("DOGE", 2.0), time.Hour, func() {}))
	assert.Equal(t, "XRP", s.BestCandidate().Symbol)
}

func TestDecisionWindowHardDeadline(t *testing.T) {
	s := NewCycleState(testLogger())
	fired := make(chan struct{})
	require.True(t, s.OpenDecisionWindow(opp("XRP", 1.0), 10*time.Millisecond, func() { close(fired) }))

	// New candidates keep arriving but nothing extends the deadline.
	s.Consider(opp("DOGE", 2.0))
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("decision window timer did not fire")
	}
}

func TestCommitWindowAfterResetReturnsNil(t *testing.T) {
	s := NewCycleState(testLogger())
	require.True(t, s.OpenDecisionWindow(opp("XRP", 1.0), time.Hour, func() {}))
	s.Reset()
	assert.Nil(t, s.CommitWindow())
	assert.Equal(t, PhaseIdle, s.Phase())
}

func TestBindCycleOnlyWhileProcessing(t *testing.T) {
	s := NewCycleState(testLogger())
	assert.False(t, s.BindCycle("c-1"))

	require.True(t, s.OpenDecisionWindow(opp("XRP", 1.0), time.Hour, func() {}))
	require.NotNil(t, s.CommitWindow())
	assert.True(t, s.BindCycle("c-1"))
	assert.Equal(t, "c-1", s.CycleID())
}

func TestAwaitLowPremiumRefusedOutOfOrder(t *testing.T) {
	s := NewCycleState(testLogger())
	assert.False(t, s.AwaitLowPremium(1000, 1400, "XRP", 1_500_000))

	_, ok := s.LowPremiumSnapshot()
	assert.False(t, ok)
}

func TestAwaitLowPremiumCarryOver(t *testing.T) {
	s := NewCycleState(testLogger())
	require.True(t, s.OpenDecisionWindow(opp("XRP", 1.0), time.Hour, func() {}))
	require.NotNil(t, s.CommitWindow())
	require.True(t, s.BindCycle("c-1"))
	require.True(t, s.AwaitLowPremium(-500, 1400, "XRP", 1_500_000))

	view, ok := s.LowPremiumSnapshot()
	require.True(t, ok)
	assert.Equal(t, "c-1", view.CycleID)
	assert.Equal(t, -500.0, view.RequiredNetKRW)
	assert.Equal(t, "XRP", view.HPSymbol)
	assert.Equal(t, 1_500_000.0, view.HPInvestmentKRW)
	assert.False(t, view.SearchStart.IsZero())

	require.True(t, s.BeginLowPremium())
	assert.Equal(t, PhaseLowPremium, s.Phase())

	// The snapshot is only readable while awaiting.
	_, ok = s.LowPremiumSnapshot()
	assert.False(t, ok)
	assert.False(t, s.BeginLowPremium())
}

func TestResumeFromRebuildsRequiredProfit(t *testing.T) {
	c := domain.Cycle{
		ID:            "c-9",
		Status:        domain.CycleAwaitingLP,
		HPSymbol:      "XRP",
		HPRate:        1400,
		HPNetKRW:      2000,
		InvestmentKRW: 1_500_000,
	}

	s, err := ResumeFrom(c, 0.1, testLogger())
	require.NoError(t, err)
	assert.Equal(t, PhaseAwaitingLowPremium, s.Phase())

	view, ok := s.LowPremiumSnapshot()
	require.True(t, ok)
	// Leg 1 already out-earned the overall target, so leg 2 may run at a
	// bounded loss.
	assert.InDelta(t, -500.0, view.RequiredNetKRW, 1e-9)
	assert.Equal(t, "c-9", view.CycleID)
	assert.Equal(t, 1400.0, view.HPRate)
}

func TestResumeFromRejectsNonRecoverableStatus(t *testing.T) {
	for _, status := range []domain.CycleStatus{
		domain.CycleStarted,
		domain.CycleInProgress,
		domain.CycleCompleted,
		domain.CycleFailed,
		domain.CycleTargetMissed,
	} {
		_, err := ResumeFrom(domain.Cycle{ID: "c-1", Status: status}, 0.5, testLogger())
		assert.Error(t, err, "status %s", status)
	}
}

func TestStopIsTerminal(t *testing.T) {
	s := NewCycleState(testLogger())
	s.Stop()
	assert.Equal(t, PhaseStopped, s.Phase())

	s.Reset()
	assert.Equal(t, PhaseStopped, s.Phase())
	assert.False(t, s.OpenDecisionWindow(opp("XRP", 1.0), time.Hour, func() {}))
}

func TestResetClearsCarryOver(t *testing.T) {
	s := NewCycleState(testLogger())
	require.True(t, s.OpenDecisionWindow(opp("XRP", 1.0), time.Hour, func() {}))
	require.NotNil(t, s.CommitWindow())
	require.True(t, s.BindCycle("c-1"))
	require.True(t, s.AwaitLowPremium(750, 1400, "XRP", 1_500_000))

	s.Reset()
	assert.Equal(t, PhaseIdle, s.Phase())
	assert.Empty(t, s.CycleID())
	_, ok := s.LowPremiumSnapshot()
	assert.False(t, ok)
}
