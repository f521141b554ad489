package fees

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchedule() Schedule {
	return Schedule{
		LocalTradeFeePct:  0.05,
		GlobalTradeFeePct: 0.1,
		HedgeOpenFeePct:   0.02,
		HedgeCloseFeePct:  0.02,
		TransferFees:      map[string]float64{"XRP": 1.0},
	}
}

func TestEvaluateHighPremium(t *testing.T) {
	s := testSchedule()

	res, err := s.Evaluate(DirectionHighPremium, "XRP", 100, 710, 0.50, 1400)
	require.NoError(t, err)

	// Buy 100 at 0.50*1400 = 70,000 KRW; sell at 710*100 = 71,000 KRW.
	assert.InDelta(t, 1000, res.GrossKRW, 1e-9)
	assert.InDelta(t, 70000, res.InvestmentKRW, 1e-9)
	assert.InDelta(t, res.GrossKRW-res.TotalFeeKRW, res.NetKRW, 1e-9)
	assert.InDelta(t, res.NetKRW/res.InvestmentKRW*100, res.NetPct, 1e-9)
	assert.InDelta(t, res.NetKRW/1400, res.NetUSD, 1e-9)

	// Itemized fees.
	assert.InDelta(t, 70000*0.001, res.Fees.BuyTradeFee, 1e-9)
	assert.InDelta(t, 71000*0.0005, res.Fees.SellTradeFee, 1e-9)
	assert.InDelta(t, 1.0*710, res.Fees.TransferFee, 1e-9)
}

func TestEvaluateZeroGross(t *testing.T) {
	s := testSchedule()

	// localPrice exactly equals globalPrice*rate: gross is 0, net is the
	// small negative fee total.
	res, err := s.Evaluate(DirectionHighPremium, "BTC", 100, 700, 0.50, 1400)
	require.NoError(t, err)

	assert.InDelta(t, 0, res.GrossKRW, 1e-9)
	assert.Negative(t, res.NetKRW)
	assert.Negative(t, res.NetPct)
	assert.InDelta(t, -res.TotalFeeKRW, res.NetKRW, 1e-9)
}

func TestEvaluateLowPremium(t *testing.T) {
	s := testSchedule()

	// Buy local at 690 KRW, sell global at 0.50 USDT with rate 1400 → 700 KRW.
	res, err := s.Evaluate(DirectionLowPremium, "XRP", 100, 690, 0.50, 1400)
	require.NoError(t, err)

	assert.InDelta(t, 1000, res.GrossKRW, 1e-9)
	assert.InDelta(t, 69000, res.InvestmentKRW, 1e-9)
	assert.InDelta(t, 1.0*0.50*1400, res.Fees.TransferFee, 1e-9)
	assert.InDelta(t, res.GrossKRW-res.TotalFeeKRW, res.NetKRW, 1e-9)
}

func TestEvaluateZeroInvestment(t *testing.T) {
	s := testSchedule()

	res, err := s.Evaluate(DirectionHighPremium, "BTC", 0, 710, 0.50, 1400)
	require.NoError(t, err)
	assert.Zero(t, res.NetPct)
}

func TestEvaluateUnknownDirection(t *testing.T) {
	s := testSchedule()

	_, err := s.Evaluate(Direction(99), "BTC", 1, 710, 0.50, 1400)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown direction")
}

func TestTransferFeeDefaultsToZero(t *testing.T) {
	s := testSchedule()
	assert.Zero(t, s.TransferFee("DOGE"))
}

func TestSpreadPct(t *testing.T) {
	assert.InDelta(t, 1.4285714, SpreadPct(710, 0.50, 1400), 1e-6)
	assert.Zero(t, SpreadPct(710, 0, 1400))
}
