// Package fees implements the fee- and slippage-aware profitability model.
// Evaluate is a pure function: it converts through the caller-supplied
// exchange rate and never fetches one itself, so every profitability figure
// is reproducible and side-effect free.
package fees

import (
	"fmt"

	"github.com/minsukang/kimchibot/internal/domain"
)

// Direction selects which venue is bought versus sold and which fee schedule
// applies.
type Direction int

const (
	// DirectionHighPremium buys on the global venue (USDT), transfers, and
	// sells on the local venue (KRW).
	DirectionHighPremium Direction = iota + 1
	// DirectionLowPremium buys on the local venue (KRW), transfers, and
	// sells on the global venue (USDT).
	DirectionLowPremium
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionHighPremium:
		return "high_premium"
	case DirectionLowPremium:
		return "low_premium"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Schedule holds the fee rates for both venues. Trade and hedge fees are
// percentages of leg notional; transfer fees are flat per-asset amounts in
// base-asset units, looked up by symbol and defaulting to zero for unknown
// symbols.
type Schedule struct {
	LocalTradeFeePct  float64
	GlobalTradeFeePct float64
	HedgeOpenFeePct   float64
	HedgeCloseFeePct  float64
	TransferFees      map[string]float64
}

// TransferFee returns the flat transfer fee for a symbol in base-asset units.
func (s Schedule) TransferFee(symbol string) float64 {
	return s.TransferFees[symbol]
}

// Result is the outcome of one leg evaluation. All monetary figures are KRW
// unless suffixed otherwise.
type Result struct {
	GrossKRW      float64
	TotalFeeKRW   float64
	NetKRW        float64
	NetUSD        float64
	NetPct        float64
	InvestmentKRW float64
	Fees          domain.FeeBreakdown
}

// Evaluate computes gross and net profit for a leg of the given direction.
// localPrice is the local-venue price in KRW, globalPrice the global-venue
// price in USDT, rate the USDT→KRW conversion, amount the base quantity.
//
// Gross profit is (sell-side − buy-side) × amount with both sides expressed
// in KRW through rate. Net percent is net over the leg's initial investment,
// defined as 0 when the investment is 0. An unrecognized direction is a
// configuration error and fails loudly.
func (s Schedule) Evaluate(dir Direction, symbol string, amount, localPrice, globalPrice, rate float64) (Result, error) {
	globalKRW := globalPrice * rate

	var res Result
	switch dir {
	case DirectionHighPremium:
		buyNotional := globalKRW * amount
		sellNotional := localPrice * amount
		res.GrossKRW = sellNotional - buyNotional
		res.InvestmentKRW = buyNotional
		res.Fees = domain.FeeBreakdown{
			BuyTradeFee:   buyNotional * s.GlobalTradeFeePct / 100,
			SellTradeFee:  sellNotional * s.LocalTradeFeePct / 100,
			HedgeOpenFee:  buyNotional * s.HedgeOpenFeePct / 100,
			HedgeCloseFee: buyNotional * s.HedgeCloseFeePct / 100,
			TransferFee:   s.TransferFee(symbol) * localPrice,
		}

	case DirectionLowPremium:
		buyNotional := localPrice * amount
		sellNotional := globalKRW * amount
		res.GrossKRW = sellNotional - buyNotional
		res.InvestmentKRW = buyNotional
		res.Fees = domain.FeeBreakdown{
			BuyTradeFee:   buyNotional * s.LocalTradeFeePct / 100,
			SellTradeFee:  sellNotional * s.GlobalTradeFeePct / 100,
			HedgeOpenFee:  sellNotional * s.HedgeOpenFeePct / 100,
			HedgeCloseFee: sellNotional * s.HedgeCloseFeePct / 100,
			TransferFee:   s.TransferFee(symbol) * globalKRW,
		}

	default:
		return Result{}, fmt.Errorf("fees: unknown direction %d", int(dir))
	}

	res.TotalFeeKRW = res.Fees.Total()
	res.NetKRW = res.GrossKRW - res.TotalFeeKRW
	if rate > 0 {
		res.NetUSD = res.NetKRW / rate
	}
	if res.InvestmentKRW != 0 {
		res.NetPct = res.NetKRW / res.InvestmentKRW * 100
	}
	return res, nil
}

// SpreadPct returns the kimchi premium: the local price gap over the global
// price in KRW terms, as a percent of the global price.
func SpreadPct(localPrice, globalPrice, rate float64) float64 {
	globalKRW := globalPrice * rate
	if globalKRW == 0 {
		return 0
	}
	return (localPrice - globalKRW) / globalKRW * 100
}
