package domain

import "time"

// CycleStatus is the persisted lifecycle state of an arbitrage cycle.
type CycleStatus string

const (
	CycleStarted      CycleStatus = "STARTED"
	CycleInProgress   CycleStatus = "IN_PROGRESS"
	CycleHPSold       CycleStatus = "HP_SOLD"
	CycleAwaitingLP   CycleStatus = "AWAITING_LP"
	CycleCompleted    CycleStatus = "COMPLETED"
	CycleFailed       CycleStatus = "FAILED"
	CycleTargetMissed CycleStatus = "HP_ONLY_TARGET_MISSED"
)

// Terminal reports whether the status closes the cycle for good.
func (s CycleStatus) Terminal() bool {
	switch s {
	case CycleCompleted, CycleFailed, CycleTargetMissed:
		return true
	default:
		return false
	}
}

// Recoverable reports whether a cycle interrupted in this status can be
// resumed after a restart. Only cycles whose first leg has fully settled
// qualify; anything interrupted mid-execution has unknown exchange-side
// effects and must not be resumed.
func (s CycleStatus) Recoverable() bool {
	return s == CycleHPSold || s == CycleAwaitingLP
}

// FeeBreakdown itemizes the costs of one leg. All values are KRW.
type FeeBreakdown struct {
	BuyTradeFee   float64
	SellTradeFee  float64
	HedgeOpenFee  float64
	HedgeCloseFee float64
	TransferFee   float64
}

// Total returns the sum of all itemized fees.
func (f FeeBreakdown) Total() float64 {
	return f.BuyTradeFee + f.SellTradeFee + f.HedgeOpenFee + f.HedgeCloseFee + f.TransferFee
}

// Cycle is one persisted two-leg arbitrage attempt: a high-premium leg (buy
// on the global venue, transfer, sell on the local venue) followed by a
// low-premium leg in the opposite direction. Leg-2 fields stay zero until the
// first leg has settled and the cycle has passed HP_SOLD.
type Cycle struct {
	ID     string
	Status CycleStatus

	// Leg 1: high premium.
	HPSymbol      string
	HPBuyPrice    float64 // global venue, USDT
	HPSellPrice   float64 // local venue, KRW
	HPRate        float64 // USDT→KRW at entry
	HPAmount      float64
	HPSpreadPct   float64
	HPFees        FeeBreakdown
	HPNetKRW      float64
	HPNetUSD      float64
	HPCompletedAt *time.Time

	// Leg 2: low premium.
	LPSymbol    string
	LPBuyPrice  float64 // local venue, KRW
	LPSellPrice float64 // global venue, USDT
	LPAmount    float64
	LPFees      FeeBreakdown
	LPNetKRW    float64
	LPNetUSD    float64

	// Aggregates.
	InvestmentKRW float64
	InvestmentUSD float64
	TotalNetKRW   float64
	TotalNetUSD   float64
	TotalNetPct   float64

	ErrorDetails string
	CreatedAt    time.Time
	ClosedAt     *time.Time
}

// PortfolioSnapshot records the total capital at a point in time. The latest
// snapshot is the engine's notion of current capital; it is bootstrapped once
// from the exchange (or the configured simulation constant) and thereafter
// updated when cycles close.
type PortfolioSnapshot struct {
	ID        int64
	TotalKRW  float64
	TotalUSD  float64
	Source    string // "exchange", "simulated", "cycle_close", "scheduled"
	CreatedAt time.Time
}
