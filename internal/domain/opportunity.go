package domain

import "time"

// Opportunity is an admissible high-premium entry produced by the spread
// evaluator. It is ephemeral: consumed by the flow manager during a decision
// window or discarded, never persisted.
type Opportunity struct {
	Symbol       string
	LocalPrice   float64 // KRW
	GlobalPrice  float64 // USDT
	Rate         float64 // USDT→KRW used for the evaluation
	SpreadPct    float64
	NetProfitKRW float64
	NetProfitPct float64
	DetectedAt   time.Time
}
