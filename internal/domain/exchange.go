package domain

import "context"

// Venue identifies a trading venue.
type Venue string

const (
	VenueUpbit   Venue = "upbit"   // local venue, KRW quoted
	VenueBinance Venue = "binance" // global venue, USDT quoted
)

// OrderSide is buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType is the order execution style.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus is the venue-reported state of an order.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFailed    OrderStatus = "failed"
)

// Order is a venue order as reported by the exchange.
type Order struct {
	ID           string
	Venue        Venue
	Symbol       string
	Side         OrderSide
	Type         OrderType
	Price        float64 // quote currency of the venue
	Amount       float64 // base asset quantity requested
	FilledAmount float64
	FilledPrice  float64 // average fill price
	FeePaid      float64 // quote currency of the venue
	Status       OrderStatus
}

// Balance is one currency balance on a venue.
type Balance struct {
	Currency  string
	Balance   float64
	Locked    float64
	Available float64
}

// DepositAddress is a venue deposit address for an asset.
type DepositAddress struct {
	Address string
	Tag     string
}

// WithdrawalReceipt identifies a submitted withdrawal.
type WithdrawalReceipt struct {
	ID string
}

// Exchange is the narrow capability contract the engine consumes. Any call
// may fail with a venue error; the engine treats such failures as leg
// failures and does not retry inline.
type Exchange interface {
	// PlaceOrder submits an order. For market buys priceOrTotal is the total
	// quote amount to spend and amount is ignored; for everything else amount
	// is the base quantity and priceOrTotal the limit price.
	PlaceOrder(ctx context.Context, venue Venue, symbol string, typ OrderType, side OrderSide, amount, priceOrTotal float64) (Order, error)
	GetOrder(ctx context.Context, venue Venue, id, symbol string) (Order, error)
	GetBalances(ctx context.Context, venue Venue) ([]Balance, error)
	GetDepositAddress(ctx context.Context, venue Venue, symbol string) (DepositAddress, error)
	Withdraw(ctx context.Context, venue Venue, symbol, address string, amount float64, network, tag string) (WithdrawalReceipt, error)
	GetWithdrawalFee(ctx context.Context, venue Venue, symbol string) (float64, error)
}

// RateSource exposes the USDT→KRW exchange rate. Implementations refresh on
// their own schedule and fall back to the last known value on fetch failure,
// so reads never fail.
type RateSource interface {
	USDTToKRW() float64
}
