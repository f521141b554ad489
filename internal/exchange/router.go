package exchange

import (
	"context"
	"fmt"

	"github.com/minsukang/kimchibot/internal/domain"
)

// Router implements domain.Exchange by dispatching each call to the venue's
// client.
type Router struct {
	upbit   *Upbit
	binance *Binance
}

// NewRouter creates a Router over the two venue clients.
func NewRouter(upbit *Upbit, binance *Binance) *Router {
	return &Router{upbit: upbit, binance: binance}
}

func (r *Router) PlaceOrder(ctx context.Context, venue domain.Venue, symbol string, typ domain.OrderType, side domain.OrderSide, amount, priceOrTotal float64) (domain.Order, error) {
	switch venue {
	case domain.VenueUpbit:
		return r.upbit.PlaceOrder(ctx, symbol, typ, side, amount, priceOrTotal)
	case domain.VenueBinance:
		return r.binance.PlaceOrder(ctx, symbol, typ, side, amount, priceOrTotal)
	default:
		return domain.Order{}, fmt.Errorf("exchange: %w: %s", domain.ErrUnknownVenue, venue)
	}
}

func (r *Router) GetOrder(ctx context.Context, venue domain.Venue, id, symbol string) (domain.Order, error) {
	switch venue {
	case domain.VenueUpbit:
		return r.upbit.GetOrder(ctx, id, symbol)
	case domain.VenueBinance:
		return r.binance.GetOrder(ctx, id, symbol)
	default:
		return domain.Order{}, fmt.Errorf("exchange: %w: %s", domain.ErrUnknownVenue, venue)
	}
}

func (r *Router) GetBalances(ctx context.Context, venue domain.Venue) ([]domain.Balance, error) {
	switch venue {
	case domain.VenueUpbit:
		return r.upbit.GetBalances(ctx)
	case domain.VenueBinance:
		return r.binance.GetBalances(ctx)
	default:
		return nil, fmt.Errorf("exchange: %w: %s", domain.ErrUnknownVenue, venue)
	}
}

func (r *Router) GetDepositAddress(ctx context.Context, venue domain.Venue, symbol string) (domain.DepositAddress, error) {
	switch venue {
	case domain.VenueUpbit:
		return r.upbit.GetDepositAddress(ctx, symbol)
	case domain.VenueBinance:
		return r.binance.GetDepositAddress(ctx, symbol)
	default:
		return domain.DepositAddress{}, fmt.Errorf("exchange: %w: %s", domain.ErrUnknownVenue, venue)
	}
}

func (r *Router) Withdraw(ctx context.Context, venue domain.Venue, symbol, address string, amount float64, network, tag string) (domain.WithdrawalReceipt, error) {
	switch venue {
	case domain.VenueUpbit:
		return r.upbit.Withdraw(ctx, symbol, address, amount, network, tag)
	case domain.VenueBinance:
		return r.binance.Withdraw(ctx, symbol, address, amount, network, tag)
	default:
		return domain.WithdrawalReceipt{}, fmt.Errorf("exchange: %w: %s", domain.ErrUnknownVenue, venue)
	}
}

func (r *Router) GetWithdrawalFee(ctx context.Context, venue domain.Venue, symbol string) (float64, error) {
	switch venue {
	case domain.VenueUpbit:
		return r.upbit.GetWithdrawalFee(ctx, symbol)
	case domain.VenueBinance:
		return r.binance.GetWithdrawalFee(ctx, symbol)
	default:
		return 0, fmt.Errorf("exchange: %w: %s", domain.ErrUnknownVenue, venue)
	}
}

// Compile-time interface check.
var _ domain.Exchange = (*Router)(nil)
