package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/minsukang/kimchibot/internal/domain"
)

// Sim is an in-memory venue pair for dry runs. Market orders fill instantly
// fully at the last cached price for the venue; balances start from the
// configured capital and track fills so the funds gate behaves realistically.
type Sim struct {
	prices domain.PriceCache

	mu       sync.Mutex
	orders   map[string]domain.Order
	balances map[domain.Venue]map[string]float64
}

// NewSim creates a simulated exchange with the given starting capital.
func NewSim(prices domain.PriceCache, initialKRW, initialUSDT float64) *Sim {
	return &Sim{
		prices: prices,
		orders: map[string]domain.Order{},
		balances: map[domain.Venue]map[string]float64{
			domain.VenueUpbit:   {"KRW": initialKRW},
			domain.VenueBinance: {"USDT": initialUSDT},
		},
	}
}

func (s *Sim) quoteCurrency(venue domain.Venue) string {
	if venue == domain.VenueUpbit {
		return "KRW"
	}
	return "USDT"
}

func (s *Sim) PlaceOrder(ctx context.Context, venue domain.Venue, symbol string, typ domain.OrderType, side domain.OrderSide, amount, priceOrTotal float64) (domain.Order, error) {
	price, err := s.prices.LastPrice(ctx, venue, symbol)
	if err != nil {
		return domain.Order{}, fmt.Errorf("sim: no last price for %s on %s: %w", symbol, venue, err)
	}
	if price <= 0 {
		return domain.Order{}, fmt.Errorf("sim: non-positive price for %s on %s", symbol, venue)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	quote := s.quoteCurrency(venue)
	bal := s.balances[venue]

	order := domain.Order{
		ID:          uuid.New().String(),
		Venue:       venue,
		Symbol:      symbol,
		Side:        side,
		Type:        typ,
		FilledPrice: price,
		Status:      domain.OrderStatusFilled,
	}

	if side == domain.OrderSideBuy {
		spend := priceOrTotal
		if typ != domain.OrderTypeMarket {
			spend = amount * priceOrTotal
		}
		if bal[quote] < spend {
			return domain.Order{}, fmt.Errorf("sim: %w: %s %s", domain.ErrInsufficientFunds, quote, venue)
		}
		order.FilledAmount = spend / price
		bal[quote] -= spend
		bal[symbol] += order.FilledAmount
	} else {
		if bal[symbol] < amount {
			return domain.Order{}, fmt.Errorf("sim: %w: %s %s", domain.ErrInsufficientFunds, symbol, venue)
		}
		order.FilledAmount = amount
		bal[symbol] -= amount
		bal[quote] += amount * price
	}

	s.orders[order.ID] = order
	return order, nil
}

func (s *Sim) GetOrder(_ context.Context, _ domain.Venue, id, _ string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *Sim) GetBalances(_ context.Context, venue domain.Venue) ([]domain.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal := s.balances[venue]
	out := make([]domain.Balance, 0, len(bal))
	for currency, v := range bal {
		out = append(out, domain.Balance{Currency: currency, Balance: v, Available: v})
	}
	return out, nil
}

func (s *Sim) GetDepositAddress(_ context.Context, venue domain.Venue, symbol string) (domain.DepositAddress, error) {
	return domain.DepositAddress{Address: fmt.Sprintf("sim-%s-%s", venue, symbol)}, nil
}

// Withdraw moves the asset to the opposite venue immediately.
func (s *Sim) Withdraw(_ context.Context, venue domain.Venue, symbol, _ string, amount float64, _, _ string) (domain.WithdrawalReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.balances[venue]
	if from[symbol] < amount {
		return domain.WithdrawalReceipt{}, fmt.Errorf("sim: %w: %s %s", domain.ErrInsufficientFunds, symbol, venue)
	}
	target := domain.VenueBinance
	if venue == domain.VenueBinance {
		target = domain.VenueUpbit
	}
	from[symbol] -= amount
	s.balances[target][symbol] += amount
	return domain.WithdrawalReceipt{ID: uuid.New().String()}, nil
}

func (s *Sim) GetWithdrawalFee(context.Context, domain.Venue, string) (float64, error) {
	return 0, nil
}

// Compile-time interface check.
var _ domain.Exchange = (*Sim)(nil)
