package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/minsukang/kimchibot/internal/domain"
	"github.com/minsukang/kimchibot/internal/fees"
	"github.com/minsukang/kimchibot/internal/notify"
)

// ---------------------------------------------------------------------------
// In-memory fakes shared by the engine tests.
// ---------------------------------------------------------------------------

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type memCycles struct {
	mu sync.Mutex
	m  map[string]domain.Cycle
}

func newMemCycles() *memCycles { return &memCycles{m: map[string]domain.Cycle{}} }

func (s *memCycles) Create(_ context.Context, c domain.Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[c.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.m[c.ID] = c
	return nil
}

func (s *memCycles) Update(_ context.Context, c domain.Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[c.ID]; !ok {
		return domain.ErrNotFound
	}
	s.m[c.ID] = c
	return nil
}

func (s *memCycles) MarkFailed(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.m[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Status = domain.CycleFailed
	c.ErrorDetails = reason
	s.m[id] = c
	return nil
}

func (s *memCycles) GetByID(_ context.Context, id string) (domain.Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.m[id]
	if !ok {
		return domain.Cycle{}, domain.ErrNotFound
	}
	return c, nil
}

func (s *memCycles) ListIncomplete(_ context.Context) ([]domain.Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Cycle
	for _, c := range s.m {
		if !c.Status.Terminal() {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memCycles) ListRecent(_ context.Context, limit int) ([]domain.Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Cycle
	for _, c := range s.m {
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type memPortfolio struct {
	mu        sync.Mutex
	snaps     []domain.PortfolioSnapshot
	latestErr error
}

func (s *memPortfolio) Create(_ context.Context, snap domain.PortfolioSnapshot) (domain.PortfolioSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap.ID = int64(len(s.snaps) + 1)
	snap.CreatedAt = time.Now().UTC()
	s.snaps = append(s.snaps, snap)
	return snap, nil
}

func (s *memPortfolio) Latest(_ context.Context) (domain.PortfolioSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latestErr != nil {
		return domain.PortfolioSnapshot{}, s.latestErr
	}
	if len(s.snaps) == 0 {
		return domain.PortfolioSnapshot{}, domain.ErrNotFound
	}
	return s.snaps[len(s.snaps)-1], nil
}

type memPrices struct {
	mu sync.Mutex
	m  map[string]domain.Ticker
}

func newMemPrices() *memPrices { return &memPrices{m: map[string]domain.Ticker{}} }

func (p *memPrices) SetTicker(_ context.Context, v domain.Venue, s string, t domain.Ticker) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[string(v)+":"+s] = t
	return nil
}

func (p *memPrices) GetTicker(_ context.Context, v domain.Venue, s string) (domain.Ticker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.m[string(v)+":"+s]
	if !ok {
		return domain.Ticker{}, domain.ErrNotFound
	}
	return t, nil
}

func (p *memPrices) LastPrice(ctx context.Context, v domain.Venue, s string) (float64, error) {
	t, err := p.GetTicker(ctx, v, s)
	return t.Price, err
}

type fixedRate struct{ v float64 }

func (r fixedRate) USDTToKRW() float64 { return r.v }

// fakeExchange fills market orders instantly at the configured per-venue
// prices and reports plentiful balances.
type fakeExchange struct {
	mu     sync.Mutex
	prices map[string]float64 // venue:symbol -> price
	orders map[string]domain.Order
	fail   map[string]error // op name -> forced error
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		prices: map[string]float64{},
		orders: map[string]domain.Order{},
		fail:   map[string]error{},
	}
}

func (e *fakeExchange) setPrice(v domain.Venue, symbol string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[string(v)+":"+symbol] = price
}

func (e *fakeExchange) PlaceOrder(_ context.Context, venue domain.Venue, symbol string, typ domain.OrderType, side domain.OrderSide, amount, priceOrTotal float64) (domain.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fail["PlaceOrder"]; err != nil {
		return domain.Order{}, err
	}
	price := e.prices[string(venue)+":"+symbol]
	if price <= 0 {
		return domain.Order{}, fmt.Errorf("no price for %s on %s", symbol, venue)
	}
	o := domain.Order{
		ID:     uuid.New().String(),
		Venue:  venue,
		Symbol: symbol,
		Side:   side,
		Type:   typ,
		Status: domain.OrderStatusFilled,
	}
	if typ == domain.OrderTypeMarket && side == domain.OrderSideBuy {
		o.FilledAmount = priceOrTotal / price
	} else {
		o.FilledAmount = amount
	}
	o.FilledPrice = price
	e.orders[o.ID] = o
	return o, nil
}

func (e *fakeExchange) GetOrder(_ context.Context, _ domain.Venue, id, _ string) (domain.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (e *fakeExchange) GetBalances(_ context.Context, _ domain.Venue) ([]domain.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fail["GetBalances"]; err != nil {
		return nil, err
	}
	return []domain.Balance{
		{Currency: "KRW", Balance: 1_500_000, Available: 1_500_000},
		{Currency: "USDT", Balance: 1_000_000, Available: 1_000_000},
	}, nil
}

func (e *fakeExchange) GetDepositAddress(_ context.Context, venue domain.Venue, symbol string) (domain.DepositAddress, error) {
	return domain.DepositAddress{Address: string(venue) + "-" + symbol + "-addr"}, nil
}

func (e *fakeExchange) Withdraw(_ context.Context, _ domain.Venue, _, _ string, _ float64, _, _ string) (domain.WithdrawalReceipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fail["Withdraw"]; err != nil {
		return domain.WithdrawalReceipt{}, err
	}
	return domain.WithdrawalReceipt{ID: uuid.New().String()}, nil
}

func (e *fakeExchange) GetWithdrawalFee(_ context.Context, _ domain.Venue, _ string) (float64, error) {
	return 0, nil
}

// instantSettle settles immediately: orders are read back as placed and
// deposits are assumed to have landed.
type instantSettle struct{ exch domain.Exchange }

func (s instantSettle) WaitOrder(ctx context.Context, venue domain.Venue, orderID, symbol string) (domain.Order, error) {
	return s.exch.GetOrder(ctx, venue, orderID, symbol)
}

func (s instantSettle) WaitDeposit(context.Context, domain.Venue, string, float64) error {
	return nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	events  []notify.Event
	reports []notify.CycleReport
}

func (n *recordingNotifier) NotifyCycle(_ context.Context, event notify.Event, report notify.CycleReport) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	n.reports = append(n.reports, report)
	return nil
}

func (n *recordingNotifier) has(event notify.Event) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == event {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Harness wiring a full engine around the fakes.
// ---------------------------------------------------------------------------

type harness struct {
	state     *CycleState
	cycles    *memCycles
	portfolio *memPortfolio
	prices    *memPrices
	exch      *fakeExchange
	notifier  *recordingNotifier
	hp        *HighPremiumProcessor
	lp        *LowPremiumProcessor
	comp      *Completion
}

func zeroFees() fees.Schedule {
	return fees.Schedule{TransferFees: map[string]float64{}}
}

func newHarness(t *testing.T, hpCfg HighPremiumConfig, lpCfg LowPremiumConfig, schedule fees.Schedule) *harness {
	t.Helper()
	logger := testLogger()
	h := &harness{
		state:     NewCycleState(logger),
		cycles:    newMemCycles(),
		portfolio: &memPortfolio{},
		prices:    newMemPrices(),
		exch:      newFakeExchange(),
		notifier:  &recordingNotifier{},
	}
	settle := instantSettle{exch: h.exch}
	h.comp = NewCompletion(h.state, h.cycles, h.portfolio, h.notifier, nil, logger)
	h.hp = NewHighPremiumProcessor(h.state, h.cycles, h.portfolio, h.exch, settle, schedule, h.comp, hpCfg, logger)
	h.lp = NewLowPremiumProcessor(h.state, h.cycles, h.exch, settle, schedule, fixedRate{v: 1400}, h.prices, h.comp, lpCfg, logger)
	return h
}

// commitOpportunity walks the state machine to HighPremiumProcessing the way
// a decision window commit would.
func (h *harness) commitOpportunity(t *testing.T, opp *domain.Opportunity) *domain.Opportunity {
	t.Helper()
	require.True(t, h.state.OpenDecisionWindow(opp, time.Hour, func() {}))
	cand := h.state.CommitWindow()
	require.NotNil(t, cand)
	return cand
}
