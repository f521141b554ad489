package engine

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/minsukang/kimchibot/internal/domain"
)

// SettlementWaiter abstracts how the engine waits for an order to fill and
// for a cross-venue transfer to land. The real implementation polls the
// exchange; the simulation substitutes a timed delay. Selection is a wiring
// decision, never a branch inside the processors.
type SettlementWaiter interface {
	// WaitOrder blocks until the order settles and returns its final state.
	WaitOrder(ctx context.Context, venue domain.Venue, orderID, symbol string) (domain.Order, error)
	// WaitDeposit blocks until at least minAvailable of currency is
	// available on the venue.
	WaitDeposit(ctx context.Context, venue domain.Venue, currency string, minAvailable float64) error
}

// PollSettlement waits by polling the exchange at a fixed interval up to a
// deadline.
type PollSettlement struct {
	exch     domain.Exchange
	interval time.Duration
	timeout  time.Duration
}

// NewPollSettlement creates a polling waiter.
func NewPollSettlement(exch domain.Exchange, interval, timeout time.Duration) *PollSettlement {
	return &PollSettlement{exch: exch, interval: interval, timeout: timeout}
}

// WaitOrder polls GetOrder until the order is filled. A cancelled or failed
// order, or the deadline elapsing, is an error.
func (p *PollSettlement) WaitOrder(ctx context.Context, venue domain.Venue, orderID, symbol string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		order, err := p.exch.GetOrder(ctx, venue, orderID, symbol)
		if err != nil {
			return domain.Order{}, fmt.Errorf("settlement: get order %s on %s: %w", orderID, venue, err)
		}
		switch order.Status {
		case domain.OrderStatusFilled:
			return order, nil
		case domain.OrderStatusCancelled, domain.OrderStatusFailed:
			return domain.Order{}, fmt.Errorf("settlement: order %s on %s ended %s", orderID, venue, order.Status)
		}

		select {
		case <-ctx.Done():
			return domain.Order{}, fmt.Errorf("settlement: order %s on %s: %w", orderID, venue, ctx.Err())
		case <-ticker.C:
		}
	}
}

// WaitDeposit polls balances until the asset is available.
func (p *PollSettlement) WaitDeposit(ctx context.Context, venue domain.Venue, currency string, minAvailable float64) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		balances, err := p.exch.GetBalances(ctx, venue)
		if err != nil {
			return fmt.Errorf("settlement: balances on %s: %w", venue, err)
		}
		for _, b := range balances {
			if b.Currency == currency && b.Available >= minAvailable {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("settlement: deposit %s on %s: %w", currency, venue, ctx.Err())
		case <-ticker.C:
		}
	}
}

// SimulatedSettlement stands in for real asynchronous confirmation with a
// fixed base delay plus jitter. Orders are read back once after the delay so
// the caller still observes the simulated exchange's fill.
type SimulatedSettlement struct {
	exch   domain.Exchange
	base   time.Duration
	jitter time.Duration
}

// NewSimulatedSettlement creates a simulated waiter.
func NewSimulatedSettlement(exch domain.Exchange, base, jitter time.Duration) *SimulatedSettlement {
	return &SimulatedSettlement{exch: exch, base: base, jitter: jitter}
}

func (s *SimulatedSettlement) sleep(ctx context.Context) error {
	d := s.base
	if s.jitter > 0 {
		d += time.Duration(rand.Int63n(int64(s.jitter)))
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// WaitOrder sleeps for the configured delay and reads the order back.
func (s *SimulatedSettlement) WaitOrder(ctx context.Context, venue domain.Venue, orderID, symbol string) (domain.Order, error) {
	if err := s.sleep(ctx); err != nil {
		return domain.Order{}, fmt.Errorf("settlement: %w", err)
	}
	order, err := s.exch.GetOrder(ctx, venue, orderID, symbol)
	if err != nil {
		return domain.Order{}, fmt.Errorf("settlement: get order %s on %s: %w", orderID, venue, err)
	}
	return order, nil
}

// WaitDeposit sleeps for the configured delay.
func (s *SimulatedSettlement) WaitDeposit(ctx context.Context, _ domain.Venue, _ string, _ float64) error {
	if err := s.sleep(ctx); err != nil {
		return fmt.Errorf("settlement: %w", err)
	}
	return nil
}
