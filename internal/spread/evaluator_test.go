package spread

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minsukang/kimchibot/internal/domain"
	"github.com/minsukang/kimchibot/internal/fees"
)

type fakeRate struct{ rate float64 }

func (f fakeRate) USDTToKRW() float64 { return f.rate }

type fakePrices struct {
	tickers map[string]domain.Ticker
}

func (f *fakePrices) key(v domain.Venue, s string) string { return string(v) + ":" + s }

func (f *fakePrices) SetTicker(_ context.Context, v domain.Venue, s string, t domain.Ticker) error {
	if f.tickers == nil {
		f.tickers = map[string]domain.Ticker{}
	}
	f.tickers[f.key(v, s)] = t
	return nil
}

func (f *fakePrices) GetTicker(_ context.Context, v domain.Venue, s string) (domain.Ticker, error) {
	t, ok := f.tickers[f.key(v, s)]
	if !ok {
		return domain.Ticker{}, domain.ErrNotFound
	}
	return t, nil
}

func (f *fakePrices) LastPrice(ctx context.Context, v domain.Venue, s string) (float64, error) {
	t, err := f.GetTicker(ctx, v, s)
	return t.Price, err
}

func newEvaluator(prices *fakePrices, cfg Config) *Evaluator {
	schedule := fees.Schedule{
		LocalTradeFeePct:  0.05,
		GlobalTradeFeePct: 0.1,
		TransferFees:      map[string]float64{},
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	return NewEvaluator(schedule, fakeRate{rate: 1400}, prices, cfg, logger)
}

func seed(t *testing.T, p *fakePrices, symbol string, localPrice, globalPrice, volume float64) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, p.SetTicker(context.Background(), domain.VenueUpbit, symbol,
		domain.Ticker{Price: localPrice, Volume24h: volume, At: now}))
	require.NoError(t, p.SetTicker(context.Background(), domain.VenueBinance, symbol,
		domain.Ticker{Price: globalPrice, Volume24h: volume, At: now}))
}

func TestAssessProfitable(t *testing.T) {
	prices := &fakePrices{}
	// 740 KRW vs 0.50 USDT * 1400 = 700 KRW: ~5.7% premium.
	seed(t, prices, "XRP", 740, 0.50, 10_000_000_000)

	e := newEvaluator(prices, Config{MinNetProfitPct: 0.5, MinVolumeKRW: 1_000_000, MaxSlippagePct: 1.0})
	opp, err := e.Assess(context.Background(), "XRP", 1_000_000)
	require.NoError(t, err)
	require.NotNil(t, opp)

	assert.Equal(t, "XRP", opp.Symbol)
	assert.InDelta(t, 1400, opp.Rate, 1e-9)
	assert.Positive(t, opp.NetProfitPct)
	assert.InDelta(t, (740.0-700.0)/700.0*100, opp.SpreadPct, 1e-9)
}

func TestAssessBelowThreshold(t *testing.T) {
	prices := &fakePrices{}
	seed(t, prices, "XRP", 701, 0.50, 10_000_000_000)

	e := newEvaluator(prices, Config{MinNetProfitPct: 0.5, MinVolumeKRW: 0, MaxSlippagePct: 100})
	opp, err := e.Assess(context.Background(), "XRP", 1_000_000)
	require.NoError(t, err)
	assert.Nil(t, opp)
}

func TestAssessMissingPriceIsNotAnError(t *testing.T) {
	prices := &fakePrices{}
	// Only the local side is known.
	require.NoError(t, prices.SetTicker(context.Background(), domain.VenueUpbit, "SOL",
		domain.Ticker{Price: 200_000, Volume24h: 1e12, At: time.Now()}))

	e := newEvaluator(prices, Config{MinNetProfitPct: 0.1})
	opp, err := e.Assess(context.Background(), "SOL", 1_000_000)
	require.NoError(t, err)
	assert.Nil(t, opp)
}

func TestAssessVolumeFloor(t *testing.T) {
	prices := &fakePrices{}
	seed(t, prices, "XRP", 740, 0.50, 500_000) // thin market

	e := newEvaluator(prices, Config{MinNetProfitPct: 0.5, MinVolumeKRW: 1_000_000, MaxSlippagePct: 100})
	opp, err := e.Assess(context.Background(), "XRP", 100_000)
	require.NoError(t, err)
	assert.Nil(t, opp)
}

func TestAssessSlippageBound(t *testing.T) {
	prices := &fakePrices{}
	seed(t, prices, "XRP", 740, 0.50, 10_000_000)

	// Investment is 50% of 24h volume, far above a 1% slippage bound.
	e := newEvaluator(prices, Config{MinNetProfitPct: 0.5, MinVolumeKRW: 1_000_000, MaxSlippagePct: 1.0})
	opp, err := e.Assess(context.Background(), "XRP", 5_000_000)
	require.NoError(t, err)
	assert.Nil(t, opp)
}
