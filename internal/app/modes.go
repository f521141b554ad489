package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/minsukang/kimchibot/internal/domain"
	"github.com/minsukang/kimchibot/internal/engine"
	"github.com/minsukang/kimchibot/internal/feed"
	"github.com/minsukang/kimchibot/internal/server"
	"github.com/minsukang/kimchibot/internal/session"
	"github.com/minsukang/kimchibot/internal/spread"
)

// TradeMode runs the full cycle engine against the real venues.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	return a.runCycles(ctx, deps, a.cfg.Server.Enabled)
}

// SimulateMode runs the cycle engine against the in-memory venue pair,
// driven by the real market feeds.
func (a *App) SimulateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting simulate mode",
		slog.Float64("initial_krw", a.cfg.Engine.SimInitialCapitalKRW),
		slog.Float64("initial_usdt", a.cfg.Engine.SimInitialUSDT),
	)
	return a.runCycles(ctx, deps, a.cfg.Server.Enabled)
}

// FullMode is trade mode with the HTTP server always on.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.runCycles(ctx, deps, true)
}

// MonitorMode runs the feeds and the spread evaluator without placing
// orders: observed opportunities are logged, and the HTTP server is always
// started for API consumption.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	eval := spread.NewEvaluator(feeSchedule(a.cfg.Fees), deps.Rates, deps.Prices, spread.Config{
		MinNetProfitPct: a.cfg.Engine.MinNetProfitPct,
		MinVolumeKRW:    a.cfg.Engine.MinVolumeKRW,
		MaxSlippagePct:  a.cfg.Engine.MaxSlippagePct,
	}, a.logger)

	notional := a.cfg.Engine.FixedAmountKRW
	if notional <= 0 {
		notional = a.cfg.Session.PerCycleKRW
	}

	onTick := func(ctx context.Context, venue domain.Venue, symbol string) {
		opp, err := eval.Assess(ctx, symbol, notional)
		if err != nil || opp == nil {
			return
		}
		a.logger.InfoContext(ctx, "opportunity observed",
			slog.String("symbol", opp.Symbol),
			slog.Float64("spread_pct", opp.SpreadPct),
			slog.Float64("net_profit_krw", opp.NetProfitKRW),
			slog.Float64("net_profit_pct", opp.NetProfitPct),
		)
	}
	a.startFeeds(ctx, g, deps, onTick)
	a.startCron(ctx, g, deps, nil)
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// runCycles starts the executing subsystems shared by trade, simulate, and
// full mode: crash recovery, the session manager, both market feeds, the
// scheduled jobs, and optionally the HTTP server.
func (a *App) runCycles(ctx context.Context, deps *Dependencies, serveHTTP bool) error {
	g, ctx := errgroup.WithContext(ctx)

	mgr := session.NewManager(deps.Sessions, deps.Cycles, deps.Funds, deps.Exchange,
		a.runnerFactory(deps), session.Config{
			MaxSessions: a.cfg.Session.MaxSessions,
			Priority:    a.cfg.Session.Priority,
			PerCycleKRW: a.cfg.Session.PerCycleKRW,
			FundsTTL:    a.cfg.Session.FundsTTL.Duration,
			MaxCycles:   a.cfg.Engine.MaxCycles,
		}, a.logger)

	// Resume any cycle that crashed after its leg-1 sale settled.
	states, err := engine.Recover(ctx, deps.Cycles, a.cfg.Engine.OverallTargetPct, a.logger)
	if err != nil {
		return fmt.Errorf("app: recover cycles: %w", err)
	}
	if err := mgr.Adopt(ctx, states); err != nil {
		return fmt.Errorf("app: adopt recovered cycles: %w", err)
	}

	a.startFeeds(ctx, g, deps, mgr.OnPriceUpdate)
	a.startCron(ctx, g, deps, mgr)
	if serveHTTP {
		a.startHTTPServer(ctx, g, deps)
	}

	if err := deps.Notifier.Announce(ctx, "kimchibot started", fmt.Sprintf(
		"mode %s, %d symbols, %d recovered cycle(s)", a.cfg.Mode, len(a.cfg.Engine.Symbols), len(states),
	)); err != nil {
		a.logger.Warn("startup announcement failed", slog.String("error", err.Error()))
	}

	return g.Wait()
}

// runnerFactory builds the per-session engine bundle: one state machine
// surrounded by its evaluator, both leg processors, and completion.
func (a *App) runnerFactory(deps *Dependencies) session.RunnerFactory {
	schedule := feeSchedule(a.cfg.Fees)
	simulated := a.cfg.Mode == "simulate"

	return func(state *engine.CycleState) *session.Runner {
		comp := engine.NewCompletion(state, deps.Cycles, deps.Portfolio, deps.Notifier, nil, a.logger)
		hp := engine.NewHighPremiumProcessor(state, deps.Cycles, deps.Portfolio, deps.Exchange,
			deps.Settle, schedule, comp, engine.HighPremiumConfig{
				InvestmentStrategy:   a.cfg.Engine.InvestmentStrategy,
				FixedAmountKRW:       a.cfg.Engine.FixedAmountKRW,
				InvestmentPct:        a.cfg.Engine.InvestmentPct,
				OverallTargetPct:     a.cfg.Engine.OverallTargetPct,
				Simulated:            simulated,
				SimInitialCapitalKRW: a.cfg.Engine.SimInitialCapitalKRW,
			}, a.logger)
		lp := engine.NewLowPremiumProcessor(state, deps.Cycles, deps.Exchange, deps.Settle,
			schedule, deps.Rates, deps.Prices, comp, engine.LowPremiumConfig{
				Symbols:       a.cfg.Engine.Symbols,
				SearchTimeout: a.cfg.Engine.LPSearchTimeout.Duration,
			}, a.logger)
		eval := spread.NewEvaluator(schedule, deps.Rates, deps.Prices, spread.Config{
			MinNetProfitPct: a.cfg.Engine.MinNetProfitPct,
			MinVolumeKRW:    a.cfg.Engine.MinVolumeKRW,
			MaxSlippagePct:  a.cfg.Engine.MaxSlippagePct,
		}, a.logger)
		flow := engine.NewFlowManager(state, eval, hp, lp, engine.FlowConfig{
			Symbols:        a.cfg.Engine.Symbols,
			DecisionWindow: a.cfg.Engine.DecisionWindow.Duration,
			MaxCycles:      a.cfg.Engine.MaxCycles,
		}, a.logger)
		return &session.Runner{State: state, Flow: flow, LP: lp}
	}
}

// startFeeds adds both streaming feed goroutines to the errgroup.
func (a *App) startFeeds(ctx context.Context, g *errgroup.Group, deps *Dependencies, onTick feed.TickHandler) {
	upbitFeed := feed.NewUpbitFeed(a.cfg.Upbit.WsURL, a.cfg.Engine.Symbols, deps.Prices, onTick, a.logger)
	g.Go(func() error {
		return upbitFeed.Run(ctx)
	})

	binanceFeed := feed.NewBinanceFeed(a.cfg.Binance.WsURL, a.cfg.Engine.Symbols, deps.Prices, onTick, a.logger)
	g.Go(func() error {
		return binanceFeed.Run(ctx)
	})
}

// startCron registers the scheduled jobs: the FX rate refresh, the session
// scheduler tick (when a manager is running), and the daily portfolio
// snapshot (when a venue client exists to read balances from).
func (a *App) startCron(ctx context.Context, g *errgroup.Group, deps *Dependencies, mgr *session.Manager) {
	c := cron.New()

	refresh := a.cfg.Rate.RefreshInterval.Duration
	if refresh <= 0 {
		refresh = time.Minute
	}
	_, err := c.AddFunc(fmt.Sprintf("@every %s", refresh), func() {
		jobCtx, cancel := context.WithTimeout(ctx, refresh)
		defer cancel()
		if err := deps.Rates.Refresh(jobCtx); err != nil {
			a.logger.WarnContext(jobCtx, "rate refresh failed",
				slog.String("error", err.Error()),
			)
		}
	})
	if err != nil {
		a.logger.WarnContext(ctx, "rate refresh job not scheduled",
			slog.String("error", err.Error()),
		)
	}

	if mgr != nil {
		tick := a.cfg.Session.TickInterval.Duration
		if tick <= 0 {
			tick = time.Second
		}
		if _, err := c.AddFunc(fmt.Sprintf("@every %s", tick), func() {
			mgr.Tick(ctx)
		}); err != nil {
			a.logger.WarnContext(ctx, "session tick job not scheduled",
				slog.String("error", err.Error()),
			)
		}
	}

	if deps.Exchange != nil && a.cfg.Notify.SnapshotCron != "" {
		if _, err := c.AddFunc(a.cfg.Notify.SnapshotCron, func() {
			a.recordScheduledSnapshot(ctx, deps)
		}); err != nil {
			a.logger.WarnContext(ctx, "portfolio snapshot job not scheduled",
				slog.String("cron", a.cfg.Notify.SnapshotCron),
				slog.String("error", err.Error()),
			)
		}
	}

	// Prime the rate before the first scheduled refresh fires.
	if err := deps.Rates.Refresh(ctx); err != nil {
		a.logger.WarnContext(ctx, "initial rate refresh failed, using configured fallback",
			slog.String("error", err.Error()),
		)
	}

	c.Start()
	g.Go(func() error {
		<-ctx.Done()
		stopCtx := c.Stop()
		<-stopCtx.Done()
		return ctx.Err()
	})
}

// recordScheduledSnapshot values both venues' holdings and persists the
// total as a "scheduled" portfolio snapshot. Assets without a cached price
// are skipped rather than valued at zero mid-transfer.
func (a *App) recordScheduledSnapshot(ctx context.Context, deps *Dependencies) {
	var totalKRW, totalUSD float64
	for _, venue := range []domain.Venue{domain.VenueUpbit, domain.VenueBinance} {
		balances, err := deps.Exchange.GetBalances(ctx, venue)
		if err != nil {
			a.logger.WarnContext(ctx, "scheduled snapshot skipped",
				slog.String("venue", string(venue)),
				slog.String("error", err.Error()),
			)
			return
		}
		for _, b := range balances {
			switch b.Currency {
			case "KRW":
				totalKRW += b.Balance
			case "USDT":
				totalUSD += b.Balance
			default:
				price, err := deps.Prices.LastPrice(ctx, venue, b.Currency)
				if err != nil {
					continue
				}
				if venue == domain.VenueUpbit {
					totalKRW += b.Balance * price
				} else {
					totalUSD += b.Balance * price
				}
			}
		}
	}

	snap, err := deps.Portfolio.Create(ctx, domain.PortfolioSnapshot{
		TotalKRW:  totalKRW,
		TotalUSD:  totalUSD,
		Source:    "scheduled",
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		a.logger.WarnContext(ctx, "scheduled snapshot failed",
			slog.String("error", err.Error()),
		)
		return
	}
	a.logger.InfoContext(ctx, "portfolio snapshot recorded",
		slog.Int64("id", snap.ID),
		slog.Float64("total_krw", snap.TotalKRW),
		slog.Float64("total_usd", snap.TotalUSD),
	)
}

// startHTTPServer adds the HTTP server and its shutdown watcher to the
// errgroup.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	h := server.NewHandler(deps.Cycles, deps.Sessions, deps.Portfolio, deps.Rates, a.cfg.Mode, a.logger)
	srv := server.NewServer(server.Config{Port: a.cfg.Server.Port}, h, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
