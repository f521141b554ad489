package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/minsukang/kimchibot/internal/domain"
	"github.com/minsukang/kimchibot/internal/spread"
)

// FlowConfig holds the flow manager's arbitration parameters.
type FlowConfig struct {
	Symbols        []string
	DecisionWindow time.Duration
	// MaxCycles stops the machine for the process lifetime once this many
	// cycles have closed. Zero means unlimited.
	MaxCycles int
}

// FlowManager drives the cycle state machine from price-update events: it
// opens decision windows, arbitrates between competing opportunities, and
// dispatches to the leg processors. Handlers run concurrently; all phase
// arbitration is delegated to CycleState's check-and-set transitions.
type FlowManager struct {
	state  *CycleState
	eval   *spread.Evaluator
	hp     *HighPremiumProcessor
	lp     *LowPremiumProcessor
	cfg    FlowConfig
	logger *slog.Logger

	watched map[string]bool
	closed  atomic.Int64

	ctxMu  sync.Mutex
	runCtx context.Context
}

// NewFlowManager creates a FlowManager.
func NewFlowManager(state *CycleState, eval *spread.Evaluator, hp *HighPremiumProcessor, lp *LowPremiumProcessor, cfg FlowConfig, logger *slog.Logger) *FlowManager {
	watched := make(map[string]bool, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		watched[s] = true
	}
	return &FlowManager{
		state:   state,
		eval:    eval,
		hp:      hp,
		lp:      lp,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "flow_manager")),
		watched: watched,
	}
}

// Run blocks until the context is cancelled. It also provides the context
// used by decision-timer callbacks, which fire outside any feed handler.
func (f *FlowManager) Run(ctx context.Context) error {
	f.ctxMu.Lock()
	f.runCtx = ctx
	f.ctxMu.Unlock()

	f.logger.Info("flow manager started",
		slog.Int("symbols", len(f.cfg.Symbols)),
		slog.Duration("decision_window", f.cfg.DecisionWindow),
	)
	defer f.logger.Info("flow manager stopped")
	<-ctx.Done()
	return ctx.Err()
}

func (f *FlowManager) timerCtx() context.Context {
	f.ctxMu.Lock()
	defer f.ctxMu.Unlock()
	if f.runCtx != nil {
		return f.runCtx
	}
	return context.Background()
}

// OnPriceUpdate is the feed entry point. It assesses the updated symbol and
// advances whichever phase the machine is in. Slow work (leg execution)
// happens on the caller's goroutine, which the feeds dispatch independently
// of their delivery loop.
func (f *FlowManager) OnPriceUpdate(ctx context.Context, _ domain.Venue, symbol string) {
	if !f.watched[symbol] {
		return
	}

	switch f.state.Phase() {
	case PhaseIdle:
		f.maybeOpenWindow(ctx, symbol)
	case PhaseDecisionWindow:
		f.maybeImprove(ctx, symbol)
	case PhaseAwaitingLowPremium:
		if res := f.lp.TryAdvance(ctx); res != nil {
			f.noteClosed(res)
		}
	default:
		// In-flight or stopped; nothing to arbitrate.
	}
}

func (f *FlowManager) maybeOpenWindow(ctx context.Context, symbol string) {
	opp := f.assess(ctx, symbol)
	if opp == nil {
		return
	}
	if f.state.OpenDecisionWindow(opp, f.cfg.DecisionWindow, f.onWindowExpired) {
		f.logger.InfoContext(ctx, "decision window opened",
			slog.String("symbol", opp.Symbol),
			slog.Float64("net_pct", opp.NetProfitPct),
		)
	}
}

func (f *FlowManager) maybeImprove(ctx context.Context, symbol string) {
	opp := f.assess(ctx, symbol)
	if opp == nil {
		return
	}
	if f.state.Consider(opp) {
		f.logger.InfoContext(ctx, "decision window candidate replaced",
			slog.String("symbol", opp.Symbol),
			slog.Float64("net_pct", opp.NetProfitPct),
		)
	}
}

func (f *FlowManager) assess(ctx context.Context, symbol string) *domain.Opportunity {
	investment, err := f.hp.PlannedInvestment(ctx)
	if err != nil {
		f.logger.WarnContext(ctx, "planned investment unavailable",
			slog.String("error", err.Error()),
		)
		return nil
	}
	opp, err := f.eval.Assess(ctx, symbol, investment)
	if err != nil {
		f.logger.WarnContext(ctx, "assessment failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return opp
}

// onWindowExpired fires once per decision window, at its hard deadline. The
// best candidate at expiry is committed to leg 1.
func (f *FlowManager) onWindowExpired() {
	ctx := f.timerCtx()

	cand := f.state.CommitWindow()
	if cand == nil {
		// The window was cleared by a concurrent reset before the timer ran.
		return
	}

	f.logger.InfoContext(ctx, "decision window committed",
		slog.String("symbol", cand.Symbol),
		slog.Float64("net_pct", cand.NetProfitPct),
	)

	res := f.hp.Process(ctx, cand)
	if !res.Success() {
		f.noteClosed(&res)
	}
}

// noteClosed counts closed cycles and stops the machine when the configured
// maximum is reached.
func (f *FlowManager) noteClosed(res *LegResult) {
	n := f.closed.Add(1)
	if f.cfg.MaxCycles > 0 && n >= int64(f.cfg.MaxCycles) {
		f.logger.Info("maximum cycle count reached, stopping",
			slog.Int64("closed", n),
			slog.String("last_cycle_id", res.CycleID),
		)
		f.state.Stop()
	}
}

// ClosedCycles returns how many cycles have closed since start.
func (f *FlowManager) ClosedCycles() int64 { return f.closed.Load() }

// State exposes the state machine for read-only callers (status API).
func (f *FlowManager) State() *CycleState { return f.state }
