package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/minsukang/kimchibot/internal/domain"
	"github.com/minsukang/kimchibot/internal/notify"
)

// Notifier is the outbound human-notification contract. Delivery is
// best-effort; failures are logged and swallowed by the completion layer.
type Notifier interface {
	NotifyCycle(ctx context.Context, event notify.Event, report notify.CycleReport) error
}

// Completion finalizes a cycle's terminal status: it persists the outcome,
// emits the human summary, records a portfolio snapshot, and resets the
// state machine regardless of outcome.
type Completion struct {
	state     *CycleState
	cycles    domain.CycleStore
	portfolio domain.PortfolioStore
	notifier  Notifier
	onClosed  func()
	logger    *slog.Logger
}

// NewCompletion creates a Completion. onClosed, when non-nil, runs once per
// closed cycle (used for the max-cycle-count stop).
func NewCompletion(state *CycleState, cycles domain.CycleStore, portfolio domain.PortfolioStore, notifier Notifier, onClosed func(), logger *slog.Logger) *Completion {
	return &Completion{
		state:     state,
		cycles:    cycles,
		portfolio: portfolio,
		notifier:  notifier,
		onClosed:  onClosed,
		logger:    logger.With(slog.String("component", "cycle_completion")),
	}
}

// Complete reads the final persisted cycle, reports it, snapshots the new
// capital, and resets state to idle.
func (c *Completion) Complete(ctx context.Context, cycleID string) error {
	cycle, err := c.cycles.GetByID(ctx, cycleID)
	if err != nil {
		c.reset()
		return fmt.Errorf("completion: get cycle %s: %w", cycleID, err)
	}

	c.snapshotCapital(ctx, cycle.TotalNetKRW, cycle.TotalNetUSD)
	c.send(ctx, notify.EventCycleCompleted, notify.CycleReport{
		CycleID:     cycle.ID,
		HPSymbol:    cycle.HPSymbol,
		LPSymbol:    cycle.LPSymbol,
		InvestedKRW: cycle.InvestmentKRW,
		NetKRW:      cycle.TotalNetKRW,
		NetPct:      cycle.TotalNetPct,
	})

	c.logger.InfoContext(ctx, "cycle completed",
		slog.String("cycle_id", cycle.ID),
		slog.Float64("net_krw", cycle.TotalNetKRW),
		slog.Float64("net_pct", cycle.TotalNetPct),
	)
	c.reset()
	return nil
}

// CloseTargetMissed closes a cycle whose low-premium search timed out. The
// aggregates reduce to the leg-1 result, with USD conversion at the leg-1
// entry rate.
func (c *Completion) CloseTargetMissed(ctx context.Context, view LowPremiumView) error {
	cycle, err := c.cycles.GetByID(ctx, view.CycleID)
	if err != nil {
		c.reset()
		return fmt.Errorf("completion: get cycle %s: %w", view.CycleID, err)
	}

	now := time.Now().UTC()
	cycle.Status = domain.CycleTargetMissed
	cycle.ErrorDetails = "low premium search timed out before a qualifying candidate was found"
	cycle.TotalNetKRW = cycle.HPNetKRW
	if view.HPRate > 0 {
		cycle.TotalNetUSD = cycle.HPNetKRW / view.HPRate
	}
	if cycle.InvestmentKRW != 0 {
		cycle.TotalNetPct = cycle.TotalNetKRW / cycle.InvestmentKRW * 100
	}
	cycle.ClosedAt = &now

	if err := c.cycles.Update(ctx, cycle); err != nil {
		c.reset()
		return fmt.Errorf("completion: close cycle %s as target missed: %w", cycle.ID, err)
	}

	c.snapshotCapital(ctx, cycle.TotalNetKRW, cycle.TotalNetUSD)
	c.send(ctx, notify.EventCycleTargetMissed, notify.CycleReport{
		CycleID:  cycle.ID,
		HPSymbol: cycle.HPSymbol,
		NetKRW:   cycle.HPNetKRW,
		NetPct:   cycle.TotalNetPct,
		Detail:   cycle.ErrorDetails,
	})

	c.logger.WarnContext(ctx, "cycle closed as target missed",
		slog.String("cycle_id", cycle.ID),
		slog.Float64("hp_net_krw", cycle.HPNetKRW),
	)
	c.reset()
	return nil
}

// Fail marks a cycle FAILED with the captured reason and resets state.
// cycleID may be empty when failure happened before the cycle was persisted.
func (c *Completion) Fail(ctx context.Context, cycleID, reason string) {
	if cycleID != "" {
		if err := c.cycles.MarkFailed(ctx, cycleID, reason); err != nil {
			c.logger.ErrorContext(ctx, "mark cycle failed",
				slog.String("cycle_id", cycleID),
				slog.String("error", err.Error()),
			)
		}
	}
	c.send(ctx, notify.EventCycleFailed, notify.CycleReport{CycleID: cycleID, Detail: reason})
	c.logger.ErrorContext(ctx, "cycle failed",
		slog.String("cycle_id", cycleID),
		slog.String("reason", reason),
	)
	c.reset()
}

func (c *Completion) reset() {
	c.state.Reset()
	if c.onClosed != nil {
		c.onClosed()
	}
}

// snapshotCapital records the post-cycle capital as latest + realized net.
func (c *Completion) snapshotCapital(ctx context.Context, netKRW, netUSD float64) {
	latest, err := c.portfolio.Latest(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "portfolio snapshot skipped",
			slog.String("error", err.Error()),
		)
		return
	}
	_, err = c.portfolio.Create(ctx, domain.PortfolioSnapshot{
		TotalKRW: latest.TotalKRW + netKRW,
		TotalUSD: latest.TotalUSD + netUSD,
		Source:   "cycle_close",
	})
	if err != nil {
		c.logger.WarnContext(ctx, "portfolio snapshot failed",
			slog.String("error", err.Error()),
		)
	}
}

func (c *Completion) send(ctx context.Context, event notify.Event, report notify.CycleReport) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.NotifyCycle(ctx, event, report); err != nil {
		c.logger.WarnContext(ctx, "notification failed",
			slog.String("event", string(event)),
			slog.String("error", err.Error()),
		)
	}
}

// Recover reconstructs in-flight cycle state after a restart. Cycles whose
// first leg has settled (HP_SOLD or AWAITING_LP) resume in
// AwaitingLowPremium with the required profit rebuilt from persisted leg-1
// figures; every other incomplete cycle is force-marked FAILED, because
// resuming one interrupted mid-execution would require reconciling unknown
// exchange-side effects.
func Recover(ctx context.Context, cycles domain.CycleStore, overallTargetPct float64, logger *slog.Logger) ([]*CycleState, error) {
	incomplete, err := cycles.ListIncomplete(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: list incomplete cycles: %w", err)
	}

	var resumed []*CycleState
	for _, c := range incomplete {
		if !c.Status.Recoverable() {
			reason := fmt.Sprintf("interrupted in status %s; exchange-side effects unknown, not resumable", c.Status)
			if err := cycles.MarkFailed(ctx, c.ID, reason); err != nil {
				return nil, fmt.Errorf("engine: mark unrecoverable cycle %s failed: %w", c.ID, err)
			}
			logger.Warn("unrecoverable cycle marked failed",
				slog.String("cycle_id", c.ID),
				slog.String("status", string(c.Status)),
			)
			continue
		}

		state, err := ResumeFrom(c, overallTargetPct, logger)
		if err != nil {
			return nil, err
		}
		if c.Status != domain.CycleAwaitingLP {
			c.Status = domain.CycleAwaitingLP
			if err := cycles.Update(ctx, c); err != nil {
				return nil, fmt.Errorf("engine: persist recovered cycle %s: %w", c.ID, err)
			}
		}
		logger.Info("cycle recovered",
			slog.String("cycle_id", c.ID),
			slog.Float64("required_lp_net_krw", c.InvestmentKRW*overallTargetPct/100-c.HPNetKRW),
		)
		resumed = append(resumed, state)
	}
	return resumed, nil
}
