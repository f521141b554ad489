// Package session generalizes the single-cycle engine to N concurrent
// cycles. Each session wraps its own cycle state machine; a priority
// executor serves at most one session per invocation.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/minsukang/kimchibot/internal/domain"
	"github.com/minsukang/kimchibot/internal/engine"
)

// Priority function names.
const (
	PriorityOldestAwaiting = "oldest_awaiting_first"
	PriorityHighestProfit  = "highest_expected_profit"
)

// ValidatePriority rejects unknown priority function names at startup.
func ValidatePriority(name string) error {
	switch name {
	case PriorityOldestAwaiting, PriorityHighestProfit:
		return nil
	default:
		return fmt.Errorf("session: unknown priority function %q", name)
	}
}

// Config holds the session layer parameters.
type Config struct {
	// MaxSessions caps the number of concurrently open sessions.
	MaxSessions int
	// Priority selects the executor's ordering function.
	Priority string
	// PerCycleKRW is the free capital each new session must be covered by.
	PerCycleKRW float64
	// FundsTTL is the validity window of the cached free-capital figure.
	FundsTTL time.Duration
	// MaxCycles halts the session layer after this many cycles have closed
	// across all sessions. Zero means unlimited.
	MaxCycles int
}

// Runner is the per-session engine bundle the manager dispatches to. The
// state machine inside is owned exclusively by this session.
type Runner struct {
	State *engine.CycleState
	Flow  *engine.FlowManager
	LP    *engine.LowPremiumProcessor
}

// RunnerFactory builds the engine components around a session's state
// machine.
type RunnerFactory func(state *engine.CycleState) *Runner

type entry struct {
	runner *Runner
	record domain.Session
	// closedSeen is the runner's closed-cycle count at the last sync; an
	// increment means this session's cycle reached a terminal status.
	closedSeen int64
}

// Manager owns the open sessions, gates their creation on funds
// sufficiency, and serves them one at a time.
type Manager struct {
	store   domain.SessionStore
	cycles  domain.CycleStore
	funds   domain.FundsCache
	exch    domain.Exchange
	factory RunnerFactory
	cfg     Config
	logger  *slog.Logger

	busy atomic.Bool

	mu          sync.Mutex
	sessions    map[string]*entry
	closedTotal int64
	haltLogged  bool
}

// NewManager creates a session manager with no open sessions.
func NewManager(
	store domain.SessionStore,
	cycles domain.CycleStore,
	funds domain.FundsCache,
	exch domain.Exchange,
	factory RunnerFactory,
	cfg Config,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		store:    store,
		cycles:   cycles,
		funds:    funds,
		exch:     exch,
		factory:  factory,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "session_manager")),
		sessions: make(map[string]*entry),
	}
}

// Adopt wraps recovered cycle state machines into sessions. Called once at
// startup with the states engine.Recover returned.
func (m *Manager) Adopt(ctx context.Context, states []*engine.CycleState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, state := range states {
		rec := domain.Session{
			ID:        uuid.New().String(),
			Status:    domain.SessionAwaitingLP,
			CycleID:   state.CycleID(),
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		if view, ok := state.LowPremiumSnapshot(); ok {
			rec.Symbol = view.HPSymbol
			rec.RequiredLPNetKRW = view.RequiredNetKRW
		}
		if err := m.store.Create(ctx, rec); err != nil {
			return fmt.Errorf("session: persist adopted session: %w", err)
		}
		m.sessions[rec.ID] = &entry{runner: m.factory(state), record: rec}
		m.logger.InfoContext(ctx, "session adopted from recovery",
			slog.String("session_id", rec.ID),
			slog.String("cycle_id", rec.CycleID),
		)
	}
	return nil
}

// OnPriceUpdate routes one price tick to the highest-priority eligible
// session. Ticks arriving while the executor is busy are dropped; the feeds
// deliver a continuous stream, so the next tick retries.
func (m *Manager) OnPriceUpdate(ctx context.Context, venue domain.Venue, symbol string) {
	if !m.busy.CompareAndSwap(false, true) {
		return
	}
	if m.halted() {
		m.busy.Store(false)
		return
	}

	e := m.pick()
	if e == nil {
		m.busy.Store(false)
		return
	}
	m.noteCycleID(e)

	// Leg execution blocks on network calls and settlement waits, so it
	// runs off the feed's delivery goroutine. The busy flag stays held
	// until the dispatch finishes; ticks arriving meanwhile are dropped.
	go func() {
		defer m.busy.Store(false)
		e.runner.Flow.OnPriceUpdate(ctx, venue, symbol)
		m.sync(ctx, e)
	}()
}

// Tick is the periodic scheduling pass: it opens new sessions while capacity
// and funds allow, and serves one awaiting session so search timeouts fire
// even on a quiet market.
func (m *Manager) Tick(ctx context.Context) {
	if !m.busy.CompareAndSwap(false, true) {
		return
	}
	defer m.busy.Store(false)

	if m.halted() {
		return
	}
	if err := m.ensureCapacity(ctx); err != nil {
		m.logger.WarnContext(ctx, "session creation skipped",
			slog.String("error", err.Error()),
		)
	}

	e := m.pickAwaiting()
	if e == nil {
		return
	}
	m.noteCycleID(e)
	if res := e.runner.LP.TryAdvance(ctx); res != nil {
		m.logger.InfoContext(ctx, "session advanced by scheduler",
			slog.String("session_id", e.record.ID),
			slog.String("cycle_id", res.CycleID),
			slog.Bool("success", res.Success()),
		)
		m.retire(ctx, e)
		return
	}
	m.sync(ctx, e)
}

// Open creates one new idle session, subject to the capacity and funds
// gates.
func (m *Manager) Open(ctx context.Context) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openLocked(ctx)
}

// Active returns the records of all open sessions.
func (m *Manager) Active() []domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		out = append(out, e.record)
	}
	return out
}

func (m *Manager) ensureCapacity(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.sessions) < m.cfg.MaxSessions {
		if _, err := m.openLocked(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) openLocked(ctx context.Context) (domain.Session, error) {
	if m.haltedLocked() {
		return domain.Session{}, fmt.Errorf("session: cycle limit reached (%d)", m.cfg.MaxCycles)
	}
	if len(m.sessions) >= m.cfg.MaxSessions {
		return domain.Session{}, fmt.Errorf("session: at capacity (%d)", m.cfg.MaxSessions)
	}
	free, err := m.freeKRW(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	if free < m.cfg.PerCycleKRW {
		return domain.Session{}, fmt.Errorf("session: %w: free %.0f KRW < required %.0f KRW",
			domain.ErrInsufficientFunds, free, m.cfg.PerCycleKRW)
	}

	rec := domain.Session{
		ID:        uuid.New().String(),
		Status:    domain.SessionIdle,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := m.store.Create(ctx, rec); err != nil {
		return domain.Session{}, fmt.Errorf("session: persist session: %w", err)
	}
	state := engine.NewCycleState(m.logger)
	m.sessions[rec.ID] = &entry{runner: m.factory(state), record: rec}
	m.logger.InfoContext(ctx, "session opened",
		slog.String("session_id", rec.ID),
		slog.Float64("free_krw", free),
	)
	return rec, nil
}

// freeKRW returns the free local-venue capital, preferring the cached figure
// within its validity window over a live balance query.
func (m *Manager) freeKRW(ctx context.Context) (float64, error) {
	if v, err := m.funds.GetFreeKRW(ctx); err == nil {
		return v, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		m.logger.WarnContext(ctx, "funds cache read failed",
			slog.String("error", err.Error()),
		)
	}

	balances, err := m.exch.GetBalances(ctx, domain.VenueUpbit)
	if err != nil {
		return 0, fmt.Errorf("session: query free balance: %w", err)
	}
	var free float64
	for _, b := range balances {
		if b.Currency == "KRW" {
			free += b.Available
		}
	}
	if err := m.funds.SetFreeKRW(ctx, free, m.cfg.FundsTTL); err != nil {
		m.logger.WarnContext(ctx, "funds cache write failed",
			slog.String("error", err.Error()),
		)
	}
	return free, nil
}

// pick selects the next session to serve: awaiting sessions ahead of idle
// ones, ordered by the configured priority function. Sessions in any other
// phase are already in flight and left untouched.
func (m *Manager) pick() *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var bestAwaiting, bestIdle *entry
	for _, e := range m.sessions {
		switch e.runner.State.Phase() {
		case engine.PhaseAwaitingLowPremium:
			if bestAwaiting == nil || m.before(e, bestAwaiting) {
				bestAwaiting = e
			}
		case engine.PhaseIdle, engine.PhaseDecisionWindow:
			if bestIdle == nil || e.record.CreatedAt.Before(bestIdle.record.CreatedAt) {
				bestIdle = e
			}
		}
	}
	if bestAwaiting != nil {
		return bestAwaiting
	}
	return bestIdle
}

func (m *Manager) pickAwaiting() *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *entry
	for _, e := range m.sessions {
		if e.runner.State.Phase() != engine.PhaseAwaitingLowPremium {
			continue
		}
		if best == nil || m.before(e, best) {
			best = e
		}
	}
	return best
}

// before reports whether a should be served ahead of b among awaiting
// sessions.
func (m *Manager) before(a, b *entry) bool {
	if m.cfg.Priority == PriorityHighestProfit {
		// A lower required profit is an easier target, hence a higher
		// expected overall outcome.
		return a.record.RequiredLPNetKRW < b.record.RequiredLPNetKRW
	}
	return a.record.UpdatedAt.Before(b.record.UpdatedAt)
}

// noteCycleID records the bound cycle id before dispatch, so the record
// keeps it even when a single dispatch both binds and closes the cycle.
func (m *Manager) noteCycleID(e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id := e.runner.State.CycleID(); id != "" {
		e.record.CycleID = id
	}
}

// halted reports whether the process-wide cycle limit has been reached; no
// session is opened or served past it.
func (m *Manager) halted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.haltedLocked()
}

func (m *Manager) haltedLocked() bool {
	if m.cfg.MaxCycles <= 0 || m.closedTotal < int64(m.cfg.MaxCycles) {
		return false
	}
	if !m.haltLogged {
		m.haltLogged = true
		m.logger.Info("cycle limit reached, session layer halted",
			slog.Int("max_cycles", m.cfg.MaxCycles),
			slog.Int64("closed", m.closedTotal),
		)
	}
	return true
}

// retire closes out a session whose cycle reached a terminal status.
func (m *Manager) retire(ctx context.Context, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, open := m.sessions[e.record.ID]; !open {
		return
	}
	m.closedTotal++
	status := domain.SessionFailed
	if e.record.CycleID != "" {
		status = m.closedStatus(ctx, e.record.CycleID)
	}
	delete(m.sessions, e.record.ID)
	e.record.Status = status
	e.record.UpdatedAt = time.Now().UTC()
	if err := m.store.Update(ctx, e.record); err != nil {
		m.logger.WarnContext(ctx, "persist session failed",
			slog.String("session_id", e.record.ID),
			slog.String("error", err.Error()),
		)
	}
}

// sync refreshes the persisted record from the session's state machine and
// retires the session when its cycle has closed.
func (m *Manager) sync(ctx context.Context, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	phase := e.runner.State.Phase()
	status := statusFor(phase)
	if cycleID := e.runner.State.CycleID(); cycleID != "" {
		e.record.CycleID = cycleID
	}

	// Sessions are one-shot: once their cycle closes they retire with the
	// cycle's outcome.
	if closed := e.runner.Flow.ClosedCycles(); closed > e.closedSeen {
		e.closedSeen = closed
		if e.record.CycleID != "" {
			status = m.closedStatus(ctx, e.record.CycleID)
		} else {
			status = domain.SessionFailed
		}
		if _, open := m.sessions[e.record.ID]; open {
			m.closedTotal++
			delete(m.sessions, e.record.ID)
		}
	}

	if view, ok := e.runner.State.LowPremiumSnapshot(); ok {
		e.record.Symbol = view.HPSymbol
		e.record.RequiredLPNetKRW = view.RequiredNetKRW
	}

	if status == e.record.Status {
		return
	}
	e.record.Status = status
	e.record.UpdatedAt = time.Now().UTC()
	if err := m.store.Update(ctx, e.record); err != nil {
		m.logger.WarnContext(ctx, "persist session failed",
			slog.String("session_id", e.record.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) closedStatus(ctx context.Context, cycleID string) domain.SessionStatus {
	cycle, err := m.cycles.GetByID(ctx, cycleID)
	if err != nil {
		m.logger.WarnContext(ctx, "closed cycle lookup failed",
			slog.String("cycle_id", cycleID),
			slog.String("error", err.Error()),
		)
		return domain.SessionFailed
	}
	switch cycle.Status {
	case domain.CycleCompleted, domain.CycleTargetMissed:
		return domain.SessionCompleted
	default:
		return domain.SessionFailed
	}
}

func statusFor(phase engine.Phase) domain.SessionStatus {
	switch phase {
	case engine.PhaseHighPremium:
		return domain.SessionHighPrem
	case engine.PhaseAwaitingLowPremium:
		return domain.SessionAwaitingLP
	case engine.PhaseLowPremium:
		return domain.SessionLowPrem
	case engine.PhaseStopped:
		return domain.SessionFailed
	default:
		return domain.SessionIdle
	}
}
