package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/minsukang/kimchibot/internal/domain"
)

// CycleState is the authoritative in-memory state of one cycle. All fields
// are owned by the flow manager and its processors; external callers read via
// accessors only. Every transition is an atomic check-and-set under the
// mutex, so multiple handlers may race a transition and exactly one wins.
type CycleState struct {
	mu sync.Mutex

	phase   Phase
	cycleID string

	// Carry-over from leg 1, set at the transition into AwaitingLowPremium.
	requiredLPNetKRW float64
	hasRequiredLP    bool
	hpRate           float64
	hpSymbol         string
	hpInvestmentKRW  float64
	lpSearchStart    time.Time

	// Decision window. At most one timer may be outstanding.
	best  *domain.Opportunity
	timer *time.Timer

	logger *slog.Logger
}

// NewCycleState creates an idle state machine.
func NewCycleState(logger *slog.Logger) *CycleState {
	return &CycleState{
		phase:  PhaseIdle,
		logger: logger.With(slog.String("component", "cycle_state")),
	}
}

// ResumeFrom reconstructs a state machine from a persisted cycle whose first
// leg has settled. The required low-premium profit is rebuilt from the
// persisted leg-1 figures and the overall target percent; the search clock
// restarts at now. It returns an error for any non-recoverable status.
func ResumeFrom(c domain.Cycle, overallTargetPct float64, logger *slog.Logger) (*CycleState, error) {
	if !c.Status.Recoverable() {
		return nil, fmt.Errorf("engine: cycle %s status %s is not recoverable", c.ID, c.Status)
	}
	s := NewCycleState(logger)
	s.phase = PhaseAwaitingLowPremium
	s.cycleID = c.ID
	s.requiredLPNetKRW = c.InvestmentKRW*overallTargetPct/100 - c.HPNetKRW
	s.hasRequiredLP = true
	s.hpRate = c.HPRate
	s.hpSymbol = c.HPSymbol
	s.hpInvestmentKRW = c.InvestmentKRW
	s.lpSearchStart = time.Now().UTC()
	return s, nil
}

// Phase returns the current phase.
func (s *CycleState) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// CycleID returns the id of the persisted cycle this state governs, or ""
// when idle.
func (s *CycleState) CycleID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycleID
}

// OpenDecisionWindow transitions Idle → DecisionWindowActive, records opp as
// the best candidate and schedules onExpire after d. The window has a hard
// deadline: nothing ever extends the timer. Returns false when not idle.
func (s *CycleState) OpenDecisionWindow(opp *domain.Opportunity, d time.Duration, onExpire func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseIdle {
		return false
	}
	s.phase = PhaseDecisionWindow
	s.best = opp
	s.timer = time.AfterFunc(d, onExpire)
	return true
}

// Consider replaces the best candidate iff opp's net profit percent is
// strictly greater than the current best's. Ties keep the first-seen
// candidate. Returns true when the candidate was replaced.
func (s *CycleState) Consider(opp *domain.Opportunity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseDecisionWindow || s.best == nil {
		return false
	}
	if opp.NetProfitPct > s.best.NetProfitPct {
		s.best = opp
		return true
	}
	return false
}

// BestCandidate returns the current best candidate without consuming it.
func (s *CycleState) BestCandidate() *domain.Opportunity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.best
}

// CommitWindow transitions DecisionWindowActive → HighPremiumProcessing and
// returns the best candidate at expiry. The decision buffer is cleared
// unconditionally, whether or not the caller's execution later succeeds.
// Returns nil when the window is not active (the timer raced a reset).
func (s *CycleState) CommitWindow() *domain.Opportunity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseDecisionWindow {
		return nil
	}
	cand := s.best
	s.best = nil
	s.timer = nil
	s.phase = PhaseHighPremium
	return cand
}

// BindCycle associates the persisted cycle id with the in-flight leg-1
// execution. Valid only in HighPremiumProcessing.
func (s *CycleState) BindCycle(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseHighPremium {
		return false
	}
	s.cycleID = id
	return true
}

// AwaitLowPremium transitions HighPremiumProcessing → AwaitingLowPremium,
// carrying the profit leg 2 must clear and the leg-1 entry rate. Only a
// cycle already in HighPremiumProcessing may make this transition; from any
// other phase this is a defensive no-op that logs a warning.
func (s *CycleState) AwaitLowPremium(requiredNetKRW, hpRate float64, hpSymbol string, hpInvestmentKRW float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseHighPremium {
		s.logger.Warn("await low premium refused",
			slog.String("phase", s.phase.String()),
			slog.String("cycle_id", s.cycleID),
		)
		return false
	}
	s.phase = PhaseAwaitingLowPremium
	s.requiredLPNetKRW = requiredNetKRW
	s.hasRequiredLP = true
	s.hpRate = hpRate
	s.hpSymbol = hpSymbol
	s.hpInvestmentKRW = hpInvestmentKRW
	s.lpSearchStart = time.Now().UTC()
	return true
}

// LowPremiumView is a consistent snapshot of the carry-over fields for the
// low-premium scan.
type LowPremiumView struct {
	CycleID         string
	RequiredNetKRW  float64
	HPRate          float64
	HPSymbol        string
	HPInvestmentKRW float64
	SearchStart     time.Time
}

// LowPremiumSnapshot returns the carry-over view, or ok=false unless the
// phase is exactly AwaitingLowPremium with a required profit set.
func (s *CycleState) LowPremiumSnapshot() (LowPremiumView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseAwaitingLowPremium || !s.hasRequiredLP {
		return LowPremiumView{}, false
	}
	return LowPremiumView{
		CycleID:         s.cycleID,
		RequiredNetKRW:  s.requiredLPNetKRW,
		HPRate:          s.hpRate,
		HPSymbol:        s.hpSymbol,
		HPInvestmentKRW: s.hpInvestmentKRW,
		SearchStart:     s.lpSearchStart,
	}, true
}

// BeginLowPremium transitions AwaitingLowPremium → LowPremiumProcessing.
// Called after a candidate is found, as the atomic re-check that the phase
// did not change during the scan. A false return aborts the attempt for this
// scan without resetting state.
func (s *CycleState) BeginLowPremium() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseAwaitingLowPremium {
		s.logger.Warn("begin low premium refused",
			slog.String("phase", s.phase.String()),
			slog.String("cycle_id", s.cycleID),
		)
		return false
	}
	s.phase = PhaseLowPremium
	return true
}

// Reset returns the machine to Idle and clears the decision window, the
// outstanding timer, and all carry-over fields. A stopped machine stays
// stopped.
func (s *CycleState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseStopped {
		return
	}
	s.clearLocked()
	s.phase = PhaseIdle
}

// Stop terminally halts the machine for the process lifetime.
func (s *CycleState) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
	s.phase = PhaseStopped
}

func (s *CycleState) clearLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.best = nil
	s.cycleID = ""
	s.requiredLPNetKRW = 0
	s.hasRequiredLP = false
	s.hpRate = 0
	s.hpSymbol = ""
	s.hpInvestmentKRW = 0
	s.lpSearchStart = time.Time{}
}
