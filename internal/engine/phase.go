package engine

// Phase is the in-memory lifecycle phase of one cycle state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseDecisionWindow
	PhaseHighPremium
	PhaseAwaitingLowPremium
	PhaseLowPremium
	PhaseStopped
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseDecisionWindow:
		return "DECISION_WINDOW_ACTIVE"
	case PhaseHighPremium:
		return "HIGH_PREMIUM_PROCESSING"
	case PhaseAwaitingLowPremium:
		return "AWAITING_LOW_PREMIUM"
	case PhaseLowPremium:
		return "LOW_PREMIUM_PROCESSING"
	case PhaseStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}
