package domain

import "time"

// SessionStatus mirrors the engine's phase vocabulary for persisted sessions.
type SessionStatus string

const (
	SessionIdle       SessionStatus = "IDLE"
	SessionHighPrem   SessionStatus = "HIGH_PREMIUM_PROCESSING"
	SessionAwaitingLP SessionStatus = "AWAITING_LOW_PREMIUM"
	SessionLowPrem    SessionStatus = "LOW_PREMIUM_PROCESSING"
	SessionCompleted  SessionStatus = "COMPLETED"
	SessionFailed     SessionStatus = "FAILED"
)

// Session is one independently running instance of the cycle state machine.
// Many sessions may exist concurrently, each wrapping one cycle.
type Session struct {
	ID               string
	Status           SessionStatus
	CycleID          string
	Symbol           string
	HPNetKRW         float64
	RequiredLPNetKRW float64
	Priority         float64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
