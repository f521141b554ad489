package domain

import "context"

// CycleStore persists arbitrage cycles. The persisted row is the single
// source of truth for crash recovery; in-memory engine state must always be
// re-derivable from it.
type CycleStore interface {
	Create(ctx context.Context, c Cycle) error
	// Update writes every mutable field of the cycle.
	Update(ctx context.Context, c Cycle) error
	// MarkFailed sets status and error details in one write.
	MarkFailed(ctx context.Context, id, reason string) error
	GetByID(ctx context.Context, id string) (Cycle, error)
	// ListIncomplete returns all cycles whose status is not terminal.
	ListIncomplete(ctx context.Context) ([]Cycle, error)
	ListRecent(ctx context.Context, limit int) ([]Cycle, error)
}

// PortfolioStore persists capital snapshots.
type PortfolioStore interface {
	Create(ctx context.Context, s PortfolioSnapshot) (PortfolioSnapshot, error)
	// Latest returns the most recent snapshot or ErrNotFound.
	Latest(ctx context.Context) (PortfolioSnapshot, error)
}

// SessionStore persists session records for the concurrency extension.
type SessionStore interface {
	Create(ctx context.Context, s Session) error
	Update(ctx context.Context, s Session) error
	ListActive(ctx context.Context) ([]Session, error)
	ListRecent(ctx context.Context, limit int) ([]Session, error)
}
