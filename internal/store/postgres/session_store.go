package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/minsukang/kimchibot/internal/domain"
)

// SessionStore implements domain.SessionStore using PostgreSQL.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a new SessionStore backed by the given connection
// pool.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

const sessionSelectCols = `id, status, cycle_id, symbol,
	hp_net_krw, required_lp_net_krw, priority, created_at, updated_at`

// Create stores a new session record.
func (s *SessionStore) Create(ctx context.Context, rec domain.Session) error {
	const query = `
		INSERT INTO sessions (
			id, status, cycle_id, symbol,
			hp_net_krw, required_lp_net_krw, priority, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Status, rec.CycleID, rec.Symbol,
		rec.HPNetKRW, rec.RequiredLPNetKRW, rec.Priority, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert session %s: %w", rec.ID, err)
	}
	return nil
}

// Update rewrites the session's mutable fields.
func (s *SessionStore) Update(ctx context.Context, rec domain.Session) error {
	const query = `
		UPDATE sessions SET
			status              = $2,
			cycle_id            = $3,
			symbol              = $4,
			hp_net_krw          = $5,
			required_lp_net_krw = $6,
			priority            = $7,
			updated_at          = $8
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Status, rec.CycleID, rec.Symbol,
		rec.HPNetKRW, rec.RequiredLPNetKRW, rec.Priority, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update session %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListActive returns all sessions not yet in a terminal status, oldest
// first.
func (s *SessionStore) ListActive(ctx context.Context) ([]domain.Session, error) {
	query := `SELECT ` + sessionSelectCols + `
		FROM sessions
		WHERE status NOT IN ($1, $2)
		ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, domain.SessionCompleted, domain.SessionFailed)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

// ListRecent returns the most recent sessions ordered by creation time.
func (s *SessionStore) ListRecent(ctx context.Context, limit int) ([]domain.Session, error) {
	query := `SELECT ` + sessionSelectCols + ` FROM sessions ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

func collectSessions(rows pgx.Rows) ([]domain.Session, error) {
	var sessions []domain.Session
	for rows.Next() {
		var rec domain.Session
		if err := rows.Scan(
			&rec.ID, &rec.Status, &rec.CycleID, &rec.Symbol,
			&rec.HPNetKRW, &rec.RequiredLPNetKRW, &rec.Priority, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan session: %w", err)
		}
		sessions = append(sessions, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: sessions rows: %w", err)
	}
	return sessions, nil
}
