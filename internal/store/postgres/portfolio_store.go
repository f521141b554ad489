package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/minsukang/kimchibot/internal/domain"
)

// PortfolioStore implements domain.PortfolioStore using PostgreSQL.
type PortfolioStore struct {
	pool *pgxpool.Pool
}

// NewPortfolioStore creates a new PortfolioStore backed by the given
// connection pool.
func NewPortfolioStore(pool *pgxpool.Pool) *PortfolioStore {
	return &PortfolioStore{pool: pool}
}

// Create stores a new capital snapshot and returns it with the assigned id
// and timestamp.
func (s *PortfolioStore) Create(ctx context.Context, snap domain.PortfolioSnapshot) (domain.PortfolioSnapshot, error) {
	const query = `
		INSERT INTO portfolio_snapshots (total_krw, total_usd, source)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	err := s.pool.QueryRow(ctx, query, snap.TotalKRW, snap.TotalUSD, snap.Source).
		Scan(&snap.ID, &snap.CreatedAt)
	if err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("postgres: insert portfolio snapshot: %w", err)
	}
	return snap, nil
}

// Latest returns the most recent snapshot or domain.ErrNotFound.
func (s *PortfolioStore) Latest(ctx context.Context) (domain.PortfolioSnapshot, error) {
	const query = `
		SELECT id, total_krw, total_usd, source, created_at
		FROM portfolio_snapshots
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	var snap domain.PortfolioSnapshot
	err := s.pool.QueryRow(ctx, query).
		Scan(&snap.ID, &snap.TotalKRW, &snap.TotalUSD, &snap.Source, &snap.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PortfolioSnapshot{}, domain.ErrNotFound
		}
		return domain.PortfolioSnapshot{}, fmt.Errorf("postgres: latest portfolio snapshot: %w", err)
	}
	return snap, nil
}
