package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/minsukang/kimchibot/internal/domain"
)

// CycleStore implements domain.CycleStore using PostgreSQL.
type CycleStore struct {
	pool *pgxpool.Pool
}

// NewCycleStore creates a new CycleStore backed by the given connection pool.
func NewCycleStore(pool *pgxpool.Pool) *CycleStore {
	return &CycleStore{pool: pool}
}

const cycleSelectCols = `id, status,
	hp_symbol, hp_buy_price, hp_sell_price, hp_rate, hp_amount, hp_spread_pct,
	hp_buy_trade_fee, hp_sell_trade_fee, hp_hedge_open_fee, hp_hedge_close_fee, hp_transfer_fee,
	hp_net_krw, hp_net_usd, hp_completed_at,
	lp_symbol, lp_buy_price, lp_sell_price, lp_amount,
	lp_buy_trade_fee, lp_sell_trade_fee, lp_hedge_open_fee, lp_hedge_close_fee, lp_transfer_fee,
	lp_net_krw, lp_net_usd,
	investment_krw, investment_usd, total_net_krw, total_net_usd, total_net_pct,
	error_details, created_at, closed_at`

// Create stores a new cycle.
func (s *CycleStore) Create(ctx context.Context, c domain.Cycle) error {
	const query = `
		INSERT INTO cycles (
			id, status,
			hp_symbol, hp_buy_price, hp_sell_price, hp_rate, hp_amount, hp_spread_pct,
			hp_buy_trade_fee, hp_sell_trade_fee, hp_hedge_open_fee, hp_hedge_close_fee, hp_transfer_fee,
			hp_net_krw, hp_net_usd, hp_completed_at,
			lp_symbol, lp_buy_price, lp_sell_price, lp_amount,
			lp_buy_trade_fee, lp_sell_trade_fee, lp_hedge_open_fee, lp_hedge_close_fee, lp_transfer_fee,
			lp_net_krw, lp_net_usd,
			investment_krw, investment_usd, total_net_krw, total_net_usd, total_net_pct,
			error_details, created_at, closed_at
		) VALUES (
			$1, $2,
			$3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16,
			$17, $18, $19, $20,
			$21, $22, $23, $24, $25,
			$26, $27,
			$28, $29, $30, $31, $32,
			$33, $34, $35
		)`

	_, err := s.pool.Exec(ctx, query,
		c.ID, c.Status,
		c.HPSymbol, c.HPBuyPrice, c.HPSellPrice, c.HPRate, c.HPAmount, c.HPSpreadPct,
		c.HPFees.BuyTradeFee, c.HPFees.SellTradeFee, c.HPFees.HedgeOpenFee, c.HPFees.HedgeCloseFee, c.HPFees.TransferFee,
		c.HPNetKRW, c.HPNetUSD, c.HPCompletedAt,
		c.LPSymbol, c.LPBuyPrice, c.LPSellPrice, c.LPAmount,
		c.LPFees.BuyTradeFee, c.LPFees.SellTradeFee, c.LPFees.HedgeOpenFee, c.LPFees.HedgeCloseFee, c.LPFees.TransferFee,
		c.LPNetKRW, c.LPNetUSD,
		c.InvestmentKRW, c.InvestmentUSD, c.TotalNetKRW, c.TotalNetUSD, c.TotalNetPct,
		c.ErrorDetails, c.CreatedAt, c.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert cycle %s: %w", c.ID, err)
	}
	return nil
}

// Update rewrites every mutable field of the cycle.
func (s *CycleStore) Update(ctx context.Context, c domain.Cycle) error {
	const query = `
		UPDATE cycles SET
			status              = $2,
			hp_symbol           = $3,
			hp_buy_price        = $4,
			hp_sell_price       = $5,
			hp_rate             = $6,
			hp_amount           = $7,
			hp_spread_pct       = $8,
			hp_buy_trade_fee    = $9,
			hp_sell_trade_fee   = $10,
			hp_hedge_open_fee   = $11,
			hp_hedge_close_fee  = $12,
			hp_transfer_fee     = $13,
			hp_net_krw          = $14,
			hp_net_usd          = $15,
			hp_completed_at     = $16,
			lp_symbol           = $17,
			lp_buy_price        = $18,
			lp_sell_price       = $19,
			lp_amount           = $20,
			lp_buy_trade_fee    = $21,
			lp_sell_trade_fee   = $22,
			lp_hedge_open_fee   = $23,
			lp_hedge_close_fee  = $24,
			lp_transfer_fee     = $25,
			lp_net_krw          = $26,
			lp_net_usd          = $27,
			investment_krw      = $28,
			investment_usd      = $29,
			total_net_krw       = $30,
			total_net_usd       = $31,
			total_net_pct       = $32,
			error_details       = $33,
			closed_at           = $34
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		c.ID, c.Status,
		c.HPSymbol, c.HPBuyPrice, c.HPSellPrice, c.HPRate, c.HPAmount, c.HPSpreadPct,
		c.HPFees.BuyTradeFee, c.HPFees.SellTradeFee, c.HPFees.HedgeOpenFee, c.HPFees.HedgeCloseFee, c.HPFees.TransferFee,
		c.HPNetKRW, c.HPNetUSD, c.HPCompletedAt,
		c.LPSymbol, c.LPBuyPrice, c.LPSellPrice, c.LPAmount,
		c.LPFees.BuyTradeFee, c.LPFees.SellTradeFee, c.LPFees.HedgeOpenFee, c.LPFees.HedgeCloseFee, c.LPFees.TransferFee,
		c.LPNetKRW, c.LPNetUSD,
		c.InvestmentKRW, c.InvestmentUSD, c.TotalNetKRW, c.TotalNetUSD, c.TotalNetPct,
		c.ErrorDetails, c.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update cycle %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkFailed sets the failed status and error details in one write.
func (s *CycleStore) MarkFailed(ctx context.Context, id, reason string) error {
	const query = `
		UPDATE cycles SET
			status        = $2,
			error_details = $3,
			closed_at     = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, domain.CycleFailed, reason)
	if err != nil {
		return fmt.Errorf("postgres: mark cycle %s failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID returns one cycle or domain.ErrNotFound.
func (s *CycleStore) GetByID(ctx context.Context, id string) (domain.Cycle, error) {
	query := `SELECT ` + cycleSelectCols + ` FROM cycles WHERE id = $1`

	c, err := scanCycle(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Cycle{}, domain.ErrNotFound
		}
		return domain.Cycle{}, fmt.Errorf("postgres: get cycle %s: %w", id, err)
	}
	return c, nil
}

// ListIncomplete returns all cycles whose status is not terminal, oldest
// first.
func (s *CycleStore) ListIncomplete(ctx context.Context) ([]domain.Cycle, error) {
	query := `SELECT ` + cycleSelectCols + `
		FROM cycles
		WHERE status NOT IN ($1, $2, $3)
		ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query,
		domain.CycleCompleted, domain.CycleFailed, domain.CycleTargetMissed)
	if err != nil {
		return nil, fmt.Errorf("postgres: list incomplete cycles: %w", err)
	}
	defer rows.Close()
	return collectCycles(rows)
}

// ListRecent returns the most recent cycles ordered by creation time.
func (s *CycleStore) ListRecent(ctx context.Context, limit int) ([]domain.Cycle, error) {
	query := `SELECT ` + cycleSelectCols + ` FROM cycles ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent cycles: %w", err)
	}
	defer rows.Close()
	return collectCycles(rows)
}

func collectCycles(rows pgx.Rows) ([]domain.Cycle, error) {
	var cycles []domain.Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan cycle: %w", err)
		}
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: cycles rows: %w", err)
	}
	return cycles, nil
}

func scanCycle(row pgx.Row) (domain.Cycle, error) {
	var c domain.Cycle
	err := row.Scan(
		&c.ID, &c.Status,
		&c.HPSymbol, &c.HPBuyPrice, &c.HPSellPrice, &c.HPRate, &c.HPAmount, &c.HPSpreadPct,
		&c.HPFees.BuyTradeFee, &c.HPFees.SellTradeFee, &c.HPFees.HedgeOpenFee, &c.HPFees.HedgeCloseFee, &c.HPFees.TransferFee,
		&c.HPNetKRW, &c.HPNetUSD, &c.HPCompletedAt,
		&c.LPSymbol, &c.LPBuyPrice, &c.LPSellPrice, &c.LPAmount,
		&c.LPFees.BuyTradeFee, &c.LPFees.SellTradeFee, &c.LPFees.HedgeOpenFee, &c.LPFees.HedgeCloseFee, &c.LPFees.TransferFee,
		&c.LPNetKRW, &c.LPNetUSD,
		&c.InvestmentKRW, &c.InvestmentUSD, &c.TotalNetKRW, &c.TotalNetUSD, &c.TotalNetPct,
		&c.ErrorDetails, &c.CreatedAt, &c.ClosedAt,
	)
	return c, err
}
