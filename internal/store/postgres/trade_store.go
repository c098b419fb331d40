package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dutchbook/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

var _ domain.TradeStore = (*TradeStore)(nil)

const tradeSelectCols = `id, intent_id, kind, market_id, symbol, side, direction,
	price, shares, cost, combined_price, estimated_pnl, order_id, created_at`

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		var kind, side, direction string
		if err := rows.Scan(
			&t.ID, &t.IntentID, &kind, &t.MarketID, &t.Symbol,
			&side, &direction,
			&t.Price, &t.Shares, &t.Cost,
			&t.CombinedPrice, &t.EstimatedPnL,
			&t.OrderID, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		t.Kind = domain.TradeEventKind(kind)
		t.Side = domain.Side(side)
		t.Direction = domain.OrderDirection(direction)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert stores one applied fill or unwind. Redelivery of the same intent is
// silently skipped via ON CONFLICT DO NOTHING, mirroring the ledger's
// idempotency guard.
func (s *TradeStore) Insert(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trades (
			intent_id, kind, market_id, symbol, side, direction,
			price, shares, cost, combined_price, estimated_pnl,
			order_id, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13
		) ON CONFLICT (intent_id) DO NOTHING`

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, query,
		rec.IntentID, string(rec.Kind), rec.MarketID, rec.Symbol,
		string(rec.Side), string(rec.Direction),
		rec.Price, rec.Shares, rec.Cost,
		rec.CombinedPrice, rec.EstimatedPnL,
		rec.OrderID, createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", rec.IntentID, err)
	}
	return nil
}

// ListByMarket returns trades for a given market with pagination and optional
// time filtering, newest first.
func (s *TradeStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE market_id = $1`
	args := []any{marketID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by market: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by market: %w", err)
	}
	return trades, nil
}

// ListBefore returns all trades created strictly before the given time, oldest
// first (for archiving).
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE created_at < $1 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// DeleteBefore deletes all trades created before the given time. Returns the
// number deleted.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}
