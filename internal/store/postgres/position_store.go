package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dutchbook/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. It mirrors
// the in-memory ledger so operators can audit exposure after a restart; the
// ledger remains the source of truth while the process runs.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

var _ domain.PositionStore = (*PositionStore)(nil)

const positionSelectCols = `market_id, yes_shares, no_shares, total_cost, state, updated_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var state string
	err := row.Scan(
		&p.MarketID, &p.YesShares, &p.NoShares,
		&p.TotalCost, &state, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.State = domain.PositionState(state)
	return p, nil
}

// Upsert writes the latest snapshot for a market, replacing any previous row.
func (s *PositionStore) Upsert(ctx context.Context, pos domain.Position) error {
	const query = `
		INSERT INTO positions (market_id, yes_shares, no_shares, total_cost, state, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (market_id) DO UPDATE SET
			yes_shares = EXCLUDED.yes_shares,
			no_shares  = EXCLUDED.no_shares,
			total_cost = EXCLUDED.total_cost,
			state      = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at`

	updatedAt := pos.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, query,
		pos.MarketID, pos.YesShares, pos.NoShares,
		pos.TotalCost, string(pos.State), updatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", pos.MarketID, err)
	}
	return nil
}

// Get returns the stored snapshot for one market, or ErrNotFound.
func (s *PositionStore) Get(ctx context.Context, marketID string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE market_id = $1`
	pos, err := scanPositionRow(s.pool.QueryRow(ctx, query, marketID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: position %s: %w", marketID, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", marketID, err)
	}
	return pos, nil
}

// ListOpen returns every position not yet resolved, oldest first.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions
		WHERE state != $1 ORDER BY updated_at ASC`

	rows, err := s.pool.Query(ctx, query, string(domain.PositionResolved))
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var state string
		if err := rows.Scan(
			&p.MarketID, &p.YesShares, &p.NoShares,
			&p.TotalCost, &state, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan open position: %w", err)
		}
		p.State = domain.PositionState(state)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// MarkResolved sets the terminal state and records the market outcome.
func (s *PositionStore) MarkResolved(ctx context.Context, marketID string, outcome domain.Resolution) error {
	const query = `
		UPDATE positions
		SET state = $2, outcome = $3, updated_at = NOW()
		WHERE market_id = $1`

	tag, err := s.pool.Exec(ctx, query,
		marketID, string(domain.PositionResolved), string(outcome),
	)
	if err != nil {
		return fmt.Errorf("postgres: mark resolved %s: %w", marketID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark resolved %s: %w", marketID, domain.ErrNotFound)
	}
	return nil
}
