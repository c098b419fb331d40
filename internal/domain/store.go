package domain

import (
	"context"
	"time"
)

// TradeRecord is the persisted form of one applied fill or unwind.
type TradeRecord struct {
	ID            int64
	IntentID      string
	Kind          TradeEventKind
	MarketID      string
	Symbol        string
	Side          Side
	Direction     OrderDirection
	Price         float64
	Shares        int64
	Cost          float64
	CombinedPrice float64
	EstimatedPnL  float64
	OrderID       string
	CreatedAt     time.Time
}

// TradeStore persists applied fills and unwinds.
type TradeStore interface {
	Insert(ctx context.Context, rec TradeRecord) error
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]TradeRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]TradeRecord, error)
}

// PositionStore persists per-market position snapshots so operators can audit
// live exposure and resolved outcomes.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	Get(ctx context.Context, marketID string) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
	MarkResolved(ctx context.Context, marketID string, outcome Resolution) error
}
