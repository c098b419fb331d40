package domain

import "time"

// TradeEventKind distinguishes normal pair legs from corrective unwinds.
type TradeEventKind string

const (
	TradeEventPairLeg TradeEventKind = "pair_leg"
	TradeEventUnwind  TradeEventKind = "unwind"
)

// TradeEvent is the telemetry record emitted for every applied fill.
// Emission is fire-and-forget; sinks must never block the evaluation cycle.
type TradeEvent struct {
	ID            string         `json:"id"`
	Kind          TradeEventKind `json:"kind"`
	Timestamp     time.Time      `json:"timestamp"`
	MarketID      string         `json:"market_id"`
	Side          Side           `json:"side"`
	Price         float64        `json:"price"`
	Shares        int64          `json:"shares"`
	Cost          float64        `json:"cost"`
	CombinedPrice float64        `json:"combined_price"`
	EstimatedPnL  float64        `json:"estimated_pnl"`
}
