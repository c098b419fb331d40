package domain

import (
	"math"
	"time"
)

// PositionState is the lifecycle of a per-market position.
type PositionState string

const (
	PositionEmpty      PositionState = "empty"
	PositionBuilding   PositionState = "building"
	PositionBalanced   PositionState = "balanced"
	PositionImbalanced PositionState = "imbalanced"
	PositionResolved   PositionState = "resolved"
)

// Position is the per-market record of shares held and cost paid. It is
// created lazily on the first admitted trade and becomes terminal when the
// owning market resolves. TotalCost is the sum of fill price × filled shares
// over every buy fill ever applied; unwinds reduce share counts but are
// accounted separately (see UnwindRecord).
type Position struct {
	MarketID  string
	YesShares int64
	NoShares  int64
	TotalCost float64
	State     PositionState
	UpdatedAt time.Time
}

// SharesOf returns the share count held on the given side.
func (p Position) SharesOf(side Side) int64 {
	if side == SideYes {
		return p.YesShares
	}
	return p.NoShares
}

// ImbalanceRatio returns larger side / smaller side. It is +Inf when exactly
// one side is empty and 1.0 when both are.
func (p Position) ImbalanceRatio() float64 {
	hi, lo := p.YesShares, p.NoShares
	if lo > hi {
		hi, lo = lo, hi
	}
	switch {
	case hi == 0:
		return 1.0
	case lo == 0:
		return math.Inf(1)
	default:
		return float64(hi) / float64(lo)
	}
}

// PairedShares returns the number of fully hedged YES+NO pairs.
func (p Position) PairedShares() int64 {
	if p.YesShares < p.NoShares {
		return p.YesShares
	}
	return p.NoShares
}

// GuaranteedProfit returns the resolution profit locked in by the paired
// portion of the position, assuming the whole cost bought the pairs. Zero
// when the position cannot profit.
func (p Position) GuaranteedProfit() float64 {
	pairs := p.PairedShares()
	if pairs == 0 {
		return 0
	}
	avgCombined := p.TotalCost / float64(pairs)
	if avgCombined >= 1.0 {
		return 0
	}
	return float64(pairs) * (1.0 - avgCombined)
}

// UnwindRecord captures a corrective sell of a filled leg whose pair never
// completed. Proceeds are reported here and never folded into
// Position.TotalCost.
type UnwindRecord struct {
	MarketID     string
	Side         Side
	Shares       int64
	SellPrice    float64
	Proceeds     float64
	RealizedLoss float64 // buy cost of the unwound shares minus proceeds
	OccurredAt   time.Time
}
