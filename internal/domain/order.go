package domain

import "time"

// Side identifies one leg of a paired trade.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Opposite returns the paired side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// OrderDirection indicates buy or sell.
type OrderDirection string

const (
	DirectionBuy  OrderDirection = "buy"
	DirectionSell OrderDirection = "sell"
)

// FillStatus tracks the outcome of a single order submission.
type FillStatus string

const (
	FillStatusFilled          FillStatus = "filled"
	FillStatusPartiallyFilled FillStatus = "partially_filled"
	FillStatusUnfilled        FillStatus = "unfilled"
	FillStatusFailed          FillStatus = "failed"
)

// OrderIntent is a single-use order request for one leg. The ID is the
// idempotency key used by the ledger to guard against duplicate fill
// delivery.
type OrderIntent struct {
	ID          string // UUID
	MarketID    string
	TokenID     string
	Side        Side
	Direction   OrderDirection
	Price       float64 // limit price, already slippage-buffered for buys
	Shares      int64   // whole shares; the venue rejects fractional amounts
	SubmittedAt time.Time
}

// Notional returns the limit notional of the intent in USD.
func (i OrderIntent) Notional() float64 {
	return i.Price * float64(i.Shares)
}

// FillResult is the gateway's answer to one OrderIntent. Leg submission
// errors are folded into Status rather than propagated, so a pair of
// FillResults is always available at the reconciliation join.
type FillResult struct {
	IntentID     string
	OrderID      string // venue order ID, empty on failure
	FilledShares int64
	AvgPrice     float64
	Status       FillStatus
	Message      string // venue status or error detail, for logs
}

// Succeeded reports whether the leg acquired any shares.
func (r FillResult) Succeeded() bool {
	return (r.Status == FillStatusFilled || r.Status == FillStatusPartiallyFilled) && r.FilledShares > 0
}

// Opportunity is the ephemeral output of a single evaluation: buy this many
// shares of each leg at the buffered prices.
type Opportunity struct {
	YesPrice    float64 // best YES ask + slippage buffer
	NoPrice     float64 // best NO ask + slippage buffer
	Shares      int64
	CombinedRaw float64 // best YES ask + best NO ask, unbuffered
}

// ExpectedPnL returns the resolution profit locked in if both legs fill at
// their buffered prices.
func (o Opportunity) ExpectedPnL() float64 {
	return float64(o.Shares) * (1.0 - o.YesPrice - o.NoPrice)
}
