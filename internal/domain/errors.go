package domain

import "errors"

// Skip-class errors represent normal flow control: the current cycle produces
// no trade and the next book update re-evaluates from scratch. They are
// logged, never propagated as failures.
var (
	ErrNoLiquidity          = errors.New("no liquidity")
	ErrNoOpportunity        = errors.New("no opportunity at current prices")
	ErrBelowMinOrder        = errors.New("order below minimum notional")
	ErrPositionLimitReached = errors.New("position limit reached")
	ErrImbalanceRejected    = errors.New("imbalance limit rejected")
)

// Hard errors.
var (
	ErrPositionResolved = errors.New("position resolved")
	ErrUnknownMarket    = errors.New("unknown market")
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnwindFailed     = errors.New("unwind failed")
	ErrWSDisconnect     = errors.New("websocket disconnected")
)
