package domain

import "time"

// BookLevel is a single price+size entry in an orderbook ladder.
type BookLevel struct {
	Price float64
	Size  float64
}

// OrderBookSide is one side of a token's book: asks ascending by price, bids
// descending. Ladders are replaced wholesale on every update; there is no
// incremental patching contract.
type OrderBookSide []BookLevel

// Best returns the touch level, or false when the ladder is empty.
func (s OrderBookSide) Best() (BookLevel, bool) {
	if len(s) == 0 {
		return BookLevel{}, false
	}
	return s[0], true
}

// BookUpdate is a full snapshot of a single token's book as delivered by the
// market data stream.
type BookUpdate struct {
	TokenID   string
	Bids      OrderBookSide
	Asks      OrderBookSide
	Timestamp time.Time
}
