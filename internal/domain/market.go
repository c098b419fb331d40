package domain

import "time"

// Resolution is the terminal outcome of a binary market.
type Resolution string

const (
	ResolutionPending Resolution = "pending"
	ResolutionYes     Resolution = "yes"
	ResolutionNo      Resolution = "no"
)

// Market represents one binary-outcome market (e.g. a 15-minute BTC up/down
// contract). Everything except Resolution is immutable after discovery;
// Resolution is set exactly once when the market settles.
type Market struct {
	ID                 string // slug, e.g. "btc-updown-15m-1765548000"
	Symbol             string // e.g. "BTC"
	YesTokenID         string
	NoTokenID          string
	StartTime          time.Time
	ResolutionDeadline time.Time
	Resolution         Resolution
}

// TokenFor returns the token ID for the given side.
func (m Market) TokenFor(side Side) string {
	if side == SideYes {
		return m.YesTokenID
	}
	return m.NoTokenID
}

// MinutesFromStart returns the elapsed time since the market opened, in
// minutes. Negative before the start time.
func (m Market) MinutesFromStart(now time.Time) float64 {
	return now.Sub(m.StartTime).Minutes()
}

// Resolved reports whether the market has settled.
func (m Market) Resolved() bool {
	return m.Resolution != ResolutionPending && m.Resolution != ""
}
