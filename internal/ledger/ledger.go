// Package ledger owns per-market position state. The Ledger is the single
// writer surface: the execution coordinator applies fills and unwinds, every
// other component reads snapshots. State is partitioned per market, so
// markets never contend with each other.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/dutchbook/internal/domain"
)

type marketPosition struct {
	pos     domain.Position
	applied map[string]struct{} // intent IDs already applied, dedup guard
	unwinds []domain.UnwindRecord
}

// Ledger tracks one Position per market.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*marketPosition
	clock     func() time.Time
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{
		positions: make(map[string]*marketPosition),
		clock:     time.Now,
	}
}

// SetClock overrides the ledger's time source. Test hook.
func (l *Ledger) SetClock(clock func() time.Time) { l.clock = clock }

// Snapshot returns a copy of the market's position. A market that has never
// traded yields an empty position, so evaluators need no existence check.
func (l *Ledger) Snapshot(marketID string) domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if mp, ok := l.positions[marketID]; ok {
		return mp.pos
	}
	return domain.Position{MarketID: marketID, State: domain.PositionEmpty}
}

// Apply credits a buy fill to the market's position: shares on the fill's
// side, AvgPrice times FilledShares on TotalCost. Applying the same intent ID
// twice is a no-op returning the unchanged snapshot, since the gateway may
// deliver a result more than once. Apply fails with ErrPositionResolved once
// the owning market has settled.
func (l *Ledger) Apply(marketID string, side domain.Side, fill domain.FillResult) (domain.Position, error) {
	if fill.FilledShares <= 0 {
		return l.Snapshot(marketID), fmt.Errorf("ledger: apply %s: empty fill", fill.IntentID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	mp := l.get(marketID)
	if mp.pos.State == domain.PositionResolved {
		return mp.pos, fmt.Errorf("ledger: apply %s: %w", marketID, domain.ErrPositionResolved)
	}
	if _, dup := mp.applied[fill.IntentID]; dup {
		return mp.pos, nil
	}
	mp.applied[fill.IntentID] = struct{}{}

	if side == domain.SideYes {
		mp.pos.YesShares += fill.FilledShares
	} else {
		mp.pos.NoShares += fill.FilledShares
	}
	mp.pos.TotalCost += fill.AvgPrice * float64(fill.FilledShares)
	mp.pos.UpdatedAt = l.clock()
	mp.pos.State = stateOf(mp.pos)

	return mp.pos, nil
}

// ApplyUnwind debits the unwound shares from the side and records the sell as
// a ledger-neutral event: proceeds and realized loss live in the unwind
// record, TotalCost keeps its sum-over-buy-fills invariant. Idempotent on the
// unwind intent ID like Apply.
func (l *Ledger) ApplyUnwind(marketID string, side domain.Side, fill domain.FillResult, buyPrice float64) (domain.UnwindRecord, error) {
	if fill.FilledShares <= 0 {
		return domain.UnwindRecord{}, fmt.Errorf("ledger: unwind %s: empty fill", fill.IntentID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	mp := l.get(marketID)
	if mp.pos.State == domain.PositionResolved {
		return domain.UnwindRecord{}, fmt.Errorf("ledger: unwind %s: %w", marketID, domain.ErrPositionResolved)
	}
	if _, dup := mp.applied[fill.IntentID]; dup {
		return domain.UnwindRecord{}, nil
	}
	mp.applied[fill.IntentID] = struct{}{}

	held := mp.pos.SharesOf(side)
	if fill.FilledShares > held {
		return domain.UnwindRecord{}, fmt.Errorf("ledger: unwind %s: sold %d but holding %d %s", marketID, fill.FilledShares, held, side)
	}
	if side == domain.SideYes {
		mp.pos.YesShares -= fill.FilledShares
	} else {
		mp.pos.NoShares -= fill.FilledShares
	}

	proceeds := fill.AvgPrice * float64(fill.FilledShares)
	rec := domain.UnwindRecord{
		MarketID:     marketID,
		Side:         side,
		Shares:       fill.FilledShares,
		SellPrice:    fill.AvgPrice,
		Proceeds:     proceeds,
		RealizedLoss: (buyPrice - fill.AvgPrice) * float64(fill.FilledShares),
		OccurredAt:   l.clock(),
	}
	mp.unwinds = append(mp.unwinds, rec)
	mp.pos.UpdatedAt = rec.OccurredAt
	mp.pos.State = stateOf(mp.pos)

	return rec, nil
}

// Resolve moves the market's position to its terminal state. Further Apply or
// ApplyUnwind calls fail. Resolving an already-resolved market is an error,
// matching the set-exactly-once contract of market resolution.
func (l *Ledger) Resolve(marketID string) (domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	mp := l.get(marketID)
	if mp.pos.State == domain.PositionResolved {
		return mp.pos, fmt.Errorf("ledger: resolve %s: %w", marketID, domain.ErrPositionResolved)
	}
	mp.pos.State = domain.PositionResolved
	mp.pos.UpdatedAt = l.clock()
	return mp.pos, nil
}

// Unwinds returns a copy of the market's unwind history.
func (l *Ledger) Unwinds(marketID string) []domain.UnwindRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	mp, ok := l.positions[marketID]
	if !ok {
		return nil
	}
	out := make([]domain.UnwindRecord, len(mp.unwinds))
	copy(out, mp.unwinds)
	return out
}

// Drop forgets a resolved market's state after it has been archived.
func (l *Ledger) Drop(marketID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.positions, marketID)
}

// MarketIDs returns the IDs of all tracked markets.
func (l *Ledger) MarketIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.positions))
	for id := range l.positions {
		ids = append(ids, id)
	}
	return ids
}

// get returns the tracked position, creating it lazily. Caller holds l.mu.
func (l *Ledger) get(marketID string) *marketPosition {
	mp, ok := l.positions[marketID]
	if !ok {
		mp = &marketPosition{
			pos:     domain.Position{MarketID: marketID, State: domain.PositionEmpty},
			applied: make(map[string]struct{}),
		}
		l.positions[marketID] = mp
	}
	return mp
}

func stateOf(p domain.Position) domain.PositionState {
	switch {
	case p.YesShares == 0 && p.NoShares == 0:
		if p.TotalCost == 0 {
			return domain.PositionEmpty
		}
		return domain.PositionBuilding
	case p.YesShares == p.NoShares:
		return domain.PositionBalanced
	case p.YesShares == 0 || p.NoShares == 0:
		return domain.PositionBuilding
	default:
		return domain.PositionImbalanced
	}
}
