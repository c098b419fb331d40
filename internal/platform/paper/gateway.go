// Package paper provides a simulated order gateway for dry runs. Orders never
// leave the process; fills are derived from the cached orderbook so paper
// sessions see the same liquidity the live engine would.
package paper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/dutchbook/internal/book"
	"github.com/alanyoungcy/dutchbook/internal/domain"
)

// Gateway simulates a venue. A buy fills against the best ask while the limit
// price covers it, a sell against the best bid; the fill size is capped by the
// displayed size at the touch, so partial fills occur naturally on thin books.
type Gateway struct {
	books  *book.Cache
	logger *slog.Logger

	mu     sync.Mutex
	fills  int64
	volume float64
}

// NewGateway creates a paper gateway backed by the shared book cache.
func NewGateway(books *book.Cache, logger *slog.Logger) *Gateway {
	return &Gateway{
		books:  books,
		logger: logger.With("component", "paper_gateway"),
	}
}

var _ domain.OrderGateway = (*Gateway)(nil)

// Submit fills the intent against the cached touch. The venue never answers
// with a transport error; an empty book yields an unfilled result, matching a
// resting order that found no counterparty.
func (g *Gateway) Submit(ctx context.Context, intent domain.OrderIntent) (domain.FillResult, error) {
	res := domain.FillResult{
		IntentID: intent.ID,
		OrderID:  "paper-" + uuid.NewString(),
		Status:   domain.FillStatusUnfilled,
	}

	touch, err := g.touch(intent)
	if err != nil {
		if errors.Is(err, domain.ErrNoLiquidity) {
			res.Message = "no liquidity at touch"
			return res, nil
		}
		return res, err
	}

	if !crosses(intent, touch.Price) {
		res.Message = "limit does not cross touch"
		return res, nil
	}

	filled := intent.Shares
	if avail := int64(touch.Size); avail < filled {
		filled = avail
	}
	if filled <= 0 {
		res.Message = "touch size below one share"
		return res, nil
	}

	res.FilledShares = filled
	res.AvgPrice = touch.Price
	if filled == intent.Shares {
		res.Status = domain.FillStatusFilled
	} else {
		res.Status = domain.FillStatusPartiallyFilled
	}

	g.record(filled, touch.Price)
	g.logger.Debug("paper fill",
		"market_id", intent.MarketID,
		"side", intent.Side,
		"direction", intent.Direction,
		"shares", filled,
		"price", touch.Price,
	)

	// Keep latency plausible without slowing tests down.
	select {
	case <-ctx.Done():
		return res, ctx.Err()
	case <-time.After(time.Millisecond):
	}

	return res, nil
}

// Cancel is a no-op: paper orders fill or die at submission and never rest.
func (g *Gateway) Cancel(ctx context.Context, orderID string) error {
	return nil
}

// Stats returns the fill count and total notional traded this session.
func (g *Gateway) Stats() (fills int64, volume float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fills, g.volume
}

func (g *Gateway) touch(intent domain.OrderIntent) (domain.BookLevel, error) {
	if intent.Direction == domain.DirectionBuy {
		return g.books.BestAsk(intent.TokenID)
	}
	return g.books.BestBid(intent.TokenID)
}

func crosses(intent domain.OrderIntent, touchPrice float64) bool {
	if intent.Direction == domain.DirectionBuy {
		return intent.Price >= touchPrice
	}
	return intent.Price <= touchPrice
}

func (g *Gateway) record(shares int64, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fills++
	g.volume += float64(shares) * price
}
