package paper

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dutchbook/internal/book"
	"github.com/alanyoungcy/dutchbook/internal/domain"
)

func newGateway() (*Gateway, *book.Cache) {
	books := book.NewCache()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGateway(books, logger), books
}

func buyIntent(shares int64, price float64) domain.OrderIntent {
	return domain.OrderIntent{
		ID:        "i-1",
		MarketID:  "btc-updown-15m-1765548000",
		TokenID:   "tok-yes",
		Side:      domain.SideYes,
		Direction: domain.DirectionBuy,
		Price:     price,
		Shares:    shares,
	}
}

func TestSubmit_FillsAtTouch(t *testing.T) {
	gw, books := newGateway()
	books.Update("tok-yes",
		domain.OrderBookSide{{Price: 0.38, Size: 200}},
		domain.OrderBookSide{{Price: 0.40, Size: 200}},
		time.Now(),
	)

	res, err := gw.Submit(context.Background(), buyIntent(55, 0.42))
	require.NoError(t, err)
	assert.Equal(t, domain.FillStatusFilled, res.Status)
	assert.Equal(t, int64(55), res.FilledShares)
	assert.Equal(t, 0.40, res.AvgPrice, "fills at the touch, not the limit")
	assert.NotEmpty(t, res.OrderID)
}

func TestSubmit_PartialOnThinBook(t *testing.T) {
	gw, books := newGateway()
	books.Update("tok-yes",
		nil,
		domain.OrderBookSide{{Price: 0.40, Size: 30}},
		time.Now(),
	)

	res, err := gw.Submit(context.Background(), buyIntent(55, 0.42))
	require.NoError(t, err)
	assert.Equal(t, domain.FillStatusPartiallyFilled, res.Status)
	assert.Equal(t, int64(30), res.FilledShares)
}

func TestSubmit_UnfilledWhenLimitDoesNotCross(t *testing.T) {
	gw, books := newGateway()
	books.Update("tok-yes",
		nil,
		domain.OrderBookSide{{Price: 0.45, Size: 100}},
		time.Now(),
	)

	res, err := gw.Submit(context.Background(), buyIntent(55, 0.42))
	require.NoError(t, err)
	assert.Equal(t, domain.FillStatusUnfilled, res.Status)
	assert.Zero(t, res.FilledShares)
}

func TestSubmit_UnfilledWithoutLiquidity(t *testing.T) {
	gw, _ := newGateway()

	res, err := gw.Submit(context.Background(), buyIntent(55, 0.42))
	require.NoError(t, err)
	assert.Equal(t, domain.FillStatusUnfilled, res.Status)
}

func TestSubmit_SellFillsAgainstBid(t *testing.T) {
	gw, books := newGateway()
	books.Update("tok-yes",
		domain.OrderBookSide{{Price: 0.38, Size: 100}},
		nil,
		time.Now(),
	)

	intent := buyIntent(40, 0.36)
	intent.Direction = domain.DirectionSell

	res, err := gw.Submit(context.Background(), intent)
	require.NoError(t, err)
	assert.Equal(t, domain.FillStatusFilled, res.Status)
	assert.Equal(t, 0.38, res.AvgPrice)
}

func TestStatsAccumulate(t *testing.T) {
	gw, books := newGateway()
	books.Update("tok-yes",
		nil,
		domain.OrderBookSide{{Price: 0.40, Size: 500}},
		time.Now(),
	)

	_, err := gw.Submit(context.Background(), buyIntent(55, 0.42))
	require.NoError(t, err)
	_, err = gw.Submit(context.Background(), buyIntent(10, 0.42))
	require.NoError(t, err)

	fills, volume := gw.Stats()
	assert.Equal(t, int64(2), fills)
	assert.InDelta(t, 65*0.40, volume, 1e-9)

	assert.NoError(t, gw.Cancel(context.Background(), "paper-x"))
}
