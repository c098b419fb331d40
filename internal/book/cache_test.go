package book

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dutchbook/internal/domain"
)

func TestCache_BestAsk(t *testing.T) {
	c := NewCache()
	now := time.Now()
	c.Update("tok",
		domain.OrderBookSide{{Price: 0.41, Size: 100}},
		domain.OrderBookSide{{Price: 0.44, Size: 50}, {Price: 0.45, Size: 200}},
		now,
	)

	ask, err := c.BestAsk("tok")
	require.NoError(t, err)
	assert.Equal(t, 0.44, ask.Price)
	assert.Equal(t, 50.0, ask.Size)

	bid, err := c.BestBid("tok")
	require.NoError(t, err)
	assert.Equal(t, 0.41, bid.Price)

	assert.Equal(t, now, c.UpdatedAt("tok"))
}

func TestCache_NoLiquidity(t *testing.T) {
	c := NewCache()

	_, err := c.BestAsk("unknown")
	assert.ErrorIs(t, err, domain.ErrNoLiquidity)

	// A token with an empty ask ladder is also no-liquidity.
	c.Update("tok", domain.OrderBookSide{{Price: 0.5, Size: 1}}, nil, time.Now())
	_, err = c.BestAsk("tok")
	assert.ErrorIs(t, err, domain.ErrNoLiquidity)
	_, err = c.BestBid("tok")
	assert.NoError(t, err)
}

func TestCache_UpdateReplacesWholesale(t *testing.T) {
	c := NewCache()
	c.Update("tok", nil, domain.OrderBookSide{{Price: 0.40, Size: 10}}, time.Now())
	c.Update("tok", nil, domain.OrderBookSide{{Price: 0.55, Size: 5}}, time.Now())

	ask, err := c.BestAsk("tok")
	require.NoError(t, err)
	assert.Equal(t, 0.55, ask.Price)
}

func TestCache_Drop(t *testing.T) {
	c := NewCache()
	c.Update("tok", nil, domain.OrderBookSide{{Price: 0.40, Size: 10}}, time.Now())
	c.Drop("tok")
	_, err := c.BestAsk("tok")
	assert.ErrorIs(t, err, domain.ErrNoLiquidity)
}
