// Package book holds the latest orderbook ladders per outcome token. The
// cache is in-process because every evaluation cycle reads the touch price on
// its hot path; ladders are replaced wholesale per update, matching the
// stream's snapshot contract.
package book

import (
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/dutchbook/internal/domain"
)

type entry struct {
	bids      domain.OrderBookSide
	asks      domain.OrderBookSide
	updatedAt time.Time
}

// Cache stores the latest bid/ask ladders per token. Safe for concurrent use;
// an Update is atomic relative to readers of the same token.
type Cache struct {
	mu    sync.RWMutex
	books map[string]entry
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{books: make(map[string]entry)}
}

// Update replaces both ladders for a token. The slices are stored as given;
// callers must not mutate them afterwards.
func (c *Cache) Update(tokenID string, bids, asks domain.OrderBookSide, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.books[tokenID] = entry{bids: bids, asks: asks, updatedAt: ts}
}

// BestAsk returns the lowest ask for a token. It returns ErrNoLiquidity when
// the token is unknown or its ask ladder is empty; callers treat that as
// "skip this cycle".
func (c *Cache) BestAsk(tokenID string) (domain.BookLevel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	lvl, ok := c.books[tokenID].asks.Best()
	if !ok {
		return domain.BookLevel{}, fmt.Errorf("book: ask %s: %w", tokenID, domain.ErrNoLiquidity)
	}
	return lvl, nil
}

// BestBid returns the highest bid for a token, or ErrNoLiquidity.
func (c *Cache) BestBid(tokenID string) (domain.BookLevel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	lvl, ok := c.books[tokenID].bids.Best()
	if !ok {
		return domain.BookLevel{}, fmt.Errorf("book: bid %s: %w", tokenID, domain.ErrNoLiquidity)
	}
	return lvl, nil
}

// UpdatedAt returns when the token's book was last replaced. The zero time
// means the token has never been seen.
func (c *Cache) UpdatedAt(tokenID string) time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.books[tokenID].updatedAt
}

// Drop removes a token's ladders, e.g. when its market resolves.
func (c *Cache) Drop(tokenID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.books, tokenID)
}
