package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dutchbook/internal/book"
	"github.com/alanyoungcy/dutchbook/internal/domain"
	"github.com/alanyoungcy/dutchbook/internal/ledger"
)

type fakeSource struct {
	mu         sync.Mutex
	ch         chan domain.BookUpdate
	subscribed []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan domain.BookUpdate, 64)}
}

func (s *fakeSource) Updates() <-chan domain.BookUpdate { return s.ch }

func (s *fakeSource) Subscribe(ctx context.Context, tokenIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = append(s.subscribed, tokenIDs...)
	return nil
}

func (s *fakeSource) Unsubscribe(ctx context.Context, tokenIDs []string) error { return nil }

type fakeDirectory struct {
	mu      sync.Mutex
	current map[string]domain.Market
	byID    map[string]domain.Market
}

func (d *fakeDirectory) Current(ctx context.Context, symbol string) (domain.Market, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.current[symbol]
	if !ok {
		return domain.Market{}, domain.ErrUnknownMarket
	}
	return m, nil
}

func (d *fakeDirectory) Lookup(ctx context.Context, marketID string) (domain.Market, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.byID[marketID]
	if !ok {
		return domain.Market{}, domain.ErrUnknownMarket
	}
	return m, nil
}

func newTestEngine(gw *fakeGateway) (*Engine, *ledger.Ledger, *book.Cache) {
	led := ledger.New()
	books := book.NewCache()
	coord := NewCoordinator(gw, led, books, time.Second, testLogger())
	eng := New(DefaultConfig(), &fakeDirectory{}, newFakeSource(), coord, led, books, testLogger())
	return eng, led, books
}

func TestEngine_EvaluateExecutesAdmittedPair(t *testing.T) {
	gw := newFakeGateway()
	gw.script("tok-yes", domain.DirectionBuy, domain.FillResult{
		OrderID: "y1", FilledShares: 55, AvgPrice: 0.42, Status: domain.FillStatusFilled,
	})
	gw.script("tok-no", domain.DirectionBuy, domain.FillResult{
		OrderID: "n1", FilledShares: 55, AvgPrice: 0.52, Status: domain.FillStatusFilled,
	})
	eng, led, books := newTestEngine(gw)
	mkt := testMarket()
	books.Update("tok-yes", nil, domain.OrderBookSide{{Price: 0.40, Size: 500}}, time.Now())
	books.Update("tok-no", nil, domain.OrderBookSide{{Price: 0.50, Size: 500}}, time.Now())

	w := &marketWorker{market: mkt}
	require.NoError(t, eng.evaluate(context.Background(), w, testLogger()))

	pos := led.Snapshot(mkt.ID)
	assert.Equal(t, domain.PositionBalanced, pos.State)
	assert.EqualValues(t, 55, pos.YesShares)
}

func TestEngine_EvaluateSkipsWithoutLiquidity(t *testing.T) {
	gw := newFakeGateway()
	eng, _, books := newTestEngine(gw)
	mkt := testMarket()
	// Only the YES book is present.
	books.Update("tok-yes", nil, domain.OrderBookSide{{Price: 0.40, Size: 500}}, time.Now())

	w := &marketWorker{market: mkt}
	require.NoError(t, eng.evaluate(context.Background(), w, testLogger()))
	assert.Empty(t, gw.submitted())
}

func TestEngine_EvaluateSkipsWideMarket(t *testing.T) {
	gw := newFakeGateway()
	eng, led, books := newTestEngine(gw)
	mkt := testMarket()
	books.Update("tok-yes", nil, domain.OrderBookSide{{Price: 0.48, Size: 500}}, time.Now())
	books.Update("tok-no", nil, domain.OrderBookSide{{Price: 0.50, Size: 500}}, time.Now())

	w := &marketWorker{market: mkt}
	require.NoError(t, eng.evaluate(context.Background(), w, testLogger()))
	assert.Empty(t, gw.submitted())
	assert.Equal(t, domain.PositionEmpty, led.Snapshot(mkt.ID).State)
}

func TestEngine_CutoffStopsAdmission(t *testing.T) {
	gw := newFakeGateway()
	eng, _, books := newTestEngine(gw)

	mkt := testMarket()
	mkt.ResolutionDeadline = time.Now().UTC().Add(10 * time.Second) // inside the 30s cutoff
	books.Update("tok-yes", nil, domain.OrderBookSide{{Price: 0.40, Size: 500}}, time.Now())
	books.Update("tok-no", nil, domain.OrderBookSide{{Price: 0.50, Size: 500}}, time.Now())

	w := &marketWorker{market: mkt}
	require.NoError(t, eng.evaluate(context.Background(), w, testLogger()))
	require.NoError(t, eng.evaluate(context.Background(), w, testLogger()))
	assert.Empty(t, gw.submitted())
}

func TestEngine_EvaluateSkipsImbalancedPosition(t *testing.T) {
	gw := newFakeGateway()
	eng, led, books := newTestEngine(gw)
	mkt := testMarket()
	books.Update("tok-yes", nil, domain.OrderBookSide{{Price: 0.40, Size: 500}}, time.Now())
	books.Update("tok-no", nil, domain.OrderBookSide{{Price: 0.50, Size: 500}}, time.Now())

	// 5 minutes in, the steady 1.3x ratio applies; 40:10 is far over it.
	_, err := led.Apply(mkt.ID, domain.SideYes, fillResult("a", 40, 0.40))
	require.NoError(t, err)
	_, err = led.Apply(mkt.ID, domain.SideNo, fillResult("b", 10, 0.50))
	require.NoError(t, err)

	w := &marketWorker{market: mkt}
	require.NoError(t, eng.evaluate(context.Background(), w, testLogger()))
	assert.Empty(t, gw.submitted())
}

func fillResult(id string, shares int64, price float64) domain.FillResult {
	return domain.FillResult{
		IntentID:     id,
		FilledShares: shares,
		AvgPrice:     price,
		Status:       domain.FillStatusFilled,
	}
}
