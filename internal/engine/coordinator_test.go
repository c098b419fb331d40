package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dutchbook/internal/book"
	"github.com/alanyoungcy/dutchbook/internal/domain"
	"github.com/alanyoungcy/dutchbook/internal/ledger"
)

// fakeGateway scripts FillResults per token and direction and records every
// submit and cancel.
type fakeGateway struct {
	mu      sync.Mutex
	fills   map[string]domain.FillResult
	errs    map[string]error
	submits []domain.OrderIntent
	cancels []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		fills: make(map[string]domain.FillResult),
		errs:  make(map[string]error),
	}
}

func gwKey(tokenID string, dir domain.OrderDirection) string {
	return tokenID + "/" + string(dir)
}

func (g *fakeGateway) script(tokenID string, dir domain.OrderDirection, res domain.FillResult) {
	g.fills[gwKey(tokenID, dir)] = res
}

func (g *fakeGateway) Submit(ctx context.Context, intent domain.OrderIntent) (domain.FillResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submits = append(g.submits, intent)
	key := gwKey(intent.TokenID, intent.Direction)
	if err := g.errs[key]; err != nil {
		return domain.FillResult{}, err
	}
	res, ok := g.fills[key]
	if !ok {
		res = domain.FillResult{Status: domain.FillStatusUnfilled}
	}
	return res, nil
}

func (g *fakeGateway) Cancel(ctx context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, orderID)
	return nil
}

func (g *fakeGateway) submitted() []domain.OrderIntent {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.OrderIntent, len(g.submits))
	copy(out, g.submits)
	return out
}

type fakeSink struct {
	mu     sync.Mutex
	events []domain.TradeEvent
}

func (s *fakeSink) Emit(ctx context.Context, ev domain.TradeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *fakeSink) byKind(kind domain.TradeEventKind) []domain.TradeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TradeEvent
	for _, ev := range s.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type fakeAlerter struct {
	mu     sync.Mutex
	events []string
}

func (a *fakeAlerter) Notify(ctx context.Context, event, title, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func testMarket() domain.Market {
	start := time.Now().UTC().Add(-5 * time.Minute)
	return domain.Market{
		ID:                 "btc-updown-15m-1765548000",
		Symbol:             "BTC",
		YesTokenID:         "tok-yes",
		NoTokenID:          "tok-no",
		StartTime:          start,
		ResolutionDeadline: start.Add(15 * time.Minute),
		Resolution:         domain.ResolutionPending,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCoordinator(gw *fakeGateway) (*Coordinator, *ledger.Ledger, *book.Cache, *fakeSink) {
	led := ledger.New()
	books := book.NewCache()
	sink := &fakeSink{}
	c := NewCoordinator(gw, led, books, time.Second, testLogger())
	c.SetTelemetry(sink)
	return c, led, books, sink
}

func TestCoordinator_BothLegsFilled(t *testing.T) {
	gw := newFakeGateway()
	gw.script("tok-yes", domain.DirectionBuy, domain.FillResult{
		OrderID: "y1", FilledShares: 55, AvgPrice: 0.42, Status: domain.FillStatusFilled,
	})
	gw.script("tok-no", domain.DirectionBuy, domain.FillResult{
		OrderID: "n1", FilledShares: 55, AvgPrice: 0.52, Status: domain.FillStatusFilled,
	})
	c, led, _, sink := newTestCoordinator(gw)
	mkt := testMarket()

	opp := domain.Opportunity{YesPrice: 0.42, NoPrice: 0.52, Shares: 55, CombinedRaw: 0.90}
	require.NoError(t, c.Execute(context.Background(), mkt, opp))

	pos := led.Snapshot(mkt.ID)
	assert.Equal(t, domain.PositionBalanced, pos.State)
	assert.EqualValues(t, 55, pos.YesShares)
	assert.EqualValues(t, 55, pos.NoShares)
	assert.InDelta(t, 55*0.42+55*0.52, pos.TotalCost, 1e-9)

	assert.Len(t, gw.submitted(), 2)
	assert.Len(t, sink.byKind(domain.TradeEventPairLeg), 2)
	assert.Empty(t, sink.byKind(domain.TradeEventUnwind))
}

func TestCoordinator_BrokenPairUnwound(t *testing.T) {
	gw := newFakeGateway()
	gw.script("tok-yes", domain.DirectionBuy, domain.FillResult{
		OrderID: "y1", FilledShares: 50, AvgPrice: 0.42, Status: domain.FillStatusFilled,
	})
	gw.script("tok-no", domain.DirectionBuy, domain.FillResult{
		OrderID: "n1", Status: domain.FillStatusUnfilled,
	})
	gw.script("tok-yes", domain.DirectionSell, domain.FillResult{
		OrderID: "s1", FilledShares: 50, AvgPrice: 0.38, Status: domain.FillStatusFilled,
	})
	c, led, books, sink := newTestCoordinator(gw)
	mkt := testMarket()
	books.Update("tok-yes", domain.OrderBookSide{{Price: 0.38, Size: 200}}, nil, time.Now())

	opp := domain.Opportunity{YesPrice: 0.42, NoPrice: 0.52, Shares: 50, CombinedRaw: 0.90}
	require.NoError(t, c.Execute(context.Background(), mkt, opp))

	pos := led.Snapshot(mkt.ID)
	assert.EqualValues(t, 0, pos.YesShares)
	assert.EqualValues(t, 0, pos.NoShares)
	// The buy stays in TotalCost; the sell is tracked as an unwind record.
	assert.InDelta(t, 50*0.42, pos.TotalCost, 1e-9)

	unwinds := led.Unwinds(mkt.ID)
	require.Len(t, unwinds, 1)
	assert.InDelta(t, 50*0.38, unwinds[0].Proceeds, 1e-9)
	assert.InDelta(t, (0.42-0.38)*50, unwinds[0].RealizedLoss, 1e-9)

	// Sell intent went out at the best bid for the filled quantity.
	subs := gw.submitted()
	require.Len(t, subs, 3)
	sell := subs[2]
	assert.Equal(t, domain.DirectionSell, sell.Direction)
	assert.Equal(t, "tok-yes", sell.TokenID)
	assert.InDelta(t, 0.38, sell.Price, 1e-9)
	assert.EqualValues(t, 50, sell.Shares)

	// Unfilled NO leg's resting order was cancelled.
	assert.Contains(t, gw.cancels, "n1")
	assert.Len(t, sink.byKind(domain.TradeEventUnwind), 1)
}

func TestCoordinator_UnwindFailureAlerts(t *testing.T) {
	gw := newFakeGateway()
	gw.script("tok-no", domain.DirectionBuy, domain.FillResult{
		OrderID: "n1", FilledShares: 30, AvgPrice: 0.52, Status: domain.FillStatusFilled,
	})
	gw.script("tok-yes", domain.DirectionBuy, domain.FillResult{
		OrderID: "y1", Status: domain.FillStatusUnfilled,
	})
	gw.script("tok-no", domain.DirectionSell, domain.FillResult{
		Status: domain.FillStatusFailed, Message: "rejected",
	})
	c, led, books, _ := newTestCoordinator(gw)
	alerts := &fakeAlerter{}
	c.SetAlerter(alerts)
	mkt := testMarket()
	books.Update("tok-no", domain.OrderBookSide{{Price: 0.48, Size: 100}}, nil, time.Now())

	opp := domain.Opportunity{YesPrice: 0.42, NoPrice: 0.52, Shares: 30, CombinedRaw: 0.90}
	require.NoError(t, c.Execute(context.Background(), mkt, opp))

	// The imbalance stands and the operator hears about it.
	pos := led.Snapshot(mkt.ID)
	assert.EqualValues(t, 30, pos.NoShares)
	assert.Contains(t, alerts.events, "unwind_failed")
	assert.Empty(t, led.Unwinds(mkt.ID))
}

func TestCoordinator_UnwindWithoutBidAlerts(t *testing.T) {
	gw := newFakeGateway()
	gw.script("tok-yes", domain.DirectionBuy, domain.FillResult{
		OrderID: "y1", FilledShares: 20, AvgPrice: 0.42, Status: domain.FillStatusFilled,
	})
	c, led, _, _ := newTestCoordinator(gw)
	alerts := &fakeAlerter{}
	c.SetAlerter(alerts)
	mkt := testMarket()

	opp := domain.Opportunity{YesPrice: 0.42, NoPrice: 0.52, Shares: 20, CombinedRaw: 0.90}
	require.NoError(t, c.Execute(context.Background(), mkt, opp))

	// No bid ladder, so no sell was attempted at all.
	assert.Len(t, gw.submitted(), 2)
	assert.Contains(t, alerts.events, "unwind_failed")
	assert.EqualValues(t, 20, led.Snapshot(mkt.ID).YesShares)
}

func TestCoordinator_NeitherLegFilled(t *testing.T) {
	gw := newFakeGateway()
	gw.errs[gwKey("tok-yes", domain.DirectionBuy)] = errors.New("connection reset")
	gw.script("tok-no", domain.DirectionBuy, domain.FillResult{
		OrderID: "n1", Status: domain.FillStatusUnfilled,
	})
	c, led, _, sink := newTestCoordinator(gw)
	mkt := testMarket()

	opp := domain.Opportunity{YesPrice: 0.42, NoPrice: 0.52, Shares: 10, CombinedRaw: 0.90}
	require.NoError(t, c.Execute(context.Background(), mkt, opp))

	assert.Equal(t, domain.PositionEmpty, led.Snapshot(mkt.ID).State)
	assert.Empty(t, sink.events)
	assert.Contains(t, gw.cancels, "n1")
}

func TestCoordinator_PartialFillsBothApplied(t *testing.T) {
	gw := newFakeGateway()
	gw.script("tok-yes", domain.DirectionBuy, domain.FillResult{
		OrderID: "y1", FilledShares: 40, AvgPrice: 0.42, Status: domain.FillStatusPartiallyFilled,
	})
	gw.script("tok-no", domain.DirectionBuy, domain.FillResult{
		OrderID: "n1", FilledShares: 55, AvgPrice: 0.52, Status: domain.FillStatusFilled,
	})
	c, led, _, _ := newTestCoordinator(gw)
	mkt := testMarket()

	opp := domain.Opportunity{YesPrice: 0.42, NoPrice: 0.52, Shares: 55, CombinedRaw: 0.90}
	require.NoError(t, c.Execute(context.Background(), mkt, opp))

	// Both legs acquired shares, so both apply and no unwind happens; later
	// cycles repair the imbalance under the risk gate.
	pos := led.Snapshot(mkt.ID)
	assert.Equal(t, domain.PositionImbalanced, pos.State)
	assert.EqualValues(t, 40, pos.YesShares)
	assert.EqualValues(t, 55, pos.NoShares)

	// The partially filled YES order's remainder was cancelled.
	assert.Contains(t, gw.cancels, "y1")
}

func TestCoordinator_DuplicateDeliveryAppliesOnce(t *testing.T) {
	gw := newFakeGateway()
	gw.script("tok-yes", domain.DirectionBuy, domain.FillResult{
		OrderID: "y1", FilledShares: 10, AvgPrice: 0.40, Status: domain.FillStatusFilled,
	})
	gw.script("tok-no", domain.DirectionBuy, domain.FillResult{
		OrderID: "n1", FilledShares: 10, AvgPrice: 0.50, Status: domain.FillStatusFilled,
	})
	c, led, _, _ := newTestCoordinator(gw)
	mkt := testMarket()

	// Pin intent IDs so a replayed cycle reuses them.
	ids := []string{"i1", "i2", "i1", "i2", "e1", "e2", "e3", "e4"}
	n := 0
	c.SetIDSource(func() string { n++; return ids[(n-1)%len(ids)] })

	opp := domain.Opportunity{YesPrice: 0.42, NoPrice: 0.52, Shares: 10, CombinedRaw: 0.90}
	require.NoError(t, c.Execute(context.Background(), mkt, opp))
	n = 0
	require.NoError(t, c.Execute(context.Background(), mkt, opp))

	pos := led.Snapshot(mkt.ID)
	assert.EqualValues(t, 10, pos.YesShares)
	assert.EqualValues(t, 10, pos.NoShares)
	assert.InDelta(t, 10*0.40+10*0.50, pos.TotalCost, 1e-9)
}
