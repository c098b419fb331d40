package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dutchbook/internal/book"
	"github.com/alanyoungcy/dutchbook/internal/domain"
	"github.com/alanyoungcy/dutchbook/internal/ledger"
)

// Alerter receives high-severity operator alerts. Implemented by the notify
// package's Notifier.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Coordinator executes one admitted opportunity: both legs submitted
// concurrently, results joined, the ledger updated from whatever actually
// filled, and a broken pair unwound best-effort.
type Coordinator struct {
	gateway domain.OrderGateway
	ledger  *ledger.Ledger
	books   *book.Cache
	logger  *slog.Logger

	submitTimeout time.Duration

	sink      domain.TelemetrySink
	alerts    Alerter
	trades    domain.TradeStore
	positions domain.PositionStore

	// open tracks resting venue orders whose cancel failed, per market, so
	// the cutoff sweep can retry them.
	openMu sync.Mutex
	open   map[string]map[string]struct{}

	now   func() time.Time
	newID func() string
}

// NewCoordinator creates a Coordinator. submitTimeout bounds each leg's
// Submit call; the join therefore completes within roughly one timeout.
func NewCoordinator(
	gateway domain.OrderGateway,
	led *ledger.Ledger,
	books *book.Cache,
	submitTimeout time.Duration,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		gateway:       gateway,
		ledger:        led,
		books:         books,
		logger:        logger.With(slog.String("component", "coordinator")),
		submitTimeout: submitTimeout,
		open:          make(map[string]map[string]struct{}),
		now:           func() time.Time { return time.Now().UTC() },
		newID:         func() string { return uuid.New().String() },
	}
}

// SetTelemetry enables fire-and-forget TradeEvent emission.
func (c *Coordinator) SetTelemetry(sink domain.TelemetrySink) { c.sink = sink }

// SetAlerter enables operator alerts for unwind failures.
func (c *Coordinator) SetAlerter(a Alerter) { c.alerts = a }

// SetRecording enables trade and position persistence. Store failures are
// logged and never affect execution.
func (c *Coordinator) SetRecording(trades domain.TradeStore, positions domain.PositionStore) {
	c.trades = trades
	c.positions = positions
}

// SetClock and SetIDSource override time and ID generation. Test hooks.
func (c *Coordinator) SetClock(now func() time.Time)   { c.now = now }
func (c *Coordinator) SetIDSource(newID func() string) { c.newID = newID }

// Execute runs one dual-leg cycle for the market. It blocks until both legs
// have been submitted, joined, and reconciled; the caller's per-market worker
// uses that as back-pressure against overlapping cycles. Skip conditions and
// per-leg failures are absorbed here; the returned error is reserved for
// ledger corruption, which must stop the market.
func (c *Coordinator) Execute(ctx context.Context, market domain.Market, opp domain.Opportunity) error {
	intents := [2]domain.OrderIntent{
		c.buyIntent(market, domain.SideYes, opp.YesPrice, opp.Shares),
		c.buyIntent(market, domain.SideNo, opp.NoPrice, opp.Shares),
	}

	log := c.logger.With(
		slog.String("market_id", market.ID),
		slog.Int64("shares", opp.Shares),
		slog.Float64("combined_raw", opp.CombinedRaw),
	)
	log.Info("submitting pair",
		slog.Float64("yes_price", opp.YesPrice),
		slog.Float64("no_price", opp.NoPrice),
	)

	var fills [2]domain.FillResult
	g, gctx := errgroup.WithContext(ctx)
	for i := range intents {
		g.Go(func() error {
			fills[i] = c.submit(gctx, intents[i])
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors; failures are folded into fills

	// Resting orders: anything not fully filled may still be live on the
	// venue. Cancel before reconciling so the book cannot fill us later.
	for i := range fills {
		c.cancelRemainder(ctx, market.ID, fills[i], log)
	}

	yes, no := fills[0], fills[1]
	switch {
	case yes.Succeeded() && no.Succeeded():
		if err := c.applyLeg(ctx, market, domain.SideYes, yes, opp); err != nil {
			return err
		}
		if err := c.applyLeg(ctx, market, domain.SideNo, no, opp); err != nil {
			return err
		}
		log.Info("pair complete",
			slog.Int64("yes_filled", yes.FilledShares),
			slog.Int64("no_filled", no.FilledShares),
		)

	case yes.Succeeded():
		if err := c.applyLeg(ctx, market, domain.SideYes, yes, opp); err != nil {
			return err
		}
		c.unwind(ctx, market, domain.SideYes, yes, opp.YesPrice, log)

	case no.Succeeded():
		if err := c.applyLeg(ctx, market, domain.SideNo, no, opp); err != nil {
			return err
		}
		c.unwind(ctx, market, domain.SideNo, no, opp.NoPrice, log)

	default:
		log.Warn("neither leg filled",
			slog.String("yes_status", string(yes.Status)),
			slog.String("no_status", string(no.Status)),
		)
	}

	c.persistPosition(ctx, market.ID)
	return nil
}

func (c *Coordinator) buyIntent(market domain.Market, side domain.Side, price float64, shares int64) domain.OrderIntent {
	return domain.OrderIntent{
		ID:          c.newID(),
		MarketID:    market.ID,
		TokenID:     market.TokenFor(side),
		Side:        side,
		Direction:   domain.DirectionBuy,
		Price:       price,
		Shares:      shares,
		SubmittedAt: c.now(),
	}
}

// submit calls the gateway with the per-leg timeout and folds transport
// errors into a failed FillResult so the join always sees two results.
func (c *Coordinator) submit(ctx context.Context, intent domain.OrderIntent) domain.FillResult {
	sctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	res, err := c.gateway.Submit(sctx, intent)
	if err != nil {
		c.logger.Error("leg submission failed",
			slog.String("intent_id", intent.ID),
			slog.String("side", string(intent.Side)),
			slog.String("error", err.Error()),
		)
		return domain.FillResult{
			IntentID: intent.ID,
			Status:   domain.FillStatusFailed,
			Message:  err.Error(),
		}
	}
	res.IntentID = intent.ID
	return res
}

func (c *Coordinator) cancelRemainder(ctx context.Context, marketID string, fill domain.FillResult, log *slog.Logger) {
	if fill.OrderID == "" || fill.Status == domain.FillStatusFilled {
		return
	}
	if err := c.gateway.Cancel(ctx, fill.OrderID); err != nil {
		log.Warn("cancel resting order failed",
			slog.String("order_id", fill.OrderID),
			slog.String("error", err.Error()),
		)
		c.trackOpen(marketID, fill.OrderID)
	}
}

func (c *Coordinator) trackOpen(marketID, orderID string) {
	c.openMu.Lock()
	defer c.openMu.Unlock()
	if c.open[marketID] == nil {
		c.open[marketID] = make(map[string]struct{})
	}
	c.open[marketID][orderID] = struct{}{}
}

// CancelOutstanding retries every tracked resting order for the market. The
// engine calls it once when the market enters its pre-resolution cutoff.
func (c *Coordinator) CancelOutstanding(ctx context.Context, marketID string) {
	c.openMu.Lock()
	ids := make([]string, 0, len(c.open[marketID]))
	for id := range c.open[marketID] {
		ids = append(ids, id)
	}
	c.openMu.Unlock()

	for _, id := range ids {
		if err := c.gateway.Cancel(ctx, id); err != nil {
			c.logger.Warn("cutoff cancel failed",
				slog.String("market_id", marketID),
				slog.String("order_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		c.openMu.Lock()
		delete(c.open[marketID], id)
		c.openMu.Unlock()
	}
}

// applyLeg credits a buy fill to the ledger and records it. Ledger errors are
// fatal for the market; recording errors are not.
func (c *Coordinator) applyLeg(ctx context.Context, market domain.Market, side domain.Side, fill domain.FillResult, opp domain.Opportunity) error {
	if _, err := c.ledger.Apply(market.ID, side, fill); err != nil {
		return fmt.Errorf("engine: apply %s leg: %w", side, err)
	}

	cost := fill.AvgPrice * float64(fill.FilledShares)
	c.emit(ctx, domain.TradeEvent{
		ID:            c.newID(),
		Kind:          domain.TradeEventPairLeg,
		Timestamp:     c.now(),
		MarketID:      market.ID,
		Side:          side,
		Price:         fill.AvgPrice,
		Shares:        fill.FilledShares,
		Cost:          cost,
		CombinedPrice: opp.CombinedRaw,
		EstimatedPnL:  opp.ExpectedPnL(),
	})
	c.record(ctx, domain.TradeRecord{
		IntentID:      fill.IntentID,
		Kind:          domain.TradeEventPairLeg,
		MarketID:      market.ID,
		Symbol:        market.Symbol,
		Side:          side,
		Direction:     domain.DirectionBuy,
		Price:         fill.AvgPrice,
		Shares:        fill.FilledShares,
		Cost:          cost,
		CombinedPrice: opp.CombinedRaw,
		EstimatedPnL:  opp.ExpectedPnL(),
		OrderID:       fill.OrderID,
		CreatedAt:     c.now(),
	})
	return nil
}

// unwind sells back the filled quantity of a broken pair at the current best
// bid. One attempt; on failure the imbalance stands until the risk gate and
// later cycles repair it, and the operator is alerted.
func (c *Coordinator) unwind(ctx context.Context, market domain.Market, side domain.Side, buy domain.FillResult, buyPrice float64, log *slog.Logger) {
	log = log.With(slog.String("unwind_side", string(side)))

	bid, err := c.books.BestBid(market.TokenFor(side))
	if err != nil {
		c.unwindFailed(ctx, market, side, buy.FilledShares, err, log)
		return
	}

	intent := domain.OrderIntent{
		ID:          c.newID(),
		MarketID:    market.ID,
		TokenID:     market.TokenFor(side),
		Side:        side,
		Direction:   domain.DirectionSell,
		Price:       bid.Price,
		Shares:      buy.FilledShares,
		SubmittedAt: c.now(),
	}
	sell := c.submit(ctx, intent)
	c.cancelRemainder(ctx, market.ID, sell, log)
	if !sell.Succeeded() {
		c.unwindFailed(ctx, market, side, buy.FilledShares,
			errors.New(string(sell.Status)+": "+sell.Message), log)
		return
	}

	rec, err := c.ledger.ApplyUnwind(market.ID, side, sell, buy.AvgPrice)
	if err != nil {
		log.Error("unwind ledger apply failed", slog.String("error", err.Error()))
		return
	}
	log.Warn("pair broken, leg unwound",
		slog.Int64("sold", sell.FilledShares),
		slog.Float64("sell_price", sell.AvgPrice),
		slog.Float64("realized_loss", rec.RealizedLoss),
	)

	c.emit(ctx, domain.TradeEvent{
		ID:        c.newID(),
		Kind:      domain.TradeEventUnwind,
		Timestamp: c.now(),
		MarketID:  market.ID,
		Side:      side,
		Price:     sell.AvgPrice,
		Shares:    sell.FilledShares,
		Cost:      -rec.Proceeds,
	})
	c.record(ctx, domain.TradeRecord{
		IntentID:  sell.IntentID,
		Kind:      domain.TradeEventUnwind,
		MarketID:  market.ID,
		Symbol:    market.Symbol,
		Side:      side,
		Direction: domain.DirectionSell,
		Price:     sell.AvgPrice,
		Shares:    sell.FilledShares,
		Cost:      -rec.Proceeds,
		OrderID:   sell.OrderID,
		CreatedAt: c.now(),
	})
}

func (c *Coordinator) unwindFailed(ctx context.Context, market domain.Market, side domain.Side, shares int64, cause error, log *slog.Logger) {
	err := fmt.Errorf("engine: unwind %d %s shares on %s: %v: %w",
		shares, side, market.ID, cause, domain.ErrUnwindFailed)
	log.Error("unwind failed, imbalance stands", slog.String("error", err.Error()))

	if c.alerts == nil {
		return
	}
	msg := fmt.Sprintf("market %s holds %d unpaired %s shares; automatic unwind failed: %v",
		market.ID, shares, side, cause)
	if nerr := c.alerts.Notify(ctx, "unwind_failed", "Unwind failed", msg); nerr != nil {
		log.Error("unwind alert delivery failed", slog.String("error", nerr.Error()))
	}
}

func (c *Coordinator) emit(ctx context.Context, ev domain.TradeEvent) {
	if c.sink == nil {
		return
	}
	c.sink.Emit(ctx, ev)
}

func (c *Coordinator) record(ctx context.Context, rec domain.TradeRecord) {
	if c.trades == nil {
		return
	}
	if err := c.trades.Insert(ctx, rec); err != nil {
		c.logger.Warn("trade record insert failed",
			slog.String("intent_id", rec.IntentID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Coordinator) persistPosition(ctx context.Context, marketID string) {
	if c.positions == nil {
		return
	}
	if err := c.positions.Upsert(ctx, c.ledger.Snapshot(marketID)); err != nil {
		c.logger.Warn("position upsert failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}
