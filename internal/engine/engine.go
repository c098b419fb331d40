// Package engine contains the evaluation and execution core: the opportunity
// evaluator, the time-indexed risk gate, the dual-leg execution coordinator,
// and the per-market scheduler that ties them to the book stream and the
// market directory.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dutchbook/internal/book"
	"github.com/alanyoungcy/dutchbook/internal/domain"
	"github.com/alanyoungcy/dutchbook/internal/ledger"
)

// BookSource delivers order book snapshots. Reconnection and resubscription
// are internal to the implementation; the engine only consumes Updates and
// manages subscriptions as markets come and go.
type BookSource interface {
	Updates() <-chan domain.BookUpdate
	Subscribe(ctx context.Context, tokenIDs []string) error
	Unsubscribe(ctx context.Context, tokenIDs []string) error
}

// Archiver receives a market's final state after resolution.
type Archiver interface {
	ArchiveResolved(ctx context.Context, market domain.Market, pos domain.Position, unwinds []domain.UnwindRecord) error
}

// Config holds the engine's scheduling parameters. Evaluation and risk
// parameters live in EvalParams and RiskLimits.
type Config struct {
	Eval             EvalParams
	Risk             RiskLimits
	Symbols          []string
	PollInterval     time.Duration // directory refresh cadence
	ResolutionCutoff time.Duration // stop admitting this close to the deadline
	QueueDepth       int           // per-market update buffer
}

// DefaultConfig returns the production scheduling defaults.
func DefaultConfig() Config {
	return Config{
		Eval:             DefaultEvalParams(),
		Risk:             DefaultRiskLimits(),
		Symbols:          []string{"BTC"},
		PollInterval:     10 * time.Second,
		ResolutionCutoff: 30 * time.Second,
		QueueDepth:       16,
	}
}

type marketWorker struct {
	market  domain.Market
	updates chan domain.BookUpdate
	done    chan struct{}
	cutoff  sync.Once
}

// Engine runs one evaluation worker per tracked market. Book updates route
// to their market's worker through a buffered channel; the worker evaluates
// and executes synchronously, so cycles for one market never overlap while
// markets stay independent of each other.
type Engine struct {
	cfg       Config
	directory domain.MarketDirectory
	source    BookSource
	coord     *Coordinator
	gate      *RiskGate
	ledger    *ledger.Ledger
	books     *book.Cache
	logger    *slog.Logger

	archiver  Archiver
	positions domain.PositionStore

	mu      sync.RWMutex
	workers map[string]*marketWorker // by market ID
	byToken map[string]string        // token ID to market ID

	now func() time.Time
}

// New creates an Engine.
func New(
	cfg Config,
	directory domain.MarketDirectory,
	source BookSource,
	coord *Coordinator,
	led *ledger.Ledger,
	books *book.Cache,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		cfg:       cfg,
		directory: directory,
		source:    source,
		coord:     coord,
		gate:      NewRiskGate(cfg.Risk),
		ledger:    led,
		books:     books,
		logger:    logger.With(slog.String("component", "engine")),
		workers:   make(map[string]*marketWorker),
		byToken:   make(map[string]string),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetArchiver enables archival of resolved markets.
func (e *Engine) SetArchiver(a Archiver) { e.archiver = a }

// SetPositionStore enables resolution marking in persistent storage.
func (e *Engine) SetPositionStore(s domain.PositionStore) { e.positions = s }

// SetClock overrides the engine's time source. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Run discovers markets for the configured symbols, routes book updates to
// per-market workers, and polls the directory for new and resolved markets.
// It blocks until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine started", slog.Any("symbols", e.cfg.Symbols))
	defer e.logger.Info("engine stopped")

	g, gctx := errgroup.WithContext(ctx)
	e.refresh(gctx, g)

	g.Go(func() error { return e.route(gctx, g) })
	g.Go(func() error { return e.poll(gctx, g) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// route fans book updates out to market workers. A full worker queue drops
// the update; books are snapshots, so a fresher one supersedes it anyway.
func (e *Engine) route(ctx context.Context, g *errgroup.Group) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd, ok := <-e.source.Updates():
			if !ok {
				return errors.New("engine: book source closed")
			}
			e.mu.RLock()
			marketID, known := e.byToken[upd.TokenID]
			w := e.workers[marketID]
			e.mu.RUnlock()
			if !known || w == nil {
				continue
			}
			select {
			case w.updates <- upd:
			default:
				e.logger.Debug("worker queue full, update dropped",
					slog.String("market_id", marketID),
					slog.String("token_id", upd.TokenID),
				)
			}
		}
	}
}

// poll refreshes the tracked market set and watches for resolution.
func (e *Engine) poll(ctx context.Context, g *errgroup.Group) error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.refresh(ctx, g)
			e.sweepResolved(ctx)
		}
	}
}

// refresh tracks the current market for every configured symbol.
func (e *Engine) refresh(ctx context.Context, g *errgroup.Group) {
	for _, symbol := range e.cfg.Symbols {
		market, err := e.directory.Current(ctx, symbol)
		if err != nil {
			e.logger.Warn("market discovery failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.track(ctx, g, market)
	}
}

// track registers a market, subscribes its tokens, and starts its worker.
// Tracking an already-tracked market is a no-op.
func (e *Engine) track(ctx context.Context, g *errgroup.Group, market domain.Market) {
	e.mu.Lock()
	if _, exists := e.workers[market.ID]; exists {
		e.mu.Unlock()
		return
	}
	w := &marketWorker{
		market:  market,
		updates: make(chan domain.BookUpdate, e.cfg.QueueDepth),
		done:    make(chan struct{}),
	}
	e.workers[market.ID] = w
	e.byToken[market.YesTokenID] = market.ID
	e.byToken[market.NoTokenID] = market.ID
	e.mu.Unlock()

	tokens := []string{market.YesTokenID, market.NoTokenID}
	if err := e.source.Subscribe(ctx, tokens); err != nil {
		e.logger.Error("subscribe failed",
			slog.String("market_id", market.ID),
			slog.String("error", err.Error()),
		)
	}

	e.logger.Info("tracking market",
		slog.String("market_id", market.ID),
		slog.String("symbol", market.Symbol),
		slog.Time("deadline", market.ResolutionDeadline),
	)
	g.Go(func() error { return e.work(ctx, w) })
}

// work is the per-market loop: apply the update to the cache, then evaluate
// and possibly execute. Execution is synchronous, which is the back-pressure
// that serializes cycles for this market. A ledger failure stops this market
// only; the rest of the engine keeps running.
func (e *Engine) work(ctx context.Context, w *marketWorker) error {
	log := e.logger.With(slog.String("market_id", w.market.ID))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			return nil
		case upd := <-w.updates:
			e.books.Update(upd.TokenID, upd.Bids, upd.Asks, upd.Timestamp)
			if err := e.evaluate(ctx, w, log); err != nil {
				log.Error("market stopped", slog.String("error", err.Error()))
				e.forget(w.market)
				return nil
			}
		}
	}
}

// forget drops a market's routing entries without resolving its position.
func (e *Engine) forget(market domain.Market) {
	e.mu.Lock()
	delete(e.workers, market.ID)
	delete(e.byToken, market.YesTokenID)
	delete(e.byToken, market.NoTokenID)
	e.mu.Unlock()
}

// evaluate runs one admission cycle for the worker's market. Skip-class
// conditions end the cycle quietly; only ledger corruption propagates.
func (e *Engine) evaluate(ctx context.Context, w *marketWorker, log *slog.Logger) error {
	market := w.market
	now := e.now()

	if !now.Before(market.ResolutionDeadline.Add(-e.cfg.ResolutionCutoff)) {
		w.cutoff.Do(func() {
			log.Info("cutoff reached, admission stopped")
			e.coord.CancelOutstanding(ctx, market.ID)
		})
		return nil
	}

	minutes := market.MinutesFromStart(now)
	if minutes < 0 {
		return nil
	}

	pos := e.ledger.Snapshot(market.ID)
	if pos.State == domain.PositionResolved {
		return nil
	}
	if err := e.gate.CanBuyPair(pos, minutes); err != nil {
		log.Debug("risk gate rejected", slog.String("reason", err.Error()))
		return nil
	}

	yesAsk, err := e.books.BestAsk(market.YesTokenID)
	if err != nil {
		return nil
	}
	noAsk, err := e.books.BestAsk(market.NoTokenID)
	if err != nil {
		return nil
	}

	opp, err := Evaluate(e.cfg.Eval, yesAsk.Price, noAsk.Price, pos)
	if err != nil {
		log.Debug("no admission", slog.String("reason", err.Error()))
		return nil
	}

	if err := e.coord.Execute(ctx, market, opp); err != nil {
		return fmt.Errorf("engine: execute %s: %w", market.ID, err)
	}
	return nil
}

// sweepResolved looks up every tracked market and retires the settled ones.
func (e *Engine) sweepResolved(ctx context.Context) {
	e.mu.RLock()
	tracked := make([]domain.Market, 0, len(e.workers))
	for _, w := range e.workers {
		tracked = append(tracked, w.market)
	}
	e.mu.RUnlock()

	for _, m := range tracked {
		latest, err := e.directory.Lookup(ctx, m.ID)
		if err != nil {
			e.logger.Warn("resolution lookup failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if latest.Resolved() {
			e.retire(ctx, latest)
		}
	}
}

// retire resolves the ledger position, persists and archives the final
// state, and releases the market's worker and book subscriptions.
func (e *Engine) retire(ctx context.Context, market domain.Market) {
	log := e.logger.With(
		slog.String("market_id", market.ID),
		slog.String("resolution", string(market.Resolution)),
	)

	pos, err := e.ledger.Resolve(market.ID)
	if err != nil {
		// Already resolved by an earlier sweep; nothing left to do.
		if errors.Is(err, domain.ErrPositionResolved) {
			return
		}
		log.Error("ledger resolve failed", slog.String("error", err.Error()))
		return
	}
	log.Info("market resolved",
		slog.Int64("yes_shares", pos.YesShares),
		slog.Int64("no_shares", pos.NoShares),
		slog.Float64("total_cost", pos.TotalCost),
		slog.Float64("guaranteed_profit", pos.GuaranteedProfit()),
	)

	if e.positions != nil {
		if err := e.positions.MarkResolved(ctx, market.ID, market.Resolution); err != nil {
			log.Warn("position store resolve failed", slog.String("error", err.Error()))
		}
	}
	if e.archiver != nil {
		if err := e.archiver.ArchiveResolved(ctx, market, pos, e.ledger.Unwinds(market.ID)); err != nil {
			log.Warn("archive failed", slog.String("error", err.Error()))
		}
	}

	tokens := []string{market.YesTokenID, market.NoTokenID}
	if err := e.source.Unsubscribe(ctx, tokens); err != nil {
		log.Warn("unsubscribe failed", slog.String("error", err.Error()))
	}

	e.mu.Lock()
	if w, ok := e.workers[market.ID]; ok {
		close(w.done)
		delete(e.workers, market.ID)
	}
	delete(e.byToken, market.YesTokenID)
	delete(e.byToken, market.NoTokenID)
	e.mu.Unlock()

	for _, tok := range tokens {
		e.books.Drop(tok)
	}
	e.ledger.Drop(market.ID)
}
