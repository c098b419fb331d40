package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/dutchbook/internal/blob/s3"
	"github.com/alanyoungcy/dutchbook/internal/crypto"
	"github.com/alanyoungcy/dutchbook/internal/domain"
	"github.com/alanyoungcy/dutchbook/internal/engine"
	"github.com/alanyoungcy/dutchbook/internal/platform/paper"
	"github.com/alanyoungcy/dutchbook/internal/platform/polymarket"
	"github.com/alanyoungcy/dutchbook/internal/store/postgres"
)

const (
	// Trades older than this are uploaded to blob storage and pruned.
	tradeRetention = 30 * 24 * time.Hour
	// How often the retention sweep runs.
	retentionInterval = 24 * time.Hour
)

// LiveMode runs the engine against the real CLOB with a signing wallet.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode")

	gateway, err := a.buildClobGateway(ctx)
	if err != nil {
		return fmt.Errorf("live mode: %w", err)
	}

	// A previous run may have left resting orders on the venue. Clear them
	// before the engine starts admitting, so stale limits cannot fill into
	// positions the ledger knows nothing about.
	if orders, err := gateway.OpenOrders(ctx); err != nil {
		a.logger.WarnContext(ctx, "open orders lookup failed", slog.String("error", err.Error()))
	} else if len(orders) > 0 {
		a.logger.InfoContext(ctx, "cancelling stale resting orders", slog.Int("count", len(orders)))
		if err := gateway.CancelAll(ctx); err != nil {
			return fmt.Errorf("live mode: cancel stale orders: %w", err)
		}
	}

	return a.runEngine(ctx, deps, gateway)
}

// PaperMode runs the engine against real market data with simulated fills.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")

	gateway := paper.NewGateway(deps.Books, a.logger)
	defer func() {
		fills, volume := gateway.Stats()
		a.logger.Info("paper session finished", "fills", fills, "volume", volume)
	}()

	return a.runEngine(ctx, deps, gateway)
}

// MonitorMode runs detection only: admitted opportunities are logged, no
// orders are placed and nothing is persisted.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	return a.runEngine(ctx, deps, &monitorGateway{logger: a.logger})
}

// runEngine assembles the coordinator and engine around the given gateway and
// blocks until the context is cancelled.
func (a *App) runEngine(ctx context.Context, deps *Dependencies, gateway domain.OrderGateway) error {
	deps.Stream.SetAlerter(deps.Notifier)
	if err := deps.Stream.Connect(ctx); err != nil {
		return fmt.Errorf("connect market stream: %w", err)
	}

	coord := engine.NewCoordinator(
		gateway, deps.Ledger, deps.Books,
		a.cfg.Engine.SubmitTimeout.Duration, a.logger,
	)
	coord.SetTelemetry(deps.Telemetry)
	coord.SetAlerter(deps.Notifier)
	if deps.TradeStore != nil && deps.PositionStore != nil {
		coord.SetRecording(deps.TradeStore, deps.PositionStore)
	}

	eng := engine.New(
		a.engineConfig(), deps.Directory, deps.Stream,
		coord, deps.Ledger, deps.Books, a.logger,
	)
	if deps.Archiver != nil {
		eng.SetArchiver(deps.Archiver)
	}
	if deps.PositionStore != nil {
		eng.SetPositionStore(deps.PositionStore)
		a.reportOpenPositions(ctx, deps.PositionStore)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })

	if trades, ok := deps.TradeStore.(*postgres.TradeStore); ok && deps.Archiver != nil {
		g.Go(func() error {
			a.retentionLoop(gctx, deps.Archiver, trades)
			return nil
		})
	}

	return g.Wait()
}

// reportOpenPositions logs positions persisted by earlier runs that never
// resolved, so an operator notices exposure the fresh ledger does not carry.
func (a *App) reportOpenPositions(ctx context.Context, store domain.PositionStore) {
	open, err := store.ListOpen(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "open positions lookup failed", slog.String("error", err.Error()))
		return
	}
	for _, pos := range open {
		a.logger.WarnContext(ctx, "unresolved position from earlier run",
			slog.String("market_id", pos.MarketID),
			slog.Int64("yes_shares", pos.YesShares),
			slog.Int64("no_shares", pos.NoShares),
			slog.Float64("total_cost", pos.TotalCost),
		)
	}
}

// retentionLoop periodically uploads trades older than the retention window
// to blob storage and prunes the archived rows. Rows are deleted only after
// the upload succeeded.
func (a *App) retentionLoop(ctx context.Context, archiver *s3blob.Archiver, trades *postgres.TradeStore) {
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-tradeRetention)
			count, err := archiver.ArchiveTrades(ctx, cutoff)
			if err != nil {
				a.logger.Warn("trade archive failed", slog.String("error", err.Error()))
				continue
			}
			if count == 0 {
				continue
			}
			deleted, err := trades.DeleteBefore(ctx, cutoff)
			if err != nil {
				a.logger.Warn("trade prune failed", slog.String("error", err.Error()))
				continue
			}
			a.logger.Info("trade retention sweep complete",
				slog.Int64("archived", count),
				slog.Int64("deleted", deleted),
			)
		}
	}
}

// engineConfig maps the file configuration onto engine parameters.
func (a *App) engineConfig() engine.Config {
	ec := a.cfg.Engine
	return engine.Config{
		Eval: engine.EvalParams{
			MaxCombinedPrice: ec.MaxCombinedPrice,
			MaxPositionUSD:   ec.MaxPositionUSD,
			MinOrderUSD:      ec.MinOrderUSD,
			MaxOrderUSD:      ec.MaxOrderUSD,
			SlippageBuffer:   ec.SlippageBuffer,
		},
		Risk: engine.RiskLimits{
			BootstrapMinutes: ec.BootstrapMinutes,
			RampMinutes:      ec.RampMinutes,
			BootstrapRatio:   ec.BootstrapImbalanceRatio,
			RampRatio:        ec.RampImbalanceRatio,
			SteadyRatio:      ec.SteadyImbalanceRatio,
		},
		Symbols:          ec.Symbols,
		PollInterval:     ec.PollInterval.Duration,
		ResolutionCutoff: ec.ResolutionCutoff.Duration,
		QueueDepth:       ec.QueueDepth,
	}
}

// buildClobGateway creates the signing CLOB gateway for live trading. HMAC
// credentials come from config when present; otherwise they are derived via
// the L1 auth flow.
func (a *App) buildClobGateway(ctx context.Context) (*polymarket.ClobGateway, error) {
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("load wallet key: %w", err)
	}

	signer, err := crypto.NewSigner(key, a.cfg.Polymarket.ChainID)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	a.logger.InfoContext(ctx, "wallet loaded", "address", signer.Address().Hex())

	var hmacAuth *crypto.HMACAuth
	if a.cfg.Polymarket.ApiKey != "" {
		hmacAuth = &crypto.HMACAuth{
			Key:        a.cfg.Polymarket.ApiKey,
			Secret:     a.cfg.Polymarket.ApiSecret,
			Passphrase: a.cfg.Polymarket.ApiPassphrase,
		}
	}

	gateway := polymarket.NewClobGateway(a.cfg.Polymarket.ClobHost, signer, hmacAuth)
	gateway.SetOrderIdentity(a.cfg.Polymarket.SignatureType, a.cfg.Wallet.FunderAddress)
	if hmacAuth == nil {
		if err := gateway.DeriveAPIKey(ctx); err != nil {
			return nil, fmt.Errorf("derive api key: %w", err)
		}
		a.logger.InfoContext(ctx, "derived CLOB api key")
	}

	return gateway, nil
}

// monitorGateway logs admitted opportunities instead of trading them. Every
// submit comes back unfilled, so no position ever builds.
type monitorGateway struct {
	logger *slog.Logger
}

func (m *monitorGateway) Submit(ctx context.Context, intent domain.OrderIntent) (domain.FillResult, error) {
	m.logger.InfoContext(ctx, "opportunity detected",
		"market_id", intent.MarketID,
		"side", intent.Side,
		"price", intent.Price,
		"shares", intent.Shares,
		"notional", intent.Notional(),
	)
	return domain.FillResult{
		IntentID: intent.ID,
		Status:   domain.FillStatusUnfilled,
		Message:  "monitor mode",
	}, nil
}

func (m *monitorGateway) Cancel(ctx context.Context, orderID string) error { return nil }

var _ domain.OrderGateway = (*monitorGateway)(nil)
