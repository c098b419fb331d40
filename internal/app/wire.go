package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/dutchbook/internal/blob/s3"
	"github.com/alanyoungcy/dutchbook/internal/book"
	"github.com/alanyoungcy/dutchbook/internal/cache/redis"
	"github.com/alanyoungcy/dutchbook/internal/config"
	"github.com/alanyoungcy/dutchbook/internal/domain"
	"github.com/alanyoungcy/dutchbook/internal/ledger"
	"github.com/alanyoungcy/dutchbook/internal/notify"
	"github.com/alanyoungcy/dutchbook/internal/platform/polymarket"
	"github.com/alanyoungcy/dutchbook/internal/store/postgres"
	"github.com/alanyoungcy/dutchbook/internal/telemetry"
)

// Dependencies bundles every component the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Books  *book.Cache
	Ledger *ledger.Ledger

	Directory *polymarket.GammaClient
	Stream    *polymarket.Stream

	// Persistence; nil in monitor mode.
	TradeStore    domain.TradeStore
	PositionStore domain.PositionStore

	// Telemetry; never nil, falls back to log-only.
	Telemetry domain.TelemetrySink
	SignalBus *redis.SignalBus

	// Archival; nil when S3 is disabled.
	Archiver *s3blob.Archiver
	Reader   *s3blob.Reader

	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that persist or inspect trades and
// positions.
func needsPostgres(mode string) bool {
	switch strings.ToLower(mode) {
	case "live", "paper", "replay":
		return true
	default:
		return false
	}
}

// Wire constructs the concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Books:     book.NewCache(),
		Ledger:    ledger.New(),
		Directory: polymarket.NewGammaClient(cfg.Polymarket.GammaHost),
		Stream:    polymarket.NewStream(cfg.Polymarket.WsHost+"/ws/market", logger),
	}
	closers = append(closers, func() { _ = deps.Stream.Close() })

	// --- PostgreSQL (only for modes that persist) ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.PositionStore = postgres.NewPositionStore(pool)
	}

	// --- Redis signal bus and telemetry ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		bus := redis.NewSignalBus(redisClient)
		deps.SignalBus = bus
		deps.Telemetry = telemetry.NewBusSink(bus, bus, logger)
	} else {
		deps.Telemetry = telemetry.NewLogSink(logger)
	}

	// --- S3 archival ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		var trades s3blob.TradeArchiveStore
		if ts, ok := deps.TradeStore.(*postgres.TradeStore); ok {
			trades = ts
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), trades)
		deps.Reader = s3blob.NewReader(s3Client)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
