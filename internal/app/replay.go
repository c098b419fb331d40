package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/dutchbook/internal/blob/s3"
	"github.com/alanyoungcy/dutchbook/internal/cache/redis"
	"github.com/alanyoungcy/dutchbook/internal/domain"
	"github.com/alanyoungcy/dutchbook/internal/telemetry"
)

// replayTradeLimit caps how many persisted trades one market report prints.
const replayTradeLimit = 100

// replayEventLimit caps how many telemetry events are read back.
const replayEventLimit = 100

// archiveReader is the slice of the S3 Reader replay mode needs.
type archiveReader interface {
	List(ctx context.Context, prefix string) ([]s3blob.BlobInfo, error)
	Get(ctx context.Context, path string) (io.ReadCloser, error)
}

// streamReader is the slice of the Redis signal bus replay mode needs.
type streamReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]redis.StreamMessage, error)
}

// ReplayMode prints what earlier runs left behind: persisted trades and
// positions for one market, a day of resolved-market archives, and the
// durable telemetry log. It never touches the venue.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	date := a.replayDate
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}

	a.logger.InfoContext(ctx, "starting replay mode",
		slog.String("date", date),
		slog.String("market_id", a.replayMarket),
	)

	if deps.TradeStore == nil && deps.Reader == nil && deps.SignalBus == nil {
		return fmt.Errorf("replay mode: no postgres, s3, or redis configured, nothing to replay")
	}

	if a.replayMarket != "" && deps.TradeStore != nil {
		a.reportMarket(ctx, deps, a.replayMarket)
	}

	if deps.Reader != nil {
		docs, err := replayArchives(ctx, deps.Reader, date)
		if err != nil {
			a.logger.WarnContext(ctx, "archive replay failed", slog.String("error", err.Error()))
		}
		for _, doc := range docs {
			a.logger.Info("archived market",
				slog.String("market_id", doc.Market.ID),
				slog.String("resolution", string(doc.Market.Resolution)),
				slog.Int64("yes_shares", doc.Position.YesShares),
				slog.Int64("no_shares", doc.Position.NoShares),
				slog.Float64("total_cost", doc.Position.TotalCost),
				slog.Float64("guaranteed_profit", doc.Profit),
				slog.Int("unwinds", len(doc.Unwinds)),
			)
		}
		a.logger.Info("archive replay complete", slog.String("date", date), slog.Int("markets", len(docs)))
	}

	if deps.SignalBus != nil {
		events, err := replayTelemetry(ctx, deps.SignalBus, replayEventLimit)
		if err != nil {
			a.logger.WarnContext(ctx, "telemetry replay failed", slog.String("error", err.Error()))
		}
		for _, ev := range events {
			a.logger.Info("trade event",
				slog.String("event_id", ev.ID),
				slog.String("kind", string(ev.Kind)),
				slog.String("market_id", ev.MarketID),
				slog.String("side", string(ev.Side)),
				slog.Float64("price", ev.Price),
				slog.Int64("shares", ev.Shares),
			)
		}
	}

	return nil
}

// reportMarket prints the stored position and recent trades for one market.
func (a *App) reportMarket(ctx context.Context, deps *Dependencies, marketID string) {
	if deps.PositionStore != nil {
		pos, err := deps.PositionStore.Get(ctx, marketID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			a.logger.Info("no stored position", slog.String("market_id", marketID))
		case err != nil:
			a.logger.WarnContext(ctx, "position lookup failed", slog.String("error", err.Error()))
		default:
			a.logger.Info("stored position",
				slog.String("market_id", pos.MarketID),
				slog.Int64("yes_shares", pos.YesShares),
				slog.Int64("no_shares", pos.NoShares),
				slog.Float64("total_cost", pos.TotalCost),
				slog.String("state", string(pos.State)),
			)
		}
	}

	trades, err := deps.TradeStore.ListByMarket(ctx, marketID, domain.ListOpts{Limit: replayTradeLimit})
	if err != nil {
		a.logger.WarnContext(ctx, "trade lookup failed", slog.String("error", err.Error()))
		return
	}
	for _, tr := range trades {
		a.logger.Info("stored trade",
			slog.String("intent_id", tr.IntentID),
			slog.String("kind", string(tr.Kind)),
			slog.String("side", string(tr.Side)),
			slog.String("direction", string(tr.Direction)),
			slog.Float64("price", tr.Price),
			slog.Int64("shares", tr.Shares),
			slog.Time("created_at", tr.CreatedAt),
		)
	}
	a.logger.Info("market report complete", slog.String("market_id", marketID), slog.Int("trades", len(trades)))
}

// replayArchives loads every resolved-market document archived under the
// given date. Documents already decoded are returned alongside the error.
func replayArchives(ctx context.Context, r archiveReader, date string) ([]s3blob.MarketArchive, error) {
	prefix := "archive/markets/" + date + "/"
	infos, err := r.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var docs []s3blob.MarketArchive
	for _, info := range infos {
		rc, err := r.Get(ctx, info.Path)
		if err != nil {
			return docs, err
		}

		var doc s3blob.MarketArchive
		err = json.NewDecoder(rc).Decode(&doc)
		rc.Close()
		if err != nil {
			return docs, fmt.Errorf("decode %s: %w", info.Path, err)
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

// replayTelemetry reads the durable trade event log back from the start of
// the stream. Entries that fail to decode are skipped.
func replayTelemetry(ctx context.Context, r streamReader, count int) ([]domain.TradeEvent, error) {
	msgs, err := r.StreamRead(ctx, telemetry.TradeStream, "0", count)
	if err != nil {
		return nil, err
	}

	var events []domain.TradeEvent
	for _, m := range msgs {
		var ev domain.TradeEvent
		if err := json.Unmarshal(m.Payload, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
