package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	s3blob "github.com/alanyoungcy/dutchbook/internal/blob/s3"
	"github.com/alanyoungcy/dutchbook/internal/cache/redis"
	"github.com/alanyoungcy/dutchbook/internal/config"
	"github.com/alanyoungcy/dutchbook/internal/domain"
	"github.com/alanyoungcy/dutchbook/internal/telemetry"
)

func testApp() *App {
	cfg := config.Defaults()
	return New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type fakeArchiveReader struct {
	prefix  string
	objects map[string]string
}

func (f *fakeArchiveReader) List(ctx context.Context, prefix string) ([]s3blob.BlobInfo, error) {
	f.prefix = prefix
	var infos []s3blob.BlobInfo
	for path := range f.objects {
		if strings.HasPrefix(path, prefix) {
			infos = append(infos, s3blob.BlobInfo{Path: path})
		}
	}
	return infos, nil
}

func (f *fakeArchiveReader) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	body, ok := f.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

type fakeStreamReader struct {
	stream string
	msgs   []redis.StreamMessage
}

func (f *fakeStreamReader) StreamRead(ctx context.Context, stream, lastID string, count int) ([]redis.StreamMessage, error) {
	f.stream = stream
	return f.msgs, nil
}

func TestReplayArchives_DecodesDayOfMarkets(t *testing.T) {
	doc := s3blob.MarketArchive{
		Market: domain.Market{
			ID:         "btc-updown-15m-1765548000",
			Symbol:     "BTC",
			Resolution: domain.ResolutionYes,
		},
		Position: domain.Position{
			MarketID:  "btc-updown-15m-1765548000",
			YesShares: 55,
			NoShares:  55,
			TotalCost: 51.70,
		},
		ArchivedAt: time.Date(2025, 12, 12, 14, 20, 0, 0, time.UTC),
	}
	body, err := json.Marshal(doc)
	require.NoError(t, err)

	r := &fakeArchiveReader{objects: map[string]string{
		"archive/markets/2025-12-12/btc-updown-15m-1765548000.json": string(body),
		"archive/markets/2025-12-11/other.json":                     "{}",
	}}

	docs, err := replayArchives(context.Background(), r, "2025-12-12")
	require.NoError(t, err)
	assert.Equal(t, "archive/markets/2025-12-12/", r.prefix)
	require.Len(t, docs, 1)
	assert.Equal(t, "btc-updown-15m-1765548000", docs[0].Market.ID)
	assert.Equal(t, int64(55), docs[0].Position.YesShares)
}

func TestReplayArchives_EmptyDay(t *testing.T) {
	r := &fakeArchiveReader{objects: map[string]string{}}
	docs, err := replayArchives(context.Background(), r, "2025-12-12")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestReplayTelemetry_SkipsUndecodable(t *testing.T) {
	good, err := json.Marshal(domain.TradeEvent{
		ID:       "ev-1",
		Kind:     domain.TradeEventPairLeg,
		MarketID: "m-1",
		Side:     domain.SideYes,
		Shares:   55,
	})
	require.NoError(t, err)

	r := &fakeStreamReader{msgs: []redis.StreamMessage{
		{ID: "1-0", Payload: good},
		{ID: "2-0", Payload: []byte("not json")},
	}}

	events, err := replayTelemetry(context.Background(), r, 100)
	require.NoError(t, err)
	assert.Equal(t, telemetry.TradeStream, r.stream)
	require.Len(t, events, 1)
	assert.Equal(t, "ev-1", events[0].ID)
}

type fakeTradeStore struct {
	marketID string
	opts     domain.ListOpts
	trades   []domain.TradeRecord
}

func (f *fakeTradeStore) Insert(ctx context.Context, rec domain.TradeRecord) error { return nil }

func (f *fakeTradeStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	f.marketID = marketID
	f.opts = opts
	return f.trades, nil
}

func (f *fakeTradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error) {
	return nil, nil
}

type fakePositionStore struct {
	marketID string
	pos      domain.Position
	err      error
}

func (f *fakePositionStore) Upsert(ctx context.Context, pos domain.Position) error { return nil }

func (f *fakePositionStore) Get(ctx context.Context, marketID string) (domain.Position, error) {
	f.marketID = marketID
	return f.pos, f.err
}

func (f *fakePositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	return nil, nil
}

func (f *fakePositionStore) MarkResolved(ctx context.Context, marketID string, outcome domain.Resolution) error {
	return nil
}

func TestReportMarket_QueriesStores(t *testing.T) {
	trades := &fakeTradeStore{trades: []domain.TradeRecord{
		{IntentID: "i-1", Side: domain.SideYes, Shares: 55},
	}}
	positions := &fakePositionStore{pos: domain.Position{
		MarketID: "m-1", YesShares: 55, NoShares: 55, TotalCost: 51.70,
	}}

	a := testApp()
	a.reportMarket(context.Background(), &Dependencies{
		TradeStore:    trades,
		PositionStore: positions,
	}, "m-1")

	assert.Equal(t, "m-1", positions.marketID)
	assert.Equal(t, "m-1", trades.marketID)
	assert.Equal(t, replayTradeLimit, trades.opts.Limit)
}

func TestReportMarket_MissingPositionIsNotFatal(t *testing.T) {
	trades := &fakeTradeStore{}
	positions := &fakePositionStore{err: domain.ErrNotFound}

	a := testApp()
	a.reportMarket(context.Background(), &Dependencies{
		TradeStore:    trades,
		PositionStore: positions,
	}, "m-2")

	assert.Equal(t, "m-2", trades.marketID, "trades are still listed")
}

func TestReplayMode_RequiresSomeBackend(t *testing.T) {
	a := testApp()
	err := a.ReplayMode(context.Background(), &Dependencies{})
	assert.Error(t, err)
}
