package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/dutchbook/internal/domain"
)

// TradeArchiveStore provides read access to trades for archival purposes. The
// Postgres TradeStore satisfies it.
type TradeArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error)
}

// multipartPutter is the optional large-object upload path. The S3 Writer
// satisfies it; a month of trade exports can outgrow a single PUT.
type multipartPutter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// MarketArchive is the JSON document written for one resolved market: the
// final position, every unwind taken, and the market metadata needed to read
// the record standalone.
type MarketArchive struct {
	Market     domain.Market         `json:"market"`
	Position   domain.Position       `json:"position"`
	Unwinds    []domain.UnwindRecord `json:"unwinds,omitempty"`
	Profit     float64               `json:"guaranteed_profit"`
	ArchivedAt time.Time             `json:"archived_at"`
}

// Archiver writes resolved-market snapshots and trade logs to blob storage.
// The engine calls ArchiveResolved when it retires a market; ArchiveTrades is
// a maintenance operation run out of band.
type Archiver struct {
	writer domain.BlobWriter
	trades TradeArchiveStore
	now    func() time.Time
}

// NewArchiver creates an Archiver. trades may be nil when trade log archival
// is not wanted.
func NewArchiver(writer domain.BlobWriter, trades TradeArchiveStore) *Archiver {
	return &Archiver{
		writer: writer,
		trades: trades,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the archiver's time source. Test hook.
func (a *Archiver) SetClock(now func() time.Time) { a.now = now }

// ArchiveResolved uploads the terminal record for one market to
// archive/markets/YYYY-MM-DD/<market-id>.json, keyed by resolution date so a
// day of 15-minute markets lists together.
func (a *Archiver) ArchiveResolved(ctx context.Context, market domain.Market, pos domain.Position, unwinds []domain.UnwindRecord) error {
	doc := MarketArchive{
		Market:     market,
		Position:   pos,
		Unwinds:    unwinds,
		Profit:     pos.GuaranteedProfit(),
		ArchivedAt: a.now(),
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("s3blob: marshal market archive %s: %w", market.ID, err)
	}

	path := fmt.Sprintf("archive/markets/%s/%s.json",
		market.ResolutionDeadline.UTC().Format("2006-01-02"), market.ID)

	if err := a.writer.Put(ctx, path, data, "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive market %s: %w", market.ID, err)
	}
	return nil
}

// ArchiveTrades queries all trades before the cutoff, serializes them to
// JSONL, and uploads the file to archive/trades/YYYY-MM.jsonl. Deletion of
// the archived rows is a separate, explicit step run after the archive has
// been verified. Returns the number of records archived.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	if a.trades == nil {
		return 0, fmt.Errorf("s3blob: no trade store configured")
	}

	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := fmt.Sprintf("archive/trades/%s.jsonl", before.Format("2006-01"))
	if mp, ok := a.writer.(multipartPutter); ok && int64(len(buf)) >= minPartSize {
		if err := mp.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize); err != nil {
			return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
		}
	} else if err := a.writer.Put(ctx, path, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	return int64(len(trades)), nil
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
