package domain

import (
	"context"
	"time"
)

// OrderGateway submits single-leg orders to the venue. Submit returns a
// FillResult whenever the venue answered, reserving the error return for
// transport-level failures; callers fold those into FillStatusFailed.
// Orders are resting (good-till-cancelled): a Submit that comes back
// FillStatusUnfilled may leave a live order behind, identified by
// FillResult.OrderID, which the caller is expected to Cancel.
type OrderGateway interface {
	Submit(ctx context.Context, intent OrderIntent) (FillResult, error)
	Cancel(ctx context.Context, orderID string) error
}

// MarketDirectory is the read-only market metadata source. It is polled and
// refreshed externally to the engine.
type MarketDirectory interface {
	// Current returns the currently tradeable market for a symbol.
	Current(ctx context.Context, symbol string) (Market, error)
	// Lookup returns a market by its ID.
	Lookup(ctx context.Context, marketID string) (Market, error)
}

// TelemetrySink receives trade events. Emit must not block the evaluation
// cycle; implementations drop on failure rather than retry.
type TelemetrySink interface {
	Emit(ctx context.Context, ev TradeEvent)
}

// SignalBus provides pub/sub for cross-process consumers (telemetry,
// dashboards run elsewhere).
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// BlobWriter stores archive objects.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
}
