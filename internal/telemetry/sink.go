// Package telemetry publishes trade events to external consumers. Emission is
// fire-and-forget: a sink failure is logged and the event dropped, never
// surfacing into the evaluation cycle.
package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/dutchbook/internal/domain"
)

// defaultChannel is the Pub/Sub channel live dashboards listen on.
const defaultChannel = "dutchbook:trades"

// TradeStream is the Redis stream holding the durable trade event log.
// Replay mode reads it back through SignalBus.StreamRead.
const TradeStream = "dutchbook:trades:log"

// emitTimeout bounds how long one emission may hold a connection. Events are
// small; anything slower means the bus is unhealthy and dropping is correct.
const emitTimeout = 2 * time.Second

// StreamAppender is the durable half of the bus. The Redis SignalBus
// satisfies it; sinks built on plain Pub/Sub pass nil.
type StreamAppender interface {
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// BusSink publishes TradeEvents as JSON over a SignalBus and optionally
// appends them to a durable stream.
type BusSink struct {
	bus      domain.SignalBus
	appender StreamAppender
	channel  string
	stream   string
	logger   *slog.Logger
}

// NewBusSink creates a sink publishing to the default channel and stream.
// appender may be nil to skip durable logging.
func NewBusSink(bus domain.SignalBus, appender StreamAppender, logger *slog.Logger) *BusSink {
	return &BusSink{
		bus:      bus,
		appender: appender,
		channel:  defaultChannel,
		stream:   TradeStream,
		logger:   logger.With("component", "telemetry"),
	}
}

var _ domain.TelemetrySink = (*BusSink)(nil)

// Emit serializes and publishes one event. Failures are logged and swallowed.
func (s *BusSink) Emit(ctx context.Context, ev domain.TradeEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("marshal trade event", "error", err, "event_id", ev.ID)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
	defer cancel()

	if err := s.bus.Publish(ctx, s.channel, payload); err != nil {
		s.logger.Warn("publish trade event dropped", "error", err, "event_id", ev.ID)
	}

	if s.appender != nil {
		if err := s.appender.StreamAppend(ctx, s.stream, payload); err != nil {
			s.logger.Warn("stream append dropped", "error", err, "event_id", ev.ID)
		}
	}
}

// LogSink writes trade events to the structured log only. Used in paper and
// monitor modes when Redis is disabled.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log-only sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "telemetry")}
}

var _ domain.TelemetrySink = (*LogSink)(nil)

func (s *LogSink) Emit(ctx context.Context, ev domain.TradeEvent) {
	s.logger.Info("trade event",
		"event_id", ev.ID,
		"kind", ev.Kind,
		"market_id", ev.MarketID,
		"side", ev.Side,
		"price", ev.Price,
		"shares", ev.Shares,
		"cost", ev.Cost,
		"combined_price", ev.CombinedPrice,
		"estimated_pnl", ev.EstimatedPnL,
	)
}
