package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dutchbook/internal/domain"
)

type fakeBus struct {
	published [][]byte
	appended  [][]byte
	err       error
}

func (f *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, payload)
	return nil
}

func (f *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.appended = append(f.appended, payload)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleEvent() domain.TradeEvent {
	return domain.TradeEvent{
		ID:        "ev-1",
		Kind:      domain.TradeEventPairLeg,
		Timestamp: time.Date(2025, 12, 12, 14, 0, 0, 0, time.UTC),
		MarketID:  "btc-updown-15m-1765548000",
		Side:      domain.SideYes,
		Price:     0.42,
		Shares:    55,
		Cost:      23.10,
	}
}

func TestBusSink_PublishesAndAppends(t *testing.T) {
	bus := &fakeBus{}
	sink := NewBusSink(bus, bus, testLogger())

	sink.Emit(context.Background(), sampleEvent())

	require.Len(t, bus.published, 1)
	require.Len(t, bus.appended, 1)

	var out domain.TradeEvent
	require.NoError(t, json.Unmarshal(bus.published[0], &out))
	assert.Equal(t, "ev-1", out.ID)
	assert.Equal(t, domain.TradeEventPairLeg, out.Kind)
	assert.Equal(t, int64(55), out.Shares)
}

func TestBusSink_SwallowsBusFailure(t *testing.T) {
	bus := &fakeBus{err: errors.New("connection refused")}
	sink := NewBusSink(bus, bus, testLogger())

	// Must not panic or block.
	sink.Emit(context.Background(), sampleEvent())
	assert.Empty(t, bus.published)
}

func TestBusSink_NilAppenderSkipsStream(t *testing.T) {
	bus := &fakeBus{}
	sink := NewBusSink(bus, nil, testLogger())

	sink.Emit(context.Background(), sampleEvent())
	require.Len(t, bus.published, 1)
	assert.Empty(t, bus.appended)
}

func TestBusSink_IgnoresCancelledCaller(t *testing.T) {
	bus := &fakeBus{}
	sink := NewBusSink(bus, bus, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Telemetry outlives the caller's context; the event still goes out.
	sink.Emit(ctx, sampleEvent())
	assert.Len(t, bus.published, 1)
}

func TestLogSink_Emit(t *testing.T) {
	sink := NewLogSink(testLogger())
	sink.Emit(context.Background(), sampleEvent())
}
