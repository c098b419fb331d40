package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/dutchbook/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second

	// updateBuffer is the capacity of the outbound book update channel.
	// Snapshots are dropped when the consumer falls behind; the next snapshot
	// for the same token supersedes anything dropped.
	updateBuffer = 256
)

// Alerter receives an operator alert when the feed stays down long enough to
// matter. Implemented by the notify package's Notifier.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Stream is a WebSocket client for the Polymarket CLOB market data feed. It
// manages the connection lifecycle and per-token subscriptions, converts
// "book" snapshots to domain updates, and delivers them on a single channel.
type Stream struct {
	wsURL  string
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	alerts Alerter

	// Token IDs to restore on reconnect.
	subscribed map[string]struct{}

	updates chan domain.BookUpdate
	done    chan struct{}
}

// NewStream creates a new market data stream client.
//
// wsURL is the CLOB WebSocket endpoint, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewStream(wsURL string, logger *slog.Logger) *Stream {
	return &Stream{
		wsURL:      wsURL,
		logger:     logger.With("component", "polymarket_ws"),
		subscribed: make(map[string]struct{}),
		updates:    make(chan domain.BookUpdate, updateBuffer),
		done:       make(chan struct{}),
	}
}

// SetAlerter enables operator alerts for persistent disconnects.
func (s *Stream) SetAlerter(a Alerter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = a
}

// Updates returns the channel carrying converted book snapshots. The channel
// is never closed; consumers stop via their own context.
func (s *Stream) Updates() <-chan domain.BookUpdate {
	return s.updates
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops. Any previously subscribed tokens are resubscribed.
func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("polymarket/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}

	s.conn = conn

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go s.readLoop(conn)
	go s.pingLoop(conn)

	if len(s.subscribed) > 0 {
		if err := s.sendCommand(s.subscribeCommand()); err != nil {
			return fmt.Errorf("polymarket/ws: restore subscriptions: %w", err)
		}
		s.logger.Info("resubscribed after reconnect", "tokens", len(s.subscribed))
	}

	return nil
}

// Subscribe starts streaming book snapshots for the given token IDs.
func (s *Stream) Subscribe(ctx context.Context, tokenIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("polymarket/ws: not connected")
	}

	for _, id := range tokenIDs {
		s.subscribed[id] = struct{}{}
	}

	cmd := WSCommand{Type: "subscribe", Channel: "market", Assets: tokenIDs}
	if err := s.sendCommand(cmd); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}

	return nil
}

// Unsubscribe stops streaming for the given token IDs.
func (s *Stream) Unsubscribe(ctx context.Context, tokenIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range tokenIDs {
		delete(s.subscribed, id)
	}

	if s.conn == nil {
		return nil
	}

	cmd := WSCommand{Type: "unsubscribe", Channel: "market", Assets: tokenIDs}
	if err := s.sendCommand(cmd); err != nil {
		return fmt.Errorf("polymarket/ws: unsubscribe: %w", err)
	}

	return nil
}

// Close shuts down the connection and stops the read and ping loops.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	close(s.done)

	if s.conn != nil {
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return s.conn.Close()
	}

	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// subscribeCommand builds the subscribe command covering every tracked token.
// Caller must hold s.mu.
func (s *Stream) subscribeCommand() WSCommand {
	assets := make([]string, 0, len(s.subscribed))
	for id := range s.subscribed {
		assets = append(assets, id)
	}
	return WSCommand{Type: "subscribe", Channel: "market", Assets: assets}
}

// sendCommand sends a JSON command over the connection. Caller must hold s.mu.
func (s *Stream) sendCommand(cmd WSCommand) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads messages from one connection until it fails or the stream is
// closed. On failure it kicks off reconnection; the replacement connection
// gets its own readLoop.
func (s *Stream) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}

			s.logger.Warn("read failed, reconnecting",
				"error", fmt.Errorf("%w: %v", domain.ErrWSDisconnect, err))
			s.reconnect()
			return
		}

		s.handleMessage(message)
	}
}

// pingLoop keeps one connection alive with periodic pings.
func (s *Stream) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw frame and forwards book snapshots. The feed may
// batch several events into one JSON array.
func (s *Stream) handleMessage(raw []byte) {
	if len(raw) > 0 && raw[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(raw, &batch); err != nil {
			return
		}
		for _, item := range batch {
			s.handleEvent(item)
		}
		return
	}
	s.handleEvent(raw)
}

func (s *Stream) handleEvent(raw []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	// Only full book snapshots drive evaluation; price_change and
	// last_trade_price events are ignored.
	if envelope.EventType != "book" {
		return
	}

	var book BookMessage
	if err := json.Unmarshal(raw, &book); err != nil {
		return
	}

	select {
	case s.updates <- BookToDomainUpdate(&book):
	default:
		s.logger.Debug("update channel full, dropping snapshot", "token_id", book.AssetID)
	}
}

// reconnect re-establishes the connection with exponential backoff. It blocks
// until successful or the stream is closed. Once the backoff saturates the
// outage counts as persistent and the operator is alerted, once per outage.
func (s *Stream) reconnect() {
	delay := reconnectDelay
	alerted := false

	for {
		select {
		case <-s.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := s.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		s.logger.Warn("reconnect failed", "error", err, "retry_in", delay)

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
			if !alerted {
				alerted = true
				s.notifyStreamDown(err)
			}
		}
	}
}

func (s *Stream) notifyStreamDown(cause error) {
	s.mu.Lock()
	alerts := s.alerts
	s.mu.Unlock()
	if alerts == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	msg := fmt.Sprintf("market data feed down, still retrying: %v", cause)
	if err := alerts.Notify(ctx, "stream_down", "Market stream down", msg); err != nil {
		s.logger.Error("stream alert delivery failed", "error", err)
	}
}
