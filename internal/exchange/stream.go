package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tathienbao/pairtrader/internal/metrics"
	"github.com/tathienbao/pairtrader/internal/statecache"
)

// StreamConfig holds websocket stream settings.
type StreamConfig struct {
	URL               string // private stream endpoint
	APIKey            string
	APISecret         string
	PingInterval      time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

// DefaultStreamConfig returns sensible defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		URL:               "wss://stream.bybit.com/v5/private",
		PingInterval:      20 * time.Second,
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
	}
}

// Stream subscribes to the exchange's private push feed and applies each
// decoded payload to the state cache. Events for a given topic arrive in
// order and are applied in arrival order; the stream never reorders by
// payload timestamp.
type Stream struct {
	cfg    StreamConfig
	cache  *statecache.Cache
	logger *slog.Logger
	rec    *metrics.Recorder
}

// NewStream creates a push-feed subscriber bound to a cache.
func NewStream(cfg StreamConfig, cache *statecache.Cache, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{cfg: cfg, cache: cache, logger: logger}
}

// SetRecorder attaches a metrics recorder for connection state.
func (s *Stream) SetRecorder(rec *metrics.Recorder) { s.rec = rec }

// Run connects and consumes the feed until ctx is cancelled, reconnecting
// with capped backoff on any read failure.
func (s *Stream) Run(ctx context.Context) {
	delay := s.cfg.ReconnectDelay
	for {
		if err := s.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("stream disconnected", "err", err, "retry_in", delay)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.cfg.MaxReconnectDelay {
			delay = s.cfg.MaxReconnectDelay
		}
	}
}

func (s *Stream) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := s.authenticate(conn); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if err := s.subscribe(conn); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	s.logger.Info("stream connected", "url", s.cfg.URL)
	if s.rec != nil {
		s.rec.RecordStreamStatus(true)
		defer s.rec.RecordStreamStatus(false)
	}

	// Close the connection when ctx is done so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				_ = conn.WriteJSON(map[string]string{"op": "ping"})
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.handleMessage(msg)
	}
}

func (s *Stream) authenticate(conn *websocket.Conn) error {
	expires := time.Now().Add(10 * time.Second).UnixMilli()
	mac := hmac.New(sha256.New, []byte(s.cfg.APISecret))
	fmt.Fprintf(mac, "GET/realtime%d", expires)

	return conn.WriteJSON(map[string]any{
		"op":   "auth",
		"args": []any{s.cfg.APIKey, expires, hex.EncodeToString(mac.Sum(nil))},
	})
}

func (s *Stream) subscribe(conn *websocket.Conn) error {
	return conn.WriteJSON(map[string]any{
		"op":   "subscribe",
		"args": []string{"order", "position", "execution", "wallet"},
	})
}

// handleMessage decodes one feed message and applies it. Malformed payloads
// are logged and dropped; the cache re-syncs on the next snapshot event.
func (s *Stream) handleMessage(msg []byte) {
	var frame struct {
		Topic string          `json:"topic"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &frame); err != nil {
		s.logger.Warn("stream: undecodable frame", "err", err)
		return
	}
	if frame.Topic == "" {
		return // op acks, pongs
	}

	switch {
	case strings.HasPrefix(frame.Topic, "order"):
		s.applyOrders(frame.Data)
	case strings.HasPrefix(frame.Topic, "position"):
		s.applyPositions(frame.Data)
	case strings.HasPrefix(frame.Topic, "execution"):
		s.applyExecutions(frame.Data)
	case strings.HasPrefix(frame.Topic, "wallet"):
		s.applyWallet(frame.Data)
	}
}

func (s *Stream) applyOrders(data json.RawMessage) {
	var payloads []orderPayload
	if err := json.Unmarshal(data, &payloads); err != nil {
		s.logger.Warn("stream: bad order payload", "err", err)
		return
	}
	for _, p := range payloads {
		order, err := p.toOrder()
		if err != nil {
			s.logger.Warn("stream: dropping order event", "order_id", p.OrderID, "err", err)
			continue
		}
		s.cache.ApplyOrderEvent(order)
	}
}

func (s *Stream) applyPositions(data json.RawMessage) {
	var payloads []positionPayload
	if err := json.Unmarshal(data, &payloads); err != nil {
		s.logger.Warn("stream: bad position payload", "err", err)
		return
	}
	for _, p := range payloads {
		pos, err := p.toPosition()
		if err != nil {
			s.logger.Warn("stream: dropping position event", "symbol", p.Symbol, "err", err)
			continue
		}
		s.cache.ApplyPositionEvent(pos)
	}
}

func (s *Stream) applyExecutions(data json.RawMessage) {
	var payloads []executionPayload
	if err := json.Unmarshal(data, &payloads); err != nil {
		s.logger.Warn("stream: bad execution payload", "err", err)
		return
	}
	for _, p := range payloads {
		exec, err := p.toExecution()
		if err != nil {
			s.logger.Warn("stream: dropping execution event", "exec_id", p.ExecID, "err", err)
			continue
		}
		s.cache.ApplyExecutionEvent(exec)
	}
}

func (s *Stream) applyWallet(data json.RawMessage) {
	var payloads []walletPayload
	if err := json.Unmarshal(data, &payloads); err != nil {
		s.logger.Warn("stream: bad wallet payload", "err", err)
		return
	}
	now := time.Now()
	for _, p := range payloads {
		for _, c := range p.Coin {
			s.cache.ApplyWalletEvent(walletBalance(c.Coin, c.Equity, c.Available, now))
		}
	}
}
