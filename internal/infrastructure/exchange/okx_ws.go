package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vitos/okx_mark_pilot/internal/bus"
	"github.com/vitos/okx_mark_pilot/internal/domain"
)

// ConnState describes the mark-price stream lifecycle.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateSubscribed
	StateStreaming
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	default:
		return "disconnected"
	}
}

const (
	wsReadDeadline = 30 * time.Second
	wsPingInterval = wsReadDeadline / 2
	wsWriteTimeout = 10 * time.Second
)

// MarkPriceStream maintains a WebSocket subscription to the OKX mark-price
// channel for a fixed instrument set and publishes PriceUpdate commands to
// the bus. It reconnects forever with capped backoff and resubscribes the
// full instrument list on every new connection.
type MarkPriceStream struct {
	url         string
	instruments []string
	bus         *bus.Bus
	logger      *zap.Logger
	backoff     Backoff

	state atomic.Int32
}

func NewMarkPriceStream(url string, instruments []string, b *bus.Bus, logger *zap.Logger) *MarkPriceStream {
	if url == "" {
		url = OkxWSURL
	}
	return &MarkPriceStream{
		url:         url,
		instruments: instruments,
		bus:         b,
		logger:      logger,
		backoff:     NewBackoff(time.Second, 30*time.Second),
	}
}

func (s *MarkPriceStream) State() ConnState {
	return ConnState(s.state.Load())
}

func (s *MarkPriceStream) setState(st ConnState) {
	s.state.Store(int32(st))
}

// Run blocks until ctx is cancelled, reconnecting on every failure.
func (s *MarkPriceStream) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return
		}

		err := s.runOnce(ctx)
		if s.State() == StateStreaming {
			// The connection delivered data before breaking; start the
			// backoff ladder over.
			attempt = 0
		}
		s.setState(StateDisconnected)
		if ctx.Err() != nil {
			return
		}

		attempt++
		delay := s.backoff.Jittered(attempt - 1)
		s.logger.Warn("mark-price stream disconnected",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay))
		s.bus.Publish(domain.ErrorEvent{
			Message: fmt.Sprintf("mark-price stream disconnected: %v", err),
			Context: "websocket",
		})

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// runOnce dials, subscribes, and consumes messages until the connection
// breaks or ctx is cancelled.
func (s *MarkPriceStream) runOnce(ctx context.Context) error {
	s.setState(StateConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return &domain.TransportError{Op: "dial " + s.url, Err: err}
	}
	defer conn.Close()

	// Close the socket when ctx is cancelled so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := s.subscribe(conn); err != nil {
		return err
	}
	s.setState(StateSubscribed)

	pingStop := make(chan struct{})
	defer close(pingStop)
	go s.pingLoop(conn, pingStop)

	for {
		conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return &domain.TransportError{Op: "read", Err: err}
		}
		s.handleMessage(raw)
	}
}

func (s *MarkPriceStream) subscribe(conn *websocket.Conn) error {
	type arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	}
	args := make([]arg, 0, len(s.instruments))
	for _, inst := range s.instruments {
		args = append(args, arg{Channel: "mark-price", InstID: inst})
	}
	req := map[string]any{"op": "subscribe", "args": args}

	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(req); err != nil {
		return &domain.TransportError{Op: "subscribe", Err: err}
	}
	return nil
}

func (s *MarkPriceStream) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}

type wsMessage struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
	Arg   struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data []struct {
		InstID string `json:"instId"`
		MarkPx string `json:"markPx"`
		Ts     string `json:"ts"`
	} `json:"data"`
}

func (s *MarkPriceStream) handleMessage(raw []byte) {
	if string(raw) == "pong" {
		return
	}

	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.logger.Warn("unparseable ws frame", zap.ByteString("raw", raw))
		s.bus.Publish(domain.ErrorEvent{
			Message: "unparseable ws frame: " + err.Error(),
			Context: "websocket",
		})
		return
	}

	switch msg.Event {
	case "subscribe":
		s.logger.Info("subscribed", zap.String("instId", msg.Arg.InstID))
		return
	case "error":
		s.logger.Error("ws subscribe error", zap.String("code", msg.Code), zap.String("msg", msg.Msg))
		s.bus.Publish(domain.ErrorEvent{
			Message: fmt.Sprintf("subscribe rejected: code=%s %s", msg.Code, msg.Msg),
			Context: "websocket",
		})
		return
	}

	for _, tick := range msg.Data {
		price, priceErr := strconv.ParseFloat(tick.MarkPx, 64)
		ts, tsErr := strconv.ParseInt(tick.Ts, 10, 64)
		if priceErr != nil || tsErr != nil {
			s.logger.Warn("malformed mark-price tick",
				zap.String("instId", tick.InstID),
				zap.String("markPx", tick.MarkPx),
				zap.String("ts", tick.Ts))
			s.bus.Publish(domain.ErrorEvent{
				Message: fmt.Sprintf("malformed mark-price tick for %s skipped", tick.InstID),
				Context: "websocket",
			})
			continue
		}
		s.setState(StateStreaming)
		s.bus.Publish(domain.PriceUpdate{Point: domain.PricePoint{
			Instrument: tick.InstID,
			Timestamp:  time.UnixMilli(ts),
			MarkPrice:  price,
			Precision:  decimalPlaces(tick.MarkPx),
		}})
	}
}

// decimalPlaces counts fraction digits in the exchange's string rendering of
// a price, so alerts can echo prices at the instrument's native scale.
func decimalPlaces(s string) int {
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}
