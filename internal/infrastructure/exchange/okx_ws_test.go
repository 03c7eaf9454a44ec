package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitos/okx_mark_pilot/internal/bus"
	"github.com/vitos/okx_mark_pilot/internal/domain"
)

const tickFrame = `{"arg":{"channel":"mark-price","instId":"BTC-USDT-SWAP"},` +
	`"data":[{"instId":"BTC-USDT-SWAP","markPx":"65000.5","ts":"1714561200000"}]}`

// markPriceServer refuses the first failDials connection attempts, then
// upgrades, acks the subscription and streams ticks until the client hangs up.
func markPriceServer(t *testing.T, failDials int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if conns.Add(1) <= failDials {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		ack := `{"event":"subscribe","arg":{"channel":"mark-price","instId":"BTC-USDT-SWAP"}}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(ack)); err != nil {
			return
		}
		for {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tickFrame)); err != nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}))
	return srv, &conns
}

func TestStreamReachesStreamingAfterFailedDials(t *testing.T) {
	srv, conns := markPriceServer(t, 3)
	defer srv.Close()

	b := bus.New()
	defer b.Close()
	sub := b.Subscribe("ticks")

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	s := NewMarkPriceStream(url, []string{"BTC-USDT-SWAP"}, b, zap.NewNop())
	s.backoff = NewBackoff(time.Millisecond, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	var got domain.PriceUpdate
	deadline := time.After(5 * time.Second)
	for {
		select {
		case cmd := <-sub.C():
			if pu, ok := cmd.(domain.PriceUpdate); ok {
				got = pu
			}
		case <-deadline:
			t.Fatal("no price update after the dial failures stopped")
		}
		if got.Point.Instrument != "" {
			break
		}
	}

	assert.Equal(t, StateStreaming, s.State())
	assert.InDelta(t, 65000.5, got.Point.MarkPrice, 1e-9)
	assert.Equal(t, int64(1714561200000), got.Point.Timestamp.UnixMilli())
	require.GreaterOrEqual(t, conns.Load(), int32(4), "every failed dial must be retried")
}

func TestHandleMessageReportsMalformedInput(t *testing.T) {
	b := bus.New()
	defer b.Close()
	sub := b.Subscribe("errors")
	s := NewMarkPriceStream("ws://unused", []string{"BTC-USDT-SWAP"}, b, zap.NewNop())

	s.handleMessage([]byte(`{"arg":{"channel":"mark-price"},` +
		`"data":[{"instId":"BTC-USDT-SWAP","markPx":"not-a-number","ts":"1714561200000"}]}`))
	s.handleMessage([]byte(`{not json`))

	var errs []domain.ErrorEvent
	deadline := time.After(time.Second)
	for len(errs) < 2 {
		select {
		case cmd := <-sub.C():
			if ev, ok := cmd.(domain.ErrorEvent); ok {
				errs = append(errs, ev)
			}
		case <-deadline:
			t.Fatalf("expected 2 error events, got %d", len(errs))
		}
	}
	for _, ev := range errs {
		assert.Equal(t, "websocket", ev.Context)
	}
	assert.Contains(t, errs[0].Message, "BTC-USDT-SWAP")
}
