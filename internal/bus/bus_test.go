package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitos/okx_mark_pilot/internal/domain"
)

func point(inst string, price float64) domain.PriceUpdate {
	return domain.PriceUpdate{Point: domain.PricePoint{
		Instrument: inst,
		Timestamp:  time.Now(),
		MarkPrice:  price,
	}}
}

func collect(sub *Subscription, n int, d time.Duration) []domain.Command {
	var got []domain.Command
	deadline := time.After(d)
	for len(got) < n {
		select {
		case cmd, ok := <-sub.C():
			if !ok {
				return got
			}
			got = append(got, cmd)
		case <-deadline:
			return got
		}
	}
	return got
}

func TestPublishPreservesProducerOrder(t *testing.T) {
	b := New()
	defer b.Close()
	sub := b.Subscribe("consumer")

	b.Publish(domain.Notify{Instrument: "BTC-USDT-SWAP", Reason: "first"})
	b.Publish(domain.ErrorEvent{Message: "second"})
	b.Publish(domain.Notify{Instrument: "BTC-USDT-SWAP", Reason: "third"})

	got := collect(sub, 3, time.Second)
	require.Len(t, got, 3)
	assert.Equal(t, "first", got[0].(domain.Notify).Reason)
	assert.Equal(t, "second", got[1].(domain.ErrorEvent).Message)
	assert.Equal(t, "third", got[2].(domain.Notify).Reason)
}

func TestPriceUpdatesCoalescePerInstrument(t *testing.T) {
	b := New()
	defer b.Close()
	sub := b.Subscribe("slow-consumer")

	// Block the pump on an initial command so later publishes queue up.
	b.Publish(domain.Notify{Instrument: "BTC-USDT-SWAP", Reason: "gate"})
	time.Sleep(20 * time.Millisecond)

	b.Publish(point("BTC-USDT-SWAP", 1))
	b.Publish(point("BTC-USDT-SWAP", 2))
	b.Publish(point("ETH-USDT-SWAP", 10))
	b.Publish(point("BTC-USDT-SWAP", 3))

	got := collect(sub, 3, time.Second)
	require.Len(t, got, 3)

	prices := map[string]float64{}
	for _, cmd := range got[1:] {
		pu := cmd.(domain.PriceUpdate)
		prices[pu.Point.Instrument] = pu.Point.MarkPrice
	}
	// Only the newest BTC update survives; ETH is untouched.
	assert.Equal(t, 3.0, prices["BTC-USDT-SWAP"])
	assert.Equal(t, 10.0, prices["ETH-USDT-SWAP"])

	// Nothing else queued.
	select {
	case cmd := <-sub.C():
		t.Fatalf("unexpected extra command: %#v", cmd)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCriticalCommandsNeverCoalesce(t *testing.T) {
	b := New()
	defer b.Close()
	sub := b.Subscribe("slow-consumer")

	b.Publish(domain.Notify{Instrument: "BTC-USDT-SWAP", Reason: "gate"})
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 5; i++ {
		b.Publish(domain.ErrorEvent{Message: "err"})
	}
	for i := 0; i < 5; i++ {
		b.Publish(domain.OrderResultEvent{Result: domain.OrderResult{RequestID: "r"}})
	}

	got := collect(sub, 11, time.Second)
	assert.Len(t, got, 11, "gate + 5 errors + 5 results, none dropped")
}

func TestSubscribersAreIndependent(t *testing.T) {
	b := New()
	defer b.Close()
	fast := b.Subscribe("fast")
	slow := b.Subscribe("slow")

	b.Publish(domain.Notify{Instrument: "BTC-USDT-SWAP", Reason: "hello"})

	// The fast consumer gets its copy even though the slow one never reads.
	got := collect(fast, 1, time.Second)
	require.Len(t, got, 1)
	_ = slow
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	defer b.Close()
	sub := b.Subscribe("gone")
	b.Unsubscribe("gone")

	select {
	case _, ok := <-sub.C():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}
}

func TestResubscribeReplacesPrevious(t *testing.T) {
	b := New()
	defer b.Close()
	old := b.Subscribe("name")
	neu := b.Subscribe("name")

	b.Publish(domain.Notify{Instrument: "BTC-USDT-SWAP", Reason: "x"})

	got := collect(neu, 1, time.Second)
	require.Len(t, got, 1)

	select {
	case _, ok := <-old.C():
		assert.False(t, ok, "old subscription must be closed")
	case <-time.After(time.Second):
		t.Fatal("old subscription still open")
	}
}
