package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitos/okx_mark_pilot/internal/bus"
	"github.com/vitos/okx_mark_pilot/internal/domain"
)

type fakeAI struct {
	response string
	err      error
	calls    int
}

func (f *fakeAI) ChatCompletion(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

// drain collects bus commands until the marker count is reached or timeout.
func drainCommands(sub *bus.Subscription, d time.Duration) []domain.Command {
	var got []domain.Command
	deadline := time.After(d)
	for {
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
}

func TestCycleWithoutCredentialsRecordsButNeverTrades(t *testing.T) {
	b := bus.New()
	defer b.Close()
	sub := b.Subscribe("observer")
	ai := &fakeAI{response: `[{"signal":"buy_to_enter","coin":"BTC","quantity":1}]`}

	loop := NewAILoop(ai, nil, nil, b, []string{"BTC-USDT-SWAP"}, time.Minute, false, false, zap.NewNop())
	for i := 0; i < 3; i++ {
		loop.RunCycle(context.Background())
	}

	var records, results int
	for _, cmd := range drainCommands(sub, 200*time.Millisecond) {
		switch cmd.(type) {
		case domain.AIDecisionEvent:
			records++
		case domain.OrderResultEvent:
			results++
		}
	}
	assert.Equal(t, 3, records, "one decision record per cycle")
	assert.Zero(t, results, "no order results without credentials")
	assert.Zero(t, ai.calls, "provider must not be contacted without a snapshot")
}

func TestCycleExecutesValidatedEntryWithProtectives(t *testing.T) {
	b := bus.New()
	defer b.Close()
	sub := b.Subscribe("observer")

	fake := newFakeTrading()
	exec := NewExecutor(fake, b, testMarkets(), "cross", 20, nil, zap.NewNop())
	an := NewAnalytics(newFakeMarketData(), zap.NewNop())
	ai := &fakeAI{response: `[{"signal":"buy_to_enter","coin":"BTC","quantity":0.05,"leverage":5,"entry_price":90000,"profit_target":92000,"stop_loss":88000}]`}

	loop := NewAILoop(ai, an, exec, b, []string{"BTC-USDT-SWAP"}, time.Minute, true, true, zap.NewNop())
	loop.RunCycle(context.Background())

	require.Len(t, fake.placed, 3, "entry plus two protective orders")
	entry, tp, sl := fake.placed[0], fake.placed[1], fake.placed[2]
	assert.Equal(t, domain.SideBuy, entry.Side)
	assert.Equal(t, domain.TagAIEntry, entry.Tag)
	assert.Equal(t, domain.SideSell, tp.Side)
	assert.True(t, tp.ReduceOnly)
	assert.Equal(t, 92000.0, tp.Price)
	assert.Equal(t, domain.SideSell, sl.Side)
	assert.Equal(t, 88000.0, sl.Price)
	// Leverage synced before the entry order.
	assert.Equal(t, "set-leverage", fake.callNames()[3])

	var record *domain.AIDecisionRecord
	for _, cmd := range drainCommands(sub, 200*time.Millisecond) {
		if ev, ok := cmd.(domain.AIDecisionEvent); ok {
			record = &ev.Record
		}
	}
	require.NotNil(t, record)
	assert.Empty(t, record.ParseError)
	assert.Contains(t, record.ParsedActions, "buy_to_enter")
}

func TestCycleDropsWrongSideProtectiveButKeepsEntry(t *testing.T) {
	b := bus.New()
	defer b.Close()
	sub := b.Subscribe("observer")

	fake := newFakeTrading()
	exec := NewExecutor(fake, b, testMarkets(), "cross", 20, nil, zap.NewNop())
	an := NewAnalytics(newFakeMarketData(), zap.NewNop())
	// Take-profit below entry for a long is invalid.
	ai := &fakeAI{response: `[{"signal":"buy_to_enter","coin":"BTC","quantity":0.05,"entry_price":90000,"profit_target":85000}]`}

	loop := NewAILoop(ai, an, exec, b, []string{"BTC-USDT-SWAP"}, time.Minute, true, true, zap.NewNop())
	loop.RunCycle(context.Background())

	require.Len(t, fake.placed, 1, "entry only, invalid protective dropped")

	var sawError bool
	for _, cmd := range drainCommands(sub, 200*time.Millisecond) {
		if ev, ok := cmd.(domain.ErrorEvent); ok && ev.Context == "ai" {
			sawError = true
		}
	}
	assert.True(t, sawError, "dropped protective must surface an ErrorEvent")
}

func TestCycleTradingDisabledStopsBeforeExecution(t *testing.T) {
	b := bus.New()
	defer b.Close()

	fake := newFakeTrading()
	exec := NewExecutor(fake, b, testMarkets(), "cross", 20, nil, zap.NewNop())
	an := NewAnalytics(newFakeMarketData(), zap.NewNop())
	ai := &fakeAI{response: `[{"signal":"buy_to_enter","coin":"BTC","quantity":0.05}]`}

	loop := NewAILoop(ai, an, exec, b, []string{"BTC-USDT-SWAP"}, time.Minute, true, false, zap.NewNop())
	loop.RunCycle(context.Background())

	assert.Equal(t, 1, ai.calls, "analysis still runs")
	assert.Empty(t, fake.placed, "execution skipped with trading disabled")
}

func TestCycleUnparseableResponseRecordsParseError(t *testing.T) {
	b := bus.New()
	defer b.Close()
	sub := b.Subscribe("observer")

	fake := newFakeTrading()
	exec := NewExecutor(fake, b, testMarkets(), "cross", 20, nil, zap.NewNop())
	an := NewAnalytics(newFakeMarketData(), zap.NewNop())
	ai := &fakeAI{response: "I would rather not commit to a trade today."}

	loop := NewAILoop(ai, an, exec, b, []string{"BTC-USDT-SWAP"}, time.Minute, true, true, zap.NewNop())
	loop.RunCycle(context.Background())

	assert.Empty(t, fake.placed)
	var record *domain.AIDecisionRecord
	for _, cmd := range drainCommands(sub, 200*time.Millisecond) {
		if ev, ok := cmd.(domain.AIDecisionEvent); ok {
			record = &ev.Record
		}
	}
	require.NotNil(t, record)
	assert.NotEmpty(t, record.ParseError)
	assert.Equal(t, ai.response, record.RawResponse, "raw response kept for audit")
}

func TestCycleAdjustLeverageSignalSyncsOnly(t *testing.T) {
	b := bus.New()
	defer b.Close()

	fake := newFakeTrading()
	exec := NewExecutor(fake, b, testMarkets(), "cross", 20, nil, zap.NewNop())
	an := NewAnalytics(newFakeMarketData(), zap.NewNop())
	ai := &fakeAI{response: `{"signal":"adjust_leverage","coin":"BTC","leverage":10}`}

	loop := NewAILoop(ai, an, exec, b, []string{"BTC-USDT-SWAP"}, time.Minute, true, true, zap.NewNop())
	loop.RunCycle(context.Background())

	assert.Empty(t, fake.placed, "no order must be placed")
	// After the three snapshot reads comes exactly one set-leverage call.
	assert.Equal(t, []string{"positions", "open-orders", "balances", "set-leverage"}, fake.callNames())
}

func TestCycleCloseSignalFlattensPosition(t *testing.T) {
	b := bus.New()
	defer b.Close()

	fake := newFakeTrading()
	fake.positions = []domain.Position{
		{Instrument: "ETH-USDT-SWAP", PosSide: "long", Size: 2},
	}
	exec := NewExecutor(fake, b, testMarkets(), "cross", 20, nil, zap.NewNop())
	an := NewAnalytics(newFakeMarketData(), zap.NewNop())
	ai := &fakeAI{response: `{"action":"close","instrument":"ETH-USDT-SWAP"}`}

	loop := NewAILoop(ai, an, exec, b, []string{"BTC-USDT-SWAP", "ETH-USDT-SWAP"}, time.Minute, true, true, zap.NewNop())
	loop.RunCycle(context.Background())

	require.Len(t, fake.placed, 1)
	placed := fake.placed[0]
	assert.Equal(t, domain.SideSell, placed.Side)
	assert.Equal(t, 2.0, placed.Size)
	assert.True(t, placed.ReduceOnly)
	assert.Equal(t, domain.TagAIClose, placed.Tag)
}
