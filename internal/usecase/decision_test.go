package usecase

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitos/okx_mark_pilot/internal/domain"
)

func TestParseDecisionsBareArray(t *testing.T) {
	raw := `[{"signal":"buy_to_enter","coin":"BTC-USDT-SWAP","quantity":0.01,"leverage":3,"entry_price":90000.5,"profit_target":90500,"stop_loss":89000}]`
	decisions, err := ParseDecisions(raw)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	d := decisions[0]
	assert.Equal(t, SignalBuyToEnter, d.Signal)
	assert.Equal(t, "BTC-USDT-SWAP", d.Coin)
	assert.InDelta(t, 0.01, float64(d.Quantity), 1e-9)
	assert.InDelta(t, 90000.5, float64(d.EntryPrice), 1e-9)
}

func TestParseDecisionsWrappedWithStringNumbers(t *testing.T) {
	raw := `{
		"operations": [{
			"signal": "buy_to_enter",
			"coin": "BTC-USDT-SWAP",
			"quantity": "0.01",
			"leverage": "3",
			"entry_price": "90000.5",
			"profit_target": "90500",
			"stop_loss": "89000"
		}]
	}`
	decisions, err := ParseDecisions(raw)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	d := decisions[0]
	assert.InDelta(t, 0.01, float64(d.Quantity), 1e-9)
	assert.InDelta(t, 3.0, float64(d.Leverage), 1e-9)
	assert.InDelta(t, 90000.5, float64(d.EntryPrice), 1e-9)
}

func TestParseDecisionsStringWrappedArray(t *testing.T) {
	raw := `{"response": "[{\"signal\":\"hold\",\"coin\":\"ETH-USDT-SWAP\"}]"}`
	decisions, err := ParseDecisions(raw)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, SignalHold, decisions[0].Signal)
	assert.Equal(t, "ETH-USDT-SWAP", decisions[0].Coin)
}

func TestParseDecisionsEmbeddedInProse(t *testing.T) {
	raw := "Based on the data, I recommend:\n```json\n[{\"signal\":\"close\",\"coin\":\"ETH-USDT-SWAP\"}]\n```\nGood luck."
	decisions, err := ParseDecisions(raw)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, SignalClose, decisions[0].Signal)
}

func TestParseDecisionsSingleObject(t *testing.T) {
	raw := `{"signal":"close","coin":"ETH-USDT-SWAP"}`
	decisions, err := ParseDecisions(raw)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, SignalClose, decisions[0].Signal)
}

func TestParseDecisionsAcceptsActionAliases(t *testing.T) {
	raw := `{"action":"close","instrument":"ETH-USDT-SWAP"}`
	decisions, err := ParseDecisions(raw)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, SignalClose, decisions[0].Signal)
	assert.Equal(t, "ETH-USDT-SWAP", decisions[0].Coin)
}

func TestParseDecisionsSkipsNullEntries(t *testing.T) {
	raw := `[null, {"signal":"wait","coin":"BTC-USDT-SWAP"}, null]`
	decisions, err := ParseDecisions(raw)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, SignalWait, decisions[0].Signal)
}

func TestParseDecisionsRejectsGarbage(t *testing.T) {
	for _, raw := range []string{
		"no json here at all",
		`[]`,
		`42`,
		`{"note":"nothing useful"}`,
	} {
		_, err := ParseDecisions(raw)
		require.Error(t, err, "input: %s", raw)
		var parseErr *domain.ParseError
		assert.True(t, errors.As(err, &parseErr), "want ParseError for %q, got %v", raw, err)
	}
}

func TestResolveInstrument(t *testing.T) {
	instruments := []string{"BTC-USDT-SWAP", "ETH-USDT-SWAP"}

	got, ok := ResolveInstrument("ETH", instruments)
	require.True(t, ok)
	assert.Equal(t, "ETH-USDT-SWAP", got)

	got, ok = ResolveInstrument("btc-usdt-swap", instruments)
	require.True(t, ok)
	assert.Equal(t, "BTC-USDT-SWAP", got)

	_, ok = ResolveInstrument("SOL", instruments)
	assert.False(t, ok)

	_, ok = ResolveInstrument("ETH-USDT", instruments)
	assert.False(t, ok, "partial ids with a dash must match exactly")
}

func TestProtectiveSideValidation(t *testing.T) {
	// Long: TP above entry, SL below.
	assert.True(t, ValidTakeProfit(domain.SideBuy, 100, 110))
	assert.False(t, ValidTakeProfit(domain.SideBuy, 100, 90))
	assert.True(t, ValidStopLoss(domain.SideBuy, 100, 90))
	assert.False(t, ValidStopLoss(domain.SideBuy, 100, 110))

	// Short: mirrored.
	assert.True(t, ValidTakeProfit(domain.SideSell, 100, 90))
	assert.False(t, ValidTakeProfit(domain.SideSell, 100, 110))
	assert.True(t, ValidStopLoss(domain.SideSell, 100, 110))
	assert.False(t, ValidStopLoss(domain.SideSell, 100, 90))

	// Degenerate prices never validate.
	assert.False(t, ValidTakeProfit(domain.SideBuy, 0, 110))
	assert.False(t, ValidStopLoss(domain.SideBuy, 100, 0))
}

func TestEntryPosSide(t *testing.T) {
	assert.Equal(t, "long", EntryPosSide("BTC-USDT-SWAP", domain.SideBuy))
	assert.Equal(t, "short", EntryPosSide("BTC-USDT-SWAP", domain.SideSell))
	assert.Equal(t, "", EntryPosSide("BTC-USDT", domain.SideBuy))
}

func TestFlexFloatVariants(t *testing.T) {
	var d Decision
	require.NoError(t, jsonUnmarshal(`{"signal":"wait","coin":"BTC","quantity":null,"leverage":"","entry_price":"1.5","profit_target":2}`, &d))
	assert.Zero(t, float64(d.Quantity))
	assert.Zero(t, float64(d.Leverage))
	assert.InDelta(t, 1.5, float64(d.EntryPrice), 1e-9)
	assert.InDelta(t, 2.0, float64(d.ProfitTarget), 1e-9)
}

func jsonUnmarshal(raw string, v any) error {
	return json.Unmarshal([]byte(raw), v)
}
