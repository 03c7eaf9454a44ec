package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
instruments:
  - BTC-USDT-SWAP
`))
	require.NoError(t, err)

	assert.Equal(t, "https://www.okx.com", cfg.Exchange.RESTEndpoint)
	assert.Equal(t, "cross", cfg.Exchange.TdMode)
	assert.Equal(t, time.Hour, cfg.HistoryWindow())
	assert.Equal(t, 10*time.Second, cfg.NotifyDebounce())
	assert.Equal(t, 3*time.Minute, cfg.AIInterval())
	assert.Equal(t, 20.0, cfg.Trading.MaxLeverage)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.HasCredentials())
}

func TestLoadNormalizesInstruments(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
instruments:
  - btc-usdt-swap
  - " eth-usdt-swap "
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC-USDT-SWAP", "ETH-USDT-SWAP"}, cfg.Instruments)
}

func TestLoadFatalOnBadInstrumentList(t *testing.T) {
	cases := map[string]string{
		"empty list": `instruments: []`,
		"malformed":  "instruments:\n  - BTCUSDT",
		"duplicate":  "instruments:\n  - BTC-USDT-SWAP\n  - btc-usdt-swap",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadRejectsThresholdForUnknownInstrument(t *testing.T) {
	_, err := Load(writeConfig(t, `
instruments:
  - BTC-USDT-SWAP
thresholds:
  - instrument: ETH-USDT-SWAP
    lower: 1000
    upper: 2000
`))
	assert.Error(t, err)
}

func TestLoadRejectsInvertedThreshold(t *testing.T) {
	_, err := Load(writeConfig(t, `
instruments:
  - BTC-USDT-SWAP
thresholds:
  - instrument: BTC-USDT-SWAP
    lower: 40000
    upper: 30000
`))
	assert.Error(t, err)
}

func TestTradingRequiresCredentials(t *testing.T) {
	_, err := Load(writeConfig(t, `
instruments:
  - BTC-USDT-SWAP
trading:
  enabled: true
`))
	assert.Error(t, err)
}

func TestThresholdAndDebounceMaps(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
instruments:
  - BTC-USDT-SWAP
  - ETH-USDT-SWAP
thresholds:
  - instrument: BTC-USDT-SWAP
    lower: 30000
    upper: 38000
    debounce_ms: 5000
`))
	require.NoError(t, err)

	thresholds := cfg.ThresholdMap()
	btc := thresholds["BTC-USDT-SWAP"]
	assert.Equal(t, 30000.0, btc.Lower)
	assert.Equal(t, 38000.0, btc.Upper)

	// Instruments without a configured band never alert.
	eth := thresholds["ETH-USDT-SWAP"]
	assert.Equal(t, 0.0, eth.Lower)
	assert.Greater(t, eth.Upper, 1e300)

	debounce := cfg.DebounceMap()
	assert.Equal(t, 5*time.Second, debounce["BTC-USDT-SWAP"])
	_, hasEth := debounce["ETH-USDT-SWAP"]
	assert.False(t, hasEth)
}
