package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vitos/okx_mark_pilot/internal/domain"
)

type Config struct {
	Exchange struct {
		RESTEndpoint string `yaml:"rest_endpoint"`
		WSEndpoint   string `yaml:"ws_endpoint"`
		APIKey       string `yaml:"api_key"`
		APISecret    string `yaml:"api_secret"`
		Passphrase   string `yaml:"passphrase"`
		TdMode       string `yaml:"td_mode"` // cross | isolated | cash
	} `yaml:"exchange"`

	Instruments []string `yaml:"instruments"`

	Thresholds []ThresholdConfig `yaml:"thresholds"`

	History struct {
		WindowMinutes   int `yaml:"window_minutes"`
		PreloadAttempts int `yaml:"preload_attempts"`
	} `yaml:"history"`

	Notify struct {
		DebounceMs int `yaml:"debounce_ms"`
	} `yaml:"notify"`

	Trading struct {
		Enabled     bool    `yaml:"enabled"`
		MaxLeverage float64 `yaml:"max_leverage"`
	} `yaml:"trading"`

	AI struct {
		Enabled         bool   `yaml:"enabled"`
		Endpoint        string `yaml:"endpoint"`
		APIKey          string `yaml:"api_key"`
		Model           string `yaml:"model"`
		IntervalMinutes int    `yaml:"interval_minutes"`
	} `yaml:"ai"`

	Logs struct {
		TradePath string `yaml:"trade_path"`
		AIPath    string `yaml:"ai_path"`
		ErrorPath string `yaml:"error_path"`
	} `yaml:"logs"`

	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

type ThresholdConfig struct {
	Instrument string  `yaml:"instrument"`
	Lower      float64 `yaml:"lower"`
	Upper      float64 `yaml:"upper"`
	DebounceMs int     `yaml:"debounce_ms"` // 0 = use the global default
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Exchange.RESTEndpoint == "" {
		c.Exchange.RESTEndpoint = "https://www.okx.com"
	}
	if c.Exchange.WSEndpoint == "" {
		c.Exchange.WSEndpoint = "wss://ws.okx.com:8443/ws/v5/public"
	}
	if c.Exchange.TdMode == "" {
		c.Exchange.TdMode = "cross"
	}
	if c.History.WindowMinutes == 0 {
		c.History.WindowMinutes = 60
	}
	if c.History.PreloadAttempts == 0 {
		c.History.PreloadAttempts = 5
	}
	if c.Notify.DebounceMs == 0 {
		c.Notify.DebounceMs = 10000
	}
	if c.Trading.MaxLeverage == 0 {
		c.Trading.MaxLeverage = 20
	}
	if c.AI.IntervalMinutes == 0 {
		c.AI.IntervalMinutes = 3
	}
	if c.AI.Endpoint == "" {
		c.AI.Endpoint = "https://api.deepseek.com/chat/completions"
	}
	if c.AI.Model == "" {
		c.AI.Model = "deepseek-chat"
	}
	if c.Logs.TradePath == "" {
		c.Logs.TradePath = "trade_logs.jsonl"
	}
	if c.Logs.AIPath == "" {
		c.Logs.AIPath = "ai_logs.jsonl"
	}
	if c.Logs.ErrorPath == "" {
		c.Logs.ErrorPath = "error_logs.jsonl"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// validate covers the startup-fatal class: a broken instrument list or
// threshold table must stop the process before any task starts.
func (c *Config) validate() error {
	if len(c.Instruments) == 0 {
		return fmt.Errorf("config: at least one instrument is required")
	}
	known := make(map[string]bool, len(c.Instruments))
	for i, inst := range c.Instruments {
		inst = strings.TrimSpace(strings.ToUpper(inst))
		if inst == "" || strings.Count(inst, "-") < 1 {
			return fmt.Errorf("config: malformed instrument %q", c.Instruments[i])
		}
		if known[inst] {
			return fmt.Errorf("config: duplicate instrument %q", inst)
		}
		known[inst] = true
		c.Instruments[i] = inst
	}
	for _, t := range c.Thresholds {
		inst := strings.TrimSpace(strings.ToUpper(t.Instrument))
		if !known[inst] {
			return fmt.Errorf("config: threshold references unknown instrument %q", t.Instrument)
		}
		if t.Upper != 0 && t.Lower > t.Upper {
			return fmt.Errorf("config: threshold for %s has lower %v > upper %v", inst, t.Lower, t.Upper)
		}
	}
	switch c.Exchange.TdMode {
	case "cross", "isolated", "cash":
	default:
		return fmt.Errorf("config: invalid td_mode %q", c.Exchange.TdMode)
	}
	if c.Trading.Enabled && !c.HasCredentials() {
		return fmt.Errorf("config: trading.enabled requires api_key, api_secret and passphrase")
	}
	if c.AI.Enabled && c.AI.APIKey == "" {
		return fmt.Errorf("config: ai.enabled requires ai.api_key")
	}
	if c.Trading.MaxLeverage < 1 {
		return fmt.Errorf("config: trading.max_leverage must be >= 1")
	}
	return nil
}

// HasCredentials reports whether the exchange account surface is usable.
func (c *Config) HasCredentials() bool {
	return c.Exchange.APIKey != "" && c.Exchange.APISecret != "" && c.Exchange.Passphrase != ""
}

// ThresholdMap returns the per-instrument alert bands. Instruments without an
// entry default to [0, +inf). Duplicate entries are last-write-wins.
func (c *Config) ThresholdMap() map[string]domain.Threshold {
	out := make(map[string]domain.Threshold, len(c.Instruments))
	for _, inst := range c.Instruments {
		out[inst] = domain.Threshold{Instrument: inst, Lower: 0, Upper: math.MaxFloat64}
	}
	for _, t := range c.Thresholds {
		inst := strings.TrimSpace(strings.ToUpper(t.Instrument))
		upper := t.Upper
		if upper == 0 {
			upper = math.MaxFloat64
		}
		out[inst] = domain.Threshold{Instrument: inst, Lower: t.Lower, Upper: upper}
	}
	return out
}

// DebounceMap returns the per-instrument notify debounce intervals.
func (c *Config) DebounceMap() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.Thresholds))
	for _, t := range c.Thresholds {
		if t.DebounceMs > 0 {
			out[strings.TrimSpace(strings.ToUpper(t.Instrument))] = time.Duration(t.DebounceMs) * time.Millisecond
		}
	}
	return out
}

func (c *Config) HistoryWindow() time.Duration {
	return time.Duration(c.History.WindowMinutes) * time.Minute
}

func (c *Config) NotifyDebounce() time.Duration {
	return time.Duration(c.Notify.DebounceMs) * time.Millisecond
}

func (c *Config) AIInterval() time.Duration {
	return time.Duration(c.AI.IntervalMinutes) * time.Minute
}
