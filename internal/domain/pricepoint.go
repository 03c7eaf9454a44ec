package domain

import "time"

// PricePoint is a single mark-price observation for an instrument.
// Produced only by the websocket ingestor and the history preloader.
type PricePoint struct {
	Instrument string    `json:"instrument"`
	Timestamp  time.Time `json:"timestamp"`
	MarkPrice  float64   `json:"mark_price"`

	// Precision is the number of decimals the exchange used to encode the
	// price. Zero when unknown (e.g. synthesized from candles).
	Precision int `json:"-"`
}

// Threshold is a per-instrument alert band. Prices outside [Lower, Upper]
// trigger a Notify command.
type Threshold struct {
	Instrument string
	Lower      float64
	Upper      float64
}

// Candle is an OHLCV bar as returned by the exchange history endpoints.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// MarketInfo describes the trading rules of one instrument.
type MarketInfo struct {
	InstID      string  `json:"inst_id"`
	InstType    string  `json:"inst_type"`
	LotSize     float64 `json:"lot_size"`
	MinSize     float64 `json:"min_size"`
	TickSize    float64 `json:"tick_size"`
	CtVal       float64 `json:"ct_val"`
	MaxLeverage float64 `json:"max_leverage"`
}

// OpenInterestStats carries the latest open interest reading and its recent
// average for one instrument.
type OpenInterestStats struct {
	Latest  float64 `json:"latest"`
	Average float64 `json:"average"`
}
