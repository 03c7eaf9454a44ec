package domain

import "time"

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the closing side for a position opened on s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// Client order tags, carried in clOrdId prefixes so fills can be attributed
// to their origin when reading the trade log.
const (
	TagAIEntry      = "aientry"
	TagAIStopLoss   = "aisl"
	TagAITakeProfit = "aitp"
	TagAIClose      = "aiclose"
	TagAICancel     = "aicancel"
	TagManual       = "manual"
)

// Order is a transient trade intent. It is constructed, validated, submitted
// once, and discarded; the outcome lives on as an OrderResult.
type Order struct {
	Instrument string
	Side       Side
	Size       float64
	Type       OrderType
	Price      float64 // required for limit orders, ignored for market
	Leverage   float64 // 0 = keep current exchange setting
	ReduceOnly bool
	PosSide    string // "long"/"short" for swaps, "" for cash
	Tag        string
}

// Operation names reported in OrderResult and the trade log.
const (
	OpPlace       = "place"
	OpProtective  = "protective"
	OpClose       = "close"
	OpSetLeverage = "set-leverage"
	OpCancel      = "cancel"
)

// OrderResult is the single record produced by every execution-engine call,
// success or failure.
type OrderResult struct {
	RequestID  string    `json:"request_id"`
	Operation  string    `json:"operation"`
	Instrument string    `json:"instrument"`
	Side       Side      `json:"side,omitempty"`
	Size       float64   `json:"size,omitempty"`
	Price      float64   `json:"price,omitempty"`
	Leverage   float64   `json:"leverage,omitempty"`
	Tag        string    `json:"tag,omitempty"`
	OrderID    string    `json:"order_id,omitempty"`
	Accepted   bool      `json:"accepted"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Position is an exchange-reported snapshot. Never mutated locally.
type Position struct {
	Instrument    string  `json:"instrument"`
	PosSide       string  `json:"pos_side"`
	Size          float64 `json:"size"` // positive long, negative short in net mode
	EntryPrice    float64 `json:"entry_price"`
	MarkPrice     float64 `json:"mark_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	Leverage      float64 `json:"leverage"`
	MarginMode    string  `json:"margin_mode"`
}

// Flat reports whether there is nothing to close.
func (p Position) Flat() bool { return p.Size == 0 }

// CloseSide returns the side and size of the reducing order that would flatten
// the position.
func (p Position) CloseSide() (Side, float64) {
	size := p.Size
	if size < 0 {
		size = -size
	}
	if p.PosSide == "short" || p.Size < 0 {
		return SideBuy, size
	}
	return SideSell, size
}

// OpenOrder is a resting order reported by the exchange.
type OpenOrder struct {
	OrderID    string  `json:"order_id"`
	Instrument string  `json:"instrument"`
	Side       Side    `json:"side"`
	PosSide    string  `json:"pos_side"`
	Size       float64 `json:"size"`
	Price      float64 `json:"price"`
	Leverage   float64 `json:"leverage"`
	Tag        string  `json:"tag"`
}

// Balance is one currency line of the account balance.
type Balance struct {
	Currency  string  `json:"currency"`
	Equity    float64 `json:"equity"`
	Available float64 `json:"available"`
}
