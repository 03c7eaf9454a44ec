package domain

import "time"

// AccountSnapshot is assembled fresh at the start of every AI cycle and
// discarded afterwards; it is never cached across cycles.
type AccountSnapshot struct {
	Positions    []Position      `json:"positions"`
	OpenOrders   []OpenOrder     `json:"open_orders"`
	Balances     []Balance       `json:"balances"`
	RecentTrades []TradeLogEntry `json:"recent_trades"`
	Taken        time.Time       `json:"taken"`
}

// TradeLogEntry is one order lifecycle record in the append-only trade log.
type TradeLogEntry struct {
	TimestampMs int64   `json:"timestamp_ms"`
	RequestID   string  `json:"request_id"`
	Operation   string  `json:"operation"`
	Instrument  string  `json:"instrument"`
	Side        Side    `json:"side,omitempty"`
	Size        float64 `json:"size,omitempty"`
	Price       float64 `json:"price,omitempty"`
	Leverage    float64 `json:"leverage,omitempty"`
	Tag         string  `json:"tag,omitempty"`
	OrderID     string  `json:"order_id,omitempty"`
	Accepted    bool    `json:"accepted"`
	Error       string  `json:"error,omitempty"`
}

// TradeLogEntryFromResult maps an OrderResult to its persisted form.
func TradeLogEntryFromResult(r OrderResult) TradeLogEntry {
	return TradeLogEntry{
		TimestampMs: r.Timestamp.UnixMilli(),
		RequestID:   r.RequestID,
		Operation:   r.Operation,
		Instrument:  r.Instrument,
		Side:        r.Side,
		Size:        r.Size,
		Price:       r.Price,
		Leverage:    r.Leverage,
		Tag:         r.Tag,
		OrderID:     r.OrderID,
		Accepted:    r.Accepted,
		Error:       r.Error,
	}
}

// AIDecisionRecord is the append-only audit record of one decision cycle.
// It is written whether or not the cycle produced a usable action.
type AIDecisionRecord struct {
	TimestampMs   int64  `json:"timestamp_ms"`
	PromptContext string `json:"prompt_context"`
	RawResponse   string `json:"raw_response"`
	ParsedActions string `json:"parsed_actions,omitempty"`
	ParseError    string `json:"parse_error,omitempty"`
}

// ErrorLogEntry is one record in the append-only error log.
type ErrorLogEntry struct {
	TimestampMs int64  `json:"timestamp_ms"`
	Message     string `json:"message"`
	Context     string `json:"context,omitempty"`
}
