package usecase

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/vitos/okx_mark_pilot/internal/domain"
)

// Signal is the closed set of actions the AI may request. Anything else
// fails validation and is never executed.
type Signal string

const (
	SignalBuyToEnter     Signal = "buy_to_enter"
	SignalSellToEnter    Signal = "sell_to_enter"
	SignalHold           Signal = "hold"
	SignalClose          Signal = "close"
	SignalCancelOrder    Signal = "cancel_order"
	SignalAdjustLeverage Signal = "adjust_leverage"
	SignalWait           Signal = "wait"
)

func (s Signal) valid() bool {
	switch s {
	case SignalBuyToEnter, SignalSellToEnter, SignalHold, SignalClose, SignalCancelOrder, SignalAdjustLeverage, SignalWait:
		return true
	}
	return false
}

// actionable reports whether the signal requires any exchange call.
func (s Signal) actionable() bool {
	return s != SignalHold && s != SignalWait
}

// FlexFloat accepts JSON numbers, numeric strings, and null. Model output
// frequently quotes numbers, so the strict decoder would reject usable
// decisions.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == `""` {
		*f = 0
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = FlexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = FlexFloat(v)
	return nil
}

// Decision is one parsed, not yet validated, AI instruction.
type Decision struct {
	Signal        Signal    `json:"signal"`
	Coin          string    `json:"coin"`
	Quantity      FlexFloat `json:"quantity"`
	Leverage      FlexFloat `json:"leverage"`
	EntryPrice    FlexFloat `json:"entry_price"`
	ProfitTarget  FlexFloat `json:"profit_target"`
	StopLoss      FlexFloat `json:"stop_loss"`
	Confidence    FlexFloat `json:"confidence"`
	RiskUSD       FlexFloat `json:"risk_usd"`
	CancelOrders  []string  `json:"cancel_orders"`
	Invalidation  string    `json:"invalidation_condition"`
	Justification string    `json:"justification"`

	// Aliases some models emit instead of signal/coin.
	Action     Signal `json:"action"`
	Instrument string `json:"instrument"`
}

// normalize folds the alias fields into the canonical ones.
func (d *Decision) normalize() {
	if d.Signal == "" {
		d.Signal = d.Action
	}
	if d.Coin == "" {
		d.Coin = d.Instrument
	}
}

// ParseDecisions extracts a decision list from untrusted model output. The
// payload may be a bare array, a bare object, an object wrapping the array
// under a known key, or any of those embedded in prose. Returned errors are
// always *domain.ParseError.
func ParseDecisions(raw string) ([]Decision, error) {
	value, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}
	return decisionsFromValue(value, 0)
}

// extractJSON parses raw as JSON, falling back to the outermost bracketed
// or braced substring when the response wraps JSON in prose.
func extractJSON(raw string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(raw)
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), nil
	}

	if start, end := strings.Index(raw, "["), strings.LastIndex(raw, "]"); start >= 0 && end > start {
		slice := raw[start : end+1]
		if json.Valid([]byte(slice)) {
			return json.RawMessage(slice), nil
		}
	}
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		slice := raw[start : end+1]
		if json.Valid([]byte(slice)) {
			return json.RawMessage(slice), nil
		}
	}
	return nil, &domain.ParseError{Reason: "no JSON payload found in response"}
}

const maxUnwrapDepth = 3

func decisionsFromValue(value json.RawMessage, depth int) ([]Decision, error) {
	if depth > maxUnwrapDepth {
		return nil, &domain.ParseError{Reason: "payload nesting too deep"}
	}

	trimmed := strings.TrimSpace(string(value))
	switch {
	case strings.HasPrefix(trimmed, "["):
		var items []json.RawMessage
		if err := json.Unmarshal(value, &items); err != nil {
			return nil, &domain.ParseError{Reason: "invalid decision array: " + err.Error()}
		}
		decisions := make([]Decision, 0, len(items))
		for i, item := range items {
			if strings.TrimSpace(string(item)) == "null" {
				continue
			}
			var d Decision
			if err := json.Unmarshal(item, &d); err != nil {
				return nil, &domain.ParseError{Reason: "decision " + strconv.Itoa(i+1) + ": " + err.Error()}
			}
			d.normalize()
			decisions = append(decisions, d)
		}
		if len(decisions) == 0 {
			return nil, &domain.ParseError{Reason: "decision array is empty"}
		}
		return decisions, nil

	case strings.HasPrefix(trimmed, "{"):
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(value, &probe); err != nil {
			return nil, &domain.ParseError{Reason: "invalid decision object: " + err.Error()}
		}
		_, hasSignal := probe["signal"]
		_, hasAction := probe["action"]
		if hasSignal || hasAction {
			var d Decision
			if err := json.Unmarshal(value, &d); err != nil {
				return nil, &domain.ParseError{Reason: "invalid decision: " + err.Error()}
			}
			d.normalize()
			return []Decision{d}, nil
		}
		// Models sometimes wrap the list under a named key.
		for _, key := range []string{"operations", "decisions", "actions", "response"} {
			if nested, ok := probe[key]; ok {
				return decisionsFromValue(nested, depth+1)
			}
		}
		return nil, &domain.ParseError{Reason: "object carries no signal and no known wrapper key"}

	case strings.HasPrefix(trimmed, `"`):
		// String-encoded JSON, e.g. {"response": "[{...}]"}.
		var inner string
		if err := json.Unmarshal(value, &inner); err != nil {
			return nil, &domain.ParseError{Reason: "invalid string payload: " + err.Error()}
		}
		extracted, err := extractJSON(inner)
		if err != nil {
			return nil, err
		}
		return decisionsFromValue(extracted, depth+1)

	default:
		return nil, &domain.ParseError{Reason: "payload must be a JSON object or array"}
	}
}

// ResolveInstrument maps the AI's coin field onto a configured instrument.
// Full ids must match exactly; bare coins match by prefix (ETH matches
// ETH-USDT-SWAP). Returns false when nothing matches.
func ResolveInstrument(coin string, instruments []string) (string, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(coin))
	if normalized == "" {
		return "", false
	}
	for _, inst := range instruments {
		upper := strings.ToUpper(inst)
		if strings.Contains(normalized, "-") {
			if upper == normalized {
				return inst, true
			}
		} else if strings.HasPrefix(upper, normalized+"-") {
			return inst, true
		}
	}
	return "", false
}

// EntryPosSide derives the position side a new entry opens on a derivatives
// instrument. Spot instruments carry no position side.
func EntryPosSide(instID string, side domain.Side) string {
	upper := strings.ToUpper(instID)
	if !strings.HasSuffix(upper, "-SWAP") && !strings.HasSuffix(upper, "-FUTURES") {
		return ""
	}
	if side == domain.SideBuy {
		return "long"
	}
	return "short"
}

// ValidTakeProfit reports whether target sits on the profitable side of the
// entry for the given direction.
func ValidTakeProfit(side domain.Side, entryPrice, target float64) bool {
	if entryPrice <= 0 || target <= 0 {
		return false
	}
	if side == domain.SideBuy {
		return target > entryPrice
	}
	return target < entryPrice
}

// ValidStopLoss reports whether stop sits on the losing side of the entry
// for the given direction.
func ValidStopLoss(side domain.Side, entryPrice, stop float64) bool {
	if entryPrice <= 0 || stop <= 0 {
		return false
	}
	if side == domain.SideBuy {
		return stop < entryPrice
	}
	return stop > entryPrice
}
