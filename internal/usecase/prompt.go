package usecase

import (
	"fmt"
	"strings"

	"github.com/vitos/okx_mark_pilot/internal/domain"
)

// SystemPrompt pins the model to the closed action schema. The decision
// parser tolerates wrappers and quoted numbers, but the prompt still asks
// for the strict form.
const SystemPrompt = `You are a derivatives risk manager for an OKX perpetual-swap account.
You receive an account snapshot and per-instrument technical indicators, and
you respond with a JSON array of decision objects and nothing else.

Each decision object has these fields:
- "signal": one of "buy_to_enter", "sell_to_enter", "close", "cancel_order", "adjust_leverage", "hold", "wait"
- "coin": the instrument id (e.g. "BTC-USDT-SWAP") or bare coin (e.g. "BTC")
- "quantity": contract size for entries (number)
- "leverage": desired leverage for entries and "adjust_leverage" (number)
- "entry_price": reference entry price (number)
- "profit_target": take-profit trigger price (number, 0 to skip)
- "stop_loss": stop-loss trigger price (number, 0 to skip)
- "cancel_orders": array of order ids, only for "cancel_order"
- "justification": one short sentence

Rules:
- Output only instruments present in the snapshot data.
- For a long, profit_target must be above entry_price and stop_loss below it; mirrored for a short.
- Use "hold" or "wait" when no action is warranted. Never invent fields.
- Respond with the bare JSON array. No prose, no code fences.`

const (
	promptMaxPositions = 20
	promptMaxOrders    = 20
	promptMaxBalances  = 10
)

// BuildUserPrompt renders the snapshot and analytics deterministically so
// identical inputs always produce an identical prompt.
func BuildUserPrompt(snapshot domain.AccountSnapshot, analytics []InstrumentAnalytics) string {
	var b strings.Builder
	b.WriteString("Live OKX account snapshot. Assess risk and respond with decisions.\n")

	b.WriteString("\n[Positions]\n")
	if len(snapshot.Positions) == 0 {
		b.WriteString("none\n")
	}
	for i, p := range snapshot.Positions {
		if i == promptMaxPositions {
			fmt.Fprintf(&b, "... %d more positions omitted\n", len(snapshot.Positions)-promptMaxPositions)
			break
		}
		fmt.Fprintf(&b, "- %s %s size=%s entry=%s mark=%s upl=%s lever=%s\n",
			p.Instrument, p.PosSide,
			formatFloat(p.Size), formatFloat(p.EntryPrice), formatFloat(p.MarkPrice),
			formatFloat(p.UnrealizedPnL), formatFloat(p.Leverage))
	}

	b.WriteString("\n[Open orders]\n")
	if len(snapshot.OpenOrders) == 0 {
		b.WriteString("none\n")
	}
	for i, o := range snapshot.OpenOrders {
		if i == promptMaxOrders {
			fmt.Fprintf(&b, "... %d more orders omitted\n", len(snapshot.OpenOrders)-promptMaxOrders)
			break
		}
		fmt.Fprintf(&b, "- id=%s %s %s size=%s price=%s tag=%s\n",
			o.OrderID, o.Instrument, o.Side, formatFloat(o.Size), formatFloat(o.Price), o.Tag)
	}

	b.WriteString("\n[Balances]\n")
	if len(snapshot.Balances) == 0 {
		b.WriteString("none\n")
	}
	for i, bal := range snapshot.Balances {
		if i == promptMaxBalances {
			fmt.Fprintf(&b, "... %d more currencies omitted\n", len(snapshot.Balances)-promptMaxBalances)
			break
		}
		fmt.Fprintf(&b, "- %s equity=%s available=%s\n",
			bal.Currency, formatFloat(bal.Equity), formatFloat(bal.Available))
	}

	if len(snapshot.RecentTrades) > 0 {
		b.WriteString("\n[Recent trades]\n")
		for _, tr := range snapshot.RecentTrades {
			fmt.Fprintf(&b, "- %s %s %s size=%s accepted=%t tag=%s\n",
				tr.Instrument, tr.Operation, tr.Side, formatFloat(tr.Size), tr.Accepted, tr.Tag)
		}
	}

	appendAnalytics(&b, analytics)
	return b.String()
}

func appendAnalytics(b *strings.Builder, analytics []InstrumentAnalytics) {
	if len(analytics) == 0 {
		return
	}
	b.WriteString("\n[Market indicators]\n")
	for _, a := range analytics {
		fmt.Fprintf(b, "%s (%s)\n", a.Symbol, a.InstID)
		fmt.Fprintf(b, "- current_price = %s\n", formatFloat(a.CurrentPrice))
		fmt.Fprintf(b, "- current_ema20 = %s\n", formatFloat(a.CurrentEMA20))
		fmt.Fprintf(b, "- current_macd = %s\n", formatFloat(a.CurrentMACD))
		fmt.Fprintf(b, "- current_rsi7 = %s\n", formatFloat(a.CurrentRSI7))
		fmt.Fprintf(b, "- open interest: latest=%s average=%s\n", formatFloat(a.OILatest), formatFloat(a.OIAverage))
		if a.HasFunding {
			fmt.Fprintf(b, "- funding rate = %s\n", formatFloat(a.FundingRate))
		} else {
			b.WriteString("- funding rate = -\n")
		}
		b.WriteString("Intraday (3m bars, oldest to newest):\n")
		fmt.Fprintf(b, "prices: %s\n", formatSeries(a.IntradayPrices))
		fmt.Fprintf(b, "ema20: %s\n", formatSeries(a.IntradayEMA20))
		fmt.Fprintf(b, "macd: %s\n", formatSeries(a.IntradayMACD))
		fmt.Fprintf(b, "rsi7: %s\n", formatSeries(a.IntradayRSI7))
		fmt.Fprintf(b, "rsi14: %s\n", formatSeries(a.IntradayRSI14))
		b.WriteString("Swing (4H bars):\n")
		fmt.Fprintf(b, "ema20=%s vs ema50=%s\n", formatFloat(a.SwingEMA20), formatFloat(a.SwingEMA50))
		fmt.Fprintf(b, "atr3=%s vs atr14=%s\n", formatFloat(a.SwingATR3), formatFloat(a.SwingATR14))
		fmt.Fprintf(b, "volume=%s vs avg=%s\n", formatFloat(a.SwingVolumeCurrent), formatFloat(a.SwingVolumeAvg))
		fmt.Fprintf(b, "macd: %s\n", formatSeries(a.SwingMACD))
		fmt.Fprintf(b, "rsi14: %s\n", formatSeries(a.SwingRSI14))
	}
}

// formatFloat drops trailing zeros but keeps large values readable; small
// magnitudes keep six decimals so funding rates survive formatting.
func formatFloat(v float64) string {
	abs := v
	if abs < 0 {
		abs = -abs
	}
	if abs != 0 && abs < 0.01 {
		return fmt.Sprintf("%.6f", v)
	}
	return fmt.Sprintf("%.4f", v)
}

func formatSeries(values []float64) string {
	if len(values) == 0 {
		return "-"
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = formatFloat(v)
	}
	return strings.Join(parts, ", ")
}
