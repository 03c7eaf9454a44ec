package usecase

import (
	"math"

	"github.com/vitos/okx_mark_pilot/internal/domain"
)

const (
	emaShortPeriod = 20
	emaLongPeriod  = 50
	rsiShortPeriod = 7
	rsiLongPeriod  = 14
	macdFastPeriod = 12
	macdSlowPeriod = 26
	atrFastPeriod  = 3
	atrSlowPeriod  = 14
)

// computeEMA returns the full EMA series, seeded from the first value.
func computeEMA(series []float64, period int) []float64 {
	if len(series) == 0 || period == 0 {
		return nil
	}
	out := make([]float64, 0, len(series))
	k := 2.0 / (float64(period) + 1.0)
	ema := series[0]
	for _, v := range series {
		ema = v*k + ema*(1.0-k)
		out = append(out, ema)
	}
	return out
}

// computeMACD is the fast/slow EMA difference (no signal line).
func computeMACD(series []float64) []float64 {
	if len(series) == 0 {
		return nil
	}
	fast := computeEMA(series, macdFastPeriod)
	slow := computeEMA(series, macdSlowPeriod)
	out := make([]float64, len(series))
	for i := range out {
		out[i] = fast[i] - slow[i]
	}
	return out
}

// computeRSI uses Wilder smoothing; positions before the first full period
// hold the neutral 50.
func computeRSI(series []float64, period int) []float64 {
	if len(series) < 2 || period == 0 {
		return nil
	}
	out := make([]float64, len(series))
	for i := range out {
		out[i] = 50.0
	}
	if len(series) <= period {
		return out
	}

	var gainSum, lossSum float64
	for i := 1; i <= period; i++ {
		delta := series[i] - series[i-1]
		if delta >= 0 {
			gainSum += delta
		} else {
			lossSum -= delta
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)
	out[period] = rsiFromAvg(avgGain, avgLoss)
	for i := period + 1; i < len(series); i++ {
		delta := series[i] - series[i-1]
		gain := math.Max(delta, 0)
		loss := math.Max(-delta, 0)
		avgGain = (avgGain*(float64(period)-1) + gain) / float64(period)
		avgLoss = (avgLoss*(float64(period)-1) + loss) / float64(period)
		out[i] = rsiFromAvg(avgGain, avgLoss)
	}
	return out
}

func rsiFromAvg(avgGain, avgLoss float64) float64 {
	if math.Abs(avgLoss) < 1e-12 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs)
}

// computeATR returns Wilder-smoothed average true range; positions before
// the first full period hold zero.
func computeATR(candles []domain.Candle, period int) []float64 {
	if len(candles) == 0 || period == 0 {
		return nil
	}
	tr := make([]float64, len(candles))
	for i, c := range candles {
		prevClose := c.Close
		if i > 0 {
			prevClose = candles[i-1].Close
		}
		tr[i] = math.Max(c.High-c.Low,
			math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
	}

	out := make([]float64, len(candles))
	if len(tr) <= period {
		return out
	}
	var sum float64
	for _, v := range tr[:period] {
		sum += v
	}
	atr := sum / float64(period)
	out[period] = atr
	for i := period + 1; i < len(tr); i++ {
		atr = ((float64(period)-1)*atr + tr[i]) / float64(period)
		out[i] = atr
	}
	return out
}

// takeTail returns the last count values, or all of them if fewer exist.
func takeTail(values []float64, count int) []float64 {
	if count == 0 || len(values) == 0 {
		return nil
	}
	if len(values) <= count {
		return append([]float64(nil), values...)
	}
	return append([]float64(nil), values[len(values)-count:]...)
}

// averageTail averages the last period values.
func averageTail(values []float64, period int) (float64, bool) {
	if len(values) == 0 || period == 0 {
		return 0, false
	}
	start := len(values) - period
	if start < 0 {
		start = 0
	}
	slice := values[start:]
	var sum float64
	for _, v := range slice {
		sum += v
	}
	return sum / float64(len(slice)), true
}

func lastValue(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	return values[len(values)-1], true
}
