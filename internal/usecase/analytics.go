package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/vitos/okx_mark_pilot/internal/domain"
)

const (
	intradayBar     = "3m"
	intradayLimit   = 160
	swingBar        = "4H"
	swingLimit      = 120
	seriesTail      = 8
	volumeAvgPeriod = 20
)

// InstrumentAnalytics is the per-instrument market digest handed to the AI
// prompt: current values plus short tails of each indicator series across an
// intraday and a swing timeframe.
type InstrumentAnalytics struct {
	InstID string
	Symbol string

	CurrentPrice float64
	CurrentEMA20 float64
	CurrentMACD  float64
	CurrentRSI7  float64

	OILatest    float64
	OIAverage   float64
	FundingRate float64
	HasFunding  bool

	IntradayPrices []float64
	IntradayEMA20  []float64
	IntradayMACD   []float64
	IntradayRSI7   []float64
	IntradayRSI14  []float64

	SwingEMA20         float64
	SwingEMA50         float64
	SwingATR3          float64
	SwingATR14         float64
	SwingVolumeCurrent float64
	SwingVolumeAvg     float64
	SwingMACD          []float64
	SwingRSI14         []float64
}

// Analytics fetches candles and derives indicators for the AI prompt.
type Analytics struct {
	api    domain.MarketDataAPI
	logger *zap.Logger
}

func NewAnalytics(api domain.MarketDataAPI, logger *zap.Logger) *Analytics {
	return &Analytics{api: api, logger: logger}
}

// FetchAll gathers analytics for every instrument in parallel. Instruments
// that fail are skipped with a log line; one bad symbol does not starve the
// rest of the cycle.
func (a *Analytics) FetchAll(ctx context.Context, instruments []string) []InstrumentAnalytics {
	results := make([]InstrumentAnalytics, len(instruments))
	okFlags := make([]bool, len(instruments))

	var wg sync.WaitGroup
	for i, inst := range instruments {
		wg.Add(1)
		go func(idx int, instID string) {
			defer wg.Done()
			ia, err := a.fetchInstrument(ctx, instID)
			if err != nil {
				a.logger.Warn("analytics unavailable", zap.String("instId", instID), zap.Error(err))
				return
			}
			results[idx] = ia
			okFlags[idx] = true
		}(i, inst)
	}
	wg.Wait()

	out := make([]InstrumentAnalytics, 0, len(instruments))
	for i := range results {
		if okFlags[i] {
			out = append(out, results[i])
		}
	}
	return out
}

func (a *Analytics) fetchInstrument(ctx context.Context, instID string) (InstrumentAnalytics, error) {
	intraday, err := a.api.GetCandles(ctx, instID, intradayBar, intradayLimit)
	if err != nil {
		return InstrumentAnalytics{}, err
	}
	if len(intraday) == 0 {
		return InstrumentAnalytics{}, fmt.Errorf("no %s candles for %s", intradayBar, instID)
	}
	// Swing data and the open-interest/funding extras are best effort.
	swing, err := a.api.GetCandles(ctx, instID, swingBar, swingLimit)
	if err != nil {
		swing = nil
	}

	intradayCloses := closes(intraday)
	swingCloses := closes(swing)
	swingVolumes := volumes(swing)

	ema20Intraday := computeEMA(intradayCloses, emaShortPeriod)
	macdIntraday := computeMACD(intradayCloses)
	rsi7Intraday := computeRSI(intradayCloses, rsiShortPeriod)
	rsi14Intraday := computeRSI(intradayCloses, rsiLongPeriod)
	ema20Swing := computeEMA(swingCloses, emaShortPeriod)
	ema50Swing := computeEMA(swingCloses, emaLongPeriod)
	macdSwing := computeMACD(swingCloses)
	rsi14Swing := computeRSI(swingCloses, rsiLongPeriod)
	atr3Swing := computeATR(swing, atrFastPeriod)
	atr14Swing := computeATR(swing, atrSlowPeriod)

	ia := InstrumentAnalytics{
		InstID:         instID,
		Symbol:         instSymbol(instID),
		IntradayPrices: takeTail(intradayCloses, seriesTail),
		IntradayEMA20:  takeTail(ema20Intraday, seriesTail),
		IntradayMACD:   takeTail(macdIntraday, seriesTail),
		IntradayRSI7:   takeTail(rsi7Intraday, seriesTail),
		IntradayRSI14:  takeTail(rsi14Intraday, seriesTail),
		SwingMACD:      takeTail(macdSwing, seriesTail),
		SwingRSI14:     takeTail(rsi14Swing, seriesTail),
	}
	ia.CurrentPrice, _ = lastValue(intradayCloses)
	ia.CurrentEMA20, _ = lastValue(ema20Intraday)
	ia.CurrentMACD, _ = lastValue(macdIntraday)
	ia.CurrentRSI7, _ = lastValue(rsi7Intraday)
	ia.SwingEMA20, _ = lastValue(ema20Swing)
	ia.SwingEMA50, _ = lastValue(ema50Swing)
	ia.SwingATR3, _ = lastValue(atr3Swing)
	ia.SwingATR14, _ = lastValue(atr14Swing)
	ia.SwingVolumeCurrent, _ = lastValue(swingVolumes)
	ia.SwingVolumeAvg, _ = averageTail(swingVolumes, volumeAvgPeriod)

	if oi, err := a.api.GetOpenInterest(ctx, instID); err == nil {
		ia.OILatest = oi.Latest
		ia.OIAverage = oi.Average
	}
	if fr, err := a.api.GetFundingRate(ctx, instID); err == nil {
		ia.FundingRate = fr
		ia.HasFunding = true
	}
	return ia, nil
}

func closes(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func volumes(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

// instSymbol extracts the base coin from an instrument id, e.g. BTC from
// BTC-USDT-SWAP.
func instSymbol(instID string) string {
	if i := strings.IndexByte(instID, '-'); i > 0 {
		return instID[:i]
	}
	return instID
}
