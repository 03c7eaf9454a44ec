package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/okx_mark_pilot/internal/bus"
	"github.com/vitos/okx_mark_pilot/internal/domain"
	"github.com/vitos/okx_mark_pilot/internal/history"
)

const preloadBar = "1m"
const preloadPageLimit = 100

// Preloader seeds the history store with mark-price candles before live
// ticks arrive, so the AI and the display have a full window immediately.
// Instruments load in parallel; a rate-limited instrument backs off on its
// own without delaying its siblings.
type Preloader struct {
	api      domain.MarketDataAPI
	store    *history.Store
	bus      *bus.Bus
	logger   *zap.Logger
	attempts int

	sleep func(ctx context.Context, d time.Duration)
}

func NewPreloader(api domain.MarketDataAPI, store *history.Store, b *bus.Bus, attempts int, logger *zap.Logger) *Preloader {
	if attempts <= 0 {
		attempts = 5
	}
	return &Preloader{
		api:      api,
		store:    store,
		bus:      b,
		logger:   logger,
		attempts: attempts,
		sleep: func(ctx context.Context, d time.Duration) {
			select {
			case <-ctx.Done():
			case <-time.After(d):
			}
		},
	}
}

// Run preloads all instruments and returns when every one has either
// finished or exhausted its attempts. Failures degrade to an ErrorEvent;
// the live stream still fills history from that point on.
func (p *Preloader) Run(ctx context.Context, instruments []string) {
	var wg sync.WaitGroup
	for _, inst := range instruments {
		wg.Add(1)
		go func(instID string) {
			defer wg.Done()
			if err := p.preloadInstrument(ctx, instID); err != nil {
				p.logger.Warn("history preload incomplete", zap.String("instId", instID), zap.Error(err))
				p.bus.Publish(domain.ErrorEvent{
					Message: fmt.Sprintf("history preload for %s incomplete: %v", instID, err),
					Context: "preload",
				})
			}
		}(inst)
	}
	wg.Wait()
}

func (p *Preloader) preloadInstrument(ctx context.Context, instID string) error {
	window := p.store.Window()
	oldest := time.Now().Add(-window)

	var candles []domain.Candle
	var cursor int64 // ms timestamp to page backwards from, 0 = newest
	for {
		page, err := p.fetchPage(ctx, instID, cursor)
		if err != nil {
			if len(candles) > 0 {
				p.seed(instID, candles)
			}
			return err
		}
		if len(page) == 0 {
			break
		}
		candles = append(candles, page...)
		first := page[0]
		if time.UnixMilli(first.Time).Before(oldest) || len(page) < preloadPageLimit {
			break
		}
		cursor = first.Time
	}

	p.seed(instID, candles)
	p.logger.Info("history preloaded", zap.String("instId", instID), zap.Int("candles", len(candles)))
	return nil
}

// fetchPage retries rate-limited requests with doubling delays, up to the
// configured attempt budget. Other errors fail the page immediately.
func (p *Preloader) fetchPage(ctx context.Context, instID string, before int64) ([]domain.Candle, error) {
	delay := time.Second
	for attempt := 1; ; attempt++ {
		page, err := p.api.GetMarkPriceCandles(ctx, instID, preloadBar, before, preloadPageLimit)
		if err == nil {
			return page, nil
		}

		var rateLimited *domain.RateLimitedError
		if !errors.As(err, &rateLimited) || attempt >= p.attempts {
			return nil, err
		}
		p.logger.Debug("preload rate limited",
			zap.String("instId", instID),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay))
		p.sleep(ctx, delay)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		delay *= 2
	}
}

// seed pushes candle closes into the store oldest first, so the strictly
// increasing timestamp rule keeps the series ordered.
func (p *Preloader) seed(instID string, candles []domain.Candle) {
	sort.Slice(candles, func(i, j int) bool { return candles[i].Time < candles[j].Time })
	for _, c := range candles {
		p.store.Push(domain.PricePoint{
			Instrument: instID,
			Timestamp:  time.UnixMilli(c.Time),
			MarkPrice:  c.Close,
		})
	}
}
