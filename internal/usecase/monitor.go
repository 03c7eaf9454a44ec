package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/okx_mark_pilot/internal/bus"
	"github.com/vitos/okx_mark_pilot/internal/domain"
	"github.com/vitos/okx_mark_pilot/internal/history"
)

// Monitor consumes price updates from the bus, feeds the history store and
// raises Notify commands when a price leaves its threshold band. Alerts are
// debounced per instrument so a price oscillating around a bound does not
// flood the notifier.
type Monitor struct {
	bus        *bus.Bus
	store      *history.Store
	thresholds map[string]domain.Threshold
	debounce   map[string]time.Duration
	defaultDeb time.Duration
	logger     *zap.Logger

	lastNotified map[string]time.Time
	now          func() time.Time
}

func NewMonitor(b *bus.Bus, store *history.Store, thresholds map[string]domain.Threshold, debounce map[string]time.Duration, defaultDebounce time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		bus:          b,
		store:        store,
		thresholds:   thresholds,
		debounce:     debounce,
		defaultDeb:   defaultDebounce,
		lastNotified: make(map[string]time.Time),
		logger:       logger,
		now:          time.Now,
	}
}

// Run consumes the bus subscription until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	sub := m.bus.Subscribe("monitor")
	defer m.bus.Unsubscribe("monitor")

	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-sub.C():
			if !ok {
				return
			}
			if pu, isPrice := cmd.(domain.PriceUpdate); isPrice {
				m.handlePrice(pu.Point)
			}
		}
	}
}

func (m *Monitor) handlePrice(p domain.PricePoint) {
	m.store.Push(p)

	th, ok := m.thresholds[p.Instrument]
	if !ok {
		return
	}

	var reason, bound string
	switch {
	case p.MarkPrice < th.Lower:
		bound = "low"
		reason = fmt.Sprintf("price %s below lower bound %s",
			m.format(p.Instrument, p.MarkPrice), m.format(p.Instrument, th.Lower))
	case p.MarkPrice > th.Upper:
		bound = "high"
		reason = fmt.Sprintf("price %s above upper bound %s",
			m.format(p.Instrument, p.MarkPrice), m.format(p.Instrument, th.Upper))
	default:
		return
	}

	window := m.defaultDeb
	if d, ok := m.debounce[p.Instrument]; ok && d > 0 {
		window = d
	}
	// Debounce separately per bound so a low breach does not swallow a
	// subsequent high breach.
	key := p.Instrument + "/" + bound
	if last, ok := m.lastNotified[key]; ok && m.now().Sub(last) < window {
		return
	}
	m.lastNotified[key] = m.now()

	m.logger.Info("threshold alert",
		zap.String("instId", p.Instrument),
		zap.Float64("price", p.MarkPrice),
		zap.String("reason", reason))
	m.bus.Publish(domain.Notify{
		Instrument: p.Instrument,
		Reason:     reason,
		Price:      p.MarkPrice,
	})
}

func (m *Monitor) format(instID string, v float64) string {
	return fmt.Sprintf("%.*f", m.store.Precision(instID), v)
}
