package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/okx_mark_pilot/internal/bus"
	"github.com/vitos/okx_mark_pilot/internal/domain"
	"github.com/vitos/okx_mark_pilot/internal/infrastructure/logstore"
)

// Persistence subscribes to the bus and appends order results, AI records
// and errors to their append-only stores, in arrival order. It is the only
// writer of the three log files.
type Persistence struct {
	bus    *bus.Bus
	sub    *bus.Subscription
	trades *logstore.TradeLog
	ai     *logstore.DecisionLog
	errs   *logstore.ErrorLog
	logger *zap.Logger
	now    func() time.Time
}

// NewPersistence subscribes immediately, so commands published between
// construction and Run are queued rather than lost.
func NewPersistence(b *bus.Bus, trades *logstore.TradeLog, ai *logstore.DecisionLog, errs *logstore.ErrorLog, logger *zap.Logger) *Persistence {
	return &Persistence{
		bus:    b,
		sub:    b.Subscribe("persistence"),
		trades: trades,
		ai:     ai,
		errs:   errs,
		logger: logger,
		now:    time.Now,
	}
}

// Run consumes the subscription until ctx is cancelled. A failed append is
// logged and dropped; persistence never feeds errors back onto the bus, to
// avoid a write-failure loop.
func (p *Persistence) Run(ctx context.Context) {
	defer p.bus.Unsubscribe("persistence")

	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-p.sub.C():
			if !ok {
				return
			}
			p.handle(cmd)
		}
	}
}

func (p *Persistence) handle(cmd domain.Command) {
	switch c := cmd.(type) {
	case domain.OrderResultEvent:
		if err := p.trades.Append(domain.TradeLogEntryFromResult(c.Result)); err != nil {
			p.logger.Error("trade log append failed", zap.Error(err))
		}
	case domain.ErrorEvent:
		entry := domain.ErrorLogEntry{
			TimestampMs: p.now().UnixMilli(),
			Message:     c.Message,
			Context:     c.Context,
		}
		if err := p.errs.Append(entry); err != nil {
			p.logger.Error("error log append failed", zap.Error(err))
		}
	case domain.AIDecisionEvent:
		if err := p.ai.Append(c.Record); err != nil {
			p.logger.Error("ai log append failed", zap.Error(err))
		}
	}
}
