package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/okx_mark_pilot/internal/bus"
	"github.com/vitos/okx_mark_pilot/internal/domain"
)

// CycleStage names the phase a decision cycle is in, for the status surface.
type CycleStage string

const (
	StageIdle       CycleStage = "idle"
	StageSnapshot   CycleStage = "snapshotting"
	StagePrompting  CycleStage = "prompting"
	StageAwaiting   CycleStage = "awaiting_response"
	StageValidating CycleStage = "validating"
	StageExecuting  CycleStage = "executing"
)

// AILoop runs one decision cycle per interval: snapshot the account, derive
// indicators, ask the model once, validate the reply, and hand validated
// actions to the executor. Every cycle publishes exactly one
// AIDecisionEvent, whatever happens inside it.
type AILoop struct {
	client      domain.AIClient
	analytics   *Analytics
	executor    *Executor
	bus         *bus.Bus
	logger      *zap.Logger
	instruments []string
	interval    time.Duration

	// hasCredentials gates the snapshot; tradingEnabled gates execution.
	// Analysis without trading is a supported configuration.
	hasCredentials bool
	tradingEnabled bool

	mu        sync.Mutex
	stage     CycleStage
	lastCycle time.Time

	now func() time.Time
}

func NewAILoop(client domain.AIClient, analytics *Analytics, executor *Executor, b *bus.Bus, instruments []string, interval time.Duration, hasCredentials, tradingEnabled bool, logger *zap.Logger) *AILoop {
	if interval <= 0 {
		interval = 3 * time.Minute
	}
	return &AILoop{
		client:         client,
		analytics:      analytics,
		executor:       executor,
		bus:            b,
		logger:         logger,
		instruments:    instruments,
		interval:       interval,
		hasCredentials: hasCredentials,
		tradingEnabled: tradingEnabled,
		stage:          StageIdle,
		now:            time.Now,
	}
}

// Status returns the current stage and the start time of the last cycle.
func (l *AILoop) Status() (CycleStage, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stage, l.lastCycle
}

func (l *AILoop) setStage(s CycleStage) {
	l.mu.Lock()
	l.stage = s
	l.mu.Unlock()
}

// Run blocks until ctx is cancelled, starting a cycle every interval.
func (l *AILoop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.RunCycle(ctx)
		}
	}
}

// RunCycle executes one full decision cycle.
func (l *AILoop) RunCycle(ctx context.Context) {
	l.mu.Lock()
	l.lastCycle = l.now()
	l.mu.Unlock()

	record := domain.AIDecisionRecord{TimestampMs: l.now().UnixMilli()}
	defer func() {
		l.setStage(StageIdle)
		l.bus.Publish(domain.AIDecisionEvent{Record: record})
	}()

	l.setStage(StageSnapshot)
	if !l.hasCredentials || l.executor == nil {
		record.ParseError = "trading credentials not configured; account snapshot unavailable"
		return
	}
	snapshot, err := l.executor.Snapshot(ctx)
	if err != nil {
		record.ParseError = "account snapshot failed: " + err.Error()
		l.reportError(record.ParseError)
		return
	}
	analytics := l.analytics.FetchAll(ctx, l.instruments)

	l.setStage(StagePrompting)
	prompt := BuildUserPrompt(snapshot, analytics)
	record.PromptContext = prompt

	l.setStage(StageAwaiting)
	raw, err := l.client.ChatCompletion(ctx, SystemPrompt, prompt)
	if err != nil {
		record.ParseError = "ai request failed: " + err.Error()
		l.reportError(record.ParseError)
		return
	}
	record.RawResponse = raw

	l.setStage(StageValidating)
	decisions, err := ParseDecisions(raw)
	if err != nil {
		record.ParseError = err.Error()
		l.reportError("ai response rejected: " + err.Error())
		return
	}
	actions := l.validate(decisions)
	if summary, err := json.Marshal(actions); err == nil {
		record.ParsedActions = string(summary)
	}

	if !l.tradingEnabled {
		l.logger.Info("trading disabled, analysis recorded without execution",
			zap.Int("actions", len(actions)))
		return
	}

	l.setStage(StageExecuting)
	for _, action := range actions {
		l.execute(ctx, action)
	}
}

// Action is one validated instruction ready for the executor.
type Action struct {
	Signal       Signal   `json:"signal"`
	Instrument   string   `json:"instrument"`
	Quantity     float64  `json:"quantity,omitempty"`
	Leverage     float64  `json:"leverage,omitempty"`
	EntryPrice   float64  `json:"entry_price,omitempty"`
	ProfitTarget float64  `json:"profit_target,omitempty"`
	StopLoss     float64  `json:"stop_loss,omitempty"`
	CancelOrders []string `json:"cancel_orders,omitempty"`
}

// validate turns parsed decisions into executable actions, dropping the
// rest with an error report. Hold and wait pass through as recorded
// no-ops.
func (l *AILoop) validate(decisions []Decision) []Action {
	var actions []Action
	for i, d := range decisions {
		if !d.Signal.valid() {
			l.reportError(fmt.Sprintf("decision %d: unknown signal %q", i+1, d.Signal))
			continue
		}
		if !d.Signal.actionable() {
			continue
		}
		instID, ok := ResolveInstrument(d.Coin, l.instruments)
		if !ok {
			l.reportError(fmt.Sprintf("decision %d: instrument %q not in tradable set", i+1, d.Coin))
			continue
		}
		action := Action{
			Signal:       d.Signal,
			Instrument:   instID,
			Quantity:     float64(d.Quantity),
			Leverage:     float64(d.Leverage),
			EntryPrice:   float64(d.EntryPrice),
			ProfitTarget: float64(d.ProfitTarget),
			StopLoss:     float64(d.StopLoss),
			CancelOrders: d.CancelOrders,
		}
		switch d.Signal {
		case SignalBuyToEnter, SignalSellToEnter:
			if action.Quantity <= 0 {
				l.reportError(fmt.Sprintf("decision %d: entry without a positive quantity", i+1))
				continue
			}
		case SignalCancelOrder:
			if len(action.CancelOrders) == 0 {
				l.reportError(fmt.Sprintf("decision %d: cancel_order without order ids", i+1))
				continue
			}
		case SignalAdjustLeverage:
			if action.Leverage < 1 {
				l.reportError(fmt.Sprintf("decision %d: adjust_leverage without a usable leverage", i+1))
				continue
			}
		}
		actions = append(actions, action)
	}
	return actions
}

func (l *AILoop) execute(ctx context.Context, action Action) {
	switch action.Signal {
	case SignalBuyToEnter, SignalSellToEnter:
		l.executeEntry(ctx, action)
	case SignalClose:
		l.executor.Close(ctx, action.Instrument, domain.TagAIClose)
	case SignalCancelOrder:
		for _, ordID := range action.CancelOrders {
			l.executor.Cancel(ctx, action.Instrument, ordID, domain.TagAICancel)
		}
	case SignalAdjustLeverage:
		l.executor.SetLeverage(ctx, action.Instrument, "", action.Leverage)
	}
}

func (l *AILoop) executeEntry(ctx context.Context, action Action) {
	side := domain.SideBuy
	if action.Signal == SignalSellToEnter {
		side = domain.SideSell
	}
	posSide := EntryPosSide(action.Instrument, side)

	res := l.executor.Place(ctx, domain.Order{
		Instrument: action.Instrument,
		Side:       side,
		Size:       action.Quantity,
		Type:       domain.OrderTypeMarket,
		Leverage:   action.Leverage,
		PosSide:    posSide,
		Tag:        domain.TagAIEntry,
	})
	if !res.Accepted {
		return
	}

	// Protective orders ride on the accepted entry. A target on the wrong
	// side of the entry is dropped with an error; the entry itself stands.
	closeSide := side.Opposite()
	if action.ProfitTarget > 0 {
		if ValidTakeProfit(side, action.EntryPrice, action.ProfitTarget) {
			l.executor.AttachProtective(ctx, domain.Order{
				Instrument: action.Instrument,
				Side:       closeSide,
				Size:       action.Quantity,
				Type:       domain.OrderTypeLimit,
				Price:      action.ProfitTarget,
				PosSide:    posSide,
				Tag:        domain.TagAITakeProfit,
			})
		} else {
			l.reportError(fmt.Sprintf("%s: take-profit %v on wrong side of entry %v, dropped",
				action.Instrument, action.ProfitTarget, action.EntryPrice))
		}
	}
	if action.StopLoss > 0 {
		if ValidStopLoss(side, action.EntryPrice, action.StopLoss) {
			l.executor.AttachProtective(ctx, domain.Order{
				Instrument: action.Instrument,
				Side:       closeSide,
				Size:       action.Quantity,
				Type:       domain.OrderTypeLimit,
				Price:      action.StopLoss,
				PosSide:    posSide,
				Tag:        domain.TagAIStopLoss,
			})
		} else {
			l.reportError(fmt.Sprintf("%s: stop-loss %v on wrong side of entry %v, dropped",
				action.Instrument, action.StopLoss, action.EntryPrice))
		}
	}
}

func (l *AILoop) reportError(msg string) {
	l.logger.Warn("ai cycle issue", zap.String("detail", msg))
	l.bus.Publish(domain.ErrorEvent{Message: msg, Context: "ai"})
}
