package usecase

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/vitos/okx_mark_pilot/internal/bus"
	"github.com/vitos/okx_mark_pilot/internal/domain"
)

// TradeLogReader supplies recent trade history for account snapshots.
type TradeLogReader interface {
	Recent(n int) ([]domain.TradeLogEntry, error)
}

// Executor is the only component allowed to touch the trading API. Every
// public method validates locally first, performs at most one exchange
// round-trip per order, and publishes exactly one OrderResultEvent whether
// the call succeeded or not. Methods return the result rather than an error
// so callers cannot forget to record a failure.
type Executor struct {
	api      domain.TradingAPI
	bus      *bus.Bus
	logger   *zap.Logger
	tradeLog TradeLogReader

	tdMode      string
	maxLeverage float64
	markets     map[string]domain.MarketInfo

	levMu    sync.Mutex
	leverage map[string]float64 // instID|posSide -> last synced value

	newID func() string
	now   func() time.Time
}

func NewExecutor(api domain.TradingAPI, b *bus.Bus, markets map[string]domain.MarketInfo, tdMode string, maxLeverage float64, tradeLog TradeLogReader, logger *zap.Logger) *Executor {
	if tdMode == "" {
		tdMode = "cross"
	}
	return &Executor{
		api:         api,
		bus:         b,
		logger:      logger,
		tradeLog:    tradeLog,
		tdMode:      tdMode,
		maxLeverage: maxLeverage,
		markets:     markets,
		leverage:    make(map[string]float64),
		newID:       func() string { return ulid.Make().String() },
		now:         time.Now,
	}
}

// Place validates and submits one order. Leverage, when requested, is synced
// with the exchange before the order goes out; a failed sync aborts the
// order entirely.
func (e *Executor) Place(ctx context.Context, order domain.Order) domain.OrderResult {
	requestID := e.newID()

	if err := e.validate(order); err != nil {
		return e.finish(e.resultFor(requestID, domain.OpPlace, order), err)
	}

	if order.Leverage > 0 {
		if err := e.syncLeverage(ctx, order.Instrument, order.PosSide, order.Leverage, true); err != nil {
			return e.finish(e.resultFor(requestID, domain.OpPlace, order),
				fmt.Errorf("leverage sync failed, order aborted: %w", err))
		}
	}

	ordID, err := e.api.PlaceOrder(ctx, order, e.clientOrderID(order.Tag, requestID))
	res := e.resultFor(requestID, domain.OpPlace, order)
	res.OrderID = ordID
	return e.finish(res, err)
}

// AttachProtective submits a reduce-only trigger exit (take-profit or
// stop-loss) for an existing position. The order must already carry the
// closing side; callers are responsible for side correctness.
func (e *Executor) AttachProtective(ctx context.Context, order domain.Order) domain.OrderResult {
	requestID := e.newID()
	order.ReduceOnly = true

	if err := e.validate(order); err != nil {
		return e.finish(e.resultFor(requestID, domain.OpProtective, order), err)
	}
	if order.Price <= 0 {
		return e.finish(e.resultFor(requestID, domain.OpProtective, order),
			&domain.ValidationError{Field: "price", Reason: "protective order requires a trigger price"})
	}

	ordID, err := e.api.PlaceOrder(ctx, order, e.clientOrderID(order.Tag, requestID))
	res := e.resultFor(requestID, domain.OpProtective, order)
	res.OrderID = ordID
	return e.finish(res, err)
}

// Close flattens the position on instID with a single reduce-only market
// order sized to the exchange-reported position.
func (e *Executor) Close(ctx context.Context, instID, tag string) domain.OrderResult {
	requestID := e.newID()
	base := domain.OrderResult{
		RequestID:  requestID,
		Operation:  domain.OpClose,
		Instrument: instID,
		Tag:        tag,
	}

	positions, err := e.api.GetPositions(ctx)
	if err != nil {
		return e.finish(base, fmt.Errorf("positions lookup failed: %w", err))
	}
	var pos *domain.Position
	for i := range positions {
		if positions[i].Instrument == instID && !positions[i].Flat() {
			pos = &positions[i]
			break
		}
	}
	if pos == nil {
		return e.finish(base, &domain.ValidationError{Field: "instrument", Reason: "no open position to close"})
	}

	side, size := pos.CloseSide()
	order := domain.Order{
		Instrument: instID,
		Side:       side,
		Size:       size,
		Type:       domain.OrderTypeMarket,
		ReduceOnly: true,
		PosSide:    pos.PosSide,
		Tag:        tag,
	}
	ordID, err := e.api.PlaceOrder(ctx, order, e.clientOrderID(tag, requestID))
	res := e.resultFor(requestID, domain.OpClose, order)
	res.OrderID = ordID
	return e.finish(res, err)
}

// Cancel removes a resting order.
func (e *Executor) Cancel(ctx context.Context, instID, ordID, tag string) domain.OrderResult {
	requestID := e.newID()
	res := domain.OrderResult{
		RequestID:  requestID,
		Operation:  domain.OpCancel,
		Instrument: instID,
		OrderID:    ordID,
		Tag:        tag,
	}
	if ordID == "" {
		return e.finish(res, &domain.ValidationError{Field: "order_id", Reason: "empty order id"})
	}
	err := e.api.CancelOrder(ctx, instID, ordID)
	return e.finish(res, err)
}

// SetLeverage syncs the exchange leverage setting explicitly, outside any
// order flow.
func (e *Executor) SetLeverage(ctx context.Context, instID, posSide string, leverage float64) domain.OrderResult {
	requestID := e.newID()
	res := domain.OrderResult{
		RequestID:  requestID,
		Operation:  domain.OpSetLeverage,
		Instrument: instID,
		Leverage:   leverage,
	}
	if err := e.validateLeverage(instID, leverage); err != nil {
		return e.finish(res, err)
	}
	// finish reports this call; the inner publish is suppressed so the
	// explicit path emits exactly one result.
	err := e.syncLeverage(ctx, instID, posSide, leverage, false)
	return e.finish(res, err)
}

// Snapshot assembles the account view an AI cycle works from. Any exchange
// read failing makes the whole snapshot unavailable; decisions are never
// made from partial account state.
func (e *Executor) Snapshot(ctx context.Context) (domain.AccountSnapshot, error) {
	positions, err := e.api.GetPositions(ctx)
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("positions: %w", err)
	}
	openOrders, err := e.api.GetOpenOrders(ctx)
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("open orders: %w", err)
	}
	balances, err := e.api.GetBalances(ctx)
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("balances: %w", err)
	}

	var trades []domain.TradeLogEntry
	if e.tradeLog != nil {
		// Trade history is advisory; a read failure does not block the cycle.
		if t, err := e.tradeLog.Recent(20); err == nil {
			trades = t
		}
	}

	return domain.AccountSnapshot{
		Positions:    positions,
		OpenOrders:   openOrders,
		Balances:     balances,
		RecentTrades: trades,
		Taken:        e.now(),
	}, nil
}

// Markets exposes the instrument rules the executor validates against.
func (e *Executor) Markets() map[string]domain.MarketInfo {
	return e.markets
}

// --- validation ---

// validate checks an order against local instrument rules only. It never
// performs network calls.
func (e *Executor) validate(order domain.Order) error {
	info, ok := e.markets[order.Instrument]
	if !ok {
		return &domain.ValidationError{Field: "instrument", Reason: "unknown instrument " + order.Instrument}
	}
	if order.Side != domain.SideBuy && order.Side != domain.SideSell {
		return &domain.ValidationError{Field: "side", Reason: "side must be buy or sell"}
	}
	if order.Size <= 0 {
		return &domain.ValidationError{Field: "size", Reason: "size must be positive"}
	}
	if info.MinSize > 0 && order.Size < info.MinSize {
		return &domain.ValidationError{
			Field:  "size",
			Reason: fmt.Sprintf("size %v below instrument minimum %v", order.Size, info.MinSize),
		}
	}
	if info.LotSize > 0 && !alignedToLot(order.Size, info.LotSize) {
		return &domain.ValidationError{
			Field:  "size",
			Reason: fmt.Sprintf("size %v not a multiple of lot size %v", order.Size, info.LotSize),
		}
	}
	if order.Type == domain.OrderTypeLimit && order.Price <= 0 {
		return &domain.ValidationError{Field: "price", Reason: "limit order requires a positive price"}
	}
	if order.Leverage > 0 {
		if err := e.validateLeverage(order.Instrument, order.Leverage); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) validateLeverage(instID string, leverage float64) error {
	if leverage < 1 {
		return &domain.ValidationError{Field: "leverage", Reason: "leverage must be at least 1"}
	}
	limit := e.maxLeverage
	if info, ok := e.markets[instID]; ok && info.MaxLeverage > 0 && info.MaxLeverage < limit {
		limit = info.MaxLeverage
	}
	if limit > 0 && leverage > limit {
		return &domain.ValidationError{
			Field:  "leverage",
			Reason: fmt.Sprintf("leverage %v exceeds limit %v", leverage, limit),
		}
	}
	return nil
}

// alignedToLot reports whether size is an integer multiple of lot within
// float tolerance.
func alignedToLot(size, lot float64) bool {
	steps := size / lot
	return math.Abs(steps-math.Round(steps)) < 1e-6
}

// --- leverage cache ---

// syncLeverage issues a set-leverage call unless the cache already holds
// the requested value for (instID, posSide). When publish is set, a
// successful sync reports its own OrderResult before the caller's dependent
// order goes out; callers whose own result covers the sync pass false.
func (e *Executor) syncLeverage(ctx context.Context, instID, posSide string, leverage float64, publish bool) error {
	key := instID + "|" + posSide

	e.levMu.Lock()
	current, known := e.leverage[key]
	e.levMu.Unlock()
	if known && math.Abs(current-leverage) < 1e-9 {
		return nil
	}

	if err := e.api.SetLeverage(ctx, instID, posSide, e.tdMode, leverage); err != nil {
		return err
	}
	if publish {
		res := domain.OrderResult{
			RequestID:  e.newID(),
			Operation:  domain.OpSetLeverage,
			Instrument: instID,
			Leverage:   leverage,
			Accepted:   true,
			Timestamp:  e.now(),
		}
		e.bus.Publish(domain.OrderResultEvent{Result: res})
	}

	e.levMu.Lock()
	e.leverage[key] = leverage
	e.levMu.Unlock()
	return nil
}

// --- helpers ---

func (e *Executor) resultFor(requestID, operation string, order domain.Order) domain.OrderResult {
	return domain.OrderResult{
		RequestID:  requestID,
		Operation:  operation,
		Instrument: order.Instrument,
		Side:       order.Side,
		Size:       order.Size,
		Price:      order.Price,
		Leverage:   order.Leverage,
		Tag:        order.Tag,
	}
}

// finish stamps the result, publishes it, and returns it. The single exit
// point for every execution path.
func (e *Executor) finish(res domain.OrderResult, err error) domain.OrderResult {
	res.Timestamp = e.now()
	if err != nil {
		res.Error = err.Error()
		e.logger.Warn("order operation failed",
			zap.String("op", res.Operation),
			zap.String("instId", res.Instrument),
			zap.Error(err))
	} else {
		res.Accepted = true
	}
	e.bus.Publish(domain.OrderResultEvent{Result: res})
	return res
}

// clientOrderID builds an exchange-safe client order id carrying the tag as
// an attribution prefix. OKX allows up to 32 alphanumeric characters.
func (e *Executor) clientOrderID(tag, requestID string) string {
	if tag == "" {
		tag = domain.TagManual
	}
	id := tag + requestID
	id = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return -1
		}
	}, id)
	if len(id) > 32 {
		id = id[:32]
	}
	return id
}
