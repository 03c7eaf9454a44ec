package domain

import "context"

// MarketDataAPI is the read-only exchange surface: instruments, history and
// the derived metrics the AI prompt needs.
type MarketDataAPI interface {
	GetInstruments(ctx context.Context, instType string, instIDs []string) ([]MarketInfo, error)
	GetMarkPriceCandles(ctx context.Context, instID, bar string, before int64, limit int) ([]Candle, error)
	GetCandles(ctx context.Context, instID, bar string, limit int) ([]Candle, error)
	GetFundingRate(ctx context.Context, instID string) (float64, error)
	GetOpenInterest(ctx context.Context, instID string) (OpenInterestStats, error)
}

// TradingAPI is the authenticated exchange surface. Only the order execution
// engine holds a reference to it.
type TradingAPI interface {
	PlaceOrder(ctx context.Context, order Order, clOrdID string) (string, error)
	CancelOrder(ctx context.Context, instID, ordID string) error
	SetLeverage(ctx context.Context, instID, posSide, marginMode string, leverage float64) error
	GetPositions(ctx context.Context) ([]Position, error)
	GetOpenOrders(ctx context.Context) ([]OpenOrder, error)
	GetBalances(ctx context.Context) ([]Balance, error)
}

// AIClient issues one chat-style completion per decision cycle.
type AIClient interface {
	ChatCompletion(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
