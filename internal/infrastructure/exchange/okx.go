package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/vitos/okx_mark_pilot/internal/domain"
)

const (
	OkxBaseURL = "https://www.okx.com"
	OkxWSURL   = "wss://ws.okx.com:8443/ws/v5/public"

	okxCodeOK          = "0"
	okxCodeRateLimited = "50011"
)

// OkxAdapter talks to the OKX v5 REST API. Public market-data calls and
// authenticated trading calls share the adapter but run behind separate
// rate limiters so candle preloading cannot starve order placement.
type OkxAdapter struct {
	apiKey     string
	apiSecret  string
	passphrase string
	baseURL    string
	tdMode     string
	client     *http.Client

	marketLimit *rate.Limiter
	tradeLimit  *rate.Limiter
}

func NewOkxAdapter(apiKey, apiSecret, passphrase, baseURL string) *OkxAdapter {
	if baseURL == "" {
		baseURL = OkxBaseURL
	}
	return &OkxAdapter{
		apiKey:      apiKey,
		apiSecret:   apiSecret,
		passphrase:  passphrase,
		baseURL:     baseURL,
		client:      &http.Client{Timeout: 15 * time.Second},
		marketLimit: rate.NewLimiter(rate.Limit(10), 10),
		tradeLimit:  rate.NewLimiter(rate.Limit(5), 5),
	}
}

// --- signing / transport ---

func (o *OkxAdapter) sign(timestamp, method, path string, body []byte) string {
	h := hmac.New(sha256.New, []byte(o.apiSecret))
	h.Write([]byte(timestamp + method + path))
	h.Write(body)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func (o *OkxAdapter) sendRequest(ctx context.Context, method, path string, payload any, private bool) ([]byte, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, o.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if private {
		timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
		req.Header.Set("OK-ACCESS-KEY", o.apiKey)
		req.Header.Set("OK-ACCESS-SIGN", o.sign(timestamp, method, path, body))
		req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
		req.Header.Set("OK-ACCESS-PASSPHRASE", o.passphrase)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransportError{Op: method + " " + path, Err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &domain.RateLimitedError{Op: path}
	}
	if resp.StatusCode >= 400 {
		return nil, &domain.TransportError{
			Op:  method + " " + path,
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)),
		}
	}
	return respBody, nil
}

// checkCode validates the OKX envelope code and maps rejections onto the
// error taxonomy.
func checkCode(path, code, msg string) error {
	switch code {
	case okxCodeOK:
		return nil
	case okxCodeRateLimited:
		return &domain.RateLimitedError{Op: path}
	default:
		return &domain.ExchangeRejectedError{Code: code, Message: msg}
	}
}

// --- public market data ---

func (o *OkxAdapter) GetInstruments(ctx context.Context, instType string, instIDs []string) ([]domain.MarketInfo, error) {
	if err := o.marketLimit.Wait(ctx); err != nil {
		return nil, err
	}
	path := "/api/v5/public/instruments?instType=" + instType
	resp, err := o.sendRequest(ctx, "GET", path, nil, false)
	if err != nil {
		return nil, err
	}

	var result struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data []struct {
			InstID   string `json:"instId"`
			InstType string `json:"instType"`
			LotSz    string `json:"lotSz"`
			MinSz    string `json:"minSz"`
			TickSz   string `json:"tickSz"`
			CtVal    string `json:"ctVal"`
			Lever    string `json:"lever"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}
	if err := checkCode(path, result.Code, result.Msg); err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(instIDs))
	for _, id := range instIDs {
		wanted[strings.ToUpper(id)] = true
	}

	var infos []domain.MarketInfo
	for _, raw := range result.Data {
		if len(wanted) > 0 && !wanted[strings.ToUpper(raw.InstID)] {
			continue
		}
		lotSz, _ := strconv.ParseFloat(raw.LotSz, 64)
		minSz, _ := strconv.ParseFloat(raw.MinSz, 64)
		tickSz, _ := strconv.ParseFloat(raw.TickSz, 64)
		ctVal, _ := strconv.ParseFloat(raw.CtVal, 64)
		lever, _ := strconv.ParseFloat(raw.Lever, 64)
		infos = append(infos, domain.MarketInfo{
			InstID:      raw.InstID,
			InstType:    raw.InstType,
			LotSize:     lotSz,
			MinSize:     minSz,
			TickSize:    tickSz,
			CtVal:       ctVal,
			MaxLeverage: lever,
		})
	}
	return infos, nil
}

func (o *OkxAdapter) GetMarkPriceCandles(ctx context.Context, instID, bar string, before int64, limit int) ([]domain.Candle, error) {
	if err := o.marketLimit.Wait(ctx); err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/api/v5/market/history-mark-price-candles?instId=%s&bar=%s&limit=%d", instID, bar, limit)
	if before > 0 {
		// OKX "after" returns records with ts strictly earlier than the value.
		path += fmt.Sprintf("&after=%d", before)
	}
	return o.fetchCandles(ctx, path)
}

func (o *OkxAdapter) GetCandles(ctx context.Context, instID, bar string, limit int) ([]domain.Candle, error) {
	if err := o.marketLimit.Wait(ctx); err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/api/v5/market/candles?instId=%s&bar=%s&limit=%d", instID, bar, limit)
	return o.fetchCandles(ctx, path)
}

func (o *OkxAdapter) fetchCandles(ctx context.Context, path string) ([]domain.Candle, error) {
	resp, err := o.sendRequest(ctx, "GET", path, nil, false)
	if err != nil {
		return nil, err
	}

	var result struct {
		Code string     `json:"code"`
		Msg  string     `json:"msg"`
		Data [][]string `json:"data"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}
	if err := checkCode(path, result.Code, result.Msg); err != nil {
		return nil, err
	}

	var candles []domain.Candle
	for _, raw := range result.Data {
		// [ts, open, high, low, close, (volume...)]
		if len(raw) < 5 {
			continue
		}
		ts, _ := strconv.ParseInt(raw[0], 10, 64)
		open, _ := strconv.ParseFloat(raw[1], 64)
		high, _ := strconv.ParseFloat(raw[2], 64)
		low, _ := strconv.ParseFloat(raw[3], 64)
		closePx, _ := strconv.ParseFloat(raw[4], 64)
		var volume float64
		if len(raw) > 5 {
			volume, _ = strconv.ParseFloat(raw[5], 64)
		}
		candles = append(candles, domain.Candle{
			Time:   ts,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePx,
			Volume: volume,
		})
	}

	// OKX returns newest first; flip to chronological order.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

func (o *OkxAdapter) GetFundingRate(ctx context.Context, instID string) (float64, error) {
	if err := o.marketLimit.Wait(ctx); err != nil {
		return 0, err
	}
	path := "/api/v5/public/funding-rate?instId=" + instID
	resp, err := o.sendRequest(ctx, "GET", path, nil, false)
	if err != nil {
		return 0, err
	}

	var result struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data []struct {
			FundingRate string `json:"fundingRate"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return 0, err
	}
	if err := checkCode(path, result.Code, result.Msg); err != nil {
		return 0, err
	}
	if len(result.Data) == 0 {
		return 0, fmt.Errorf("no funding rate for %s", instID)
	}
	return strconv.ParseFloat(result.Data[0].FundingRate, 64)
}

func (o *OkxAdapter) GetOpenInterest(ctx context.Context, instID string) (domain.OpenInterestStats, error) {
	latest, err := o.fetchOpenInterestLatest(ctx, instID)
	if err != nil {
		return domain.OpenInterestStats{}, err
	}
	history, err := o.fetchOpenInterestHistory(ctx, instID)
	if err != nil || len(history) == 0 {
		return domain.OpenInterestStats{Latest: latest, Average: latest}, nil
	}
	var sum float64
	for _, v := range history {
		sum += v
	}
	return domain.OpenInterestStats{Latest: latest, Average: sum / float64(len(history))}, nil
}

func (o *OkxAdapter) fetchOpenInterestLatest(ctx context.Context, instID string) (float64, error) {
	if err := o.marketLimit.Wait(ctx); err != nil {
		return 0, err
	}
	path := "/api/v5/public/open-interest?instType=SWAP&instId=" + instID
	resp, err := o.sendRequest(ctx, "GET", path, nil, false)
	if err != nil {
		return 0, err
	}

	var result struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data []struct {
			Oi string `json:"oi"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return 0, err
	}
	if err := checkCode(path, result.Code, result.Msg); err != nil {
		return 0, err
	}
	if len(result.Data) == 0 {
		return 0, fmt.Errorf("no open interest for %s", instID)
	}
	return strconv.ParseFloat(result.Data[0].Oi, 64)
}

func (o *OkxAdapter) fetchOpenInterestHistory(ctx context.Context, instID string) ([]float64, error) {
	if err := o.marketLimit.Wait(ctx); err != nil {
		return nil, err
	}
	path := "/api/v5/public/open-interest-history?instType=SWAP&period=8H&instId=" + instID
	resp, err := o.sendRequest(ctx, "GET", path, nil, false)
	if err != nil {
		return nil, err
	}

	var result struct {
		Code string     `json:"code"`
		Msg  string     `json:"msg"`
		Data [][]string `json:"data"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}
	if err := checkCode(path, result.Code, result.Msg); err != nil {
		return nil, err
	}

	var values []float64
	for _, row := range result.Data {
		if len(row) < 2 {
			continue
		}
		if v, err := strconv.ParseFloat(row[1], 64); err == nil {
			values = append(values, v)
		}
	}
	return values, nil
}

// --- authenticated trading ---

func (o *OkxAdapter) PlaceOrder(ctx context.Context, order domain.Order, clOrdID string) (string, error) {
	if err := o.tradeLimit.Wait(ctx); err != nil {
		return "", err
	}
	payload := map[string]any{
		"instId":  order.Instrument,
		"tdMode":  o.activeTdMode(),
		"side":    string(order.Side),
		"ordType": string(order.Type),
		"sz":      trimFloat(order.Size),
		"clOrdId": clOrdID,
	}
	if order.Type == domain.OrderTypeLimit {
		payload["px"] = trimFloat(order.Price)
	}
	if order.PosSide != "" {
		payload["posSide"] = order.PosSide
	}
	if order.ReduceOnly {
		payload["reduceOnly"] = true
	}
	if order.Tag != "" {
		payload["tag"] = order.Tag
	}

	path := "/api/v5/trade/order"
	resp, err := o.sendRequest(ctx, "POST", path, payload, true)
	if err != nil {
		return "", err
	}

	var result struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data []struct {
			OrdID string `json:"ordId"`
			SCode string `json:"sCode"`
			SMsg  string `json:"sMsg"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return "", err
	}
	if err := checkCode(path, result.Code, result.Msg); err != nil {
		if len(result.Data) > 0 && result.Data[0].SCode != "" && result.Data[0].SCode != okxCodeOK {
			return "", &domain.ExchangeRejectedError{Code: result.Data[0].SCode, Message: result.Data[0].SMsg}
		}
		return "", err
	}
	if len(result.Data) == 0 {
		return "", &domain.ExchangeRejectedError{Code: result.Code, Message: "empty order response"}
	}
	if result.Data[0].SCode != "" && result.Data[0].SCode != okxCodeOK {
		return "", &domain.ExchangeRejectedError{Code: result.Data[0].SCode, Message: result.Data[0].SMsg}
	}
	return result.Data[0].OrdID, nil
}

func (o *OkxAdapter) CancelOrder(ctx context.Context, instID, ordID string) error {
	if err := o.tradeLimit.Wait(ctx); err != nil {
		return err
	}
	payload := map[string]any{"instId": instID, "ordId": ordID}
	path := "/api/v5/trade/cancel-order"
	resp, err := o.sendRequest(ctx, "POST", path, payload, true)
	if err != nil {
		return err
	}

	var result struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}
	return checkCode(path, result.Code, result.Msg)
}

func (o *OkxAdapter) SetLeverage(ctx context.Context, instID, posSide, marginMode string, leverage float64) error {
	if err := o.tradeLimit.Wait(ctx); err != nil {
		return err
	}
	payload := map[string]any{
		"instId":  instID,
		"lever":   trimFloat(leverage),
		"mgnMode": marginMode,
	}
	if posSide != "" && marginMode == "isolated" {
		payload["posSide"] = posSide
	}
	path := "/api/v5/account/set-leverage"
	resp, err := o.sendRequest(ctx, "POST", path, payload, true)
	if err != nil {
		return err
	}

	var result struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}
	return checkCode(path, result.Code, result.Msg)
}

func (o *OkxAdapter) GetPositions(ctx context.Context) ([]domain.Position, error) {
	if err := o.tradeLimit.Wait(ctx); err != nil {
		return nil, err
	}
	path := "/api/v5/account/positions"
	resp, err := o.sendRequest(ctx, "GET", path, nil, true)
	if err != nil {
		return nil, err
	}

	var result struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data []struct {
			InstID  string `json:"instId"`
			PosSide string `json:"posSide"`
			Pos     string `json:"pos"`
			AvgPx   string `json:"avgPx"`
			MarkPx  string `json:"markPx"`
			Upl     string `json:"upl"`
			Lever   string `json:"lever"`
			MgnMode string `json:"mgnMode"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}
	if err := checkCode(path, result.Code, result.Msg); err != nil {
		return nil, err
	}

	var positions []domain.Position
	for _, raw := range result.Data {
		size, _ := strconv.ParseFloat(raw.Pos, 64)
		if size == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(raw.AvgPx, 64)
		mark, _ := strconv.ParseFloat(raw.MarkPx, 64)
		upl, _ := strconv.ParseFloat(raw.Upl, 64)
		lever, _ := strconv.ParseFloat(raw.Lever, 64)
		positions = append(positions, domain.Position{
			Instrument:    raw.InstID,
			PosSide:       raw.PosSide,
			Size:          size,
			EntryPrice:    entry,
			MarkPrice:     mark,
			UnrealizedPnL: upl,
			Leverage:      lever,
			MarginMode:    raw.MgnMode,
		})
	}
	return positions, nil
}

func (o *OkxAdapter) GetOpenOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	if err := o.tradeLimit.Wait(ctx); err != nil {
		return nil, err
	}
	path := "/api/v5/trade/orders-pending"
	resp, err := o.sendRequest(ctx, "GET", path, nil, true)
	if err != nil {
		return nil, err
	}

	var result struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data []struct {
			OrdID   string `json:"ordId"`
			InstID  string `json:"instId"`
			Side    string `json:"side"`
			PosSide string `json:"posSide"`
			Sz      string `json:"sz"`
			Px      string `json:"px"`
			Lever   string `json:"lever"`
			Tag     string `json:"tag"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}
	if err := checkCode(path, result.Code, result.Msg); err != nil {
		return nil, err
	}

	var orders []domain.OpenOrder
	for _, raw := range result.Data {
		size, _ := strconv.ParseFloat(raw.Sz, 64)
		px, _ := strconv.ParseFloat(raw.Px, 64)
		lever, _ := strconv.ParseFloat(raw.Lever, 64)
		orders = append(orders, domain.OpenOrder{
			OrderID:    raw.OrdID,
			Instrument: raw.InstID,
			Side:       domain.Side(raw.Side),
			PosSide:    raw.PosSide,
			Size:       size,
			Price:      px,
			Leverage:   lever,
			Tag:        raw.Tag,
		})
	}
	return orders, nil
}

func (o *OkxAdapter) GetBalances(ctx context.Context) ([]domain.Balance, error) {
	if err := o.tradeLimit.Wait(ctx); err != nil {
		return nil, err
	}
	path := "/api/v5/account/balance"
	resp, err := o.sendRequest(ctx, "GET", path, nil, true)
	if err != nil {
		return nil, err
	}

	var result struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data []struct {
			Details []struct {
				Ccy     string `json:"ccy"`
				Eq      string `json:"eq"`
				AvailEq string `json:"availEq"`
			} `json:"details"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}
	if err := checkCode(path, result.Code, result.Msg); err != nil {
		return nil, err
	}

	var balances []domain.Balance
	for _, acct := range result.Data {
		for _, d := range acct.Details {
			eq, _ := strconv.ParseFloat(d.Eq, 64)
			avail, _ := strconv.ParseFloat(d.AvailEq, 64)
			balances = append(balances, domain.Balance{Currency: d.Ccy, Equity: eq, Available: avail})
		}
	}
	return balances, nil
}

// SetTdMode fixes the trade mode used for all orders (cross/isolated/cash).
func (o *OkxAdapter) SetTdMode(mode string) {
	if mode != "" {
		o.tdMode = mode
	}
}

func (o *OkxAdapter) activeTdMode() string {
	if o.tdMode == "" {
		return "cross"
	}
	return o.tdMode
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
