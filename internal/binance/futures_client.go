package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"binance-futures-bot-go/internal/config"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	baseURL        = "https://fapi.binance.com"
	testnetBaseURL = "https://testnet.binancefuture.com"
	recvWindow     = "5000" // How long a request is valid in milliseconds

	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
	OrderSideBuy    = "BUY"
	OrderSideSell   = "SELL"

	OrderStatusNew             = "NEW"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCanceled        = "CANCELED"
	OrderStatusRejected        = "REJECTED"
	OrderStatusExpired         = "EXPIRED"
)

// IsTerminalStatus reports whether an order status can no longer change.
func IsTerminalStatus(status string) bool {
	switch status {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// FuturesClientInterface defines the interface for the Binance futures REST API client.
type FuturesClientInterface interface {
	GetServerTime() (int64, error)
	GetPrice(symbol string) (float64, error)
	GetSymbolFilters(symbol string) (*SymbolFilters, error)
	GetPositions() ([]PositionRisk, error)
	GetPositionRisk(symbol string) (*PositionRisk, error)
	PlaceLimitOrder(symbol, side string, quantity, price float64) (*OrderResponse, error)
	PlaceMarketOrder(symbol, side string, quantity float64) (*OrderResponse, error)
	GetOrderStatus(symbol string, orderID int64) (*OrderResponse, error)
	CancelAllOpenOrders(symbol string) error
	SetLeverage(symbol string, leverage int) error
	SetMarginType(symbol, marginType string) error
}

// FuturesClient is a client for the Binance USDⓈ-M futures REST API.
// It implements the FuturesClientInterface.
type FuturesClient struct {
	client    *resty.Client
	apiKey    string
	secretKey string
	logger    *zap.Logger
	limiter   *rate.Limiter
}

// ensure FuturesClient implements the interface
var _ FuturesClientInterface = (*FuturesClient)(nil)

// NewFuturesClient creates a new Binance futures REST API client.
func NewFuturesClient(cfg *config.Binance, logger *zap.Logger) *FuturesClient {
	var url string
	if cfg.Testnet {
		url = testnetBaseURL
		logger.Warn("Using Binance Futures Testnet")
	} else {
		url = baseURL
		logger.Info("Using Binance Futures Production API")
	}

	client := resty.New().SetBaseURL(url)

	// Initialize the rate limiter
	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &FuturesClient{
		client:    client,
		apiKey:    cfg.ApiKey,
		secretKey: cfg.SecretKey,
		logger:    logger,
		limiter:   limiter,
	}
}

// sign creates a HMAC-SHA256 signature for the request.
func (c *FuturesClient) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// signedParams appends the timestamp, recvWindow and signature to the given params.
func (c *FuturesClient) signedParams(params url.Values) string {
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)
	queryString := params.Encode()
	return queryString + "&signature=" + c.sign(queryString)
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *FuturesClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == 418 { // HTTP 429 or 418
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// GetServerTime fetches the current server time from Binance.
// This is a good endpoint to test connectivity.
func (c *FuturesClient) GetServerTime() (int64, error) {
	type ServerTimeResponse struct {
		ServerTime int64 `json:"serverTime"`
	}

	req := c.client.R().
		SetResult(&ServerTimeResponse{})
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/fapi/v1/time", req)
	if err != nil {
		c.logger.Error("Failed to get server time", zap.Error(err))
		return 0, fmt.Errorf("failed to get server time: %w", err)
	}

	result := resp.Result().(*ServerTimeResponse)
	return result.ServerTime, nil
}

// TickerPrice represents the response for a single ticker price.
type TickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetPrice fetches the latest traded price for a symbol.
func (c *FuturesClient) GetPrice(symbol string) (float64, error) {
	var ticker TickerPrice

	req := c.client.R().
		SetQueryParam("symbol", symbol).
		SetResult(&ticker)
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/fapi/v1/ticker/price", req)
	if err != nil {
		return 0, fmt.Errorf("failed to get price for %s: %w", symbol, err)
	}

	result := resp.Result().(*TickerPrice)
	price, err := strconv.ParseFloat(result.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse price %q for %s: %w", result.Price, symbol, err)
	}
	return price, nil
}

// exchangeInfoResponse represents the response from the /exchangeInfo endpoint.
type exchangeInfoResponse struct {
	Symbols []symbolInfo `json:"symbols"`
}

type symbolInfo struct {
	Symbol  string   `json:"symbol"`
	Status  string   `json:"status"`
	Filters []filter `json:"filters"`
}

// filter represents a single exchange filter for a symbol.
// PRICE_FILTER carries the tick size, LOT_SIZE the step size and minimum quantity.
type filter struct {
	FilterType string `json:"filterType"`
	TickSize   string `json:"tickSize,omitempty"`
	MinQty     string `json:"minQty,omitempty"`
	StepSize   string `json:"stepSize,omitempty"`
}

// SymbolFilters holds the parsed trading rules for a single symbol.
type SymbolFilters struct {
	Symbol   string
	TickSize float64
	StepSize float64
	MinQty   float64
}

// GetSymbolFilters fetches and parses the trading rules for a single symbol.
func (c *FuturesClient) GetSymbolFilters(symbol string) (*SymbolFilters, error) {
	var info exchangeInfoResponse

	req := c.client.R().
		SetQueryParam("symbol", symbol).
		SetResult(&info)
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/fapi/v1/exchangeInfo", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange info for %s: %w", symbol, err)
	}

	result := resp.Result().(*exchangeInfoResponse)
	for _, s := range result.Symbols {
		if s.Symbol != symbol {
			continue
		}
		filters := &SymbolFilters{Symbol: symbol}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				filters.TickSize, _ = strconv.ParseFloat(f.TickSize, 64)
			case "LOT_SIZE":
				filters.StepSize, _ = strconv.ParseFloat(f.StepSize, 64)
				filters.MinQty, _ = strconv.ParseFloat(f.MinQty, 64)
			}
		}
		if filters.TickSize <= 0 || filters.StepSize <= 0 {
			return nil, fmt.Errorf("incomplete filters for symbol %s", symbol)
		}
		return filters, nil
	}

	return nil, fmt.Errorf("symbol %s not found in exchange info", symbol)
}

// PositionRisk represents one entry of the /positionRisk endpoint.
type PositionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Leverage         string `json:"leverage"`
}

// Amount returns the signed position size, 0 if unparsable.
func (p *PositionRisk) Amount() float64 {
	amt, _ := strconv.ParseFloat(p.PositionAmt, 64)
	return amt
}

// GetPositions fetches the position risk entries for all symbols.
func (c *FuturesClient) GetPositions() ([]PositionRisk, error) {
	var positions []PositionRisk

	query := c.signedParams(url.Values{})
	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryString(query).
		SetResult(&positions)
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/fapi/v2/positionRisk", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}

	return *resp.Result().(*[]PositionRisk), nil
}

// GetPositionRisk fetches the position risk entry for a single symbol.
// Returns nil if the exchange reports no position for the symbol.
func (c *FuturesClient) GetPositionRisk(symbol string) (*PositionRisk, error) {
	var positions []PositionRisk

	params := url.Values{}
	params.Set("symbol", symbol)
	query := c.signedParams(params)

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryString(query).
		SetResult(&positions)
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/fapi/v2/positionRisk", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get position risk for %s: %w", symbol, err)
	}

	for _, p := range *resp.Result().(*[]PositionRisk) {
		if p.Symbol == symbol {
			position := p
			return &position, nil
		}
	}
	return nil, nil
}

// OrderResponse represents the response from placing or querying an order.
type OrderResponse struct {
	Symbol           string `json:"symbol"`
	OrderID          int64  `json:"orderId"`
	ClientOrderID    string `json:"clientOrderId"`
	Price            string `json:"price"`
	AvgPrice         string `json:"avgPrice"`
	OrigQuantity     string `json:"origQty"`
	ExecutedQuantity string `json:"executedQty"`
	Status           string `json:"status"`
	TimeInForce      string `json:"timeInForce"`
	Type             string `json:"type"`
	Side             string `json:"side"`
	UpdateTime       int64  `json:"updateTime"`
}

// FilledQuantity returns the executed quantity, 0 if unparsable.
func (o *OrderResponse) FilledQuantity() float64 {
	qty, _ := strconv.ParseFloat(o.ExecutedQuantity, 64)
	return qty
}

// FillPrice returns the average fill price, falling back to the limit price.
func (o *OrderResponse) FillPrice() float64 {
	if avg, err := strconv.ParseFloat(o.AvgPrice, 64); err == nil && avg > 0 {
		return avg
	}
	price, _ := strconv.ParseFloat(o.Price, 64)
	return price
}

// placeOrder submits a signed order request.
func (c *FuturesClient) placeOrder(params url.Values) (*OrderResponse, error) {
	body := c.signedParams(params)

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(body).
		SetResult(&OrderResponse{})
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "POST", "/fapi/v1/order", req)
	if err != nil {
		c.logger.Error("Failed to place order after multiple attempts",
			zap.Error(err),
			zap.String("symbol", params.Get("symbol")),
		)
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	result := resp.Result().(*OrderResponse)
	c.logger.Info("Successfully placed order",
		zap.String("symbol", result.Symbol),
		zap.Int64("order_id", result.OrderID),
		zap.String("status", result.Status),
	)
	return result, nil
}

// PlaceLimitOrder places a good-till-cancelled limit order.
func (c *FuturesClient) PlaceLimitOrder(symbol, side string, quantity, price float64) (*OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", OrderTypeLimit)
	params.Set("timeInForce", "GTC")
	params.Set("quantity", strconv.FormatFloat(quantity, 'f', -1, 64))
	params.Set("price", strconv.FormatFloat(price, 'f', -1, 64))
	return c.placeOrder(params)
}

// PlaceMarketOrder places a market order.
func (c *FuturesClient) PlaceMarketOrder(symbol, side string, quantity float64) (*OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", OrderTypeMarket)
	params.Set("quantity", strconv.FormatFloat(quantity, 'f', -1, 64))
	return c.placeOrder(params)
}

// GetOrderStatus queries the current state of an order.
func (c *FuturesClient) GetOrderStatus(symbol string, orderID int64) (*OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	query := c.signedParams(params)

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryString(query).
		SetResult(&OrderResponse{})
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/fapi/v1/order", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get order status for %s/%d: %w", symbol, orderID, err)
	}

	return resp.Result().(*OrderResponse), nil
}

// CancelAllOpenOrders cancels every open order for the symbol.
func (c *FuturesClient) CancelAllOpenOrders(symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	query := c.signedParams(params)

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryString(query)
	ctx := context.Background()

	if _, err := c.doRequest(ctx, "DELETE", "/fapi/v1/allOpenOrders", req); err != nil {
		return fmt.Errorf("failed to cancel open orders for %s: %w", symbol, err)
	}
	return nil
}

// SetLeverage sets the leverage for a symbol.
func (c *FuturesClient) SetLeverage(symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	body := c.signedParams(params)

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(body)
	ctx := context.Background()

	if _, err := c.doRequest(ctx, "POST", "/fapi/v1/leverage", req); err != nil {
		return fmt.Errorf("failed to set leverage for %s: %w", symbol, err)
	}
	return nil
}

// SetMarginType sets the margin mode (ISOLATED or CROSSED) for a symbol.
// The exchange returns an error when the mode is already set; that case is
// indistinguishable from other 400s here and is left to the caller to tolerate.
func (c *FuturesClient) SetMarginType(symbol, marginType string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("marginType", marginType)
	body := c.signedParams(params)

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(body)
	ctx := context.Background()

	if _, err := c.doRequest(ctx, "POST", "/fapi/v1/marginType", req); err != nil {
		return fmt.Errorf("failed to set margin type for %s: %w", symbol, err)
	}
	return nil
}
