// Package exchange implements connectivity to the derivatives exchange:
// a rate-limited REST order API and a websocket push stream.
package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/pairtrader/internal/types"
	"golang.org/x/time/rate"
)

// APIError is a non-success result code returned by the exchange. It is the
// only error shape that crosses the gateway boundary for exchange rejections.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange error %d: %s", e.Code, e.Message)
}

// PlaceOrderRequest describes a single order submission.
type PlaceOrderRequest struct {
	Symbol        string
	Side          types.Side
	Type          types.OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal // ignored for market orders
	TakeProfit    decimal.Decimal
	StopLoss      decimal.Decimal
	ReduceOnly    bool
	ClientOrderID string
}

// PlaceOrderResult is the accepted-order acknowledgement.
type PlaceOrderResult struct {
	OrderID       string
	ClientOrderID string
}

// API is the narrow order surface the gateway consumes.
type API interface {
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	SetTradingStop(ctx context.Context, symbol string, takeProfit, stopLoss decimal.Decimal) error
	GetPositions(ctx context.Context) ([]types.Position, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]types.Order, error)
}

// ClientConfig holds REST client settings.
type ClientConfig struct {
	BaseURL           string
	APIKey            string
	APISecret         string
	RecvWindowMs      int
	RequestTimeout    time.Duration
	MaxRetries        int
	RetryBaseDelay    time.Duration
	RequestsPerSecond int
}

// DefaultClientConfig returns conservative defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:           "https://api.bybit.com",
		RecvWindowMs:      5000,
		RequestTimeout:    10 * time.Second,
		MaxRetries:        2,
		RetryBaseDelay:    250 * time.Millisecond,
		RequestsPerSecond: 10,
	}
}

// Client is the REST order client.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a REST client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestsPerSecond),
		logger:  logger,
	}
}

// envelope is the exchange's uniform response wrapper.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// PlaceOrder submits an order.
func (c *Client) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResult, error) {
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return PlaceOrderResult{}, types.ErrInvalidQuantity
	}

	body := map[string]any{
		"category":    "linear",
		"symbol":      req.Symbol,
		"side":        apiSide(req.Side),
		"orderType":   string(req.Type),
		"qty":         req.Quantity.String(),
		"orderLinkId": req.ClientOrderID,
	}
	if req.Type == types.OrderTypeLimit {
		body["price"] = req.Price.String()
	}
	if !req.TakeProfit.IsZero() {
		body["takeProfit"] = req.TakeProfit.String()
	}
	if !req.StopLoss.IsZero() {
		body["stopLoss"] = req.StopLoss.String()
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}

	var result struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := c.post(ctx, "/v5/order/create", body, &result); err != nil {
		return PlaceOrderResult{}, err
	}

	return PlaceOrderResult{OrderID: result.OrderID, ClientOrderID: result.OrderLinkID}, nil
}

// CancelOrder cancels a working order.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]any{
		"category": "linear",
		"symbol":   symbol,
		"orderId":  orderID,
	}
	return c.post(ctx, "/v5/order/cancel", body, nil)
}

// SetTradingStop amends the position's stop-loss / take-profit. Zero values
// are omitted and leave the existing level untouched.
func (c *Client) SetTradingStop(ctx context.Context, symbol string, takeProfit, stopLoss decimal.Decimal) error {
	body := map[string]any{
		"category": "linear",
		"symbol":   symbol,
	}
	if !takeProfit.IsZero() {
		body["takeProfit"] = takeProfit.String()
	}
	if !stopLoss.IsZero() {
		body["stopLoss"] = stopLoss.String()
	}
	return c.post(ctx, "/v5/position/trading-stop", body, nil)
}

// GetPositions fetches live positions.
func (c *Client) GetPositions(ctx context.Context) ([]types.Position, error) {
	var result struct {
		List []positionPayload `json:"list"`
	}
	if err := c.get(ctx, "/v5/position/list?category=linear&settleCoin=USDT", &result); err != nil {
		return nil, err
	}

	positions := make([]types.Position, 0, len(result.List))
	for _, p := range result.List {
		pos, err := p.toPosition()
		if err != nil {
			c.logger.Warn("skipping unparseable position", "symbol", p.Symbol, "err", err)
			continue
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

// GetOpenOrders fetches working orders, optionally filtered by symbol.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]types.Order, error) {
	path := "/v5/order/realtime?category=linear&settleCoin=USDT"
	if symbol != "" {
		path += "&symbol=" + symbol
	}

	var result struct {
		List []orderPayload `json:"list"`
	}
	if err := c.get(ctx, path, &result); err != nil {
		return nil, err
	}

	orders := make([]types.Order, 0, len(result.List))
	for _, o := range result.List {
		order, err := o.toOrder()
		if err != nil {
			c.logger.Warn("skipping unparseable order", "order_id", o.OrderID, "err", err)
			continue
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (c *Client) post(ctx context.Context, path string, body map[string]any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, payload, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// do performs one signed request with rate limiting and bounded retry on
// transport failures. API-level errors (non-zero retCode) are never retried.
func (c *Client) do(ctx context.Context, method, path string, payload []byte, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.RetryBaseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		err := c.doOnce(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return err
		}
		lastErr = err
		c.logger.Warn("exchange request failed, retrying",
			"method", method,
			"path", path,
			"attempt", attempt+1,
			"err", err,
		)
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.sign(req, payload)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.RetCode != 0 {
		return &APIError{Code: env.RetCode, Message: env.RetMsg}
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// sign applies the exchange's HMAC request signature.
func (c *Client) sign(req *http.Request, payload []byte) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	recv := strconv.Itoa(c.cfg.RecvWindowMs)

	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(ts + c.cfg.APIKey + recv))
	mac.Write(payload)

	req.Header.Set("X-BAPI-API-KEY", c.cfg.APIKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", recv)
	req.Header.Set("X-BAPI-SIGN", hex.EncodeToString(mac.Sum(nil)))
}

func apiSide(s types.Side) string {
	if s == types.SideShort {
		return "Sell"
	}
	return "Buy"
}

// Ensure Client implements API.
var _ API = (*Client)(nil)
