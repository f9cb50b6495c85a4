// Package gateway places, cancels and amends exchange orders, including
// coordinated two-leg spread submissions with leg-level rollback.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/pairtrader/internal/exchange"
	"github.com/tathienbao/pairtrader/internal/metrics"
	"github.com/tathienbao/pairtrader/internal/types"
)

// OrderRequest describes a single-leg order.
type OrderRequest struct {
	Symbol     string
	Side       types.Side
	Quantity   decimal.Decimal
	Price      decimal.Decimal // zero means market
	TakeProfit decimal.Decimal
	StopLoss   decimal.Decimal
	ReduceOnly bool
}

// SpreadLeg describes one leg of a two-leg trade. Quantity is signed:
// positive buys, negative sells.
type SpreadLeg struct {
	Symbol   string
	Quantity decimal.Decimal
	Price    decimal.Decimal // zero means market
}

// SpreadResult carries the accepted order ids for both legs.
type SpreadResult struct {
	LegXOrderID string
	LegYOrderID string
}

// Gateway is the single path through which the core talks to the exchange's
// order API. All failures surface as explicit errors; nothing panics across
// this boundary.
type Gateway struct {
	api    exchange.API
	logger *slog.Logger
	rec    *metrics.Recorder
}

// New creates a gateway over the given exchange API.
func New(api exchange.API, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{api: api, logger: logger}
}

// SetRecorder attaches a metrics recorder for order latency.
func (g *Gateway) SetRecorder(rec *metrics.Recorder) { g.rec = rec }

// PlaceOrder submits one order and returns the exchange order id.
func (g *Gateway) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return "", types.ErrInvalidQuantity
	}

	orderType := types.OrderTypeLimit
	if req.Price.IsZero() {
		orderType = types.OrderTypeMarket
	}

	start := time.Now()
	result, err := g.api.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          orderType,
		Quantity:      req.Quantity,
		Price:         req.Price,
		TakeProfit:    req.TakeProfit,
		StopLoss:      req.StopLoss,
		ReduceOnly:    req.ReduceOnly,
		ClientOrderID: newClientOrderID(),
	})
	if err != nil {
		return "", fmt.Errorf("place order %s: %w", req.Symbol, err)
	}
	if g.rec != nil {
		g.rec.RecordOrderLatency(time.Since(start))
	}

	g.logger.Info("order placed",
		"order_id", result.OrderID,
		"symbol", req.Symbol,
		"side", req.Side,
		"qty", req.Quantity,
		"type", orderType,
	)
	return result.OrderID, nil
}

// CancelOrder cancels a working order.
func (g *Gateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := g.api.CancelOrder(ctx, symbol, orderID); err != nil {
		return fmt.Errorf("cancel order %s/%s: %w", symbol, orderID, err)
	}
	g.logger.Info("order cancelled", "symbol", symbol, "order_id", orderID)
	return nil
}

// AmendStops updates the position's stop-loss / take-profit levels. Zero
// values leave the corresponding level untouched.
func (g *Gateway) AmendStops(ctx context.Context, symbol string, takeProfit, stopLoss decimal.Decimal) error {
	if err := g.api.SetTradingStop(ctx, symbol, takeProfit, stopLoss); err != nil {
		return fmt.Errorf("amend stops %s: %w", symbol, err)
	}
	g.logger.Info("stops amended",
		"symbol", symbol,
		"take_profit", takeProfit,
		"stop_loss", stopLoss,
	)
	return nil
}

// ClosePositionMarket closes a position with a reduce-only market order.
func (g *Gateway) ClosePositionMarket(ctx context.Context, symbol string, side types.Side, qty decimal.Decimal) (string, error) {
	return g.PlaceOrder(ctx, OrderRequest{
		Symbol:     symbol,
		Side:       side.Opposite(),
		Quantity:   qty,
		ReduceOnly: true,
	})
}

// PlaceSpreadOrders submits a two-leg trade. Leg X goes first; leg Y is only
// attempted after X is accepted. If Y fails, X is cancelled synchronously
// before the error returns, so this path never leaves a lone working leg
// behind. Asymmetric fills after both legs are accepted are the recovery
// monitor's job, not the gateway's.
func (g *Gateway) PlaceSpreadOrders(ctx context.Context, legX, legY SpreadLeg) (SpreadResult, error) {
	reqX, err := legRequest(legX)
	if err != nil {
		return SpreadResult{}, fmt.Errorf("leg X: %w", err)
	}
	reqY, err := legRequest(legY)
	if err != nil {
		return SpreadResult{}, fmt.Errorf("leg Y: %w", err)
	}

	xID, err := g.PlaceOrder(ctx, reqX)
	if err != nil {
		return SpreadResult{}, fmt.Errorf("leg X: %w", err)
	}

	yID, err := g.PlaceOrder(ctx, reqY)
	if err != nil {
		if cancelErr := g.CancelOrder(ctx, legX.Symbol, xID); cancelErr != nil {
			g.logger.Error("spread rollback failed, leg X may still be working",
				"symbol", legX.Symbol,
				"order_id", xID,
				"err", cancelErr,
			)
			return SpreadResult{}, fmt.Errorf("leg Y: %w (rollback of leg X %s also failed: %v)", err, xID, cancelErr)
		}
		g.logger.Warn("spread submission rolled back",
			"leg_x", legX.Symbol,
			"leg_y", legY.Symbol,
			"err", err,
		)
		return SpreadResult{}, fmt.Errorf("leg Y: %w", err)
	}

	return SpreadResult{LegXOrderID: xID, LegYOrderID: yID}, nil
}

// legRequest converts a signed-quantity leg into an order request.
func legRequest(leg SpreadLeg) (OrderRequest, error) {
	if leg.Quantity.IsZero() {
		return OrderRequest{}, types.ErrInvalidQuantity
	}

	side := types.SideLong
	if leg.Quantity.IsNegative() {
		side = types.SideShort
	}
	return OrderRequest{
		Symbol:   leg.Symbol,
		Side:     side,
		Quantity: leg.Quantity.Abs(),
		Price:    leg.Price,
	}, nil
}

func newClientOrderID() string {
	return "pt-" + uuid.New().String()[:18]
}
