package exchange

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/pairtrader/internal/types"
)

// Wire payloads. The exchange encodes every number as a string; empty strings
// mean "not set" and decode to zero.

type orderPayload struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	OrderStatus string `json:"orderStatus"`
	CumExecQty  string `json:"cumExecQty"`
	AvgPrice    string `json:"avgPrice"`
	TakeProfit  string `json:"takeProfit"`
	StopLoss    string `json:"stopLoss"`
	UpdatedTime string `json:"updatedTime"`
}

func (p orderPayload) toOrder() (types.Order, error) {
	price, err := parseDecimal(p.Price)
	if err != nil {
		return types.Order{}, fmt.Errorf("price: %w", err)
	}
	qty, err := parseDecimal(p.Qty)
	if err != nil {
		return types.Order{}, fmt.Errorf("qty: %w", err)
	}

	return types.Order{
		OrderID:       p.OrderID,
		ClientOrderID: p.OrderLinkID,
		Symbol:        p.Symbol,
		Side:          parseSide(p.Side),
		Type:          types.OrderType(p.OrderType),
		Price:         price,
		Quantity:      qty,
		Status:        types.OrderStatus(p.OrderStatus),
		FilledQty:     parseDecimalOrZero(p.CumExecQty),
		AvgFillPrice:  parseDecimalOrZero(p.AvgPrice),
		TakeProfit:    parseDecimalOrZero(p.TakeProfit),
		StopLoss:      parseDecimalOrZero(p.StopLoss),
		UpdatedAt:     parseMillis(p.UpdatedTime),
	}, nil
}

type positionPayload struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	EntryPrice    string `json:"entryPrice"`
	MarkPrice     string `json:"markPrice"`
	UnrealisedPnl string `json:"unrealisedPnl"`
	Leverage      string `json:"leverage"`
	StopLoss      string `json:"stopLoss"`
	TakeProfit    string `json:"takeProfit"`
	LiqPrice      string `json:"liqPrice"`
	UpdatedTime   string `json:"updatedTime"`
}

func (p positionPayload) toPosition() (types.Position, error) {
	size, err := parseDecimal(p.Size)
	if err != nil {
		return types.Position{}, fmt.Errorf("size: %w", err)
	}

	return types.Position{
		Symbol:           p.Symbol,
		Side:             parseSide(p.Side),
		Size:             size,
		EntryPrice:       parseDecimalOrZero(p.EntryPrice),
		MarkPrice:        parseDecimalOrZero(p.MarkPrice),
		UnrealizedPnL:    parseDecimalOrZero(p.UnrealisedPnl),
		Leverage:         parseDecimalOrZero(p.Leverage),
		StopLoss:         parseDecimalOrZero(p.StopLoss),
		TakeProfit:       parseDecimalOrZero(p.TakeProfit),
		LiquidationPrice: parseDecimalOrZero(p.LiqPrice),
		UpdatedAt:        parseMillis(p.UpdatedTime),
	}, nil
}

type executionPayload struct {
	ExecID    string `json:"execId"`
	OrderID   string `json:"orderId"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	ExecPrice string `json:"execPrice"`
	ExecQty   string `json:"execQty"`
	ExecValue string `json:"execValue"`
	ExecFee   string `json:"execFee"`
	ClosedPnl string `json:"closedPnl"`
	IsMaker   bool   `json:"isMaker"`
	ExecTime  string `json:"execTime"`
}

func (p executionPayload) toExecution() (types.Execution, error) {
	price, err := parseDecimal(p.ExecPrice)
	if err != nil {
		return types.Execution{}, fmt.Errorf("execPrice: %w", err)
	}
	qty, err := parseDecimal(p.ExecQty)
	if err != nil {
		return types.Execution{}, fmt.Errorf("execQty: %w", err)
	}

	return types.Execution{
		ExecID:      p.ExecID,
		OrderID:     p.OrderID,
		Symbol:      p.Symbol,
		Side:        parseSide(p.Side),
		Price:       price,
		Quantity:    qty,
		Value:       parseDecimalOrZero(p.ExecValue),
		Fee:         parseDecimalOrZero(p.ExecFee),
		RealizedPnL: parseDecimalOrZero(p.ClosedPnl),
		IsMaker:     p.IsMaker,
		ExecTime:    parseMillis(p.ExecTime),
	}, nil
}

type walletPayload struct {
	Coin []struct {
		Coin      string `json:"coin"`
		Equity    string `json:"equity"`
		Available string `json:"availableToWithdraw"`
	} `json:"coin"`
}

func walletBalance(coin, equity, available string, at time.Time) types.WalletBalance {
	return types.WalletBalance{
		Coin:      coin,
		Equity:    parseDecimalOrZero(equity),
		Available: parseDecimalOrZero(available),
		UpdatedAt: at,
	}
}

func parseSide(s string) types.Side {
	switch s {
	case "Buy":
		return types.SideLong
	case "Sell":
		return types.SideShort
	default:
		return types.SideFlat
	}
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("empty numeric field")
	}
	return decimal.NewFromString(s)
}

func parseDecimalOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseMillis(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	var ms int64
	if _, err := fmt.Sscanf(s, "%d", &ms); err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
