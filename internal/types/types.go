// Package types defines shared types used across the trading core.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of a trade or order.
type Side int

const (
	SideFlat Side = iota
	SideLong
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "LONG"
	case SideShort:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideFlat
	}
}

// OrderType represents the order type.
type OrderType string

const (
	OrderTypeLimit  OrderType = "Limit"
	OrderTypeMarket OrderType = "Market"
)

// OrderStatus represents the exchange-side state of an order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "New"
	OrderStatusPartiallyFilled OrderStatus = "PartiallyFilled"
	OrderStatusFilled          OrderStatus = "Filled"
	OrderStatusCancelled       OrderStatus = "Cancelled"
	OrderStatusRejected        OrderStatus = "Rejected"
)

// IsLive returns true if the order still occupies a slot.
func (s OrderStatus) IsLive() bool {
	return s == OrderStatusNew || s == OrderStatusPartiallyFilled
}

// IsFinal returns true if the order is in a terminal state.
func (s OrderStatus) IsFinal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// Order is the cached projection of an exchange order. It is owned by the
// state cache and mutated only by event application.
type Order struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          Side
	Type          OrderType
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	Status        OrderStatus
	FilledQty     decimal.Decimal
	AvgFillPrice  decimal.Decimal
	TakeProfit    decimal.Decimal
	StopLoss      decimal.Decimal
	UpdatedAt     time.Time
}

// Position is the cached projection of an exchange position. One position per
// symbol; a size of zero means the position is logically absent.
type Position struct {
	Symbol           string
	Side             Side
	Size             decimal.Decimal
	EntryPrice       decimal.Decimal
	MarkPrice        decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	Leverage         decimal.Decimal
	StopLoss         decimal.Decimal
	TakeProfit       decimal.Decimal
	LiquidationPrice decimal.Decimal
	UpdatedAt        time.Time
}

// Execution is an append-only fill record.
type Execution struct {
	ExecID      string
	OrderID     string
	Symbol      string
	Side        Side
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	Value       decimal.Decimal
	Fee         decimal.Decimal
	RealizedPnL decimal.Decimal
	IsMaker     bool
	ExecTime    time.Time
}

// WalletBalance is the cached balance for a single coin.
type WalletBalance struct {
	Coin      string
	Equity    decimal.Decimal
	Available decimal.Decimal
	UpdatedAt time.Time
}

// TradeStatus represents the domain-level lifecycle of a trade.
type TradeStatus string

const (
	TradeStatusPending    TradeStatus = "pending"
	TradeStatusSubmitted  TradeStatus = "submitted"
	TradeStatusPaperTrade TradeStatus = "paper_trade"
	TradeStatusFilled     TradeStatus = "filled"
	TradeStatusClosed     TradeStatus = "closed"
	TradeStatusRejected   TradeStatus = "rejected"
	TradeStatusFailed     TradeStatus = "failed"
	TradeStatusCancelled  TradeStatus = "cancelled"
)

// IsOpen returns true if the trade still occupies a slot.
func (s TradeStatus) IsOpen() bool {
	switch s {
	case TradeStatusSubmitted, TradeStatusPaperTrade, TradeStatusFilled:
		return true
	default:
		return false
	}
}

// Exit reasons recorded on closed trades.
const (
	ExitReasonStopLoss   = "sl_hit"
	ExitReasonTakeProfit = "tp_hit"
	ExitReasonStrategy   = "strategy_exit"
	ExitReasonRecovery   = "partial_fill_recovery"
)

// Trade is the unit the rest of the bot reasons about. A spread trade carries
// a second leg on PairSymbol with opposite-signed quantity.
type Trade struct {
	ID               string
	RecommendationID string
	Symbol           string
	Side             Side
	EntryPrice       decimal.Decimal
	StopLoss         decimal.Decimal
	TakeProfit       decimal.Decimal
	Quantity         decimal.Decimal
	Status           TradeStatus
	Score            decimal.Decimal

	FillPrice decimal.Decimal
	FilledAt  *time.Time

	ExitPrice   decimal.Decimal
	ExitReason  string
	ClosedAt    *time.Time
	RealizedPnL decimal.Decimal

	// Second leg, set only for spread trades.
	PairSymbol    string
	PairSide      Side
	PairQuantity  decimal.Decimal
	LegOrderID    string
	PairOrderID   string
	LegFillPrice  decimal.Decimal
	PairFillPrice decimal.Decimal

	RejectReason string
	InstanceID   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsSpread returns true if the trade has a second leg.
func (t *Trade) IsSpread() bool {
	return t.PairSymbol != ""
}

// ValidateTimestamps enforces the trade lifecycle ordering:
// created_at <= filled_at <= closed_at, and closed requires filled.
func (t *Trade) ValidateTimestamps() error {
	if t.FilledAt != nil && t.FilledAt.Before(t.CreatedAt) {
		return ErrTimestampOrder
	}
	if t.ClosedAt != nil {
		if t.FilledAt == nil {
			return ErrNotFilled
		}
		if t.ClosedAt.Before(*t.FilledAt) {
			return ErrTimestampOrder
		}
	}
	if t.Status == TradeStatusClosed && t.FilledAt == nil {
		return ErrNotFilled
	}
	return nil
}

// Bar is a single OHLCV price bar.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Contains returns true if the bar's high/low range touches the price.
func (b Bar) Contains(price decimal.Decimal) bool {
	return b.Low.LessThanOrEqual(price) && b.High.GreaterThanOrEqual(price)
}

// Signal is a validated trading signal handed to the orchestrator. For spread
// signals PairSymbol and PairQuantity describe the second leg; quantities are
// signed (positive buy, negative sell).
type Signal struct {
	ID               string
	RecommendationID string
	Timestamp        time.Time
	Symbol           string
	Side             Side
	EntryPrice       decimal.Decimal
	StopLoss         decimal.Decimal
	TakeProfit       decimal.Decimal
	Confidence       decimal.Decimal
	Score            decimal.Decimal

	PairSymbol   string
	Quantity     decimal.Decimal
	PairQuantity decimal.Decimal
}

// IsSpread returns true if the signal describes a two-leg trade.
func (s Signal) IsSpread() bool {
	return s.PairSymbol != ""
}
