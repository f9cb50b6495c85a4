// Package persistence provides the audit store for trades, runs, cycles and
// executions.
package persistence

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/pairtrader/internal/types"
)

// Repository defines the audit-store contract consumed by the core. Status
// transitions are append-only updates by id; rows are never deleted.
type Repository interface {
	// Trade operations
	CreateTrade(ctx context.Context, trade types.Trade) error
	GetTrade(ctx context.Context, id string) (*types.Trade, error)
	GetOpenTrades(ctx context.Context, instanceID string) ([]types.Trade, error)
	CountOpenTrades(ctx context.Context, instanceID string) (OpenCounts, error)
	UpdateTradeStatus(ctx context.Context, id string, status types.TradeStatus, reason string) error
	MarkTradeFilled(ctx context.Context, id string, fillPrice decimal.Decimal, filledAt time.Time) error
	CloseTrade(ctx context.Context, id string, exitPrice decimal.Decimal, reason string, closedAt time.Time, pnl decimal.Decimal) error
	UpdateTradeStops(ctx context.Context, id string, stopLoss, takeProfit decimal.Decimal) error
	UpdateTradeLegFills(ctx context.Context, id string, legFill, pairFill decimal.Decimal) error

	// Execution audit (at-least-once)
	SaveExecution(ctx context.Context, exec types.Execution) error

	// Run/cycle audit
	CreateRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, id string, finishedAt time.Time) error
	SaveCycle(ctx context.Context, cycle Cycle) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// OpenCounts splits open trade rows into position-like and entry-order-like
// occupancy for paper-mode slot accounting.
type OpenCounts struct {
	Positions   int // filled, not yet closed
	EntryOrders int // submitted or paper_trade, not yet filled
}

// Total returns combined slot occupancy.
func (c OpenCounts) Total() int {
	return c.Positions + c.EntryOrders
}

// Run is one bot process lifetime.
type Run struct {
	ID         string
	InstanceID string
	Mode       string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Cycle is one evaluation pass over incoming signals.
type Cycle struct {
	ID         string
	RunID      string
	StartedAt  time.Time
	Signals    int
	Opened     int
	Skipped    bool
	SkipReason string
}
