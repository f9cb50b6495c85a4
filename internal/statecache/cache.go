// Package statecache maintains an in-memory projection of the exchange's
// order, position, wallet and execution stream.
package statecache

import (
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/pairtrader/internal/types"
)

// DefaultExecutionRing is the number of recent executions kept in memory.
// Every execution is also persisted by the audit listener regardless.
const DefaultExecutionRing = 200

// Listener receives state change notifications. Listeners are invoked on the
// event goroutine after the cache lock has been released, so they may call
// back into the cache's read accessors.
type Listener interface {
	OrderUpdated(order types.Order)
	PositionUpdated(position types.Position)
	ExecutionRecorded(exec types.Execution)
}

// Cache is a thread-safe projection of exchange state. It never raises to the
// caller: malformed events are logged and dropped, because losing one event is
// recoverable (the next snapshot re-syncs) but crashing the feed handler is not.
type Cache struct {
	mu         sync.Mutex
	orders     map[string]types.Order
	positions  map[string]types.Position
	wallet     map[string]types.WalletBalance
	executions []types.Execution
	execCap    int

	listeners []Listener
	logger    *slog.Logger
}

// New creates an empty cache.
func New(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		orders:    make(map[string]types.Order),
		positions: make(map[string]types.Position),
		wallet:    make(map[string]types.WalletBalance),
		execCap:   DefaultExecutionRing,
		logger:    logger,
	}
}

// AddListener registers a state change listener. Not safe to call after the
// event feed has started.
func (c *Cache) AddListener(l Listener) {
	c.listeners = append(c.listeners, l)
}

// ApplyOrderEvent applies a decoded order payload.
func (c *Cache) ApplyOrderEvent(order types.Order) {
	if order.OrderID == "" || order.Symbol == "" {
		c.logger.Warn("dropping malformed order event",
			"order_id", order.OrderID,
			"symbol", order.Symbol,
		)
		return
	}

	c.mu.Lock()
	if order.Status.IsFinal() {
		delete(c.orders, order.OrderID)
	} else {
		c.orders[order.OrderID] = order
	}
	c.mu.Unlock()

	for _, l := range c.listeners {
		l.OrderUpdated(order)
	}
}

// ApplyPositionEvent applies a decoded position payload. The position is
// replaced wholesale; a zero size evicts it.
func (c *Cache) ApplyPositionEvent(position types.Position) {
	if position.Symbol == "" {
		c.logger.Warn("dropping malformed position event")
		return
	}

	c.mu.Lock()
	if position.Size.IsZero() {
		delete(c.positions, position.Symbol)
	} else {
		c.positions[position.Symbol] = position
	}
	c.mu.Unlock()

	for _, l := range c.listeners {
		l.PositionUpdated(position)
	}
}

// ApplyExecutionEvent appends a fill record to the bounded ring.
func (c *Cache) ApplyExecutionEvent(exec types.Execution) {
	if exec.ExecID == "" || exec.Symbol == "" {
		c.logger.Warn("dropping malformed execution event",
			"exec_id", exec.ExecID,
			"symbol", exec.Symbol,
		)
		return
	}

	c.mu.Lock()
	c.executions = append(c.executions, exec)
	if len(c.executions) > c.execCap {
		c.executions = c.executions[len(c.executions)-c.execCap:]
	}
	c.mu.Unlock()

	for _, l := range c.listeners {
		l.ExecutionRecorded(exec)
	}
}

// ApplyWalletEvent applies a decoded wallet payload.
func (c *Cache) ApplyWalletEvent(balance types.WalletBalance) {
	if balance.Coin == "" {
		c.logger.Warn("dropping malformed wallet event")
		return
	}

	c.mu.Lock()
	c.wallet[balance.Coin] = balance
	c.mu.Unlock()
}

// OpenOrders returns copies of live orders for a symbol. An empty symbol
// returns all live orders.
func (c *Cache) OpenOrders(symbol string) []types.Order {
	c.mu.Lock()
	defer c.mu.Unlock()

	var orders []types.Order
	for _, o := range c.orders {
		if !o.Status.IsLive() {
			continue
		}
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		orders = append(orders, o)
	}
	return orders
}

// AllOpenOrders returns copies of every live order across symbols.
func (c *Cache) AllOpenOrders() []types.Order {
	return c.OpenOrders("")
}

// Order returns a copy of the order with the given id.
func (c *Cache) Order(orderID string) (types.Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.orders[orderID]
	return o, ok
}

// Position returns a copy of the position for a symbol.
func (c *Cache) Position(symbol string) (types.Position, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.positions[symbol]
	return p, ok
}

// Positions returns copies of all live positions.
func (c *Cache) Positions() []types.Position {
	c.mu.Lock()
	defer c.mu.Unlock()

	positions := make([]types.Position, 0, len(c.positions))
	for _, p := range c.positions {
		positions = append(positions, p)
	}
	return positions
}

// HasPosition returns true if the symbol has a live position.
func (c *Cache) HasPosition(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.positions[symbol]
	return ok
}

// HasOpenOrder returns true if the symbol has a live order.
func (c *Cache) HasOpenOrder(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.hasOpenOrderLocked(symbol)
}

func (c *Cache) hasOpenOrderLocked(symbol string) bool {
	for _, o := range c.orders {
		if o.Symbol == symbol && o.Status.IsLive() {
			return true
		}
	}
	return false
}

// WalletBalance returns the cached balance for a coin.
func (c *Cache) WalletBalance(coin string) (types.WalletBalance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.wallet[coin]
	return b, ok
}

// RecentExecutions returns up to limit most-recent executions, newest last.
func (c *Cache) RecentExecutions(limit int) []types.Execution {
	c.mu.Lock()
	defer c.mu.Unlock()

	if limit <= 0 || limit > len(c.executions) {
		limit = len(c.executions)
	}
	out := make([]types.Execution, limit)
	copy(out, c.executions[len(c.executions)-limit:])
	return out
}

// CountSlotsUsed returns the number of distinct symbols holding either a live
// position or a live order. A symbol with both counts once.
func (c *Cache) CountSlotsUsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	symbols := make(map[string]struct{}, len(c.positions))
	for sym := range c.positions {
		symbols[sym] = struct{}{}
	}
	for _, o := range c.orders {
		if o.Status.IsLive() {
			symbols[o.Symbol] = struct{}{}
		}
	}
	return len(symbols)
}

// CountPositions returns the number of live positions.
func (c *Cache) CountPositions() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.positions)
}

// CountEntryOrders returns the number of distinct symbols with a live order
// but no position.
func (c *Cache) CountEntryOrders() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	symbols := make(map[string]struct{})
	for _, o := range c.orders {
		if !o.Status.IsLive() {
			continue
		}
		if _, held := c.positions[o.Symbol]; held {
			continue
		}
		symbols[o.Symbol] = struct{}{}
	}
	return len(symbols)
}

// AggregateUnrealizedPnL sums unrealized P&L across all live positions.
func (c *Cache) AggregateUnrealizedPnL() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := decimal.Zero
	for _, p := range c.positions {
		total = total.Add(p.UnrealizedPnL)
	}
	return total
}
