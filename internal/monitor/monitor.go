// Package monitor watches open trades: it consults the exit strategy, keeps
// exchange-side stops in sync with the trade record, rescues half-filled
// spread trades, and tightens stops once the book is sufficiently in profit.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/pairtrader/internal/metrics"
	"github.com/tathienbao/pairtrader/internal/persistence"
	"github.com/tathienbao/pairtrader/internal/statecache"
	"github.com/tathienbao/pairtrader/internal/strategy"
	"github.com/tathienbao/pairtrader/internal/types"
	"github.com/tathienbao/pairtrader/pkg/indicator"
)

// OrderGateway is the slice of the order gateway the monitor needs. A small
// interface keeps the monitor testable without an exchange.
type OrderGateway interface {
	ClosePositionMarket(ctx context.Context, symbol string, side types.Side, qty decimal.Decimal) (string, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	AmendStops(ctx context.Context, symbol string, takeProfit, stopLoss decimal.Decimal) error
}

// BarSource supplies the most recent bar per symbol for exit evaluation.
type BarSource interface {
	Latest(symbol string) (types.Bar, bool)
}

// TightenerConfig controls the profit-protection stop tightener.
type TightenerConfig struct {
	Enabled       bool
	PnLTarget     decimal.Decimal // aggregate unrealized PnL that arms the tightener
	ADXPeriod     int
	ADXThreshold  decimal.Decimal // tighten only while trend strength is below this
	ATRPeriod     int
	ATRMultiplier decimal.Decimal // stop distance from mark in ATRs
}

// Config holds the monitor's tunables.
type Config struct {
	Interval           time.Duration
	PartialFillTimeout time.Duration
	StopSyncTolerance  decimal.Decimal // relative; exchange stops further off than this get re-amended
	Tightener          TightenerConfig
}

// DefaultConfig returns monitor defaults.
func DefaultConfig() Config {
	return Config{
		Interval:           5 * time.Second,
		PartialFillTimeout: 60 * time.Second,
		StopSyncTolerance:  decimal.NewFromFloat(1e-4),
		Tightener: TightenerConfig{
			ADXPeriod:     14,
			ADXThreshold:  decimal.NewFromInt(20),
			ATRPeriod:     14,
			ATRMultiplier: decimal.NewFromInt(2),
		},
	}
}

// partialWatch tracks a spread trade with exactly one leg filled. The budget
// runs from the first leg's fill, not from trade creation.
type partialWatch struct {
	tradeID       string
	firstFillAt   time.Time
	filledOrderID string
	filledSymbol  string
	filledSide    types.Side
	filledQty     decimal.Decimal
	otherOrderID  string
	otherSymbol   string

	// set as recovery steps succeed so a partial failure never repeats a
	// completed action on retry
	closed    bool
	cancelled bool
}

// legRef indexes one entry-order leg by exchange order id. It carries the
// fields the stream goroutine needs by value so listener callbacks never
// alias the tick goroutine's trade slice.
type legRef struct {
	tradeID  string
	status   types.TradeStatus
	spread   bool
	pair     bool // true when the order id is the pair leg's
	symbol   string
	side     types.Side
	quantity decimal.Decimal // this leg's full quantity

	otherOrderID  string
	otherSymbol   string
	otherQuantity decimal.Decimal
}

// legFill tallies executions for one entry order so a leg filled across
// several partial executions is summed, not counted from its first print.
type legFill struct {
	qty      decimal.Decimal
	notional decimal.Decimal
}

func (f *legFill) avg() decimal.Decimal {
	if f.qty.IsZero() {
		return decimal.Zero
	}
	return f.notional.Div(f.qty)
}

// Monitor runs the open-trade watch loop.
type Monitor struct {
	cfg    Config
	cache  *statecache.Cache
	repo   persistence.Repository
	gw     OrderGateway
	bars   BarSource
	exit   strategy.ExitStrategy
	logger *slog.Logger

	instanceID string
	now        func() time.Time
	rec        *metrics.Recorder

	mu       sync.Mutex
	watches  map[string]*partialWatch
	legIndex map[string]legRef
	fills    map[string]*legFill
	openSyms map[string]bool

	atr      map[string]*indicator.ATR
	adx      map[string]*indicator.ADX
	lastBars map[string]time.Time
}

// New creates a monitor. The exit strategy may be nil, in which case only
// stop sync, partial-fill recovery and the tightener run.
func New(cfg Config, cache *statecache.Cache, repo persistence.Repository, gw OrderGateway, bars BarSource, exit strategy.ExitStrategy, instanceID string, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.PartialFillTimeout <= 0 {
		cfg.PartialFillTimeout = DefaultConfig().PartialFillTimeout
	}
	if cfg.StopSyncTolerance.IsZero() {
		cfg.StopSyncTolerance = DefaultConfig().StopSyncTolerance
	}
	return &Monitor{
		cfg:        cfg,
		cache:      cache,
		repo:       repo,
		gw:         gw,
		bars:       bars,
		exit:       exit,
		logger:     logger,
		instanceID: instanceID,
		now:        time.Now,
		watches:    make(map[string]*partialWatch),
		legIndex:   make(map[string]legRef),
		fills:      make(map[string]*legFill),
		openSyms:   make(map[string]bool),
		atr:        make(map[string]*indicator.ATR),
		adx:        make(map[string]*indicator.ADX),
		lastBars:   make(map[string]time.Time),
	}
}

// SetNow overrides the monitor's clock. Test hook.
func (m *Monitor) SetNow(now func() time.Time) {
	m.now = now
}

// SetRecorder attaches a metrics recorder. Nil leaves metrics off.
func (m *Monitor) SetRecorder(rec *metrics.Recorder) {
	m.rec = rec
}

// Run executes the watch loop until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info("monitor started", "interval", m.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one monitoring pass. Failures are logged and left for the next
// tick; a tick never aborts on the first error.
func (m *Monitor) Tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		if m.rec != nil {
			m.rec.RecordTickDuration(time.Since(start))
		}
	}()

	open, err := m.repo.GetOpenTrades(ctx, m.instanceID)
	if err != nil {
		m.logger.Error("monitor: load open trades", "error", err)
		// Recovery deadlines must still fire even when the store is down.
		m.checkWatches(ctx)
		return
	}

	m.refreshLegIndex(open)
	m.updateIndicators(open)

	for i := range open {
		trade := &open[i]
		if trade.Status != types.TradeStatusFilled {
			continue
		}
		if m.checkStrategyExit(ctx, trade) {
			continue
		}
		m.syncStops(ctx, trade)
	}

	m.tighten(ctx, open)
	m.checkWatches(ctx)
}

// checkStrategyExit consults the exit strategy on the latest bar and closes
// the position at market when it says exit. Returns true when the trade was
// closed so later steps skip it.
func (m *Monitor) checkStrategyExit(ctx context.Context, trade *types.Trade) bool {
	if m.exit == nil || m.bars == nil {
		return false
	}
	bar, ok := m.bars.Latest(trade.Symbol)
	if !ok {
		return false
	}
	var pairBar *types.Bar
	if trade.IsSpread() {
		if pb, ok := m.bars.Latest(trade.PairSymbol); ok {
			pairBar = &pb
		}
	}

	decision := m.exit.ShouldExit(trade, bar, pairBar)
	if !decision.Exit {
		stop, target := trade.StopLoss, trade.TakeProfit
		if !decision.StopLevel.IsZero() && !withinTolerance(decision.StopLevel, stop, m.cfg.StopSyncTolerance) {
			stop = decision.StopLevel
		}
		if !decision.TargetLevel.IsZero() && !withinTolerance(decision.TargetLevel, target, m.cfg.StopSyncTolerance) {
			target = decision.TargetLevel
		}
		if !stop.Equal(trade.StopLoss) || !target.Equal(trade.TakeProfit) {
			m.applyStops(ctx, trade, stop, target, "strategy")
		}
		return false
	}

	reason := decision.Reason
	if reason == "" {
		reason = types.ExitReasonStrategy
	}
	if err := m.closeTrade(ctx, trade, bar.Close, reason); err != nil {
		m.logger.Error("monitor: strategy exit failed, retrying next tick",
			"trade", trade.ID, "symbol", trade.Symbol, "error", err)
		return false
	}
	return true
}

// closeTrade flattens the trade's position(s) at market and records the
// close. A spread trade flattens both legs.
func (m *Monitor) closeTrade(ctx context.Context, trade *types.Trade, exitPrice decimal.Decimal, reason string) error {
	if _, err := m.gw.ClosePositionMarket(ctx, trade.Symbol, trade.Side, trade.Quantity.Abs()); err != nil {
		return err
	}
	if trade.IsSpread() {
		if _, err := m.gw.ClosePositionMarket(ctx, trade.PairSymbol, trade.PairSide, trade.PairQuantity.Abs()); err != nil {
			return err
		}
	}

	pnl := realizedPnL(trade.Side, trade.FillPrice, exitPrice, trade.Quantity.Abs())
	closedAt := m.now()
	if err := m.repo.CloseTrade(ctx, trade.ID, exitPrice, reason, closedAt, pnl); err != nil {
		return err
	}
	if m.rec != nil {
		m.rec.RecordTrade(trade.Symbol, trade.Side.String(), pnl.IsPositive())
	}
	m.logger.Info("trade closed",
		"trade", trade.ID, "symbol", trade.Symbol, "reason", reason,
		"exit_price", exitPrice, "pnl", pnl)
	return nil
}

// syncStops re-amends exchange-side stop/target when they drift from the
// trade record by more than the tolerance.
func (m *Monitor) syncStops(ctx context.Context, trade *types.Trade) {
	pos, ok := m.cache.Position(trade.Symbol)
	if !ok {
		return
	}
	slOK := withinTolerance(pos.StopLoss, trade.StopLoss, m.cfg.StopSyncTolerance)
	tpOK := withinTolerance(pos.TakeProfit, trade.TakeProfit, m.cfg.StopSyncTolerance)
	if slOK && tpOK {
		return
	}

	m.logger.Warn("stop drift detected",
		"trade", trade.ID, "symbol", trade.Symbol,
		"want_sl", trade.StopLoss, "have_sl", pos.StopLoss,
		"want_tp", trade.TakeProfit, "have_tp", pos.TakeProfit)
	if err := m.gw.AmendStops(ctx, trade.Symbol, trade.TakeProfit, trade.StopLoss); err != nil {
		m.logger.Error("monitor: amend stops failed, retrying next tick",
			"trade", trade.ID, "symbol", trade.Symbol, "error", err)
		return
	}
	if m.rec != nil {
		m.rec.RecordStopAmended("drift")
	}
}

// applyStops updates the stop on both exchange and store. The store is only
// touched after the exchange accepted the amend.
func (m *Monitor) applyStops(ctx context.Context, trade *types.Trade, stopLoss, takeProfit decimal.Decimal, cause string) {
	if err := m.gw.AmendStops(ctx, trade.Symbol, takeProfit, stopLoss); err != nil {
		m.logger.Error("monitor: amend stops failed, retrying next tick",
			"trade", trade.ID, "symbol", trade.Symbol, "error", err)
		return
	}
	if err := m.repo.UpdateTradeStops(ctx, trade.ID, stopLoss, takeProfit); err != nil {
		m.logger.Error("monitor: persist stops failed", "trade", trade.ID, "error", err)
		return
	}
	if m.rec != nil {
		m.rec.RecordStopAmended(cause)
	}
	trade.StopLoss = stopLoss
	trade.TakeProfit = takeProfit
}

// updateIndicators feeds each open symbol's latest bar into its ATR/ADX,
// deduplicating by bar timestamp.
func (m *Monitor) updateIndicators(open []types.Trade) {
	if !m.cfg.Tightener.Enabled || m.bars == nil {
		return
	}
	seen := make(map[string]struct{})
	for i := range open {
		for _, symbol := range []string{open[i].Symbol, open[i].PairSymbol} {
			if symbol == "" {
				continue
			}
			if _, dup := seen[symbol]; dup {
				continue
			}
			seen[symbol] = struct{}{}

			bar, ok := m.bars.Latest(symbol)
			if !ok || !bar.Timestamp.After(m.lastBars[symbol]) {
				continue
			}
			m.lastBars[symbol] = bar.Timestamp

			atr, ok := m.atr[symbol]
			if !ok {
				atr = indicator.NewATR(m.cfg.Tightener.ATRPeriod)
				m.atr[symbol] = atr
			}
			adx, ok := m.adx[symbol]
			if !ok {
				adx = indicator.NewADX(m.cfg.Tightener.ADXPeriod)
				m.adx[symbol] = adx
			}
			atr.Update(bar.High, bar.Low, bar.Close)
			adx.Update(bar.High, bar.Low, bar.Close)
		}
	}
}

// tighten moves stops toward the mark once aggregate unrealized PnL reaches
// the target and trend strength has faded. Stops only ever tighten.
func (m *Monitor) tighten(ctx context.Context, open []types.Trade) {
	t := m.cfg.Tightener
	if !t.Enabled {
		return
	}
	if m.cache.AggregateUnrealizedPnL().LessThan(t.PnLTarget) {
		return
	}

	for i := range open {
		trade := &open[i]
		if trade.Status != types.TradeStatusFilled {
			continue
		}
		atr, adx := m.atr[trade.Symbol], m.adx[trade.Symbol]
		if atr == nil || adx == nil || !atr.Ready() || !adx.Ready() {
			continue
		}
		if adx.Current().GreaterThanOrEqual(t.ADXThreshold) {
			continue // trend intact, let it run
		}
		pos, ok := m.cache.Position(trade.Symbol)
		if !ok {
			continue
		}

		distance := atr.Current().Mul(t.ATRMultiplier)
		candidate := tightenedStop(trade.Side, pos.MarkPrice, distance)
		if candidate.IsZero() || !improvesStop(trade.Side, candidate, trade.StopLoss) {
			continue
		}

		m.logger.Info("tightening stop",
			"trade", trade.ID, "symbol", trade.Symbol,
			"old_sl", trade.StopLoss, "new_sl", candidate,
			"adx", adx.Current(), "atr", atr.Current())
		m.applyStops(ctx, trade, candidate, trade.TakeProfit, "tighten")
	}
}

// refreshLegIndex rebuilds the order-id index to open trades so fill and
// execution events can be attributed without a store lookup on the stream
// goroutine.
func (m *Monitor) refreshLegIndex(open []types.Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.legIndex = make(map[string]legRef, 2*len(open))
	alive := make(map[string]struct{}, len(open))
	for i := range open {
		trade := &open[i]
		alive[trade.ID] = struct{}{}
		if trade.LegOrderID != "" {
			m.legIndex[trade.LegOrderID] = legRef{
				tradeID:       trade.ID,
				status:        trade.Status,
				spread:        trade.IsSpread(),
				symbol:        trade.Symbol,
				side:          trade.Side,
				quantity:      trade.Quantity.Abs(),
				otherOrderID:  trade.PairOrderID,
				otherSymbol:   trade.PairSymbol,
				otherQuantity: trade.PairQuantity.Abs(),
			}
		}
		if trade.PairOrderID != "" {
			m.legIndex[trade.PairOrderID] = legRef{
				tradeID:       trade.ID,
				status:        trade.Status,
				spread:        true,
				pair:          true,
				symbol:        trade.PairSymbol,
				side:          trade.PairSide,
				quantity:      trade.PairQuantity.Abs(),
				otherOrderID:  trade.LegOrderID,
				otherSymbol:   trade.Symbol,
				otherQuantity: trade.Quantity.Abs(),
			}
		}
	}

	// Drop watches and fill tallies for trades that are no longer open.
	for id := range m.watches {
		if _, ok := alive[id]; !ok {
			delete(m.watches, id)
		}
	}
	for orderID := range m.fills {
		if _, ok := m.legIndex[orderID]; !ok {
			delete(m.fills, orderID)
		}
	}
}

// OrderUpdated implements statecache.Listener. A terminal Filled order
// settles the leg's tally from the order's own cumulative figures, covering
// feeds that deliver the order update without individual executions.
func (m *Monitor) OrderUpdated(order types.Order) {
	if order.Status != types.OrderStatusFilled {
		return
	}

	m.mu.Lock()
	ref, ok := m.legIndex[order.OrderID]
	if !ok {
		m.mu.Unlock()
		return
	}
	fill := m.tallyLocked(order.OrderID)
	qty := order.FilledQty
	if qty.IsZero() {
		qty = order.Quantity
	}
	if qty.GreaterThan(fill.qty) {
		price := order.AvgFillPrice
		if price.IsZero() {
			price = order.Price
		}
		fill.qty = qty
		fill.notional = price.Mul(qty)
	}
	m.updateWatchLocked(ref, order.OrderID, fill.qty)
	m.mu.Unlock()

	m.legProgressed(context.Background(), ref, order.OrderID)
}

// PositionUpdated implements statecache.Listener. Position events from the
// exchange drive the open-positions gauge so it tracks what the venue holds,
// not what the audit store believes.
func (m *Monitor) PositionUpdated(pos types.Position) {
	if m.rec == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	open := !pos.Size.IsZero()
	switch {
	case open && !m.openSyms[pos.Symbol]:
		m.openSyms[pos.Symbol] = true
		m.rec.RecordPositionOpened(pos.Symbol)
	case !open && m.openSyms[pos.Symbol]:
		delete(m.openSyms, pos.Symbol)
		m.rec.RecordPositionClosed(pos.Symbol)
	}
}

// ExecutionRecorded implements statecache.Listener. Every execution is
// written to the audit store; executions attributed to an open entry order
// also feed the leg tally, arming the recovery deadline for spread trades and
// driving the submitted -> filled transition once the leg(s) complete.
func (m *Monitor) ExecutionRecorded(exec types.Execution) {
	ctx := context.Background()
	if err := m.repo.SaveExecution(ctx, exec); err != nil {
		m.logger.Error("monitor: persist execution", "exec", exec.ExecID, "error", err)
	}

	m.mu.Lock()
	ref, ok := m.legIndex[exec.OrderID]
	if !ok {
		m.mu.Unlock()
		return
	}
	fill := m.tallyLocked(exec.OrderID)
	qty := exec.Quantity.Abs()
	fill.qty = fill.qty.Add(qty)
	fill.notional = fill.notional.Add(exec.Price.Mul(qty))
	m.updateWatchLocked(ref, exec.OrderID, fill.qty)
	m.mu.Unlock()

	m.legProgressed(ctx, ref, exec.OrderID)
}

func (m *Monitor) tallyLocked(orderID string) *legFill {
	fill, ok := m.fills[orderID]
	if !ok {
		fill = &legFill{}
		m.fills[orderID] = fill
	}
	return fill
}

// updateWatchLocked arms the recovery watch on the first fill of a spread
// leg, keeps the watched quantity current across partial executions, and
// disarms once the opposite leg is completely filled.
func (m *Monitor) updateWatchLocked(ref legRef, orderID string, cumQty decimal.Decimal) {
	if !ref.spread {
		return
	}

	watch, exists := m.watches[ref.tradeID]
	if !exists {
		m.watches[ref.tradeID] = &partialWatch{
			tradeID:       ref.tradeID,
			firstFillAt:   m.now(),
			filledOrderID: orderID,
			filledSymbol:  ref.symbol,
			filledSide:    ref.side,
			filledQty:     cumQty,
			otherOrderID:  ref.otherOrderID,
			otherSymbol:   ref.otherSymbol,
		}
		m.logger.Info("spread leg filled, watching for second leg",
			"trade", ref.tradeID, "symbol", ref.symbol, "order", orderID)
		return
	}

	if orderID == watch.filledOrderID {
		// Later partial fills grow the exposure to unwind; the deadline
		// keeps running from the first fill.
		watch.filledQty = cumQty
		return
	}
	if cumQty.GreaterThanOrEqual(ref.quantity) {
		delete(m.watches, ref.tradeID)
		m.logger.Info("second spread leg filled", "trade", ref.tradeID, "symbol", ref.symbol)
	}
}

// legProgressed persists per-leg fill prices and records the fill on the
// trade once every leg is fully executed. The stored fill price is the
// primary leg's quantity-weighted average.
func (m *Monitor) legProgressed(ctx context.Context, ref legRef, orderID string) {
	m.mu.Lock()
	own := m.fills[orderID]
	if own == nil {
		m.mu.Unlock()
		return
	}
	ownQty, ownAvg := own.qty, own.avg()
	var otherQty, otherAvg decimal.Decimal
	if other, ok := m.fills[ref.otherOrderID]; ok {
		otherQty, otherAvg = other.qty, other.avg()
	}
	m.mu.Unlock()

	if ref.spread {
		legAvg, pairAvg := ownAvg, otherAvg
		if ref.pair {
			legAvg, pairAvg = otherAvg, ownAvg
		}
		if err := m.repo.UpdateTradeLegFills(ctx, ref.tradeID, legAvg, pairAvg); err != nil {
			m.logger.Error("monitor: persist leg fills", "trade", ref.tradeID, "error", err)
		}
	}

	if ref.status == types.TradeStatusFilled || ownQty.LessThan(ref.quantity) {
		return
	}
	fillPrice := ownAvg
	if ref.spread {
		if otherQty.LessThan(ref.otherQuantity) {
			return
		}
		if ref.pair {
			fillPrice = otherAvg
		}
	}

	if err := m.repo.MarkTradeFilled(ctx, ref.tradeID, fillPrice, m.now()); err != nil {
		m.logger.Error("monitor: record fill", "trade", ref.tradeID, "error", err)
		return
	}

	// Advance the indexed status so replayed events do not re-record the fill
	// before the next index refresh.
	m.mu.Lock()
	for _, id := range []string{orderID, ref.otherOrderID} {
		if r, ok := m.legIndex[id]; ok {
			r.status = types.TradeStatusFilled
			m.legIndex[id] = r
		}
	}
	m.mu.Unlock()

	m.logger.Info("trade filled",
		"trade", ref.tradeID, "symbol", ref.symbol, "fill_price", fillPrice)
}

// checkWatches closes the filled leg and cancels the resting one for every
// watch past the deadline. Completed steps are flagged so a failed step is
// the only one retried next tick.
func (m *Monitor) checkWatches(ctx context.Context) {
	m.mu.Lock()
	var due []*partialWatch
	now := m.now()
	for _, w := range m.watches {
		if now.Sub(w.firstFillAt) >= m.cfg.PartialFillTimeout {
			due = append(due, w)
		}
	}
	m.mu.Unlock()

	for _, w := range due {
		m.recover(ctx, w)
	}
}

func (m *Monitor) recover(ctx context.Context, w *partialWatch) {
	m.logger.Warn("partial spread fill timed out, unwinding",
		"trade", w.tradeID, "filled_symbol", w.filledSymbol, "resting_order", w.otherOrderID)

	if !w.closed {
		if _, err := m.gw.ClosePositionMarket(ctx, w.filledSymbol, w.filledSide, w.filledQty.Abs()); err != nil {
			m.logger.Error("monitor: close filled leg failed, retrying next tick",
				"trade", w.tradeID, "symbol", w.filledSymbol, "error", err)
			return
		}
		w.closed = true
	}
	if !w.cancelled {
		if err := m.gw.CancelOrder(ctx, w.otherSymbol, w.otherOrderID); err != nil {
			m.logger.Error("monitor: cancel resting leg failed, retrying next tick",
				"trade", w.tradeID, "symbol", w.otherSymbol, "error", err)
			return
		}
		w.cancelled = true
	}

	if err := m.repo.UpdateTradeStatus(ctx, w.tradeID, types.TradeStatusFailed, types.ExitReasonRecovery); err != nil {
		m.logger.Error("monitor: record recovery failed, retrying next tick",
			"trade", w.tradeID, "error", err)
		return
	}
	if m.rec != nil {
		m.rec.RecordPartialFillRecovery()
	}

	m.mu.Lock()
	delete(m.watches, w.tradeID)
	m.mu.Unlock()
}

// tightenedStop places the stop one ATR distance behind the mark.
func tightenedStop(side types.Side, mark, distance decimal.Decimal) decimal.Decimal {
	if mark.IsZero() {
		return decimal.Zero
	}
	if side == types.SideShort {
		return mark.Add(distance)
	}
	return mark.Sub(distance)
}

// improvesStop reports whether candidate is strictly tighter than current.
// A zero current stop is always improved by a non-zero candidate.
func improvesStop(side types.Side, candidate, current decimal.Decimal) bool {
	if current.IsZero() {
		return true
	}
	if side == types.SideShort {
		return candidate.LessThan(current)
	}
	return candidate.GreaterThan(current)
}

// withinTolerance reports whether a and b agree within the given relative
// tolerance. Two zeros agree; a single zero never does.
func withinTolerance(a, b, tol decimal.Decimal) bool {
	if a.Equal(b) {
		return true
	}
	scale := decimal.Max(a.Abs(), b.Abs())
	if scale.IsZero() {
		return true
	}
	return a.Sub(b).Abs().Div(scale).LessThanOrEqual(tol)
}

// realizedPnL computes direction-aware P&L for a closed trade.
func realizedPnL(side types.Side, fill, exit, qty decimal.Decimal) decimal.Decimal {
	if side == types.SideShort {
		return fill.Sub(exit).Mul(qty)
	}
	return exit.Sub(fill).Mul(qty)
}
