// Package engine orchestrates one signal's path from validation through slot
// admission, sizing and order placement, and runs the cycle-level admission
// policy including replacement of weaker resting entries.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/pairtrader/internal/alerting"
	"github.com/tathienbao/pairtrader/internal/gateway"
	"github.com/tathienbao/pairtrader/internal/metrics"
	"github.com/tathienbao/pairtrader/internal/persistence"
	"github.com/tathienbao/pairtrader/internal/sizing"
	"github.com/tathienbao/pairtrader/internal/slots"
	"github.com/tathienbao/pairtrader/internal/statecache"
	"github.com/tathienbao/pairtrader/internal/types"
)

// OrderPlacer is the slice of the order gateway the engine needs.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req gateway.OrderRequest) (string, error)
	PlaceSpreadOrders(ctx context.Context, legX, legY gateway.SpreadLeg) (gateway.SpreadResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

// Config holds the engine's admission thresholds.
type Config struct {
	MinConfidence decimal.Decimal
	MinRiskReward decimal.Decimal
	SettleCoin    string          // wallet coin used for equity in live mode
	PaperEquity   decimal.Decimal // fixed equity assumed in paper mode
	AllowEviction bool            // replace weaker resting entries at capacity
}

// Engine is the trade orchestrator.
type Engine struct {
	cfg    Config
	mode   slots.Mode
	slots  *slots.Ledger
	sizer  *sizing.Sizer
	placer OrderPlacer
	cache  *statecache.Cache
	repo   persistence.Repository
	alert  alerting.Alerter
	logger *slog.Logger

	instanceID string
	runID      string
	now        func() time.Time
	rec        *metrics.Recorder
}

// New creates an engine. placer and cache may be nil in paper mode.
func New(cfg Config, mode slots.Mode, ledger *slots.Ledger, sizer *sizing.Sizer, placer OrderPlacer, cache *statecache.Cache, repo persistence.Repository, alert alerting.Alerter, instanceID, runID string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if alert == nil {
		alert = alerting.Noop{}
	}
	return &Engine{
		cfg:        cfg,
		mode:       mode,
		slots:      ledger,
		sizer:      sizer,
		placer:     placer,
		cache:      cache,
		repo:       repo,
		alert:      alert,
		logger:     logger,
		instanceID: instanceID,
		runID:      runID,
		now:        time.Now,
	}
}

// SetNow overrides the engine's clock. Test hook.
func (e *Engine) SetNow(now func() time.Time) {
	e.now = now
}

// SetRecorder attaches a metrics recorder. Nil leaves metrics off.
func (e *Engine) SetRecorder(rec *metrics.Recorder) {
	e.rec = rec
}

// RunCycle evaluates one batch of signals, strongest first. The whole cycle
// is skipped when the slot policy says so; every outcome is audited.
func (e *Engine) RunCycle(ctx context.Context, signals []types.Signal) error {
	cycle := persistence.Cycle{
		ID:        uuid.NewString(),
		RunID:     e.runID,
		StartedAt: e.now(),
		Signals:   len(signals),
	}

	if skip, reason := e.slots.ShouldSkipCycle(ctx); skip {
		e.logger.Info("cycle skipped", "reason", reason)
		if e.rec != nil {
			e.rec.RecordCycleSkipped()
		}
		cycle.Skipped = true
		cycle.SkipReason = reason
		return e.repo.SaveCycle(ctx, cycle)
	}

	sorted := make([]types.Signal, len(signals))
	copy(sorted, signals)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score.GreaterThan(sorted[j].Score)
	})

	for _, sig := range sorted {
		trade, err := e.HandleSignal(ctx, sig)
		if err != nil {
			e.logger.Warn("signal not opened",
				"signal", sig.ID, "symbol", sig.Symbol, "reason", err)
			continue
		}
		if trade != nil && trade.Status.IsOpen() {
			cycle.Opened++
		}
	}

	return e.repo.SaveCycle(ctx, cycle)
}

// HandleSignal takes one signal through validation, slot admission, sizing
// and placement. Every terminal outcome, including rejections, is persisted
// as a trade row so the audit trail explains why nothing was opened.
func (e *Engine) HandleSignal(ctx context.Context, sig types.Signal) (*types.Trade, error) {
	trade := e.newTrade(sig)

	if err := validateSignal(sig, e.cfg); err != nil {
		return e.reject(ctx, trade, err)
	}

	if err := e.slots.CanOpen(ctx, sig.Symbol); err != nil {
		if errors.Is(err, types.ErrSlotsExhausted) && e.cfg.AllowEviction {
			if evErr := e.tryEvict(ctx, sig); evErr == nil {
				err = e.slots.CanOpen(ctx, sig.Symbol)
			}
		}
		if err != nil {
			return e.reject(ctx, trade, err)
		}
	}

	if err := e.size(ctx, trade, sig); err != nil {
		return e.reject(ctx, trade, err)
	}

	if e.mode == slots.ModePaper {
		trade.Status = types.TradeStatusPaperTrade
		if err := e.repo.CreateTrade(ctx, *trade); err != nil {
			return nil, fmt.Errorf("persist paper trade: %w", err)
		}
		if e.rec != nil {
			e.rec.RecordOrder(trade.Symbol, trade.Side.String(), string(trade.Status))
		}
		e.logger.Info("paper trade opened",
			"trade", trade.ID, "symbol", trade.Symbol, "side", trade.Side,
			"entry", trade.EntryPrice, "qty", trade.Quantity)
		return trade, nil
	}

	return e.place(ctx, trade)
}

// newTrade builds the trade skeleton for a signal.
func (e *Engine) newTrade(sig types.Signal) *types.Trade {
	now := e.now()
	return &types.Trade{
		ID:               uuid.NewString(),
		RecommendationID: sig.RecommendationID,
		Symbol:           sig.Symbol,
		Side:             sig.Side,
		EntryPrice:       sig.EntryPrice,
		StopLoss:         sig.StopLoss,
		TakeProfit:       sig.TakeProfit,
		Quantity:         sig.Quantity.Abs(),
		Score:            sig.Score,
		Status:           types.TradeStatusPending,
		PairSymbol:       sig.PairSymbol,
		PairSide:         pairSide(sig),
		PairQuantity:     sig.PairQuantity.Abs(),
		InstanceID:       e.instanceID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// size fills in quantities, sizing from equity when the signal carries none.
func (e *Engine) size(ctx context.Context, trade *types.Trade, sig types.Signal) error {
	if !trade.Quantity.IsZero() {
		return nil
	}
	if e.sizer == nil {
		return fmt.Errorf("%w: signal has no quantity and no sizer configured", types.ErrInvalidQuantity)
	}

	equity, err := e.equity()
	if err != nil {
		return err
	}
	res := e.sizer.Size(equity, sig.EntryPrice, sig.StopLoss)
	if !res.Valid {
		return fmt.Errorf("%w: %s", types.ErrInvalidQuantity, res.RejectReason)
	}
	trade.Quantity = res.Quantity
	if trade.IsSpread() && trade.PairQuantity.IsZero() {
		trade.PairQuantity = res.Quantity
	}
	return nil
}

func (e *Engine) equity() (decimal.Decimal, error) {
	if e.mode == slots.ModePaper {
		return e.cfg.PaperEquity, nil
	}
	bal, ok := e.cache.WalletBalance(e.cfg.SettleCoin)
	if !ok {
		return decimal.Zero, fmt.Errorf("no wallet balance for %s", e.cfg.SettleCoin)
	}
	return bal.Equity, nil
}

// place submits the order(s) and persists the resulting row. An exchange
// rejection produces a failed row, not a lost signal.
func (e *Engine) place(ctx context.Context, trade *types.Trade) (*types.Trade, error) {
	if trade.IsSpread() {
		legX := gateway.SpreadLeg{
			Symbol:   trade.Symbol,
			Quantity: signedQty(trade.Side, trade.Quantity),
			Price:    trade.EntryPrice,
		}
		legY := gateway.SpreadLeg{
			Symbol:   trade.PairSymbol,
			Quantity: signedQty(trade.PairSide, trade.PairQuantity),
		}
		res, err := e.placer.PlaceSpreadOrders(ctx, legX, legY)
		if err != nil {
			return e.fail(ctx, trade, err)
		}
		trade.LegOrderID = res.LegXOrderID
		trade.PairOrderID = res.LegYOrderID
	} else {
		orderID, err := e.placer.PlaceOrder(ctx, gateway.OrderRequest{
			Symbol:     trade.Symbol,
			Side:       trade.Side,
			Quantity:   trade.Quantity,
			Price:      trade.EntryPrice,
			TakeProfit: trade.TakeProfit,
			StopLoss:   trade.StopLoss,
		})
		if err != nil {
			return e.fail(ctx, trade, err)
		}
		trade.LegOrderID = orderID
	}

	trade.Status = types.TradeStatusSubmitted
	if err := e.repo.CreateTrade(ctx, *trade); err != nil {
		return nil, fmt.Errorf("persist submitted trade: %w", err)
	}
	if e.rec != nil {
		e.rec.RecordOrder(trade.Symbol, trade.Side.String(), string(trade.Status))
	}
	_ = e.alert.Alert(ctx, alerting.SeverityInfo, "trade submitted",
		"symbol", trade.Symbol, "side", trade.Side.String(),
		"qty", trade.Quantity.String(), "entry", trade.EntryPrice.String())
	e.logger.Info("trade submitted",
		"trade", trade.ID, "symbol", trade.Symbol, "side", trade.Side,
		"order", trade.LegOrderID, "pair_order", trade.PairOrderID)
	return trade, nil
}

// reject persists a rejected row carrying the reason and returns the
// original error.
func (e *Engine) reject(ctx context.Context, trade *types.Trade, cause error) (*types.Trade, error) {
	trade.Status = types.TradeStatusRejected
	trade.RejectReason = cause.Error()
	if err := e.repo.CreateTrade(ctx, *trade); err != nil {
		e.logger.Error("persist rejected trade", "trade", trade.ID, "error", err)
	}
	if e.rec != nil {
		e.rec.RecordSignalRejected(rejectLabel(cause))
	}
	return trade, cause
}

// rejectLabel buckets a rejection cause into a bounded metric label.
func rejectLabel(cause error) string {
	switch {
	case errors.Is(cause, types.ErrSlotsExhausted):
		return "slots_exhausted"
	case errors.Is(cause, types.ErrDuplicatePosition):
		return "duplicate_position"
	case errors.Is(cause, types.ErrLowConfidence):
		return "low_confidence"
	case errors.Is(cause, types.ErrLowRiskReward):
		return "low_risk_reward"
	case errors.Is(cause, types.ErrMissingPrice):
		return "missing_price"
	case errors.Is(cause, types.ErrInvalidQuantity):
		return "invalid_quantity"
	default:
		return "other"
	}
}

// fail persists a failed row for a placement the exchange refused.
func (e *Engine) fail(ctx context.Context, trade *types.Trade, cause error) (*types.Trade, error) {
	trade.Status = types.TradeStatusFailed
	trade.RejectReason = cause.Error()
	if err := e.repo.CreateTrade(ctx, *trade); err != nil {
		e.logger.Error("persist failed trade", "trade", trade.ID, "error", err)
	}
	_ = e.alert.Alert(ctx, alerting.SeverityHigh, "order placement failed",
		"symbol", trade.Symbol, "side", trade.Side.String(), "error", cause.Error())
	return trade, fmt.Errorf("%w: %v", types.ErrOrderRejected, cause)
}

// tryEvict cancels the weakest resting entry to make room for a stronger
// signal. Filled positions are never evicted.
func (e *Engine) tryEvict(ctx context.Context, sig types.Signal) error {
	open, err := e.repo.GetOpenTrades(ctx, e.instanceID)
	if err != nil {
		return fmt.Errorf("load open trades: %w", err)
	}
	victim := pickEviction(open)
	if victim == nil {
		return errors.New("no evictable entry")
	}
	if !sig.Score.GreaterThan(victim.Score) {
		return fmt.Errorf("signal score %s does not beat resting entry %s", sig.Score, victim.Score)
	}

	if e.mode == slots.ModeLive && e.placer != nil {
		if victim.LegOrderID != "" {
			if err := e.placer.CancelOrder(ctx, victim.Symbol, victim.LegOrderID); err != nil {
				return fmt.Errorf("cancel entry order: %w", err)
			}
		}
		if victim.PairOrderID != "" {
			if err := e.placer.CancelOrder(ctx, victim.PairSymbol, victim.PairOrderID); err != nil {
				return fmt.Errorf("cancel pair entry order: %w", err)
			}
		}
	}
	if err := e.repo.UpdateTradeStatus(ctx, victim.ID, types.TradeStatusCancelled, "replaced by stronger signal"); err != nil {
		return fmt.Errorf("record eviction: %w", err)
	}
	e.logger.Info("resting entry evicted",
		"evicted", victim.ID, "symbol", victim.Symbol,
		"evicted_score", victim.Score, "incoming_score", sig.Score)
	return nil
}

// pickEviction selects the unfilled open trade with the lowest score,
// breaking ties by oldest creation time and then by id so the choice is
// deterministic.
func pickEviction(open []types.Trade) *types.Trade {
	var victim *types.Trade
	for i := range open {
		t := &open[i]
		if t.Status != types.TradeStatusSubmitted && t.Status != types.TradeStatusPaperTrade {
			continue
		}
		if victim == nil {
			victim = t
			continue
		}
		switch {
		case t.Score.LessThan(victim.Score):
			victim = t
		case t.Score.Equal(victim.Score) && t.CreatedAt.Before(victim.CreatedAt):
			victim = t
		case t.Score.Equal(victim.Score) && t.CreatedAt.Equal(victim.CreatedAt) && t.ID < victim.ID:
			victim = t
		}
	}
	return victim
}

// validateSignal applies the admission thresholds.
func validateSignal(sig types.Signal, cfg Config) error {
	if sig.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", types.ErrInvalidConfig)
	}
	if sig.Side != types.SideLong && sig.Side != types.SideShort {
		return fmt.Errorf("%w: side must be long or short", types.ErrInvalidConfig)
	}
	if sig.EntryPrice.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: entry price", types.ErrMissingPrice)
	}
	if sig.StopLoss.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: stop loss", types.ErrMissingPrice)
	}
	if sig.Quantity.IsNegative() && sig.Side == types.SideLong ||
		sig.Quantity.IsPositive() && sig.Side == types.SideShort {
		return fmt.Errorf("%w: quantity sign disagrees with side", types.ErrInvalidQuantity)
	}
	if !cfg.MinConfidence.IsZero() && sig.Confidence.LessThan(cfg.MinConfidence) {
		return fmt.Errorf("%w: %s < %s", types.ErrLowConfidence, sig.Confidence, cfg.MinConfidence)
	}
	if !cfg.MinRiskReward.IsZero() && !sig.TakeProfit.IsZero() {
		rr := riskReward(sig)
		if rr.LessThan(cfg.MinRiskReward) {
			return fmt.Errorf("%w: %s < %s", types.ErrLowRiskReward, rr.Round(2), cfg.MinRiskReward)
		}
	}
	return nil
}

// riskReward computes |target-entry| / |entry-stop|.
func riskReward(sig types.Signal) decimal.Decimal {
	risk := sig.EntryPrice.Sub(sig.StopLoss).Abs()
	if risk.IsZero() {
		return decimal.Zero
	}
	return sig.TakeProfit.Sub(sig.EntryPrice).Abs().Div(risk)
}

// pairSide derives the second leg's side from its signed quantity, defaulting
// to the opposite of the primary leg.
func pairSide(sig types.Signal) types.Side {
	if sig.PairSymbol == "" {
		return types.SideFlat
	}
	switch {
	case sig.PairQuantity.IsPositive():
		return types.SideLong
	case sig.PairQuantity.IsNegative():
		return types.SideShort
	default:
		return sig.Side.Opposite()
	}
}

// signedQty applies the side's sign to an absolute quantity.
func signedQty(side types.Side, qty decimal.Decimal) decimal.Decimal {
	if side == types.SideShort {
		return qty.Neg()
	}
	return qty
}
