// Package simulator replays historical bars through a trade's lifecycle to
// decide fill and exit without touching the network. It is the paper-trading
// counterpart of the recovery monitor.
package simulator

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/pairtrader/internal/strategy"
	"github.com/tathienbao/pairtrader/internal/types"
)

// Result describes the simulated lifecycle outcome. When Filled is false all
// other fields are zero and nothing should be persisted.
type Result struct {
	Filled    bool
	FillPrice decimal.Decimal
	FilledAt  time.Time

	Exited     bool
	ExitPrice  decimal.Decimal
	ExitReason string
	ClosedAt   time.Time

	PnL    decimal.Decimal
	PnLPct decimal.Decimal
}

// Simulate replays sorted bars against the trade. Bars older than the trade's
// creation time are discarded: a trade cannot fill on a bar that predates it.
// The input trade is never mutated; the caller applies the result to storage
// after the timestamp invariant has been re-validated.
func Simulate(trade *types.Trade, bars []types.Bar, exit strategy.ExitStrategy) (Result, error) {
	if err := checkSorted(bars); err != nil {
		return Result{}, err
	}

	start := firstBarAtOrAfter(bars, trade.CreatedAt)
	bars = bars[start:]

	fillIdx := -1
	for i, bar := range bars {
		if bar.Contains(trade.EntryPrice) {
			fillIdx = i
			break
		}
	}
	if fillIdx < 0 {
		return Result{}, nil // not yet filled, no partial state
	}

	fillBar := bars[fillIdx]
	result := Result{
		Filled:    true,
		FillPrice: trade.EntryPrice,
		FilledAt:  fillBar.Timestamp,
	}
	if err := checkLifecycle(trade, result); err != nil {
		return Result{}, err
	}

	// Exit scan starts after the fill bar: the fill bar's own range already
	// spent its touch on the entry.
	filled := *trade
	filled.FillPrice = result.FillPrice

	for _, bar := range bars[fillIdx+1:] {
		exitPrice, reason, ok := evaluateExit(&filled, bar, exit)
		if !ok {
			continue
		}

		result.Exited = true
		result.ExitPrice = exitPrice
		result.ExitReason = reason
		result.ClosedAt = bar.Timestamp
		result.PnL = pnl(trade.Side, result.FillPrice, exitPrice, trade.Quantity)
		result.PnLPct = pnlPct(result.PnL, result.FillPrice, trade.Quantity)

		if err := checkLifecycle(trade, result); err != nil {
			return Result{}, err
		}
		return result, nil
	}

	return result, nil // filled, still open
}

// evaluateExit applies the strategy if supplied, else fixed stop/target with
// the stop checked first.
func evaluateExit(trade *types.Trade, bar types.Bar, exit strategy.ExitStrategy) (decimal.Decimal, string, bool) {
	if exit != nil {
		decision := exit.ShouldExit(trade, bar, nil)
		if !decision.Exit {
			return decimal.Decimal{}, "", false
		}
		// Strategy exits fill at the signalling bar's close.
		return bar.Close, decision.Reason, true
	}

	switch trade.Side {
	case types.SideLong:
		if !trade.StopLoss.IsZero() && bar.Low.LessThanOrEqual(trade.StopLoss) {
			return trade.StopLoss, types.ExitReasonStopLoss, true
		}
		if !trade.TakeProfit.IsZero() && bar.High.GreaterThanOrEqual(trade.TakeProfit) {
			return trade.TakeProfit, types.ExitReasonTakeProfit, true
		}
	case types.SideShort:
		if !trade.StopLoss.IsZero() && bar.High.GreaterThanOrEqual(trade.StopLoss) {
			return trade.StopLoss, types.ExitReasonStopLoss, true
		}
		if !trade.TakeProfit.IsZero() && bar.Low.LessThanOrEqual(trade.TakeProfit) {
			return trade.TakeProfit, types.ExitReasonTakeProfit, true
		}
	}
	return decimal.Decimal{}, "", false
}

// pnl computes (exit-fill)*qty for longs and (fill-exit)*qty for shorts.
func pnl(side types.Side, fill, exit, qty decimal.Decimal) decimal.Decimal {
	if side == types.SideShort {
		return fill.Sub(exit).Mul(qty)
	}
	return exit.Sub(fill).Mul(qty)
}

// pnlPct normalizes P&L by the filled notional, in percent.
func pnlPct(pnl, fill, qty decimal.Decimal) decimal.Decimal {
	notional := fill.Mul(qty)
	if notional.IsZero() {
		return decimal.Zero
	}
	return pnl.Div(notional).Mul(decimal.NewFromInt(100))
}

// checkLifecycle validates the produced timestamps against the trade
// invariant before the caller may apply them to storage.
func checkLifecycle(trade *types.Trade, result Result) error {
	next := *trade
	next.Status = types.TradeStatusFilled
	next.FillPrice = result.FillPrice
	filledAt := result.FilledAt
	next.FilledAt = &filledAt
	if result.Exited {
		next.Status = types.TradeStatusClosed
		closedAt := result.ClosedAt
		next.ClosedAt = &closedAt
	}
	if err := next.ValidateTimestamps(); err != nil {
		return fmt.Errorf("simulated transition for %s: %w", trade.ID, err)
	}
	return nil
}

func checkSorted(bars []types.Bar) error {
	for i := 1; i < len(bars); i++ {
		if bars[i].Timestamp.Before(bars[i-1].Timestamp) {
			return fmt.Errorf("%w: index %d", types.ErrUnsortedBars, i)
		}
	}
	return nil
}

// firstBarAtOrAfter returns the index of the first bar not older than t.
func firstBarAtOrAfter(bars []types.Bar, t time.Time) int {
	for i, bar := range bars {
		if !bar.Timestamp.Before(t) {
			return i
		}
	}
	return len(bars)
}
