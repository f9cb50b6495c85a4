// Package strategy defines the exit-strategy contract the monitor and
// simulator consult. Entry/alpha logic lives outside this core; only the
// "should this open trade exit" question crosses the boundary.
package strategy

import (
	"github.com/shopspring/decimal"
	"github.com/tathienbao/pairtrader/internal/types"
)

// ExitDecision is the structured answer to ShouldExit. StopLevel/TargetLevel
// are optional updated levels (e.g. a trailing stop) the caller reconciles
// against the exchange; zero means no update.
type ExitDecision struct {
	Exit        bool
	Reason      string
	StopLevel   decimal.Decimal
	TargetLevel decimal.Decimal
	Meta        map[string]string
}

// ExitStrategy is the plugin contract for open-trade exit evaluation.
// pairBar is non-nil only for spread trades.
type ExitStrategy interface {
	// ShouldExit evaluates one open trade against the latest bar.
	ShouldExit(trade *types.Trade, bar types.Bar, pairBar *types.Bar) ExitDecision

	// Name returns the strategy identifier.
	Name() string
}

// StopTarget exits when the bar touches the trade's stop-loss or take-profit.
// Stop-loss is checked first when both are touched in the same bar.
type StopTarget struct{}

// NewStopTarget creates the fixed stop/target exit strategy.
func NewStopTarget() *StopTarget {
	return &StopTarget{}
}

// Name returns the strategy identifier.
func (s *StopTarget) Name() string {
	return "stop_target"
}

// ShouldExit checks stop then target against the bar range.
func (s *StopTarget) ShouldExit(trade *types.Trade, bar types.Bar, _ *types.Bar) ExitDecision {
	switch trade.Side {
	case types.SideLong:
		if !trade.StopLoss.IsZero() && bar.Low.LessThanOrEqual(trade.StopLoss) {
			return ExitDecision{Exit: true, Reason: types.ExitReasonStopLoss}
		}
		if !trade.TakeProfit.IsZero() && bar.High.GreaterThanOrEqual(trade.TakeProfit) {
			return ExitDecision{Exit: true, Reason: types.ExitReasonTakeProfit}
		}
	case types.SideShort:
		if !trade.StopLoss.IsZero() && bar.High.GreaterThanOrEqual(trade.StopLoss) {
			return ExitDecision{Exit: true, Reason: types.ExitReasonStopLoss}
		}
		if !trade.TakeProfit.IsZero() && bar.Low.LessThanOrEqual(trade.TakeProfit) {
			return ExitDecision{Exit: true, Reason: types.ExitReasonTakeProfit}
		}
	}
	return ExitDecision{}
}

// TrailingStop ratchets the stop behind the close by a fixed distance and
// exits when the bar touches the trailed stop. The stop only tightens.
type TrailingStop struct {
	distance decimal.Decimal
	stops    map[string]decimal.Decimal
}

// NewTrailingStop creates a trailing-stop exit strategy with the given
// trail distance in price units.
func NewTrailingStop(distance decimal.Decimal) *TrailingStop {
	return &TrailingStop{
		distance: distance,
		stops:    make(map[string]decimal.Decimal),
	}
}

// Name returns the strategy identifier.
func (s *TrailingStop) Name() string {
	return "trailing_stop"
}

// ShouldExit trails the stop and signals exit when it is touched.
func (s *TrailingStop) ShouldExit(trade *types.Trade, bar types.Bar, _ *types.Bar) ExitDecision {
	stop, ok := s.stops[trade.ID]
	if !ok {
		stop = trade.StopLoss
	}

	switch trade.Side {
	case types.SideLong:
		trailed := bar.Close.Sub(s.distance)
		if trailed.GreaterThan(stop) {
			stop = trailed
		}
		s.stops[trade.ID] = stop
		if !stop.IsZero() && bar.Low.LessThanOrEqual(stop) {
			delete(s.stops, trade.ID)
			return ExitDecision{Exit: true, Reason: types.ExitReasonStopLoss, StopLevel: stop}
		}
	case types.SideShort:
		trailed := bar.Close.Add(s.distance)
		if stop.IsZero() || trailed.LessThan(stop) {
			stop = trailed
		}
		s.stops[trade.ID] = stop
		if bar.High.GreaterThanOrEqual(stop) {
			delete(s.stops, trade.ID)
			return ExitDecision{Exit: true, Reason: types.ExitReasonStopLoss, StopLevel: stop}
		}
	}

	return ExitDecision{StopLevel: stop}
}
