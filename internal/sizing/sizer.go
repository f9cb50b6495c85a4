// Package sizing turns signal risk parameters into order quantities.
package sizing

import (
	"github.com/shopspring/decimal"
	"github.com/tathienbao/pairtrader/internal/types"
)

// Sizer calculates position size from equity and stop distance. Sizing is a
// pure function of its inputs: the same signal against the same equity
// always produces the same quantity.
type Sizer struct {
	riskPerTradePct decimal.Decimal
	maxNotional     decimal.Decimal // zero disables the cap
	qtyStep         decimal.Decimal
	minQty          decimal.Decimal
}

// Config holds sizing parameters.
type Config struct {
	RiskPerTradePct decimal.Decimal
	MaxNotional     decimal.Decimal
	QtyStep         decimal.Decimal
	MinQty          decimal.Decimal
}

// Result contains the sizing outcome for one leg.
type Result struct {
	Quantity     decimal.Decimal
	RiskAmount   decimal.Decimal // dollar risk at the stop
	Valid        bool
	RejectReason string
}

// New creates a sizer. Risk per trade is a fraction (0.01 = 1%).
func New(cfg Config) (*Sizer, error) {
	if cfg.RiskPerTradePct.LessThanOrEqual(decimal.Zero) ||
		cfg.RiskPerTradePct.GreaterThan(decimal.RequireFromString("0.1")) {
		return nil, types.ErrInvalidConfig
	}
	if cfg.QtyStep.LessThanOrEqual(decimal.Zero) {
		cfg.QtyStep = decimal.RequireFromString("0.001")
	}
	return &Sizer{
		riskPerTradePct: cfg.RiskPerTradePct,
		maxNotional:     cfg.MaxNotional,
		qtyStep:         cfg.QtyStep,
		minQty:          cfg.MinQty,
	}, nil
}

// Size computes the quantity for one leg.
//
// Formula:
//
//	capital_at_risk = equity * riskPerTradePct
//	stop_distance = |entry - stop|
//	quantity = floor_to_step(capital_at_risk / stop_distance)
//
// capped so quantity*entry never exceeds maxNotional.
func (s *Sizer) Size(equity, entryPrice, stopLoss decimal.Decimal) Result {
	if equity.LessThanOrEqual(decimal.Zero) {
		return Result{RejectReason: "equity must be positive"}
	}
	if entryPrice.LessThanOrEqual(decimal.Zero) {
		return Result{RejectReason: "entry price must be positive"}
	}
	stopDistance := entryPrice.Sub(stopLoss).Abs()
	if stopDistance.IsZero() {
		return Result{RejectReason: "stop distance must be positive"}
	}

	capitalAtRisk := equity.Mul(s.riskPerTradePct)
	qty := capitalAtRisk.Div(stopDistance)

	if !s.maxNotional.IsZero() {
		capQty := s.maxNotional.Div(entryPrice)
		if qty.GreaterThan(capQty) {
			qty = capQty
		}
	}

	qty = floorToStep(qty, s.qtyStep)
	if qty.LessThanOrEqual(decimal.Zero) || qty.LessThan(s.minQty) {
		return Result{RejectReason: "quantity below minimum"}
	}

	return Result{
		Quantity:   qty,
		RiskAmount: qty.Mul(stopDistance),
		Valid:      true,
	}
}

// floorToStep rounds qty down to a multiple of step.
func floorToStep(qty, step decimal.Decimal) decimal.Decimal {
	return qty.Div(step).Floor().Mul(step)
}
