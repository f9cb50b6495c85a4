package indicator

import (
	"github.com/shopspring/decimal"
)

// ADX calculates the Average Directional Index with Wilder smoothing.
// Values range 0-100; readings below ~20 indicate a weak or absent trend.
type ADX struct {
	period int

	prevHigh  decimal.Decimal
	prevLow   decimal.Decimal
	prevClose decimal.Decimal

	smTR      decimal.Decimal
	smPlusDM  decimal.Decimal
	smMinusDM decimal.Decimal

	adx   decimal.Decimal
	dxSum decimal.Decimal
	count int
}

// NewADX creates a new ADX calculator with the given period.
func NewADX(period int) *ADX {
	if period < 1 {
		period = 1
	}
	return &ADX{period: period}
}

// Update feeds one bar and returns the current ADX value.
// Returns zero until 2*period bars have been seen.
func (a *ADX) Update(high, low, close decimal.Decimal) decimal.Decimal {
	defer func() {
		a.prevHigh = high
		a.prevLow = low
		a.prevClose = close
		a.count++
	}()

	if a.count == 0 {
		return decimal.Zero
	}

	upMove := high.Sub(a.prevHigh)
	downMove := a.prevLow.Sub(low)

	plusDM := decimal.Zero
	minusDM := decimal.Zero
	if upMove.GreaterThan(downMove) && upMove.IsPositive() {
		plusDM = upMove
	}
	if downMove.GreaterThan(upMove) && downMove.IsPositive() {
		minusDM = downMove
	}
	tr := trueRange(high, low, a.prevClose, false)

	n := decimal.NewFromInt(int64(a.period))
	if a.count <= a.period {
		// Seeding: plain sums for the first period bars.
		a.smTR = a.smTR.Add(tr)
		a.smPlusDM = a.smPlusDM.Add(plusDM)
		a.smMinusDM = a.smMinusDM.Add(minusDM)
		if a.count < a.period {
			return decimal.Zero
		}
	} else {
		// Wilder: smoothed = prev - prev/period + current
		a.smTR = a.smTR.Sub(a.smTR.Div(n)).Add(tr)
		a.smPlusDM = a.smPlusDM.Sub(a.smPlusDM.Div(n)).Add(plusDM)
		a.smMinusDM = a.smMinusDM.Sub(a.smMinusDM.Div(n)).Add(minusDM)
	}

	dx := a.directionalIndex()

	switch {
	case a.count < 2*a.period:
		a.dxSum = a.dxSum.Add(dx)
		return decimal.Zero
	case a.count == 2*a.period:
		// DX values accumulate from count==period through here, period+1 of
		// them, so the seed average divides by period+1.
		a.dxSum = a.dxSum.Add(dx)
		a.adx = a.dxSum.Div(n.Add(decimal.NewFromInt(1)))
	default:
		a.adx = a.adx.Mul(n.Sub(decimal.NewFromInt(1))).Add(dx).Div(n)
	}

	return a.adx
}

// directionalIndex computes DX = 100 * |+DI - -DI| / (+DI + -DI) from the
// current smoothed sums.
func (a *ADX) directionalIndex() decimal.Decimal {
	if a.smTR.IsZero() {
		return decimal.Zero
	}
	hundred := decimal.NewFromInt(100)
	plusDI := a.smPlusDM.Div(a.smTR).Mul(hundred)
	minusDI := a.smMinusDM.Div(a.smTR).Mul(hundred)

	sum := plusDI.Add(minusDI)
	if sum.IsZero() {
		return decimal.Zero
	}
	return plusDI.Sub(minusDI).Abs().Div(sum).Mul(hundred)
}

// Current returns the current ADX value without adding new data.
func (a *ADX) Current() decimal.Decimal {
	if a.count <= 2*a.period {
		return decimal.Zero
	}
	return a.adx
}

// Ready returns true if enough data points have been collected.
func (a *ADX) Ready() bool {
	return a.count > 2*a.period
}

// Period returns the ADX period.
func (a *ADX) Period() int {
	return a.period
}

// Reset clears all data.
func (a *ADX) Reset() {
	*a = ADX{period: a.period}
}
