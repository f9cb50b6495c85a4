package indicator

import (
	"github.com/shopspring/decimal"
)

// ATR calculates Average True Range with Wilder smoothing.
// True Range = max(high - low, |high - prevClose|, |low - prevClose|)
type ATR struct {
	period    int
	prevClose decimal.Decimal
	value     decimal.Decimal
	sum       decimal.Decimal
	count     int
}

// NewATR creates a new ATR calculator with the given period.
func NewATR(period int) *ATR {
	if period < 1 {
		period = 1
	}
	return &ATR{period: period}
}

// Update feeds one bar and returns the current ATR value.
// Returns zero until period bars have been seen.
func (a *ATR) Update(high, low, close decimal.Decimal) decimal.Decimal {
	tr := trueRange(high, low, a.prevClose, a.count == 0)
	a.prevClose = close
	a.count++

	switch {
	case a.count < a.period:
		// Seeding: accumulate the first period TRs.
		a.sum = a.sum.Add(tr)
		return decimal.Zero
	case a.count == a.period:
		a.sum = a.sum.Add(tr)
		a.value = a.sum.Div(decimal.NewFromInt(int64(a.period)))
	default:
		// Wilder: ATR = (prevATR*(period-1) + TR) / period
		n := decimal.NewFromInt(int64(a.period))
		a.value = a.value.Mul(n.Sub(decimal.NewFromInt(1))).Add(tr).Div(n)
	}

	return a.value
}

// Current returns the current ATR value without adding new data.
func (a *ATR) Current() decimal.Decimal {
	if a.count < a.period {
		return decimal.Zero
	}
	return a.value
}

// Ready returns true if enough data points have been collected.
func (a *ATR) Ready() bool {
	return a.count >= a.period
}

// Period returns the ATR period.
func (a *ATR) Period() int {
	return a.period
}

// Reset clears all data.
func (a *ATR) Reset() {
	a.prevClose = decimal.Zero
	a.value = decimal.Zero
	a.sum = decimal.Zero
	a.count = 0
}

// trueRange computes one bar's true range. The first bar has no previous
// close, so TR degrades to the bar range.
func trueRange(high, low, prevClose decimal.Decimal, first bool) decimal.Decimal {
	hl := high.Sub(low)
	if first {
		return hl
	}
	hpc := high.Sub(prevClose).Abs()
	lpc := low.Sub(prevClose).Abs()
	return maxDecimal(hl, maxDecimal(hpc, lpc))
}

// maxDecimal returns the maximum of two decimals.
func maxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
