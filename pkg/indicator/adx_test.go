package indicator

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestADX_ReadyAfterTwoPeriods(t *testing.T) {
	adx := NewADX(2)

	highs := []string{"10", "11", "12", "13", "14"}
	lows := []string{"9", "10", "11", "12", "13"}
	closes := []string{"9.5", "10.5", "11.5", "12.5", "13.5"}

	for i := 0; i < 4; i++ {
		adx.Update(d(highs[i]), d(lows[i]), d(closes[i]))
		if i < 3 && adx.Ready() {
			t.Fatalf("ADX ready after %d bars, want not ready before 2*period+1", i+1)
		}
	}

	// Bar 5 is the first past the 2*period seed window.
	adx.Update(d(highs[4]), d(lows[4]), d(closes[4]))
	if !adx.Ready() {
		t.Fatal("ADX must be ready after 2*period+1 bars")
	}
}

func TestADX_PureUptrendIsMaximal(t *testing.T) {
	adx := NewADX(2)

	// Each bar shifts the whole range up by 1: -DM is always zero, so
	// DX is 100 on every bar and the smoothed ADX stays at 100.
	high, low, close := d("10"), d("9"), d("9.5")
	one := decimal.NewFromInt(1)
	var got decimal.Decimal
	for i := 0; i < 8; i++ {
		got = adx.Update(high, low, close)
		high = high.Add(one)
		low = low.Add(one)
		close = close.Add(one)
	}

	if !got.Equal(decimal.NewFromInt(100)) {
		t.Errorf("ADX in pure uptrend = %s, want 100", got)
	}
}

func TestADX_FlatMarketIsZero(t *testing.T) {
	adx := NewADX(2)

	for i := 0; i < 8; i++ {
		adx.Update(d("10"), d("9"), d("9.5"))
	}

	if !adx.Current().IsZero() {
		t.Errorf("ADX in flat market = %s, want 0", adx.Current())
	}
}

func TestADX_BoundedRange(t *testing.T) {
	adx := NewADX(3)

	// Alternating up and down bars: directional movement is mixed, so the
	// value must sit strictly inside the 0-100 band.
	bars := []struct{ h, l, c string }{
		{"10", "9", "9.5"},
		{"11", "10", "10.5"},
		{"10.5", "9.2", "9.5"},
		{"11.2", "10.1", "11"},
		{"10.8", "9.4", "9.8"},
		{"11.5", "10.3", "11.2"},
		{"11", "9.6", "10"},
		{"12", "10.8", "11.8"},
		{"11.4", "10", "10.4"},
	}

	for _, b := range bars {
		adx.Update(d(b.h), d(b.l), d(b.c))
	}

	cur := adx.Current()
	if cur.LessThan(decimal.Zero) || cur.GreaterThan(decimal.NewFromInt(100)) {
		t.Errorf("ADX = %s, want within [0, 100]", cur)
	}
	if cur.IsZero() {
		t.Error("mixed-direction series should produce a nonzero ADX")
	}
}

func TestADX_Reset(t *testing.T) {
	adx := NewADX(2)
	for i := 0; i < 6; i++ {
		adx.Update(d("10"), d("8"), d("9"))
	}

	adx.Reset()

	if adx.Ready() {
		t.Error("ADX must not be ready after reset")
	}
	if !adx.Current().IsZero() {
		t.Errorf("Current() after reset = %s, want 0", adx.Current())
	}
	if adx.Period() != 2 {
		t.Errorf("Period() after reset = %d, want 2", adx.Period())
	}
}
