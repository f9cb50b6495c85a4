package indicator

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestATR_WilderSmoothing(t *testing.T) {
	atr := NewATR(3)

	// First bar has no previous close, so TR is the bar range.
	if got := atr.Update(d("10"), d("8"), d("9")); !got.IsZero() {
		t.Errorf("ATR after 1 bar = %s, want 0", got)
	}
	if atr.Ready() {
		t.Error("ATR must not be ready before period bars")
	}

	atr.Update(d("11"), d("9"), d("10"))

	// Third bar completes the seed: ATR = (2+2+2)/3 = 2.
	got := atr.Update(d("12"), d("10"), d("11"))
	if !atr.Ready() {
		t.Fatal("ATR must be ready after period bars")
	}
	if !got.Equal(d("2")) {
		t.Errorf("seeded ATR = %s, want 2", got)
	}

	// Fourth bar TR = max(14-10, |14-11|, |10-11|) = 4.
	// Wilder: (2*2 + 4) / 3.
	got = atr.Update(d("14"), d("10"), d("12"))
	want := d("8").Div(d("3"))
	if !got.Equal(want) {
		t.Errorf("smoothed ATR = %s, want %s", got, want)
	}
	if !atr.Current().Equal(want) {
		t.Errorf("Current() = %s, want %s", atr.Current(), want)
	}
}

func TestATR_GapUsesPrevClose(t *testing.T) {
	atr := NewATR(1)

	atr.Update(d("100"), d("90"), d("95"))

	// Gap up: bar range is 5 but the gap from prev close is 15.
	got := atr.Update(d("110"), d("105"), d("108"))
	if !got.Equal(d("15")) {
		t.Errorf("ATR across gap = %s, want 15", got)
	}
}

func TestATR_Reset(t *testing.T) {
	atr := NewATR(2)
	atr.Update(d("10"), d("8"), d("9"))
	atr.Update(d("11"), d("9"), d("10"))

	atr.Reset()

	if atr.Ready() {
		t.Error("ATR must not be ready after reset")
	}
	if !atr.Current().IsZero() {
		t.Errorf("Current() after reset = %s, want 0", atr.Current())
	}
	if atr.Period() != 2 {
		t.Errorf("Period() after reset = %d, want 2", atr.Period())
	}
}
