package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/pairtrader/internal/types"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func bar(low, high, close string) types.Bar {
	return types.Bar{
		Symbol: "BTCUSDT",
		Open:   d(close),
		High:   d(high),
		Low:    d(low),
		Close:  d(close),
	}
}

func openTrade(side types.Side, stop, target string) *types.Trade {
	return &types.Trade{
		ID:         "t-1",
		Symbol:     "BTCUSDT",
		Side:       side,
		EntryPrice: d("45000"),
		StopLoss:   d(stop),
		TakeProfit: d(target),
		Quantity:   d("1"),
		Status:     types.TradeStatusFilled,
	}
}

func TestStopTarget_ShouldExit(t *testing.T) {
	tests := []struct {
		name       string
		side       types.Side
		bar        types.Bar
		wantExit   bool
		wantReason string
	}{
		{
			name:     "long untouched",
			side:     types.SideLong,
			bar:      bar("44500", "45500", "45000"),
			wantExit: false,
		},
		{
			name:       "long stop touched",
			side:       types.SideLong,
			bar:        bar("43900", "45200", "44100"),
			wantExit:   true,
			wantReason: types.ExitReasonStopLoss,
		},
		{
			name:       "long target touched",
			side:       types.SideLong,
			bar:        bar("45500", "47100", "47000"),
			wantExit:   true,
			wantReason: types.ExitReasonTakeProfit,
		},
		{
			name:       "long both touched prefers stop",
			side:       types.SideLong,
			bar:        bar("43000", "48000", "45000"),
			wantExit:   true,
			wantReason: types.ExitReasonStopLoss,
		},
		{
			name:       "short stop touched on the high",
			side:       types.SideShort,
			bar:        bar("45500", "46100", "45800"),
			wantExit:   true,
			wantReason: types.ExitReasonStopLoss,
		},
		{
			name:       "short target touched on the low",
			side:       types.SideShort,
			bar:        bar("42900", "44500", "43200"),
			wantExit:   true,
			wantReason: types.ExitReasonTakeProfit,
		},
	}

	strat := NewStopTarget()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trade := openTrade(tt.side, "44000", "47000")
			if tt.side == types.SideShort {
				trade.StopLoss = d("46000")
				trade.TakeProfit = d("43000")
			}

			got := strat.ShouldExit(trade, tt.bar, nil)
			if got.Exit != tt.wantExit {
				t.Fatalf("Exit = %v, want %v", got.Exit, tt.wantExit)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.wantReason)
			}
		})
	}
}

func TestStopTarget_ZeroLevelsNeverExit(t *testing.T) {
	strat := NewStopTarget()
	trade := openTrade(types.SideLong, "0", "0")

	got := strat.ShouldExit(trade, bar("0", "100000", "45000"), nil)
	if got.Exit {
		t.Error("trade without stop or target must not exit")
	}
}

func TestTrailingStop_RatchetsLong(t *testing.T) {
	strat := NewTrailingStop(d("500"))
	trade := openTrade(types.SideLong, "44000", "0")

	// Close at 45200: trailed stop 44700 beats the initial 44000.
	dec := strat.ShouldExit(trade, bar("44900", "45300", "45200"), nil)
	if dec.Exit {
		t.Fatal("unexpected exit on first bar")
	}
	if !dec.StopLevel.Equal(d("44700")) {
		t.Errorf("stop after bar 1 = %s, want 44700", dec.StopLevel)
	}

	// Close drops to 44800: trailed candidate 44300 must NOT loosen the stop.
	dec = strat.ShouldExit(trade, bar("44750", "45250", "44800"), nil)
	if dec.Exit {
		t.Fatal("unexpected exit on second bar")
	}
	if !dec.StopLevel.Equal(d("44700")) {
		t.Errorf("stop after bar 2 = %s, want unchanged 44700", dec.StopLevel)
	}

	// Low pierces the trailed stop.
	dec = strat.ShouldExit(trade, bar("44600", "45000", "44650"), nil)
	if !dec.Exit {
		t.Fatal("expected exit when low touches trailed stop")
	}
	if dec.Reason != types.ExitReasonStopLoss {
		t.Errorf("Reason = %q, want %q", dec.Reason, types.ExitReasonStopLoss)
	}
}

func TestTrailingStop_RatchetsShort(t *testing.T) {
	strat := NewTrailingStop(d("100"))
	trade := openTrade(types.SideShort, "46000", "0")

	// Close at 44500: trailed stop 44600 tightens from 46000.
	dec := strat.ShouldExit(trade, bar("44400", "44580", "44500"), nil)
	if dec.Exit {
		t.Fatal("unexpected exit on first bar")
	}
	if !dec.StopLevel.Equal(d("44600")) {
		t.Errorf("stop after bar 1 = %s, want 44600", dec.StopLevel)
	}

	// Close rises to 44550: candidate 44650 must not loosen.
	dec = strat.ShouldExit(trade, bar("44450", "44580", "44550"), nil)
	if !dec.StopLevel.Equal(d("44600")) {
		t.Errorf("stop after bar 2 = %s, want unchanged 44600", dec.StopLevel)
	}
	if dec.Exit {
		t.Fatal("unexpected exit on second bar")
	}

	// High reaches the trailed stop.
	dec = strat.ShouldExit(trade, bar("44300", "44600", "44400"), nil)
	if !dec.Exit {
		t.Fatal("expected exit when high touches trailed stop")
	}
}

func TestTrailingStop_TracksTradesIndependently(t *testing.T) {
	strat := NewTrailingStop(d("500"))

	a := openTrade(types.SideLong, "44000", "0")
	b := openTrade(types.SideLong, "43000", "0")
	b.ID = "t-2"

	strat.ShouldExit(a, bar("45400", "45600", "45500"), nil) // a trails to 45000
	dec := strat.ShouldExit(b, bar("43800", "44200", "44000"), nil)
	if !dec.StopLevel.Equal(d("43500")) {
		t.Errorf("trade b stop = %s, want 43500 (untainted by trade a)", dec.StopLevel)
	}
}
