package sizing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/pairtrader/internal/types"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSizer_Size(t *testing.T) {
	sizer, err := New(Config{
		RiskPerTradePct: d("0.01"),
		QtyStep:         d("0.001"),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		name    string
		equity  string
		entry   string
		stop    string
		wantQty string
	}{
		{
			name:    "whole quantity",
			equity:  "100000",
			entry:   "45000",
			stop:    "44000", // $1000 risk per unit, $1000 capital at risk
			wantQty: "1",
		},
		{
			name:    "fractional quantity floored to step",
			equity:  "50000",
			entry:   "45000",
			stop:    "43500", // 500 / 1500 = 0.3333...
			wantQty: "0.333",
		},
		{
			name:    "short side uses absolute distance",
			equity:  "100000",
			entry:   "2500",
			stop:    "2600", // 1000 / 100 = 10
			wantQty: "10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := sizer.Size(d(tt.equity), d(tt.entry), d(tt.stop))
			if !res.Valid {
				t.Fatalf("Size() rejected: %s", res.RejectReason)
			}
			if !res.Quantity.Equal(d(tt.wantQty)) {
				t.Errorf("Size() quantity = %s, want %s", res.Quantity, tt.wantQty)
			}
		})
	}
}

func TestSizer_Idempotent(t *testing.T) {
	sizer, _ := New(Config{RiskPerTradePct: d("0.02")})

	first := sizer.Size(d("75000"), d("45000"), d("44250"))
	second := sizer.Size(d("75000"), d("45000"), d("44250"))

	if !first.Quantity.Equal(second.Quantity) {
		t.Errorf("sizing is not idempotent: %s vs %s", first.Quantity, second.Quantity)
	}
	if !first.RiskAmount.Equal(second.RiskAmount) {
		t.Errorf("risk amount differs: %s vs %s", first.RiskAmount, second.RiskAmount)
	}
}

func TestSizer_Rejections(t *testing.T) {
	sizer, _ := New(Config{RiskPerTradePct: d("0.01"), MinQty: d("0.01")})

	if res := sizer.Size(d("0"), d("45000"), d("44000")); res.Valid {
		t.Error("zero equity must be rejected")
	}
	if res := sizer.Size(d("100000"), d("45000"), d("45000")); res.Valid {
		t.Error("zero stop distance must be rejected")
	}
	if res := sizer.Size(d("10"), d("45000"), d("44000")); res.Valid {
		t.Error("quantity below minimum must be rejected")
	}
}

func TestSizer_NotionalCap(t *testing.T) {
	sizer, _ := New(Config{
		RiskPerTradePct: d("0.05"),
		MaxNotional:     d("45000"),
		QtyStep:         d("0.001"),
	})

	// Uncapped would be 100000*0.05/1000 = 5; cap is 45000/45000 = 1.
	res := sizer.Size(d("100000"), d("45000"), d("44000"))
	if !res.Valid {
		t.Fatalf("Size() rejected: %s", res.RejectReason)
	}
	if !res.Quantity.Equal(d("1")) {
		t.Errorf("capped quantity = %s, want 1", res.Quantity)
	}
}

func TestNew_InvalidRisk(t *testing.T) {
	if _, err := New(Config{RiskPerTradePct: d("0.5")}); !errors.Is(err, types.ErrInvalidConfig) {
		t.Errorf("New(50%% risk) = %v, want %v", err, types.ErrInvalidConfig)
	}
	if _, err := New(Config{}); !errors.Is(err, types.ErrInvalidConfig) {
		t.Errorf("New(zero risk) = %v, want %v", err, types.ErrInvalidConfig)
	}
}
