package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/pairtrader/internal/exchange"
	"github.com/tathienbao/pairtrader/internal/types"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeAPI scripts per-symbol placement outcomes and records calls.
type fakeAPI struct {
	placed    []exchange.PlaceOrderRequest
	cancelled []string
	failOn    map[string]error // symbol -> placement error
	cancelErr error
	nextID    int
}

func (f *fakeAPI) PlaceOrder(_ context.Context, req exchange.PlaceOrderRequest) (exchange.PlaceOrderResult, error) {
	if err, ok := f.failOn[req.Symbol]; ok {
		return exchange.PlaceOrderResult{}, err
	}
	f.placed = append(f.placed, req)
	f.nextID++
	return exchange.PlaceOrderResult{OrderID: req.Symbol + "-order"}, nil
}

func (f *fakeAPI) CancelOrder(_ context.Context, symbol, orderID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeAPI) SetTradingStop(context.Context, string, decimal.Decimal, decimal.Decimal) error {
	return nil
}

func (f *fakeAPI) GetPositions(context.Context) ([]types.Position, error) {
	return nil, nil
}

func (f *fakeAPI) GetOpenOrders(context.Context, string) ([]types.Order, error) {
	return nil, nil
}

func TestPlaceOrder_MarketWhenPriceZero(t *testing.T) {
	api := &fakeAPI{}
	g := New(api, nil)

	_, err := g.PlaceOrder(context.Background(), OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     types.SideLong,
		Quantity: d("1"),
	})
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	if api.placed[0].Type != types.OrderTypeMarket {
		t.Errorf("order type = %s, want Market", api.placed[0].Type)
	}

	_, err = g.PlaceOrder(context.Background(), OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     types.SideLong,
		Quantity: d("1"),
		Price:    d("45000"),
	})
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	if api.placed[1].Type != types.OrderTypeLimit {
		t.Errorf("order type = %s, want Limit", api.placed[1].Type)
	}
}

func TestPlaceOrder_RejectsNonPositiveQuantity(t *testing.T) {
	g := New(&fakeAPI{}, nil)

	_, err := g.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "BTCUSDT",
		Side:   types.SideLong,
	})
	if !errors.Is(err, types.ErrInvalidQuantity) {
		t.Errorf("PlaceOrder(zero qty) = %v, want %v", err, types.ErrInvalidQuantity)
	}
}

func TestPlaceSpreadOrders_SignedQuantities(t *testing.T) {
	api := &fakeAPI{}
	g := New(api, nil)

	res, err := g.PlaceSpreadOrders(context.Background(),
		SpreadLeg{Symbol: "BTCUSDT", Quantity: d("0.5"), Price: d("45000")},
		SpreadLeg{Symbol: "ETHUSDT", Quantity: d("-2")},
	)
	if err != nil {
		t.Fatalf("PlaceSpreadOrders() error = %v", err)
	}
	if res.LegXOrderID != "BTCUSDT-order" || res.LegYOrderID != "ETHUSDT-order" {
		t.Errorf("unexpected order ids: %+v", res)
	}

	if api.placed[0].Side != types.SideLong || !api.placed[0].Quantity.Equal(d("0.5")) {
		t.Errorf("leg X = %s %s, want LONG 0.5", api.placed[0].Side, api.placed[0].Quantity)
	}
	if api.placed[1].Side != types.SideShort || !api.placed[1].Quantity.Equal(d("2")) {
		t.Errorf("leg Y = %s %s, want SHORT 2", api.placed[1].Side, api.placed[1].Quantity)
	}
}

func TestPlaceSpreadOrders_RollsBackLegXOnLegYFailure(t *testing.T) {
	api := &fakeAPI{failOn: map[string]error{
		"ETHUSDT": &exchange.APIError{Code: 110007, Message: "insufficient balance"},
	}}
	g := New(api, nil)

	_, err := g.PlaceSpreadOrders(context.Background(),
		SpreadLeg{Symbol: "BTCUSDT", Quantity: d("0.5")},
		SpreadLeg{Symbol: "ETHUSDT", Quantity: d("-2")},
	)
	if err == nil {
		t.Fatal("expected error when leg Y fails")
	}

	if len(api.cancelled) != 1 || api.cancelled[0] != "BTCUSDT-order" {
		t.Errorf("cancelled = %v, want exactly leg X's order", api.cancelled)
	}
}

func TestPlaceSpreadOrders_ReportsFailedRollback(t *testing.T) {
	api := &fakeAPI{
		failOn:    map[string]error{"ETHUSDT": errors.New("rejected")},
		cancelErr: errors.New("exchange down"),
	}
	g := New(api, nil)

	_, err := g.PlaceSpreadOrders(context.Background(),
		SpreadLeg{Symbol: "BTCUSDT", Quantity: d("1")},
		SpreadLeg{Symbol: "ETHUSDT", Quantity: d("-1")},
	)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "rollback") {
		t.Errorf("error %q should mention the failed rollback", err)
	}
}

func TestClosePositionMarket_ReduceOnlyOpposite(t *testing.T) {
	api := &fakeAPI{}
	g := New(api, nil)

	_, err := g.ClosePositionMarket(context.Background(), "BTCUSDT", types.SideLong, d("1"))
	if err != nil {
		t.Fatalf("ClosePositionMarket() error = %v", err)
	}

	req := api.placed[0]
	if req.Side != types.SideShort {
		t.Errorf("close side = %s, want SHORT", req.Side)
	}
	if !req.ReduceOnly {
		t.Error("close order must be reduce-only")
	}
	if req.Type != types.OrderTypeMarket {
		t.Errorf("close type = %s, want Market", req.Type)
	}
}
