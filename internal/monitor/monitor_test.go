package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/pairtrader/internal/persistence"
	"github.com/tathienbao/pairtrader/internal/statecache"
	"github.com/tathienbao/pairtrader/internal/strategy"
	"github.com/tathienbao/pairtrader/internal/types"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeGateway records recovery and amend calls.
type fakeGateway struct {
	closes   []string // symbols
	closeQty []decimal.Decimal
	cancels  []string // order ids
	amends   []string // symbols
	closeErr error
}

func (f *fakeGateway) ClosePositionMarket(_ context.Context, symbol string, _ types.Side, qty decimal.Decimal) (string, error) {
	if f.closeErr != nil {
		return "", f.closeErr
	}
	f.closes = append(f.closes, symbol)
	f.closeQty = append(f.closeQty, qty)
	return symbol + "-close", nil
}

func (f *fakeGateway) CancelOrder(_ context.Context, _, orderID string) error {
	f.cancels = append(f.cancels, orderID)
	return nil
}

func (f *fakeGateway) AmendStops(_ context.Context, symbol string, _, _ decimal.Decimal) error {
	f.amends = append(f.amends, symbol)
	return nil
}

// fakeRepo serves open trades and records lifecycle writes.
type fakeRepo struct {
	persistence.Repository

	open        []types.Trade
	closed      []string
	statusNotes map[string]string
	stopsSet    []string
	execs       []types.Execution
	filled      map[string]decimal.Decimal
	legFills    map[string]legFillPrices
}

type legFillPrices struct {
	leg, pair decimal.Decimal
}

func (f *fakeRepo) GetOpenTrades(context.Context, string) ([]types.Trade, error) {
	out := make([]types.Trade, len(f.open))
	copy(out, f.open)
	return out, nil
}

func (f *fakeRepo) CloseTrade(_ context.Context, id string, _ decimal.Decimal, _ string, _ time.Time, _ decimal.Decimal) error {
	f.closed = append(f.closed, id)
	return nil
}

func (f *fakeRepo) UpdateTradeStatus(_ context.Context, id string, status types.TradeStatus, reason string) error {
	if f.statusNotes == nil {
		f.statusNotes = make(map[string]string)
	}
	f.statusNotes[id] = string(status) + ":" + reason
	for i := range f.open {
		if f.open[i].ID == id {
			f.open = append(f.open[:i], f.open[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeRepo) UpdateTradeStops(_ context.Context, id string, stopLoss, takeProfit decimal.Decimal) error {
	f.stopsSet = append(f.stopsSet, id)
	for i := range f.open {
		if f.open[i].ID == id {
			f.open[i].StopLoss = stopLoss
			f.open[i].TakeProfit = takeProfit
		}
	}
	return nil
}

func (f *fakeRepo) MarkTradeFilled(_ context.Context, id string, fillPrice decimal.Decimal, filledAt time.Time) error {
	if f.filled == nil {
		f.filled = make(map[string]decimal.Decimal)
	}
	f.filled[id] = fillPrice
	for i := range f.open {
		if f.open[i].ID == id {
			f.open[i].Status = types.TradeStatusFilled
			f.open[i].FillPrice = fillPrice
			ts := filledAt
			f.open[i].FilledAt = &ts
		}
	}
	return nil
}

func (f *fakeRepo) UpdateTradeLegFills(_ context.Context, id string, leg, pair decimal.Decimal) error {
	if f.legFills == nil {
		f.legFills = make(map[string]legFillPrices)
	}
	cur := f.legFills[id]
	if !leg.IsZero() {
		cur.leg = leg
	}
	if !pair.IsZero() {
		cur.pair = pair
	}
	f.legFills[id] = cur
	return nil
}

func (f *fakeRepo) SaveExecution(_ context.Context, exec types.Execution) error {
	f.execs = append(f.execs, exec)
	return nil
}

// fakeBars serves a fixed latest bar per symbol.
type fakeBars struct {
	bars map[string]types.Bar
}

func (f *fakeBars) Latest(symbol string) (types.Bar, bool) {
	bar, ok := f.bars[symbol]
	return bar, ok
}

func spreadTrade() types.Trade {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return types.Trade{
		ID:           "t1",
		Symbol:       "BTCUSDT",
		Side:         types.SideLong,
		EntryPrice:   d("45000"),
		Quantity:     d("1"),
		Status:       types.TradeStatusSubmitted,
		PairSymbol:   "ETHUSDT",
		PairSide:     types.SideShort,
		PairQuantity: d("10"),
		LegOrderID:   "x1",
		PairOrderID:  "y1",
		InstanceID:   "inst-1",
		CreatedAt:    now,
	}
}

func singleTrade() types.Trade {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return types.Trade{
		ID:         "t2",
		Symbol:     "BTCUSDT",
		Side:       types.SideLong,
		EntryPrice: d("45000"),
		StopLoss:   d("44000"),
		TakeProfit: d("47000"),
		Quantity:   d("1"),
		Status:     types.TradeStatusSubmitted,
		LegOrderID: "o1",
		InstanceID: "inst-1",
		CreatedAt:  now,
	}
}

func newTestMonitor(repo *fakeRepo, gw *fakeGateway, bars BarSource, exit strategy.ExitStrategy) (*Monitor, *time.Time) {
	cache := statecache.New(nil)
	cfg := DefaultConfig()
	m := New(cfg, cache, repo, gw, bars, exit, "inst-1", nil)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	m.SetNow(func() time.Time { return *clock })
	return m, clock
}

func TestWatchdog_TimeoutClosesAndCancelsOnce(t *testing.T) {
	repo := &fakeRepo{open: []types.Trade{spreadTrade()}}
	gw := &fakeGateway{}
	m, clock := newTestMonitor(repo, gw, nil, nil)

	ctx := context.Background()
	m.Tick(ctx) // index the spread legs

	// Leg X fills.
	m.ExecutionRecorded(types.Execution{
		ExecID:   "e1",
		OrderID:  "x1",
		Symbol:   "BTCUSDT",
		Side:     types.SideLong,
		Price:    d("45000"),
		Quantity: d("1"),
	})

	// 61 seconds later the resting leg is still unfilled.
	*clock = clock.Add(61 * time.Second)
	m.Tick(ctx)

	if len(gw.closes) != 1 || gw.closes[0] != "BTCUSDT" {
		t.Errorf("closes = %v, want exactly one for BTCUSDT", gw.closes)
	}
	if len(gw.cancels) != 1 || gw.cancels[0] != "y1" {
		t.Errorf("cancels = %v, want exactly one for y1", gw.cancels)
	}
	if note := repo.statusNotes["t1"]; note != "failed:"+types.ExitReasonRecovery {
		t.Errorf("trade status note = %q, want failed:%s", note, types.ExitReasonRecovery)
	}

	// Later ticks must not repeat the recovery.
	*clock = clock.Add(10 * time.Second)
	m.Tick(ctx)
	if len(gw.closes) != 1 || len(gw.cancels) != 1 {
		t.Errorf("recovery repeated: closes=%v cancels=%v", gw.closes, gw.cancels)
	}
}

func TestWatchdog_SecondLegFillDisarms(t *testing.T) {
	repo := &fakeRepo{open: []types.Trade{spreadTrade()}}
	gw := &fakeGateway{}
	m, clock := newTestMonitor(repo, gw, nil, nil)

	ctx := context.Background()
	m.Tick(ctx)

	m.ExecutionRecorded(types.Execution{
		ExecID: "e1", OrderID: "x1", Symbol: "BTCUSDT", Quantity: d("1"),
	})

	// Leg Y fills 30 seconds in.
	*clock = clock.Add(30 * time.Second)
	m.ExecutionRecorded(types.Execution{
		ExecID: "e2", OrderID: "y1", Symbol: "ETHUSDT", Quantity: d("10"),
	})

	*clock = clock.Add(31 * time.Second)
	m.Tick(ctx)

	if len(gw.closes) != 0 || len(gw.cancels) != 0 {
		t.Errorf("no recovery expected: closes=%v cancels=%v", gw.closes, gw.cancels)
	}
}

func TestWatchdog_RetryAfterCloseFailure(t *testing.T) {
	repo := &fakeRepo{open: []types.Trade{spreadTrade()}}
	gw := &fakeGateway{closeErr: errors.New("exchange timeout")}
	m, clock := newTestMonitor(repo, gw, nil, nil)

	ctx := context.Background()
	m.Tick(ctx)
	m.ExecutionRecorded(types.Execution{
		ExecID: "e1", OrderID: "x1", Symbol: "BTCUSDT", Quantity: d("1"),
	})

	*clock = clock.Add(61 * time.Second)
	m.Tick(ctx)
	if len(gw.cancels) != 0 {
		t.Error("cancel must not run while close is failing")
	}

	// Exchange recovers; next tick finishes both steps.
	gw.closeErr = nil
	*clock = clock.Add(5 * time.Second)
	m.Tick(ctx)

	if len(gw.closes) != 1 || len(gw.cancels) != 1 {
		t.Errorf("closes=%v cancels=%v, want one each after retry", gw.closes, gw.cancels)
	}
}

func TestSyncStops_ToleranceGate(t *testing.T) {
	trade := spreadTrade()
	trade.Status = types.TradeStatusFilled
	trade.StopLoss = d("44000")
	trade.TakeProfit = d("46000")
	repo := &fakeRepo{open: []types.Trade{trade}}
	gw := &fakeGateway{}
	m, _ := newTestMonitor(repo, gw, nil, nil)

	// Exchange stop within tolerance: |delta|/44000 < 1e-4.
	m.cache.ApplyPositionEvent(types.Position{
		Symbol:     "BTCUSDT",
		Side:       types.SideLong,
		Size:       d("1"),
		StopLoss:   d("44002"),
		TakeProfit: d("46000"),
	})
	m.Tick(context.Background())
	if len(gw.amends) != 0 {
		t.Errorf("amends = %v, drift within tolerance must not re-amend", gw.amends)
	}

	// Exchange stop clearly diverged.
	m.cache.ApplyPositionEvent(types.Position{
		Symbol:     "BTCUSDT",
		Side:       types.SideLong,
		Size:       d("1"),
		StopLoss:   d("43000"),
		TakeProfit: d("46000"),
	})
	m.Tick(context.Background())
	if len(gw.amends) != 1 {
		t.Errorf("amends = %v, want one after drift", gw.amends)
	}
}

func TestStrategyExit_ClosesAtMarket(t *testing.T) {
	trade := spreadTrade()
	trade.Status = types.TradeStatusFilled
	trade.FillPrice = d("45000")
	filledAt := trade.CreatedAt.Add(time.Minute)
	trade.FilledAt = &filledAt
	trade.StopLoss = d("44000")
	repo := &fakeRepo{open: []types.Trade{trade}}
	gw := &fakeGateway{}

	bars := &fakeBars{bars: map[string]types.Bar{
		"BTCUSDT": {
			Symbol:    "BTCUSDT",
			Timestamp: filledAt.Add(time.Minute),
			Open:      d("44100"),
			High:      d("44200"),
			Low:       d("43900"), // touches the stop
			Close:     d("43950"),
		},
	}}
	m, _ := newTestMonitor(repo, gw, bars, strategy.NewStopTarget())

	m.Tick(context.Background())

	// A spread trade flattens both legs.
	if len(gw.closes) != 2 {
		t.Fatalf("closes = %v, want both legs flattened", gw.closes)
	}
	if len(repo.closed) != 1 || repo.closed[0] != "t1" {
		t.Errorf("closed trades = %v, want [t1]", repo.closed)
	}
}

func TestFill_SingleLegMarkedAndExitable(t *testing.T) {
	repo := &fakeRepo{open: []types.Trade{singleTrade()}}
	gw := &fakeGateway{}
	bars := &fakeBars{bars: map[string]types.Bar{}}
	m, _ := newTestMonitor(repo, gw, bars, strategy.NewStopTarget())
	m.cache.AddListener(m)

	ctx := context.Background()
	m.Tick(ctx) // index the entry order

	m.cache.ApplyExecutionEvent(types.Execution{
		ExecID: "e1", OrderID: "o1", Symbol: "BTCUSDT",
		Side: types.SideLong, Price: d("45010"), Quantity: d("1"),
	})

	if !repo.filled["t2"].Equal(d("45010")) {
		t.Fatalf("fill price = %s, want 45010", repo.filled["t2"])
	}

	// Next bar blows through the stop; the now-filled trade must exit.
	bars.bars["BTCUSDT"] = types.Bar{
		Symbol:    "BTCUSDT",
		Timestamp: time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC),
		Open:      d("44100"),
		High:      d("44200"),
		Low:       d("43000"),
		Close:     d("43100"),
	}
	m.Tick(ctx)

	if len(repo.closed) != 1 || repo.closed[0] != "t2" {
		t.Errorf("closed trades = %v, want [t2]", repo.closed)
	}
}

func TestFill_OrderFilledEventSettlesLeg(t *testing.T) {
	repo := &fakeRepo{open: []types.Trade{singleTrade()}}
	m, _ := newTestMonitor(repo, &fakeGateway{}, nil, nil)

	m.Tick(context.Background())
	m.OrderUpdated(types.Order{
		OrderID:      "o1",
		Symbol:       "BTCUSDT",
		Status:       types.OrderStatusFilled,
		Quantity:     d("1"),
		FilledQty:    d("1"),
		AvgFillPrice: d("45020"),
	})

	if !repo.filled["t2"].Equal(d("45020")) {
		t.Errorf("fill price = %s, want 45020", repo.filled["t2"])
	}
}

func TestFill_SpreadWaitsForBothLegs(t *testing.T) {
	repo := &fakeRepo{open: []types.Trade{spreadTrade()}}
	m, _ := newTestMonitor(repo, &fakeGateway{}, nil, nil)

	ctx := context.Background()
	m.Tick(ctx)

	m.ExecutionRecorded(types.Execution{
		ExecID: "e1", OrderID: "x1", Symbol: "BTCUSDT", Price: d("45005"), Quantity: d("1"),
	})
	if _, ok := repo.filled["t1"]; ok {
		t.Fatal("one filled leg must not mark the trade filled")
	}
	if got := repo.legFills["t1"].leg; !got.Equal(d("45005")) {
		t.Errorf("leg fill price = %s, want 45005", got)
	}

	m.ExecutionRecorded(types.Execution{
		ExecID: "e2", OrderID: "y1", Symbol: "ETHUSDT", Price: d("2500"), Quantity: d("10"),
	})
	if !repo.filled["t1"].Equal(d("45005")) {
		t.Errorf("fill price = %s, want the primary leg's 45005", repo.filled["t1"])
	}
	if got := repo.legFills["t1"].pair; !got.Equal(d("2500")) {
		t.Errorf("pair fill price = %s, want 2500", got)
	}
}

func TestExecutionsAlwaysPersisted(t *testing.T) {
	repo := &fakeRepo{}
	m, _ := newTestMonitor(repo, &fakeGateway{}, nil, nil)
	m.cache.AddListener(m)

	// Not attributable to any open trade, persisted regardless.
	m.cache.ApplyExecutionEvent(types.Execution{
		ExecID: "e9", OrderID: "unknown", Symbol: "BTCUSDT", Price: d("45000"), Quantity: d("1"),
	})

	if len(repo.execs) != 1 || repo.execs[0].ExecID != "e9" {
		t.Errorf("persisted executions = %+v, want [e9]", repo.execs)
	}
}

func TestWatchdog_PartialFillsAccumulate(t *testing.T) {
	repo := &fakeRepo{open: []types.Trade{spreadTrade()}}
	gw := &fakeGateway{}
	m, clock := newTestMonitor(repo, gw, nil, nil)

	ctx := context.Background()
	m.Tick(ctx)
	m.ExecutionRecorded(types.Execution{
		ExecID: "e1", OrderID: "x1", Symbol: "BTCUSDT", Price: d("45000"), Quantity: d("0.4"),
	})
	*clock = clock.Add(20 * time.Second)
	m.ExecutionRecorded(types.Execution{
		ExecID: "e2", OrderID: "x1", Symbol: "BTCUSDT", Price: d("45010"), Quantity: d("0.3"),
	})

	// 61 seconds after the first fill the other leg is still resting.
	*clock = clock.Add(41 * time.Second)
	m.Tick(ctx)

	if len(gw.closeQty) != 1 || !gw.closeQty[0].Equal(d("0.7")) {
		t.Errorf("close qty = %v, want the summed 0.7", gw.closeQty)
	}
}

func TestTightener_ArmsAndRatchets(t *testing.T) {
	trade := singleTrade()
	trade.Status = types.TradeStatusFilled
	trade.FillPrice = d("45000")
	filledAt := trade.CreatedAt
	trade.FilledAt = &filledAt
	repo := &fakeRepo{open: []types.Trade{trade}}
	gw := &fakeGateway{}
	bars := &fakeBars{bars: map[string]types.Bar{}}

	cfg := DefaultConfig()
	cfg.Tightener = TightenerConfig{
		Enabled:       true,
		PnLTarget:     d("100"),
		ADXPeriod:     2,
		ADXThreshold:  d("20"),
		ATRPeriod:     2,
		ATRMultiplier: d("2"),
	}
	cache := statecache.New(nil)
	m := New(cfg, cache, repo, gw, bars, nil, "inst-1", nil)
	now := trade.CreatedAt
	clock := &now
	m.SetNow(func() time.Time { return *clock })

	position := types.Position{
		Symbol:        "BTCUSDT",
		Side:          types.SideLong,
		Size:          d("1"),
		MarkPrice:     d("45500"),
		UnrealizedPnL: d("50"),
		StopLoss:      d("44000"),
		TakeProfit:    d("47000"),
	}
	cache.ApplyPositionEvent(position)

	// Flat bars: ATR settles at the 20-point range, ADX decays to zero.
	ctx := context.Background()
	flatBar := func(i int) types.Bar {
		return types.Bar{
			Symbol:    "BTCUSDT",
			Timestamp: trade.CreatedAt.Add(time.Duration(i) * time.Minute),
			Open:      d("45500"),
			High:      d("45510"),
			Low:       d("45490"),
			Close:     d("45500"),
		}
	}
	for i := 1; i <= 5; i++ {
		bars.bars["BTCUSDT"] = flatBar(i)
		m.Tick(ctx)
	}
	if len(gw.amends) != 0 {
		t.Fatalf("amends = %v, tightener must stay disarmed below the P&L target", gw.amends)
	}

	// Book moves into profit past the target; next fresh bar tightens the
	// stop to mark - 2*ATR = 45500 - 40.
	position.UnrealizedPnL = d("500")
	cache.ApplyPositionEvent(position)
	bars.bars["BTCUSDT"] = flatBar(6)
	m.Tick(ctx)

	if len(gw.amends) != 1 {
		t.Fatalf("amends = %v, want one tightening", gw.amends)
	}
	if len(repo.stopsSet) != 1 || repo.stopsSet[0] != "t2" {
		t.Errorf("stops persisted for %v, want [t2]", repo.stopsSet)
	}
	if got := repo.open[0].StopLoss; !got.Equal(d("45460")) {
		t.Errorf("tightened stop = %s, want 45460", got)
	}

	// Exchange confirms the new stop; an unchanged mark must not re-amend.
	position.StopLoss = d("45460")
	cache.ApplyPositionEvent(position)
	bars.bars["BTCUSDT"] = flatBar(7)
	m.Tick(ctx)

	if len(gw.amends) != 1 {
		t.Errorf("amends = %v, equal candidate must be a no-op", gw.amends)
	}
}

func TestTightener_TrendGate(t *testing.T) {
	trade := singleTrade()
	trade.Status = types.TradeStatusFilled
	trade.FillPrice = d("45000")
	filledAt := trade.CreatedAt
	trade.FilledAt = &filledAt
	repo := &fakeRepo{open: []types.Trade{trade}}
	gw := &fakeGateway{}
	bars := &fakeBars{bars: map[string]types.Bar{}}

	cfg := DefaultConfig()
	cfg.Tightener = TightenerConfig{
		Enabled:       true,
		PnLTarget:     d("100"),
		ADXPeriod:     2,
		ADXThreshold:  decimal.Zero, // any trend reading blocks tightening
		ATRPeriod:     2,
		ATRMultiplier: d("2"),
	}
	cache := statecache.New(nil)
	m := New(cfg, cache, repo, gw, bars, nil, "inst-1", nil)
	now := trade.CreatedAt
	clock := &now
	m.SetNow(func() time.Time { return *clock })

	cache.ApplyPositionEvent(types.Position{
		Symbol:        "BTCUSDT",
		Side:          types.SideLong,
		Size:          d("1"),
		MarkPrice:     d("45500"),
		UnrealizedPnL: d("500"),
		StopLoss:      d("44000"),
		TakeProfit:    d("47000"),
	})

	ctx := context.Background()
	for i := 1; i <= 6; i++ {
		bars.bars["BTCUSDT"] = types.Bar{
			Symbol:    "BTCUSDT",
			Timestamp: trade.CreatedAt.Add(time.Duration(i) * time.Minute),
			Open:      d("45500"),
			High:      d("45510"),
			Low:       d("45490"),
			Close:     d("45500"),
		}
		m.Tick(ctx)
	}

	if len(gw.amends) != 0 {
		t.Errorf("amends = %v, trend gate must block tightening", gw.amends)
	}
}

func TestImprovesStop(t *testing.T) {
	if !improvesStop(types.SideLong, d("44500"), d("44000")) {
		t.Error("long: higher stop is an improvement")
	}
	if improvesStop(types.SideLong, d("44000"), d("44000")) {
		t.Error("long: equal stop is a no-op")
	}
	if improvesStop(types.SideLong, d("43000"), d("44000")) {
		t.Error("long: lower stop must never be applied")
	}
	if !improvesStop(types.SideShort, d("2550"), d("2600")) {
		t.Error("short: lower stop is an improvement")
	}
	if improvesStop(types.SideShort, d("2650"), d("2600")) {
		t.Error("short: higher stop must never be applied")
	}
	if !improvesStop(types.SideLong, d("44000"), decimal.Zero) {
		t.Error("any stop improves a missing one")
	}
}

func TestWithinTolerance(t *testing.T) {
	tol := d("0.0001")
	if !withinTolerance(d("44000"), d("44002"), tol) {
		t.Error("2/44000 is inside 1e-4")
	}
	if withinTolerance(d("44000"), d("44100"), tol) {
		t.Error("100/44100 is outside 1e-4")
	}
	if !withinTolerance(decimal.Zero, decimal.Zero, tol) {
		t.Error("two zeros agree")
	}
	if withinTolerance(decimal.Zero, d("1"), tol) {
		t.Error("zero against non-zero must not agree")
	}
}
