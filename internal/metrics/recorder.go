package metrics

import (
	"time"

	"github.com/shopspring/decimal"
)

// Recorder provides methods for recording metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordOrder records an order metric.
func (r *Recorder) RecordOrder(symbol, side, status string) {
	OrdersTotal.WithLabelValues(symbol, side, status).Inc()
}

// RecordTrade records a completed trade metric.
func (r *Recorder) RecordTrade(symbol, side string, profitable bool) {
	outcome := "loss"
	if profitable {
		outcome = "win"
	}
	TradesTotal.WithLabelValues(symbol, side, outcome).Inc()
}

// RecordSignalRejected records a signal being rejected.
func (r *Recorder) RecordSignalRejected(reason string) {
	SignalsRejected.WithLabelValues(reason).Inc()
}

// RecordCycleSkipped records a skipped evaluation cycle.
func (r *Recorder) RecordCycleSkipped() {
	CyclesSkipped.Inc()
}

// RecordSlots records slot occupancy.
func (r *Recorder) RecordSlots(occupied int) {
	SlotsOccupied.Set(float64(occupied))
}

// RecordPositionOpened records a position being opened.
func (r *Recorder) RecordPositionOpened(symbol string) {
	PositionsOpen.WithLabelValues(symbol).Inc()
}

// RecordPositionClosed records a position being closed.
func (r *Recorder) RecordPositionClosed(symbol string) {
	PositionsOpen.WithLabelValues(symbol).Dec()
}

// RecordUnrealizedPnL records the aggregate unrealized P&L.
func (r *Recorder) RecordUnrealizedPnL(pnl decimal.Decimal) {
	UnrealizedPnL.Set(pnl.InexactFloat64())
}

// RecordPartialFillRecovery records a two-leg timeout unwind.
func (r *Recorder) RecordPartialFillRecovery() {
	PartialFillRecoveries.Inc()
}

// RecordStopAmended records a stop amendment.
func (r *Recorder) RecordStopAmended(cause string) {
	StopsAmended.WithLabelValues(cause).Inc()
}

// RecordStreamStatus records the private stream connection state.
func (r *Recorder) RecordStreamStatus(connected bool) {
	if connected {
		StreamConnected.Set(1)
	} else {
		StreamConnected.Set(0)
	}
}

// RecordTickDuration records one monitor pass duration.
func (r *Recorder) RecordTickDuration(duration time.Duration) {
	TickDuration.Observe(duration.Seconds())
}

// RecordOrderLatency records order placement latency.
func (r *Recorder) RecordOrderLatency(duration time.Duration) {
	OrderLatency.Observe(duration.Seconds())
}

// RecordError records an error.
func (r *Recorder) RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}
