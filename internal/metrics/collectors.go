// Package metrics exposes Prometheus collectors and the HTTP endpoint that
// serves them alongside health probes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersTotal counts orders by symbol, side and terminal status.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairtrader_orders_total",
		Help: "Total orders placed, by symbol, side and status.",
	}, []string{"symbol", "side", "status"})

	// TradesTotal counts closed trades by outcome.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairtrader_trades_total",
		Help: "Total closed trades, by symbol, side and outcome.",
	}, []string{"symbol", "side", "outcome"})

	// SignalsRejected counts rejected signals by reason.
	SignalsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairtrader_signals_rejected_total",
		Help: "Signals rejected before placement, by reason.",
	}, []string{"reason"})

	// CyclesSkipped counts cycles the slot policy skipped.
	CyclesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairtrader_cycles_skipped_total",
		Help: "Evaluation cycles skipped by the slot policy.",
	})

	// SlotsOccupied is the current slot occupancy.
	SlotsOccupied = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pairtrader_slots_occupied",
		Help: "Slots currently occupied by positions or entry orders.",
	})

	// PositionsOpen is the number of open positions per symbol.
	PositionsOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pairtrader_positions_open",
		Help: "Open positions per symbol.",
	}, []string{"symbol"})

	// UnrealizedPnL is the aggregate unrealized P&L across positions.
	UnrealizedPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pairtrader_unrealized_pnl",
		Help: "Aggregate unrealized P&L across cached positions.",
	})

	// PartialFillRecoveries counts two-leg timeout unwinds.
	PartialFillRecoveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairtrader_partial_fill_recoveries_total",
		Help: "Spread trades unwound after a one-leg fill timeout.",
	})

	// StopsAmended counts stop re-synchronizations and tightenings.
	StopsAmended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairtrader_stops_amended_total",
		Help: "Stop amendments, by cause (drift, tighten).",
	}, []string{"cause"})

	// StreamConnected reports the private stream connection state.
	StreamConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pairtrader_stream_connected",
		Help: "1 when the private event stream is connected.",
	})

	// TickDuration measures one monitor pass over open trades.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pairtrader_tick_duration_seconds",
		Help:    "Duration of one monitor tick.",
		Buckets: prometheus.DefBuckets,
	})

	// OrderLatency measures exchange round-trip time for order placement.
	OrderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pairtrader_order_latency_seconds",
		Help:    "Latency of order placement round-trips.",
		Buckets: prometheus.DefBuckets,
	})

	// ErrorsTotal counts errors by type.
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairtrader_errors_total",
		Help: "Errors encountered, by type.",
	}, []string{"type"})
)
