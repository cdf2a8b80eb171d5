package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trade_orders_submitted_total",
			Help: "Entry orders accepted by the risk gate and sent for execution, by generator.",
		},
		[]string{"strategy"},
	)

	PositionsOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trade_positions_open",
			Help: "Positions held right now, by the generator that opened them.",
		},
		[]string{"strategy"},
	)

	EquityGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trade_equity",
			Help: "Realized account equity.",
		},
	)

	DrawdownGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trade_drawdown_ratio",
			Help: "Current drawdown from peak equity (0..1).",
		},
	)

	Signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trade_signals_total",
			Help: "Signals produced by the authoritative generator.",
		},
		[]string{"strategy", "direction"},
	)

	Rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trade_entry_rejections_total",
			Help: "Entry signals rejected by the risk manager (by reason).",
		},
		[]string{"reason"},
	)

	ExecutionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trade_execution_failures_total",
			Help: "Orders that resolved to rejected or timeout.",
		},
		[]string{"status"},
	)

	RegimeSwitches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trade_regime_switches_total",
			Help: "Changes of the authoritative strategy per symbol.",
		},
		[]string{"symbol", "to"},
	)
)

func init() {
	prometheus.MustRegister(
		OrdersSubmitted,
		PositionsOpen,
		EquityGauge,
		DrawdownGauge,
		Signals,
		Rejections,
		ExecutionFailures,
		RegimeSwitches,
	)
}
