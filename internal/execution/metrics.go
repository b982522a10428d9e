package execution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LegsPlacedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omg_execution_legs_placed_total",
		Help: "Successfully filled order legs by side",
	}, []string{"side"})

	LegFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omg_execution_leg_failures_total",
		Help: "Failed order legs by side, or both when neither filled",
	}, []string{"side"})

	UnwindsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omg_execution_unwinds_total",
		Help: "Unwind attempts after a one-leg failure, by outcome",
	}, []string{"outcome"})

	ResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omg_execution_results_total",
		Help: "Terminal execution results by kind",
	}, []string{"kind"})

	CloseFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omg_execution_close_failures_total",
		Help: "Failed position close attempts",
	})

	GateRejectionsSeen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omg_execution_gate_rejections_total",
		Help: "Opportunities rejected by the risk gate at execution time",
	})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "omg_execution_open_positions",
		Help: "Positions currently held by the coordinator",
	})

	RealizedPnLUSD = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "omg_execution_realized_pnl_usd",
		Help: "Cumulative realized P&L in USD across all results",
	})

	ExecutionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "omg_execution_duration_seconds",
		Help:    "Wall time from approval to entry outcome",
		Buckets: prometheus.DefBuckets,
	})

	PositionHoldSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "omg_execution_position_hold_seconds",
		Help:    "How long positions were held before closing",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})
)
