package risk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ApprovalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omg_risk_approvals_total",
		Help: "Total opportunities approved by the risk gate",
	})

	RejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omg_risk_rejections_total",
		Help: "Total opportunities rejected by the risk gate",
	}, []string{"reason"})

	ReleasesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omg_risk_releases_total",
		Help: "Total position reservations released",
	})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "omg_risk_open_positions",
		Help: "Currently open position count",
	})

	TotalExposure = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "omg_risk_total_exposure_usd",
		Help: "Current total reserved exposure in USD",
	})

	DailyPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "omg_risk_daily_pnl_usd",
		Help: "Realized P&L booked today in USD",
	})

	FrozenInstruments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "omg_risk_frozen_instruments",
		Help: "Number of instruments halted pending operator reset",
	})
)
