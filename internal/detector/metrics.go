package detector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OpportunitiesDetectedTotal counts emitted opportunities.
	OpportunitiesDetectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omg_detector_opportunities_total",
		Help: "Total number of arbitrage opportunities detected",
	})

	// RejectionsTotal counts gate-check failures by reason. Rejections are
	// normal, non-actionable outcomes and carry no log noise.
	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omg_detector_rejections_total",
			Help: "Total number of candidate pairs rejected by gate checks",
		},
		[]string{"reason"},
	)

	// QuotesExcludedTotal counts venue states excluded before pairing.
	QuotesExcludedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omg_detector_quotes_excluded_total",
			Help: "Total number of quotes excluded from detection",
		},
		[]string{"reason"},
	)

	// DetectionDurationSeconds tracks the latency of one detection pass.
	DetectionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "omg_detector_pass_duration_seconds",
		Help:    "Duration of one detection pass over an instrument",
		Buckets: prometheus.DefBuckets,
	})

	// SpreadPctObserved tracks qualifying spread percentages.
	SpreadPctObserved = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "omg_detector_spread_pct",
		Help:    "Spread percentage of detected opportunities",
		Buckets: []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5},
	})

	// OpportunitiesDroppedTotal counts opportunities lost to a full channel.
	OpportunitiesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omg_detector_opportunities_dropped_total",
		Help: "Total number of opportunities dropped on a full channel",
	})

	// PassesDroppedTotal counts detection passes skipped on full worker
	// queues; a later update on the same instrument re-triggers.
	PassesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omg_detector_passes_dropped_total",
		Help: "Total number of detection passes dropped on full worker queues",
	})
)
