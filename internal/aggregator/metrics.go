package aggregator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpdatesTotal counts applied state updates by payload type.
	UpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omg_aggregator_updates_total",
			Help: "Total number of applied state updates",
		},
		[]string{"type"},
	)

	// UpdatesSupersededTotal counts updates dropped for being older than the
	// stored observation (network jitter reordering).
	UpdatesSupersededTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omg_aggregator_updates_superseded_total",
			Help: "Total number of updates dropped as older than stored state",
		},
		[]string{"type"},
	)

	// UpdatesDuplicateTotal counts exact-duplicate quotes (same timestamp).
	UpdatesDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omg_aggregator_updates_duplicate_total",
		Help: "Total number of duplicate quote observations ignored",
	})

	// NotificationsDroppedTotal counts detection notifications lost to a full
	// update channel.
	NotificationsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omg_aggregator_notifications_dropped_total",
		Help: "Total number of detection notifications dropped",
	})

	// TrackedKeys gauges distinct (venue, instrument) keys held.
	TrackedKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "omg_aggregator_tracked_keys",
		Help: "Number of (venue, instrument) keys currently tracked",
	})

	// StaleVenues gauges venues currently excluded from detection.
	StaleVenues = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "omg_aggregator_stale_venues",
		Help: "Number of venues currently marked stale",
	})
)
