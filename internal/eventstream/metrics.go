package eventstream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omg_eventstream_events_published_total",
		Help: "Events broadcast to dashboard clients by type",
	}, []string{"type"})

	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omg_eventstream_events_dropped_total",
		Help: "Events dropped because the broadcast queue was full",
	}, []string{"type"})

	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "omg_eventstream_connected_clients",
		Help: "Currently connected WebSocket clients",
	})

	SlowClientsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omg_eventstream_slow_clients_dropped_total",
		Help: "Clients disconnected because their send buffer filled",
	})
)
