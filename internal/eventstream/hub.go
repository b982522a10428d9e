// Package eventstream broadcasts engine events to dashboard clients over
// WebSocket. The hub fans typed JSON events out to every connected client;
// a slow client is dropped rather than allowed to stall the broadcast.
package eventstream

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/taku247/omg-tool/pkg/types"
	"go.uber.org/zap"
)

// Event type discriminators on the wire.
const (
	TypeOpportunity     = "opportunity"
	TypeExecutionResult = "execution_result"
	TypeAlert           = "alert"
	TypeVenueStatus     = "venue_status"
)

// Envelope is the framing for every broadcast event.
type Envelope struct {
	Type string      `json:"type"`
	Time time.Time   `json:"time"`
	Data interface{} `json:"data"`
}

// AlertEvent is an operator-facing alert payload.
type AlertEvent struct {
	Instrument string `json:"instrument"`
	Message    string `json:"message"`
}

// VenueStatusEvent reports a venue going stale or recovering.
type VenueStatusEvent struct {
	Venue string `json:"venue"`
	Stale bool   `json:"stale"`
}

// Hub manages active WebSocket connections and event broadcast.
type Hub struct {
	logger *zap.Logger

	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex
	wg sync.WaitGroup
}

// NewHub creates an event stream hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Start launches the hub loop.
func (h *Hub) Start(ctx context.Context) error {
	h.wg.Add(1)
	go h.run(ctx)
	return nil
}

// Close waits for the hub loop to stop.
func (h *Hub) Close() error {
	h.wg.Wait()
	return nil
}

func (h *Hub) run(ctx context.Context) {
	defer h.wg.Done()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("eventstream-hub-stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			ConnectedClients.Set(float64(n))
			h.logger.Info("client-connected", zap.Int("clients", n))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			ConnectedClients.Set(float64(n))
			h.logger.Info("client-disconnected", zap.Int("clients", n))

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// deliver copies the client set under a short read lock, sends without
// holding it, and removes clients whose send buffer is full.
func (h *Hub) deliver(message []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			toRemove = append(toRemove, client)
		}
	}

	if len(toRemove) > 0 {
		h.mu.Lock()
		for _, client := range toRemove {
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		}
		n := len(h.clients)
		h.mu.Unlock()
		ConnectedClients.Set(float64(n))
		SlowClientsDropped.Add(float64(len(toRemove)))
		h.logger.Warn("slow-clients-removed",
			zap.Int("removed", len(toRemove)),
			zap.Int("clients", n))
	}
}

// publish encodes and enqueues one event. A full broadcast queue drops the
// event; the dashboard is best-effort, never backpressure on the engine.
func (h *Hub) publish(eventType string, data interface{}) {
	payload, err := json.Marshal(&Envelope{
		Type: eventType,
		Time: time.Now(),
		Data: data,
	})
	if err != nil {
		h.logger.Error("event-marshal-failed",
			zap.String("type", eventType), zap.Error(err))
		return
	}

	select {
	case h.broadcast <- payload:
		EventsPublishedTotal.WithLabelValues(eventType).Inc()
	default:
		EventsDroppedTotal.WithLabelValues(eventType).Inc()
	}
}

// PublishOpportunity broadcasts a detected opportunity. Must not block.
func (h *Hub) PublishOpportunity(opp *types.Opportunity) {
	h.publish(TypeOpportunity, opp)
}

// PublishExecutionResult broadcasts a terminal execution result.
func (h *Hub) PublishExecutionResult(result *types.ExecutionResult) {
	h.publish(TypeExecutionResult, result)
}

// PublishAlert broadcasts an operator-facing alert.
func (h *Hub) PublishAlert(instrument, message string) {
	h.publish(TypeAlert, &AlertEvent{Instrument: instrument, Message: message})
}

// PublishVenueStatus broadcasts a venue staleness transition.
func (h *Hub) PublishVenueStatus(venue string, stale bool) {
	h.publish(TypeVenueStatus, &VenueStatusEvent{Venue: venue, Stale: stale})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
