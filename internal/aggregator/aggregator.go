// Package aggregator maintains the latest normalized market state per
// (venue, instrument) key under concurrent, unordered updates from many
// connector streams, and notifies the detection stage on every applied
// update.
package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/taku247/omg-tool/pkg/connector"
	"github.com/taku247/omg-tool/pkg/types"
	"go.uber.org/zap"
)

// Update is the notification emitted after a state change is applied.
type Update struct {
	Venue      string
	Instrument string
}

type key struct {
	venue      string
	instrument string
}

type entry struct {
	quote       *types.Quote
	depth       *types.DepthSnapshot
	lastUpdate  time.Time
	updateCount uint64
}

// Manager owns all VenueState. Writers go through OnQuote/OnDepth, readers
// get point-in-time copies from CurrentState. Updates to the same key are
// serialized; different keys proceed independently of arrival order.
type Manager struct {
	mu          sync.RWMutex
	states      map[key]*entry
	staleVenues map[string]bool

	updateChan chan Update
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// Config holds aggregator configuration.
type Config struct {
	Logger *zap.Logger
	// UpdateBuffer bounds the notification channel between quote ingestion
	// and detection. Overflow drops the notification, never the state.
	UpdateBuffer int
}

// New creates a new market data aggregator.
func New(cfg *Config) *Manager {
	buffer := cfg.UpdateBuffer
	if buffer <= 0 {
		buffer = 100000
	}
	return &Manager{
		states:      make(map[key]*entry),
		staleVenues: make(map[string]bool),
		updateChan:  make(chan Update, buffer),
		logger:      cfg.Logger,
	}
}

// OnQuote applies a quote under last-writer-wins-by-timestamp. Arrival order
// does not matter: a quote older than the stored one is dropped, a quote with
// the identical timestamp is a duplicate and triggers nothing.
func (m *Manager) OnQuote(q *types.Quote) {
	k := key{venue: q.Venue, instrument: q.Instrument}

	m.mu.Lock()
	e, ok := m.states[k]
	if !ok {
		e = &entry{}
		m.states[k] = e
		TrackedKeys.Set(float64(len(m.states)))
	}
	if e.quote != nil && !q.ObservedAt.After(e.quote.ObservedAt) {
		superseded := q.ObservedAt.Before(e.quote.ObservedAt)
		m.mu.Unlock()
		if superseded {
			UpdatesSupersededTotal.WithLabelValues("quote").Inc()
		} else {
			UpdatesDuplicateTotal.Inc()
		}
		return
	}
	e.quote = q
	e.lastUpdate = time.Now()
	e.updateCount++
	m.mu.Unlock()

	UpdatesTotal.WithLabelValues("quote").Inc()
	m.notify(Update{Venue: q.Venue, Instrument: q.Instrument})
}

// OnDepth applies a depth snapshot with the same replace-if-newer rule,
// independent of quote updates.
func (m *Manager) OnDepth(d *types.DepthSnapshot) {
	k := key{venue: d.Venue, instrument: d.Instrument}

	m.mu.Lock()
	e, ok := m.states[k]
	if !ok {
		e = &entry{}
		m.states[k] = e
		TrackedKeys.Set(float64(len(m.states)))
	}
	if e.depth != nil && !d.ObservedAt.After(e.depth.ObservedAt) {
		m.mu.Unlock()
		UpdatesSupersededTotal.WithLabelValues("depth").Inc()
		return
	}
	e.depth = d
	e.lastUpdate = time.Now()
	e.updateCount++
	m.mu.Unlock()

	UpdatesTotal.WithLabelValues("depth").Inc()
	m.notify(Update{Venue: d.Venue, Instrument: d.Instrument})
}

// MarkStale excludes a venue from detection until MarkFresh. Invoked on
// connector connection loss; state is retained but not served.
func (m *Manager) MarkStale(venue string) {
	m.mu.Lock()
	m.staleVenues[venue] = true
	stale := len(m.staleVenues)
	m.mu.Unlock()

	StaleVenues.Set(float64(stale))
	m.logger.Warn("venue-marked-stale", zap.String("venue", venue))
}

// MarkFresh readmits a venue after its connection is restored. Quotes
// received while stale were still applied, so detection resumes from live
// state immediately.
func (m *Manager) MarkFresh(venue string) {
	m.mu.Lock()
	delete(m.staleVenues, venue)
	stale := len(m.staleVenues)
	m.mu.Unlock()

	StaleVenues.Set(float64(stale))
	m.logger.Info("venue-marked-fresh", zap.String("venue", venue))
}

// IsStale reports whether a venue is currently excluded.
func (m *Manager) IsStale(venue string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.staleVenues[venue]
}

// CurrentState returns a consistent point-in-time copy of every non-stale
// venue's state for an instrument.
func (m *Manager) CurrentState(instrument string) []*types.VenueState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.VenueState, 0, 4)
	for k, e := range m.states {
		if k.instrument != instrument || m.staleVenues[k.venue] {
			continue
		}
		out = append(out, &types.VenueState{
			Venue:       k.venue,
			Instrument:  k.instrument,
			Quote:       e.quote,
			Depth:       e.depth,
			LastUpdate:  e.lastUpdate,
			UpdateCount: e.updateCount,
		})
	}
	return out
}

// State returns the state for one key, or nil.
func (m *Manager) State(venue, instrument string) *types.VenueState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.states[key{venue: venue, instrument: instrument}]
	if !ok {
		return nil
	}
	return &types.VenueState{
		Venue:       venue,
		Instrument:  instrument,
		Quote:       e.quote,
		Depth:       e.depth,
		LastUpdate:  e.lastUpdate,
		UpdateCount: e.updateCount,
	}
}

// Instruments returns every instrument with at least one tracked venue.
func (m *Manager) Instruments() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	out := make([]string, 0, 8)
	for k := range m.states {
		if !seen[k.instrument] {
			seen[k.instrument] = true
			out = append(out, k.instrument)
		}
	}
	return out
}

func (m *Manager) notify(u Update) {
	select {
	case m.updateChan <- u:
	default:
		// State is applied either way; a later update re-triggers detection.
		NotificationsDroppedTotal.Inc()
		m.logger.Warn("update-channel-full-notification-dropped",
			zap.String("venue", u.Venue),
			zap.String("instrument", u.Instrument),
			zap.Int("buffer-size", cap(m.updateChan)))
	}
}

// UpdateChan returns the channel of applied-update notifications.
func (m *Manager) UpdateChan() <-chan Update {
	return m.updateChan
}

// Consume drains one connector stream into the aggregator until the stream
// closes or ctx is cancelled. The app runs one Consume per venue; cancelling
// one venue's subscription does not affect the others.
func (m *Manager) Consume(ctx context.Context, events <-chan connector.StreamEvent) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				switch ev.Kind {
				case connector.EventQuote:
					m.OnQuote(ev.Quote)
				case connector.EventDepth:
					m.OnDepth(ev.Depth)
				case connector.EventConnectionLost:
					m.MarkStale(ev.Venue)
				case connector.EventConnectionRestored:
					m.MarkFresh(ev.Venue)
				}
			}
		}
	}()
}

// Close waits for all Consume goroutines and closes the update channel.
func (m *Manager) Close() error {
	m.logger.Info("closing-aggregator")
	m.wg.Wait()
	close(m.updateChan)
	m.logger.Info("aggregator-closed")
	return nil
}
