// Package connector defines the contract every exchange adapter must satisfy.
// The engine depends only on this shape; venue-specific wire parsing,
// authentication and reconnect policy live in the adapters.
package connector

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/taku247/omg-tool/pkg/types"
)

// EventKind discriminates the payload of a StreamEvent.
type EventKind int

const (
	EventQuote EventKind = iota
	EventDepth
	EventConnectionLost
	EventConnectionRestored
)

// StreamEvent is one item on a subscription stream. Exactly one payload field
// is set for quote/depth events; connection events carry only the venue.
type StreamEvent struct {
	Kind  EventKind
	Venue string
	Quote *types.Quote
	Depth *types.DepthSnapshot
}

// Connector is the capability set of one exchange adapter.
//
// Subscribe returns a long-lived stream of normalized events for the given
// instruments. The adapter owns its reconnect-with-backoff policy but must
// emit EventConnectionLost/EventConnectionRestored so the aggregator can mark
// venue state stale and later fresh. The stream is closed when ctx is
// cancelled.
//
// PlaceOrder must fail fast: it respects ctx deadlines and never hangs beyond
// a bounded timeout. Adapters are responsible for making retried submissions
// with the same ClientOrderID idempotent.
type Connector interface {
	Name() string

	Subscribe(ctx context.Context, instruments []string) (<-chan StreamEvent, error)

	PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error)
	CancelOrder(ctx context.Context, instrument, orderID string) error
	GetOpenOrders(ctx context.Context, instrument string) ([]types.OrderResult, error)
	GetBalance(ctx context.Context) (map[string]types.Balance, error)
	GetPosition(ctx context.Context, instrument string) (*types.Position, error)

	// GetTradingFees returns the (maker, taker) fee fractions for an
	// instrument. Rates change rarely; callers cache them.
	GetTradingFees(ctx context.Context, instrument string) (maker, taker decimal.Decimal, err error)
}

// Registry is an immutable venue-name → connector lookup handed to the
// components that place orders or read balances.
type Registry struct {
	byName map[string]Connector
}

// NewRegistry builds a registry from the given connectors.
func NewRegistry(conns ...Connector) *Registry {
	m := make(map[string]Connector, len(conns))
	for _, c := range conns {
		m[c.Name()] = c
	}
	return &Registry{byName: m}
}

// Get returns the connector for a venue.
func (r *Registry) Get(venue string) (Connector, bool) {
	c, ok := r.byName[venue]
	return c, ok
}

// Names returns all registered venue names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

// CallTimeout is the default bound applied to supporting calls
// (CancelOrder, GetOpenOrders, GetBalance, GetPosition) when the caller has
// no tighter deadline.
const CallTimeout = 10 * time.Second
