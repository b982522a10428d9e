// Package testutil provides fixtures and a scriptable mock connector shared
// by the engine's tests.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/taku247/omg-tool/pkg/connector"
	"github.com/taku247/omg-tool/pkg/types"
)

// MockConnector is a scriptable in-memory connector. Behavior is configured
// per order side through PlaceOrderFunc, or left at the default which fills
// every order at the request's price. All fields guarded by the mutex may be
// mutated between calls.
type MockConnector struct {
	VenueName string

	mu sync.Mutex
	// PlaceOrderFunc overrides order handling when set.
	PlaceOrderFunc func(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error)
	// FillPrice is the default execution price when PlaceOrderFunc is nil
	// and the request carries no price.
	FillPrice decimal.Decimal
	// Fee charged per fill in quote currency.
	Fee decimal.Decimal
	// Balances returned by GetBalance.
	Balances map[string]types.Balance

	placed     []types.OrderRequest
	events     chan connector.StreamEvent
	eventsOnce sync.Once

	MakerFee decimal.Decimal
	TakerFee decimal.Decimal
}

var _ connector.Connector = (*MockConnector)(nil)

// NewMockConnector creates a mock venue with generous default balances.
func NewMockConnector(name string) *MockConnector {
	return &MockConnector{
		VenueName: name,
		Balances: map[string]types.Balance{
			"BTC":  {Asset: "BTC", Free: decimal.NewFromInt(1000)},
			"USD":  {Asset: "USD", Free: decimal.NewFromInt(1000000)},
			"USDT": {Asset: "USDT", Free: decimal.NewFromInt(1000000)},
		},
		TakerFee: decimal.RequireFromString("0.001"),
	}
}

func (m *MockConnector) Name() string { return m.VenueName }

// Subscribe returns a stream the test drives through Emit.
func (m *MockConnector) Subscribe(ctx context.Context, _ []string) (<-chan connector.StreamEvent, error) {
	m.eventsOnce.Do(func() {
		m.events = make(chan connector.StreamEvent, 256)
	})
	go func() {
		<-ctx.Done()
		close(m.events)
	}()
	return m.events, nil
}

// Emit pushes a stream event to subscribers. Subscribe must be called first.
func (m *MockConnector) Emit(ev connector.StreamEvent) {
	m.events <- ev
}

func (m *MockConnector) PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	m.mu.Lock()
	fn := m.PlaceOrderFunc
	fillPrice := m.FillPrice
	fee := m.Fee
	m.placed = append(m.placed, req)
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}

	price := req.Price
	if price.IsZero() {
		price = fillPrice
	}
	return &types.OrderResult{
		OrderID:     m.VenueName + "-" + req.ClientOrderID,
		Instrument:  req.Instrument,
		Side:        req.Side,
		Status:      types.OrderStatusFilled,
		FilledSize:  req.Size,
		FilledPrice: price,
		Fee:         fee,
		PlacedAt:    time.Now(),
	}, nil
}

func (m *MockConnector) CancelOrder(_ context.Context, _, _ string) error { return nil }

func (m *MockConnector) GetOpenOrders(_ context.Context, _ string) ([]types.OrderResult, error) {
	return nil, nil
}

func (m *MockConnector) GetBalance(_ context.Context) (map[string]types.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]types.Balance, len(m.Balances))
	for k, v := range m.Balances {
		out[k] = v
	}
	return out, nil
}

func (m *MockConnector) GetPosition(_ context.Context, _ string) (*types.Position, error) {
	return nil, nil
}

func (m *MockConnector) GetTradingFees(_ context.Context, _ string) (maker, taker decimal.Decimal, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.MakerFee, m.TakerFee, nil
}

// PlacedOrders returns a copy of every order request seen so far.
func (m *MockConnector) PlacedOrders() []types.OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.OrderRequest, len(m.placed))
	copy(out, m.placed)
	return out
}

// SetPlaceOrderFunc swaps the order behavior mid-test.
func (m *MockConnector) SetPlaceOrderFunc(fn func(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PlaceOrderFunc = fn
}
