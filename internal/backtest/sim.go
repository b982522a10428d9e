package backtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/taku247/omg-tool/pkg/connector"
	"github.com/taku247/omg-tool/pkg/types"
)

// SimConnector is a deterministic connector backed by replayed quotes.
// Market orders fill at the venue's current top of book plus a configurable
// slippage fraction; FailOrders injects leg failures for partial-failure
// runs.
type SimConnector struct {
	venue    string
	takerFee decimal.Decimal
	slippage decimal.Decimal

	mu       sync.Mutex
	quotes   map[string]*types.Quote
	orderSeq int

	// FailOrders makes PlaceOrder reject every order while set.
	FailOrders bool
}

var _ connector.Connector = (*SimConnector)(nil)

// NewSimConnector creates a simulated venue. takerFee and slippage are
// fractions (0.001 = 10 bps).
func NewSimConnector(venue string, takerFee, slippage decimal.Decimal) *SimConnector {
	return &SimConnector{
		venue:    venue,
		takerFee: takerFee,
		slippage: slippage,
		quotes:   make(map[string]*types.Quote),
	}
}

func (s *SimConnector) Name() string { return s.venue }

// SetQuote advances the venue's view of an instrument. The engine calls
// this for each replayed row before detection runs.
func (s *SimConnector) SetQuote(q *types.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[q.Instrument] = q
}

// Subscribe is unused in replay; the engine feeds the aggregator directly.
func (s *SimConnector) Subscribe(_ context.Context, _ []string) (<-chan connector.StreamEvent, error) {
	ch := make(chan connector.StreamEvent)
	close(ch)
	return ch, nil
}

func (s *SimConnector) PlaceOrder(_ context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailOrders {
		return nil, fmt.Errorf("%s: simulated order failure", s.venue)
	}

	q, ok := s.quotes[req.Instrument]
	if !ok {
		return nil, fmt.Errorf("%s: no market data for %s", s.venue, req.Instrument)
	}

	var price decimal.Decimal
	one := decimal.NewFromInt(1)
	switch req.Side {
	case types.SideBuy:
		price = q.Ask.Mul(one.Add(s.slippage))
	case types.SideSell:
		price = q.Bid.Mul(one.Sub(s.slippage))
	default:
		return nil, fmt.Errorf("unknown side %q", req.Side)
	}

	s.orderSeq++
	return &types.OrderResult{
		OrderID:     fmt.Sprintf("%s-sim-%d", s.venue, s.orderSeq),
		Instrument:  req.Instrument,
		Side:        req.Side,
		Status:      types.OrderStatusFilled,
		FilledSize:  req.Size,
		FilledPrice: price,
		Fee:         price.Mul(req.Size).Mul(s.takerFee),
		PlacedAt:    q.ObservedAt,
	}, nil
}

func (s *SimConnector) CancelOrder(_ context.Context, _, _ string) error { return nil }

func (s *SimConnector) GetOpenOrders(_ context.Context, _ string) ([]types.OrderResult, error) {
	return nil, nil
}

// GetBalance reports effectively unlimited funds; sizing discipline in a
// backtest comes from the risk gate's exposure caps.
func (s *SimConnector) GetBalance(_ context.Context) (map[string]types.Balance, error) {
	free := decimal.New(1, 9)
	return map[string]types.Balance{
		"USD":  {Asset: "USD", Free: free},
		"USDT": {Asset: "USDT", Free: free},
	}, nil
}

func (s *SimConnector) GetPosition(_ context.Context, _ string) (*types.Position, error) {
	return nil, nil
}

func (s *SimConnector) GetTradingFees(_ context.Context, _ string) (maker, taker decimal.Decimal, err error) {
	return decimal.Zero, s.takerFee, nil
}
