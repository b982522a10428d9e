package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taku247/omg-tool/internal/aggregator"
	"github.com/taku247/omg-tool/internal/risk"
	"github.com/taku247/omg-tool/internal/testutil"
	"github.com/taku247/omg-tool/pkg/connector"
	"github.com/taku247/omg-tool/pkg/types"
	"go.uber.org/zap"
)

type alertRecorder struct {
	mu     sync.Mutex
	alerts []string
}

func (a *alertRecorder) PublishAlert(instrument, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, instrument+": "+message)
}

func (a *alertRecorder) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

type fixture struct {
	venueA  *testutil.MockConnector
	venueB  *testutil.MockConnector
	gate    *risk.Gate
	agg     *aggregator.Manager
	oppChan chan *types.Opportunity
	coord   *Coordinator
	alerts  *alertRecorder
	cancel  context.CancelFunc
}

func newFixture(t *testing.T, opts ...func(*Config)) *fixture {
	t.Helper()

	f := &fixture{
		venueA:  testutil.NewMockConnector("venueA"),
		venueB:  testutil.NewMockConnector("venueB"),
		agg:     aggregator.New(&aggregator.Config{Logger: zap.NewNop(), UpdateBuffer: 16}),
		oppChan: make(chan *types.Opportunity, 8),
		alerts:  &alertRecorder{},
	}
	f.gate = risk.New(risk.Config{
		MaxPositionsPerSymbol: 3,
		MaxTotalPositions:     10,
		MaxExchangeExposure:   testutil.Dec("20000"),
		MaxTotalExposure:      testutil.Dec("50000"),
		MaxDailyLoss:          testutil.Dec("1000"),
		MaxDrawdown:           testutil.Dec("5000"),
		MinExchangeBalance:    testutil.Dec("1000"),
		CooldownPeriod:        time.Minute,
		Logger:                zap.NewNop(),
	})

	registry := connector.NewRegistry(f.venueA, f.venueB)
	cfg := Config{
		ConcurrentLegs:      true,
		OrderTimeout:        time.Second,
		ExitThreshold:       testutil.Dec("0.1"),
		StopLossPct:         testutil.Dec("2.0"),
		MaxPositionDuration: time.Minute,
		ExitCheckInterval:   10 * time.Millisecond,
		Logger:              zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	f.coord = New(cfg, registry, f.gate, f.agg, f.oppChan, f.alerts)

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	require.NoError(t, f.coord.Start(ctx))
	t.Cleanup(func() {
		cancel()
		close(f.oppChan)
		_ = f.coord.Close()
	})
	return f
}

// setQuotes seeds both venue quotes so the exit monitor has market data.
func (f *fixture) setQuotes(aBid, aAsk, bBid, bAsk string) {
	now := time.Now()
	f.agg.OnQuote(testutil.NewQuote("venueA", "BTC", aBid, aAsk, now))
	f.agg.OnQuote(testutil.NewQuote("venueB", "BTC", bBid, bAsk, now))
}

func waitResult(t *testing.T, f *fixture) *types.ExecutionResult {
	t.Helper()
	select {
	case res := <-f.coord.ResultChan():
		return res
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for execution result")
		return nil
	}
}

func TestFullRoundTripOnReconvergence(t *testing.T) {
	f := newFixture(t)

	// Spread already back inside the exit threshold when the monitor first
	// looks, so the position closes on the first tick.
	f.setQuotes("100.30", "100.32", "100.30", "100.32")
	f.venueA.FillPrice = testutil.Dec("100.30")
	f.venueB.FillPrice = testutil.Dec("100.30")

	f.oppChan <- testutil.NewOpportunity("ARB_000001", "BTC")

	res := waitResult(t, f)
	assert.Equal(t, types.ResultClosed, res.Kind)
	assert.Equal(t, "ARB_000001", res.OpportunityID)
	assert.Equal(t, ExitReconverged, res.ExitReason)
	require.NotNil(t, res.CloseBuyLeg)
	require.NotNil(t, res.CloseSellLeg)

	// Entry buy 100.05, close sell 100.30: long +2.5.
	// Entry sell 100.60, close buy 100.30: short +3.0.
	assert.True(t, res.RealizedPnL.Equal(testutil.Dec("5.5")), "pnl %s", res.RealizedPnL)

	// The reservation is freed and the instrument is cooling down.
	snap := f.gate.Snapshot()
	assert.Equal(t, 0, snap.TotalPositions)
	assert.True(t, snap.TotalExposure.IsZero())
	assert.True(t, snap.DailyPnL.Equal(testutil.Dec("5.5")))
	assert.Empty(t, f.coord.ActivePositions())
}

func TestSellLegTimeoutTriggersUnwind(t *testing.T) {
	f := newFixture(t)

	// Sell venue times out; the filled buy leg must be sold back.
	f.venueB.SetPlaceOrderFunc(func(ctx context.Context, _ types.OrderRequest) (*types.OrderResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	f.venueA.FillPrice = testutil.Dec("100.00")

	opp := testutil.NewOpportunity("ARB_000001", "BTC")
	opp.Size = testutil.Dec("1")
	f.oppChan <- opp

	res := waitResult(t, f)
	assert.Equal(t, types.ResultUnwound, res.Kind)
	assert.True(t, res.BuyLeg.OK())
	assert.False(t, res.SellLeg.OK())
	require.NotNil(t, res.CloseBuyLeg)

	// Bought 1 at 100.05, unwound at 100.00: loss of 0.05.
	assert.True(t, res.RealizedPnL.Equal(testutil.Dec("-0.05")), "pnl %s", res.RealizedPnL)

	// Two orders on venue A: the entry buy and the unwind sell.
	orders := f.venueA.PlacedOrders()
	require.Len(t, orders, 2)
	assert.Equal(t, types.SideBuy, orders[0].Side)
	assert.Equal(t, types.SideSell, orders[1].Side)

	snap := f.gate.Snapshot()
	assert.Equal(t, 0, snap.TotalPositions)
	assert.False(t, f.gate.IsFrozen("BTC"))
}

func TestUnwindFailureFreezesAndEscalates(t *testing.T) {
	f := newFixture(t)

	// Sell venue rejects outright; buy venue fills the entry then refuses
	// the unwind.
	f.venueB.SetPlaceOrderFunc(func(_ context.Context, _ types.OrderRequest) (*types.OrderResult, error) {
		return nil, errors.New("venue rejected order")
	})
	entryDone := false
	f.venueA.SetPlaceOrderFunc(func(_ context.Context, req types.OrderRequest) (*types.OrderResult, error) {
		if !entryDone {
			entryDone = true
			return &types.OrderResult{
				OrderID:     "a-1",
				Instrument:  req.Instrument,
				Side:        req.Side,
				Status:      types.OrderStatusFilled,
				FilledSize:  req.Size,
				FilledPrice: req.Price,
				PlacedAt:    time.Now(),
			}, nil
		}
		return nil, errors.New("venue unavailable")
	})

	f.oppChan <- testutil.NewOpportunity("ARB_000001", "BTC")

	res := waitResult(t, f)
	assert.Equal(t, types.ResultEscalated, res.Kind)
	assert.True(t, res.Escalated())
	assert.Contains(t, res.ExitReason, "unwind failed")

	assert.True(t, f.gate.IsFrozen("BTC"))
	assert.Equal(t, 1, f.alerts.count())
}

func TestStopLossForcesClose(t *testing.T) {
	f := newFixture(t)

	// Hedge drifted hard against the long leg: unrealized loss ~8.5% of
	// notional while the spread stays wide open.
	f.setQuotes("90.00", "90.05", "99.00", "99.05")
	f.venueA.FillPrice = testutil.Dec("90.00")
	f.venueB.FillPrice = testutil.Dec("99.05")

	f.oppChan <- testutil.NewOpportunity("ARB_000001", "BTC")

	res := waitResult(t, f)
	assert.Equal(t, types.ResultClosed, res.Kind)
	assert.Equal(t, ExitStopLoss, res.ExitReason)
	assert.True(t, res.RealizedPnL.IsNegative(), "pnl %s", res.RealizedPnL)
}

func TestMaxDurationForcesCloseWithoutMarketData(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.MaxPositionDuration = 20 * time.Millisecond })
	f.venueA.FillPrice = testutil.Dec("100.10")
	f.venueB.FillPrice = testutil.Dec("100.50")

	// No quotes seeded: only the duration cap can fire.
	f.oppChan <- testutil.NewOpportunity("ARB_000001", "BTC")

	res := waitResult(t, f)
	assert.Equal(t, types.ResultClosed, res.Kind)
	assert.Equal(t, ExitMaxDuration, res.ExitReason)
}

func TestShutdownCloseFailureStillEmitsResult(t *testing.T) {
	f := newFixture(t)

	// Both venues fill the entry legs, then reject everything: the forced
	// close at shutdown cannot succeed.
	var mu sync.Mutex
	entriesFilled := 0
	fillEntriesThenFail := func(_ context.Context, req types.OrderRequest) (*types.OrderResult, error) {
		mu.Lock()
		defer mu.Unlock()
		if entriesFilled < 2 {
			entriesFilled++
			return &types.OrderResult{
				OrderID:     req.ClientOrderID,
				Instrument:  req.Instrument,
				Side:        req.Side,
				Status:      types.OrderStatusFilled,
				FilledSize:  req.Size,
				FilledPrice: req.Price,
				PlacedAt:    time.Now(),
			}, nil
		}
		return nil, errors.New("venue down")
	}
	f.venueA.SetPlaceOrderFunc(fillEntriesThenFail)
	f.venueB.SetPlaceOrderFunc(fillEntriesThenFail)

	// No quotes seeded and a long duration cap, so the position stays open
	// until the shutdown forces the close attempt.
	f.oppChan <- testutil.NewOpportunity("ARB_000001", "BTC")
	require.Eventually(t, func() bool {
		return len(f.coord.ActivePositions()) == 1
	}, time.Second, 5*time.Millisecond)

	f.cancel()

	res := waitResult(t, f)
	assert.Equal(t, types.ResultEscalated, res.Kind)
	assert.Contains(t, res.ExitReason, "close failed")
	assert.True(t, f.gate.IsFrozen("BTC"))
	assert.Equal(t, 1, f.alerts.count())

	// The reservation is freed even though the close never went through.
	snap := f.gate.Snapshot()
	assert.Equal(t, 0, snap.TotalPositions)
	assert.True(t, snap.TotalExposure.IsZero())
	assert.Empty(t, f.coord.ActivePositions())
}

func TestBothLegsFailedRecordsFailure(t *testing.T) {
	f := newFixture(t)

	fail := func(_ context.Context, _ types.OrderRequest) (*types.OrderResult, error) {
		return nil, errors.New("venue down")
	}
	f.venueA.SetPlaceOrderFunc(fail)
	f.venueB.SetPlaceOrderFunc(fail)

	f.oppChan <- testutil.NewOpportunity("ARB_000001", "BTC")

	res := waitResult(t, f)
	assert.Equal(t, types.ResultFailed, res.Kind)
	assert.False(t, res.BuyLeg.OK())
	assert.False(t, res.SellLeg.OK())
	assert.True(t, res.RealizedPnL.IsZero())

	snap := f.gate.Snapshot()
	assert.Equal(t, 0, snap.TotalPositions)
	assert.True(t, snap.TotalExposure.IsZero())
}

func TestGateRejectionPlacesNoOrders(t *testing.T) {
	f := newFixture(t)
	f.gate.Freeze("BTC")

	f.oppChan <- testutil.NewOpportunity("ARB_000001", "BTC")

	// Give the loop time to process and reject.
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, f.venueA.PlacedOrders())
	assert.Empty(t, f.venueB.PlacedOrders())

	select {
	case res := <-f.coord.ResultChan():
		t.Fatalf("unexpected result %v", res)
	default:
	}
}

func TestSequentialLegsPlaceBuyFirst(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.ConcurrentLegs = false })

	var order []string
	var mu sync.Mutex
	record := func(venue string) func(_ context.Context, req types.OrderRequest) (*types.OrderResult, error) {
		return func(_ context.Context, req types.OrderRequest) (*types.OrderResult, error) {
			mu.Lock()
			order = append(order, venue)
			mu.Unlock()
			return nil, errors.New("recorded only")
		}
	}
	f.venueA.SetPlaceOrderFunc(record("venueA"))
	f.venueB.SetPlaceOrderFunc(record("venueB"))

	f.oppChan <- testutil.NewOpportunity("ARB_000001", "BTC")
	res := waitResult(t, f)
	assert.Equal(t, types.ResultFailed, res.Kind)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"venueA", "venueB"}, order)
}
