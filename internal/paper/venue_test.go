package paper

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taku247/omg-tool/pkg/connector"
	"github.com/taku247/omg-tool/pkg/types"
	"go.uber.org/zap"
)

func newTestVenue() *Venue {
	return New(Config{
		Name:         "alpha",
		Instruments:  []string{"BTC/USDT"},
		BasePrice:    decimal.NewFromInt(100),
		TakerFee:     decimal.RequireFromString("0.001"),
		TickInterval: 5 * time.Millisecond,
		Seed:         1,
		Logger:       zap.NewNop(),
	})
}

func TestSubscribeEmitsQuotesUntilCancel(t *testing.T) {
	v := newTestVenue()
	ctx, cancel := context.WithCancel(context.Background())

	events, err := v.Subscribe(ctx, []string{"BTC/USDT"})
	require.NoError(t, err)

	var first connector.StreamEvent
	select {
	case first = <-events:
	case <-time.After(time.Second):
		t.Fatal("no quote emitted")
	}
	require.Equal(t, connector.EventQuote, first.Kind)
	require.NotNil(t, first.Quote)
	assert.Equal(t, "alpha", first.Quote.Venue)
	assert.True(t, first.Quote.Bid.LessThan(first.Quote.Ask), "quote must not be crossed")

	cancel()
	for range events {
	}
}

func TestQuotesStayNearBasePrice(t *testing.T) {
	v := newTestVenue()

	for i := 0; i < 100; i++ {
		q := v.tick("BTC/USDT")
		mid := q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
		assert.True(t, mid.GreaterThan(decimal.NewFromInt(50)), "mid collapsed: %s", mid)
		assert.True(t, mid.LessThan(decimal.NewFromInt(200)), "mid exploded: %s", mid)
	}
}

func TestMarketOrderMovesBalances(t *testing.T) {
	v := newTestVenue()
	ctx := context.Background()

	before, err := v.GetBalance(ctx)
	require.NoError(t, err)

	res, err := v.PlaceOrder(ctx, types.OrderRequest{
		Instrument: "BTC/USDT",
		Side:       types.SideBuy,
		Type:       types.OrderTypeMarket,
		Size:       decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, res.Status)
	assert.True(t, res.Fee.IsPositive())

	after, err := v.GetBalance(ctx)
	require.NoError(t, err)

	spent := res.FilledPrice.Mul(res.FilledSize).Add(res.Fee)
	assert.True(t, after["USDT"].Free.Equal(before["USDT"].Free.Sub(spent)),
		"quote balance: got %s", after["USDT"].Free)
	assert.True(t, after["BTC"].Free.Equal(before["BTC"].Free.Add(decimal.NewFromInt(10))))
}

func TestInsufficientBalanceRejected(t *testing.T) {
	v := New(Config{
		Name:          "alpha",
		Instruments:   []string{"BTC/USDT"},
		StartingQuote: decimal.NewFromInt(1),
		StartingBase:  decimal.RequireFromString("0.001"),
		Seed:          1,
	})

	_, err := v.PlaceOrder(context.Background(), types.OrderRequest{
		Instrument: "BTC/USDT",
		Side:       types.SideBuy,
		Type:       types.OrderTypeMarket,
		Size:       decimal.NewFromInt(10),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient USDT balance")
}

func TestLimitOrdersRejected(t *testing.T) {
	v := newTestVenue()

	_, err := v.PlaceOrder(context.Background(), types.OrderRequest{
		Instrument: "BTC/USDT",
		Side:       types.SideBuy,
		Type:       types.OrderTypeLimit,
		Size:       decimal.NewFromInt(1),
		Price:      decimal.NewFromInt(90),
	})
	require.Error(t, err)
}
