package detector

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taku247/omg-tool/internal/aggregator"
	"github.com/taku247/omg-tool/pkg/config"
	"github.com/taku247/omg-tool/pkg/fees"
	"github.com/taku247/omg-tool/pkg/types"
	"go.uber.org/zap"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testConfig() Config {
	return Config{
		MinSpreadThreshold: dec("0.1"),
		MaxPositionSize:    dec("10000"),
		MinProfitThreshold: dec("5"),
		LiquidityFraction:  dec("0.10"),
		StalenessBound:     5 * time.Second,
		Workers:            2,
		Logger:             zap.NewNop(),
	}
}

func newTestDetector(cfg Config) *Detector {
	agg := aggregator.New(&aggregator.Config{Logger: zap.NewNop(), UpdateBuffer: 16})
	feeSource := fees.NewStaticProvider(map[string]config.FeeRates{})
	return New(cfg, agg, feeSource, nil)
}

func venueState(venue, instrument string, bid, ask, vol string, at time.Time) *types.VenueState {
	return &types.VenueState{
		Venue:      venue,
		Instrument: instrument,
		Quote: &types.Quote{
			Venue:      venue,
			Instrument: instrument,
			Bid:        dec(bid),
			Ask:        dec(ask),
			BidSize:    decimal.NewFromInt(100),
			AskSize:    decimal.NewFromInt(100),
			Volume24h:  dec(vol),
			ObservedAt: at,
		},
		LastUpdate: at,
	}
}

func TestEvaluateEmitsOpportunity(t *testing.T) {
	d := newTestDetector(testConfig())
	now := time.Now()

	states := []*types.VenueState{
		venueState("venueA", "BTC", "100.00", "100.05", "10000", now),
		venueState("venueB", "BTC", "100.60", "100.65", "10000", now),
	}

	opps := d.Evaluate("BTC", states, now)
	require.Len(t, opps, 1)

	opp := opps[0]
	assert.Equal(t, "venueA", opp.BuyVenue)
	assert.Equal(t, "venueB", opp.SellVenue)
	assert.Equal(t, "ARB_000001", opp.ID)

	// spread% = (100.60 - 100.05) / 100.05 * 100
	wantSpread := dec("100.60").Sub(dec("100.05")).Div(dec("100.05")).Mul(decimal.NewFromInt(100))
	assert.True(t, opp.SpreadPct.Equal(wantSpread), "got %s want %s", opp.SpreadPct, wantSpread)
	assert.True(t, opp.SpreadPct.GreaterThan(dec("0.54")))
	assert.True(t, opp.SpreadPct.LessThan(dec("0.56")))

	assert.True(t, opp.Size.IsPositive())
	assert.True(t, opp.Notional().LessThanOrEqual(dec("10000")))
	assert.True(t, opp.ExpectedProfit.GreaterThanOrEqual(dec("5")))
}

func TestEvaluateStaleQuoteExcluded(t *testing.T) {
	d := newTestDetector(testConfig())
	now := time.Now()

	states := []*types.VenueState{
		venueState("venueA", "BTC", "100.00", "100.05", "10000", now),
		venueState("venueB", "BTC", "100.60", "100.65", "10000", now.Add(-time.Minute)),
	}

	assert.Empty(t, d.Evaluate("BTC", states, now))
}

func TestEvaluateBelowThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.MinSpreadThreshold = dec("1.0")
	d := newTestDetector(cfg)
	now := time.Now()

	states := []*types.VenueState{
		venueState("venueA", "BTC", "100.00", "100.05", "10000", now),
		venueState("venueB", "BTC", "100.60", "100.65", "10000", now),
	}

	assert.Empty(t, d.Evaluate("BTC", states, now))
}

func TestEvaluateCrossedQuoteExcluded(t *testing.T) {
	d := newTestDetector(testConfig())
	now := time.Now()

	// venueB's ask sits below its bid; observed in production on one venue.
	// The spread against it would qualify, but the quote is not tradeable.
	states := []*types.VenueState{
		venueState("venueA", "BTC", "100.00", "100.05", "10000", now),
		venueState("venueB", "BTC", "100.60", "100.20", "10000", now),
	}

	assert.Empty(t, d.Evaluate("BTC", states, now))
}

func TestEvaluateMinProfitGate(t *testing.T) {
	cfg := testConfig()
	cfg.MinProfitThreshold = dec("1000000")
	d := newTestDetector(cfg)
	now := time.Now()

	states := []*types.VenueState{
		venueState("venueA", "BTC", "100.00", "100.05", "10000", now),
		venueState("venueB", "BTC", "100.60", "100.65", "10000", now),
	}

	assert.Empty(t, d.Evaluate("BTC", states, now))
}

func TestEvaluateSizeRespectsVolumeLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MinProfitThreshold = dec("1")
	d := newTestDetector(cfg)
	now := time.Now()

	// Tiny 24h volume caps the recommended size well below max position.
	states := []*types.VenueState{
		venueState("venueA", "BTC", "100.00", "100.05", "50", now),
		venueState("venueB", "BTC", "100.60", "100.65", "50", now),
	}

	opps := d.Evaluate("BTC", states, now)
	require.Len(t, opps, 1)

	// volumeLimit = 50 * 0.10 = 5 base units
	assert.True(t, opps[0].Size.LessThanOrEqual(dec("5")), "size %s", opps[0].Size)
	assert.True(t, opps[0].Size.IsPositive())
}

func TestEvaluateNoVolumeDataUsesMaxPosition(t *testing.T) {
	d := newTestDetector(testConfig())
	now := time.Now()

	states := []*types.VenueState{
		venueState("venueA", "BTC", "100.00", "100.05", "0", now),
		venueState("venueB", "BTC", "100.60", "100.65", "0", now),
	}

	opps := d.Evaluate("BTC", states, now)
	require.Len(t, opps, 1)
	// 10000 / 100.05 base units
	assert.True(t, opps[0].Notional().LessThanOrEqual(dec("10000")))
}

func TestEvaluateThreeVenuesAllQualifyingPairs(t *testing.T) {
	d := newTestDetector(testConfig())
	now := time.Now()

	// venueC's bid clears both venueA's and venueB's ask.
	states := []*types.VenueState{
		venueState("venueA", "BTC", "100.00", "100.05", "10000", now),
		venueState("venueB", "BTC", "100.10", "100.15", "10000", now),
		venueState("venueC", "BTC", "100.90", "100.95", "10000", now),
	}

	opps := d.Evaluate("BTC", states, now)
	require.Len(t, opps, 2)

	sellers := map[string]string{}
	for _, opp := range opps {
		sellers[opp.BuyVenue] = opp.SellVenue
	}
	assert.Equal(t, map[string]string{"venueA": "venueC", "venueB": "venueC"}, sellers)
}

func TestEvaluateMonotonicIDs(t *testing.T) {
	d := newTestDetector(testConfig())
	now := time.Now()

	states := []*types.VenueState{
		venueState("venueA", "BTC", "100.00", "100.05", "10000", now),
		venueState("venueB", "BTC", "100.60", "100.65", "10000", now),
	}

	first := d.Evaluate("BTC", states, now)
	second := d.Evaluate("BTC", states, now)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, "ARB_000001", first[0].ID)
	assert.Equal(t, "ARB_000002", second[0].ID)
}

func TestEvaluateSingleVenueNoOutput(t *testing.T) {
	d := newTestDetector(testConfig())
	now := time.Now()

	states := []*types.VenueState{
		venueState("venueA", "BTC", "100.00", "100.05", "10000", now),
	}
	assert.Empty(t, d.Evaluate("BTC", states, now))
	assert.Empty(t, d.Evaluate("BTC", nil, now))
}
