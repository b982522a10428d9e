package risk

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taku247/omg-tool/pkg/types"
	"go.uber.org/zap"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testGate() *Gate {
	return New(Config{
		MaxPositionsPerSymbol: 3,
		MaxTotalPositions:     10,
		MaxExchangeExposure:   dec("20000"),
		MaxTotalExposure:      dec("50000"),
		MaxDailyLoss:          dec("1000"),
		MaxDrawdown:           dec("5000"),
		MinExchangeBalance:    dec("1000"),
		CooldownPeriod:        5 * time.Minute,
		Logger:                zap.NewNop(),
	})
}

func testOpportunity(id, instrument string) *types.Opportunity {
	return &types.Opportunity{
		ID:             id,
		Instrument:     instrument,
		BuyVenue:       "venueA",
		SellVenue:      "venueB",
		BuyPrice:       dec("100.05"),
		SellPrice:      dec("100.60"),
		SpreadPct:      dec("0.55"),
		Size:           dec("10"),
		ExpectedProfit: dec("5.5"),
		DetectedAt:     time.Now(),
	}
}

func richBalances() map[string]BalanceSnapshot {
	return map[string]BalanceSnapshot{
		"venueA": {Quote: dec("100000"), Base: dec("1000")},
		"venueB": {Quote: dec("100000"), Base: dec("1000")},
	}
}

func result(opportunityID string, pnl decimal.Decimal) *types.ExecutionResult {
	return &types.ExecutionResult{
		OpportunityID: opportunityID,
		Kind:          types.ResultClosed,
		RealizedPnL:   pnl,
		CompletedAt:   time.Now(),
	}
}

func TestApproveReservesState(t *testing.T) {
	g := testGate()
	opp := testOpportunity("ARB_000001", "BTC")

	ok, reason := g.Approve(opp, richBalances())
	require.True(t, ok, reason)

	snap := g.Snapshot()
	assert.Equal(t, 1, snap.TotalPositions)
	assert.Equal(t, 1, snap.OpenPositions["BTC"])
	assert.True(t, snap.TotalExposure.Equal(opp.Notional()))
	assert.True(t, snap.VenueExposure["venueA"].Equal(opp.Notional()))
	assert.True(t, snap.VenueExposure["venueB"].Equal(opp.Notional()))
	assert.Equal(t, 1, snap.ActiveReservations)
}

func TestApproveRejectsAtMaxTotalPositions(t *testing.T) {
	g := testGate()
	g.config.MaxTotalPositions = 2
	g.config.MaxPositionsPerSymbol = 5

	for i := 1; i <= 2; i++ {
		ok, reason := g.Approve(testOpportunity(fmt.Sprintf("ARB_%06d", i), "BTC"), richBalances())
		require.True(t, ok, reason)
	}

	before := g.Snapshot()
	ok, reason := g.Approve(testOpportunity("ARB_000003", "BTC"), richBalances())
	assert.False(t, ok)
	assert.Equal(t, ReasonTotalCount, reason)

	// Rejection leaves risk state untouched.
	after := g.Snapshot()
	assert.Equal(t, before.TotalPositions, after.TotalPositions)
	assert.True(t, before.TotalExposure.Equal(after.TotalExposure))
}

func TestExposureCapIsMonotonic(t *testing.T) {
	g := testGate()
	g.config.MaxTotalExposure = dec("2000")
	g.config.MaxExchangeExposure = dec("100000")

	// Notional is 1000.50 each; the second fill hits the cap.
	ok, _ := g.Approve(testOpportunity("ARB_000001", "BTC"), richBalances())
	require.True(t, ok)

	ok, reason := g.Approve(testOpportunity("ARB_000002", "ETH"), richBalances())
	assert.False(t, ok)
	assert.Equal(t, ReasonTotalExposure, reason)

	// No approval succeeds until exposure is released.
	ok, _ = g.Approve(testOpportunity("ARB_000003", "SOL"), richBalances())
	assert.False(t, ok)

	g.Release(result("ARB_000001", dec("5")))

	// The released instrument is in cooldown, but another one clears.
	ok, reason = g.Approve(testOpportunity("ARB_000004", "ETH"), richBalances())
	assert.True(t, ok, reason)
}

func TestCheckOrderFirstFailureWins(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(g *Gate)
		want   string
	}{
		{
			name:   "frozen before cooldown",
			mutate: func(g *Gate) { g.Freeze("BTC"); g.cooldownUntil["BTC"] = g.now().Add(time.Hour) },
			want:   ReasonFrozen,
		},
		{
			name:   "cooldown before position counts",
			mutate: func(g *Gate) { g.cooldownUntil["BTC"] = g.now().Add(time.Hour); g.totalPositions = 10 },
			want:   ReasonCooldown,
		},
		{
			name:   "instrument count before total count",
			mutate: func(g *Gate) { g.positionsByInst["BTC"] = 3; g.totalPositions = 10 },
			want:   ReasonInstrumentCount,
		},
		{
			name:   "venue exposure before total exposure",
			mutate: func(g *Gate) { g.venueExposure["venueA"] = dec("20000"); g.totalExposure = dec("50000") },
			want:   ReasonVenueExposure,
		},
		{
			name:   "daily loss after exposure",
			mutate: func(g *Gate) { g.dailyPnL = dec("-1000") },
			want:   ReasonDailyLoss,
		},
		{
			name:   "drawdown after daily loss",
			mutate: func(g *Gate) { g.peakEquity = dec("5000"); g.equity = dec("0") },
			want:   ReasonDrawdown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := testGate()
			tt.mutate(g)
			ok, reason := g.Approve(testOpportunity("ARB_000001", "BTC"), richBalances())
			assert.False(t, ok)
			assert.Equal(t, tt.want, reason)
		})
	}
}

func TestApproveRejectsExcessiveSlippage(t *testing.T) {
	g := testGate()
	g.config.MaxSlippagePct = dec("0.5")

	opp := testOpportunity("ARB_000001", "BTC")
	opp.Metrics = &types.OpportunityMetrics{
		SlippageBuyPct:  dec("0.2"),
		SlippageSellPct: dec("0.8"),
	}
	ok, reason := g.Approve(opp, richBalances())
	assert.False(t, ok)
	assert.Equal(t, ReasonSlippage, reason)

	// Within the cap the opportunity clears.
	opp = testOpportunity("ARB_000002", "BTC")
	opp.Metrics = &types.OpportunityMetrics{
		SlippageBuyPct:  dec("0.2"),
		SlippageSellPct: dec("0.3"),
	}
	ok, reason = g.Approve(opp, richBalances())
	assert.True(t, ok, reason)

	// Without a metrics block there is nothing to check.
	opp = testOpportunity("ARB_000003", "ETH")
	ok, reason = g.Approve(opp, richBalances())
	assert.True(t, ok, reason)
}

func TestApproveInsufficientBalance(t *testing.T) {
	g := testGate()
	opp := testOpportunity("ARB_000001", "BTC")

	tests := []struct {
		name     string
		balances map[string]BalanceSnapshot
	}{
		{"missing buy venue", map[string]BalanceSnapshot{"venueB": {Quote: dec("100000"), Base: dec("1000")}}},
		{"quote below notional plus floor", map[string]BalanceSnapshot{
			"venueA": {Quote: dec("1500"), Base: dec("1000")},
			"venueB": {Quote: dec("100000"), Base: dec("1000")},
		}},
		{"sell venue lacks base inventory", map[string]BalanceSnapshot{
			"venueA": {Quote: dec("100000"), Base: dec("1000")},
			"venueB": {Quote: dec("100000"), Base: dec("5")},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := g.Approve(opp, tt.balances)
			assert.False(t, ok)
			assert.Equal(t, ReasonBalance, reason)
		})
	}
}

func TestReleaseStartsCooldown(t *testing.T) {
	g := testGate()
	base := time.Now()
	g.now = func() time.Time { return base }

	ok, _ := g.Approve(testOpportunity("ARB_000001", "BTC"), richBalances())
	require.True(t, ok)
	g.Release(result("ARB_000001", dec("5")))

	ok, reason := g.Approve(testOpportunity("ARB_000002", "BTC"), richBalances())
	assert.False(t, ok)
	assert.Equal(t, ReasonCooldown, reason)

	// Past the cooldown window the instrument trades again.
	g.now = func() time.Time { return base.Add(5*time.Minute + time.Second) }
	ok, reason = g.Approve(testOpportunity("ARB_000003", "BTC"), richBalances())
	assert.True(t, ok, reason)
}

func TestReleaseBooksLossesIntoDrawdown(t *testing.T) {
	g := testGate()
	g.config.CooldownPeriod = 0

	// Win 3000 then lose 5200: equity -2200, peak 3000, drawdown 5200.
	ok, _ := g.Approve(testOpportunity("ARB_000001", "BTC"), richBalances())
	require.True(t, ok)
	g.Release(result("ARB_000001", dec("3000")))

	ok, _ = g.Approve(testOpportunity("ARB_000002", "ETH"), richBalances())
	require.True(t, ok)
	g.Release(result("ARB_000002", dec("-5200")))

	snap := g.Snapshot()
	assert.True(t, snap.Drawdown.Equal(dec("5200")), "drawdown %s", snap.Drawdown)
	assert.True(t, snap.DailyPnL.Equal(dec("-2200")))

	ok, reason := g.Approve(testOpportunity("ARB_000003", "SOL"), richBalances())
	assert.False(t, ok)
	// Daily loss check fires before drawdown: -2200 is past the 1000 limit.
	assert.Equal(t, ReasonDailyLoss, reason)

	// Daily reset clears the P&L check but the drawdown stands.
	g.ResetDailyStats()
	ok, reason = g.Approve(testOpportunity("ARB_000004", "SOL"), richBalances())
	assert.False(t, ok)
	assert.Equal(t, ReasonDrawdown, reason)
}

func TestReleaseUnknownOpportunityIgnored(t *testing.T) {
	g := testGate()
	g.Release(result("ARB_999999", dec("100")))

	snap := g.Snapshot()
	assert.Equal(t, 0, snap.TotalPositions)
	assert.True(t, snap.DailyPnL.IsZero())
}

func TestFreezeUnfreeze(t *testing.T) {
	g := testGate()
	g.Freeze("BTC")
	assert.True(t, g.IsFrozen("BTC"))

	ok, reason := g.Approve(testOpportunity("ARB_000001", "BTC"), richBalances())
	assert.False(t, ok)
	assert.Equal(t, ReasonFrozen, reason)

	// Other instruments keep trading while one is halted.
	ok, reason = g.Approve(testOpportunity("ARB_000002", "ETH"), richBalances())
	assert.True(t, ok, reason)

	g.Unfreeze("BTC")
	assert.False(t, g.IsFrozen("BTC"))
	ok, reason = g.Approve(testOpportunity("ARB_000003", "BTC"), richBalances())
	assert.True(t, ok, reason)
}

func TestConcurrentApprovalsNeverOverReserve(t *testing.T) {
	g := testGate()
	g.config.MaxTotalPositions = 5
	g.config.MaxPositionsPerSymbol = 5

	var wg sync.WaitGroup
	approved := make(chan string, 64)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("ARB_%06d", i+1)
			if ok, _ := g.Approve(testOpportunity(id, "BTC"), richBalances()); ok {
				approved <- id
			}
		}(i)
	}
	wg.Wait()
	close(approved)

	var ids []string
	for id := range approved {
		ids = append(ids, id)
	}
	assert.Len(t, ids, 5)

	snap := g.Snapshot()
	assert.Equal(t, 5, snap.TotalPositions)
	assert.True(t, snap.TotalExposure.Equal(dec("1000.5").Mul(decimal.NewFromInt(5))))
}
