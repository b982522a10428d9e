package detector

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/taku247/omg-tool/pkg/fees"
	"github.com/taku247/omg-tool/pkg/types"
	"go.uber.org/zap"
)

// safetyMargin shrinks the depth-derived size so that a partially consumed
// book still covers both legs.
var safetyMargin = decimal.RequireFromString("0.5")

// thinBookSlippage marks a book too shallow to absorb the requested size.
var thinBookSlippage = decimal.NewFromInt(999)

const topLevels = 3

// analyze produces the optional detailed metrics block for an opportunity:
// fill-weighted slippage per leg, a liquidity score, a depth-bounded optimal
// size, slippage- and fee-adjusted net profit, and a risk score.
func (d *Detector) analyze(opp *types.Opportunity, buyDepth, sellDepth *types.DepthSnapshot) *types.OpportunityMetrics {
	buyAvg, buySlip := walkBook(buyDepth.Asks, opp.Size)
	sellAvg, sellSlip := walkBook(sellDepth.Bids, opp.Size)

	optimalSize := decimal.Min(
		opp.Size,
		decimal.Min(topDepth(buyDepth.Asks), topDepth(sellDepth.Bids)).Mul(safetyMargin),
	)

	metrics := &types.OpportunityMetrics{
		SlippageBuyPct:  buySlip,
		SlippageSellPct: sellSlip,
		LiquidityScore:  d.liquidityScore(opp, buyDepth, sellDepth),
		OptimalSize:     optimalSize,
		RiskScore:       riskScore(buySlip, sellSlip, opp.SpreadPct),
	}

	// Net profit on slippage-adjusted execution prices, minus taker fees for
	// both legs. A thin book yields the sentinel slippage and no meaningful
	// net figure; the sentinel trips the gate's slippage cap.
	if buySlip.Equal(thinBookSlippage) || sellSlip.Equal(thinBookSlippage) {
		metrics.NetProfit = decimal.Zero
		return metrics
	}

	buyRates, sellRates := d.pairRates(opp)
	gross := sellAvg.Sub(buyAvg).Mul(optimalSize)
	feeCost := buyAvg.Mul(optimalSize).Mul(buyRates.Taker).
		Add(sellAvg.Mul(optimalSize).Mul(sellRates.Taker))
	metrics.NetProfit = gross.Sub(feeCost)

	return metrics
}

func (d *Detector) pairRates(opp *types.Opportunity) (buy, sell fees.Rates) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	buy, err := d.feeSource.Rates(ctx, opp.BuyVenue, opp.Instrument)
	if err != nil {
		d.logger.Debug("buy-fee-lookup-failed", zap.String("venue", opp.BuyVenue), zap.Error(err))
	}
	sell, err = d.feeSource.Rates(ctx, opp.SellVenue, opp.Instrument)
	if err != nil {
		d.logger.Debug("sell-fee-lookup-failed", zap.String("venue", opp.SellVenue), zap.Error(err))
	}
	return buy, sell
}

// walkBook consumes levels best-first until size is filled and returns the
// fill-weighted average price and the slippage percentage versus the best
// level. A book that cannot absorb the size returns the sentinel slippage.
func walkBook(levels []types.PriceLevel, size decimal.Decimal) (avgPrice, slippagePct decimal.Decimal) {
	if len(levels) == 0 || size.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, thinBookSlippage
	}

	remaining := size
	totalCost := decimal.Zero
	for _, lvl := range levels {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		fill := decimal.Min(remaining, lvl.Size)
		totalCost = totalCost.Add(lvl.Price.Mul(fill))
		remaining = remaining.Sub(fill)
	}

	if remaining.IsPositive() {
		return decimal.Zero, thinBookSlippage
	}

	avgPrice = totalCost.Div(size)
	best := levels[0].Price
	slippagePct = avgPrice.Sub(best).Abs().Div(best).Mul(hundred)
	return avgPrice, slippagePct
}

// topDepth sums the sizes of the best levels of one book side.
func topDepth(levels []types.PriceLevel, n ...int) decimal.Decimal {
	limit := topLevels
	if len(n) > 0 {
		limit = n[0]
	}
	if limit > len(levels) {
		limit = len(levels)
	}
	total := decimal.Zero
	for _, lvl := range levels[:limit] {
		total = total.Add(lvl.Size)
	}
	return total
}

// liquidityScore combines normalized top-of-book depth with the inverse of
// the combined per-venue book spread, clamped to [0, 1]. Deep books with
// tight venue spreads score near 1.
func (d *Detector) liquidityScore(opp *types.Opportunity, buyDepth, sellDepth *types.DepthSnapshot) decimal.Decimal {
	required := opp.Size
	if required.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	buyRatio := clampOne(topDepth(buyDepth.Asks).Div(required))
	sellRatio := clampOne(topDepth(sellDepth.Bids).Div(required))
	depthScore := buyRatio.Add(sellRatio).Div(decimal.NewFromInt(2))

	combined := bookSpreadPct(buyDepth).Add(bookSpreadPct(sellDepth))
	tightness := decimal.NewFromInt(1).Div(decimal.NewFromInt(1).Add(combined))

	return depthScore.Mul(tightness)
}

func bookSpreadPct(depth *types.DepthSnapshot) decimal.Decimal {
	if len(depth.Bids) == 0 || len(depth.Asks) == 0 {
		return hundred
	}
	bid := depth.Bids[0].Price
	ask := depth.Asks[0].Price
	if bid.LessThanOrEqual(decimal.Zero) {
		return hundred
	}
	return ask.Sub(bid).Div(bid).Mul(hundred)
}

// riskScore relates total expected price impact to the spread being
// captured: 0 means impact-free, 1 means slippage consumes the whole edge.
func riskScore(buySlip, sellSlip, spreadPct decimal.Decimal) decimal.Decimal {
	if spreadPct.LessThanOrEqual(decimal.Zero) {
		return decimal.NewFromInt(1)
	}
	impact := buySlip.Add(sellSlip)
	if impact.GreaterThanOrEqual(thinBookSlippage) {
		return decimal.NewFromInt(1)
	}
	return clampOne(impact.Div(spreadPct))
}

func clampOne(v decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if v.GreaterThan(one) {
		return one
	}
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
