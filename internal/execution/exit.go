package execution

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/taku247/omg-tool/pkg/types"
	"go.uber.org/zap"
)

// Exit reasons recorded on the terminal result.
const (
	ExitReconverged = "spread reconverged"
	ExitStopLoss    = "stop loss"
	ExitMaxDuration = "max position duration"
	ExitShutdown    = "shutdown"
)

// maxCloseAttempts bounds retries of a failing close before the instrument
// is frozen and the position escalated.
const maxCloseAttempts = 3

var exitHundred = decimal.NewFromInt(100)

// monitorExit polls the live spread for an open position and closes it when
// the spread reconverges below the exit threshold, the hedge drifts past the
// stop loss, or the position has been held too long. Shutdown forces a final
// close attempt so no position is abandoned silently.
func (c *Coordinator) monitorExit(pos *position) {
	ticker := time.NewTicker(c.config.ExitCheckInterval)
	defer ticker.Stop()

	closeFailures := 0
	for {
		select {
		case <-c.ctx.Done():
			// The shutdown close gets one attempt; a failure still has to
			// produce the position's terminal result and free its
			// reservation, so it escalates instead of retrying.
			if err := c.closePosition(pos, ExitShutdown); err != nil {
				CloseFailuresTotal.Inc()
				c.logger.Error("shutdown-close-failed",
					zap.String("position-id", pos.ID),
					zap.Error(err))
				c.escalateClose(pos, err)
			}
			return
		case <-ticker.C:
			reason, due := c.exitDue(pos)
			if !due {
				continue
			}
			if err := c.closePosition(pos, reason); err != nil {
				closeFailures++
				CloseFailuresTotal.Inc()
				c.logger.Error("position-close-failed",
					zap.String("position-id", pos.ID),
					zap.Int("attempt", closeFailures),
					zap.Error(err))
				if closeFailures >= maxCloseAttempts {
					c.escalateClose(pos, err)
					return
				}
				continue
			}
			return
		}
	}
}

// exitDue evaluates the three exit conditions against current venue state.
// Missing or stale quotes defer the decision to the next tick, except the
// duration cap which needs no market data.
func (c *Coordinator) exitDue(pos *position) (string, bool) {
	if c.config.MaxPositionDuration > 0 && time.Since(pos.OpenedAt) >= c.config.MaxPositionDuration {
		return ExitMaxDuration, true
	}

	buyState := c.agg.State(pos.BuyVenue, pos.Instrument)
	sellState := c.agg.State(pos.SellVenue, pos.Instrument)
	if buyState == nil || sellState == nil || buyState.Quote == nil || sellState.Quote == nil {
		return "", false
	}

	buyAsk := buyState.Quote.Ask
	sellBid := sellState.Quote.Bid
	if buyAsk.LessThanOrEqual(decimal.Zero) {
		return "", false
	}

	spreadPct := sellBid.Sub(buyAsk).Div(buyAsk).Mul(exitHundred)
	if spreadPct.Abs().LessThanOrEqual(c.config.ExitThreshold) {
		return ExitReconverged, true
	}

	if c.config.StopLossPct.IsPositive() {
		unrealized := c.unrealizedPnL(pos, buyState.Quote, sellState.Quote)
		if unrealized.IsNegative() {
			notional := pos.Size.Mul(pos.BuyLeg.FilledPrice)
			if notional.IsPositive() {
				lossPct := unrealized.Abs().Div(notional).Mul(exitHundred)
				if lossPct.GreaterThanOrEqual(c.config.StopLossPct) {
					return ExitStopLoss, true
				}
			}
		}
	}

	return "", false
}

// unrealizedPnL marks the long leg to the buy venue's bid and the short leg
// to the sell venue's ask.
func (c *Coordinator) unrealizedPnL(pos *position, buyQuote, sellQuote *types.Quote) decimal.Decimal {
	longPnL := buyQuote.Bid.Sub(pos.BuyLeg.FilledPrice).Mul(pos.Size)
	shortPnL := pos.SellLeg.FilledPrice.Sub(sellQuote.Ask).Mul(pos.Size)
	return longPnL.Add(shortPnL)
}

// closePosition places the two closing legs: a sell on the buy venue and a
// buy back on the sell venue. Both closing fills are required; a partial
// close returns an error and leaves the position registered for retry.
func (c *Coordinator) closePosition(pos *position, reason string) error {
	c.logger.Info("closing-position",
		zap.String("position-id", pos.ID),
		zap.String("instrument", pos.Instrument),
		zap.String("reason", reason))

	closeLongReq := types.OrderRequest{
		Instrument:    pos.Instrument,
		Side:          types.SideSell,
		Type:          types.OrderTypeMarket,
		Size:          pos.Size,
		ClientOrderID: pos.ID + "_close_long",
	}
	closeShortReq := types.OrderRequest{
		Instrument:    pos.Instrument,
		Side:          types.SideBuy,
		Type:          types.OrderTypeMarket,
		Size:          pos.Size,
		ClientOrderID: pos.ID + "_close_short",
	}

	closeLong, closeShort := c.placeLegs(pos.BuyVenue, closeLongReq, pos.SellVenue, closeShortReq)
	if !closeLong.OK() {
		return &types.LegError{Venue: pos.BuyVenue, Side: types.SideSell, Reason: closeLong.Failure}
	}
	if !closeShort.OK() {
		return &types.LegError{Venue: pos.SellVenue, Side: types.SideBuy, Reason: closeShort.Failure}
	}

	longPnL := closeLong.FilledPrice.Sub(pos.BuyLeg.FilledPrice).Mul(pos.Size)
	shortPnL := pos.SellLeg.FilledPrice.Sub(closeShort.FilledPrice).Mul(pos.Size)
	fees := pos.BuyLeg.Fee.Add(pos.SellLeg.Fee).Add(closeLong.Fee).Add(closeShort.Fee)

	result := &types.ExecutionResult{
		OpportunityID: pos.OpportunityID,
		PositionID:    pos.ID,
		Instrument:    pos.Instrument,
		Kind:          types.ResultClosed,
		BuyLeg:        pos.BuyLeg,
		SellLeg:       pos.SellLeg,
		CloseBuyLeg:   &closeLong,
		CloseSellLeg:  &closeShort,
		RealizedPnL:   longPnL.Add(shortPnL).Sub(fees),
		FeesPaid:      fees,
		ExitReason:    reason,
		CompletedAt:   time.Now(),
	}

	c.removePosition(pos.ID)
	PositionHoldSeconds.Observe(time.Since(pos.OpenedAt).Seconds())

	c.logger.Info("position-closed",
		zap.String("position-id", pos.ID),
		zap.String("reason", reason),
		zap.String("realized-pnl", result.RealizedPnL.String()),
		zap.Duration("held", time.Since(pos.OpenedAt)))

	c.finish(result)
	return nil
}

// escalateClose gives up on a position whose close keeps failing: the
// instrument is frozen, the operator alerted, and the position recorded as
// escalated with zero realized figures since its true state is unknown.
func (c *Coordinator) escalateClose(pos *position, closeErr error) {
	c.gate.Freeze(pos.Instrument)
	if c.alerter != nil {
		c.alerter.PublishAlert(pos.Instrument,
			"position close failed repeatedly; instrument frozen pending operator reset")
	}

	c.removePosition(pos.ID)

	c.finish(&types.ExecutionResult{
		OpportunityID: pos.OpportunityID,
		PositionID:    pos.ID,
		Instrument:    pos.Instrument,
		Kind:          types.ResultEscalated,
		BuyLeg:        pos.BuyLeg,
		SellLeg:       pos.SellLeg,
		ExitReason:    "close failed: " + closeErr.Error(),
		CompletedAt:   time.Now(),
	})
}

func (c *Coordinator) removePosition(id string) {
	c.mu.Lock()
	delete(c.positions, id)
	OpenPositions.Set(float64(len(c.positions)))
	c.mu.Unlock()
}
