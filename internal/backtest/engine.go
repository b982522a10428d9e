package backtest

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/taku247/omg-tool/internal/aggregator"
	"github.com/taku247/omg-tool/internal/detector"
	"github.com/taku247/omg-tool/internal/risk"
	"github.com/taku247/omg-tool/pkg/config"
	"github.com/taku247/omg-tool/pkg/fees"
	"github.com/taku247/omg-tool/pkg/types"
	"go.uber.org/zap"
)

// Config holds backtest engine configuration. Detection and risk settings
// are the same structures the live engine uses; there is no separate
// backtest rule set.
type Config struct {
	Detector detector.Config
	Risk     risk.Config

	ExitThreshold       decimal.Decimal
	StopLossPct         decimal.Decimal
	MaxPositionDuration time.Duration

	Logger *zap.Logger
}

// Report summarizes one replay run.
type Report struct {
	QuotesReplayed int
	Detected       int
	Approved       int
	Results        []*types.ExecutionResult

	Trades   int
	Wins     int
	TotalPnL decimal.Decimal
	TotalFee decimal.Decimal
}

// WinRate returns the fraction of closed trades with positive net P&L.
func (r *Report) WinRate() decimal.Decimal {
	if r.Trades == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(r.Wins)).Div(decimal.NewFromInt(int64(r.Trades)))
}

type simPosition struct {
	id            string
	opportunityID string
	instrument    string
	buyVenue      string
	sellVenue     string
	size          decimal.Decimal
	buyLeg        types.LegOutcome
	sellLeg       types.LegOutcome
	openedAt      time.Time
}

// Engine drives recorded quotes through the live aggregator, detector and
// risk gate against simulated venues. The replay is single threaded: each
// row is fully processed (exits, then detection, then entries) before the
// next row, so runs are deterministic.
type Engine struct {
	config Config
	logger *zap.Logger

	agg    *aggregator.Manager
	det    *detector.Detector
	gate   *risk.Gate
	venues map[string]*SimConnector

	simNow    time.Time
	positions []*simPosition
	report    *Report
}

// NewEngine builds a replay engine over the given simulated venues.
func NewEngine(cfg Config, venues ...*SimConnector) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Detector.Logger = logger

	e := &Engine{
		config: cfg,
		logger: logger,
		venues: make(map[string]*SimConnector, len(venues)),
		report: &Report{},
	}

	feeRates := make(map[string]config.FeeRates, len(venues))
	for _, v := range venues {
		e.venues[v.Name()] = v
		_, taker, _ := v.GetTradingFees(context.Background(), "")
		feeRates[strings.ToLower(v.Name())] = config.FeeRates{Taker: taker}
	}

	cfg.Risk.Clock = func() time.Time { return e.simNow }
	cfg.Risk.Logger = logger
	e.gate = risk.New(cfg.Risk)

	e.agg = aggregator.New(&aggregator.Config{Logger: logger, UpdateBuffer: 1})
	e.det = detector.New(cfg.Detector, e.agg, fees.NewStaticProvider(feeRates), nil)
	return e
}

// Run replays quotes in order and returns the accumulated report. Any
// position still open when the log ends is closed at the last seen prices.
func (e *Engine) Run(quotes []*types.Quote) *Report {
	for _, q := range quotes {
		e.step(q)
	}

	// Force-close leftovers so every approval yields exactly one result.
	for len(e.positions) > 0 {
		e.closePosition(e.positions[0], "end of data")
	}
	return e.report
}

func (e *Engine) step(q *types.Quote) {
	e.simNow = q.ObservedAt
	e.report.QuotesReplayed++

	if sim, ok := e.venues[q.Venue]; ok {
		sim.SetQuote(q)
	}
	e.agg.OnQuote(q)

	e.checkExits()

	opps := e.det.Evaluate(q.Instrument, e.agg.CurrentState(q.Instrument), e.simNow)
	e.report.Detected += len(opps)

	for _, opp := range opps {
		e.tryOpen(opp)
	}
}

// tryOpen gates the opportunity and places both simulated legs.
func (e *Engine) tryOpen(opp *types.Opportunity) {
	balances := map[string]risk.BalanceSnapshot{
		opp.BuyVenue:  generousBalance(),
		opp.SellVenue: generousBalance(),
	}
	ok, _ := e.gate.Approve(opp, balances)
	if !ok {
		return
	}
	e.report.Approved++

	positionID := uuid.NewString()
	buyLeg := e.placeLeg(opp.BuyVenue, types.OrderRequest{
		Instrument:    opp.Instrument,
		Side:          types.SideBuy,
		Type:          types.OrderTypeMarket,
		Size:          opp.Size,
		ClientOrderID: positionID + "_buy",
	})
	sellLeg := e.placeLeg(opp.SellVenue, types.OrderRequest{
		Instrument:    opp.Instrument,
		Side:          types.SideSell,
		Type:          types.OrderTypeMarket,
		Size:          opp.Size,
		ClientOrderID: positionID + "_sell",
	})

	switch {
	case buyLeg.OK() && sellLeg.OK():
		e.positions = append(e.positions, &simPosition{
			id:            positionID,
			opportunityID: opp.ID,
			instrument:    opp.Instrument,
			buyVenue:      opp.BuyVenue,
			sellVenue:     opp.SellVenue,
			size:          buyLeg.FilledSize,
			buyLeg:        buyLeg,
			sellLeg:       sellLeg,
			openedAt:      e.simNow,
		})

	case !buyLeg.OK() && !sellLeg.OK():
		e.finish(&types.ExecutionResult{
			OpportunityID: opp.ID,
			PositionID:    positionID,
			Instrument:    opp.Instrument,
			Kind:          types.ResultFailed,
			BuyLeg:        buyLeg,
			SellLeg:       sellLeg,
			CompletedAt:   e.simNow,
		})

	default:
		e.unwind(opp, positionID, buyLeg, sellLeg)
	}
}

func (e *Engine) placeLeg(venue string, req types.OrderRequest) types.LegOutcome {
	leg := types.LegOutcome{Venue: venue, Side: req.Side}
	sim, ok := e.venues[venue]
	if !ok {
		leg.Failure = "venue not simulated"
		return leg
	}
	res, err := sim.PlaceOrder(context.Background(), req)
	if err != nil {
		leg.Failure = err.Error()
		return leg
	}
	leg.OrderID = res.OrderID
	leg.FilledPrice = res.FilledPrice
	leg.FilledSize = res.FilledSize
	leg.Fee = res.Fee
	return leg
}

// unwind mirrors the live coordinator: the filled leg is closed with an
// opposite order; a second failure escalates and freezes the instrument.
func (e *Engine) unwind(opp *types.Opportunity, positionID string, buyLeg, sellLeg types.LegOutcome) {
	filled := &buyLeg
	if sellLeg.OK() {
		filled = &sellLeg
	}

	unwindLeg := e.placeLeg(filled.Venue, types.OrderRequest{
		Instrument:    opp.Instrument,
		Side:          filled.Side.Opposite(),
		Type:          types.OrderTypeMarket,
		Size:          filled.FilledSize,
		ClientOrderID: positionID + "_unwind",
	})

	result := &types.ExecutionResult{
		OpportunityID: opp.ID,
		PositionID:    positionID,
		Instrument:    opp.Instrument,
		Kind:          types.ResultUnwound,
		BuyLeg:        buyLeg,
		SellLeg:       sellLeg,
		CompletedAt:   e.simNow,
	}

	if !unwindLeg.OK() {
		result.Kind = types.ResultEscalated
		result.ExitReason = "unwind failed: " + unwindLeg.Failure
		e.gate.Freeze(opp.Instrument)
		e.finish(result)
		return
	}

	var pnl decimal.Decimal
	if filled.Side == types.SideBuy {
		pnl = unwindLeg.FilledPrice.Sub(filled.FilledPrice).Mul(filled.FilledSize)
		result.CloseBuyLeg = &unwindLeg
	} else {
		pnl = filled.FilledPrice.Sub(unwindLeg.FilledPrice).Mul(filled.FilledSize)
		result.CloseSellLeg = &unwindLeg
	}
	result.FeesPaid = filled.Fee.Add(unwindLeg.Fee)
	result.RealizedPnL = pnl.Sub(result.FeesPaid)
	result.ExitReason = "one leg failed"
	e.finish(result)
}

// checkExits closes any position whose spread has reconverged or whose
// hold time exceeded the cap, judged on simulated time.
func (e *Engine) checkExits() {
	for i := 0; i < len(e.positions); {
		pos := e.positions[i]
		reason, due := e.exitDue(pos)
		if !due {
			i++
			continue
		}
		e.closePosition(pos, reason)
		// closePosition removed the entry; re-check index i.
	}
}

func (e *Engine) exitDue(pos *simPosition) (string, bool) {
	if e.config.MaxPositionDuration > 0 && e.simNow.Sub(pos.openedAt) >= e.config.MaxPositionDuration {
		return "max position duration", true
	}

	buyState := e.agg.State(pos.buyVenue, pos.instrument)
	sellState := e.agg.State(pos.sellVenue, pos.instrument)
	if buyState == nil || sellState == nil || buyState.Quote == nil || sellState.Quote == nil {
		return "", false
	}

	buyAsk := buyState.Quote.Ask
	if buyAsk.LessThanOrEqual(decimal.Zero) {
		return "", false
	}
	spreadPct := sellState.Quote.Bid.Sub(buyAsk).Div(buyAsk).Mul(decimal.NewFromInt(100))
	if spreadPct.Abs().LessThanOrEqual(e.config.ExitThreshold) {
		return "spread reconverged", true
	}

	if e.config.StopLossPct.IsPositive() {
		longPnL := buyState.Quote.Bid.Sub(pos.buyLeg.FilledPrice).Mul(pos.size)
		shortPnL := pos.sellLeg.FilledPrice.Sub(sellState.Quote.Ask).Mul(pos.size)
		unrealized := longPnL.Add(shortPnL)
		notional := pos.buyLeg.FilledPrice.Mul(pos.size)
		if unrealized.IsNegative() && notional.IsPositive() {
			lossPct := unrealized.Abs().Div(notional).Mul(decimal.NewFromInt(100))
			if lossPct.GreaterThanOrEqual(e.config.StopLossPct) {
				return "stop loss", true
			}
		}
	}
	return "", false
}

func (e *Engine) closePosition(pos *simPosition, reason string) {
	closeLong := e.placeLeg(pos.buyVenue, types.OrderRequest{
		Instrument:    pos.instrument,
		Side:          types.SideSell,
		Type:          types.OrderTypeMarket,
		Size:          pos.size,
		ClientOrderID: pos.id + "_close_long",
	})
	closeShort := e.placeLeg(pos.sellVenue, types.OrderRequest{
		Instrument:    pos.instrument,
		Side:          types.SideBuy,
		Type:          types.OrderTypeMarket,
		Size:          pos.size,
		ClientOrderID: pos.id + "_close_short",
	})

	e.removePosition(pos.id)

	if !closeLong.OK() || !closeShort.OK() {
		e.gate.Freeze(pos.instrument)
		e.finish(&types.ExecutionResult{
			OpportunityID: pos.opportunityID,
			PositionID:    pos.id,
			Instrument:    pos.instrument,
			Kind:          types.ResultEscalated,
			BuyLeg:        pos.buyLeg,
			SellLeg:       pos.sellLeg,
			ExitReason:    "close failed",
			CompletedAt:   e.simNow,
		})
		return
	}

	longPnL := closeLong.FilledPrice.Sub(pos.buyLeg.FilledPrice).Mul(pos.size)
	shortPnL := pos.sellLeg.FilledPrice.Sub(closeShort.FilledPrice).Mul(pos.size)
	fees := pos.buyLeg.Fee.Add(pos.sellLeg.Fee).Add(closeLong.Fee).Add(closeShort.Fee)

	e.finish(&types.ExecutionResult{
		OpportunityID: pos.opportunityID,
		PositionID:    pos.id,
		Instrument:    pos.instrument,
		Kind:          types.ResultClosed,
		BuyLeg:        pos.buyLeg,
		SellLeg:       pos.sellLeg,
		CloseBuyLeg:   &closeLong,
		CloseSellLeg:  &closeShort,
		RealizedPnL:   longPnL.Add(shortPnL).Sub(fees),
		FeesPaid:      fees,
		ExitReason:    reason,
		CompletedAt:   e.simNow,
	})
}

func (e *Engine) removePosition(id string) {
	for i, p := range e.positions {
		if p.id == id {
			e.positions = append(e.positions[:i], e.positions[i+1:]...)
			return
		}
	}
}

// finish releases the risk reservation and folds the result into the
// report, mirroring the live coordinator's single terminal record per
// approval.
func (e *Engine) finish(result *types.ExecutionResult) {
	e.gate.Release(result)
	e.report.Results = append(e.report.Results, result)

	if result.Kind == types.ResultClosed || result.Kind == types.ResultUnwound {
		e.report.Trades++
		if result.RealizedPnL.IsPositive() {
			e.report.Wins++
		}
	}
	e.report.TotalPnL = e.report.TotalPnL.Add(result.RealizedPnL)
	e.report.TotalFee = e.report.TotalFee.Add(result.FeesPaid)
}

func generousBalance() risk.BalanceSnapshot {
	free := decimal.New(1, 9)
	return risk.BalanceSnapshot{Quote: free, Base: free}
}
