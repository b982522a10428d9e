// Package execution places and reconciles the two legs of an approved
// opportunity. Order placement runs off the detection path: the coordinator
// consumes a channel, so a slow venue call never stalls quote ingestion.
package execution

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/taku247/omg-tool/internal/aggregator"
	"github.com/taku247/omg-tool/internal/risk"
	"github.com/taku247/omg-tool/pkg/connector"
	"github.com/taku247/omg-tool/pkg/types"
	"go.uber.org/zap"
)

// Alerter receives operator-facing alerts. Only unwind failures escalate.
type Alerter interface {
	PublishAlert(instrument, message string)
}

// Config holds execution coordinator configuration.
type Config struct {
	ConcurrentLegs      bool
	OrderTimeout        time.Duration
	ExitThreshold       decimal.Decimal
	StopLossPct         decimal.Decimal
	MaxPositionDuration time.Duration
	ExitCheckInterval   time.Duration

	Logger *zap.Logger
}

// Coordinator consumes approved opportunities, opens two-leg positions and
// drives each one to exactly one terminal ExecutionResult.
type Coordinator struct {
	config   Config
	logger   *zap.Logger
	registry *connector.Registry
	gate     *risk.Gate
	agg      *aggregator.Manager
	alerter  Alerter

	opportunityChan <-chan *types.Opportunity
	resultChan      chan *types.ExecutionResult

	mu        sync.Mutex
	positions map[string]*position

	ctx context.Context
	wg  sync.WaitGroup
}

type position struct {
	ID             string
	OpportunityID  string
	Instrument     string
	BuyVenue       string
	SellVenue      string
	Size           decimal.Decimal
	EntrySpreadPct decimal.Decimal
	BuyLeg         types.LegOutcome
	SellLeg        types.LegOutcome
	OpenedAt       time.Time
}

// New creates an execution coordinator.
func New(cfg Config, registry *connector.Registry, gate *risk.Gate, agg *aggregator.Manager, opportunities <-chan *types.Opportunity, alerter Alerter) *Coordinator {
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 30 * time.Second
	}
	if cfg.ExitCheckInterval <= 0 {
		cfg.ExitCheckInterval = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		config:          cfg,
		logger:          logger,
		registry:        registry,
		gate:            gate,
		agg:             agg,
		alerter:         alerter,
		opportunityChan: opportunities,
		resultChan:      make(chan *types.ExecutionResult, 100),
		positions:       make(map[string]*position),
	}
}

// Start launches the execution loop.
func (c *Coordinator) Start(ctx context.Context) error {
	c.ctx = ctx
	c.logger.Info("execution-coordinator-starting",
		zap.Bool("concurrent-legs", c.config.ConcurrentLegs),
		zap.Duration("order-timeout", c.config.OrderTimeout),
		zap.String("exit-threshold", c.config.ExitThreshold.String()))

	c.wg.Add(1)
	go c.executionLoop()

	return nil
}

// ResultChan delivers exactly one terminal result per approved opportunity.
func (c *Coordinator) ResultChan() <-chan *types.ExecutionResult {
	return c.resultChan
}

// Close waits for in-flight executions and exit monitors to finish, then
// closes the result channel.
func (c *Coordinator) Close() error {
	c.logger.Info("closing-execution-coordinator")
	c.wg.Wait()
	close(c.resultChan)
	c.logger.Info("execution-coordinator-closed")
	return nil
}

func (c *Coordinator) executionLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Info("execution-loop-stopping")
			return
		case opp, ok := <-c.opportunityChan:
			if !ok {
				c.logger.Info("opportunity-channel-closed")
				return
			}
			c.handleOpportunity(opp)
		}
	}
}

// handleOpportunity gates the opportunity and, when approved, opens the
// position in its own goroutine so the loop can keep draining the channel.
func (c *Coordinator) handleOpportunity(opp *types.Opportunity) {
	balances := c.captureBalances(opp)

	ok, reason := c.gate.Approve(opp, balances)
	if !ok {
		GateRejectionsSeen.Inc()
		c.logger.Debug("opportunity-gated",
			zap.String("opportunity-id", opp.ID),
			zap.String("reason", reason))
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		start := time.Now()
		c.execute(opp)
		ExecutionDurationSeconds.Observe(time.Since(start).Seconds())
	}()
}

// captureBalances snapshots free balances on both leg venues. Lookups hit
// the network, so they happen before the gate's critical section; a venue
// that cannot report balances gets a zero snapshot and the gate rejects.
func (c *Coordinator) captureBalances(opp *types.Opportunity) map[string]risk.BalanceSnapshot {
	base, quote := splitInstrument(opp.Instrument)
	out := make(map[string]risk.BalanceSnapshot, 2)
	for _, venue := range []string{opp.BuyVenue, opp.SellVenue} {
		conn, ok := c.registry.Get(venue)
		if !ok {
			c.logger.Warn("unknown-venue", zap.String("venue", venue))
			out[venue] = risk.BalanceSnapshot{}
			continue
		}
		ctx, cancel := context.WithTimeout(c.ctx, connector.CallTimeout)
		balances, err := conn.GetBalance(ctx)
		cancel()
		if err != nil {
			c.logger.Warn("balance-lookup-failed",
				zap.String("venue", venue), zap.Error(err))
			out[venue] = risk.BalanceSnapshot{}
			continue
		}
		out[venue] = risk.BalanceSnapshot{
			Quote: balances[quote].Free,
			Base:  balances[base].Free,
		}
	}
	return out
}

// execute opens both legs and routes the outcome: a held position goes to
// the exit monitor, a single filled leg gets unwound, a double failure is
// recorded as failed. Every path releases the risk reservation exactly once
// through finish.
func (c *Coordinator) execute(opp *types.Opportunity) {
	positionID := uuid.NewString()

	buyReq := types.OrderRequest{
		Instrument:    opp.Instrument,
		Side:          types.SideBuy,
		Type:          types.OrderTypeMarket,
		Size:          opp.Size,
		Price:         opp.BuyPrice,
		ClientOrderID: positionID + "_buy",
	}
	sellReq := types.OrderRequest{
		Instrument:    opp.Instrument,
		Side:          types.SideSell,
		Type:          types.OrderTypeMarket,
		Size:          opp.Size,
		Price:         opp.SellPrice,
		ClientOrderID: positionID + "_sell",
	}

	buyLeg, sellLeg := c.placeLegs(opp.BuyVenue, buyReq, opp.SellVenue, sellReq)

	switch {
	case buyLeg.OK() && sellLeg.OK():
		c.openPosition(opp, positionID, buyLeg, sellLeg)

	case !buyLeg.OK() && !sellLeg.OK():
		LegFailuresTotal.WithLabelValues("both").Inc()
		c.logger.Error("both-legs-failed",
			zap.String("opportunity-id", opp.ID),
			zap.String("buy-failure", buyLeg.Failure),
			zap.String("sell-failure", sellLeg.Failure))
		c.finish(&types.ExecutionResult{
			OpportunityID: opp.ID,
			PositionID:    positionID,
			Instrument:    opp.Instrument,
			Kind:          types.ResultFailed,
			BuyLeg:        buyLeg,
			SellLeg:       sellLeg,
			CompletedAt:   time.Now(),
		})

	default:
		c.unwind(opp, positionID, buyLeg, sellLeg)
	}
}

// placeLegs submits both entry orders, concurrently or sequentially per
// config. Each leg gets its own timeout; a timed-out or unfilled order is a
// leg failure, never a hang.
func (c *Coordinator) placeLegs(buyVenue string, buyReq types.OrderRequest, sellVenue string, sellReq types.OrderRequest) (types.LegOutcome, types.LegOutcome) {
	if !c.config.ConcurrentLegs {
		buyLeg := c.placeLeg(buyVenue, buyReq)
		sellLeg := c.placeLeg(sellVenue, sellReq)
		return buyLeg, sellLeg
	}

	var buyLeg, sellLeg types.LegOutcome
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		buyLeg = c.placeLeg(buyVenue, buyReq)
	}()
	go func() {
		defer wg.Done()
		sellLeg = c.placeLeg(sellVenue, sellReq)
	}()
	wg.Wait()
	return buyLeg, sellLeg
}

func (c *Coordinator) placeLeg(venue string, req types.OrderRequest) types.LegOutcome {
	leg := types.LegOutcome{Venue: venue, Side: req.Side}

	conn, ok := c.registry.Get(venue)
	if !ok {
		leg.Failure = "venue not registered"
		return leg
	}

	// Shutdown closes still need a live context for their final orders.
	base := c.ctx
	if base.Err() != nil {
		base = context.Background()
	}
	ctx, cancel := context.WithTimeout(base, c.config.OrderTimeout)
	defer cancel()

	res, err := conn.PlaceOrder(ctx, req)
	if err != nil {
		leg.Failure = err.Error()
		LegFailuresTotal.WithLabelValues(string(req.Side)).Inc()
		c.logger.Error("leg-placement-failed",
			zap.String("venue", venue),
			zap.String("side", string(req.Side)),
			zap.String("client-order-id", req.ClientOrderID),
			zap.Error(err))
		return leg
	}
	if !res.Filled() {
		leg.OrderID = res.OrderID
		leg.Failure = "order not filled: " + string(res.Status)
		LegFailuresTotal.WithLabelValues(string(req.Side)).Inc()
		return leg
	}

	leg.OrderID = res.OrderID
	leg.FilledPrice = res.FilledPrice
	leg.FilledSize = res.FilledSize
	leg.Fee = res.Fee
	LegsPlacedTotal.WithLabelValues(string(req.Side)).Inc()
	return leg
}

// unwind closes out the single filled leg with an opposite market order.
// Success records a bounded loss; failure freezes the instrument and
// escalates to the operator.
func (c *Coordinator) unwind(opp *types.Opportunity, positionID string, buyLeg, sellLeg types.LegOutcome) {
	filled := &buyLeg
	if sellLeg.OK() {
		filled = &sellLeg
	}

	c.logger.Error("one-leg-failed-unwinding",
		zap.String("opportunity-id", opp.ID),
		zap.String("filled-venue", filled.Venue),
		zap.String("filled-side", string(filled.Side)))

	unwindReq := types.OrderRequest{
		Instrument:    opp.Instrument,
		Side:          filled.Side.Opposite(),
		Type:          types.OrderTypeMarket,
		Size:          filled.FilledSize,
		ClientOrderID: positionID + "_unwind",
	}
	unwindLeg := c.placeLeg(filled.Venue, unwindReq)

	result := &types.ExecutionResult{
		OpportunityID: opp.ID,
		PositionID:    positionID,
		Instrument:    opp.Instrument,
		Kind:          types.ResultUnwound,
		BuyLeg:        buyLeg,
		SellLeg:       sellLeg,
		CompletedAt:   time.Now(),
	}

	if !unwindLeg.OK() {
		// Both the unwind and the original failed leg are now in an unknown
		// state. Halt the instrument and hand it to the operator.
		result.Kind = types.ResultEscalated
		result.ExitReason = "unwind failed: " + unwindLeg.Failure
		UnwindsTotal.WithLabelValues("failed").Inc()
		c.gate.Freeze(opp.Instrument)
		c.logger.Error("unwind-failed-instrument-frozen",
			zap.String("opportunity-id", opp.ID),
			zap.String("instrument", opp.Instrument),
			zap.String("venue", filled.Venue),
			zap.String("failure", unwindLeg.Failure))
		if c.alerter != nil {
			c.alerter.PublishAlert(opp.Instrument,
				"unwind failed on "+filled.Venue+"; instrument frozen pending operator reset")
		}
		c.finish(result)
		return
	}

	// Realized loss is the round trip on the filled venue plus fees.
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
	UnwindsTotal.WithLabelValues("success").Inc()

	c.logger.Warn("position-unwound",
		zap.String("opportunity-id", opp.ID),
		zap.String("realized-pnl", result.RealizedPnL.String()))

	c.finish(result)
}

// openPosition registers a fully hedged position and hands it to the exit
// monitor goroutine.
func (c *Coordinator) openPosition(opp *types.Opportunity, positionID string, buyLeg, sellLeg types.LegOutcome) {
	pos := &position{
		ID:             positionID,
		OpportunityID:  opp.ID,
		Instrument:     opp.Instrument,
		BuyVenue:       opp.BuyVenue,
		SellVenue:      opp.SellVenue,
		Size:           buyLeg.FilledSize,
		EntrySpreadPct: opp.SpreadPct,
		BuyLeg:         buyLeg,
		SellLeg:        sellLeg,
		OpenedAt:       time.Now(),
	}

	c.mu.Lock()
	c.positions[positionID] = pos
	OpenPositions.Set(float64(len(c.positions)))
	c.mu.Unlock()

	c.logger.Info("position-opened",
		zap.String("position-id", positionID),
		zap.String("opportunity-id", opp.ID),
		zap.String("instrument", opp.Instrument),
		zap.String("size", pos.Size.String()),
		zap.String("entry-spread-pct", opp.SpreadPct.String()))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.monitorExit(pos)
	}()
}

// finish releases the risk reservation and emits the terminal result.
func (c *Coordinator) finish(result *types.ExecutionResult) {
	c.gate.Release(result)
	ResultsTotal.WithLabelValues(string(result.Kind)).Inc()
	RealizedPnLUSD.Add(result.RealizedPnL.InexactFloat64())

	select {
	case c.resultChan <- result:
	default:
		select {
		case c.resultChan <- result:
		case <-c.ctx.Done():
			// Shutdown raced a full buffer; log the outcome so it is
			// never silent.
			c.logger.Warn("result-dropped-at-shutdown",
				zap.String("opportunity-id", result.OpportunityID),
				zap.String("kind", string(result.Kind)),
				zap.String("realized-pnl", result.RealizedPnL.String()))
		}
	}
}

// ActivePositions returns a snapshot of currently held positions keyed by
// position id, for the HTTP status surface.
func (c *Coordinator) ActivePositions() map[string]types.Position {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]types.Position, len(c.positions))
	for id, p := range c.positions {
		out[id] = types.Position{
			Instrument: p.Instrument,
			Side:       types.SideBuy,
			Size:       p.Size,
			EntryPrice: p.BuyLeg.FilledPrice,
		}
	}
	return out
}

// splitInstrument separates "BASE/QUOTE". Instruments without a separator
// are treated as base with a USD quote.
func splitInstrument(instrument string) (base, quote string) {
	if i := strings.IndexByte(instrument, '/'); i > 0 {
		return instrument[:i], instrument[i+1:]
	}
	return instrument, "USD"
}
