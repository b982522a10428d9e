// Package detector turns aggregated cross-venue state into scored, actionable
// arbitrage opportunities. Evaluation is pure computation: it never blocks on
// network I/O, and a failed gate check is normal control flow, not an error.
package detector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/taku247/omg-tool/internal/aggregator"
	"github.com/taku247/omg-tool/pkg/fees"
	"github.com/taku247/omg-tool/pkg/types"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// Publisher receives detected opportunities for the external event stream.
// Implementations must not block.
type Publisher interface {
	PublishOpportunity(opp *types.Opportunity)
}

// Config holds detector configuration.
type Config struct {
	MinSpreadThreshold     decimal.Decimal
	MaxPositionSize        decimal.Decimal
	MinProfitThreshold     decimal.Decimal
	LiquidityFraction      decimal.Decimal
	EnableDetailedAnalysis bool
	StalenessBound         time.Duration
	Workers                int
	Logger                 *zap.Logger
}

// Detector evaluates instruments on every aggregator update.
type Detector struct {
	config Config
	logger *zap.Logger

	agg       *aggregator.Manager
	feeSource fees.Provider
	publisher Publisher

	opportunityChan chan *types.Opportunity
	workerQueues    []chan string
	idCounter       atomic.Uint64

	ctx context.Context
	wg  sync.WaitGroup
}

// New creates a new opportunity detector.
func New(cfg Config, agg *aggregator.Manager, feeSource fees.Provider, publisher Publisher) *Detector {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	cfg.Workers = workers

	queues := make([]chan string, workers)
	for i := range queues {
		queues[i] = make(chan string, 1024)
	}

	return &Detector{
		config:          cfg,
		logger:          cfg.Logger,
		agg:             agg,
		feeSource:       feeSource,
		publisher:       publisher,
		opportunityChan: make(chan *types.Opportunity, 50),
		workerQueues:    queues,
	}
}

// Start launches the dispatcher and the fixed detection worker pool. Updates
// for one instrument always land on the same worker, so detection passes for
// a given instrument are ordered while different instruments run in parallel.
func (d *Detector) Start(ctx context.Context) error {
	d.ctx = ctx
	d.logger.Info("detector-starting",
		zap.String("min-spread-threshold", d.config.MinSpreadThreshold.String()),
		zap.String("max-position-size", d.config.MaxPositionSize.String()),
		zap.Bool("detailed-analysis", d.config.EnableDetailedAnalysis),
		zap.Int("workers", d.config.Workers))

	for i := range d.workerQueues {
		d.wg.Add(1)
		go d.workerLoop(i)
	}

	d.wg.Add(1)
	go d.dispatchLoop()

	return nil
}

func (d *Detector) dispatchLoop() {
	defer d.wg.Done()
	defer func() {
		for _, q := range d.workerQueues {
			close(q)
		}
	}()

	for {
		select {
		case <-d.ctx.Done():
			return
		case u, ok := <-d.agg.UpdateChan():
			if !ok {
				return
			}
			queue := d.workerQueues[fnvHash(u.Instrument)%uint32(len(d.workerQueues))]
			select {
			case queue <- u.Instrument:
			default:
				PassesDroppedTotal.Inc()
			}
		}
	}
}

func (d *Detector) workerLoop(i int) {
	defer d.wg.Done()

	for instrument := range d.workerQueues[i] {
		start := time.Now()
		opps := d.Evaluate(instrument, d.agg.CurrentState(instrument), time.Now())
		DetectionDurationSeconds.Observe(time.Since(start).Seconds())

		for _, opp := range opps {
			d.emit(opp)
		}
	}
}

func (d *Detector) emit(opp *types.Opportunity) {
	if d.publisher != nil {
		d.publisher.PublishOpportunity(opp)
	}

	select {
	case d.opportunityChan <- opp:
		d.logger.Info("opportunity-detected",
			zap.String("opportunity-id", opp.ID),
			zap.String("instrument", opp.Instrument),
			zap.String("buy-venue", opp.BuyVenue),
			zap.String("sell-venue", opp.SellVenue),
			zap.String("spread-pct", opp.SpreadPct.StringFixed(4)),
			zap.String("size", opp.Size.String()),
			zap.String("expected-profit", opp.ExpectedProfit.StringFixed(2)))
	default:
		d.logger.Warn("opportunity-channel-full",
			zap.String("opportunity-id", opp.ID),
			zap.String("instrument", opp.Instrument))
		OpportunitiesDroppedTotal.Inc()
	}
}

// Evaluate runs one detection pass for an instrument over the given venue
// states. Every ordered (buy, sell) venue pair is examined in both
// directions; all qualifying pairs produce opportunities. Pure function of
// its inputs apart from the monotonic id counter; side-effect free on
// rejection.
func (d *Detector) Evaluate(instrument string, states []*types.VenueState, now time.Time) []*types.Opportunity {
	usable := d.filterUsable(states, now)
	if len(usable) < 2 {
		return nil
	}

	var opps []*types.Opportunity
	for _, buy := range usable {
		for _, sell := range usable {
			if buy.Venue == sell.Venue {
				continue
			}
			if opp := d.checkPair(instrument, buy, sell); opp != nil {
				opps = append(opps, opp)
			}
		}
	}
	return opps
}

// filterUsable drops stale and internally inconsistent quotes. Both
// conditions are normal operating noise: counted and logged at debug, never
// fatal.
func (d *Detector) filterUsable(states []*types.VenueState, now time.Time) []*types.VenueState {
	usable := make([]*types.VenueState, 0, len(states))
	for _, s := range states {
		if s.Quote == nil {
			continue
		}
		if s.Quote.Age(now) > d.config.StalenessBound {
			QuotesExcludedTotal.WithLabelValues("stale").Inc()
			continue
		}
		if s.Quote.Crossed() {
			QuotesExcludedTotal.WithLabelValues("crossed").Inc()
			d.logger.Debug("crossed-quote-excluded",
				zap.String("venue", s.Venue),
				zap.String("instrument", s.Instrument),
				zap.String("bid", s.Quote.Bid.String()),
				zap.String("ask", s.Quote.Ask.String()))
			continue
		}
		if s.Quote.Ask.LessThanOrEqual(decimal.Zero) {
			QuotesExcludedTotal.WithLabelValues("invalid_price").Inc()
			continue
		}
		usable = append(usable, s)
	}
	return usable
}

func (d *Detector) checkPair(instrument string, buy, sell *types.VenueState) *types.Opportunity {
	buyAsk := buy.Quote.Ask
	sellBid := sell.Quote.Bid

	spread := sellBid.Sub(buyAsk)
	spreadPct := spread.Div(buyAsk).Mul(hundred)

	if spreadPct.LessThan(d.config.MinSpreadThreshold) {
		return nil
	}

	size, limited := d.recommendedSize(buy.Quote, sell.Quote)
	if size.LessThanOrEqual(decimal.Zero) {
		RejectionsTotal.WithLabelValues("zero_size").Inc()
		return nil
	}

	grossProfit := spread.Mul(size)
	if grossProfit.LessThan(d.config.MinProfitThreshold) {
		RejectionsTotal.WithLabelValues("below_min_profit").Inc()
		return nil
	}

	if limited {
		minVolume := decimal.Min(buy.Quote.Volume24h, sell.Quote.Volume24h)
		if size.GreaterThan(minVolume.Mul(d.config.LiquidityFraction)) {
			RejectionsTotal.WithLabelValues("liquidity").Inc()
			return nil
		}
	}

	opp := &types.Opportunity{
		ID:             d.nextID(),
		Instrument:     instrument,
		BuyVenue:       buy.Venue,
		SellVenue:      sell.Venue,
		BuyPrice:       buyAsk,
		SellPrice:      sellBid,
		SpreadPct:      spreadPct,
		Size:           size,
		ExpectedProfit: grossProfit,
		DetectedAt:     time.Now(),
	}

	if d.config.EnableDetailedAnalysis && buy.Depth != nil && sell.Depth != nil {
		opp.Metrics = d.analyze(opp, buy.Depth, sell.Depth)
	}

	OpportunitiesDetectedTotal.Inc()
	SpreadPctObserved.Observe(spreadPct.InexactFloat64())

	return opp
}

// recommendedSize computes the base-unit size per the sizing rule:
// min(maxPositionSize, volumeLimit) / buyAsk, where volumeLimit is the
// liquidity fraction of the smaller venue's 24h volume in quote currency.
// A venue without volume data imposes no volume limit, matching observed
// venue behavior where the field is absent. The bool reports whether a
// volume limit applied.
func (d *Detector) recommendedSize(buy, sell *types.Quote) (decimal.Decimal, bool) {
	volumeLimit := d.config.MaxPositionSize
	limited := false
	if buy.Volume24h.IsPositive() && sell.Volume24h.IsPositive() {
		minVolume := decimal.Min(buy.Volume24h, sell.Volume24h)
		volumeLimit = minVolume.Mul(d.config.LiquidityFraction).Mul(buy.Ask)
		limited = true
	}

	sizeQuote := decimal.Min(d.config.MaxPositionSize, volumeLimit)
	return sizeQuote.Div(buy.Ask), limited
}

func (d *Detector) nextID() string {
	return fmt.Sprintf("ARB_%06d", d.idCounter.Add(1))
}

// OpportunityChan returns the channel of detected opportunities.
func (d *Detector) OpportunityChan() <-chan *types.Opportunity {
	return d.opportunityChan
}

// Close waits for in-flight detection passes and closes the output channel.
func (d *Detector) Close() error {
	d.logger.Info("closing-detector")
	d.wg.Wait()
	close(d.opportunityChan)
	d.logger.Info("detector-closed")
	return nil
}

// fnvHash is an allocation-free FNV-1a used to pin an instrument to a worker.
func fnvHash(s string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
