// Package risk gates candidate opportunities against mutable trading limits.
// The gate is the single serialization point for risk state across the
// engine: approval checks and the exposure reservation they imply happen
// under one lock, so no concurrent detection pass can slip past stale
// counters.
package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/taku247/omg-tool/pkg/types"
	"go.uber.org/zap"
)

// Rejection reasons, also used as metric labels.
const (
	ReasonFrozen          = "instrument_frozen"
	ReasonCooldown        = "cooldown_active"
	ReasonInstrumentCount = "max_positions_per_symbol"
	ReasonTotalCount      = "max_total_positions"
	ReasonVenueExposure   = "venue_exposure"
	ReasonTotalExposure   = "total_exposure"
	ReasonDailyLoss       = "daily_loss_limit"
	ReasonDrawdown        = "drawdown_limit"
	ReasonSlippage        = "max_slippage"
	ReasonBalance         = "insufficient_balance"
)

// BalanceSnapshot carries the free balances relevant to one leg venue,
// captured by the caller before entering the gate. Quote funds the buy leg,
// Base covers the sell leg inventory. Balance lookups involve network I/O
// and therefore never happen under the gate's lock.
type BalanceSnapshot struct {
	Quote decimal.Decimal
	Base  decimal.Decimal
}

// Config holds the gate's limits. Zero limits disable the related check
// only where noted; exposure and count caps are always enforced.
type Config struct {
	MaxPositionsPerSymbol int
	MaxTotalPositions     int
	MaxExchangeExposure   decimal.Decimal
	MaxTotalExposure      decimal.Decimal
	MaxDailyLoss          decimal.Decimal
	MaxDrawdown           decimal.Decimal
	// MaxSlippagePct caps expected per-leg slippage when the opportunity
	// carries a detailed-analysis block. Zero disables the check.
	MaxSlippagePct     decimal.Decimal
	MinExchangeBalance decimal.Decimal
	CooldownPeriod     time.Duration

	// Clock overrides the time source; replay supplies simulated time.
	Clock func() time.Time

	Logger *zap.Logger
}

type reservation struct {
	instrument string
	buyVenue   string
	sellVenue  string
	notional   decimal.Decimal
	reservedAt time.Time
}

// Gate owns the engine's risk state. All mutation goes through Approve,
// Release, Freeze, Unfreeze and ResetDailyStats, each holding the single
// gate mutex for the full check-then-update step.
type Gate struct {
	config Config
	logger *zap.Logger

	mu              sync.Mutex
	positionsByInst map[string]int
	totalPositions  int
	venueExposure   map[string]decimal.Decimal
	totalExposure   decimal.Decimal
	cooldownUntil   map[string]time.Time
	frozen          map[string]bool
	reservations    map[string]*reservation

	dailyPnL   decimal.Decimal
	equity     decimal.Decimal
	peakEquity decimal.Decimal

	now func() time.Time
}

// New creates a risk gate with the given limits.
func New(cfg Config) *Gate {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Gate{
		config:          cfg,
		logger:          logger,
		positionsByInst: make(map[string]int),
		venueExposure:   make(map[string]decimal.Decimal),
		cooldownUntil:   make(map[string]time.Time),
		frozen:          make(map[string]bool),
		reservations:    make(map[string]*reservation),
		now:             clock,
	}
}

// Approve runs the ordered limit checks against the opportunity and, when
// every check passes, reserves the position and its exposure in the same
// critical section. balances maps venue name to the caller's pre-captured
// balance snapshot for the two leg venues. The returned reason names the
// first failed check; an approved opportunity returns ok with an empty
// reason. Rejection mutates nothing.
func (g *Gate) Approve(opp *types.Opportunity, balances map[string]BalanceSnapshot) (bool, string) {
	notional := opp.Notional()
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if reason := g.check(opp, notional, balances, now); reason != "" {
		RejectionsTotal.WithLabelValues(reason).Inc()
		g.logger.Debug("opportunity-rejected",
			zap.String("opportunity-id", opp.ID),
			zap.String("instrument", opp.Instrument),
			zap.String("reason", reason))
		return false, reason
	}

	g.positionsByInst[opp.Instrument]++
	g.totalPositions++
	g.venueExposure[opp.BuyVenue] = g.venueExposure[opp.BuyVenue].Add(notional)
	g.venueExposure[opp.SellVenue] = g.venueExposure[opp.SellVenue].Add(notional)
	g.totalExposure = g.totalExposure.Add(notional)
	g.reservations[opp.ID] = &reservation{
		instrument: opp.Instrument,
		buyVenue:   opp.BuyVenue,
		sellVenue:  opp.SellVenue,
		notional:   notional,
		reservedAt: now,
	}

	ApprovalsTotal.Inc()
	OpenPositions.Set(float64(g.totalPositions))
	TotalExposure.Set(g.totalExposure.InexactFloat64())

	g.logger.Info("opportunity-approved",
		zap.String("opportunity-id", opp.ID),
		zap.String("instrument", opp.Instrument),
		zap.String("notional", notional.String()),
		zap.String("total-exposure", g.totalExposure.String()))

	return true, ""
}

// check runs the limit checks in the mandated order and returns the first
// failing reason, or empty when all pass. Caller holds g.mu.
func (g *Gate) check(opp *types.Opportunity, notional decimal.Decimal, balances map[string]BalanceSnapshot, now time.Time) string {
	if g.frozen[opp.Instrument] {
		return ReasonFrozen
	}
	if until, ok := g.cooldownUntil[opp.Instrument]; ok && now.Before(until) {
		return ReasonCooldown
	}
	if g.positionsByInst[opp.Instrument] >= g.config.MaxPositionsPerSymbol {
		return ReasonInstrumentCount
	}
	if g.totalPositions >= g.config.MaxTotalPositions {
		return ReasonTotalCount
	}
	buyExp := g.venueExposure[opp.BuyVenue].Add(notional)
	sellExp := g.venueExposure[opp.SellVenue].Add(notional)
	if buyExp.GreaterThan(g.config.MaxExchangeExposure) || sellExp.GreaterThan(g.config.MaxExchangeExposure) {
		return ReasonVenueExposure
	}
	if g.totalExposure.Add(notional).GreaterThan(g.config.MaxTotalExposure) {
		return ReasonTotalExposure
	}
	if g.dailyPnL.LessThanOrEqual(g.config.MaxDailyLoss.Neg()) {
		return ReasonDailyLoss
	}
	if g.peakEquity.Sub(g.equity).GreaterThanOrEqual(g.config.MaxDrawdown) {
		return ReasonDrawdown
	}
	if g.config.MaxSlippagePct.IsPositive() && opp.Metrics != nil {
		if opp.Metrics.SlippageBuyPct.GreaterThan(g.config.MaxSlippagePct) ||
			opp.Metrics.SlippageSellPct.GreaterThan(g.config.MaxSlippagePct) {
			return ReasonSlippage
		}
	}
	if !g.sufficientBalance(opp, notional, balances) {
		return ReasonBalance
	}
	return ""
}

// sufficientBalance verifies the buy venue can fund the notional plus the
// minimum balance floor in quote currency, and the sell venue holds the
// base inventory for its leg.
func (g *Gate) sufficientBalance(opp *types.Opportunity, notional decimal.Decimal, balances map[string]BalanceSnapshot) bool {
	buy, ok := balances[opp.BuyVenue]
	if !ok {
		return false
	}
	sell, ok := balances[opp.SellVenue]
	if !ok {
		return false
	}
	if buy.Quote.LessThan(notional.Add(g.config.MinExchangeBalance)) {
		return false
	}
	return sell.Base.GreaterThanOrEqual(opp.Size)
}

// Release frees the reservation made for the result's opportunity, books
// the realized P&L into the daily figure and the equity curve, and starts
// the instrument's cooldown window. Unknown opportunity ids are logged and
// ignored; the call is idempotent per opportunity.
func (g *Gate) Release(result *types.ExecutionResult) {
	g.mu.Lock()
	defer g.mu.Unlock()

	res, ok := g.reservations[result.OpportunityID]
	if !ok {
		g.logger.Warn("release-without-reservation",
			zap.String("opportunity-id", result.OpportunityID))
		return
	}
	delete(g.reservations, result.OpportunityID)

	if g.positionsByInst[res.instrument] > 0 {
		g.positionsByInst[res.instrument]--
	}
	if g.totalPositions > 0 {
		g.totalPositions--
	}
	g.venueExposure[res.buyVenue] = decimal.Max(decimal.Zero, g.venueExposure[res.buyVenue].Sub(res.notional))
	g.venueExposure[res.sellVenue] = decimal.Max(decimal.Zero, g.venueExposure[res.sellVenue].Sub(res.notional))
	g.totalExposure = decimal.Max(decimal.Zero, g.totalExposure.Sub(res.notional))

	g.dailyPnL = g.dailyPnL.Add(result.RealizedPnL)
	g.equity = g.equity.Add(result.RealizedPnL)
	if g.equity.GreaterThan(g.peakEquity) {
		g.peakEquity = g.equity
	}

	g.cooldownUntil[res.instrument] = g.now().Add(g.config.CooldownPeriod)

	ReleasesTotal.Inc()
	OpenPositions.Set(float64(g.totalPositions))
	TotalExposure.Set(g.totalExposure.InexactFloat64())
	DailyPnL.Set(g.dailyPnL.InexactFloat64())

	g.logger.Info("position-released",
		zap.String("opportunity-id", result.OpportunityID),
		zap.String("instrument", res.instrument),
		zap.String("realized-pnl", result.RealizedPnL.String()),
		zap.String("daily-pnl", g.dailyPnL.String()))
}

// Freeze halts further approvals for an instrument until an operator calls
// Unfreeze. Used when an unwind leaves the instrument in an unknown state.
func (g *Gate) Freeze(instrument string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.frozen[instrument] {
		g.frozen[instrument] = true
		FrozenInstruments.Inc()
		g.logger.Error("instrument-frozen", zap.String("instrument", instrument))
	}
}

// Unfreeze re-enables approvals for a frozen instrument.
func (g *Gate) Unfreeze(instrument string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.frozen[instrument] {
		delete(g.frozen, instrument)
		FrozenInstruments.Dec()
		g.logger.Warn("instrument-unfrozen", zap.String("instrument", instrument))
	}
}

// IsFrozen reports whether the instrument is halted.
func (g *Gate) IsFrozen(instrument string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.frozen[instrument]
}

// ResetDailyStats zeroes the daily P&L at the start of a trading day. The
// equity curve and drawdown peak survive the reset.
func (g *Gate) ResetDailyStats() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyPnL = decimal.Zero
	DailyPnL.Set(0)
	g.logger.Info("daily-risk-stats-reset")
}

// Snapshot is a point-in-time copy of the gate's state for the HTTP
// status surface.
type Snapshot struct {
	OpenPositions      map[string]int             `json:"open_positions"`
	TotalPositions     int                        `json:"total_positions"`
	VenueExposure      map[string]decimal.Decimal `json:"venue_exposure"`
	TotalExposure      decimal.Decimal            `json:"total_exposure"`
	DailyPnL           decimal.Decimal            `json:"daily_pnl"`
	Drawdown           decimal.Decimal            `json:"drawdown"`
	FrozenInstruments  []string                   `json:"frozen_instruments"`
	ActiveReservations int                        `json:"active_reservations"`
}

// Snapshot returns a copy of the current risk state.
func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := Snapshot{
		OpenPositions:      make(map[string]int, len(g.positionsByInst)),
		TotalPositions:     g.totalPositions,
		VenueExposure:      make(map[string]decimal.Decimal, len(g.venueExposure)),
		TotalExposure:      g.totalExposure,
		DailyPnL:           g.dailyPnL,
		Drawdown:           g.peakEquity.Sub(g.equity),
		ActiveReservations: len(g.reservations),
	}
	for inst, n := range g.positionsByInst {
		if n > 0 {
			snap.OpenPositions[inst] = n
		}
	}
	for venue, exp := range g.venueExposure {
		if exp.IsPositive() {
			snap.VenueExposure[venue] = exp
		}
	}
	for inst := range g.frozen {
		snap.FrozenInstruments = append(snap.FrozenInstruments, inst)
	}
	return snap
}
