package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the normalized top-of-book observation for one (venue, instrument)
// pair. Quotes are immutable: a later observation supersedes an earlier one,
// it never mutates it.
type Quote struct {
	Venue      string
	Instrument string
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	BidSize    decimal.Decimal
	AskSize    decimal.Decimal
	Last       decimal.Decimal
	Volume24h  decimal.Decimal
	ObservedAt time.Time
}

// Crossed reports whether the quote is internally inconsistent (ask below
// bid). At least one production venue emits these; they are excluded from
// detection rather than treated as tradeable.
func (q *Quote) Crossed() bool {
	return q.Ask.LessThan(q.Bid)
}

// Age returns how old the quote is relative to now.
func (q *Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.ObservedAt)
}

// PriceLevel is one (price, size) rung of an order book side.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// DepthSnapshot is an ordered view of an order book, best level first on both
// sides. Optional per configuration; used only for detailed analysis.
type DepthSnapshot struct {
	Venue      string
	Instrument string
	Bids       []PriceLevel
	Asks       []PriceLevel
	ObservedAt time.Time
}

// VenueState is the read-only view of the aggregator's latest state for one
// (venue, instrument) key. The aggregator hands out copies; callers never see
// a half-applied update.
type VenueState struct {
	Venue       string
	Instrument  string
	Quote       *Quote
	Depth       *DepthSnapshot
	LastUpdate  time.Time
	UpdateCount uint64
}

// OpportunityMetrics is the optional detailed-analysis block attached to an
// Opportunity when both venues supplied depth and detailed analysis is on.
type OpportunityMetrics struct {
	SlippageBuyPct  decimal.Decimal
	SlippageSellPct decimal.Decimal
	LiquidityScore  decimal.Decimal
	OptimalSize     decimal.Decimal
	NetProfit       decimal.Decimal
	RiskScore       decimal.Decimal
}

// Opportunity is a fully-formed, actionable arbitrage candidate. Immutable
// once emitted by the detector.
type Opportunity struct {
	ID             string
	Instrument     string
	BuyVenue       string
	SellVenue      string
	BuyPrice       decimal.Decimal
	SellPrice      decimal.Decimal
	SpreadPct      decimal.Decimal
	Size           decimal.Decimal
	ExpectedProfit decimal.Decimal
	Metrics        *OpportunityMetrics
	DetectedAt     time.Time
}

// Notional returns the quote-currency value of the recommended trade.
func (o *Opportunity) Notional() decimal.Decimal {
	return o.Size.Mul(o.BuyPrice)
}
