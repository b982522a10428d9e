package testutil

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/taku247/omg-tool/pkg/types"
)

// Dec parses a decimal literal, panicking on malformed test input.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// NewQuote builds a fresh quote with sensible sizes and volume.
func NewQuote(venue, instrument, bid, ask string, at time.Time) *types.Quote {
	return &types.Quote{
		Venue:      venue,
		Instrument: instrument,
		Bid:        Dec(bid),
		Ask:        Dec(ask),
		BidSize:    decimal.NewFromInt(100),
		AskSize:    decimal.NewFromInt(100),
		Volume24h:  decimal.NewFromInt(10000),
		ObservedAt: at,
	}
}

// NewOpportunity builds a qualifying opportunity between two venues.
func NewOpportunity(id, instrument string) *types.Opportunity {
	return &types.Opportunity{
		ID:             id,
		Instrument:     instrument,
		BuyVenue:       "venueA",
		SellVenue:      "venueB",
		BuyPrice:       Dec("100.05"),
		SellPrice:      Dec("100.60"),
		SpreadPct:      Dec("0.5497"),
		Size:           Dec("10"),
		ExpectedProfit: Dec("5.5"),
		DetectedAt:     time.Now(),
	}
}
