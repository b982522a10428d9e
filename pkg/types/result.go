package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// LegOutcome records what happened to one leg of a two-venue trade.
type LegOutcome struct {
	Venue       string
	Side        Side
	OrderID     string
	FilledPrice decimal.Decimal
	FilledSize  decimal.Decimal
	Fee         decimal.Decimal
	Failure     string // empty on success
}

// OK reports whether the leg executed.
func (l *LegOutcome) OK() bool {
	return l.Failure == ""
}

// ResultKind classifies the terminal state of an executed opportunity.
type ResultKind string

const (
	// ResultClosed means both legs filled and the position was later closed
	// (spread reconverged, stop loss, or forced exit).
	ResultClosed ResultKind = "closed"
	// ResultUnwound means one leg failed and the filled leg was closed out.
	ResultUnwound ResultKind = "unwound"
	// ResultFailed means no leg filled; nothing was held.
	ResultFailed ResultKind = "failed"
	// ResultEscalated means one leg filled and the unwind also failed; the
	// instrument is frozen pending operator intervention.
	ResultEscalated ResultKind = "escalated"
)

// ExecutionResult is the final record for one opportunity that the risk gate
// approved. Exactly one is produced per approved opportunity.
type ExecutionResult struct {
	OpportunityID string
	PositionID    string
	Instrument    string
	Kind          ResultKind
	BuyLeg        LegOutcome
	SellLeg       LegOutcome
	CloseBuyLeg   *LegOutcome // closing fills, when a position was held
	CloseSellLeg  *LegOutcome
	RealizedPnL   decimal.Decimal
	FeesPaid      decimal.Decimal
	ExitReason    string
	CompletedAt   time.Time
}

// Escalated reports whether the result requires operator intervention.
func (r *ExecutionResult) Escalated() bool {
	return r.Kind == ResultEscalated
}
