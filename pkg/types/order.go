package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType selects market or limit execution.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus is the lifecycle state of an order as reported by a venue.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether the status can no longer change.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

// OrderRequest is a normalized order submission. ClientOrderID makes retried
// submissions idempotent at the adapter level.
type OrderRequest struct {
	Instrument    string
	Side          Side
	Type          OrderType
	Size          decimal.Decimal
	Price         decimal.Decimal // ignored for market orders
	ClientOrderID string
}

// OrderResult is the venue's response to a placed order.
type OrderResult struct {
	OrderID     string
	Instrument  string
	Side        Side
	Status      OrderStatus
	FilledSize  decimal.Decimal
	FilledPrice decimal.Decimal
	Fee         decimal.Decimal
	PlacedAt    time.Time
}

// Filled reports whether the order executed in full or in part.
func (r *OrderResult) Filled() bool {
	return r.Status == OrderStatusFilled || r.Status == OrderStatusPartiallyFilled
}

// Balance is the venue-reported holding of one asset.
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// Total returns free plus locked.
func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// Position is a venue-reported open position.
type Position struct {
	Instrument    string
	Side          Side
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	UnrealizedPnL decimal.Decimal
}
