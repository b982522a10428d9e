package types

import (
	"errors"
	"fmt"
)

// ErrInstrumentFrozen is returned when execution is halted on an instrument
// after an unwind failure, pending operator reset.
var ErrInstrumentFrozen = errors.New("instrument frozen pending operator reset")

// ErrStaleQuote marks venue data older than the staleness bound.
var ErrStaleQuote = errors.New("quote older than staleness bound")

// LegError describes a failed order call on one leg.
type LegError struct {
	Venue  string
	Side   Side
	Reason string
	Err    error
}

func (e *LegError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s leg failed: %s: %v", e.Venue, e.Side, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s %s leg failed: %s", e.Venue, e.Side, e.Reason)
}

func (e *LegError) Unwrap() error {
	return e.Err
}
