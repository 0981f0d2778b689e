package order

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidStopLoss is returned by a strict policy when a stop-loss would
// trigger immediately or can never trigger.
var ErrInvalidStopLoss = errors.New("order: stop-loss price must be between 0 and the current price")

// StopLossPolicy validates the stop-loss attached to a buy.
//
// The permissive policy accepts any threshold, including one above the
// purchase price; such a holding is liquidated on the next tick. The strict
// policy requires 0 < stopLoss < price.
type StopLossPolicy struct {
	Strict bool
}

// NewStopLossPolicy creates a policy.
func NewStopLossPolicy(strict bool) StopLossPolicy {
	return StopLossPolicy{Strict: strict}
}

// Check validates stopLoss against the current price. A nil stopLoss is
// always accepted.
func (p StopLossPolicy) Check(price decimal.Decimal, stopLoss *decimal.Decimal) error {
	if stopLoss == nil || !p.Strict {
		return nil
	}
	if !stopLoss.IsPositive() || stopLoss.GreaterThanOrEqual(price) {
		return fmt.Errorf("%w: got %s at price %s", ErrInvalidStopLoss, stopLoss, price)
	}
	return nil
}
