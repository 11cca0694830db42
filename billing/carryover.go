/*
carryover.go - The remaining-balance state machine

PURPOSE:
  Customers are billed in half-unit steps. Whatever part of a line's
  duration does not fill a half unit is not billed this run; it is carried
  forward on the customer record and reclaimed as soon as the carried
  balance amounts to a full half unit.

ALGORITHM (per customer, lines in deterministic (project, activity) order):
  1. floorDuration = floor(duration / step) * step, step = 0.5 unit in hours
  2. remaining += duration - floorDuration
  3. if remaining > step: floorDuration += step; remaining -= step
     (greedy: the first line under which a full half unit accumulates
      absorbs it)
  4. after all lines: remaining rounded to 2 decimals

CONSERVATION:
  sum(floored) + remaining_after == sum(duration) + remaining_before,
  up to the final 2-decimal rounding. Hours are never created or lost.

STATE ACROSS RUNS (persisted on the customer comment, see settings.go):
  clean        -> invoice computes invoiceRemainingHoursInProgress
  in-progress  -> cancel discards it, or submit promotes it to
                  invoiceRemainingHours
  A new invoice run against an in-progress customer is fatal.

The mechanics are unconditional: a customer with no unit or rounding
configuration still runs them with multiplier 1.
*/
package billing

import (
	"github.com/shopspring/decimal"
)

var half = decimal.RequireFromString("0.5")

// ApplyCarry runs the floor/carry algorithm over the customer's lines,
// mutating each line's FlooredHours, and returns the updated remaining
// balance. opening is the customer's finalized invoiceRemainingHours
// (zero if absent). The lines must already carry their unit settings.
func ApplyCarry(lines []*Line, opening decimal.Decimal) (decimal.Decimal, error) {
	remaining := opening

	for _, line := range lines {
		multiplier, err := line.Unit.HoursPerUnitOrDefault()
		if err != nil {
			return decimal.Decimal{}, err
		}
		step := half.Mul(multiplier) // hours per floor granularity

		floored := line.DurationHours.Div(step).Floor().Mul(step)
		remaining = remaining.Add(line.DurationHours.Sub(floored))

		// Reclaim a stranded half unit as soon as one has accumulated.
		if remaining.GreaterThan(step) {
			floored = floored.Add(step)
			remaining = remaining.Sub(step)
		}

		line.FlooredHours = floored
	}

	return remaining.Round(2), nil
}
