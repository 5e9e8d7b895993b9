/*
calculator.go - Metered utility charge computation

PURPOSE:
  Pure arithmetic for meter-based charges (water, power). Given the previous
  and current readings and a per-unit rate, produces the charge amount.

RULES:
  units  = max(0, current - previous)
  amount = round(units * rate, 2 decimal places)

  A negative delta (current below previous) is clamped to zero, not rejected.
  This is a data-entry leniency policy: admins sometimes correct a reading
  downward mid-cycle and re-save. It can also mask a reversed pair of
  readings, which product has been asked to review.

PRECISION:
  decimal.Decimal throughout. Readings and rates come from persisted strings,
  never from floats.
*/
package billing

import "github.com/shopspring/decimal"

// MeteredAmount computes the charge for one utility from meter readings.
// Never errors; negative consumption is clamped to zero.
func MeteredAmount(previous, current, rate decimal.Decimal) decimal.Decimal {
	units := current.Sub(previous)
	if units.IsNegative() {
		units = decimal.Zero
	}
	return units.Mul(rate).Round(2)
}
