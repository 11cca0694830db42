/*
rate.go - Per-unit rate resolution and rounding

PURPOSE:
  Turns a customer's hourly rate into the per-unit rate printed on the
  invoice, under the customer's unit and rounding configuration.

ROUNDING MODES (closed variant, exhaustive switch):
  SUBTOTAL  round(hourlyRate * unitMultiplier)
            -> the pre-tax unit price is an integer
  TOTAL     round(perUnit * (1+vat)) / (1+vat)
            -> the tax-INCLUSIVE unit price is an integer
  none      the raw per-unit rate

  The unit is mandatory for rate resolution; the carry engine is the only
  consumer that tolerates an unconfigured unit.
*/
package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// ResolveRate computes the per-unit rate for a line: hourly rate times the
// unit multiplier, rounded per the mode. vatRate is the process-wide flat
// VAT rate (e.g. 0.20).
func ResolveRate(hourlyRate decimal.Decimal, unit Unit, mode RateRounding, vatRate decimal.Decimal) (decimal.Decimal, error) {
	multiplier, err := unit.HoursPerUnit()
	if err != nil {
		return decimal.Decimal{}, err
	}
	perUnit := hourlyRate.Mul(multiplier)

	switch mode {
	case RoundNone:
		return perUnit, nil
	case RoundSubtotal:
		return perUnit.Round(0), nil
	case RoundTotal:
		factor := one.Add(vatRate)
		return perUnit.Mul(factor).Round(0).Div(factor), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("%w: unknown invoiceRateRound %q", ErrBadSettings, string(mode))
	}
}

// AnnotateLines resolves the per-unit rate for every line of a customer
// and stamps the customer's unit and rounding settings on it.
func AnnotateLines(lines []*Line, settings Settings, vatRate decimal.Decimal) error {
	for _, line := range lines {
		rate, err := ResolveRate(line.HourlyRate, settings.Unit, settings.RateRounding, vatRate)
		if err != nil {
			return fmt.Errorf("line %s/%s: %w", line.ProjectName, line.ActivityName, err)
		}
		line.PerUnitRate = rate
		line.Unit = settings.Unit
		line.Rounding = settings.RateRounding
	}
	return nil
}
