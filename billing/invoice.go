/*
invoice.go - Invoice assembly

PURPOSE:
  Packages a customer's annotated, carry-adjusted lines into one numbered
  Invoice with header totals. Invoices are ephemeral: rebuilt from scratch
  every run, never persisted locally.

NUMBERING:
  Run-scoped sequence starting at 1, customers processed in name order so
  numbering is stable across identical runs. Identifier: "F" + year(4) +
  month(2) + zero-padded sequence, e.g. F20240301.

TAX:
  Tax is always computed on the floored subtotal. The displayed total
  (full subtotal + tax) and the invoiced total (floored subtotal + tax)
  therefore share one tax figure; the carried hours are taxed when they
  are eventually billed, not twice.
*/
package billing

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/invoice-engine/kimai"
)

// =============================================================================
// INVOICE
// =============================================================================

// Invoice is one customer's invoice for one run.
type Invoice struct {
	Number   int       // run-scoped sequence, starts at 1
	Date     time.Time // run date
	Customer kimai.Customer
	Settings Settings
	Lines    []*Line // sorted by Begin ascending
	VATRate  decimal.Decimal

	// RemainingHours is the updated carry balance computed by this run,
	// i.e. the value that becomes invoiceRemainingHoursInProgress.
	RemainingHours decimal.Decimal
}

// ID is the invoice identifier: F + year + month + 2-digit sequence.
func (inv *Invoice) ID() string {
	return fmt.Sprintf("F%04d%02d%02d", inv.Date.Year(), int(inv.Date.Month()), inv.Number)
}

// Subtotal sums the lines' full subtotals.
func (inv *Invoice) Subtotal() decimal.Decimal {
	return inv.sumLines((*Line).Subtotal)
}

// SubtotalFloor sums the lines' floored subtotals.
func (inv *Invoice) SubtotalFloor() decimal.Decimal {
	return inv.sumLines((*Line).SubtotalFloor)
}

// Tax on the full subtotal (display only).
func (inv *Invoice) Tax() decimal.Decimal {
	return inv.Subtotal().Mul(inv.VATRate)
}

// TaxFloor is the tax actually invoiced, computed on the floored subtotal.
func (inv *Invoice) TaxFloor() decimal.Decimal {
	return inv.SubtotalFloor().Mul(inv.VATRate)
}

// Total is the full subtotal plus the invoiced tax.
func (inv *Invoice) Total() decimal.Decimal {
	return inv.Subtotal().Add(inv.TaxFloor())
}

// TotalFloor is the amount actually due this run.
func (inv *Invoice) TotalFloor() decimal.Decimal {
	return inv.SubtotalFloor().Add(inv.TaxFloor())
}

func (inv *Invoice) sumLines(f func(*Line) (decimal.Decimal, error)) decimal.Decimal {
	sum := decimal.Zero
	for _, line := range inv.Lines {
		// Lines were annotated before assembly; unit errors cannot occur here.
		v, err := f(line)
		if err != nil {
			return decimal.Zero
		}
		sum = sum.Add(v)
	}
	return sum
}

// =============================================================================
// PIPELINE
// =============================================================================

// BuildInvoices runs the full computation for every customer in the
// aggregation: rate annotation, floor/carry, assembly. Customers are
// processed in name order; returned invoices follow that order.
//
// settingsFor must yield the customer's parsed settings; a customer whose
// settings are already in-progress is fatal before any computation.
func BuildInvoices(agg *Aggregation, idx *kimai.Index, settingsFor func(kimai.Customer) (Settings, error), vatRate decimal.Decimal, runDate time.Time) ([]*Invoice, error) {
	customers := make([]kimai.Customer, 0, len(agg.CustomerIDs()))
	for _, id := range agg.CustomerIDs() {
		customer, err := idx.Customer(id)
		if err != nil {
			return nil, err
		}
		customers = append(customers, customer)
	}
	sort.Slice(customers, func(i, j int) bool { return customers[i].Name < customers[j].Name })

	invoices := make([]*Invoice, 0, len(customers))
	for i, customer := range customers {
		settings, err := settingsFor(customer)
		if err != nil {
			return nil, err
		}
		if settings.InProgress() {
			return nil, fmt.Errorf("customer %d (%s): %w", customer.ID, customer.Name, ErrRunInProgress)
		}

		lines := agg.Lines(customer.ID)
		if err := AnnotateLines(lines, settings, vatRate); err != nil {
			return nil, fmt.Errorf("customer %d (%s): %w", customer.ID, customer.Name, err)
		}

		remaining, err := ApplyCarry(lines, settings.RemainingHours)
		if err != nil {
			return nil, fmt.Errorf("customer %d (%s): %w", customer.ID, customer.Name, err)
		}

		sorted := append([]*Line(nil), lines...)
		sort.Slice(sorted, func(a, b int) bool { return sorted[a].Begin.Before(sorted[b].Begin) })

		invoices = append(invoices, &Invoice{
			Number:         i + 1,
			Date:           runDate,
			Customer:       customer,
			Settings:       settings,
			Lines:          sorted,
			VATRate:        vatRate,
			RemainingHours: remaining,
		})
	}

	return invoices, nil
}
