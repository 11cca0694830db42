/*
invoice.go - The invoice generation command

SEQUENCE (no local transaction; each write immediately visible):
  1. load snapshot, aggregate, compute invoices (pure, no writes)
  2. per invoice, in customer-name order:
     a. render the output document
     b. tag every contributing entry in-progress
     c. write invoiceRemainingHoursInProgress to the customer comment
  A failure between b and c leaves tagged entries with no in-progress
  balance; InvoiceInProgressCancel cleans both up independently.
*/
package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/export"
	"github.com/warp/invoice-engine/kimai"
)

// Invoice runs the full invoice generation workflow for every eligible
// customer and returns the assembled invoices.
func (r *Runner) Invoice(ctx context.Context) ([]*billing.Invoice, error) {
	runID := uuid.NewString()
	log := r.log().With(zap.String("run_id", runID), zap.String("command", "invoice"))

	idx, err := r.loadIndex(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := r.billableEntries(ctx)
	if err != nil {
		return nil, err
	}
	log.Info("snapshot loaded", zap.Int("entries", len(entries)))

	agg, err := billing.Aggregate(entries, idx, newRateSource(ctx, r.Service))
	if err != nil {
		return nil, err
	}

	settingsFor := func(c kimai.Customer) (billing.Settings, error) {
		s, err := billing.ParseSettings(c.Comment)
		if err != nil {
			return billing.Settings{}, fmt.Errorf("customer %d (%s): %w", c.ID, c.Name, err)
		}
		return s, nil
	}

	invoices, err := billing.BuildInvoices(agg, idx, settingsFor, r.VATRate, r.now())
	if err != nil {
		return nil, err
	}

	for _, invoice := range invoices {
		if err := r.emitInvoice(ctx, invoice, agg, runID, log); err != nil {
			return nil, err
		}
	}

	log.Info("invoice run complete", zap.Int("invoices", len(invoices)))
	return invoices, nil
}

func (r *Runner) emitInvoice(ctx context.Context, invoice *billing.Invoice, agg *billing.Aggregation, runID string, log *zap.Logger) error {
	customer := invoice.Customer

	if r.TemplatePath != "" {
		path, err := export.RenderInvoice(r.TemplatePath, r.OutputDir, invoice)
		if err != nil {
			return fmt.Errorf("customer %d (%s): %w", customer.ID, customer.Name, err)
		}
		log.Info("invoice rendered", zap.String("customer", customer.Name), zap.String("file", path))
	}

	// Mark every contributing entry as part of this in-progress run.
	for _, entry := range agg.Entries(customer.ID) {
		tags := append(append([]string(nil), entry.Tags...), billing.TagInvoiceInProgress)
		if _, err := r.Service.UpdateTimeEntry(ctx, entry.ID, kimai.EntryUpdate{Tags: &tags}); err != nil {
			return err
		}
	}

	// Persist the computed balance as in-progress; the finalized value is
	// untouched until submit.
	settings := invoice.Settings
	remaining := invoice.RemainingHours
	settings.RemainingHoursInProgress = &remaining
	comment, err := settings.EncodeComment()
	if err != nil {
		return err
	}
	if _, err := r.Service.UpdateCustomerComment(ctx, customer.ID, comment); err != nil {
		return err
	}

	log.Info("invoice issued",
		zap.String("customer", customer.Name),
		zap.String("invoice_id", invoice.ID()),
		zap.String("total_floor", invoice.TotalFloor().String()),
		zap.String("remaining_hours", remaining.String()))

	return r.record(ctx, RunRecord{
		RunID:          runID,
		Command:        "invoice",
		At:             r.now(),
		CustomerID:     customer.ID,
		CustomerName:   customer.Name,
		InvoiceID:      invoice.ID(),
		SubtotalFloor:  invoice.SubtotalFloor(),
		TotalFloor:     invoice.TotalFloor(),
		RemainingHours: remaining,
	})
}
