/*
progress.go - Resolving an in-progress invoice run

CANCEL:
  Strips the in-progress tag from every affected entry and discards the
  in-progress balance from every customer comment. No other field changes.

SUBMIT:
  Verifies no affected entry was exported behind our back (external
  interference is fatal before any write), then replaces each entry's
  in-progress tag with the exported flag and promotes every customer's
  in-progress balance to the finalized one.

Both commands iterate whatever matching state exists: a fully clean
system is a successful no-op, and partially-applied state from a crashed
prior invocation is simply finished off.
*/
package workflow

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/kimai"
)

// InvoiceInProgressCancel reverts an unfinished invoice run.
func (r *Runner) InvoiceInProgressCancel(ctx context.Context) error {
	runID := uuid.NewString()
	log := r.log().With(zap.String("run_id", runID), zap.String("command", "invoiceInProgressCancel"))

	entries, err := r.inProgressEntries(ctx)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		tags := entry.WithoutTag(billing.TagInvoiceInProgress)
		if _, err := r.Service.UpdateTimeEntry(ctx, entry.ID, kimai.EntryUpdate{Tags: &tags}); err != nil {
			return err
		}
	}
	log.Info("in-progress tags removed", zap.Int("entries", len(entries)))

	cleared, err := r.forEachInProgressCustomer(ctx, func(settings billing.Settings) billing.Settings {
		settings.RemainingHoursInProgress = nil
		return settings
	}, runID, "invoiceInProgressCancel")
	if err != nil {
		return err
	}

	log.Info("cancel complete", zap.Int("customers", cleared))
	return nil
}

// InvoiceInProgressSubmit finalizes an in-progress invoice run.
func (r *Runner) InvoiceInProgressSubmit(ctx context.Context) error {
	runID := uuid.NewString()
	log := r.log().With(zap.String("run_id", runID), zap.String("command", "invoiceInProgressSubmit"))

	entries, err := r.inProgressEntries(ctx)
	if err != nil {
		return err
	}

	// Check the whole set before mutating anything.
	for _, entry := range entries {
		if entry.Exported {
			return &billing.AlreadyExportedError{EntryID: entry.ID}
		}
	}

	exported := true
	for _, entry := range entries {
		tags := entry.WithoutTag(billing.TagInvoiceInProgress)
		update := kimai.EntryUpdate{Tags: &tags, Exported: &exported}
		if _, err := r.Service.UpdateTimeEntry(ctx, entry.ID, update); err != nil {
			return err
		}
	}
	log.Info("entries exported", zap.Int("entries", len(entries)))

	finalized, err := r.forEachInProgressCustomer(ctx, func(settings billing.Settings) billing.Settings {
		settings.RemainingHours = *settings.RemainingHoursInProgress
		settings.RemainingHoursInProgress = nil
		return settings
	}, runID, "invoiceInProgressSubmit")
	if err != nil {
		return err
	}

	log.Info("submit complete", zap.Int("customers", finalized))
	return nil
}

// inProgressEntries lists every entry still tagged by an invoice run.
func (r *Runner) inProgressEntries(ctx context.Context) ([]kimai.TimeEntry, error) {
	return r.Service.ListTimeEntries(ctx, kimai.EntryFilter{Tags: []string{billing.TagInvoiceInProgress}})
}

// forEachInProgressCustomer rewrites the settings of every customer with
// an in-progress balance and returns how many were touched.
func (r *Runner) forEachInProgressCustomer(ctx context.Context, transition func(billing.Settings) billing.Settings, runID, command string) (int, error) {
	customers, err := r.Service.ListCustomers(ctx)
	if err != nil {
		return 0, err
	}

	touched := 0
	for _, customer := range customers {
		settings, err := billing.ParseSettings(customer.Comment)
		if err != nil {
			return touched, err
		}
		if !settings.InProgress() {
			continue
		}

		next := transition(settings)
		comment, err := next.EncodeComment()
		if err != nil {
			return touched, err
		}
		if _, err := r.Service.UpdateCustomerComment(ctx, customer.ID, comment); err != nil {
			return touched, err
		}
		touched++

		if err := r.record(ctx, RunRecord{
			RunID:          runID,
			Command:        command,
			At:             r.now(),
			CustomerID:     customer.ID,
			CustomerName:   customer.Name,
			RemainingHours: next.RemainingHours,
		}); err != nil {
			return touched, err
		}
	}
	return touched, nil
}
