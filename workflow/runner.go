/*
Package workflow drives invoice runs against the Kimai collaborator.

PURPOSE:
  The billing package computes; this package sequences. One run loads the
  snapshot (customers, projects, activities, eligible entries), hands it
  to the engine, renders the documents and writes the workflow state back
  to Kimai: in-progress tags on entries, balance fields on customer
  comments, export flags on submit.

NO LOCAL TRANSACTION:
  Mutations are issued one at a time and are each immediately visible on
  the Kimai side. A crash mid-submit can leave some entries exported and
  others not; recovery is re-running the matching cancel/submit command,
  which therefore tolerates partially-applied prior state (including the
  fully-clean no-op).

COMMANDS:
  Invoice                 -> invoice.go
  InvoiceInProgressCancel -> progress.go
  InvoiceInProgressSubmit -> progress.go
  CRA                     -> cra.go
  ImportEvents            -> importer.go
*/
package workflow

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/kimai"
)

// TagCalendarSynced marks entries already pushed to the external calendar.
const TagCalendarSynced = "calendar-synced"

// =============================================================================
// RUN JOURNAL
// =============================================================================

// RunRecord is one journal row: the outcome of one command for one
// customer. Diagnostics only; the journal is never read back by a run.
type RunRecord struct {
	RunID          string
	Command        string
	At             time.Time
	CustomerID     int
	CustomerName   string
	InvoiceID      string
	SubtotalFloor  decimal.Decimal
	TotalFloor     decimal.Decimal
	RemainingHours decimal.Decimal
}

// Journal records run outcomes. Implemented by store/sqlite.
type Journal interface {
	Record(ctx context.Context, rec RunRecord) error
}

// =============================================================================
// RUNNER
// =============================================================================

// Runner holds the collaborators and configuration for one process
// invocation. Strictly sequential; it owns no state beyond what it
// rebuilds per run.
type Runner struct {
	Service      kimai.Service
	Log          *zap.Logger
	Journal      Journal // nil disables journaling
	VATRate      decimal.Decimal
	TemplatePath string
	OutputDir    string
	Now          func() time.Time
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) log() *zap.Logger {
	if r.Log != nil {
		return r.Log
	}
	return zap.NewNop()
}

func (r *Runner) record(ctx context.Context, rec RunRecord) error {
	if r.Journal == nil {
		return nil
	}
	return r.Journal.Record(ctx, rec)
}

// loadIndex fetches the three entity datasets and builds the index.
func (r *Runner) loadIndex(ctx context.Context) (*kimai.Index, error) {
	customers, err := r.Service.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}
	projects, err := r.Service.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	activities, err := r.Service.ListActivities(ctx)
	if err != nil {
		return nil, err
	}
	return kimai.NewIndex(customers, projects, activities)
}

// billableEntries fetches the run's eligible entries: billable, not yet
// exported, and closed (active entries have no end time to bill).
func (r *Runner) billableEntries(ctx context.Context) ([]kimai.TimeEntry, error) {
	billable, exported, active := true, false, false
	return r.Service.ListTimeEntries(ctx, kimai.EntryFilter{
		Billable: &billable,
		Exported: &exported,
		Active:   &active,
	})
}

// =============================================================================
// RATE SOURCE - collaborator-backed, one rate per customer or fatal
// =============================================================================

type rateSource struct {
	ctx     context.Context
	service kimai.Service
	cache   map[int]decimal.Decimal
}

func newRateSource(ctx context.Context, service kimai.Service) *rateSource {
	return &rateSource{ctx: ctx, service: service, cache: make(map[int]decimal.Decimal)}
}

// CurrentRate resolves the customer's single configured rate. Zero or
// several rates make rate selection ambiguous, which is fatal.
func (s *rateSource) CurrentRate(customerID int) (decimal.Decimal, error) {
	if rate, ok := s.cache[customerID]; ok {
		return rate, nil
	}
	rates, err := s.service.GetCustomerRates(s.ctx, customerID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(rates) != 1 {
		return decimal.Decimal{}, &billing.AmbiguousRateError{CustomerID: customerID, Count: len(rates)}
	}
	rate := decimal.NewFromFloat(rates[0].Rate)
	s.cache[customerID] = rate
	return rate, nil
}
