/*
aggregate.go - Billing-line aggregation

PURPOSE:
  Folds the run's eligible time entries into one Line per
  (customer, project, activity) triple, accumulating hours and stretching
  the begin/end extent, while validating every entry against Kimai's own
  stored amounts.

PRE-CONDITIONS (enforced by the caller's filter, re-checked here where
they carry billing meaning):
  - entries are billable, not exported, and closed
  - an entry still tagged in-progress signals an unfinished prior run and
    is fatal for its customer

CONSISTENCY CHECK:
  For every entry, rate x (duration/3600) must match the amount Kimai
  stored on the entry within 0.01. A mismatch means the customer's rate
  changed since the entry was priced; billing proceeds on neither value.

SEE ALSO:
  - carryover.go: consumes the aggregated lines in deterministic order
  - invoice.go: packages lines per customer
*/
package billing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/invoice-engine/kimai"
)

var secondsPerHour = decimal.NewFromInt(3600)

// rateTolerance is the absolute tolerance for the stored-amount check.
var rateTolerance = decimal.RequireFromString("0.01")

// =============================================================================
// LINE - One (customer, project, activity) accumulation
// =============================================================================

// Line is one invoice line in the making: project/activity names, the
// date extent observed, the customer's hourly rate, accumulated hours and
// - once the carry engine has run - the floored hours actually invoiced.
type Line struct {
	CustomerID   int
	ProjectName  string
	ActivityName string

	Begin time.Time // earliest entry date
	End   time.Time // latest entry date

	HourlyRate  decimal.Decimal // customer's single current rate
	PerUnitRate decimal.Decimal // set by the rate resolver

	DurationHours decimal.Decimal
	FlooredHours  decimal.Decimal // set by the carry engine; always <= DurationHours

	Unit     Unit
	Rounding RateRounding
}

// DurationUnits converts accumulated hours into billing units.
func (l *Line) DurationUnits() (decimal.Decimal, error) {
	per, err := l.Unit.HoursPerUnitOrDefault()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return l.DurationHours.Div(per), nil
}

// FlooredUnits converts floored hours into billing units.
func (l *Line) FlooredUnits() (decimal.Decimal, error) {
	per, err := l.Unit.HoursPerUnitOrDefault()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return l.FlooredHours.Div(per), nil
}

// Subtotal is per-unit rate x accumulated duration in units.
func (l *Line) Subtotal() (decimal.Decimal, error) {
	units, err := l.DurationUnits()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return l.PerUnitRate.Mul(units), nil
}

// SubtotalFloor is per-unit rate x floored duration in units.
func (l *Line) SubtotalFloor() (decimal.Decimal, error) {
	units, err := l.FlooredUnits()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return l.PerUnitRate.Mul(units), nil
}

// =============================================================================
// RATE SOURCE
// =============================================================================

// RateSource resolves a customer's single current hourly rate. The
// workflow implements it over the collaborator's rate listing; a customer
// with zero or several rates must yield AmbiguousRateError.
type RateSource interface {
	CurrentRate(customerID int) (decimal.Decimal, error)
}

// =============================================================================
// AGGREGATION
// =============================================================================

type lineKey struct {
	customerID int
	project    string
	activity   string
}

// Aggregation is the folded result of one run: lines keyed by
// (customer, project, activity), plus the entries backing each customer
// for later tag mutations.
type Aggregation struct {
	lines     map[lineKey]*Line
	order     []lineKey
	entries   map[int][]kimai.TimeEntry // customer id -> contributing entries
	customers []int
}

// Lines returns the customer's lines sorted by (project, activity) name.
// This is the deterministic traversal order the carry engine relies on.
func (a *Aggregation) Lines(customerID int) []*Line {
	var out []*Line
	for _, k := range a.order {
		if k.customerID == customerID {
			out = append(out, a.lines[k])
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProjectName != out[j].ProjectName {
			return out[i].ProjectName < out[j].ProjectName
		}
		return out[i].ActivityName < out[j].ActivityName
	})
	return out
}

// CustomerIDs returns the customers present, sorted ascending.
func (a *Aggregation) CustomerIDs() []int {
	out := append([]int(nil), a.customers...)
	sort.Ints(out)
	return out
}

// Entries returns the time entries that contributed to the customer's lines.
func (a *Aggregation) Entries(customerID int) []kimai.TimeEntry {
	return a.entries[customerID]
}

// Aggregate folds eligible entries into billing lines.
//
// The caller is responsible for the eligibility filter (billable, not
// exported, closed); Aggregate enforces the billing pre-conditions that
// cannot be expressed as a filter: no entry may still carry the
// in-progress tag, and Kimai's stored amount must match the resolved
// rate within tolerance.
func Aggregate(entries []kimai.TimeEntry, idx *kimai.Index, rates RateSource) (*Aggregation, error) {
	agg := &Aggregation{
		lines:   make(map[lineKey]*Line),
		entries: make(map[int][]kimai.TimeEntry),
	}

	for _, entry := range entries {
		if entry.HasTag(TagInvoiceInProgress) {
			customer, err := idx.CustomerOfEntry(entry)
			if err != nil {
				return nil, err
			}
			return nil, &InProgressEntryError{EntryID: entry.ID, CustomerID: customer.ID}
		}

		project, err := idx.Project(entry.ProjectID)
		if err != nil {
			return nil, err
		}
		activity, err := idx.Activity(entry.ActivityID)
		if err != nil {
			return nil, err
		}

		key := lineKey{customerID: project.CustomerID, project: project.Name, activity: activity.Name}
		date := dayOf(entry.Begin)

		line, exists := agg.lines[key]
		if !exists {
			rate, err := rates.CurrentRate(project.CustomerID)
			if err != nil {
				return nil, err
			}
			line = &Line{
				CustomerID:   project.CustomerID,
				ProjectName:  project.Name,
				ActivityName: activity.Name,
				Begin:        date,
				End:          date,
				HourlyRate:   rate,
			}
			agg.lines[key] = line
			agg.order = append(agg.order, key)
			if len(agg.entries[project.CustomerID]) == 0 {
				agg.customers = append(agg.customers, project.CustomerID)
			}
		}

		if date.Before(line.Begin) {
			line.Begin = date
		}
		if date.After(line.End) {
			line.End = date
		}

		hours := decimal.NewFromInt(int64(entry.Duration)).Div(secondsPerHour)
		line.DurationHours = line.DurationHours.Add(hours)

		// Cross-check against the amount Kimai priced the entry at.
		resolved := line.HourlyRate.Mul(hours)
		stored := decimal.NewFromFloat(entry.Rate)
		if resolved.Sub(stored).Abs().GreaterThan(rateTolerance) {
			return nil, &RateDriftError{EntryID: entry.ID, Stored: stored, Resolved: resolved}
		}

		agg.entries[project.CustomerID] = append(agg.entries[project.CustomerID], entry)
	}

	return agg, nil
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
