/*
Package billing is the invoice computation engine.

PURPOSE:
  Pure computation over immutable collaborator snapshots: it folds time
  entries into billing lines, converts durations into billable units under
  a configurable rounding policy, carries fractional units across invoice
  runs, and assembles numbered invoices. No I/O happens here; the workflow
  package drives the collaborator.

KEY CONCEPTS IN THIS FILE (settings.go):
  - Unit: the billing denomination (HOUR or DAY, one day = 7 hours)
  - RateRounding: how the per-unit rate is rounded (SUBTOTAL, TOTAL, none)
  - Settings: the per-customer billing configuration embedded as JSON in
    the customer's free-text comment field

COMMENT AS SETTINGS STORE:
  Kimai gives us no custom fields, so the customer comment doubles as a
  JSON key-value store. The encoding is isolated behind ParseSettings and
  Settings.EncodeComment; unknown keys round-trip untouched so the engine
  never clobbers data it does not own.

STATE INVARIANT:
  At most one invoice run may be in flight per customer:
  invoiceRemainingHoursInProgress is either absent (clean) or a number
  (in-progress). A second run against an in-progress customer is fatal.

SEE ALSO:
  - aggregate.go: billing-line aggregation
  - rate.go: per-unit rate resolution
  - carryover.go: the remaining-balance state machine
*/
package billing

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Tag marking a time entry as part of a not-yet-finalized invoice run.
const TagInvoiceInProgress = "invoice-in-progress"

// =============================================================================
// UNIT - Billing denomination (closed variant)
// =============================================================================

// Unit is the denomination billed durations are expressed in. The zero
// value means "not configured": tolerated by the carry engine (multiplier
// 1) but fatal for rate resolution.
type Unit string

const (
	UnitUnset Unit = ""
	UnitHour  Unit = "HOUR"
	UnitDay   Unit = "DAY"
)

var hoursPerDay = decimal.NewFromInt(7)

// HoursPerUnit returns the unit-rate multiplier: 1 for HOUR, 7 for DAY
// (one billing day is seven hours). The unset unit is an error here; use
// HoursPerUnitOrDefault where the floor/carry mechanics must still run.
func (u Unit) HoursPerUnit() (decimal.Decimal, error) {
	switch u {
	case UnitHour:
		return decimal.NewFromInt(1), nil
	case UnitDay:
		return hoursPerDay, nil
	case UnitUnset:
		return decimal.Decimal{}, ErrUnitRequired
	default:
		return decimal.Decimal{}, fmt.Errorf("%w: unknown invoiceUnit %q", ErrBadSettings, string(u))
	}
}

// HoursPerUnitOrDefault is HoursPerUnit with the unset unit treated as
// HOUR. Unknown values still fail.
func (u Unit) HoursPerUnitOrDefault() (decimal.Decimal, error) {
	if u == UnitUnset {
		return decimal.NewFromInt(1), nil
	}
	return u.HoursPerUnit()
}

// =============================================================================
// RATE ROUNDING - Closed variant, one evaluation per mode (see rate.go)
// =============================================================================

// RateRounding selects how the per-unit rate is rounded. The zero value
// means "no rounding".
type RateRounding string

const (
	RoundNone     RateRounding = ""
	RoundSubtotal RateRounding = "SUBTOTAL"
	RoundTotal    RateRounding = "TOTAL"
)

func (r RateRounding) valid() bool {
	return r == RoundNone || r == RoundSubtotal || r == RoundTotal
}

// =============================================================================
// SETTINGS - Per-customer billing configuration
// =============================================================================

// Settings is the decoded form of the four optional billing keys embedded
// in a customer comment. RemainingHours is the finalized carry balance;
// RemainingHoursInProgress is non-nil only while an invoice run awaits
// cancel or submit.
type Settings struct {
	Unit                     Unit
	RateRounding             RateRounding
	RemainingHours           decimal.Decimal
	RemainingHoursInProgress *decimal.Decimal

	// Foreign keys in the comment the engine does not own.
	extra map[string]json.RawMessage
}

// InProgress reports whether a run is awaiting cancel or submit.
func (s Settings) InProgress() bool { return s.RemainingHoursInProgress != nil }

const (
	keyUnit                = "invoiceUnit"
	keyRateRound           = "invoiceRateRound"
	keyRemaining           = "invoiceRemainingHours"
	keyRemainingInProgress = "invoiceRemainingHoursInProgress"
)

// ParseSettings decodes the billing settings embedded in a customer
// comment. An empty comment yields the zero settings; a non-empty comment
// must be a JSON object. Unknown keys are preserved for re-encoding.
func ParseSettings(comment string) (Settings, error) {
	var s Settings
	if comment == "" {
		return s, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(comment), &fields); err != nil {
		return s, fmt.Errorf("%w: comment is not a JSON object: %q", ErrBadSettings, comment)
	}

	if raw, ok := takeField(fields, keyUnit); ok {
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return s, fmt.Errorf("%w: %s must be a string", ErrBadSettings, keyUnit)
		}
		s.Unit = Unit(v)
		if _, err := s.Unit.HoursPerUnit(); err != nil {
			return s, err
		}
	}
	if raw, ok := takeField(fields, keyRateRound); ok {
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return s, fmt.Errorf("%w: %s must be a string", ErrBadSettings, keyRateRound)
		}
		s.RateRounding = RateRounding(v)
		if !s.RateRounding.valid() {
			return s, fmt.Errorf("%w: unknown %s %q", ErrBadSettings, keyRateRound, v)
		}
	}
	if raw, ok := takeField(fields, keyRemaining); ok {
		v, err := decodeDecimal(raw, keyRemaining)
		if err != nil {
			return s, err
		}
		s.RemainingHours = v
	}
	if raw, ok := takeField(fields, keyRemainingInProgress); ok {
		v, err := decodeDecimal(raw, keyRemainingInProgress)
		if err != nil {
			return s, err
		}
		s.RemainingHoursInProgress = &v
	}

	if len(fields) > 0 {
		s.extra = fields
	}
	return s, nil
}

// EncodeComment serializes the settings back into the comment field,
// merging preserved unknown keys. Zero-valued optional settings are
// omitted; RemainingHours is always written once any setting exists.
func (s Settings) EncodeComment() (string, error) {
	fields := make(map[string]json.RawMessage, len(s.extra)+4)
	for k, v := range s.extra {
		fields[k] = v
	}

	if s.Unit != UnitUnset {
		fields[keyUnit] = mustJSON(string(s.Unit))
	}
	if s.RateRounding != RoundNone {
		fields[keyRateRound] = mustJSON(string(s.RateRounding))
	}
	// decimal marshals as a quoted string by default; the comment store
	// holds plain JSON numbers, and Decimal.String is always a valid one.
	fields[keyRemaining] = json.RawMessage(s.RemainingHours.String())
	if s.RemainingHoursInProgress != nil {
		fields[keyRemainingInProgress] = json.RawMessage(s.RemainingHoursInProgress.String())
	}

	out, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func takeField(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		delete(fields, key)
		return nil, false
	}
	delete(fields, key)
	return raw, true
}

func decodeDecimal(raw json.RawMessage, key string) (decimal.Decimal, error) {
	var v decimal.Decimal
	if err := json.Unmarshal(raw, &v); err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %s must be a number", ErrBadSettings, key)
	}
	return v, nil
}

func mustJSON(v any) json.RawMessage {
	out, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return out
}
