/*
Package kimai is the collaborator boundary to the Kimai time-tracking service.

PURPOSE:
  Everything that crosses the wire lives here: typed record snapshots
  (Customer, Project, Activity, TimeEntry, Rate), strict JSON decoding,
  the HTTP client, and the entity indexes built over query results.

SNAPSHOT SEMANTICS:
  Records are immutable snapshots of the remote state at the moment of the
  call. An update never mutates a snapshot already held by a caller; the
  collaborator returns fresh copies. The authoritative state always lives
  on the Kimai side - this process only holds in-memory copies for the
  duration of one run.

STRICT DECODING:
  Billing from malformed data is worse than not billing at all. Every
  required field must be present with the right JSON shape; a missing or
  mis-typed field aborts decoding with a SchemaError naming the record
  kind and field. Only fields whose declared type admits absence (pointer
  fields) may be null or missing.

SEE ALSO:
  - client.go: HTTP client and Service interface
  - index.go: by-id / by-name / by-parent lookup structures
*/
package kimai

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// RECORD SNAPSHOTS
// =============================================================================

// Customer is a Kimai customer record. Comment doubles as an embedded
// key-value store for billing settings; see billing.ParseSettings.
type Customer struct {
	ID       int
	Name     string
	Number   string
	Comment  string
	Visible  bool
	Billable bool
	Currency string
}

// Project belongs to exactly one customer. Names are globally unique
// (enforced at index build, not here).
type Project struct {
	ID         int
	CustomerID int
	Name       string
	Comment    *string
	Visible    bool
	Billable   bool
}

// Activity belongs to exactly one project.
type Activity struct {
	ID        int
	ProjectID int
	Name      string
	Comment   *string
	Visible   bool
	Billable  bool
}

// TimeEntry is a single tracked interval. End is nil while the entry is
// still running; the billing workflow only ever requests closed entries.
// Rate is the monetary amount as computed and stored by Kimai itself,
// used as the source of truth for the aggregator's consistency check.
type TimeEntry struct {
	ID          int
	ProjectID   int
	ActivityID  int
	UserID      int
	Begin       time.Time
	End         *time.Time
	Duration    int // seconds
	Description string
	Rate        float64
	Exported    bool
	Billable    bool
	Tags        []string
}

// HasTag reports whether the entry carries the given tag.
func (e TimeEntry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// WithoutTag returns the tag set minus the given tag.
func (e TimeEntry) WithoutTag(tag string) []string {
	var out []string
	for _, t := range e.Tags {
		if t != tag {
			out = append(out, t)
		}
	}
	return out
}

// Rate is one entry of a customer's rate configuration.
type Rate struct {
	ID           int
	Rate         float64
	InternalRate *float64
	IsFixed      bool
}

// =============================================================================
// SCHEMA ERRORS
// =============================================================================

// ErrSchema is the sentinel for malformed collaborator records.
var ErrSchema = errors.New("malformed record")

// SchemaError reports a missing or mis-typed field in a collaborator record.
type SchemaError struct {
	Kind  string // "customer", "project", ...
	Field string
	Want  string
	Got   string
}

func (e *SchemaError) Error() string {
	if e.Got == "" {
		return fmt.Sprintf("%s record: required field %q missing", e.Kind, e.Field)
	}
	return fmt.Sprintf("%s record: field %q has %s, expected %s", e.Kind, e.Field, e.Got, e.Want)
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

// =============================================================================
// STRICT DECODING
// =============================================================================

// Kimai serializes timestamps in ISO-8601 with a zone offset but no colon
// ("2024-03-10T09:00:00+0100"); newer installs emit RFC 3339.
var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05-0700", "2006-01-02T15:04:05"}

// ParseEventTime parses a timestamp in any of the layouts Kimai emits or
// accepts. Used by the calendar import path for event files.
func ParseEventTime(s string) (time.Time, error) {
	return parseTime(s)
}

func parseTime(s string) (time.Time, error) {
	var err error
	for _, layout := range timeLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

// rawObject gives field-by-field access with presence and shape checks.
type rawObject struct {
	kind   string
	fields map[string]json.RawMessage
}

func newRawObject(kind string, data json.RawMessage) (rawObject, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return rawObject{}, &SchemaError{Kind: kind, Field: "(root)", Want: "object", Got: "non-object"}
	}
	return rawObject{kind: kind, fields: fields}, nil
}

func (o rawObject) raw(name string) (json.RawMessage, error) {
	v, ok := o.fields[name]
	if !ok {
		return nil, &SchemaError{Kind: o.kind, Field: name}
	}
	return v, nil
}

func (o rawObject) isNull(name string) bool {
	v, ok := o.fields[name]
	return !ok || string(v) == "null"
}

func decodeField[T any](o rawObject, name, want string, out *T) error {
	v, err := o.raw(name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(v, out); err != nil {
		return &SchemaError{Kind: o.kind, Field: name, Want: want, Got: string(v)}
	}
	return nil
}

func (o rawObject) str(name string, out *string) error { return decodeField(o, name, "string", out) }
func (o rawObject) num(name string, out *int) error    { return decodeField(o, name, "number", out) }
func (o rawObject) flt(name string, out *float64) error {
	return decodeField(o, name, "number", out)
}
func (o rawObject) boolean(name string, out *bool) error { return decodeField(o, name, "bool", out) }

// optStr admits absent/null, per the original record schema.
func (o rawObject) optStr(name string, out **string) error {
	if o.isNull(name) {
		*out = nil
		return nil
	}
	var s string
	if err := decodeField(o, name, "string or null", &s); err != nil {
		return err
	}
	*out = &s
	return nil
}

func (o rawObject) timestamp(name string, out *time.Time) error {
	var s string
	if err := o.str(name, &s); err != nil {
		return err
	}
	t, err := parseTime(s)
	if err != nil {
		return &SchemaError{Kind: o.kind, Field: name, Want: "timestamp", Got: s}
	}
	*out = t
	return nil
}

// DecodeCustomer decodes a single customer record, failing on any missing
// or mis-typed required field.
func DecodeCustomer(data json.RawMessage) (Customer, error) {
	o, err := newRawObject("customer", data)
	if err != nil {
		return Customer{}, err
	}
	var c Customer
	steps := []error{
		o.num("id", &c.ID),
		o.str("name", &c.Name),
		o.str("number", &c.Number),
		o.str("comment", &c.Comment),
		o.boolean("visible", &c.Visible),
		o.boolean("billable", &c.Billable),
		o.str("currency", &c.Currency),
	}
	for _, err := range steps {
		if err != nil {
			return Customer{}, err
		}
	}
	return c, nil
}

// DecodeProject decodes a single project record.
func DecodeProject(data json.RawMessage) (Project, error) {
	o, err := newRawObject("project", data)
	if err != nil {
		return Project{}, err
	}
	var p Project
	steps := []error{
		o.num("id", &p.ID),
		o.num("customer", &p.CustomerID),
		o.str("name", &p.Name),
		o.optStr("comment", &p.Comment),
		o.boolean("visible", &p.Visible),
		o.boolean("billable", &p.Billable),
	}
	for _, err := range steps {
		if err != nil {
			return Project{}, err
		}
	}
	return p, nil
}

// DecodeActivity decodes a single activity record.
func DecodeActivity(data json.RawMessage) (Activity, error) {
	o, err := newRawObject("activity", data)
	if err != nil {
		return Activity{}, err
	}
	var a Activity
	steps := []error{
		o.num("id", &a.ID),
		o.num("project", &a.ProjectID),
		o.str("name", &a.Name),
		o.optStr("comment", &a.Comment),
		o.boolean("visible", &a.Visible),
		o.boolean("billable", &a.Billable),
	}
	for _, err := range steps {
		if err != nil {
			return Activity{}, err
		}
	}
	return a, nil
}

// DecodeTimeEntry decodes a single timesheet record. "end" may be null
// for a running entry; every other field is required.
func DecodeTimeEntry(data json.RawMessage) (TimeEntry, error) {
	o, err := newRawObject("timesheet", data)
	if err != nil {
		return TimeEntry{}, err
	}
	var e TimeEntry
	steps := []error{
		o.num("id", &e.ID),
		o.num("project", &e.ProjectID),
		o.num("activity", &e.ActivityID),
		o.num("user", &e.UserID),
		o.timestamp("begin", &e.Begin),
		o.num("duration", &e.Duration),
		o.flt("rate", &e.Rate),
		o.boolean("exported", &e.Exported),
		o.boolean("billable", &e.Billable),
	}
	for _, err := range steps {
		if err != nil {
			return TimeEntry{}, err
		}
	}
	if !o.isNull("end") {
		var end time.Time
		if err := o.timestamp("end", &end); err != nil {
			return TimeEntry{}, err
		}
		e.End = &end
	}
	// description is nullable in Kimai exports
	if !o.isNull("description") {
		if err := o.str("description", &e.Description); err != nil {
			return TimeEntry{}, err
		}
	}
	if raw, ok := o.fields["tags"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &e.Tags); err != nil {
			return TimeEntry{}, &SchemaError{Kind: "timesheet", Field: "tags", Want: "string list", Got: string(raw)}
		}
	}
	return e, nil
}

// DecodeRate decodes one customer rate record.
func DecodeRate(data json.RawMessage) (Rate, error) {
	o, err := newRawObject("rate", data)
	if err != nil {
		return Rate{}, err
	}
	var r Rate
	if err := o.num("id", &r.ID); err != nil {
		return Rate{}, err
	}
	if err := o.flt("rate", &r.Rate); err != nil {
		return Rate{}, err
	}
	if !o.isNull("internalRate") {
		var ir float64
		if err := o.flt("internalRate", &ir); err != nil {
			return Rate{}, err
		}
		r.InternalRate = &ir
	}
	if err := o.boolean("isFixed", &r.IsFixed); err != nil {
		return Rate{}, err
	}
	return r, nil
}

func decodeList[T any](data []byte, kind string, decode func(json.RawMessage) (T, error)) ([]T, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, &SchemaError{Kind: kind, Field: "(root)", Want: "list", Got: "non-list"}
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		decoded, err := decode(item)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded)
	}
	return out, nil
}
