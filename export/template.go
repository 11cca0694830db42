/*
Package export renders computed invoices into documents.

PURPOSE:
  Two outputs: the invoice itself, produced by filling a spreadsheet
  template (xlsx.go), and the per-customer activity report (cra.go).

PLACEHOLDER GRAMMAR (this file):
  ${Namespace.field} or ${Namespace.field.part}
    Namespace  Customer | Invoice | InvoiceLine
    field      a registered accessor of the assembled object
    part       day | month | year, valid only on date fields

  A cell whose entire content is a single placeholder keeps the value's
  native type (numbers stay numbers, dates stay dates). A cell mixing a
  placeholder with text, or holding several placeholders, becomes a string
  with values substituted left to right.

NO REFLECTION:
  Fields resolve through explicit per-namespace accessor registries.
  Unknown names are a configuration error at lookup time, with the full
  placeholder expression in the message.
*/
package export

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/kimai"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrUnknownPlaceholder is the sentinel for an unregistered namespace or field.
	ErrUnknownPlaceholder = errors.New("unknown template placeholder")

	// ErrNotADate is the sentinel for a date-part extraction on a non-date field.
	ErrNotADate = errors.New("date part requested on a non-date field")

	// ErrLineOutsideRow is returned when an InvoiceLine placeholder is
	// resolved without a current line (cell outside a line row).
	ErrLineOutsideRow = errors.New("InvoiceLine placeholder outside a line row")
)

// PlaceholderError wraps a resolution failure with the offending expression.
type PlaceholderError struct {
	Expr string
	Err  error
}

func (e *PlaceholderError) Error() string { return fmt.Sprintf("placeholder %s: %v", e.Expr, e.Err) }
func (e *PlaceholderError) Unwrap() error { return e.Err }

// =============================================================================
// ACCESSOR REGISTRIES
// =============================================================================

var customerFields = map[string]func(kimai.Customer) any{
	"id":       func(c kimai.Customer) any { return c.ID },
	"name":     func(c kimai.Customer) any { return c.Name },
	"number":   func(c kimai.Customer) any { return c.Number },
	"currency": func(c kimai.Customer) any { return c.Currency },
}

var invoiceFields = map[string]func(*billing.Invoice) any{
	"id":             func(i *billing.Invoice) any { return i.ID() },
	"number":         func(i *billing.Invoice) any { return i.Number },
	"date":           func(i *billing.Invoice) any { return i.Date },
	"vatRate":        func(i *billing.Invoice) any { return i.VATRate },
	"subtotal":       func(i *billing.Invoice) any { return i.Subtotal() },
	"subtotalFloor":  func(i *billing.Invoice) any { return i.SubtotalFloor() },
	"tax":            func(i *billing.Invoice) any { return i.Tax() },
	"taxFloor":       func(i *billing.Invoice) any { return i.TaxFloor() },
	"total":          func(i *billing.Invoice) any { return i.Total() },
	"totalFloor":     func(i *billing.Invoice) any { return i.TotalFloor() },
	"remainingHours": func(i *billing.Invoice) any { return i.RemainingHours },
}

var lineFields = map[string]func(*billing.Line) any{
	"projectName":       func(l *billing.Line) any { return l.ProjectName },
	"activityName":      func(l *billing.Line) any { return l.ActivityName },
	"begin":             func(l *billing.Line) any { return l.Begin },
	"end":               func(l *billing.Line) any { return l.End },
	"rate":              func(l *billing.Line) any { return l.PerUnitRate },
	"hourlyRate":        func(l *billing.Line) any { return l.HourlyRate },
	"unit":              func(l *billing.Line) any { return string(l.Unit) },
	"durationHour":      func(l *billing.Line) any { return l.DurationHours },
	"durationHourFloor": func(l *billing.Line) any { return l.FlooredHours },
	"durationUnit":      func(l *billing.Line) any { v, _ := l.DurationUnits(); return v },
	"durationUnitFloor": func(l *billing.Line) any { v, _ := l.FlooredUnits(); return v },
	"subtotal":          func(l *billing.Line) any { v, _ := l.Subtotal(); return v },
	"subtotalFloor":     func(l *billing.Line) any { v, _ := l.SubtotalFloor(); return v },
}

// =============================================================================
// PLACEHOLDERS
// =============================================================================

var placeholderPattern = regexp.MustCompile(`\$\{(\w+)\.(\w+)(?:\.(\w+))?\}`)

// Placeholder is one parsed ${...} occurrence.
type Placeholder struct {
	Expr      string
	Namespace string
	Field     string
	Part      string
}

// FindPlaceholders parses every placeholder in a cell content, left to right.
func FindPlaceholders(content string) []Placeholder {
	matches := placeholderPattern.FindAllStringSubmatch(content, -1)
	out := make([]Placeholder, 0, len(matches))
	for _, m := range matches {
		out = append(out, Placeholder{Expr: m[0], Namespace: m[1], Field: m[2], Part: m[3]})
	}
	return out
}

// HasLinePlaceholder reports whether the content references InvoiceLine,
// which makes its row a repeating row.
func HasLinePlaceholder(content string) bool {
	for _, p := range FindPlaceholders(content) {
		if p.Namespace == "InvoiceLine" {
			return true
		}
	}
	return false
}

// =============================================================================
// RESOLVER
// =============================================================================

// Resolver resolves placeholders against one assembled invoice.
type Resolver struct {
	invoice *billing.Invoice
}

func NewResolver(invoice *billing.Invoice) *Resolver {
	return &Resolver{invoice: invoice}
}

// Resolve returns the native value of one placeholder. line may be nil
// outside repeating rows.
func (r *Resolver) Resolve(p Placeholder, line *billing.Line) (any, error) {
	var value any
	switch p.Namespace {
	case "Customer":
		get, ok := customerFields[p.Field]
		if !ok {
			return nil, &PlaceholderError{Expr: p.Expr, Err: ErrUnknownPlaceholder}
		}
		value = get(r.invoice.Customer)
	case "Invoice":
		get, ok := invoiceFields[p.Field]
		if !ok {
			return nil, &PlaceholderError{Expr: p.Expr, Err: ErrUnknownPlaceholder}
		}
		value = get(r.invoice)
	case "InvoiceLine":
		get, ok := lineFields[p.Field]
		if !ok {
			return nil, &PlaceholderError{Expr: p.Expr, Err: ErrUnknownPlaceholder}
		}
		if line == nil {
			return nil, &PlaceholderError{Expr: p.Expr, Err: ErrLineOutsideRow}
		}
		value = get(line)
	default:
		return nil, &PlaceholderError{Expr: p.Expr, Err: ErrUnknownPlaceholder}
	}

	if p.Part == "" {
		return value, nil
	}
	return extractDatePart(p, value)
}

// RenderCell resolves a full cell content. A cell that is exactly one
// placeholder yields the native value; anything else interpolates into a
// string.
func (r *Resolver) RenderCell(content string, line *billing.Line) (any, error) {
	placeholders := FindPlaceholders(content)
	if len(placeholders) == 0 {
		return content, nil
	}

	if len(placeholders) == 1 && placeholders[0].Expr == content {
		return r.Resolve(placeholders[0], line)
	}

	var b strings.Builder
	rest := content
	for _, p := range placeholders {
		idx := strings.Index(rest, p.Expr)
		b.WriteString(rest[:idx])
		value, err := r.Resolve(p, line)
		if err != nil {
			return nil, err
		}
		b.WriteString(formatValue(value))
		rest = rest[idx+len(p.Expr):]
	}
	b.WriteString(rest)
	return b.String(), nil
}

func extractDatePart(p Placeholder, value any) (any, error) {
	t, ok := value.(time.Time)
	if !ok {
		return nil, &PlaceholderError{Expr: p.Expr, Err: ErrNotADate}
	}
	switch p.Part {
	case "day":
		return t.Day(), nil
	case "month":
		return int(t.Month()), nil
	case "year":
		return t.Year(), nil
	default:
		return nil, &PlaceholderError{Expr: p.Expr, Err: ErrUnknownPlaceholder}
	}
}

func formatValue(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case int:
		return strconv.Itoa(value)
	case decimal.Decimal:
		return value.String()
	case time.Time:
		return value.Format("2006-01-02")
	default:
		return fmt.Sprint(value)
	}
}
