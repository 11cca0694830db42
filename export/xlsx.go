/*
xlsx.go - Spreadsheet template filling

PURPOSE:
  Opens the invoice template workbook, substitutes placeholders on the
  active sheet and writes the result next to it as
  {YYYY-MM}_facture_{customer}.xlsx.

REPEATING ROWS:
  A row containing any InvoiceLine placeholder is a line row: for N
  invoice lines it is duplicated N-1 times (styles carried over by the
  duplication), and each resulting row is filled from the next line. The
  line index advances once per processed row, whatever the column order
  inside the row. An invoice with no lines cannot exist (an invoice is
  only assembled for customers with entries), so the empty case removes
  the template row.

NATIVE TYPES:
  Whole-cell placeholders are written with SetCellValue so numbers and
  dates keep their type in the output document; decimals are converted to
  float64 at this boundary only.
*/
package export

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/invoice-engine/billing"
)

// InvoiceFileName is the output document name for one customer and month.
func InvoiceFileName(month time.Time, customerName string) string {
	return fmt.Sprintf("%s_facture_%s.xlsx", month.Format("2006-01"), customerName)
}

// RenderInvoice fills the template with the invoice and writes the output
// document into outDir. Returns the written path.
func RenderInvoice(templatePath, outDir string, invoice *billing.Invoice) (string, error) {
	f, err := excelize.OpenFile(templatePath)
	if err != nil {
		return "", fmt.Errorf("open template %s: %w", templatePath, err)
	}
	defer f.Close()

	if err := FillWorkbook(f, invoice); err != nil {
		return "", err
	}

	out := filepath.Join(outDir, InvoiceFileName(invoice.Date, invoice.Customer.Name))
	if err := f.SaveAs(out); err != nil {
		return "", fmt.Errorf("write %s: %w", out, err)
	}
	return out, nil
}

// FillWorkbook substitutes placeholders on the workbook's active sheet.
func FillWorkbook(f *excelize.File, invoice *billing.Invoice) error {
	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	rows, err := f.GetRows(sheet)
	if err != nil {
		return err
	}

	resolver := NewResolver(invoice)

	// Rows are processed top-down from the template snapshot; offset
	// tracks rows inserted (or removed) above the current one.
	offset := 0
	for ri, row := range rows {
		target := ri + 1 + offset

		if !rowHasLinePlaceholder(row) {
			if err := fillRow(f, sheet, resolver, target, row, nil); err != nil {
				return err
			}
			continue
		}

		n := len(invoice.Lines)
		if n == 0 {
			if err := f.RemoveRow(sheet, target); err != nil {
				return err
			}
			offset--
			continue
		}

		// DuplicateRow inserts the copy directly below, styles included.
		for i := 1; i < n; i++ {
			if err := f.DuplicateRow(sheet, target); err != nil {
				return err
			}
		}
		for i, line := range invoice.Lines {
			if err := fillRow(f, sheet, resolver, target+i, row, line); err != nil {
				return err
			}
		}
		offset += n - 1
	}

	return nil
}

func rowHasLinePlaceholder(row []string) bool {
	for _, cell := range row {
		if HasLinePlaceholder(cell) {
			return true
		}
	}
	return false
}

func fillRow(f *excelize.File, sheet string, resolver *Resolver, rowIndex int, template []string, line *billing.Line) error {
	for ci, content := range template {
		if len(FindPlaceholders(content)) == 0 {
			continue
		}
		value, err := resolver.RenderCell(content, line)
		if err != nil {
			return err
		}
		cell, err := excelize.CoordinatesToCellName(ci+1, rowIndex)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, nativeCellValue(value)); err != nil {
			return err
		}
	}
	return nil
}

// nativeCellValue maps engine values onto types excelize writes natively.
func nativeCellValue(v any) any {
	if d, ok := v.(decimal.Decimal); ok {
		return d.InexactFloat64()
	}
	return v
}
