/*
Package sqlite provides a SQLite-backed run journal.

PURPOSE:
  Append-only local record of what each command did per customer: run id,
  invoice identifier, floored totals and the resulting carry balance.
  Diagnostics only - the authoritative billing state lives entirely in
  tags and comment fields on the Kimai side, and no run ever reads the
  journal back to make a decision.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements exist against the runs table.

WAL MODE:
  Opened with WAL for crash recovery; a crashed run leaves at worst a
  missing journal row, never corrupt billing state.

USAGE:
  journal, err := sqlite.Open("~/.local/share/kimaitool/journal.db")
  defer journal.Close()
  runner.Journal = journal

SEE ALSO:
  - workflow/runner.go: the Journal interface and RunRecord
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/invoice-engine/workflow"
)

// Journal implements workflow.Journal on SQLite.
type Journal struct {
	db *sql.DB
}

var _ workflow.Journal = (*Journal)(nil)

// Open creates or opens the journal database. Use ":memory:" in tests.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	journal := &Journal{db: db}
	if err := journal.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	return journal, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate() error {
	schema := `
	-- Run outcomes (append-only)
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT NOT NULL,
		command TEXT NOT NULL,
		at TEXT NOT NULL,
		customer_id INTEGER NOT NULL,
		customer_name TEXT NOT NULL,
		invoice_id TEXT,
		subtotal_floor TEXT,
		total_floor TEXT,
		remaining_hours TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_customer ON runs(customer_id, at);
	CREATE INDEX IF NOT EXISTS idx_runs_run ON runs(run_id);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Record appends one run outcome.
func (j *Journal) Record(ctx context.Context, rec workflow.RunRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, command, at, customer_id, customer_name,
			invoice_id, subtotal_floor, total_floor, remaining_hours)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Command, rec.At.UTC().Format(time.RFC3339),
		rec.CustomerID, rec.CustomerName, rec.InvoiceID,
		rec.SubtotalFloor.String(), rec.TotalFloor.String(), rec.RemainingHours.String())
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// Runs returns the most recent records for a customer, newest first.
func (j *Journal) Runs(ctx context.Context, customerID, limit int) ([]workflow.RunRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, command, at, customer_id, customer_name,
			invoice_id, subtotal_floor, total_floor, remaining_hours
		FROM runs WHERE customer_id = ? ORDER BY at DESC LIMIT ?`,
		customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []workflow.RunRecord
	for rows.Next() {
		var rec workflow.RunRecord
		var at, subtotal, total, remaining string
		if err := rows.Scan(&rec.RunID, &rec.Command, &at, &rec.CustomerID, &rec.CustomerName,
			&rec.InvoiceID, &subtotal, &total, &remaining); err != nil {
			return nil, err
		}
		if rec.At, err = time.Parse(time.RFC3339, at); err != nil {
			return nil, fmt.Errorf("corrupt journal timestamp %q: %w", at, err)
		}
		if rec.SubtotalFloor, err = decimal.NewFromString(subtotal); err != nil {
			return nil, fmt.Errorf("corrupt journal amount %q: %w", subtotal, err)
		}
		if rec.TotalFloor, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("corrupt journal amount %q: %w", total, err)
		}
		if rec.RemainingHours, err = decimal.NewFromString(remaining); err != nil {
			return nil, fmt.Errorf("corrupt journal amount %q: %w", remaining, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
