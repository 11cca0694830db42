package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/invoice-engine/store/sqlite"
	"github.com/warp/invoice-engine/workflow"
)

func newTestJournal(t *testing.T) *sqlite.Journal {
	t.Helper()
	journal, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })
	return journal
}

func record(runID string, at time.Time, customerID int, remaining string) workflow.RunRecord {
	return workflow.RunRecord{
		RunID:          runID,
		Command:        "invoice",
		At:             at,
		CustomerID:     customerID,
		CustomerName:   "Acme",
		InvoiceID:      "F20240301",
		SubtotalFloor:  decimal.NewFromInt(150),
		TotalFloor:     decimal.NewFromInt(180),
		RemainingHours: decimal.RequireFromString(remaining),
	}
}

func TestJournal_RecordAndReadBack(t *testing.T) {
	// GIVEN: An empty journal
	// WHEN: Recording one run outcome
	// THEN: It reads back with amounts and timestamp intact

	journal := newTestJournal(t)
	ctx := context.Background()

	at := time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, journal.Record(ctx, record("run-1", at, 1, "0.25")))

	runs, err := journal.Runs(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	got := runs[0]
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "invoice", got.Command)
	assert.Equal(t, at, got.At)
	assert.Equal(t, "F20240301", got.InvoiceID)
	assert.True(t, got.SubtotalFloor.Equal(decimal.NewFromInt(150)))
	assert.True(t, got.TotalFloor.Equal(decimal.NewFromInt(180)))
	assert.True(t, got.RemainingHours.Equal(decimal.RequireFromString("0.25")))
}

func TestJournal_Runs_NewestFirstAndLimited(t *testing.T) {
	// GIVEN: Three recorded runs for one customer
	// WHEN: Reading back with a limit of 2
	// THEN: The two most recent come back, newest first

	journal := newTestJournal(t)
	ctx := context.Background()

	base := time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)
	for i, runID := range []string{"run-1", "run-2", "run-3"} {
		require.NoError(t, journal.Record(ctx, record(runID, base.AddDate(0, i, 0), 1, "0.25")))
	}

	runs, err := journal.Runs(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-3", runs[0].RunID)
	assert.Equal(t, "run-2", runs[1].RunID)
}

func TestJournal_Runs_FilteredByCustomer(t *testing.T) {
	journal := newTestJournal(t)
	ctx := context.Background()

	at := time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, journal.Record(ctx, record("run-1", at, 1, "0.25")))
	require.NoError(t, journal.Record(ctx, record("run-2", at.Add(time.Hour), 2, "0.5")))

	runs, err := journal.Runs(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-2", runs[0].RunID)

	runs, err = journal.Runs(ctx, 99, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
