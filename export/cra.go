/*
cra.go - Tab-separated activity report (CRA)

One file per customer: {YYYY-MM}_CRA_{customer}.tsv, one row per time
entry sorted by start date, with project/activity names resolved through
the entity index. Reuses the entity model; no billing computation here.
*/
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/invoice-engine/kimai"
)

// CRAFileName is the activity report name for one customer and month.
func CRAFileName(month time.Time, customerName string) string {
	return fmt.Sprintf("%s_CRA_%s.tsv", month.Format("2006-01"), customerName)
}

// WriteCRA writes the customer's activity report rows.
func WriteCRA(w io.Writer, entries []kimai.TimeEntry, idx *kimai.Index) error {
	sorted := append([]kimai.TimeEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Begin.Before(sorted[j].Begin) })

	out := csv.NewWriter(w)
	out.Comma = '\t'

	if err := out.Write([]string{"date", "project", "activity", "hours", "description"}); err != nil {
		return err
	}
	for _, entry := range sorted {
		project, err := idx.Project(entry.ProjectID)
		if err != nil {
			return err
		}
		activity, err := idx.Activity(entry.ActivityID)
		if err != nil {
			return err
		}
		hours := decimal.NewFromInt(int64(entry.Duration)).Div(decimal.NewFromInt(3600))
		row := []string{
			entry.Begin.Format("2006-01-02"),
			project.Name,
			activity.Name,
			hours.StringFixed(2),
			entry.Description,
		}
		if err := out.Write(row); err != nil {
			return err
		}
	}

	out.Flush()
	return out.Error()
}
