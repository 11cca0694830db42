/*
cra.go - Activity report export

Groups the run's eligible entries per customer and writes one
tab-separated report per customer into the output directory. Read-only:
no tag, flag or comment mutation.
*/
package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/warp/invoice-engine/export"
	"github.com/warp/invoice-engine/kimai"
)

// CRA writes one activity report per customer with eligible entries and
// returns the written paths.
func (r *Runner) CRA(ctx context.Context) ([]string, error) {
	log := r.log().With(zap.String("command", "cra"))

	idx, err := r.loadIndex(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := r.billableEntries(ctx)
	if err != nil {
		return nil, err
	}

	byCustomer := make(map[int][]kimai.TimeEntry)
	var order []int
	for _, entry := range entries {
		customer, err := idx.CustomerOfEntry(entry)
		if err != nil {
			return nil, err
		}
		if len(byCustomer[customer.ID]) == 0 {
			order = append(order, customer.ID)
		}
		byCustomer[customer.ID] = append(byCustomer[customer.ID], entry)
	}

	month := r.now()
	var paths []string
	for _, customerID := range order {
		customer, err := idx.Customer(customerID)
		if err != nil {
			return nil, err
		}
		path := filepath.Join(r.OutputDir, export.CRAFileName(month, customer.Name))
		file, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("customer %s: %w", customer.Name, err)
		}
		err = export.WriteCRA(file, byCustomer[customerID], idx)
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return nil, fmt.Errorf("customer %s: %w", customer.Name, err)
		}
		log.Info("activity report written", zap.String("customer", customer.Name), zap.String("file", path))
		paths = append(paths, path)
	}

	return paths, nil
}
