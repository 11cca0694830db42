/*
index.go - Entity lookup structures over collaborator query results

PURPOSE:
  Builds the by-id, by-name and by-parent indexes the billing engine
  navigates: entry -> project -> customer, and name -> id for imports.

UNIQUENESS DOMAINS:
  Project names are unique across the whole dataset, and so are activity
  names. A duplicate is a fatal build error, never a silent merge - two
  projects with the same name would make billing lines ambiguous.

SEE ALSO:
  - types.go: the records being indexed
  - billing: the aggregator that consumes an Index
*/
package kimai

import (
	"errors"
	"fmt"
)

// ErrDuplicateName is the sentinel for a name collision at index build.
var ErrDuplicateName = errors.New("duplicate name")

// ErrNotFound is returned by index lookups for unknown ids or names.
var ErrNotFound = errors.New("record not found")

// DuplicateNameError identifies the colliding records.
type DuplicateNameError struct {
	Kind string
	Name string
	IDs  [2]int
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("%s name %q is not unique (ids %d and %d)", e.Kind, e.Name, e.IDs[0], e.IDs[1])
}

func (e *DuplicateNameError) Unwrap() error { return ErrDuplicateName }

// =============================================================================
// INDEX
// =============================================================================

// Index holds the lookup structures for one run. It is built once from the
// collaborator's list results and never mutated afterwards.
type Index struct {
	customersByID map[int]Customer
	customerIDs   map[string]int

	projectsByID     map[int]Project
	projectIDs       map[string]int
	projectsByParent map[int][]int

	activitiesByID     map[int]Activity
	activityIDs        map[string]int
	activitiesByParent map[int][]int
}

// NewIndex builds the lookup structures, failing fast on duplicate project
// or activity names.
func NewIndex(customers []Customer, projects []Project, activities []Activity) (*Index, error) {
	idx := &Index{
		customersByID:      make(map[int]Customer, len(customers)),
		customerIDs:        make(map[string]int, len(customers)),
		projectsByID:       make(map[int]Project, len(projects)),
		projectIDs:         make(map[string]int, len(projects)),
		projectsByParent:   make(map[int][]int),
		activitiesByID:     make(map[int]Activity, len(activities)),
		activityIDs:        make(map[string]int, len(activities)),
		activitiesByParent: make(map[int][]int),
	}

	for _, c := range customers {
		idx.customersByID[c.ID] = c
		idx.customerIDs[c.Name] = c.ID
	}

	for _, p := range projects {
		if prev, exists := idx.projectIDs[p.Name]; exists {
			return nil, &DuplicateNameError{Kind: "project", Name: p.Name, IDs: [2]int{prev, p.ID}}
		}
		idx.projectsByID[p.ID] = p
		idx.projectIDs[p.Name] = p.ID
		idx.projectsByParent[p.CustomerID] = append(idx.projectsByParent[p.CustomerID], p.ID)
	}

	for _, a := range activities {
		if prev, exists := idx.activityIDs[a.Name]; exists {
			return nil, &DuplicateNameError{Kind: "activity", Name: a.Name, IDs: [2]int{prev, a.ID}}
		}
		idx.activitiesByID[a.ID] = a
		idx.activityIDs[a.Name] = a.ID
		idx.activitiesByParent[a.ProjectID] = append(idx.activitiesByParent[a.ProjectID], a.ID)
	}

	return idx, nil
}

// =============================================================================
// LOOKUPS
// =============================================================================

func (idx *Index) Customer(id int) (Customer, error) {
	c, ok := idx.customersByID[id]
	if !ok {
		return Customer{}, fmt.Errorf("customer %d: %w", id, ErrNotFound)
	}
	return c, nil
}

func (idx *Index) CustomerIDByName(name string) (int, error) {
	id, ok := idx.customerIDs[name]
	if !ok {
		return 0, fmt.Errorf("customer %q: %w", name, ErrNotFound)
	}
	return id, nil
}

func (idx *Index) Project(id int) (Project, error) {
	p, ok := idx.projectsByID[id]
	if !ok {
		return Project{}, fmt.Errorf("project %d: %w", id, ErrNotFound)
	}
	return p, nil
}

func (idx *Index) ProjectIDByName(name string) (int, error) {
	id, ok := idx.projectIDs[name]
	if !ok {
		return 0, fmt.Errorf("project %q: %w", name, ErrNotFound)
	}
	return id, nil
}

// ProjectIDsByCustomer returns the ids of the customer's projects, in
// input order. Unknown customers yield an empty list, not an error.
func (idx *Index) ProjectIDsByCustomer(customerID int) []int {
	return idx.projectsByParent[customerID]
}

func (idx *Index) Activity(id int) (Activity, error) {
	a, ok := idx.activitiesByID[id]
	if !ok {
		return Activity{}, fmt.Errorf("activity %d: %w", id, ErrNotFound)
	}
	return a, nil
}

func (idx *Index) ActivityIDByName(name string) (int, error) {
	id, ok := idx.activityIDs[name]
	if !ok {
		return 0, fmt.Errorf("activity %q: %w", name, ErrNotFound)
	}
	return id, nil
}

func (idx *Index) ActivityIDsByProject(projectID int) []int {
	return idx.activitiesByParent[projectID]
}

// CustomerOfEntry resolves entry -> project -> customer.
func (idx *Index) CustomerOfEntry(e TimeEntry) (Customer, error) {
	p, err := idx.Project(e.ProjectID)
	if err != nil {
		return Customer{}, fmt.Errorf("time entry %d: %w", e.ID, err)
	}
	c, err := idx.Customer(p.CustomerID)
	if err != nil {
		return Customer{}, fmt.Errorf("time entry %d: %w", e.ID, err)
	}
	return c, nil
}
