package kimai_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/invoice-engine/kimai"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestIndex(t *testing.T) *kimai.Index {
	t.Helper()
	idx, err := kimai.NewIndex(
		[]kimai.Customer{{ID: 1, Name: "Acme"}, {ID: 2, Name: "Zenith"}},
		[]kimai.Project{
			{ID: 10, CustomerID: 1, Name: "Website"},
			{ID: 20, CustomerID: 2, Name: "Audit"},
		},
		[]kimai.Activity{
			{ID: 100, ProjectID: 10, Name: "Development"},
			{ID: 101, ProjectID: 10, Name: "Support"},
			{ID: 200, ProjectID: 20, Name: "Review"},
		},
	)
	require.NoError(t, err)
	return idx
}

// =============================================================================
// UNIQUENESS INVARIANT
// =============================================================================

func TestNewIndex_DuplicateProjectName_Fatal(t *testing.T) {
	// GIVEN: Two projects sharing a name under different customers
	// WHEN: Building the index
	// THEN: The build fails - two same-named projects would make billing
	//       lines ambiguous

	_, err := kimai.NewIndex(
		[]kimai.Customer{{ID: 1, Name: "Acme"}, {ID: 2, Name: "Zenith"}},
		[]kimai.Project{
			{ID: 10, CustomerID: 1, Name: "Website"},
			{ID: 20, CustomerID: 2, Name: "Website"},
		},
		nil,
	)

	require.Error(t, err)
	assert.ErrorIs(t, err, kimai.ErrDuplicateName)

	var dup *kimai.DuplicateNameError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "project", dup.Kind)
	assert.Equal(t, "Website", dup.Name)
	assert.Equal(t, [2]int{10, 20}, dup.IDs)
}

func TestNewIndex_DuplicateActivityName_Fatal(t *testing.T) {
	// Activity names share one uniqueness domain across all projects.
	_, err := kimai.NewIndex(
		[]kimai.Customer{{ID: 1, Name: "Acme"}},
		[]kimai.Project{{ID: 10, CustomerID: 1, Name: "Website"}, {ID: 11, CustomerID: 1, Name: "Backend"}},
		[]kimai.Activity{
			{ID: 100, ProjectID: 10, Name: "Development"},
			{ID: 110, ProjectID: 11, Name: "Development"},
		},
	)

	require.Error(t, err)
	var dup *kimai.DuplicateNameError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "activity", dup.Kind)
}

// =============================================================================
// LOOKUPS
// =============================================================================

func TestIndex_NameLookups(t *testing.T) {
	idx := newTestIndex(t)

	id, err := idx.CustomerIDByName("Acme")
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	id, err = idx.ProjectIDByName("Audit")
	require.NoError(t, err)
	assert.Equal(t, 20, id)

	id, err = idx.ActivityIDByName("Support")
	require.NoError(t, err)
	assert.Equal(t, 101, id)
}

func TestIndex_UnknownLookups_NotFound(t *testing.T) {
	idx := newTestIndex(t)

	_, err := idx.Customer(99)
	assert.ErrorIs(t, err, kimai.ErrNotFound)

	_, err = idx.ProjectIDByName("Nowhere")
	assert.ErrorIs(t, err, kimai.ErrNotFound)
}

func TestIndex_CustomerOfEntry(t *testing.T) {
	// GIVEN: An entry referencing project 20
	// WHEN: Resolving entry -> project -> customer
	// THEN: Zenith owns it

	idx := newTestIndex(t)

	customer, err := idx.CustomerOfEntry(kimai.TimeEntry{ID: 5, ProjectID: 20})
	require.NoError(t, err)
	assert.Equal(t, "Zenith", customer.Name)
}

func TestIndex_CustomerOfEntry_DanglingProject_Fatal(t *testing.T) {
	idx := newTestIndex(t)

	_, err := idx.CustomerOfEntry(kimai.TimeEntry{ID: 5, ProjectID: 999})
	require.Error(t, err)
	assert.ErrorIs(t, err, kimai.ErrNotFound)
	assert.Contains(t, err.Error(), "time entry 5")
}

func TestIndex_ByParentLookups(t *testing.T) {
	idx := newTestIndex(t)

	assert.Equal(t, []int{10}, idx.ProjectIDsByCustomer(1))
	assert.Equal(t, []int{100, 101}, idx.ActivityIDsByProject(10))
	assert.Empty(t, idx.ProjectIDsByCustomer(99), "unknown parent yields empty, not an error")
}
