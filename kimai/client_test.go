package kimai_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/invoice-engine/kimai"
	"github.com/warp/invoice-engine/kimai/kimaitest"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestClient(t *testing.T) (*kimai.Client, *kimaitest.Server) {
	t.Helper()
	fake := kimaitest.New("alice", "token-123")
	srv := httptest.NewServer(fake.Handler())
	t.Cleanup(srv.Close)
	return kimai.NewClient(srv.URL, "alice", "token-123"), fake
}

func closedEntry(id, projectID, activityID int, begin time.Time, seconds int) kimai.TimeEntry {
	end := begin.Add(time.Duration(seconds) * time.Second)
	return kimai.TimeEntry{
		ID: id, ProjectID: projectID, ActivityID: activityID, UserID: 1,
		Begin: begin, End: &end, Duration: seconds, Billable: true,
	}
}

var begin0304 = time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)

// =============================================================================
// AUTHENTICATION AND FAILURES
// =============================================================================

func TestClient_ListCustomers(t *testing.T) {
	client, fake := newTestClient(t)
	fake.Customers = []kimai.Customer{
		{ID: 1, Name: "Acme", Number: "C001", Currency: "EUR", Visible: true, Billable: true},
	}

	customers, err := client.ListCustomers(context.Background())
	require.NoError(t, err)
	require.Len(t, customers, 1)
	assert.Equal(t, "Acme", customers[0].Name)
	assert.Equal(t, "EUR", customers[0].Currency)
}

func TestClient_BadToken_RequestErrorWithBody(t *testing.T) {
	// GIVEN: A client holding the wrong token
	// WHEN: Issuing any request
	// THEN: The failure carries method, URL, status and the response body,
	//       enough to diagnose without a retry

	fake := kimaitest.New("alice", "token-123")
	srv := httptest.NewServer(fake.Handler())
	t.Cleanup(srv.Close)
	client := kimai.NewClient(srv.URL, "alice", "wrong")

	_, err := client.ListCustomers(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, kimai.ErrRequestFailed)

	var reqErr *kimai.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, 403, reqErr.Status)
	assert.Equal(t, "GET", reqErr.Method)
	assert.Contains(t, reqErr.Body, "authentication required")
}

func TestClient_TruncatedResult_Fatal(t *testing.T) {
	// GIVEN: A server reporting more records than the page returned
	// WHEN: Listing
	// THEN: Billing on partial data is refused

	client, fake := newTestClient(t)
	fake.Customers = []kimai.Customer{{ID: 1, Name: "Acme", Currency: "EUR"}}
	fake.TotalCountOverride = 25000

	_, err := client.ListCustomers(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, kimai.ErrTruncatedResult)

	var pageErr *kimai.PaginationError
	require.ErrorAs(t, err, &pageErr)
	assert.Equal(t, 25000, pageErr.Total)
	assert.Equal(t, 1, pageErr.Received)
}

// =============================================================================
// TIMESHEET QUERIES
// =============================================================================

func TestClient_ListTimeEntries_Filters(t *testing.T) {
	// GIVEN: A mix of billable, exported and running entries
	// WHEN: Requesting billable, not-exported, closed entries
	// THEN: Only the eligible one comes back

	client, fake := newTestClient(t)

	eligible := closedEntry(1, 10, 100, begin0304, 3600)
	exported := closedEntry(2, 10, 100, begin0304, 3600)
	exported.Exported = true
	nonBillable := closedEntry(3, 10, 100, begin0304, 3600)
	nonBillable.Billable = false
	running := kimai.TimeEntry{ID: 4, ProjectID: 10, ActivityID: 100, UserID: 1, Begin: begin0304, Billable: true}
	fake.Entries = []kimai.TimeEntry{eligible, exported, nonBillable, running}

	billable, exportedFlag, active := true, false, false
	entries, err := client.ListTimeEntries(context.Background(), kimai.EntryFilter{
		Billable: &billable,
		Exported: &exportedFlag,
		Active:   &active,
	})

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].ID)
}

func TestClient_ListTimeEntries_TagFilter(t *testing.T) {
	client, fake := newTestClient(t)

	tagged := closedEntry(1, 10, 100, begin0304, 3600)
	tagged.Tags = []string{"invoice-in-progress"}
	plain := closedEntry(2, 10, 100, begin0304, 3600)
	fake.Entries = []kimai.TimeEntry{tagged, plain}

	entries, err := client.ListTimeEntries(context.Background(), kimai.EntryFilter{
		Tags: []string{"invoice-in-progress"},
	})

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].ID)
}

// =============================================================================
// MUTATIONS - each write immediately visible
// =============================================================================

func TestClient_UpdateTimeEntry_TagsAndExported(t *testing.T) {
	// GIVEN: A plain entry
	// WHEN: Replacing its tag set and marking it exported
	// THEN: The returned snapshot and the server state both show the change

	client, fake := newTestClient(t)
	fake.Entries = []kimai.TimeEntry{closedEntry(1, 10, 100, begin0304, 3600)}

	tags := []string{"invoice-in-progress"}
	exported := true
	updated, err := client.UpdateTimeEntry(context.Background(), 1, kimai.EntryUpdate{
		Tags:     &tags,
		Exported: &exported,
	})

	require.NoError(t, err)
	assert.True(t, updated.HasTag("invoice-in-progress"))
	assert.True(t, updated.Exported)

	stored, ok := fake.Entry(1)
	require.True(t, ok)
	assert.True(t, stored.HasTag("invoice-in-progress"))
	assert.True(t, stored.Exported)
}

func TestClient_UpdateCustomerComment(t *testing.T) {
	client, fake := newTestClient(t)
	fake.Customers = []kimai.Customer{{ID: 1, Name: "Acme", Currency: "EUR"}}

	comment := `{"invoiceRemainingHours":0.25}`
	updated, err := client.UpdateCustomerComment(context.Background(), 1, comment)

	require.NoError(t, err)
	assert.Equal(t, comment, updated.Comment)

	stored, ok := fake.Customer(1)
	require.True(t, ok)
	assert.Equal(t, comment, stored.Comment)
}

func TestClient_UpdateUnknownCustomer_RequestError(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.UpdateCustomerComment(context.Background(), 99, "x")

	var reqErr *kimai.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, 404, reqErr.Status)
}

func TestClient_AddTimeEntry(t *testing.T) {
	client, fake := newTestClient(t)

	created, err := client.AddTimeEntry(context.Background(), kimai.NewEntry{
		UserID:      1,
		ProjectID:   10,
		ActivityID:  100,
		Begin:       begin0304,
		End:         begin0304.Add(90 * time.Minute),
		Description: "sync meeting",
		Tags:        []string{"calendar-synced"},
	})

	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, 5400, created.Duration)
	assert.True(t, created.HasTag("calendar-synced"))

	stored, ok := fake.Entry(created.ID)
	require.True(t, ok)
	assert.Equal(t, "sync meeting", stored.Description)
}

func TestClient_GetCustomerRates(t *testing.T) {
	client, fake := newTestClient(t)
	fake.Rates[1] = []kimai.Rate{{ID: 7, Rate: 100, IsFixed: false}}

	rates, err := client.GetCustomerRates(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.Equal(t, 100.0, rates[0].Rate)
	assert.Nil(t, rates[0].InternalRate)
}
