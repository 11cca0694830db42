/*
client.go - Synchronous HTTP client for the Kimai API

PURPOSE:
  One method per collaborator operation, each a single synchronous
  request/response. No retries, no timeouts, no pagination merging:
  billing must never proceed on partial data, so a non-2xx response or a
  result spanning more than one page aborts the whole run.

AUTHENTICATION:
  Kimai's token scheme: X-AUTH-USER and X-AUTH-TOKEN headers on every
  request.

PAGINATION:
  List endpoints are requested with a deliberately large page size and
  the X-Total-Count response header is checked against the number of
  decoded records. A mismatch means the result was truncated; that is a
  PaginationError, not something to silently merge.

SEE ALSO:
  - types.go: record decoding
  - kimaitest: in-process fake server used by the tests
*/
package kimai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// pageSize is the single page requested from list endpoints. More records
// than this in one run is a PaginationError by design.
const pageSize = 10000

// =============================================================================
// SERVICE INTERFACE
// =============================================================================

// EntryFilter narrows ListTimeEntries. Nil fields are not sent.
type EntryFilter struct {
	Begin    *time.Time
	Billable *bool
	Exported *bool
	Active   *bool
	Tags     []string
	Size     int // 0 = default pageSize
}

// EntryUpdate carries the only mutations the engine issues against a time
// entry: the tag set and the exported flag. Nil fields are left untouched.
type EntryUpdate struct {
	Tags     *[]string
	Exported *bool
}

// NewEntry is a timesheet to create (calendar import path).
type NewEntry struct {
	UserID      int
	ProjectID   int
	ActivityID  int
	Begin       time.Time
	End         time.Time
	Description string
	Tags        []string
}

// Service is the collaborator contract the workflow runs against. The
// HTTP client implements it; tests may substitute fakes.
type Service interface {
	ListCustomers(ctx context.Context) ([]Customer, error)
	ListProjects(ctx context.Context) ([]Project, error)
	ListActivities(ctx context.Context) ([]Activity, error)
	ListTimeEntries(ctx context.Context, filter EntryFilter) ([]TimeEntry, error)
	GetCustomer(ctx context.Context, id int) (Customer, error)
	GetCustomerRates(ctx context.Context, customerID int) ([]Rate, error)
	UpdateCustomerComment(ctx context.Context, id int, comment string) (Customer, error)
	UpdateTimeEntry(ctx context.Context, id int, update EntryUpdate) (TimeEntry, error)
	AddTimeEntry(ctx context.Context, entry NewEntry) (TimeEntry, error)
}

// =============================================================================
// COLLABORATOR ERRORS
// =============================================================================

// ErrRequestFailed is the sentinel for non-2xx collaborator responses.
var ErrRequestFailed = errors.New("kimai request failed")

// ErrTruncatedResult is the sentinel for multi-page list results.
var ErrTruncatedResult = errors.New("kimai result truncated")

// RequestError reports the failing request's target and response body, as
// required for diagnosis without a retry.
type RequestError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, e.Body)
}

func (e *RequestError) Unwrap() error { return ErrRequestFailed }

// PaginationError reports a list result that did not fit one page.
type PaginationError struct {
	URL      string
	Total    int
	Received int
}

func (e *PaginationError) Error() string {
	return fmt.Sprintf("%s: %d records total but only %d received in one page; refusing to bill on partial data",
		e.URL, e.Total, e.Received)
}

func (e *PaginationError) Unwrap() error { return ErrTruncatedResult }

// =============================================================================
// HTTP CLIENT
// =============================================================================

// Client talks to a Kimai instance. BaseURL includes the /api suffix,
// e.g. "https://kimai.example.org/api".
type Client struct {
	baseURL  string
	username string
	token    string
	http     *http.Client
}

// NewClient builds a client with the given credentials.
func NewClient(baseURL, username, token string) *Client {
	return &Client{baseURL: baseURL, username: username, token: token, http: http.DefaultClient}
}

var _ Service = (*Client)(nil)

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, http.Header, error) {
	target := c.baseURL + "/" + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("X-AUTH-USER", c.username)
	req.Header.Set("X-AUTH-TOKEN", c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &RequestError{Method: method, URL: target, Status: resp.StatusCode, Body: string(data)}
	}
	return data, resp.Header, nil
}

// checkSinglePage rejects results that did not fit the requested page.
func checkSinglePage(target string, header http.Header, received int) error {
	totalHeader := header.Get("X-Total-Count")
	if totalHeader == "" {
		return nil
	}
	total, err := strconv.Atoi(totalHeader)
	if err != nil {
		return nil
	}
	if total > received {
		return &PaginationError{URL: target, Total: total, Received: received}
	}
	return nil
}

func listResource[T any](ctx context.Context, c *Client, path string, query url.Values, kind string, decode func(json.RawMessage) (T, error)) ([]T, error) {
	if query == nil {
		query = url.Values{}
	}
	if query.Get("size") == "" {
		query.Set("size", strconv.Itoa(pageSize))
	}
	data, header, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}
	items, err := decodeList(data, kind, decode)
	if err != nil {
		return nil, err
	}
	if err := checkSinglePage(c.baseURL+"/"+path, header, len(items)); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) ListCustomers(ctx context.Context) ([]Customer, error) {
	return listResource(ctx, c, "customers", nil, "customer", DecodeCustomer)
}

func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	return listResource(ctx, c, "projects", nil, "project", DecodeProject)
}

func (c *Client) ListActivities(ctx context.Context) ([]Activity, error) {
	return listResource(ctx, c, "activities", nil, "activity", DecodeActivity)
}

func (c *Client) ListTimeEntries(ctx context.Context, filter EntryFilter) ([]TimeEntry, error) {
	query := url.Values{}
	if filter.Begin != nil {
		query.Set("begin", filter.Begin.Format("2006-01-02T15:04:05"))
	}
	if filter.Billable != nil {
		query.Set("billable", boolFlag(*filter.Billable))
	}
	if filter.Exported != nil {
		query.Set("exported", boolFlag(*filter.Exported))
	}
	if filter.Active != nil {
		query.Set("active", boolFlag(*filter.Active))
	}
	for _, tag := range filter.Tags {
		query.Add("tags[]", tag)
	}
	if filter.Size > 0 {
		query.Set("size", strconv.Itoa(filter.Size))
	}
	// Billing spans all users, not just the authenticated one.
	query.Set("user", "all")
	return listResource(ctx, c, "timesheets", query, "timesheet", DecodeTimeEntry)
}

func (c *Client) GetCustomer(ctx context.Context, id int) (Customer, error) {
	data, _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("customers/%d", id), nil, nil)
	if err != nil {
		return Customer{}, err
	}
	return DecodeCustomer(data)
}

func (c *Client) GetCustomerRates(ctx context.Context, customerID int) ([]Rate, error) {
	data, _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("customers/%d/rates", customerID), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeList(data, "rate", DecodeRate)
}

// UpdateCustomerComment replaces the customer's comment field and returns
// the fresh snapshot.
func (c *Client) UpdateCustomerComment(ctx context.Context, id int, comment string) (Customer, error) {
	body := map[string]any{"comment": comment}
	data, _, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("customers/%d", id), nil, body)
	if err != nil {
		return Customer{}, err
	}
	return DecodeCustomer(data)
}

func (c *Client) UpdateTimeEntry(ctx context.Context, id int, update EntryUpdate) (TimeEntry, error) {
	body := map[string]any{}
	if update.Tags != nil {
		body["tags"] = joinTags(*update.Tags)
	}
	if update.Exported != nil {
		body["exported"] = *update.Exported
	}
	data, _, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("timesheets/%d", id), nil, body)
	if err != nil {
		return TimeEntry{}, err
	}
	return DecodeTimeEntry(data)
}

func (c *Client) AddTimeEntry(ctx context.Context, entry NewEntry) (TimeEntry, error) {
	body := map[string]any{
		"user":        entry.UserID,
		"project":     entry.ProjectID,
		"activity":    entry.ActivityID,
		"begin":       entry.Begin.Format("2006-01-02T15:04:05"),
		"end":         entry.End.Format("2006-01-02T15:04:05"),
		"description": entry.Description,
	}
	if len(entry.Tags) > 0 {
		body["tags"] = joinTags(entry.Tags)
	}
	data, _, err := c.do(ctx, http.MethodPost, "timesheets", nil, body)
	if err != nil {
		return TimeEntry{}, err
	}
	return DecodeTimeEntry(data)
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Kimai's write API takes tags as a comma-separated string.
func joinTags(tags []string) string {
	out := ""
	for i, t := range tags {
		if i > 0 {
			out += ","
		}
		out += t
	}
	return out
}
