/*
Package kimaitest is an in-process fake Kimai API for tests.

PURPOSE:
  Serves the handful of endpoints the engine consumes from an in-memory
  dataset, over the same wire shapes a real Kimai emits, so client and
  workflow tests exercise the full HTTP path without a Kimai install.

ROUTER: chi
  Same router and middleware style as a real deployment front end; CORS
  is mounted because Kimai itself serves the API cross-origin.

MUTATION VISIBILITY:
  PATCH/POST handlers mutate the in-memory dataset immediately, matching
  the collaborator contract: each write is independently and immediately
  visible to the next read.

PAGINATION:
  Every list response carries X-Total-Count. TotalCountOverride forces a
  larger value to provoke the client's truncation failure.
*/
package kimaitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/warp/invoice-engine/kimai"
)

// Server is a fake Kimai instance. Safe for use from a single test;
// the mutex only guards handler reentrancy.
type Server struct {
	mu sync.Mutex

	Username string
	Token    string

	Customers  []kimai.Customer
	Projects   []kimai.Project
	Activities []kimai.Activity
	Entries    []kimai.TimeEntry
	Rates      map[int][]kimai.Rate // customer id -> rates

	// TotalCountOverride, when > 0, is reported as X-Total-Count on every
	// list response regardless of the actual result size.
	TotalCountOverride int

	nextEntryID int

	router chi.Router
}

// New builds a fake server with token auth enabled.
func New(username, token string) *Server {
	s := &Server{
		Username:    username,
		Token:       token,
		Rates:       make(map[int][]kimai.Rate),
		nextEntryID: 10000,
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-AUTH-USER", "X-AUTH-TOKEN"},
	}))
	r.Use(s.auth)

	r.Get("/customers", s.listCustomers)
	r.Get("/customers/{id}", s.getCustomer)
	r.Patch("/customers/{id}", s.patchCustomer)
	r.Get("/customers/{id}/rates", s.getCustomerRates)
	r.Get("/projects", s.listProjects)
	r.Get("/activities", s.listActivities)
	r.Get("/timesheets", s.listTimesheets)
	r.Patch("/timesheets/{id}", s.patchTimesheet)
	r.Post("/timesheets", s.postTimesheet)

	s.router = r
	return s
}

// Handler returns the HTTP handler, for use with httptest.NewServer.
func (s *Server) Handler() http.Handler { return s.router }

// Entry returns the current state of a time entry by id.
func (s *Server) Entry(id int) (kimai.TimeEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.Entries {
		if e.ID == id {
			return e, true
		}
	}
	return kimai.TimeEntry{}, false
}

// Customer returns the current state of a customer by id.
func (s *Server) Customer(id int) (kimai.Customer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.Customers {
		if c.ID == id {
			return c, true
		}
	}
	return kimai.Customer{}, false
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-AUTH-USER") != s.Username || r.Header.Get("X-AUTH-TOKEN") != s.Token {
			http.Error(w, `{"message":"authentication required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// LIST HANDLERS
// =============================================================================

func (s *Server) writeList(w http.ResponseWriter, items []map[string]any) {
	total := len(items)
	if s.TotalCountOverride > 0 {
		total = s.TotalCountOverride
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) listCustomers(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]map[string]any, 0, len(s.Customers))
	for _, c := range s.Customers {
		items = append(items, customerJSON(c))
	}
	s.writeList(w, items)
}

func (s *Server) listProjects(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]map[string]any, 0, len(s.Projects))
	for _, p := range s.Projects {
		items = append(items, projectJSON(p))
	}
	s.writeList(w, items)
}

func (s *Server) listActivities(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]map[string]any, 0, len(s.Activities))
	for _, a := range s.Activities {
		items = append(items, activityJSON(a))
	}
	s.writeList(w, items)
}

func (s *Server) listTimesheets(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := r.URL.Query()
	var items []map[string]any
	for _, e := range s.Entries {
		if !matchBoolParam(query.Get("billable"), e.Billable) {
			continue
		}
		if !matchBoolParam(query.Get("exported"), e.Exported) {
			continue
		}
		if !matchBoolParam(query.Get("active"), e.End == nil) {
			continue
		}
		if tags, ok := query["tags[]"]; ok && !hasAllTags(e, tags) {
			continue
		}
		items = append(items, entryJSON(e))
	}
	if items == nil {
		items = []map[string]any{}
	}
	s.writeList(w, items)
}

func matchBoolParam(param string, value bool) bool {
	switch param {
	case "1":
		return value
	case "0":
		return !value
	default:
		return true
	}
}

func hasAllTags(e kimai.TimeEntry, tags []string) bool {
	for _, t := range tags {
		if !e.HasTag(t) {
			return false
		}
	}
	return true
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

func (s *Server) getCustomer(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	for _, c := range s.Customers {
		if c.ID == id {
			writeJSON(w, http.StatusOK, customerJSON(c))
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"message": fmt.Sprintf("customer %d not found", id)})
}

func (s *Server) patchCustomer(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))

	var body struct {
		Comment *string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return
	}

	for i, c := range s.Customers {
		if c.ID == id {
			if body.Comment != nil {
				s.Customers[i].Comment = *body.Comment
			}
			writeJSON(w, http.StatusOK, customerJSON(s.Customers[i]))
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"message": fmt.Sprintf("customer %d not found", id)})
}

func (s *Server) getCustomerRates(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	rates := s.Rates[id]
	items := make([]map[string]any, 0, len(rates))
	for _, rate := range rates {
		item := map[string]any{"id": rate.ID, "rate": rate.Rate, "isFixed": rate.IsFixed}
		if rate.InternalRate != nil {
			item["internalRate"] = *rate.InternalRate
		} else {
			item["internalRate"] = nil
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, items)
}

// =============================================================================
// TIMESHEET HANDLERS
// =============================================================================

func (s *Server) patchTimesheet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))

	var body struct {
		Tags     *string `json:"tags"`
		Exported *bool   `json:"exported"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return
	}

	for i, e := range s.Entries {
		if e.ID == id {
			if body.Tags != nil {
				s.Entries[i].Tags = splitTags(*body.Tags)
			}
			if body.Exported != nil {
				s.Entries[i].Exported = *body.Exported
			}
			writeJSON(w, http.StatusOK, entryJSON(s.Entries[i]))
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"message": fmt.Sprintf("timesheet %d not found", id)})
}

func (s *Server) postTimesheet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var body struct {
		User        int    `json:"user"`
		Project     int    `json:"project"`
		Activity    int    `json:"activity"`
		Begin       string `json:"begin"`
		End         string `json:"end"`
		Description string `json:"description"`
		Tags        string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return
	}

	begin, err := kimai.ParseEventTime(body.Begin)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return
	}
	end, err := kimai.ParseEventTime(body.End)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return
	}

	s.nextEntryID++
	entry := kimai.TimeEntry{
		ID:          s.nextEntryID,
		ProjectID:   body.Project,
		ActivityID:  body.Activity,
		UserID:      body.User,
		Begin:       begin,
		End:         &end,
		Duration:    int(end.Sub(begin).Seconds()),
		Description: body.Description,
		Billable:    true,
		Tags:        splitTags(body.Tags),
	}
	s.Entries = append(s.Entries, entry)
	writeJSON(w, http.StatusOK, entryJSON(entry))
}

// =============================================================================
// WIRE ENCODING - the shapes a real Kimai emits
// =============================================================================

const wireTime = "2006-01-02T15:04:05-0700"

func customerJSON(c kimai.Customer) map[string]any {
	return map[string]any{
		"id": c.ID, "name": c.Name, "number": c.Number, "comment": c.Comment,
		"visible": c.Visible, "billable": c.Billable, "currency": c.Currency,
	}
}

func projectJSON(p kimai.Project) map[string]any {
	out := map[string]any{
		"id": p.ID, "customer": p.CustomerID, "name": p.Name,
		"visible": p.Visible, "billable": p.Billable, "comment": nil,
	}
	if p.Comment != nil {
		out["comment"] = *p.Comment
	}
	return out
}

func activityJSON(a kimai.Activity) map[string]any {
	out := map[string]any{
		"id": a.ID, "project": a.ProjectID, "name": a.Name,
		"visible": a.Visible, "billable": a.Billable, "comment": nil,
	}
	if a.Comment != nil {
		out["comment"] = *a.Comment
	}
	return out
}

func entryJSON(e kimai.TimeEntry) map[string]any {
	out := map[string]any{
		"id": e.ID, "project": e.ProjectID, "activity": e.ActivityID, "user": e.UserID,
		"begin": e.Begin.Format(wireTime), "end": nil,
		"duration": e.Duration, "description": e.Description, "rate": e.Rate,
		"exported": e.Exported, "billable": e.Billable, "tags": e.Tags,
	}
	if e.End != nil {
		out["end"] = e.End.Format(wireTime)
	}
	if e.Tags == nil {
		out["tags"] = []string{}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func splitTags(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, ",")
}
