package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/herdwatch/internal/alert"
	"github.com/lalithlochan/herdwatch/internal/db"
	"github.com/lalithlochan/herdwatch/internal/digest"
	"github.com/lalithlochan/herdwatch/internal/preference"
	"github.com/lalithlochan/herdwatch/internal/scheduler"
	"github.com/lalithlochan/herdwatch/internal/worker"
)

const testOwner = "owner-1"

// Wednesday of ISO week 11, 2024.
var testNow = time.Date(2024, 3, 13, 12, 0, 0, 0, time.UTC)

type nopDispatcher struct{}

func (nopDispatcher) Deliver(ctx context.Context, d worker.Delivery) worker.Result {
	return worker.Result{Channel: d.Channel, Delivered: true}
}

// failingStore fails every notification query.
type failingStore struct{ *db.MemoryStore }

var errDatabase = errors.New("database error")

func (failingStore) ListNotifications(context.Context, string, alert.ListFilter) ([]*alert.Notification, int, error) {
	return nil, 0, errDatabase
}

func (failingStore) GetNotification(context.Context, string, uuid.UUID) (*alert.Notification, error) {
	return nil, errDatabase
}

func (failingStore) Health(context.Context) error { return errDatabase }

type fakeJobs struct {
	runs []string
	err  error
}

func (f *fakeJobs) List() []scheduler.JobStatus {
	return []scheduler.JobStatus{{Name: "expiry-check", Schedule: "0 6 * * *"}}
}

func (f *fakeJobs) RunNow(ctx context.Context, name string) (scheduler.Run, error) {
	f.runs = append(f.runs, name)
	if f.err != nil {
		return scheduler.Run{Job: name, Status: scheduler.StatusFailed}, f.err
	}
	return scheduler.Run{Job: name, Status: scheduler.StatusSuccess, Summary: "ok"}, nil
}

type testServer struct {
	store   *db.MemoryStore
	handler *Handler
	router  http.Handler
	jobs    *fakeJobs
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := db.NewMemoryStore()
	prefs := preference.NewService(store, zap.NewNop())
	gen := digest.NewGenerator(store, prefs, nopDispatcher{}, nil, alert.NewLocalizer("en"), digest.Config{}, zap.NewNop()).
		WithClock(func() time.Time { return testNow })
	jobs := &fakeJobs{}

	h := NewHandler(zap.NewNop(), store, gen, prefs, jobs)
	h.now = func() time.Time { return testNow }

	return &testServer{
		store:   store,
		handler: h,
		router:  NewRouter(h, nil, RouterConfig{}, zap.NewNop()),
		jobs:    jobs,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set(OwnerHeader, testOwner)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) seed(t *testing.T, owner string, typ alert.Type, sev alert.Severity, created time.Time, read bool) *alert.Notification {
	t.Helper()
	n := &alert.Notification{
		ID:        uuid.New(),
		Owner:     owner,
		Type:      typ,
		ItemID:    uuid.NewString(),
		Message:   fmt.Sprintf("%s %s", typ, sev),
		Severity:  sev,
		Stage:     alert.StageWeek,
		Category:  alert.CategoryOf(typ),
		IsRead:    read,
		CreatedAt: created,
		UpdatedAt: created,
	}
	saved, err := s.store.UpsertNotification(context.Background(), n.Key(), func(*alert.Notification) (*alert.Notification, error) {
		return n, nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return saved
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected problem+json, got %q", ct)
	}
	var p ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	return p
}

func TestOwnerRequired(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/v1/notifications", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if p := decodeProblem(t, rec); p.Type != "invalid_request" {
		t.Errorf("expected invalid_request, got %q", p.Type)
	}
}

func TestListNotifications(t *testing.T) {
	s := newTestServer(t)
	base := testNow.Add(-48 * time.Hour)
	s.seed(t, testOwner, alert.TypeTreatment, alert.SeverityHigh, base, false)
	s.seed(t, testOwner, alert.TypeVaccine, alert.SeverityMedium, base.Add(time.Hour), true)
	s.seed(t, testOwner, alert.TypeWeight, alert.SeverityLow, base.Add(2*time.Hour), false)
	s.seed(t, "someone-else", alert.TypeTreatment, alert.SeverityHigh, base, false)

	tests := []struct {
		name          string
		query         string
		expectedCode  int
		expectedTotal int
		expectedCount int
	}{
		{"all", "", http.StatusOK, 3, 3},
		{"unread", "?read=false", http.StatusOK, 2, 2},
		{"by type", "?type=Vaccine", http.StatusOK, 1, 1},
		{"by severity", "?severity=high", http.StatusOK, 1, 1},
		{"by category", "?category=routine", http.StatusOK, 1, 1},
		{"paged", "?limit=2&offset=2", http.StatusOK, 3, 1},
		{"limit out of range falls back", "?limit=1000", http.StatusOK, 3, 3},
		{"bad read", "?read=maybe", http.StatusBadRequest, 0, 0},
		{"bad type", "?type=Horse", http.StatusBadRequest, 0, 0},
		{"bad severity", "?severity=urgent", http.StatusBadRequest, 0, 0},
		{"bad category", "?category=fun", http.StatusBadRequest, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, "GET", "/v1/notifications"+tt.query, nil)
			if rec.Code != tt.expectedCode {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedCode, rec.Code, rec.Body.String())
			}
			if tt.expectedCode != http.StatusOK {
				return
			}

			var resp struct {
				Data  []alert.Notification `json:"data"`
				Total int                  `json:"total"`
				Count int                  `json:"count"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Total != tt.expectedTotal {
				t.Errorf("expected total %d, got %d", tt.expectedTotal, resp.Total)
			}
			if resp.Count != tt.expectedCount || len(resp.Data) != tt.expectedCount {
				t.Errorf("expected %d items, got count=%d len=%d", tt.expectedCount, resp.Count, len(resp.Data))
			}
			for _, n := range resp.Data {
				if n.Owner != testOwner {
					t.Errorf("leaked notification of %q", n.Owner)
				}
			}
		})
	}
}

func TestListNotifications_Empty(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, "GET", "/v1/notifications", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Errorf("expected empty data array, got %s", rec.Body.String())
	}
}

func TestNotificationStats(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, testOwner, alert.TypeTreatment, alert.SeverityHigh, testNow, false)
	s.seed(t, testOwner, alert.TypeTreatment, alert.SeverityCritical, testNow, true)

	rec := s.do(t, "GET", "/v1/notifications/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var stats alert.Stats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Total != 2 || stats.Unread != 1 {
		t.Errorf("expected total=2 unread=1, got %+v", stats)
	}
	if stats.ByType[alert.TypeTreatment] != 2 {
		t.Errorf("expected 2 treatments, got %d", stats.ByType[alert.TypeTreatment])
	}
}

func TestGetNotification(t *testing.T) {
	s := newTestServer(t)
	mine := s.seed(t, testOwner, alert.TypeTreatment, alert.SeverityHigh, testNow, false)
	theirs := s.seed(t, "someone-else", alert.TypeTreatment, alert.SeverityHigh, testNow, false)

	tests := []struct {
		name         string
		id           string
		expectedCode int
		expectedType string
	}{
		{"found", mine.ID.String(), http.StatusOK, ""},
		{"other owner", theirs.ID.String(), http.StatusNotFound, "not_found"},
		{"missing", uuid.NewString(), http.StatusNotFound, "not_found"},
		{"invalid id", "not-a-uuid", http.StatusBadRequest, "invalid_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, "GET", "/v1/notifications/"+tt.id, nil)
			if rec.Code != tt.expectedCode {
				t.Fatalf("expected status %d, got %d", tt.expectedCode, rec.Code)
			}
			if tt.expectedType != "" {
				if p := decodeProblem(t, rec); p.Type != tt.expectedType {
					t.Errorf("expected %q, got %q", tt.expectedType, p.Type)
				}
				return
			}
			var n alert.Notification
			if err := json.NewDecoder(rec.Body).Decode(&n); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if n.ID != mine.ID {
				t.Errorf("expected %s, got %s", mine.ID, n.ID)
			}
		})
	}
}

func TestMarkRead(t *testing.T) {
	s := newTestServer(t)
	n := s.seed(t, testOwner, alert.TypeVaccine, alert.SeverityMedium, testNow, false)

	rec := s.do(t, "POST", "/v1/notifications/"+n.ID.String()+"/read", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got alert.Notification
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.IsRead || got.ReadAt == nil || !got.ReadAt.Equal(testNow) {
		t.Errorf("expected read at %v, got is_read=%v read_at=%v", testNow, got.IsRead, got.ReadAt)
	}

	rec = s.do(t, "POST", "/v1/notifications/"+uuid.NewString()+"/read", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown notification, got %d", rec.Code)
	}
}

func TestMarkAllRead(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, testOwner, alert.TypeVaccine, alert.SeverityMedium, testNow, false)
	s.seed(t, testOwner, alert.TypeWeight, alert.SeverityLow, testNow, false)
	s.seed(t, testOwner, alert.TypeWeight, alert.SeverityLow, testNow, true)

	rec := s.do(t, "POST", "/v1/notifications/read-all", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]int64
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["updated"] != 2 {
		t.Errorf("expected 2 updated, got %d", resp["updated"])
	}

	stats, _ := s.store.NotificationStats(context.Background(), testOwner)
	if stats.Unread != 0 {
		t.Errorf("expected no unread notifications, got %d", stats.Unread)
	}
}

func TestDeleteNotification(t *testing.T) {
	s := newTestServer(t)
	n := s.seed(t, testOwner, alert.TypeTreatment, alert.SeverityHigh, testNow, false)

	rec := s.do(t, "DELETE", "/v1/notifications/"+n.ID.String(), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if _, err := s.store.GetNotification(context.Background(), testOwner, n.ID); !errors.Is(err, alert.ErrNotFound) {
		t.Errorf("expected notification to be gone, got %v", err)
	}

	rec = s.do(t, "DELETE", "/v1/notifications/"+n.ID.String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestCleanupNotifications(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, testOwner, alert.TypeTreatment, alert.SeverityHigh, testNow.AddDate(0, 0, -40), false)
	s.seed(t, testOwner, alert.TypeTreatment, alert.SeverityHigh, testNow.AddDate(0, 0, -10), false)
	other := s.seed(t, "someone-else", alert.TypeTreatment, alert.SeverityHigh, testNow.AddDate(0, 0, -40), false)

	for _, q := range []string{"?days=0", "?days=-3", "?days=abc"} {
		rec := s.do(t, "POST", "/v1/notifications/cleanup"+q, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, rec.Code)
		}
	}

	rec := s.do(t, "POST", "/v1/notifications/cleanup", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Deleted != 1 {
		t.Errorf("expected 1 deleted with the 30 day default, got %d", resp.Deleted)
	}

	rec = s.do(t, "POST", "/v1/notifications/cleanup?days=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Deleted != 1 {
		t.Errorf("expected 1 deleted for 5 days, got %d", resp.Deleted)
	}

	if _, err := s.store.GetNotification(context.Background(), "someone-else", other.ID); err != nil {
		t.Errorf("cleanup must not touch other owners: %v", err)
	}
}

func TestCurrentDigest(t *testing.T) {
	s := newTestServer(t)
	// Tuesday of week 10.
	s.seed(t, testOwner, alert.TypeTreatment, alert.SeverityHigh, time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC), false)

	rec := s.do(t, "GET", "/v1/digests/current", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var d digest.Digest
	if err := json.NewDecoder(rec.Body).Decode(&d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Period.Year != 2024 || d.Period.Week != 10 {
		t.Errorf("expected 2024-W10, got %d-W%d", d.Period.Year, d.Period.Week)
	}
	if d.Summary.Total != 1 {
		t.Errorf("expected 1 notification, got %d", d.Summary.Total)
	}

	again := s.do(t, "GET", "/v1/digests/2024/10", nil)
	var same digest.Digest
	if err := json.NewDecoder(again.Body).Decode(&same); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if same.ID != d.ID {
		t.Errorf("expected the stored digest to be returned, got %s and %s", d.ID, same.ID)
	}
}

func TestCurrentDigest_Disabled(t *testing.T) {
	s := newTestServer(t)
	p := preference.Defaults(testOwner)
	p.Digest.Enabled = false
	if _, err := s.store.SavePreference(context.Background(), p); err != nil {
		t.Fatalf("save preference: %v", err)
	}

	rec := s.do(t, "GET", "/v1/digests/current", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if p := decodeProblem(t, rec); p.Type != "not_found" {
		t.Errorf("expected not_found, got %q", p.Type)
	}
}

func TestGetDigest_Validation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		path string
	}{
		{"week 53 of a 52 week year", "/v1/digests/2024/53"},
		{"week zero", "/v1/digests/2024/0"},
		{"not a number", "/v1/digests/2024/ten"},
		{"current week is incomplete", "/v1/digests/2024/11"},
		{"future week", "/v1/digests/2025/1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, "GET", tt.path, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestPreferences(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, "GET", "/v1/preferences", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var p preference.Preference
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Owner != testOwner || !p.Enabled || p.Language != preference.DefaultLanguage {
		t.Errorf("expected defaults for %s, got %+v", testOwner, p)
	}

	rec = s.do(t, "PUT", "/v1/preferences", []byte(`{"language":"es","quiet_hours":{"enabled":true,"start_time":"21:00","end_time":"06:00"}}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Language != "es" || !p.QuietHours.Enabled || p.QuietHours.StartTime != "21:00" {
		t.Errorf("patch not applied: %+v", p)
	}
	if p.QuietHours.Timezone != "UTC" {
		t.Errorf("unpatched fields must survive, timezone=%q", p.QuietHours.Timezone)
	}
}

func TestUpdatePreferences_Invalid(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"language":`},
		{"bad clock", `{"quiet_hours":{"start_time":"25:00"}}`},
		{"unknown day", `{"digest":{"day":"Someday"}}`},
		{"unknown zone", `{"quiet_hours":{"timezone":"Not/AZone"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, "PUT", "/v1/preferences", []byte(tt.body))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if p := decodeProblem(t, rec); p.Type != "invalid_request" {
				t.Errorf("expected invalid_request, got %q", p.Type)
			}
		})
	}
}

func TestJobs(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, "GET", "/v1/jobs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "expiry-check") {
		t.Errorf("expected job listing, got %s", rec.Body.String())
	}

	rec = s.do(t, "POST", "/v1/jobs/expiry-check/run", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var run scheduler.Run
	if err := json.NewDecoder(rec.Body).Decode(&run); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if run.Status != scheduler.StatusSuccess || len(s.jobs.runs) != 1 {
		t.Errorf("expected one successful run, got %+v runs=%v", run, s.jobs.runs)
	}
}

func TestRunJob_Errors(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		expectedCode int
		expectedType string
	}{
		{"unknown", fmt.Errorf("%w: nope", scheduler.ErrUnknownJob), http.StatusNotFound, "not_found"},
		{"running", fmt.Errorf("%w: expiry-check", scheduler.ErrAlreadyRunning), http.StatusConflict, "job_error"},
		{"failed", errors.New("boom"), http.StatusInternalServerError, "job_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.jobs.err = tt.err

			rec := s.do(t, "POST", "/v1/jobs/expiry-check/run", nil)
			if rec.Code != tt.expectedCode {
				t.Fatalf("expected %d, got %d", tt.expectedCode, rec.Code)
			}
			if p := decodeProblem(t, rec); p.Type != tt.expectedType {
				t.Errorf("expected %q, got %q", tt.expectedType, p.Type)
			}
		})
	}
}

func TestRunJob_WithScheduler(t *testing.T) {
	store := db.NewMemoryStore()
	sched := scheduler.New(scheduler.Config{}, nil, zap.NewNop())
	if err := sched.Register(scheduler.Job{
		Name:     "noop",
		Schedule: "@daily",
		Run: func(ctx context.Context, inv scheduler.Invocation) (string, error) {
			return "did nothing", nil
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	h := NewHandler(zap.NewNop(), store, nil, preference.NewService(store, zap.NewNop()), sched)
	router := NewRouter(h, nil, RouterConfig{}, zap.NewNop())

	req := httptest.NewRequest("POST", "/v1/jobs/noop/run", nil)
	req.Header.Set(OwnerHeader, testOwner)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "did nothing") {
		t.Errorf("expected run summary, got %s", rec.Body.String())
	}

	req = httptest.NewRequest("POST", "/v1/jobs/missing/run", nil)
	req.Header.Set(OwnerHeader, testOwner)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown job, got %d", rec.Code)
	}
}

func TestDatabaseErrors(t *testing.T) {
	store := failingStore{db.NewMemoryStore()}
	h := NewHandler(zap.NewNop(), store, nil, preference.NewService(store.MemoryStore, zap.NewNop()), nil)
	router := NewRouter(h, nil, RouterConfig{}, zap.NewNop())

	for _, path := range []string{"/v1/notifications", "/v1/notifications/" + uuid.NewString()} {
		req := httptest.NewRequest("GET", path, nil)
		req.Header.Set(OwnerHeader, testOwner)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("%s: expected 500, got %d", path, rec.Code)
		}
		if p := decodeProblem(t, rec); p.Type != "database_error" {
			t.Errorf("%s: expected database_error, got %q", path, p.Type)
		}
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("expected 200 OK, got %d %q", rec.Code, rec.Body.String())
	}

	s.handler.AddHealthCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusServiceUnavailable || rec.Body.String() != "UNAVAILABLE: redis" {
		t.Errorf("expected 503 naming redis, got %d %q", rec.Code, rec.Body.String())
	}

	store := failingStore{db.NewMemoryStore()}
	h := NewHandler(zap.NewNop(), store, nil, nil, nil)
	rec = httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}
