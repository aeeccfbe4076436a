package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/openjobspec/ojs-scheduler/internal/core"
	"github.com/openjobspec/ojs-scheduler/internal/memory"
	"github.com/openjobspec/ojs-scheduler/internal/scheduler"
)

// newTestRouter creates a chi.Mux with the scheduled job routes wired to an
// in-memory scheduler.
func newTestRouter(t testing.TB) *chi.Mux {
	t.Helper()
	queue := memory.NewQueue(nil)
	sched, err := scheduler.New(queue, memory.NewStore())
	if err != nil {
		t.Fatalf("scheduler.New() error = %v", err)
	}
	return routerFor(sched, queue)
}

func routerFor(sched JobScheduler, checker core.HealthChecker) *chi.Mux {
	r := chi.NewRouter()
	r.Use(OJSHeaders)
	r.Use(LimitBody)
	r.Use(ValidateContentType)

	jobH := NewJobHandler(sched)
	systemH := NewSystemHandler(checker)

	r.Get("/ojs/v1/health", systemH.Health)
	r.Post("/ojs/v1/scheduled-jobs", jobH.Create)
	r.Get("/ojs/v1/scheduled-jobs", jobH.List)
	r.Get("/ojs/v1/scheduled-jobs/{id}", jobH.Get)
	r.Get("/ojs/v1/scheduled-jobs/{type}/{id}", jobH.GetTyped)
	r.Patch("/ojs/v1/scheduled-jobs/{type}/{id}", jobH.Update)
	return r
}

func do(t testing.TB, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeJob(t *testing.T, w *httptest.ResponseRecorder) *core.JobRecord {
	t.Helper()
	var resp struct {
		Job *core.JobRecord `json:"job"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v (%s)", err, w.Body.String())
	}
	if resp.Job == nil {
		t.Fatalf("response missing job: %s", w.Body.String())
	}
	return resp.Job
}

func decodeJobs(t *testing.T, w *httptest.ResponseRecorder) []*core.JobRecord {
	t.Helper()
	var resp struct {
		Jobs  []*core.JobRecord `json:"jobs"`
		Count int               `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v (%s)", err, w.Body.String())
	}
	if resp.Count != len(resp.Jobs) {
		t.Errorf("count = %d, len(jobs) = %d", resp.Count, len(resp.Jobs))
	}
	return resp.Jobs
}

func createJob(t *testing.T, router http.Handler, body string) *core.JobRecord {
	t.Helper()
	w := do(t, router, http.MethodPost, "/ojs/v1/scheduled-jobs", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d (%s)", w.Code, http.StatusCreated, w.Body.String())
	}
	return decodeJob(t, w)
}

// --- Create ---

func TestJobCreate_Success(t *testing.T) {
	router := newTestRouter(t)

	body := `{"job_type":"billing.invoice","recurrence":{"frequency":"daily","count":3},"payload":{"account":"a-1"},"job_description":"nightly"}`
	w := do(t, router, http.MethodPost, "/ojs/v1/scheduled-jobs", body)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (%s)", w.Code, http.StatusCreated, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != MediaType {
		t.Errorf("Content-Type = %q, want %q", ct, MediaType)
	}
	job := decodeJob(t, w)
	if loc := w.Header().Get("Location"); loc != "/ojs/v1/scheduled-jobs/"+job.JobID {
		t.Errorf("Location = %q, want path of job %s", loc, job.JobID)
	}
	if job.State != core.StateRunning {
		t.Errorf("state = %q, want %q", job.State, core.StateRunning)
	}
	if job.Version != 1 {
		t.Errorf("version = %d, want 1", job.Version)
	}
	if job.Payload["account"] != "a-1" {
		t.Errorf("payload = %v, want account=a-1", job.Payload)
	}
}

func TestJobCreate_MissingType(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodPost, "/ojs/v1/scheduled-jobs", `{"payload":{"k":"v"}}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestJobCreate_InvalidJSON(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodPost, "/ojs/v1/scheduled-jobs", "{invalid")

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestJobCreate_UnknownFrequency(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodPost, "/ojs/v1/scheduled-jobs", `{"job_type":"a.b","recurrence":{"frequency":"fortnightly"}}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestJobCreate_DuplicateReturnsConflict(t *testing.T) {
	router := newTestRouter(t)
	body := `{"job_id":"` + core.NewUUIDv7() + `","job_type":"billing.invoice"}`

	createJob(t, router, body)
	w := do(t, router, http.MethodPost, "/ojs/v1/scheduled-jobs", body)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

// --- Get ---

func TestJobGet_NotFound(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodGet, "/ojs/v1/scheduled-jobs/"+core.NewUUIDv7(), "")

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Error.RequestID == "" {
		t.Error("error response should carry the request id")
	}
}

func TestJobGet_Found(t *testing.T) {
	router := newTestRouter(t)
	created := createJob(t, router, `{"job_type":"billing.invoice","job_description":"one"}`)

	w := do(t, router, http.MethodGet, "/ojs/v1/scheduled-jobs/"+created.JobID, "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := decodeJob(t, w); got.JobID != created.JobID || got.JobType != "billing.invoice" {
		t.Errorf("got job %s/%s, want billing.invoice/%s", got.JobType, got.JobID, created.JobID)
	}
}

func TestJobGetTyped(t *testing.T) {
	router := newTestRouter(t)
	created := createJob(t, router, `{"job_type":"billing.invoice","job_description":"one"}`)

	w := do(t, router, http.MethodGet, "/ojs/v1/scheduled-jobs/billing.invoice/"+created.JobID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (%s)", w.Code, http.StatusOK, w.Body.String())
	}
	if got := decodeJob(t, w); got.JobID != created.JobID {
		t.Errorf("got job %s, want %s", got.JobID, created.JobID)
	}

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"wrong type", "/ojs/v1/scheduled-jobs/mail.digest/" + created.JobID, http.StatusNotFound},
		{"bad type", "/ojs/v1/scheduled-jobs/Not_A_Type/" + created.JobID, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodGet, tt.path, "")
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

// --- Update ---

func TestJobUpdate_Pause(t *testing.T) {
	router := newTestRouter(t)
	created := createJob(t, router, `{"job_type":"billing.invoice","recurrence":{"frequency":"hourly","count":0}}`)

	w := do(t, router, http.MethodPatch, "/ojs/v1/scheduled-jobs/billing.invoice/"+created.JobID, `{"state":"paused"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (%s)", w.Code, http.StatusOK, w.Body.String())
	}
	job := decodeJob(t, w)
	if job.State != core.StatePaused {
		t.Errorf("state = %q, want %q", job.State, core.StatePaused)
	}
	if job.Version != 2 {
		t.Errorf("version = %d, want 2", job.Version)
	}
}

func TestJobUpdate_PathOverridesBody(t *testing.T) {
	router := newTestRouter(t)
	created := createJob(t, router, `{"job_type":"billing.invoice"}`)

	body := `{"job_type":"other.type","job_id":"` + core.NewUUIDv7() + `","state":"canceled"}`
	w := do(t, router, http.MethodPatch, "/ojs/v1/scheduled-jobs/billing.invoice/"+created.JobID, body)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (%s)", w.Code, http.StatusOK, w.Body.String())
	}
	if job := decodeJob(t, w); job.JobID != created.JobID || job.State != core.StateCanceled {
		t.Errorf("got %s in %q, want %s canceled", job.JobID, job.State, created.JobID)
	}
}

func TestJobUpdate_Errors(t *testing.T) {
	router := newTestRouter(t)
	created := createJob(t, router, `{"job_type":"billing.invoice"}`)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
	}{
		{"unknown job", "/ojs/v1/scheduled-jobs/billing.invoice/" + core.NewUUIDv7(), `{"state":"paused"}`, http.StatusNotFound},
		{"completed requested", "/ojs/v1/scheduled-jobs/billing.invoice/" + created.JobID, `{"state":"completed"}`, http.StatusBadRequest},
		{"missing state", "/ojs/v1/scheduled-jobs/billing.invoice/" + created.JobID, `{}`, http.StatusBadRequest},
		{"bad type", "/ojs/v1/scheduled-jobs/Billing/" + created.JobID, `{"state":"paused"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodPatch, tt.path, tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

// --- List ---

func TestJobList(t *testing.T) {
	router := newTestRouter(t)
	a := createJob(t, router, `{"job_type":"billing.invoice","recurrence":{"frequency":"daily","count":0},"job_description":"nightly"}`)
	b := createJob(t, router, `{"job_type":"billing.invoice","recurrence":{"frequency":"daily","count":0},"job_description":"nightly"}`)
	createJob(t, router, `{"job_type":"billing.invoice","job_description":"adhoc"}`)
	createJob(t, router, `{"job_type":"mail.digest","job_description":"nightly"}`)

	w := do(t, router, http.MethodPatch, "/ojs/v1/scheduled-jobs/billing.invoice/"+b.JobID, `{"state":"canceled"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d (%s)", w.Code, w.Body.String())
	}

	tests := []struct {
		name    string
		query   string
		wantLen int
	}{
		{"active", "?type=billing.invoice", 2},
		{"description any state", "?type=billing.invoice&description=nightly", 2},
		{"description running", "?type=billing.invoice&description=nightly&states=running", 1},
		{"description canceled", "?type=billing.invoice&description=nightly&states=canceled,completed", 1},
		{"description blank states", "?type=billing.invoice&description=nightly&states=", 0},
		{"empty description", "?type=billing.invoice&description=", 0},
		{"other type", "?type=mail.digest", 1},
		{"unknown type", "?type=none.here", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodGet, "/ojs/v1/scheduled-jobs"+tt.query, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d (%s)", w.Code, http.StatusOK, w.Body.String())
			}
			if jobs := decodeJobs(t, w); len(jobs) != tt.wantLen {
				t.Errorf("len(jobs) = %d, want %d", len(jobs), tt.wantLen)
			}
		})
	}

	w = do(t, router, http.MethodGet, "/ojs/v1/scheduled-jobs?type=billing.invoice&description=nightly&states=running", "")
	if jobs := decodeJobs(t, w); len(jobs) == 1 && jobs[0].JobID != a.JobID {
		t.Errorf("running nightly job = %s, want %s", jobs[0].JobID, a.JobID)
	}
}

func TestJobList_BadRequests(t *testing.T) {
	router := newTestRouter(t)

	for _, query := range []string{
		"",
		"?type=billing.invoice&description=x&states=sleeping",
		"?type=billing.invoice&states=running",
	} {
		w := do(t, router, http.MethodGet, "/ojs/v1/scheduled-jobs"+query, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("GET %q status = %d, want %d", query, w.Code, http.StatusBadRequest)
		}
	}
}

// --- Store failures ---

type failingScheduler struct {
	JobScheduler
	err error
}

func (f failingScheduler) GetJobByID(context.Context, string) (*core.JobRecord, error) {
	return nil, f.err
}

func TestJobGet_TransientStoreFailure(t *testing.T) {
	router := routerFor(failingScheduler{err: core.NewTransientError("retrieve", errors.New("timeout"))}, memory.NewQueue(nil))

	w := do(t, router, http.MethodGet, "/ojs/v1/scheduled-jobs/"+core.NewUUIDv7(), "")

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// --- Health ---

type staticHealth core.BackendHealth

func (s staticHealth) Health() core.BackendHealth { return core.BackendHealth(s) }

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checker    core.HealthChecker
		wantStatus int
		wantBody   string
	}{
		{"memory", memory.NewQueue(nil), http.StatusOK, "ok"},
		{"degraded", staticHealth{Type: "nats", Status: "disconnected"}, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := routerFor(failingScheduler{}, tt.checker)
			w := do(t, router, http.MethodGet, "/ojs/v1/health", "")
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var resp core.HealthResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if resp.Status != tt.wantBody {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantBody)
			}
			if resp.Version != core.Version {
				t.Errorf("version = %q, want %q", resp.Version, core.Version)
			}
		})
	}
}
