package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openjobspec/ojs-scheduler/internal/core"
)

// JobScheduler is the part of the scheduler the producer API drives.
type JobScheduler interface {
	ScheduleJob(ctx context.Context, req *core.ScheduleRequest) (*core.JobRecord, error)
	UpdateJob(ctx context.Context, req *core.UpdateRequest) (*core.JobRecord, error)
	GetJobByID(ctx context.Context, jobID string) (*core.JobRecord, error)
	GetJob(ctx context.Context, jobType, jobID string) (*core.JobRecord, error)
	GetAllActiveJobsByType(ctx context.Context, jobType string) ([]*core.JobRecord, error)
	GetJobsByTypeAndDescription(ctx context.Context, jobType, desc string, mask core.StateMask) ([]*core.JobRecord, error)
}

// JobHandler handles scheduled job endpoints.
type JobHandler struct {
	sched JobScheduler
}

// NewJobHandler creates a JobHandler.
func NewJobHandler(sched JobScheduler) *JobHandler {
	return &JobHandler{sched: sched}
}

type jobResponse struct {
	Job *core.JobRecord `json:"job"`
}

type jobListResponse struct {
	Jobs  []*core.JobRecord `json:"jobs"`
	Count int               `json:"count"`
}

// Create handles POST /ojs/v1/scheduled-jobs.
func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req core.ScheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	rec, err := h.sched.ScheduleJob(r.Context(), &req)
	if err != nil {
		HandleError(w, err)
		return
	}

	w.Header().Set("Location", "/ojs/v1/scheduled-jobs/"+rec.JobID)
	WriteJSON(w, http.StatusCreated, jobResponse{Job: rec})
}

// Get handles GET /ojs/v1/scheduled-jobs/{id}.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.sched.GetJobByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, jobResponse{Job: rec})
}

// GetTyped handles GET /ojs/v1/scheduled-jobs/{type}/{id}.
func (h *JobHandler) GetTyped(w http.ResponseWriter, r *http.Request) {
	rec, err := h.sched.GetJob(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, jobResponse{Job: rec})
}

// Update handles PATCH /ojs/v1/scheduled-jobs/{type}/{id}. The path names the
// job; type and id in the body are ignored.
func (h *JobHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req core.UpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.JobType = chi.URLParam(r, "type")
	req.JobID = chi.URLParam(r, "id")

	rec, err := h.sched.UpdateJob(r.Context(), &req)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, jobResponse{Job: rec})
}

// List handles GET /ojs/v1/scheduled-jobs?type=&description=&states=.
// Without a description it returns the type's active jobs. With a description
// and no states parameter every state matches.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	jobType := q.Get("type")

	var (
		recs []*core.JobRecord
		err  error
	)
	if q.Has("description") {
		mask := core.MaskAll
		if q.Has("states") {
			var perr error
			if mask, perr = core.ParseStateMask(q.Get("states")); perr != nil {
				WriteError(w, http.StatusBadRequest, core.NewValidationError(perr.Error(), map[string]any{"field": "states"}))
				return
			}
		}
		recs, err = h.sched.GetJobsByTypeAndDescription(r.Context(), jobType, q.Get("description"), mask)
	} else {
		if q.Get("states") != "" {
			WriteError(w, http.StatusBadRequest, core.NewValidationError(
				"states filter requires a description.", map[string]any{"field": "states"}))
			return
		}
		recs, err = h.sched.GetAllActiveJobsByType(r.Context(), jobType)
	}
	if err != nil {
		HandleError(w, err)
		return
	}
	if recs == nil {
		recs = []*core.JobRecord{}
	}
	WriteJSON(w, http.StatusOK, jobListResponse{Jobs: recs, Count: len(recs)})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, core.NewValidationError(
				"Request body too large.", map[string]any{"limit_bytes": tooLarge.Limit}))
			return false
		}
		WriteError(w, http.StatusBadRequest, core.NewValidationError(
			"Invalid JSON in request body.", map[string]any{"error": err.Error()}))
		return false
	}
	return true
}
