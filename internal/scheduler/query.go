package scheduler

import (
	"context"
	"fmt"

	"github.com/openjobspec/ojs-scheduler/internal/core"
)

// GetAllActiveJobsByType returns the Running and Paused jobs of a type.
func (s *Scheduler) GetAllActiveJobsByType(ctx context.Context, jobType string) ([]*core.JobRecord, error) {
	if err := core.ValidateJobType(jobType); err != nil {
		return nil, err
	}
	recs, err := s.store.Query(ctx, core.RecordFilter{JobType: jobType, States: core.MaskActive})
	if err != nil {
		return nil, fmt.Errorf("query active jobs of %s: %w", jobType, err)
	}
	return recs, nil
}

// GetJobsByTypeAndDescription returns the jobs of a type whose description
// equals desc and whose state is in mask. An empty mask selects nothing; pass
// core.MaskAll for every state.
func (s *Scheduler) GetJobsByTypeAndDescription(ctx context.Context, jobType, desc string, mask core.StateMask) ([]*core.JobRecord, error) {
	if err := core.ValidateJobType(jobType); err != nil {
		return nil, err
	}
	if mask == 0 {
		return []*core.JobRecord{}, nil
	}
	recs, err := s.store.Query(ctx, core.RecordFilter{JobType: jobType, Description: &desc, States: mask})
	if err != nil {
		return nil, fmt.Errorf("query jobs of %s by description: %w", jobType, err)
	}
	return recs, nil
}

// GetJobByID finds a job by id across all types.
func (s *Scheduler) GetJobByID(ctx context.Context, jobID string) (*core.JobRecord, error) {
	if jobID == "" {
		return nil, core.NewValidationError("job_id is required.", map[string]any{"field": "job_id"})
	}
	recs, err := s.store.Query(ctx, core.RecordFilter{JobID: jobID})
	if err != nil {
		return nil, fmt.Errorf("query job %s: %w", jobID, err)
	}
	if len(recs) == 0 {
		return nil, core.NewNotFoundError("Job", jobID)
	}
	return recs[0], nil
}

// GetJob retrieves a job by type and id without scanning other types.
func (s *Scheduler) GetJob(ctx context.Context, jobType, jobID string) (*core.JobRecord, error) {
	if err := core.ValidateJobType(jobType); err != nil {
		return nil, err
	}
	rec, err := s.store.Retrieve(ctx, jobType, jobID)
	if err != nil {
		return nil, fmt.Errorf("retrieve job record %s: %w", jobID, err)
	}
	return rec, nil
}
