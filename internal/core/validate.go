package core

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	maxDescriptionLength = 1024
	maxPayloadEntries    = 256
)

// Job types are dot separated lowercase segments, e.g. "merchant.payout-report".
var jobTypePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*(\.[a-z][a-z0-9-]*)*$`)

// ValidateJobType checks the partition tag of a job.
func ValidateJobType(jobType string) *Error {
	if jobType == "" {
		return NewValidationError("job_type is required.", map[string]any{"field": "job_type"})
	}
	if !jobTypePattern.MatchString(jobType) {
		return NewValidationError(
			fmt.Sprintf("job_type %q must be dot separated lowercase segments.", jobType),
			map[string]any{"field": "job_type", "value": jobType},
		)
	}
	return nil
}

// ValidatePayload checks payload keys and size.
func ValidatePayload(payload map[string]string) *Error {
	if len(payload) > maxPayloadEntries {
		return NewValidationError(
			fmt.Sprintf("payload must not exceed %d entries.", maxPayloadEntries),
			map[string]any{"field": "payload", "entries": len(payload)},
		)
	}
	for k := range payload {
		if strings.TrimSpace(k) == "" {
			return NewValidationError("payload keys must not be empty.", map[string]any{"field": "payload"})
		}
	}
	return nil
}

func validateDescription(desc string) *Error {
	if len(desc) > maxDescriptionLength {
		return NewValidationError(
			fmt.Sprintf("job_description must not exceed %d bytes.", maxDescriptionLength),
			map[string]any{"field": "job_description"},
		)
	}
	return nil
}

// ValidateScheduleRequest checks a ScheduleJob request.
func ValidateScheduleRequest(req *ScheduleRequest) *Error {
	if req == nil {
		return NewValidationError("request is required.", nil)
	}
	if err := ValidateJobType(req.JobType); err != nil {
		return err
	}
	if req.JobID != "" && !IsValidUUID(req.JobID) {
		return NewValidationError("job_id must be a UUID.", map[string]any{"field": "job_id", "value": req.JobID})
	}
	if req.Recurrence != nil {
		if err := req.Recurrence.Validate(); err != nil {
			return err
		}
	}
	if err := ValidatePayload(req.Payload); err != nil {
		return err
	}
	return validateDescription(req.JobDescription)
}

// ValidateUpdateRequest checks an UpdateJob request. Immutability of the start
// time is checked against the stored record by the scheduler.
func ValidateUpdateRequest(req *UpdateRequest) *Error {
	if req == nil {
		return NewValidationError("request is required.", nil)
	}
	if err := ValidateJobType(req.JobType); err != nil {
		return err
	}
	if req.JobID == "" {
		return NewValidationError("job_id is required.", map[string]any{"field": "job_id"})
	}
	switch req.State {
	case StateRunning, StatePaused, StateCanceled:
	case StateCompleted:
		return NewValidationError("state completed is only reached by exhausting the recurrence.",
			map[string]any{"field": "state"})
	default:
		return NewValidationError(fmt.Sprintf("unknown state %q.", req.State), map[string]any{"field": "state"})
	}
	if req.Recurrence != nil {
		if err := req.Recurrence.Validate(); err != nil {
			return err
		}
	}
	if req.Payload != nil {
		if err := ValidatePayload(*req.Payload); err != nil {
			return err
		}
	}
	if req.JobDescription != nil {
		return validateDescription(*req.JobDescription)
	}
	return nil
}
