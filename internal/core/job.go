package core

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"
)

// JobState is the lifecycle state of a scheduled job.
type JobState string

const (
	StateRunning   JobState = "running"
	StatePaused    JobState = "paused"
	StateCompleted JobState = "completed"
	StateCanceled  JobState = "canceled"
)

// IsTerminal reports whether no transition leaves the state.
func (s JobState) IsTerminal() bool {
	return s == StateCompleted || s == StateCanceled
}

// IsValid reports whether s is a known state.
func (s JobState) IsValid() bool {
	switch s {
	case StateRunning, StatePaused, StateCompleted, StateCanceled:
		return true
	}
	return false
}

// StateMask is a set of job states.
type StateMask uint8

const (
	MaskRunning StateMask = 1 << iota
	MaskPaused
	MaskCompleted
	MaskCanceled

	MaskActive = MaskRunning | MaskPaused
	MaskAll    = MaskRunning | MaskPaused | MaskCompleted | MaskCanceled
)

func (s JobState) mask() StateMask {
	switch s {
	case StateRunning:
		return MaskRunning
	case StatePaused:
		return MaskPaused
	case StateCompleted:
		return MaskCompleted
	case StateCanceled:
		return MaskCanceled
	}
	return 0
}

// MaskOf builds a mask from states.
func MaskOf(states ...JobState) StateMask {
	var m StateMask
	for _, s := range states {
		m |= s.mask()
	}
	return m
}

// Has reports whether state is in the mask. An empty mask holds no state.
func (m StateMask) Has(state JobState) bool {
	return m&state.mask() != 0
}

// ParseStateMask parses a comma separated state list such as "running,paused".
func ParseStateMask(s string) (StateMask, error) {
	var m StateMask
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		state := JobState(strings.ToLower(part))
		if !state.IsValid() {
			return 0, fmt.Errorf("unknown state %q", part)
		}
		m |= state.mask()
	}
	return m, nil
}

// JobRecord is the durable state of a job, partitioned by JobType and keyed by JobID.
type JobRecord struct {
	JobID          string            `json:"job_id"`
	JobType        string            `json:"job_type"`
	State          JobState          `json:"state"`
	Version        int64             `json:"version"`
	Recurrence     Recurrence        `json:"recurrence"`
	StartTime      time.Time         `json:"start_time"`
	Count          int               `json:"count"`
	LastRunTime    time.Time         `json:"last_run_time"`
	Payload        map[string]string `json:"payload"`
	JobDescription string            `json:"job_description"`

	// ETag is the store's concurrency token from the last read or write.
	ETag string `json:"-"`
}

// Clone returns a deep copy of the record.
func (r *JobRecord) Clone() *JobRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Payload = clonePayload(r.Payload)
	return &c
}

// Details builds the queue message content for the record's current version.
func (r *JobRecord) Details() *JobDetails {
	return &JobDetails{
		JobID:          r.JobID,
		JobType:        r.JobType,
		Version:        r.Version,
		Recurrence:     r.Recurrence,
		StartTime:      r.StartTime,
		Payload:        clonePayload(r.Payload),
		JobDescription: r.JobDescription,
	}
}

// JobDetails is the transient form of a job carried inside queue messages.
type JobDetails struct {
	JobID          string            `json:"job_id"`
	JobType        string            `json:"job_type"`
	Version        int64             `json:"version"`
	Recurrence     Recurrence        `json:"recurrence"`
	StartTime      time.Time         `json:"start_time"`
	Payload        map[string]string `json:"payload"`
	JobDescription string            `json:"job_description"`

	// Message is the leased delivery this instance was read from. It is only valid
	// while the lease is held by the same worker.
	Message *QueueMessage `json:"-"`
}

// QueueMessage is one delivery of a queue message.
type QueueMessage struct {
	ID            string
	Receipt       string
	Body          []byte
	DequeueCount  int
	InsertedAt    time.Time
	NextVisibleAt time.Time
}

// MarshalJobRecord serializes a record for storage.
func MarshalJobRecord(r *JobRecord) ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalJobRecord deserializes a stored record.
func UnmarshalJobRecord(data []byte) (*JobRecord, error) {
	var r JobRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// MarshalJobDetails serializes job details as a queue message body.
func MarshalJobDetails(d *JobDetails) ([]byte, error) {
	return json.Marshal(d)
}

// UnmarshalJobDetails deserializes a queue message body.
func UnmarshalJobDetails(data []byte) (*JobDetails, error) {
	var d JobDetails
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	if d.JobID == "" || d.JobType == "" {
		return nil, fmt.Errorf("job details missing job_id or job_type")
	}
	return &d, nil
}

func clonePayload(p map[string]string) map[string]string {
	if p == nil {
		return nil
	}
	return maps.Clone(p)
}

// ScheduleRequest is the input to ScheduleJob.
type ScheduleRequest struct {
	JobID          string            `json:"job_id,omitempty"`
	JobType        string            `json:"job_type"`
	Recurrence     *Recurrence       `json:"recurrence,omitempty"`
	StartTime      *time.Time        `json:"start_time,omitempty"`
	Payload        map[string]string `json:"payload,omitempty"`
	JobDescription string            `json:"job_description,omitempty"`
}

// UpdateRequest is the input to UpdateJob. Nil fields are left unchanged.
type UpdateRequest struct {
	JobID          string             `json:"job_id"`
	JobType        string             `json:"job_type"`
	State          JobState           `json:"state"`
	Payload        *map[string]string `json:"payload,omitempty"`
	Recurrence     *Recurrence        `json:"recurrence,omitempty"`
	JobDescription *string            `json:"job_description,omitempty"`
	StartTime      *time.Time         `json:"start_time,omitempty"`
}
