package core

// Job event types published to notification consumers.
const (
	EventJobScheduled          = "job.scheduled"
	EventJobIterationCompleted = "job.iteration_completed"
	EventJobCompleted          = "job.completed"
	EventJobUpdated            = "job.updated"
)

// JobEvent describes a change to a job.
type JobEvent struct {
	Type      string   `json:"type"`
	JobID     string   `json:"job_id"`
	JobType   string   `json:"job_type"`
	State     JobState `json:"state"`
	Version   int64    `json:"version"`
	Count     int      `json:"count"`
	Timestamp string   `json:"timestamp"`
}

// NewJobEvent builds an event from a record.
func NewJobEvent(eventType string, r *JobRecord) *JobEvent {
	return &JobEvent{
		Type:      eventType,
		JobID:     r.JobID,
		JobType:   r.JobType,
		State:     r.State,
		Version:   r.Version,
		Count:     r.Count,
		Timestamp: NowFormatted(),
	}
}

// EventPublisher delivers job events to downstream consumers.
type EventPublisher interface {
	PublishJobEvent(event *JobEvent) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) PublishJobEvent(*JobEvent) error { return nil }
