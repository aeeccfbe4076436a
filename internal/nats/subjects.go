package nats

import (
	"fmt"
	"regexp"
	"strings"
)

// Subject hierarchy for the scheduler-to-NATS mapping.
//
//	ojs.sched.{queue}.jobs          -- occurrence wake-up messages
//	ojs.sched.events.job.{id}       -- lifecycle events of one job
//	ojs.sched.events.type.{type}    -- lifecycle events of one job type
//	ojs.sched.events.all            -- every lifecycle event
const (
	SubjectPrefix = "ojs.sched"
	StreamPrefix  = "OJS_SCHED"

	// BucketRecords holds job records keyed by RecordKey.
	BucketRecords = "ojs-sched-records"

	// HeaderNotBefore carries the earliest delivery time in unix milliseconds.
	HeaderNotBefore = "Ojs-Not-Before"
)

// Queue names become stream and consumer name segments.
var queueNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateQueueName checks a queue name is usable in stream, consumer and subject names.
func ValidateQueueName(queue string) error {
	if !queueNamePattern.MatchString(queue) {
		return fmt.Errorf("queue name %q must match %s", queue, queueNamePattern.String())
	}
	return nil
}

// StreamName returns the stream holding one queue's messages.
// Example: OJS_SCHED_default
func StreamName(queue string) string {
	return StreamPrefix + "_" + queue
}

// QueueSubject returns the subject messages of a queue are published on.
// Example: ojs.sched.default.jobs
func QueueSubject(queue string) string {
	return fmt.Sprintf("%s.%s.jobs", SubjectPrefix, queue)
}

// ConsumerName returns the durable consumer name for a queue.
func ConsumerName(queue string) string {
	return "ojs-sched-consumer-" + queue
}

// EventJobSubject returns the subject for events of one job.
func EventJobSubject(jobID string) string {
	return SubjectPrefix + ".events.job." + jobID
}

// EventTypeSubject returns the subject for events of one job type.
func EventTypeSubject(jobType string) string {
	return SubjectPrefix + ".events.type." + jobType
}

// EventAllSubject receives every event.
func EventAllSubject() string {
	return SubjectPrefix + ".events.all"
}

// RecordKey returns the KV key of a job record. Job types are dot separated
// tokens and job ids contain no dots, so the key is reversible.
// Example: report.daily.0194b6c2-...
func RecordKey(jobType, jobID string) string {
	return jobType + "." + jobID
}

// SplitRecordKey reverses RecordKey.
func SplitRecordKey(key string) (jobType, jobID string, ok bool) {
	i := strings.LastIndexByte(key, '.')
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}
