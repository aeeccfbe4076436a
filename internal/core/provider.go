package core

import (
	"context"
	"time"
)

// QueueProvider is a delay-capable message queue with leased delivery.
//
// Dequeue returns at most one message and hides it from other consumers for the
// lease duration. A message that is not deleted before its lease expires becomes
// visible again. Dequeue returns nil, nil when nothing is visible.
//
// Delete, UpdateContent and ExtendLease act on the exact delivery identified by the
// message's receipt and fail with a not_found error when that delivery is gone.
// Providers do not retry; infrastructure failures surface as transient errors.
type QueueProvider interface {
	Enqueue(ctx context.Context, body []byte, delay time.Duration) error
	Dequeue(ctx context.Context, lease time.Duration) (*QueueMessage, error)
	Delete(ctx context.Context, msg *QueueMessage) error
	UpdateContent(ctx context.Context, msg *QueueMessage, body []byte) error
	ExtendLease(ctx context.Context, msg *QueueMessage, lease time.Duration) error
}

// RecordFilter selects records in a Query. Zero fields match everything.
type RecordFilter struct {
	JobType     string
	JobID       string
	Description *string
	States      StateMask
}

// Match reports whether r satisfies the filter.
func (f RecordFilter) Match(r *JobRecord) bool {
	if f.JobType != "" && r.JobType != f.JobType {
		return false
	}
	if f.JobID != "" && r.JobID != f.JobID {
		return false
	}
	if f.Description != nil && r.JobDescription != *f.Description {
		return false
	}
	return f.States == 0 || f.States.Has(r.State)
}

// RecordStoreProvider is a keyed record store with optimistic concurrency.
//
// Insert fails with a duplicate error when the key exists. Replace succeeds only
// when the stored ETag equals record.ETag and fails with a conflict error otherwise;
// on success record.ETag is refreshed. Retrieve fails with not_found when absent.
type RecordStoreProvider interface {
	Insert(ctx context.Context, record *JobRecord) error
	Replace(ctx context.Context, record *JobRecord) error
	Retrieve(ctx context.Context, jobType, jobID string) (*JobRecord, error)
	Query(ctx context.Context, filter RecordFilter) ([]*JobRecord, error)
}
