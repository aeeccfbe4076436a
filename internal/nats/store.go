package nats

import (
	"context"
	"fmt"
	"sort"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/openjobspec/ojs-scheduler/internal/core"
	"github.com/openjobspec/ojs-scheduler/internal/kv"
)

var _ core.RecordStoreProvider = (*RecordStore)(nil)

// RecordStore keeps job records in a KV bucket. The entry revision is the ETag,
// so Replace is a revision-checked Update.
type RecordStore struct {
	kv *kv.Store
}

// NewRecordStore opens the record bucket. SetupJetStream must have created it.
func NewRecordStore(ctx context.Context, js jetstream.JetStream) (*RecordStore, error) {
	bucket, err := js.KeyValue(ctx, BucketRecords)
	if err != nil {
		return nil, fmt.Errorf("opening KV bucket %s: %w", BucketRecords, err)
	}
	return &RecordStore{kv: kv.NewStore(bucket)}, nil
}

func (s *RecordStore) Insert(ctx context.Context, record *core.JobRecord) error {
	data, err := encodeRecord(record)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	rev, err := s.kv.Create(ctx, RecordKey(record.JobType, record.JobID), data)
	if err != nil {
		if core.IsDuplicate(err) {
			return core.NewDuplicateError("Job", record.JobID)
		}
		return err
	}
	record.ETag = kv.FormatRevision(rev)
	return nil
}

func (s *RecordStore) Replace(ctx context.Context, record *core.JobRecord) error {
	expected, err := kv.ParseRevision(record.ETag)
	if err != nil {
		return core.NewConflictError("Job record was not read from this store.", map[string]any{
			"job_id": record.JobID,
			"etag":   record.ETag,
		})
	}
	data, err := encodeRecord(record)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	rev, err := s.kv.Update(ctx, RecordKey(record.JobType, record.JobID), data, expected)
	if err != nil {
		if core.IsNotFound(err) {
			return core.NewNotFoundError("Job", record.JobID)
		}
		return err
	}
	record.ETag = kv.FormatRevision(rev)
	return nil
}

func (s *RecordStore) Retrieve(ctx context.Context, jobType, jobID string) (*core.JobRecord, error) {
	data, rev, err := s.kv.Get(ctx, RecordKey(jobType, jobID))
	if err != nil {
		if core.IsNotFound(err) {
			return nil, core.NewNotFoundError("Job", jobID)
		}
		return nil, err
	}
	rec, err := decodeRecord(data, rev)
	if err != nil {
		return nil, fmt.Errorf("decode job record %s: %w", jobID, err)
	}
	return rec, nil
}

// Query scans the bucket's keys, narrowing by type and id from the key before
// reading entries.
func (s *RecordStore) Query(ctx context.Context, filter core.RecordFilter) ([]*core.JobRecord, error) {
	if filter.JobType != "" && filter.JobID != "" {
		rec, err := s.Retrieve(ctx, filter.JobType, filter.JobID)
		if err != nil {
			if core.IsNotFound(err) {
				return nil, nil
			}
			return nil, err
		}
		if !filter.Match(rec) {
			return nil, nil
		}
		return []*core.JobRecord{rec}, nil
	}

	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, err
	}

	var out []*core.JobRecord
	for _, key := range keys {
		jobType, jobID, ok := SplitRecordKey(key)
		if !ok {
			continue
		}
		if filter.JobType != "" && jobType != filter.JobType {
			continue
		}
		if filter.JobID != "" && jobID != filter.JobID {
			continue
		}
		rec, err := s.Retrieve(ctx, jobType, jobID)
		if err != nil {
			// Deleted between listing and reading.
			if core.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if filter.Match(rec) {
			out = append(out, rec)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].JobType != out[j].JobType {
			return out[i].JobType < out[j].JobType
		}
		return out[i].JobID < out[j].JobID
	})
	return out, nil
}

// Delete removes a record. The scheduler never deletes records; retention
// tooling and tests do.
func (s *RecordStore) Delete(ctx context.Context, jobType, jobID string) error {
	return s.kv.Delete(ctx, RecordKey(jobType, jobID))
}
