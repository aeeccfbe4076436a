package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/openjobspec/ojs-scheduler/internal/core"
)

var _ core.RecordStoreProvider = (*Store)(nil)

type recordKey struct {
	jobType string
	jobID   string
}

// Store is an in-memory record store. ETags are per-record revision counters.
type Store struct {
	mu      sync.RWMutex
	records map[recordKey]*core.JobRecord
	rev     uint64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{records: make(map[recordKey]*core.JobRecord)}
}

func (s *Store) Insert(ctx context.Context, record *core.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{record.JobType, record.JobID}
	if _, exists := s.records[key]; exists {
		return core.NewDuplicateError("Job", record.JobID)
	}
	record.ETag = s.nextETag()
	s.records[key] = record.Clone()
	return nil
}

func (s *Store) Replace(ctx context.Context, record *core.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{record.JobType, record.JobID}
	current, ok := s.records[key]
	if !ok {
		return core.NewNotFoundError("Job", record.JobID)
	}
	if current.ETag != record.ETag {
		return core.NewConflictError("Job record was modified concurrently.", map[string]any{
			"job_id":        record.JobID,
			"expected_etag": record.ETag,
			"current_etag":  current.ETag,
		})
	}
	record.ETag = s.nextETag()
	s.records[key] = record.Clone()
	return nil
}

func (s *Store) Retrieve(ctx context.Context, jobType, jobID string) (*core.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[recordKey{jobType, jobID}]
	if !ok {
		return nil, core.NewNotFoundError("Job", jobID)
	}
	return rec.Clone(), nil
}

func (s *Store) Query(ctx context.Context, filter core.RecordFilter) ([]*core.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*core.JobRecord{}
	for _, rec := range s.records {
		if filter.Match(rec) {
			out = append(out, rec.Clone())
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
func (s *Store) Delete(ctx context.Context, jobType, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{jobType, jobID}
	if _, ok := s.records[key]; !ok {
		return core.NewNotFoundError("Job", jobID)
	}
	delete(s.records, key)
	return nil
}

func (s *Store) nextETag() string {
	s.rev++
	return strconv.FormatUint(s.rev, 10)
}
