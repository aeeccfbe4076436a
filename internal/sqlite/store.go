package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openjobspec/ojs-scheduler/internal/core"
)

var _ core.RecordStoreProvider = (*Store)(nil)

// Store keeps job records in the jobs table, partitioned by job type and keyed by
// job id. The etag column is a per-row counter checked by Replace.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

func (s *Store) Insert(ctx context.Context, record *core.JobRecord) error {
	data, err := core.MarshalJobRecord(record)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(partition_key, row_key, etag, state, version, description, data, updated_at)
		 VALUES(?,?,1,?,?,?,?,?)
		 ON CONFLICT(partition_key, row_key) DO NOTHING`,
		record.JobType, record.JobID, string(record.State), record.Version, record.JobDescription,
		string(data), s.clock().UnixMilli(),
	)
	if err != nil {
		return transient("insert job record", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NewDuplicateError("Job", record.JobID)
	}
	record.ETag = "1"
	return nil
}

func (s *Store) Replace(ctx context.Context, record *core.JobRecord) error {
	expected, err := strconv.ParseInt(record.ETag, 10, 64)
	if err != nil {
		return core.NewConflictError("Job record was not read from this store.", map[string]any{
			"job_id": record.JobID,
			"etag":   record.ETag,
		})
	}
	data, err := core.MarshalJobRecord(record)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET etag = etag + 1, state = ?, version = ?, description = ?, data = ?, updated_at = ?
		 WHERE partition_key = ? AND row_key = ? AND etag = ?`,
		string(record.State), record.Version, record.JobDescription, string(data), s.clock().UnixMilli(),
		record.JobType, record.JobID, expected,
	)
	if err != nil {
		return transient("replace job record", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.Retrieve(ctx, record.JobType, record.JobID); err != nil {
			return err
		}
		return core.NewConflictError("Job record was modified concurrently.", map[string]any{
			"job_id":        record.JobID,
			"expected_etag": record.ETag,
		})
	}
	record.ETag = strconv.FormatInt(expected+1, 10)
	return nil
}

func (s *Store) Retrieve(ctx context.Context, jobType, jobID string) (*core.JobRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT etag, data FROM jobs WHERE partition_key = ? AND row_key = ?`, jobType, jobID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewNotFoundError("Job", jobID)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) Query(ctx context.Context, filter core.RecordFilter) ([]*core.JobRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.JobType != "" {
		where = append(where, "partition_key = ?")
		args = append(args, filter.JobType)
	}
	if filter.JobID != "" {
		where = append(where, "row_key = ?")
		args = append(args, filter.JobID)
	}
	if filter.Description != nil {
		where = append(where, "description = ?")
		args = append(args, *filter.Description)
	}
	if filter.States != 0 {
		var states []string
		for _, st := range []core.JobState{core.StateRunning, core.StatePaused, core.StateCompleted, core.StateCanceled} {
			if filter.States.Has(st) {
				states = append(states, "?")
				args = append(args, string(st))
			}
		}
		where = append(where, "state IN ("+strings.Join(states, ",")+")")
	}

	query := `SELECT etag, data FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY partition_key, row_key"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, transient("query job records", err)
	}
	defer rows.Close()

	var out []*core.JobRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("query job records", err)
	}
	return out, nil
}

// Delete removes a record. The scheduler never deletes records; retention
// tooling and tests do.
func (s *Store) Delete(ctx context.Context, jobType, jobID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE partition_key = ? AND row_key = ?`, jobType, jobID)
	if err != nil {
		return transient("delete job record", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NewNotFoundError("Job", jobID)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*core.JobRecord, error) {
	var (
		etag int64
		data string
	)
	if err := sc.Scan(&etag, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, transient("read job record", err)
	}
	rec, err := core.UnmarshalJobRecord([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("decode job record: %w", err)
	}
	rec.ETag = strconv.FormatInt(etag, 10)
	return rec, nil
}
