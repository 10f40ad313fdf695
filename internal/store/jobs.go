package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lectern/internal/dispatch"
)

const jobColumns = `key, kind, payload_json, priority, status, attempts,
    last_error, created_at, updated_at, finished_at`

// InsertJob creates a new job record. Fails if a record with the same key
// already exists; idempotency is enforced by the dispatcher, which looks up
// the existing record first.
func (s *Store) InsertJob(ctx context.Context, job *dispatch.Record) error {
	if job == nil {
		return errors.New("job is nil")
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	payloadJSON, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
            key, kind, payload_json, priority, status, attempts, last_error,
            created_at, updated_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.Key,
		job.Kind,
		string(payloadJSON),
		job.Priority,
		string(job.Status),
		job.Attempts,
		nullableString(job.LastError),
		job.CreatedAt.Format(time.RFC3339Nano),
		job.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(job.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job record by key. Returns nil when no record exists.
func (s *Store) GetJob(ctx context.Context, key string) (*dispatch.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE key = ?`, key)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ClaimJob atomically transitions a queued job to active and returns it.
// Returns nil when the record is missing, already claimed, or finished, so
// duplicate queue entries for one key resolve to a single execution.
func (s *Store) ClaimJob(ctx context.Context, key string) (*dispatch.Record, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE key = ? AND status = ?`,
		string(dispatch.StatusActive),
		time.Now().UTC().Format(time.RFC3339Nano),
		key,
		string(dispatch.StatusQueued),
	)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim job rows affected: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}
	return s.GetJob(ctx, key)
}

// DeleteJob removes a job record by key. Deleting a missing key is a no-op.
func (s *Store) DeleteJob(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// UpdateJob persists the full state of an existing job record.
func (s *Store) UpdateJob(ctx context.Context, job *dispatch.Record) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()

	payloadJSON, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET kind = ?, payload_json = ?, priority = ?, status = ?,
             attempts = ?, last_error = ?, updated_at = ?, finished_at = ?
         WHERE key = ?`,
		job.Kind,
		string(payloadJSON),
		job.Priority,
		string(job.Status),
		job.Attempts,
		nullableString(job.LastError),
		job.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(job.FinishedAt),
		job.Key,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// ListQueuedJobs returns jobs awaiting execution, used to resume the queue
// after a restart. Active jobs are included: an active record with no worker
// holding it means the process died mid-run.
func (s *Store) ListQueuedJobs(ctx context.Context) ([]*dispatch.Record, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status IN (?, ?) ORDER BY priority, created_at`,
		string(dispatch.StatusQueued),
		string(dispatch.StatusActive),
	)
	if err != nil {
		return nil, fmt.Errorf("list queued jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*dispatch.Record
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// PruneJobs deletes completed jobs finished before completedCutoff and
// failed jobs finished before failedCutoff. Returns the number removed.
func (s *Store) PruneJobs(ctx context.Context, completedCutoff, failedCutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM jobs
         WHERE (status = ? AND finished_at IS NOT NULL AND finished_at < ?)
            OR (status = ? AND finished_at IS NOT NULL AND finished_at < ?)`,
		string(dispatch.StatusCompleted),
		completedCutoff.UTC().Format(time.RFC3339Nano),
		string(dispatch.StatusFailed),
		failedCutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return res.RowsAffected()
}

func scanJob(row rowScanner) (*dispatch.Record, error) {
	var (
		job           dispatch.Record
		payloadRaw    sql.NullString
		status        string
		lastError     sql.NullString
		createdAtRaw  string
		updatedAtRaw  string
		finishedAtRaw sql.NullString
	)

	if err := row.Scan(
		&job.Key,
		&job.Kind,
		&payloadRaw,
		&job.Priority,
		&status,
		&job.Attempts,
		&lastError,
		&createdAtRaw,
		&updatedAtRaw,
		&finishedAtRaw,
	); err != nil {
		return nil, err
	}

	job.Status = dispatch.Status(status)
	job.LastError = lastError.String

	if payloadRaw.Valid && payloadRaw.String != "" {
		var payload map[string]any
		if err := json.Unmarshal([]byte(payloadRaw.String), &payload); err == nil {
			job.Payload = payload
		}
	}

	var err error
	if job.CreatedAt, err = parseTimeString(createdAtRaw); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if job.UpdatedAt, err = parseTimeString(updatedAtRaw); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if finishedAtRaw.Valid && finishedAtRaw.String != "" {
		if t, perr := parseTimeString(finishedAtRaw.String); perr == nil {
			job.FinishedAt = &t
		}
	}

	return &job, nil
}
