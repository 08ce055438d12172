package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"ariadne/internal/errkind"
)

// EnqueueJob inserts a job with status=pending and returns its job_id.
func (s *Store) EnqueueJob(ctx context.Context, payload []byte) (string, error) {
	jobID := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `INSERT INTO jobs (job_id, status, payload) VALUES (?, 'pending', ?)`, jobID, payload)
	if err != nil {
		return "", errkind.New(errkind.StoreIntegrityError, jobID, err)
	}
	return jobID, nil
}

// AcquireJob atomically transitions one pending job to running via a
// single conditional UPDATE, avoiding a check-then-update race: two
// workers racing to acquire the same job_id can never both succeed,
// because the WHERE clause re-validates status='pending' at write time
// rather than trusting an earlier read (spec §4.7, §9 TOCTOU note).
//
// modernc.org/sqlite's database/sql driver does not support UPDATE ...
// RETURNING scanned directly from Exec, so acquisition is a conditional
// UPDATE followed by a RowsAffected check, then a read-back — the atomicity
// guarantee comes from the UPDATE's WHERE clause, not from RETURNING.
func (s *Store) AcquireJob(ctx context.Context, jobID string) (*Job, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status='running', started_at=? WHERE job_id=? AND status='pending'`,
		now, jobID)
	if err != nil {
		return nil, errkind.New(errkind.StoreIntegrityError, jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, errkind.New(errkind.ConcurrencyConflict, jobID, sql.ErrNoRows)
	}
	return s.GetJob(ctx, jobID)
}

// CompleteJob marks a job succeeded, recording finished_at unconditionally.
func (s *Store) CompleteJob(ctx context.Context, jobID string) error {
	return s.finishJob(ctx, jobID, JobSucceeded, "")
}

// FailJob marks a job failed with the given error message.
func (s *Store) FailJob(ctx context.Context, jobID, errMsg string) error {
	return s.finishJob(ctx, jobID, JobFailed, errMsg)
}

// CancelJob marks a job cancelled; C3/C4 poll for this between phases.
func (s *Store) CancelJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET status='cancelled' WHERE job_id=?`, jobID)
	if err != nil {
		return errkind.New(errkind.StoreIntegrityError, jobID, err)
	}
	return nil
}

func (s *Store) finishJob(ctx context.Context, jobID string, status JobStatus, errMsg string) error {
	var errVal any
	if errMsg != "" {
		errVal = errMsg
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status=?, finished_at=?, error=? WHERE job_id=?`,
		string(status), time.Now().UTC(), errVal, jobID)
	if err != nil {
		return errkind.New(errkind.StoreIntegrityError, jobID, err)
	}
	return nil
}

// GetJob fetches one job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT job_id, status, created_at, started_at, finished_at, payload, COALESCE(error, '')
		FROM jobs WHERE job_id = ?`, jobID)
	return scanJob(row)
}

func scanJob(row *sql.Row) (*Job, error) {
	var j Job
	var status string
	var startedAt, finishedAt sql.NullTime
	if err := row.Scan(&j.JobID, &status, &j.CreatedAt, &startedAt, &finishedAt, &j.Payload, &j.Error); err != nil {
		return nil, err
	}
	j.Status = JobStatus(status)
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		j.FinishedAt = &finishedAt.Time
	}
	return &j, nil
}

// ListJobsFilter narrows ListJobs results; zero value matches everything.
type ListJobsFilter struct {
	Status JobStatus
}

// ListJobs returns jobs matching filter, most recent first.
func (s *Store) ListJobs(ctx context.Context, filter ListJobsFilter) ([]Job, error) {
	query := `SELECT job_id, status, created_at, started_at, finished_at, payload, COALESCE(error, '') FROM jobs`
	var args []any
	if filter.Status != "" {
		query += " WHERE status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errkind.New(errkind.StoreIntegrityError, "", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var j Job
		var status string
		var startedAt, finishedAt sql.NullTime
		if err := rows.Scan(&j.JobID, &status, &j.CreatedAt, &startedAt, &finishedAt, &j.Payload, &j.Error); err != nil {
			return nil, err
		}
		j.Status = JobStatus(status)
		if startedAt.Valid {
			j.StartedAt = &startedAt.Time
		}
		if finishedAt.Valid {
			j.FinishedAt = &finishedAt.Time
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
