package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

// TestAcquireJob_RaceLoses exercises the TOCTOU-free conditional UPDATE
// (spec §4.7/§9): a second acquirer racing against an already-running job
// gets RowsAffected==0 and a ConcurrencyConflict, never a silent success.
func TestAcquireJob_RaceLoses(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	s := &Store{db: db}

	mock.ExpectExec(`UPDATE jobs SET status='running'.*WHERE job_id=\? AND status='pending'`).
		WithArgs(sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err = s.AcquireJob(context.Background(), "job-1")
	require.Error(t, err)
}

func TestAcquireJob_Succeeds(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	s := &Store{db: db}

	mock.ExpectExec(`UPDATE jobs SET status='running'.*WHERE job_id=\? AND status='pending'`).
		WithArgs(sqlmock.AnyArg(), "job-2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rows := sqlmock.NewRows([]string{"job_id", "status", "created_at", "started_at", "finished_at", "payload", "error"}).
		AddRow("job-2", "running", time.Now(), time.Now(), nil, []byte("{}"), "")
	mock.ExpectQuery(`SELECT job_id, status, created_at, started_at, finished_at, payload, COALESCE\(error, ''\)\s+FROM jobs WHERE job_id = \?`).
		WithArgs("job-2").
		WillReturnRows(rows)

	job, err := s.AcquireJob(context.Background(), "job-2")
	require.NoError(t, err)
	require.Equal(t, JobRunning, job.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailJob_RecordsErrorMessage(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	s := &Store{db: db}
	mock.ExpectExec(`UPDATE jobs SET status=\?, finished_at=\?, error=\? WHERE job_id=\?`).
		WithArgs(string(JobFailed), sqlmock.AnyArg(), "boom", "job-3").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.FailJob(context.Background(), "job-3", "boom"))
	require.NoError(t, mock.ExpectationsWereMet())
}
