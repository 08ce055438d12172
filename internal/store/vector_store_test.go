package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

// TestCreateSummaryWithVector_RollbackRecordsPendingVector implements spec
// §8 S4: the vector write succeeds, the relational insert then fails, and
// the compensating vector delete also fails — the orphan must be tracked
// in pending_vectors via a fresh connection, not silently dropped.
func TestCreateSummaryWithVector_RollbackRecordsPendingVector(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	s := &Store{db: db, testPath: DefaultTestPathPredicate}

	mock.ExpectExec(`INSERT INTO vectors`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO vec_index`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO summaries`).
		WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	mock.ExpectExec(`DELETE FROM vectors WHERE vector_id = \?`).
		WillReturnError(fmt.Errorf("connection reset"))

	mock.ExpectExec(`INSERT INTO pending_vectors \(vector_id, target_fqn, reason\) VALUES`).
		WithArgs(sqlmock.AnyArg(), "com.acme.Foo#bar()V", "rollback_failed").
		WillReturnResult(sqlmock.NewResult(1, 1))

	_, err = s.CreateSummaryWithVector(context.Background(), "com.acme.Foo#bar()V", LevelMethod, "does a thing", []float32{0.1, 0.2, 0.3})
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVectorDelete_Idempotent(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	s := &Store{db: db}
	mock.ExpectExec(`DELETE FROM vectors WHERE vector_id = \?`).
		WithArgs("does-not-exist").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM vec_index WHERE vector_id = \?`).
		WithArgs("does-not-exist").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.VectorDelete(context.Background(), "does-not-exist"))
	require.NoError(t, mock.ExpectationsWereMet())
}
