package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

// TestImpact_SingleRecursiveQuery confirms Impact issues exactly one
// query (the recursive CTE) regardless of fan-out depth, never a
// per-node follow-up query (spec §4.6, §9).
func TestImpact_SingleRecursiveQuery(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	s := &Store{db: db, testPath: DefaultTestPathPredicate}

	rows := sqlmock.NewRows([]string{"depth", "from_fqn", "kind", "name", "file_path", "relation"}).
		AddRow(0, "com.acme.Caller", "method", "doThing", "src/main/java/com/acme/Caller.java", "calls").
		AddRow(1, "com.acme.CallerTest", "method", "testDoThing", "src/test/java/com/acme/CallerTest.java", "calls")
	mock.ExpectQuery(`WITH RECURSIVE chain`).
		WithArgs("com.acme.Target", 2, 1000).
		WillReturnRows(rows)

	callers, err := s.Impact(context.Background(), "com.acme.Target", 2, 0)
	require.NoError(t, err)
	require.Len(t, callers, 2)
	require.False(t, callers[0].IsTest)
	require.True(t, callers[1].IsTest)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTestMapping_FiltersToTestCallersOnly(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	s := &Store{db: db, testPath: DefaultTestPathPredicate}

	rows := sqlmock.NewRows([]string{"depth", "from_fqn", "kind", "name", "file_path", "relation"}).
		AddRow(0, "com.acme.Caller", "method", "doThing", "src/main/java/com/acme/Caller.java", "calls").
		AddRow(1, "com.acme.CallerTest", "method", "testDoThing", "src/test/java/com/acme/CallerTest.java", "calls")
	mock.ExpectQuery(`WITH RECURSIVE chain`).
		WithArgs("com.acme.Target", 2, 1000).
		WillReturnRows(rows)

	tests, err := s.GetTestMapping(context.Background(), "com.acme.Target", 2)
	require.NoError(t, err)
	require.Len(t, tests, 1)
	require.Equal(t, "com.acme.CallerTest", tests[0].FromFQN)
}
