package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

var errConstraint = fmt.Errorf("UNIQUE constraint failed: symbols.fqn")

// TestUpsertSymbols_ConflictIsUpdateNotDelete pins down spec §9's
// invariant: a re-extracted symbol is an INSERT ... ON CONFLICT DO
// UPDATE, never a DELETE followed by a fresh INSERT, since the latter
// would cascade-delete dependent edges/summaries/entry points.
func TestUpsertSymbols_ConflictIsUpdateNotDelete(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	s := &Store{db: db}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO symbols .* ON CONFLICT\(fqn\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err = s.UpsertSymbols(context.Background(), []Symbol{
		{FQN: "com.acme.Foo", Kind: KindClass, Name: "Foo", FilePath: "Foo.class"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSymbols_Empty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := &Store{db: db}
	require.NoError(t, s.UpsertSymbols(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSymbols_RollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	s := &Store{db: db}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO symbols`).WillReturnError(errConstraint)
	mock.ExpectRollback()

	err = s.UpsertSymbols(context.Background(), []Symbol{
		{FQN: "com.acme.Bar", Kind: KindClass, Name: "Bar", FilePath: "Bar.class"},
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
