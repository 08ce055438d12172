package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

// TestMarkStale_SingleBatchUpdate pins down spec §4.2: marking a set of
// fqns stale is one batch UPDATE, not one statement per fqn.
func TestMarkStale_SingleBatchUpdate(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	s := &Store{db: db}

	mock.ExpectExec(`UPDATE summaries SET is_stale = \? WHERE target_fqn IN \(\?,\?,\?\)`).
		WithArgs(1, "com.acme.A", "com.acme.B", "com.acme.C").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.MarkStale(context.Background(), []string{"com.acme.A", "com.acme.B", "com.acme.C"})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkStale_Empty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := &Store{db: db}
	n, err := s.MarkStale(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
