package incremental

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"ariadne/internal/store"
)

type staticDetectorFixture []string

func (d staticDetectorFixture) Changed(ctx context.Context) ([]string, error) { return d, nil }

// TestRun_Idempotent pins down spec §8's idempotence property: Run with
// nothing changed returns zero counts without touching the store (the
// coordinator here is built with a nil store).
func TestRun_Idempotent(t *testing.T) {
	c := New(nil, staticDetectorFixture(nil), nil, nil)
	result, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, result.MarkedStale)
	require.Empty(t, result.ChangedFQNs)
	require.Empty(t, result.AffectedFQNs)
}

// TestRun_FullAlgorithm exercises the seven-step algorithm from spec §4.4
// against a sqlmock-backed store: one changed file resolves to one
// symbol with a parent and one 1-hop caller, both of which must land in
// the affected set alongside the changed fqn itself, marked stale in one
// batch UPDATE.
func TestRun_FullAlgorithm(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	s := store.NewForTest(db)

	changedPath := "out/com/acme/Foo.class"

	symRows := sqlmock.NewRows([]string{"fqn", "kind", "name", "file_path", "line_number", "modifiers",
		"signature", "parent_fqn", "annotations", "attrs"}).
		AddRow("com.acme.Foo#bar()V", "method", "bar", changedPath, 10, "[]", "()V", "com.acme.Foo", "[]", "{}")
	mock.ExpectQuery(`SELECT fqn, kind, name, file_path, line_number, modifiers, signature, COALESCE\(parent_fqn, ''\), annotations, attrs\s+FROM symbols WHERE file_path IN`).
		WithArgs(changedPath).
		WillReturnRows(symRows)

	mock.ExpectQuery(`SELECT DISTINCT from_fqn FROM edges WHERE to_fqn = \? AND relation = 'calls'`).
		WithArgs("com.acme.Foo#bar()V").
		WillReturnRows(sqlmock.NewRows([]string{"from_fqn"}).AddRow("com.acme.Caller#run()V"))

	mock.ExpectExec(`UPDATE summaries SET is_stale = \? WHERE target_fqn IN`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	analysed := func(ctx context.Context, path string) ([]store.Symbol, []store.Edge, error) {
		require.Equal(t, changedPath, path)
		return []store.Symbol{{FQN: "com.acme.Foo#bar()V", Kind: store.KindMethod, Name: "bar", FilePath: changedPath}}, nil, nil
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO symbols .* ON CONFLICT\(fqn\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM edges WHERE from_fqn = \?`).
		WithArgs("com.acme.Foo#bar()V").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	var summarised []string
	summarise := func(ctx context.Context, fqns []string) error {
		summarised = append(summarised, fqns...)
		return nil
	}

	coord := New(s, staticDetectorFixture([]string{changedPath}), analysed, summarise)
	result, err := coord.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{changedPath}, result.ChangedFiles)
	require.Equal(t, []string{"com.acme.Foo#bar()V"}, result.ChangedFQNs)
	require.ElementsMatch(t, []string{"com.acme.Foo#bar()V", "com.acme.Caller#run()V", "com.acme.Foo"}, result.AffectedFQNs)
	require.Equal(t, 3, result.MarkedStale)
	require.Empty(t, result.ReextractErrs)
	require.ElementsMatch(t, result.AffectedFQNs, summarised)

	require.NoError(t, mock.ExpectationsWereMet())
}
