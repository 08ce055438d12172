package rebuild

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"ariadne/internal/store"
)

// TestRebuildFull_SwapsAtomically drives the protocol against real files
// in a temp directory: a populate function writes one symbol, the
// integrity suite passes, and the swap leaves exactly the serving path
// populated with the new data plus a backup of the old one.
func TestRebuildFull_SwapsAtomically(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "graph.db")

	// Seed an existing "current" database so the swap has something to
	// back up.
	oldStore, err := store.Open(dbPath, store.Options{})
	require.NoError(t, err)
	require.NoError(t, oldStore.UpsertSymbols(context.Background(), []store.Symbol{
		{FQN: "com.acme.Old", Kind: store.KindClass, Name: "Old", FilePath: "Old.class"},
	}))
	require.NoError(t, oldStore.Close())

	populate := func(ctx context.Context, s *store.Store) error {
		return s.UpsertSymbols(ctx, []store.Symbol{
			{FQN: "com.acme.New", Kind: store.KindClass, Name: "New", FilePath: "New.class"},
		})
	}

	r := New(dbPath, Options{MinSymbolCount: 1, Populate: populate})
	ctx := WithTimestamp(context.Background(), "20260731T000000")

	report, err := r.RebuildFull(ctx)
	require.NoError(t, err)
	require.True(t, report.Passed)
	require.Equal(t, 1, report.SymbolCount)

	require.FileExists(t, dbPath)
	require.NoFileExists(t, filepath.Join(dir, "graph.db.tmp_swap"))
	require.FileExists(t, filepath.Join(dir, "graph.db.backup.20260731T000000"))

	served, err := store.Open(dbPath, store.Options{})
	require.NoError(t, err)
	defer served.Close()

	sym, err := served.GetSymbol(context.Background(), "com.acme.New")
	require.NoError(t, err)
	require.Equal(t, "com.acme.New", sym.FQN)

	_, err = served.GetSymbol(context.Background(), "com.acme.Old")
	require.Error(t, err)
}

// TestRebuildFull_IntegrityFailureLeavesCurrentUntouched confirms a
// failing integrity check (symbol count below floor) deletes the
// half-built new_db and never swaps it in.
func TestRebuildFull_IntegrityFailureLeavesCurrentUntouched(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "graph.db")

	seed, err := store.Open(dbPath, store.Options{})
	require.NoError(t, err)
	require.NoError(t, seed.UpsertSymbols(context.Background(), []store.Symbol{
		{FQN: "com.acme.Stable", Kind: store.KindClass, Name: "Stable", FilePath: "Stable.class"},
	}))
	require.NoError(t, seed.Close())

	populate := func(ctx context.Context, s *store.Store) error { return nil } // writes nothing

	r := New(dbPath, Options{MinSymbolCount: 1, Populate: populate})
	ctx := WithTimestamp(context.Background(), "20260731T010000")

	report, err := r.RebuildFull(ctx)
	require.Error(t, err)
	require.NotNil(t, report)
	require.False(t, report.Passed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.NotContains(t, e.Name(), ".new.")
	}

	current, err := store.Open(dbPath, store.Options{})
	require.NoError(t, err)
	defer current.Close()
	sym, err := current.GetSymbol(context.Background(), "com.acme.Stable")
	require.NoError(t, err)
	require.Equal(t, "com.acme.Stable", sym.FQN)
}

// TestRecoverOnStartup_FromTmpSwap exercises the highest-priority
// recovery path: a tmp_swap left behind by a crash after current moved to
// backup and before the final rename, with no current present, is
// promoted to current.
func TestRecoverOnStartup_FromTmpSwap(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "graph.db")
	tmpSwapPath := dbPath + ".tmp_swap"

	require.NoError(t, os.WriteFile(tmpSwapPath, []byte("sqlite-bytes"), 0o644))

	require.NoError(t, RecoverOnStartup(dbPath))

	require.FileExists(t, dbPath)
	require.NoFileExists(t, tmpSwapPath)
}

// TestRecoverOnStartup_NoStateIsNoop confirms a clean startup with an
// existing current database and nothing beside it leaves current in place.
func TestRecoverOnStartup_NoStateIsNoop(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "graph.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("sqlite-bytes"), 0o644))

	require.NoError(t, RecoverOnStartup(dbPath))
	require.FileExists(t, dbPath)
}

// TestRecoverOnStartup_FatalWhenNothingToRecover confirms the absence of
// current, tmp_swap, backup, and new_db is a fatal SwapIncomplete, never
// a silent success.
func TestRecoverOnStartup_FatalWhenNothingToRecover(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "graph.db")

	err := RecoverOnStartup(dbPath)
	require.Error(t, err)
}
