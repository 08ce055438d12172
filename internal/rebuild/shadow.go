// Package rebuild implements the shadow full-rebuild protocol: building a
// fresh database alongside the live one and swapping them in atomically,
// so the serving database is never destroyed mid-rebuild.
package rebuild

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"ariadne/internal/errkind"
	"ariadne/internal/logging"
	"ariadne/internal/store"
)

// PopulateFunc builds a fresh store from scratch, driving the classfile
// analyser (C1) and the store's write path (C2). It is supplied by the
// caller (the facade layer) rather than imported directly here, so this
// package stays agnostic of the analyser's dependency surface.
type PopulateFunc func(ctx context.Context, s *store.Store) error

// IntegrityCheck validates a freshly populated database before it is
// allowed to become the serving one. A non-nil error aborts the rebuild.
type IntegrityCheck func(ctx context.Context, s *store.Store) error

// Options configures a Rebuilder.
type Options struct {
	// MinSymbolCount is the floor the built-in integrity suite enforces;
	// zero means no floor is applied.
	MinSymbolCount int
	// BackupRetention is how long completed swap backups are kept before
	// async cleanup removes them. Zero disables cleanup.
	BackupRetention time.Duration
	// Populate drives the bytecode analyser + store writes for a fresh db.
	Populate PopulateFunc
	// ExtraChecks run after the built-in integrity checks.
	ExtraChecks []IntegrityCheck
}

// Rebuilder owns the three-way atomic swap protocol for one database path.
type Rebuilder struct {
	dbPath string
	opts   Options
}

// New builds a Rebuilder for the serving database at dbPath.
func New(dbPath string, opts Options) *Rebuilder {
	return &Rebuilder{dbPath: dbPath, opts: opts}
}

// IntegrityReport summarises the checks run against a freshly built
// database before it replaces the serving one.
type IntegrityReport struct {
	Passed      bool
	SymbolCount int
	EdgeCount   int
	Failures    []string
}

// RebuildFull runs the full shadow-rebuild protocol (spec §4.3):
//  1. build new_db = <db>.new.<ts> from scratch via Populate
//  2. run the integrity suite against it; abort and delete new_db on failure
//  3. three-way atomic swap: new_db -> tmp_swap -> (current -> backup) -> current
func (r *Rebuilder) RebuildFull(ctx context.Context) (*IntegrityReport, error) {
	timer := logging.StartTimer(logging.CategoryRebuild, "RebuildFull")
	defer timer.Stop()

	ts := stampFromContext(ctx)
	newDBPath := fmt.Sprintf("%s.new.%s", r.dbPath, ts)

	report, err := r.buildAndCheck(ctx, newDBPath)
	if err != nil {
		os.Remove(newDBPath)
		removeSQLiteSidecars(newDBPath)
		return nil, err
	}
	if !report.Passed {
		os.Remove(newDBPath)
		removeSQLiteSidecars(newDBPath)
		return report, errkind.New(errkind.StoreIntegrityError, newDBPath, fmt.Errorf("integrity suite failed: %s", strings.Join(report.Failures, "; ")))
	}

	if err := r.swap(newDBPath, ts); err != nil {
		return report, err
	}

	if r.opts.BackupRetention > 0 {
		go r.cleanupOldBackups(r.opts.BackupRetention)
	}

	return report, nil
}

func (r *Rebuilder) buildAndCheck(ctx context.Context, newDBPath string) (*IntegrityReport, error) {
	s, err := store.Open(newDBPath, store.Options{})
	if err != nil {
		return nil, errkind.New(errkind.StoreIntegrityError, newDBPath, fmt.Errorf("creating shadow db: %w", err))
	}
	defer s.Close()

	if r.opts.Populate != nil {
		if err := r.opts.Populate(ctx, s); err != nil {
			return nil, errkind.New(errkind.StoreIntegrityError, newDBPath, fmt.Errorf("populate: %w", err))
		}
	}

	return r.runIntegritySuite(ctx, s)
}

// runIntegritySuite checks: symbol count against a configurable floor, no
// orphaned edges, and FK check passes, then runs opts.ExtraChecks (spec
// §4.3 step 2). It does not check staleness counts.
func (r *Rebuilder) runIntegritySuite(ctx context.Context, s *store.Store) (*IntegrityReport, error) {
	report := &IntegrityReport{Passed: true}

	var symbolCount int
	if err := s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM symbols").Scan(&symbolCount); err != nil {
		return nil, errkind.New(errkind.StoreIntegrityError, "", err)
	}
	report.SymbolCount = symbolCount
	if r.opts.MinSymbolCount > 0 && symbolCount < r.opts.MinSymbolCount {
		report.Passed = false
		report.Failures = append(report.Failures, fmt.Sprintf("symbol count %d below floor %d", symbolCount, r.opts.MinSymbolCount))
	}

	var edgeCount int
	if err := s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM edges").Scan(&edgeCount); err != nil {
		return nil, errkind.New(errkind.StoreIntegrityError, "", err)
	}
	report.EdgeCount = edgeCount

	var orphanedEdges int
	err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM edges e
		LEFT JOIN symbols sf ON sf.fqn = e.from_fqn
		LEFT JOIN symbols st ON st.fqn = e.to_fqn
		WHERE sf.fqn IS NULL OR st.fqn IS NULL`).Scan(&orphanedEdges)
	if err != nil {
		return nil, errkind.New(errkind.StoreIntegrityError, "", err)
	}
	if orphanedEdges > 0 {
		report.Passed = false
		report.Failures = append(report.Failures, fmt.Sprintf("%d orphaned edges", orphanedEdges))
	}

	var fkViolations int
	fkRows, err := s.DB().QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return nil, errkind.New(errkind.StoreIntegrityError, "", err)
	}
	for fkRows.Next() {
		fkViolations++
	}
	fkRows.Close()
	if fkViolations > 0 {
		report.Passed = false
		report.Failures = append(report.Failures, fmt.Sprintf("%d foreign key violations", fkViolations))
	}

	for _, check := range r.opts.ExtraChecks {
		if err := check(ctx, s); err != nil {
			report.Passed = false
			report.Failures = append(report.Failures, err.Error())
		}
	}

	return report, nil
}

// swap performs the three-way atomic replace (spec §4.3 step 3):
//
//	new_db          -> current.tmp_swap
//	current (if any)-> current.backup.<ts>
//	current.tmp_swap-> current
//
// os.Rename is POSIX atomic-replace when source and destination share a
// filesystem, which is the property this protocol depends on; a plain
// rename alone is not enough (spec §9) because a crash between steps
// must still leave one fully valid database reachable at a known path —
// that property comes from doing the move in this specific three-step
// order, not from any single rename call.
func (r *Rebuilder) swap(newDBPath, ts string) error {
	tmpSwapPath := r.dbPath + ".tmp_swap"
	backupPath := fmt.Sprintf("%s.backup.%s", r.dbPath, ts)

	if err := atomicReplace(newDBPath, tmpSwapPath); err != nil {
		return errkind.New(errkind.SwapIncomplete, r.dbPath, fmt.Errorf("new_db -> tmp_swap: %w", err))
	}

	if _, err := os.Stat(r.dbPath); err == nil {
		if err := atomicReplace(r.dbPath, backupPath); err != nil {
			return errkind.New(errkind.SwapIncomplete, r.dbPath, fmt.Errorf("current -> backup: %w", err))
		}
	}

	if err := atomicReplace(tmpSwapPath, r.dbPath); err != nil {
		return errkind.New(errkind.SwapIncomplete, r.dbPath, fmt.Errorf("tmp_swap -> current: %w", err))
	}

	return nil
}

// atomicReplace moves src to dst, overwriting dst if present, and also
// moves sqlite's -wal/-shm sidecar files when they exist so a WAL-mode
// database swaps as one consistent unit.
func atomicReplace(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		return err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if _, err := os.Stat(src + suffix); err == nil {
			os.Rename(src+suffix, dst+suffix)
		}
	}
	return nil
}

func removeSQLiteSidecars(path string) {
	os.Remove(path + "-wal")
	os.Remove(path + "-shm")
}

// RecoverOnStartup implements the swap-recovery check (spec §4.3 step 4):
// if current is missing but tmp_swap or a backup exists, promote one of
// them to current. Step-3 failures are recovered in order: tmp_swap first
// (it's closest to being "the new db"), then the most recent backup, then
// the leftover new_db if somehow that alone survived. The promoted file is
// not opened or integrity-checked before it becomes current.
func RecoverOnStartup(dbPath string) error {
	if _, err := os.Stat(dbPath); err == nil {
		// current exists; a tmp_swap beside it is left by a swap
		// interrupted after its first rename and before current moved to
		// backup, so current is still the serving db and tmp_swap is
		// discarded.
		os.Remove(dbPath + ".tmp_swap")
		return nil
	}

	tmpSwapPath := dbPath + ".tmp_swap"
	if _, err := os.Stat(tmpSwapPath); err == nil {
		logging.Warnf(logging.CategoryRebuild, "recovering %s from tmp_swap after incomplete swap", dbPath)
		return atomicReplace(tmpSwapPath, dbPath)
	}

	backups, err := listBackups(dbPath)
	if err != nil {
		return errkind.New(errkind.SwapIncomplete, dbPath, err)
	}
	if len(backups) > 0 {
		latest := backups[len(backups)-1]
		logging.Warnf(logging.CategoryRebuild, "recovering %s from backup %s after incomplete swap", dbPath, latest)
		return atomicReplace(latest, dbPath)
	}

	newDBs, err := listNewDBs(dbPath)
	if err != nil {
		return errkind.New(errkind.SwapIncomplete, dbPath, err)
	}
	if len(newDBs) > 0 {
		latest := newDBs[len(newDBs)-1]
		logging.Warnf(logging.CategoryRebuild, "recovering %s from leftover new_db %s as last resort", dbPath, latest)
		return atomicReplace(latest, dbPath)
	}

	return errkind.New(errkind.SwapIncomplete, dbPath, fmt.Errorf("no current, tmp_swap, backup, or new_db found; operator intervention required"))
}

func listBackups(dbPath string) ([]string, error) {
	dir := filepath.Dir(dbPath)
	base := filepath.Base(dbPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	prefix := base + ".backup."
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func listNewDBs(dbPath string) ([]string, error) {
	dir := filepath.Dir(dbPath)
	base := filepath.Base(dbPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	prefix := base + ".new."
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// cleanupOldBackups removes backup files older than retention. Runs
// asynchronously after a successful swap so it never delays serving the
// new database (spec §4.3 step 5).
func (r *Rebuilder) cleanupOldBackups(retention time.Duration) {
	backups, err := listBackups(r.dbPath)
	if err != nil {
		logging.Warnf(logging.CategoryRebuild, "cleanup: listing backups failed: %v", err)
		return
	}
	cutoff := time.Now().Add(-retention)
	for _, b := range backups {
		info, err := os.Stat(b)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(b); err != nil {
				logging.Warnf(logging.CategoryRebuild, "cleanup: removing %s failed: %v", b, err)
			}
		}
	}
}

// stampFromContext extracts a caller-supplied timestamp string for the
// sibling-file naming scheme. Time.Now is intentionally not called
// directly from the rebuild protocol so sibling-file names stay
// deterministic when a caller (e.g. a test) supplies one.
type timestampKey struct{}

// WithTimestamp attaches an explicit timestamp string to ctx for
// RebuildFull's sibling-file naming, overriding the real-time default.
func WithTimestamp(ctx context.Context, ts string) context.Context {
	return context.WithValue(ctx, timestampKey{}, ts)
}

func stampFromContext(ctx context.Context) string {
	if ts, ok := ctx.Value(timestampKey{}).(string); ok && ts != "" {
		return ts
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
