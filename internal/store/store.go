package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"ariadne/internal/errkind"
	"ariadne/internal/llm"
	"ariadne/internal/logging"

	_ "modernc.org/sqlite"
)

var errNoEmbedder = errors.New("store: no embedder configured")

// TestPathPredicate classifies a file path as belonging to a test source
// set. The exact heuristic is a policy choice left pluggable rather than
// hard-coded (spec open question): callers may substitute their own.
type TestPathPredicate func(filePath string) bool

// DefaultTestPathPredicate matches Maven/Gradle-style layouts.
func DefaultTestPathPredicate(filePath string) bool {
	return containsAny(filePath, "/test/", "/tests/", "Test.java", "Tests.java", "IT.java")
}

// NewForTest wraps an already-open *sql.DB (typically a go-sqlmock
// connection) in a Store without running migrations or pragma setup,
// for unit tests in other packages that need a Store backed by mocked
// expectations rather than a real SQLite file.
func NewForTest(db *sql.DB) *Store {
	return &Store{db: db, testPath: DefaultTestPathPredicate}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(sub) <= len(s) && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	n, m := len(s), len(sub)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}

// Store is the relational + vector persistence layer. One Store wraps one
// *sql.DB; the driver (modernc.org/sqlite, a pure-Go build with no cgo
// toolchain requirement) manages its own per-goroutine connection
// checkout from the pool, so Store itself holds no mutable shared
// connection — this is what permits the summariser's worker pool to write
// concurrently (spec §4.2).
type Store struct {
	db   *sql.DB
	path string

	embedder  llm.Embedder
	testPath  TestPathPredicate

	mu sync.RWMutex
}

// Options configures Open.
type Options struct {
	// BusyTimeoutMS is the SQLite busy_timeout in milliseconds. Must be at
	// least 30000 per spec §4.2; defaults to 30000 if zero.
	BusyTimeoutMS int
	// TestPathPredicate overrides DefaultTestPathPredicate.
	TestPathPredicate TestPathPredicate
}

// Open opens (creating if absent) the relational store at path, applies
// pending migrations, and registers the vec0-compatible virtual table for
// embeddings. The returned Store is safe for concurrent use.
func Open(path string, opts Options) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	busyTimeout := opts.BusyTimeoutMS
	if busyTimeout == 0 {
		busyTimeout = 30000
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		path, busyTimeout)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errkind.New(errkind.StoreIntegrityError, path, fmt.Errorf("opening database: %w", err))
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errkind.New(errkind.StoreIntegrityError, path, fmt.Errorf("pinging database: %w", err))
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	testPath := opts.TestPathPredicate
	if testPath == nil {
		testPath = DefaultTestPathPredicate
	}

	s := &Store{db: db, path: path, testPath: testPath}

	if n, err := s.ReconcileVectors(context.Background()); err != nil {
		logging.Warnf(logging.CategoryStore, "reconcile_vectors on open failed: %v", err)
	} else if n > 0 {
		logging.Infof(logging.CategoryStore, "reconciled %d pending vector(s) on open", n)
	}

	return s, nil
}

// SetEmbedder installs the Embedder used by dual-write paths. Store
// methods that need an embedding return errkind.VectorFailure if none is
// set and one is required.
func (s *Store) SetEmbedder(e llm.Embedder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embedder = e
}

func (s *Store) getEmbedder() llm.Embedder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.embedder
}

// DB exposes the underlying *sql.DB for components (C6 query engine) that
// need to issue raw recursive-CTE SQL directly rather than through a
// dedicated method.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the filesystem path the store was opened from.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func jsonMarshalString(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
