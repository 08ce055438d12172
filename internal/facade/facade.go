// Package facade implements C9: the thin external-facing API surface that
// wires together the analyser (C1), store (C2), shadow rebuilder (C3),
// incremental coordinator (C4), summariser (C5), and the store's own
// query/job surface (C6/C7/C8) into the single entry point spec §6
// describes. It contains no analysis or persistence logic of its own.
package facade

import (
	"context"
	"fmt"

	"ariadne/internal/analyzer"
	"ariadne/internal/errkind"
	"ariadne/internal/incremental"
	"ariadne/internal/llm"
	"ariadne/internal/logging"
	"ariadne/internal/rebuild"
	"ariadne/internal/store"
	"ariadne/internal/summarizer"
)

// Config holds the constructor-level settings spec §1 keeps out of any
// file-format config loader: paths and concurrency caps passed directly by
// the embedding program.
type Config struct {
	DBPath             string
	ProjectRoot        string
	AnalyzeConcurrency int
	RebuildMinSymbols  int
	SummariserOptions  summarizer.Options
	StoreOptions       store.Options
}

// Engine is the facade over the whole module. One Engine wraps one store
// plus the collaborators it was constructed with; HTTP transport, CLI flag
// parsing, and provider implementations live outside this package per
// spec §1's non-goals.
type Engine struct {
	cfg       Config
	store     *store.Store
	analyser  *analyzer.Analyser
	rebuilder *rebuild.Rebuilder
	summer    *summarizer.Summariser
}

// Open wires an Engine from cfg: recovers any incomplete shadow-rebuild
// swap, opens the store, and builds the rebuilder/summariser. summariser
// and embedder may be nil (queries other than Search/summarise work
// regardless — spec §6's "swappable collaborators" note).
func Open(ctx context.Context, cfg Config, llmSummariser llm.Summariser, embedder llm.Embedder, buildPrompt summarizer.PromptBuilder) (*Engine, error) {
	if err := rebuild.RecoverOnStartup(cfg.DBPath); err != nil {
		return nil, fmt.Errorf("recovering startup swap state: %w", err)
	}

	s, err := store.Open(cfg.DBPath, cfg.StoreOptions)
	if err != nil {
		return nil, err
	}
	if embedder != nil {
		s.SetEmbedder(embedder)
	}

	an := analyzer.New()

	e := &Engine{cfg: cfg, store: s, analyser: an}

	e.rebuilder = rebuild.New(cfg.DBPath, rebuild.Options{
		MinSymbolCount: cfg.RebuildMinSymbols,
		Populate:       e.populate,
	})

	if llmSummariser != nil {
		opts := cfg.SummariserOptions
		opts.BuildPrompt = buildPrompt
		e.summer = summarizer.New(s, llmSummariser, embedder, opts)
	}

	return e, nil
}

// Close releases the underlying store handle.
func (e *Engine) Close() error { return e.store.Close() }

// Store exposes the underlying store for callers that need the raw C2/C6/
// C7/C8 surface directly (query/job operations have no facade wrapper
// beyond what's below, since they're already thin reads per spec §6).
func (e *Engine) Store() *store.Store { return e.store }

// populate drives the analyser over the whole project tree into a fresh
// store; used both by ExtractProject and as the ShadowRebuilder's
// PopulateFunc.
func (e *Engine) populate(ctx context.Context, s *store.Store) error {
	result, err := e.analyser.AnalyzeProject(ctx, e.cfg.ProjectRoot, e.cfg.AnalyzeConcurrency)
	if err != nil {
		return err
	}
	if len(result.Failed) > 0 {
		logging.Warnf(logging.CategoryFacade, "%d classfile(s) failed to parse during populate", len(result.Failed))
	}
	if err := s.UpsertSymbols(ctx, result.Nodes); err != nil {
		return err
	}
	if err := s.UpsertEdges(ctx, result.Edges); err != nil {
		return err
	}
	return e.deriveEntryPoints(ctx, s, result.Nodes)
}

// deriveEntryPoints projects the is_entry_point/entry_point_type
// attributes the analyser wrote onto Symbol.Attrs into first-class
// entry_points rows (spec §3: EntryPoint is a distinct entity from
// Symbol, the analyser only tags the bag it can see per-class).
func (e *Engine) deriveEntryPoints(ctx context.Context, s *store.Store, nodes []store.Symbol) error {
	var points []store.EntryPoint
	for _, n := range nodes {
		isEntry, _ := n.Attrs["is_entry_point"].(bool)
		if !isEntry {
			continue
		}
		entryType, _ := n.Attrs["entry_point_type"].(string)
		ep := store.EntryPoint{SymbolFQN: n.FQN, EntryType: store.EntryType(entryType)}
		if cron, ok := n.Attrs["scheduled_cron"].(string); ok {
			ep.CronExpression = cron
		}
		points = append(points, ep)
	}
	if len(points) == 0 {
		return nil
	}
	return s.UpsertEntryPoints(ctx, points)
}

// ExtractProject runs the analyser over cfg.ProjectRoot and writes
// directly into the live store (spec §6's extract_project). For a
// zero-downtime full rebuild, use RebuildFull instead.
func (e *Engine) ExtractProject(ctx context.Context) error {
	return e.populate(ctx, e.store)
}

// RebuildFull runs the shadow-rebuild protocol and, on success, re-opens
// the store at the same path (the swap replaced the underlying file).
func (e *Engine) RebuildFull(ctx context.Context) (*rebuild.IntegrityReport, error) {
	report, err := e.rebuilder.RebuildFull(ctx)
	if err != nil {
		return report, err
	}
	if err := e.store.Close(); err != nil {
		return report, err
	}
	s, err := store.Open(e.cfg.DBPath, e.cfg.StoreOptions)
	if err != nil {
		return report, err
	}
	e.store = s
	return report, nil
}

// RebuildIncremental runs one incremental-coordinator pass over the given
// changed classfile paths (spec §6's rebuild_incremental(changed_files?)).
// A nil/empty detector set is a no-op returning zero counts.
func (e *Engine) RebuildIncremental(ctx context.Context, changedFiles []string) (*incremental.Result, error) {
	detector := incremental.ContentHashDetectorFromPaths(changedFiles)
	coord := incremental.New(e.store, detector, e.analyser.Analyse, e.summariseFunc())
	return coord.Run(ctx)
}

func (e *Engine) summariseFunc() incremental.SummariseFunc {
	if e.summer == nil {
		return nil
	}
	return func(ctx context.Context, fqns []string) error {
		_, err := e.summer.Summarise(ctx, fqns)
		return err
	}
}

// GetSymbol looks up one symbol by fqn.
func (e *Engine) GetSymbol(ctx context.Context, fqn string) (*store.Symbol, error) {
	return e.store.GetSymbol(ctx, fqn)
}

// Search performs semantic search over summaries.
func (e *Engine) Search(ctx context.Context, query string, k int) ([]store.SearchResult, error) {
	return e.store.Search(ctx, query, k)
}

// CallChain returns the reverse call chain into target within depth hops.
func (e *Engine) CallChain(ctx context.Context, fqn string, depth int) ([]store.CallerNode, error) {
	return e.store.CallChain(ctx, fqn, depth, 0)
}

// Impact is an alias exposed distinctly per spec §6, sharing CallChain's
// underlying recursive-CTE traversal.
func (e *Engine) Impact(ctx context.Context, fqn string, depth int) ([]store.CallerNode, error) {
	return e.store.Impact(ctx, fqn, depth, 0)
}

// ListEntryPoints returns entry points, optionally filtered by type.
func (e *Engine) ListEntryPoints(ctx context.Context, entryType store.EntryType) ([]store.EntryPoint, error) {
	return e.store.ListEntryPoints(ctx, store.ListEntryPointsFilter{EntryType: entryType})
}

// GetTestMapping returns target's reverse callers that are test code.
func (e *Engine) GetTestMapping(ctx context.Context, fqn string, depth int) ([]store.CallerNode, error) {
	return e.store.GetTestMapping(ctx, fqn, depth)
}

// Coverage reports the test-caller ratio for target.
func (e *Engine) Coverage(ctx context.Context, fqn string, depth int) (*store.CoverageReport, error) {
	return e.store.Coverage(ctx, fqn, depth)
}

// EnqueueJob persists a new background job and returns its id.
func (e *Engine) EnqueueJob(ctx context.Context, payload []byte) (string, error) {
	return e.store.EnqueueJob(ctx, payload)
}

// GetJob fetches a job by id.
func (e *Engine) GetJob(ctx context.Context, jobID string) (*store.Job, error) {
	return e.store.GetJob(ctx, jobID)
}

// ListJobs lists jobs, optionally filtered by status.
func (e *Engine) ListJobs(ctx context.Context, filter store.ListJobsFilter) ([]store.Job, error) {
	return e.store.ListJobs(ctx, filter)
}

// RunJob acquires jobID and executes fn, recording completion/failure.
// fn is supplied by the caller since the job payload's meaning (full vs
// incremental rebuild, which files) is outside this package's concern.
func (e *Engine) RunJob(ctx context.Context, jobID string, fn func(context.Context, *store.Job) error) error {
	job, err := e.store.AcquireJob(ctx, jobID)
	if err != nil {
		return err
	}
	if err := fn(ctx, job); err != nil {
		if failErr := e.store.FailJob(ctx, jobID, err.Error()); failErr != nil {
			return errkind.New(errkind.StoreIntegrityError, jobID, fmt.Errorf("recording job failure: %w (original: %v)", failErr, err))
		}
		return err
	}
	return e.store.CompleteJob(ctx, jobID)
}
