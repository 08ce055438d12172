// Package incremental drives the one-shot incremental-rebuild algorithm:
// resolving changed classfiles, marking the affected symbol set stale in
// one atomic write, re-running the analyser on changed files, and handing
// the affected set to the summariser for re-summarisation.
package incremental

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"ariadne/internal/errkind"
	"ariadne/internal/logging"
	"ariadne/internal/store"
)

// AnalyseFunc runs the classfile analyser (C1) against one path and
// returns the nodes/edges it extracted, expressed in store-shaped types so
// this package stays decoupled from the analyser's own node/edge
// representation.
type AnalyseFunc func(ctx context.Context, path string) ([]store.Symbol, []store.Edge, error)

// SummariseFunc hands a set of affected fqns to the summariser (C5).
type SummariseFunc func(ctx context.Context, fqns []string) error

// ChangeDetector resolves the set of classfile paths that changed since
// the last build. The exact strategy (content hash vs VCS diff) is a
// configurable policy, not hard-coded here.
type ChangeDetector interface {
	Changed(ctx context.Context) ([]string, error)
}

// Coordinator drives one run of the incremental-rebuild algorithm.
type Coordinator struct {
	store     *store.Store
	detector  ChangeDetector
	analyse   AnalyseFunc
	summarise SummariseFunc
}

// New builds a Coordinator.
func New(s *store.Store, detector ChangeDetector, analyse AnalyseFunc, summarise SummariseFunc) *Coordinator {
	return &Coordinator{store: s, detector: detector, analyse: analyse, summarise: summarise}
}

// Result reports per-fqn outcomes of one incremental run.
type Result struct {
	ChangedFiles  []string
	ChangedFQNs   []string
	AffectedFQNs  []string
	MarkedStale   int
	ReextractErrs map[string]error // keyed by file path
}

// Run executes the algorithm from spec §4.4:
//  1. resolve changed classfile paths
//  2. query symbols whose file_path is in changed -> changed_fqns
//  3. compute dependents = 1-hop callers of each changed fqn
//  4. affected = changed_fqns ∪ dependents ∪ {parent_fqn of each changed fqn}
//  5. mark_stale(affected) in one transaction (the only staleness write)
//  6. re-run C1 on changed files, upserting via conflict-on-unique-key
//  7. invoke C5 on affected, which performs its own re-fetch check
//
// Run([]) is a no-op returning zero counts, matching the idempotence
// property in spec §8.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryIncremental, "Run")
	defer timer.Stop()

	changed, err := c.detector.Changed(ctx)
	if err != nil {
		return nil, errkind.New(errkind.StoreIntegrityError, "", fmt.Errorf("change detection: %w", err))
	}
	result := &Result{ChangedFiles: changed, ReextractErrs: make(map[string]error)}
	if len(changed) == 0 {
		return result, nil
	}

	changedSymbols, err := c.store.SymbolsByFilePaths(ctx, changed)
	if err != nil {
		return nil, err
	}
	changedFQNs := make([]string, 0, len(changedSymbols))
	parentFQNs := make(map[string]bool)
	for _, sym := range changedSymbols {
		changedFQNs = append(changedFQNs, sym.FQN)
		if sym.ParentFQN != "" {
			parentFQNs[sym.ParentFQN] = true
		}
	}
	result.ChangedFQNs = changedFQNs

	dependents := make(map[string]bool)
	for _, fqn := range changedFQNs {
		callers, err := c.store.CallersOf(ctx, fqn)
		if err != nil {
			return nil, err
		}
		for _, caller := range callers {
			dependents[caller] = true
		}
	}

	affectedSet := make(map[string]bool)
	for _, fqn := range changedFQNs {
		affectedSet[fqn] = true
	}
	for fqn := range dependents {
		affectedSet[fqn] = true
	}
	for fqn := range parentFQNs {
		affectedSet[fqn] = true
	}

	affected := make([]string, 0, len(affectedSet))
	for fqn := range affectedSet {
		affected = append(affected, fqn)
	}
	result.AffectedFQNs = affected

	n, err := c.store.MarkStale(ctx, affected)
	if err != nil {
		return nil, err
	}
	result.MarkedStale = n

	for _, path := range changed {
		if c.analyse == nil {
			continue
		}
		nodes, edges, err := c.analyse(ctx, path)
		if err != nil {
			result.ReextractErrs[path] = err
			logging.Warnf(logging.CategoryIncremental, "re-extraction failed for %s: %v", path, err)
			continue
		}
		if err := c.store.UpsertSymbols(ctx, nodes); err != nil {
			result.ReextractErrs[path] = err
			continue
		}
		classFQNs := make([]string, 0, len(nodes))
		for _, n := range nodes {
			classFQNs = append(classFQNs, n.FQN)
		}
		if err := c.store.EdgesForClass(ctx, classFQNs, edges); err != nil {
			result.ReextractErrs[path] = err
			continue
		}
	}

	if c.summarise != nil && len(affected) > 0 {
		if err := c.summarise(ctx, affected); err != nil {
			return result, errkind.New(errkind.StoreIntegrityError, "", fmt.Errorf("summarise affected set: %w", err))
		}
	}

	return result, nil
}

// ContentHashDetector resolves changed files by comparing each candidate
// path's SHA-256 against the file_path -> hash map it was built from on
// the previous run (e.g. stored alongside the database or recomputed from
// the prior snapshot). It is one concrete ChangeDetector; a VCS-diff
// based one can implement the same interface.
type ContentHashDetector struct {
	Candidates []string
	PrevHashes map[string]string
}

func (d *ContentHashDetector) Changed(ctx context.Context) ([]string, error) {
	var out []string
	for _, path := range d.Candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		sum := sha256.Sum256(data)
		hash := hex.EncodeToString(sum[:])
		if d.PrevHashes[path] != hash {
			out = append(out, path)
		}
	}
	return out, nil
}
