package store

import (
	"context"

	"ariadne/internal/errkind"
)

// CallerNode is one row of an impact/call-chain traversal result.
type CallerNode struct {
	Depth      int
	FromFQN    string
	CallerKind string
	CallerName string
	FilePath   string
	Relation   string
	IsTest     bool
}

// impactQuery is the single recursive CTE answering "who calls target up
// to depth D". It is deliberately one query rather than a per-node BFS
// loop issued from Go: an N+1 pattern here would blow the depth-D latency
// budget in spec §4.6 the moment the fan-out gets wide. GROUP BY from_fqn
// with MIN(depth) keeps only the shortest depth at which a caller is
// reached, and the depth bound ends the recursion, which is how cycles are
// handled without special-casing them.
const impactQuery = `
WITH RECURSIVE chain(depth, from_fqn, to_fqn, relation) AS (
	SELECT 0, e.from_fqn, e.to_fqn, e.relation
	FROM edges e
	WHERE e.to_fqn = ? AND e.relation = 'calls'
	UNION
	SELECT c.depth + 1, e.from_fqn, e.to_fqn, e.relation
	FROM chain c
	JOIN edges e ON e.to_fqn = c.from_fqn AND e.relation = 'calls'
	WHERE c.depth + 1 < ?
)
SELECT MIN(chain.depth) AS depth, chain.from_fqn, s.kind, s.name, s.file_path, chain.relation
FROM chain
JOIN symbols s ON s.fqn = chain.from_fqn
GROUP BY chain.from_fqn
ORDER BY depth ASC, chain.from_fqn ASC
LIMIT ?`

// Impact returns, for each caller of target within depth hops, the
// shallowest depth at which it reaches target, via one recursive CTE.
// limit bounds the result set size to protect memory on pathological
// fan-out (spec §4.6).
func (s *Store) Impact(ctx context.Context, target string, depth, limit int) ([]CallerNode, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, impactQuery, target, depth, limit)
	if err != nil {
		return nil, errkind.New(errkind.StoreIntegrityError, target, err)
	}
	defer rows.Close()

	var out []CallerNode
	for rows.Next() {
		var n CallerNode
		if err := rows.Scan(&n.Depth, &n.FromFQN, &n.CallerKind, &n.CallerName, &n.FilePath, &n.Relation); err != nil {
			return nil, err
		}
		n.IsTest = s.testPath(n.FilePath)
		out = append(out, n)
	}
	return out, rows.Err()
}

// CallChain is an alias for Impact kept as a distinct name on the public
// surface because spec §6 exposes call_chain(fqn, depth) and
// impact(fqn, depth) as two operations; today they share one
// implementation since both are reverse-call traversals from a target.
func (s *Store) CallChain(ctx context.Context, target string, depth, limit int) ([]CallerNode, error) {
	return s.Impact(ctx, target, depth, limit)
}

// forwardImpactQuery answers "what does target call, transitively" — the
// mirror traversal, walking outward from a symbol instead of inward to a
// target. No method in this package runs it.
const forwardImpactQuery = `
WITH RECURSIVE chain(depth, from_fqn, to_fqn, relation) AS (
	SELECT 0, e.from_fqn, e.to_fqn, e.relation
	FROM edges e
	WHERE e.from_fqn = ? AND e.relation = 'calls'
	UNION
	SELECT c.depth + 1, e.from_fqn, e.to_fqn, e.relation
	FROM chain c
	JOIN edges e ON e.from_fqn = c.to_fqn AND e.relation = 'calls'
	WHERE c.depth + 1 < ?
)
SELECT MIN(chain.depth) AS depth, chain.to_fqn, s.kind, s.name, s.file_path, chain.relation
FROM chain
JOIN symbols s ON s.fqn = chain.to_fqn
GROUP BY chain.to_fqn
ORDER BY depth ASC, chain.to_fqn ASC
LIMIT ?`

// GetTestMapping reports which of target's (within depth) reverse callers
// are test code, using the predicate injected at Open (the exact
// test-file heuristic is a pluggable policy choice per spec §9).
func (s *Store) GetTestMapping(ctx context.Context, target string, depth int) ([]CallerNode, error) {
	callers, err := s.Impact(ctx, target, depth, 0)
	if err != nil {
		return nil, err
	}
	var tests []CallerNode
	for _, c := range callers {
		if c.IsTest {
			tests = append(tests, c)
		}
	}
	return tests, nil
}

// Coverage reports the fraction of target's reverse callers (within
// depth) that are test code, piggy-backing on the same CTE used for
// Impact rather than issuing one get_test_mapping call per caller
// (spec §4.6).
type CoverageReport struct {
	TotalCallers int
	TestCallers  int
	Ratio        float64
}

func (s *Store) Coverage(ctx context.Context, target string, depth int) (*CoverageReport, error) {
	callers, err := s.Impact(ctx, target, depth, 0)
	if err != nil {
		return nil, err
	}
	report := &CoverageReport{TotalCallers: len(callers)}
	for _, c := range callers {
		if c.IsTest {
			report.TestCallers++
		}
	}
	if report.TotalCallers > 0 {
		report.Ratio = float64(report.TestCallers) / float64(report.TotalCallers)
	}
	return report, nil
}

// SearchResult is one hit from Search.
type SearchResult struct {
	TargetFQN string
	Level     SummaryLevel
	Text      string
	Distance  float64
}

// Search performs semantic search over summaries via the configured
// Embedder and the vector store's cosine distance search.
func (s *Store) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	embedder := s.getEmbedder()
	if embedder == nil {
		return nil, errkind.New(errkind.VectorFailure, "", errNoEmbedder)
	}
	vec, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, errkind.New(errkind.VectorFailure, "", err)
	}
	matches, err := s.VectorSearch(ctx, vec, k)
	if err != nil {
		return nil, err
	}

	var out []SearchResult
	for _, m := range matches {
		targetFQN, _ := m.Metadata["target_fqn"].(string)
		level, _ := m.Metadata["level"].(string)
		if targetFQN == "" {
			continue
		}
		out = append(out, SearchResult{TargetFQN: targetFQN, Level: SummaryLevel(level), Text: m.Content, Distance: m.Distance})
	}
	return out, nil
}
