// Package summarizer implements the bounded-concurrency summary generation
// pool (C5): a worker pool of configurable size that reads symbols,
// assembles prompts, calls an abstract Summariser, and writes results
// through the store's dual-write path, with per-symbol caching, retry, and
// thread-safe stats.
package summarizer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"ariadne/internal/errkind"
	"ariadne/internal/llm"
	"ariadne/internal/logging"
	"ariadne/internal/store"
)

// Outcome is the per-fqn result of a summarise run: exactly one of the
// fields is meaningful for a given fqn (spec §4.5 error taxonomy).
type Outcome struct {
	Summary   string
	ErrorKind string // "", "empty_input", "llm_failure", "store_failure"
	ErrorMsg  string
	Cached    bool
}

// PromptBuilder assembles the prompt for one symbol, given its FQN and any
// already-available dependency summaries. Kept pluggable so the core
// doesn't hard-code a prompt template.
type PromptBuilder func(ctx context.Context, s *store.Store, fqn string) (prompt string, err error)

// Stats is a snapshot of shared counters; callers receive a copy, never a
// pointer into the live struct (spec §4.5, §5: readers take a snapshot).
type Stats struct {
	Total   int
	Success int
	Failed  int
	Cached  int
	Cost    Cost
}

// Cost accumulates estimated LLM spend across a Summariser's lifetime,
// mirrored from the teacher's per-provider token counters
// (internal/usage/usage_types.go's TokenCounts) but kept as a plain running
// total here rather than broken out by provider/model, since this package
// talks to exactly one Summariser/Embedder pair. Neither Generate nor Embed
// returns provider-reported token counts through the abstract interface, so
// token counts are estimated from prompt/response text length.
type Cost struct {
	InputTokens  int64
	OutputTokens int64
	USD          float64
}

// add folds one call's estimated usage into the running total.
func (c *Cost) add(inputTokens, outputTokens int64, costPerInput, costPerOutput float64) {
	c.InputTokens += inputTokens
	c.OutputTokens += outputTokens
	c.USD += float64(inputTokens)*costPerInput + float64(outputTokens)*costPerOutput
}

// estimateTokens approximates a token count from text length at roughly 4
// characters per token, the common rule-of-thumb absent a real tokenizer
// from the provider.
func estimateTokens(text string) int64 {
	if text == "" {
		return 0
	}
	return int64(len(text))/4 + 1
}

// Options configures a Summariser.
type Options struct {
	MaxConcurrency int // default 10, per spec §4.5
	MaxRetries     int // default 3
	BaseBackoff    time.Duration
	Level          store.SummaryLevel
	BuildPrompt    PromptBuilder
	OnProgress     func(fqn string, outcome Outcome)

	// CostPerInputToken/CostPerOutputToken are USD-per-token rates used to
	// estimate spend (Cost.USD). Default to gemini-2.0-flash's published
	// per-token rate, since internal/llm's reference Summariser targets
	// that model; callers pointed at another provider should override both.
	CostPerInputToken  float64
	CostPerOutputToken float64
}

// Default per-token USD rates, gemini-2.0-flash pricing ($0.10 / 1M input
// tokens, $0.40 / 1M output tokens) converted to a per-token rate.
const (
	defaultCostPerInputToken  = 0.10 / 1_000_000
	defaultCostPerOutputToken = 0.40 / 1_000_000
)

// Summariser runs the bounded-concurrency summarisation pool over a store.
type Summariser struct {
	store      *store.Store
	llm        llm.Summariser
	embedder   llm.Embedder
	opts       Options

	mu    sync.Mutex
	stats Stats

	cancelled atomic.Bool
}

// New builds a Summariser. embedder may be nil, in which case summaries
// are written without a vector (store.CreateSummaryWithVector commits with
// vector_id=null in that case, per spec §7).
func New(s *store.Store, summariser llm.Summariser, embedder llm.Embedder, opts Options) *Summariser {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 10
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 200 * time.Millisecond
	}
	if opts.Level == "" {
		opts.Level = store.LevelMethod
	}
	if opts.CostPerInputToken <= 0 {
		opts.CostPerInputToken = defaultCostPerInputToken
	}
	if opts.CostPerOutputToken <= 0 {
		opts.CostPerOutputToken = defaultCostPerOutputToken
	}
	return &Summariser{store: s, llm: summariser, embedder: embedder, opts: opts}
}

// Cancel flips the cancellation flag, checked between task submissions and
// between retries; in-flight tasks still complete and are recorded (spec
// §5).
func (s *Summariser) Cancel() { s.cancelled.Store(true) }

// Summarise runs the pool over symbols and returns results keyed by fqn.
// Callers must not assume any ordering (spec §4.5).
func (s *Summariser) Summarise(ctx context.Context, fqns []string) (map[string]Outcome, error) {
	timer := logging.StartTimer(logging.CategorySummarizer, "Summarise")
	defer timer.Stop()

	results := make(map[string]Outcome, len(fqns))
	var resultsMu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxConcurrency)

	for _, fqn := range fqns {
		if s.cancelled.Load() {
			break
		}
		fqn := fqn
		g.Go(func() error {
			outcome := s.summariseOne(gCtx, fqn)
			resultsMu.Lock()
			results[fqn] = outcome
			resultsMu.Unlock()
			if s.opts.OnProgress != nil {
				s.opts.OnProgress(fqn, outcome)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (s *Summariser) summariseOne(ctx context.Context, fqn string) Outcome {
	s.bump(func(st *Stats) { st.Total++ })

	existing, err := s.store.GetSummary(ctx, fqn, s.opts.Level)
	hadExisting := err == nil
	if hadExisting && !existing.IsStale {
		s.bump(func(st *Stats) { st.Cached++ })
		return Outcome{Summary: existing.Text, Cached: true}
	}

	if s.opts.BuildPrompt == nil {
		s.bump(func(st *Stats) { st.Failed++ })
		return Outcome{ErrorKind: "store_failure", ErrorMsg: "no prompt builder configured"}
	}
	prompt, err := s.opts.BuildPrompt(ctx, s.store, fqn)
	if err != nil {
		s.bump(func(st *Stats) { st.Failed++ })
		return Outcome{ErrorKind: "store_failure", ErrorMsg: err.Error()}
	}
	if prompt == "" {
		s.bump(func(st *Stats) { st.Failed++ })
		return Outcome{ErrorKind: "empty_input", ErrorMsg: "empty prompt"}
	}

	text, err := s.generateWithRetry(ctx, prompt)
	if err != nil {
		s.bump(func(st *Stats) { st.Failed++ })
		return Outcome{ErrorKind: "llm_failure", ErrorMsg: err.Error()}
	}
	s.bump(func(st *Stats) {
		st.Cost.add(estimateTokens(prompt), estimateTokens(text), s.opts.CostPerInputToken, s.opts.CostPerOutputToken)
	})

	// Re-fetch check: before writing over an existing summary, skip if
	// another writer already cleared is_stale, since last-writer-wins is
	// disallowed for stale flag transitions (spec §4.4 step 7, §5). A
	// symbol with no prior summary has nothing to race against.
	stillStale, err := s.store.IsStale(ctx, fqn, s.opts.Level)
	if hadExisting && err == nil && !stillStale {
		s.bump(func(st *Stats) { st.Cached++ })
		return Outcome{Summary: text, Cached: true}
	}

	var embedding []float32
	if s.embedder != nil {
		if vec, err := s.embedder.Embed(ctx, text); err == nil {
			embedding = vec
		} else {
			logging.Warnf(logging.CategorySummarizer, "embed failed for %s, committing summary without vector: %v", fqn, err)
		}
	}

	if _, err := s.store.CreateSummaryWithVector(ctx, fqn, s.opts.Level, text, embedding); err != nil {
		s.bump(func(st *Stats) { st.Failed++ })
		return Outcome{ErrorKind: "store_failure", ErrorMsg: err.Error()}
	}

	s.bump(func(st *Stats) { st.Success++ })
	return Outcome{Summary: text}
}

// generateWithRetry retries transient LLM errors with exponential backoff
// up to opts.MaxRetries; non-transient errors are final (spec §4.5).
func (s *Summariser) generateWithRetry(ctx context.Context, prompt string) (string, error) {
	backoff := s.opts.BaseBackoff
	var lastErr error
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		if s.cancelled.Load() {
			return "", fmt.Errorf("cancelled")
		}
		text, err := s.llm.Generate(ctx, prompt, llm.GenerateOptions{})
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !llm.IsTransient(err) {
			return "", err
		}
		if attempt == s.opts.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return "", errkind.New(errkind.LLMTransient, "", fmt.Errorf("exhausted %d retries: %w", s.opts.MaxRetries, lastErr))
}

func (s *Summariser) bump(f func(*Stats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(&s.stats)
}

// Snapshot returns a copy of the current stats.
func (s *Summariser) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
