// Package llm defines the abstract Summariser/Embedder contracts the graph
// engine consumes, plus reference adapters over a real provider. The core
// (internal/summarizer, internal/store) depends only on the interfaces in
// this file; nothing outside this package knows which provider is behind
// them.
package llm

//go:generate go run go.uber.org/mock/mockgen -destination=llmmock/mock_llm.go -package=llmmock ariadne/internal/llm Summariser,Embedder

import (
	"context"
	"errors"

	"ariadne/internal/errkind"
)

// ErrEmptyInput is returned by Embed/EmbedBatch when given empty text. The
// zero vector is never a silent fallback: embedding empty text is a typed
// error so it can't pollute similarity search (spec §9).
var ErrEmptyInput = errors.New("llm: empty input")

// GenerateOptions controls a single Summariser.Generate call.
type GenerateOptions struct {
	MaxTokens   int
	Temperature float32
	// Dependency summaries and symbol source context travel inside the
	// prompt text itself; there is no separate context field.
}

// Summariser generates natural-language summaries for code symbols.
type Summariser interface {
	// Generate produces a summary for prompt. A transient error (rate
	// limit, network) should be wrapped with errkind.LLMTransient so the
	// caller's retry policy can recognize it; anything else is final and
	// should be wrapped with errkind.LLMFatal.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// BatchSummariser is an optional capability: providers that support native
// batch requests implement this to avoid N round trips.
type BatchSummariser interface {
	GenerateBatch(ctx context.Context, prompts []string, opts GenerateOptions) ([]string, error)
}

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// IsTransient reports whether err represents a retryable LLM failure.
func IsTransient(err error) bool {
	return errors.Is(err, errkind.LLMTransient)
}

func wrapTransient(target string, err error) error {
	return errkind.New(errkind.LLMTransient, target, err)
}

func wrapFatal(target string, err error) error {
	return errkind.New(errkind.LLMFatal, target, err)
}
