package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"ariadne/internal/logging"

	"google.golang.org/genai"
)

// genaiEmbedDimensions matches the dimensionality gemini-embedding-001
// returns; kept as a constant rather than discovered per-call so callers can
// size the vector store's schema ahead of the first embed.
const genaiEmbedDimensions = 3072

// genaiMaxBatch is the provider's per-request limit on batched embed inputs.
const genaiMaxBatch = 100

// GenAIEmbedder embeds text via Google's Gemini embedding API.
type GenAIEmbedder struct {
	client *genai.Client
	model  string
}

// NewGenAIEmbedder builds an Embedder backed by the given model
// (e.g. "gemini-embedding-001"). apiKey must be non-empty.
func NewGenAIEmbedder(ctx context.Context, apiKey, model string) (*GenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: genai API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("llm: creating genai client: %w", err)
	}
	return &GenAIEmbedder{client: client, model: model}, nil
}

func dimPtr(d int32) *int32 { return &d }

// Embed implements Embedder.
func (e *GenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements Embedder, chunking at the provider's batch limit.
func (e *GenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	for _, t := range texts {
		if t == "" {
			return nil, ErrEmptyInput
		}
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += genaiMaxBatch {
		end := start + genaiMaxBatch
		if end > len(texts) {
			end = len(texts)
		}
		chunk, err := e.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

func (e *GenAIEmbedder) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents,
		&genai.EmbedContentConfig{OutputDimensionality: dimPtr(genaiEmbedDimensions)})
	if err != nil {
		if isTransientNetErr(err) {
			return nil, wrapTransient(e.model, err)
		}
		return nil, wrapFatal(e.model, err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, wrapFatal(e.model, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings)))
	}

	vecs := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		vecs[i] = emb.Values
	}
	return vecs, nil
}

// Dimensions implements Embedder.
func (e *GenAIEmbedder) Dimensions() int { return genaiEmbedDimensions }

// Name implements Embedder.
func (e *GenAIEmbedder) Name() string { return "genai:" + e.model }

// GenAISummariser generates symbol summaries via Gemini's text generation API.
type GenAISummariser struct {
	client *genai.Client
	model  string
}

// NewGenAISummariser builds a Summariser backed by the given generative model
// (e.g. "gemini-2.0-flash").
func NewGenAISummariser(ctx context.Context, apiKey, model string) (*GenAISummariser, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: genai API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("llm: creating genai client: %w", err)
	}
	return &GenAISummariser{client: client, model: model}, nil
}

// Generate implements Summariser.
func (s *GenAISummariser) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if prompt == "" {
		return "", ErrEmptyInput
	}

	cfg := &genai.GenerateContentConfig{}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.Temperature > 0 {
		t := opts.Temperature
		cfg.Temperature = &t
	}

	result, err := s.client.Models.GenerateContent(ctx, s.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, cfg)
	if err != nil {
		if isTransientNetErr(err) {
			return "", wrapTransient(s.model, err)
		}
		return "", wrapFatal(s.model, err)
	}

	text := result.Text()
	if text == "" {
		return "", wrapFatal(s.model, fmt.Errorf("empty response"))
	}
	logging.Debugf(logging.CategorySummarizer, "genai summarise: model=%s prompt_len=%d resp_len=%d", s.model, len(prompt), len(text))
	return text, nil
}

// isTransientNetErr classifies network-shaped failures (timeouts, connection
// resets, rate limiting surfaced as 429/503 text) as transient so the retry
// policy in internal/summarizer can distinguish them from a fatal auth/schema
// error without the provider SDK exposing a typed error hierarchy.
func isTransientNetErr(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "429", "503", "unavailable", "deadline exceeded", "connection reset"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
