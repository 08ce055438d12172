package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaSummariser generates summaries via a local Ollama server's generate
// endpoint. It exists alongside GenAISummariser so the engine can run fully
// offline against a local model during development.
type OllamaSummariser struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewOllamaSummariser builds a Summariser against a local Ollama instance.
func NewOllamaSummariser(endpoint, model string) *OllamaSummariser {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.1"
	}
	return &OllamaSummariser{
		endpoint: endpoint,
		model:    model,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

type ollamaGenerateRequest struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	Stream  bool    `json:"stream"`
	Options options `json:"options,omitempty"`
}

type options struct {
	Temperature float32 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate implements Summariser.
func (o *OllamaSummariser) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if prompt == "" {
		return "", ErrEmptyInput
	}

	reqBody := ollamaGenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: false,
		Options: options{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", wrapFatal(o.model, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", wrapFatal(o.model, fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", wrapTransient(o.model, ctx.Err())
		}
		return "", wrapTransient(o.model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		return "", wrapTransient(o.model, fmt.Errorf("ollama returned status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return "", wrapFatal(o.model, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(data)))
	}

	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", wrapFatal(o.model, fmt.Errorf("decode response: %w", err))
	}
	if out.Response == "" {
		return "", wrapFatal(o.model, fmt.Errorf("empty response"))
	}
	return out.Response, nil
}
