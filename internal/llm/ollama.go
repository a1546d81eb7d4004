package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Ollama streams narration from a local Ollama instance
type Ollama struct {
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	format      string
	retries     int
	backoff     time.Duration
	httpClient  *http.Client
}

// NewOllama creates an Ollama provider.
// Params: model, host, temperature, max_tokens, format, timeout, retries, backoff.
func NewOllama(params Params) (Provider, error) {
	host := strings.TrimRight(params.String("host", "http://localhost:11434"), "/")
	if host == "" {
		return nil, &ConfigurationError{Provider: ProviderOllama, Reason: "host is empty"}
	}
	return &Ollama{
		baseURL:     host,
		model:       params.String("model", "llama3"),
		temperature: params.Float("temperature", 0.8),
		maxTokens:   params.Int("max_tokens", 512),
		format:      params.String("format", ""),
		retries:     params.Int("retries", 0),
		backoff:     params.Duration("backoff", time.Second),
		httpClient: &http.Client{
			Timeout: params.Duration("timeout", 60*time.Second),
		},
	}, nil
}

// GenerateRequest is the request body for /api/generate
type GenerateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Format  string          `json:"format,omitempty"` // "json" for JSON output
	Options GenerateOptions `json:"options"`
}

// GenerateOptions carries sampling parameters
type GenerateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// GenerateChunk is one line of the /api/generate stream.
// Token counts are only present on the final chunk.
type GenerateChunk struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	CreatedAt       string `json:"created_at"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error,omitempty"`
}

// Generate sends the prompt to Ollama and concatenates the streamed chunks.
// Retries with exponential backoff when configured.
func (c *Ollama) Generate(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(GenerateRequest{
		Model:  c.model,
		Prompt: buildPrompt(req),
		Stream: true,
		Format: c.format,
		Options: GenerateOptions{
			Temperature: c.temperature,
			NumPredict:  c.maxTokens,
		},
	})
	if err != nil {
		return nil, providerErr(ProviderOllama, "marshaling request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			backoff := c.backoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return nil, &ProviderError{Provider: ProviderOllama, Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}

		resp, err := c.doGenerate(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}

	if c.retries > 0 {
		return nil, providerErr(ProviderOllama, "after %d attempts: %w", c.retries+1, lastErr)
	}
	return nil, &ProviderError{Provider: ProviderOllama, Err: lastErr}
}

func (c *Ollama) doGenerate(ctx context.Context, body []byte) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	return readStream(json.NewDecoder(resp.Body))
}

// readStream consumes chunks until the backend signals completion
func readStream(dec *json.Decoder) (*Response, error) {
	var text strings.Builder
	for {
		var chunk GenerateChunk
		if err := dec.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("stream ended before completion")
			}
			return nil, fmt.Errorf("decoding chunk: %w", err)
		}
		if chunk.Error != "" {
			return nil, fmt.Errorf("ollama error: %s", chunk.Error)
		}
		text.WriteString(chunk.Response)
		if chunk.Done {
			return &Response{
				Text: strings.TrimSpace(text.String()),
				Usage: Usage{
					PromptTokens:     chunk.PromptEvalCount,
					CompletionTokens: chunk.EvalCount,
					TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
				},
			}, nil
		}
	}
}

// buildPrompt folds system, context and user prompts into one completion prompt
func buildPrompt(req Request) string {
	blocks := []string{req.System}
	if req.Context != "" {
		blocks = append(blocks, req.Context)
	}
	blocks = append(blocks, req.User)
	return strings.Join(blocks, "\n\n")
}

// HealthCheck checks if Ollama is reachable
func (c *Ollama) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("connecting to ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	return nil
}
