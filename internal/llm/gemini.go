package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini narrates through the Google Gemini API
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
	jsonMode    bool
}

// NewGemini creates a Gemini provider. The key comes from the api_key
// parameter or GEMINI_API_KEY and must be present.
// Params: api_key, model, temperature, max_tokens, json_mode.
func NewGemini(params Params) (Provider, error) {
	key := params.String("api_key", os.Getenv("GEMINI_API_KEY"))
	if key == "" {
		return nil, &ConfigurationError{Provider: ProviderGemini, Reason: "GEMINI_API_KEY is required"}
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(key))
	if err != nil {
		return nil, &ConfigurationError{Provider: ProviderGemini, Reason: fmt.Sprintf("creating client: %v", err)}
	}

	return &Gemini{
		client:      client,
		model:       params.String("model", "gemini-2.5-flash"),
		temperature: float32(params.Float("temperature", 0.8)),
		maxTokens:   int32(params.Int("max_tokens", 0)),
		jsonMode:    params.Bool("json_mode", false),
	}, nil
}

// Generate issues a single blocking content generation call
func (c *Gemini) Generate(ctx context.Context, req Request) (*Response, error) {
	model := c.client.GenerativeModel(c.model)
	model.SetTemperature(c.temperature)
	if c.maxTokens > 0 {
		model.SetMaxOutputTokens(c.maxTokens)
	}
	if c.jsonMode {
		model.ResponseMIMEType = "application/json"
	}
	model.SystemInstruction = genai.NewUserContent(genai.Text(req.System))

	parts := []genai.Part{}
	if req.Context != "" {
		parts = append(parts, genai.Text(req.Context))
	}
	parts = append(parts, genai.Text(req.User))

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderGemini, Err: err}
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, &ProviderError{Provider: ProviderGemini, Err: fmt.Errorf("no content returned from Gemini")}
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	out := &Response{Text: text.String()}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

// Close releases the underlying client
func (c *Gemini) Close() error {
	return c.client.Close()
}
