package llm

import (
	"context"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI narrates through the OpenAI chat completions API
type OpenAI struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	jsonMode    bool
}

// NewOpenAI creates an OpenAI provider. The key comes from the api_key
// parameter or OPENAI_API_KEY and must be present.
// Params: api_key, model, base_url, temperature, max_tokens, json_mode.
func NewOpenAI(params Params) (Provider, error) {
	key := params.String("api_key", os.Getenv("OPENAI_API_KEY"))
	if key == "" {
		return nil, &ConfigurationError{Provider: ProviderOpenAI, Reason: "OPENAI_API_KEY is required"}
	}

	cfg := openai.DefaultConfig(key)
	if base := params.String("base_url", ""); base != "" {
		cfg.BaseURL = base
	}

	return &OpenAI{
		client:      openai.NewClientWithConfig(cfg),
		model:       params.String("model", openai.GPT4oMini),
		temperature: float32(params.Float("temperature", 0.8)),
		maxTokens:   params.Int("max_tokens", 0),
		jsonMode:    params.Bool("json_mode", false),
	}, nil
}

// Generate issues a single blocking chat completion
func (c *OpenAI) Generate(ctx context.Context, req Request) (*Response, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: req.System},
	}
	if req.Context != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.Context})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.User})

	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if c.jsonMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: ProviderOpenAI, Err: fmt.Errorf("no choices returned")}
	}

	return &Response{
		Text: resp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}
