package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/replanner/config"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

// OpenAIProvider implements Provider for OpenAI-compatible chat completions
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(pc config.LLMProvider) (*OpenAIProvider, error) {
	key := apiKey(pc, "OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("openai api_key not set (set OPENAI_API_KEY or llm.providers.openai.api_key)")
	}
	opts := []option.RequestOption{option.WithAPIKey(key)}
	if pc.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(pc.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIProvider{
		client:      &client,
		model:       pc.Model,
		maxTokens:   pc.MaxTokens,
		temperature: pc.Temperature,
		timeout:     pc.Timeout,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Generate sends prompt as a single user message.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:       p.model,
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		Temperature: param.NewOpt(p.temperature),
	}
	if p.maxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(p.maxTokens))
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", emptyReply("openai")
	}
	return resp.Choices[0].Message.Content, nil
}
