package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/mohammad-safakhou/replanner/config"
)

const defaultAnthropicMaxTokens = 1024

// AnthropicProvider implements Provider for the Anthropic messages API
type AnthropicProvider struct {
	client    *anthropic.Client
	model     string
	maxTokens int
	timeout   time.Duration
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(pc config.LLMProvider) (*AnthropicProvider, error) {
	key := apiKey(pc, "ANTHROPIC_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("anthropic api_key not set (set ANTHROPIC_API_KEY or llm.providers.anthropic.api_key)")
	}
	var opts []anthropic.ClientOption
	if pc.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(pc.BaseURL))
	}
	maxTokens := pc.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicProvider{
		client:    anthropic.NewClient(key, opts...),
		model:     pc.Model,
		maxTokens: maxTokens,
		timeout:   pc.Timeout,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(p.model),
		Messages:  []anthropic.Message{anthropic.NewUserTextMessage(prompt)},
		MaxTokens: p.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}
	var b strings.Builder
	for _, c := range resp.Content {
		if c.Type == anthropic.MessagesContentTypeText {
			b.WriteString(c.GetText())
		}
	}
	// an empty content list is a valid end_turn reply; the planner handles it
	return b.String(), nil
}
