package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/replanner/config"
	"google.golang.org/genai"
)

// GeminiProvider implements Provider for the Gemini API
type GeminiProvider struct {
	client      *genai.Client
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(pc config.LLMProvider) (*GeminiProvider, error) {
	key := apiKey(pc, "GEMINI_API_KEY", "GOOGLE_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("gemini api_key not set (set GEMINI_API_KEY or llm.providers.gemini.api_key)")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	}
	if pc.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: pc.BaseURL}
	}
	client, err := genai.NewClient(context.Background(), clientCfg)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiProvider{
		client:      client,
		model:       pc.Model,
		maxTokens:   pc.MaxTokens,
		temperature: pc.Temperature,
		timeout:     pc.Timeout,
	}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(p.temperature)),
	}
	if p.maxTokens > 0 {
		cfg.MaxOutputTokens = int32(p.maxTokens)
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", emptyReply("gemini")
	}
	return resp.Text(), nil
}
