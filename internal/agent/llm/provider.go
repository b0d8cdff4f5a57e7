package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mohammad-safakhou/replanner/config"
	"github.com/mohammad-safakhou/replanner/internal/agent/core"
)

// ErrUnsupportedProvider is returned for an unknown llm provider type.
var ErrUnsupportedProvider = errors.New("unsupported LLM provider type")

// Provider is a named model backend usable by the planner and step executor.
type Provider interface {
	core.LLMProvider
	Name() string
}

// NewLLMProvider builds the provider selected by llm.provider.
func NewLLMProvider(cfg config.LLMConfig) (Provider, error) {
	pc, err := cfg.Active()
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(pc.Type) {
	case "openai":
		return NewOpenAIProvider(pc)
	case "anthropic":
		return NewAnthropicProvider(pc)
	case "gemini":
		return NewGeminiProvider(pc)
	case "bedrock":
		return NewBedrockProvider(pc)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, pc.Type)
	}
}

// apiKey returns the configured key or the first non-empty environment fallback.
func apiKey(pc config.LLMProvider, envs ...string) string {
	if pc.APIKey != "" {
		return pc.APIKey
	}
	for _, e := range envs {
		if v := os.Getenv(e); v != "" {
			return v
		}
	}
	return ""
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func emptyReply(provider string) error {
	return fmt.Errorf("%s returned no text content", provider)
}
