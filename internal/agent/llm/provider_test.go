package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/mohammad-safakhou/replanner/config"
	"github.com/mohammad-safakhou/replanner/internal/agent/core"
)

func TestNewLLMProviderUnsupported(t *testing.T) {
	_, err := NewLLMProvider(config.LLMConfig{
		Provider:  "local",
		Providers: map[string]config.LLMProvider{"local": {Type: "llama"}},
	})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestNewLLMProviderMissingSelection(t *testing.T) {
	if _, err := NewLLMProvider(config.LLMConfig{}); err == nil {
		t.Fatalf("expected error without llm.provider")
	}
}

func TestOpenAIMissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewOpenAIProvider(config.LLMProvider{Type: "openai", Model: "gpt-4o-mini"}); err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestOpenAIGenerate(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Messages) == 1 {
			gotPrompt = body.Messages[0].Content
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Répondre directement: Bonjour"}}]}`))
	}))
	defer srv.Close()

	p, err := NewLLMProvider(config.LLMConfig{
		Provider: "openai",
		Providers: map[string]config.LLMProvider{"openai": {
			APIKey: "test-key", BaseURL: srv.URL + "/", Model: "gpt-4o-mini", Timeout: 5 * time.Second,
		}},
	})
	if err != nil {
		t.Fatalf("NewLLMProvider: %v", err)
	}
	if p.Name() != "openai" {
		t.Fatalf("unexpected provider %q", p.Name())
	}
	out, err := p.Generate(context.Background(), "Salut")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "Répondre directement: Bonjour" {
		t.Fatalf("unexpected output %q", out)
	}
	if gotPrompt != "Salut" {
		t.Fatalf("prompt not forwarded, got %q", gotPrompt)
	}
}

func TestOpenAIGenerateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(config.LLMProvider{
		APIKey: "k", BaseURL: srv.URL + "/", Model: "m", Timeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	if _, err := p.Generate(context.Background(), "x"); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestAnthropicGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("x-api-key") != "anthropic-key" {
			t.Errorf("unexpected api key header %q", r.Header.Get("x-api-key"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"m1","type":"message","role":"assistant","model":"claude",
			"content":[{"type":"text","text":"ASK_USER: "},{"type":"text","text":"Quelle date ?"}],
			"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":4}}`))
	}))
	defer srv.Close()

	p, err := NewLLMProvider(config.LLMConfig{
		Provider: "claude",
		Providers: map[string]config.LLMProvider{"claude": {
			Type: "anthropic", APIKey: "anthropic-key", BaseURL: srv.URL + "/v1", Model: "claude",
		}},
	})
	if err != nil {
		t.Fatalf("NewLLMProvider: %v", err)
	}
	out, err := p.Generate(context.Background(), "x")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "ASK_USER: Quelle date ?" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestAnthropicGenerateError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"overloaded"}}`))
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider(config.LLMProvider{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "claude"})
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}
	if _, err := p.Generate(context.Background(), "x"); err == nil {
		t.Fatalf("expected upstream error")
	}
}

func TestAnthropicEmptyContentIsAnEmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"m2","type":"message","role":"assistant","model":"claude",
			"content":[],"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":0}}`))
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider(config.LLMProvider{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "claude"})
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}
	out, err := p.Generate(context.Background(), "x")
	if err != nil {
		t.Fatalf("empty end_turn reply must not be an error, got %v", err)
	}
	if out != "" {
		t.Fatalf("expected empty reply, got %q", out)
	}
	lines := core.SplitPlan(out)
	if d := core.ParseDirective(lines[0]); len(lines) != 1 || d.Kind != core.RespondDirectly {
		t.Fatalf("empty reply should plan a direct answer, got %v", lines)
	}
}

func TestConverseText(t *testing.T) {
	if got := converseText(&bedrockruntime.ConverseOutput{}); got != "" {
		t.Fatalf("output without a message should be empty, got %q", got)
	}
	if got := converseText(nil); got != "" {
		t.Fatalf("nil output should be empty, got %q", got)
	}
	out := &bedrockruntime.ConverseOutput{Output: &types.ConverseOutputMemberMessage{Value: types.Message{
		Role: types.ConversationRoleAssistant,
		Content: []types.ContentBlock{
			&types.ContentBlockMemberText{Value: "Répondre directement: "},
			&types.ContentBlockMemberText{Value: "Bonjour"},
		},
	}}}
	if got := converseText(out); got != "Répondre directement: Bonjour" {
		t.Fatalf("unexpected text %q", got)
	}
}
