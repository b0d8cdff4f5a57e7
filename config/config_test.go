package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"llm": {"provider": "openai", "providers": {"openai": {"api_key": "sk-test"}}}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agents.MaxReplans != 0 {
		t.Fatalf("expected max_replans default 0, got %d", cfg.Agents.MaxReplans)
	}
	if cfg.Agents.ToolTimeout != 15*time.Second {
		t.Fatalf("expected tool timeout 15s, got %s", cfg.Agents.ToolTimeout)
	}
	if cfg.Session.MaxMessages != 10 {
		t.Fatalf("expected session.max_messages 10, got %d", cfg.Session.MaxMessages)
	}
	if cfg.Tools.NodeRED.BaseURL != "http://127.0.0.1:1880" {
		t.Fatalf("unexpected node_red base url %q", cfg.Tools.NodeRED.BaseURL)
	}
	p, err := cfg.LLM.Active()
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if p.Model != "gpt-4o-mini" || p.APIKey != "sk-test" {
		t.Fatalf("unexpected provider %+v", p)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `{"agents": {"max_replans": 1}}`)
	t.Setenv("REPLANNER_AGENTS_MAX_REPLANS", "3")
	t.Setenv("REPLANNER_SERVER_ADDRESS", ":9999")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agents.MaxReplans != 3 {
		t.Fatalf("expected env override to 3, got %d", cfg.Agents.MaxReplans)
	}
	if cfg.Server.Address != ":9999" {
		t.Fatalf("expected address :9999, got %q", cfg.Server.Address)
	}
}

func TestLoadRejectsUnknownKnowledgeBackend(t *testing.T) {
	path := writeConfig(t, `{"tools": {"knowledge": {"backend": "elastic"}}}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for unknown knowledge backend")
	}
}

func TestLoadRejectsMissingProvider(t *testing.T) {
	path := writeConfig(t, `{"llm": {"provider": "anthropic"}}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error when active provider has no settings")
	}
}

func TestLoadConfigPanicsOnMissingFile(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for missing explicit config file")
		}
	}()
	LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
}
