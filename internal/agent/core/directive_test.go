package core

import (
	"encoding/json"
	"testing"
)

func TestParseDirective(t *testing.T) {
	cases := []struct {
		line string
		want Directive
	}{
		{"Répondre directement: Bonjour!", Directive{Kind: RespondDirectly, Text: "Bonjour!"}},
		{"Répondre directement: ", Directive{Kind: RespondDirectly, Text: ""}},
		{"Répondre directement:  deux espaces", Directive{Kind: RespondDirectly, Text: " deux espaces"}},
		{"ASK_USER: Quelle ville ?", Directive{Kind: AskUser, Text: "Quelle ville ?"}},
		{"ASK_USER:Quelle date ?", Directive{Kind: AskUser, Text: "Quelle date ?"}},
		{"USE_TOOL: temperature {}", Directive{Kind: UseTool, Tool: "temperature", RawParams: "{}"}},
		{`USE_TOOL: temperature {"date":"2025-02-04"}`, Directive{Kind: UseTool, Tool: "temperature", RawParams: `{"date":"2025-02-04"}`}},
		{"USE_TOOL: jokes", Directive{Kind: UseTool, Tool: "jokes"}},
		{"USE_TOOL: create_table\t{\"headers\":[]}", Directive{Kind: UseTool, Tool: "create_table", RawParams: `{"headers":[]}`}},
		{"  USE_TOOL: jokes  ", Directive{Kind: UseTool, Tool: "jokes"}},
		{"Résume la réponse", Directive{Kind: RawStep, Text: "Résume la réponse"}},
		{"ASK_USERS: pas un préfixe", Directive{Kind: RawStep, Text: "ASK_USERS: pas un préfixe"}},
		{"use_tool: jokes", Directive{Kind: RawStep, Text: "use_tool: jokes"}},
		{"", Directive{Kind: RawStep, Text: ""}},
	}
	for _, tc := range cases {
		got := ParseDirective(tc.line)
		if got != tc.want {
			t.Fatalf("ParseDirective(%q) = %+v, want %+v", tc.line, got, tc.want)
		}
	}
}

func TestDirectiveStringRoundTrip(t *testing.T) {
	lines := []string{
		"Répondre directement: Bonjour!",
		"ASK_USER: Quelle ville ?",
		`USE_TOOL: temperature {"date":"2025-02-04"}`,
		"USE_TOOL: jokes",
		"Explique le résultat",
	}
	for _, l := range lines {
		if got := ParseDirective(l).String(); got != l {
			t.Fatalf("round trip of %q gave %q", l, got)
		}
	}
}

func TestDirectiveKindJSON(t *testing.T) {
	b, err := json.Marshal(Directive{Kind: UseTool, Tool: "jokes"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"kind":"use_tool","tool":"jokes"}` {
		t.Fatalf("unexpected json %s", b)
	}
	var d Directive
	if err := json.Unmarshal(b, &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Kind != UseTool {
		t.Fatalf("expected use_tool, got %v", d.Kind)
	}
	if err := json.Unmarshal([]byte(`{"kind":"nope"}`), &d); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
