package core

import (
	"fmt"
	"strings"
	"unicode"
)

// Line prefixes understood by the step executor.
const (
	PrefixRespondDirectly = "Répondre directement: "
	PrefixAskUser         = "ASK_USER: "
	PrefixUseTool         = "USE_TOOL: "
)

// DirectiveKind tags the variant held by a Directive.
type DirectiveKind int

const (
	// RawStep is any line without a known prefix; it is sent to the model.
	RawStep DirectiveKind = iota
	RespondDirectly
	AskUser
	UseTool
)

var kindNames = map[DirectiveKind]string{
	RawStep:         "raw_step",
	RespondDirectly: "respond_directly",
	AskUser:         "ask_user",
	UseTool:         "use_tool",
}

func (k DirectiveKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("directive(%d)", int(k))
}

func (k DirectiveKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *DirectiveKind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown directive kind %q", string(b))
}

// Directive is one parsed plan line.
//
// Text holds the answer, question or raw step. Tool and RawParams are only
// set for UseTool.
type Directive struct {
	Kind      DirectiveKind `json:"kind"`
	Text      string        `json:"text,omitempty"`
	Tool      string        `json:"tool,omitempty"`
	RawParams string        `json:"raw_params,omitempty"`
}

// ParseDirective classifies one plan line. Every input maps to exactly one
// variant; lines without a recognised prefix become RawStep.
func ParseDirective(line string) Directive {
	trimmed := strings.TrimLeftFunc(line, unicode.IsSpace)
	if rest, ok := cutPrefix(trimmed, PrefixRespondDirectly); ok {
		return Directive{Kind: RespondDirectly, Text: rest}
	}
	if rest, ok := cutPrefix(trimmed, PrefixAskUser); ok {
		return Directive{Kind: AskUser, Text: strings.TrimSpace(rest)}
	}
	if rest, ok := cutPrefix(trimmed, PrefixUseTool); ok {
		rest = strings.TrimSpace(rest)
		name, params := rest, ""
		if i := strings.IndexFunc(rest, unicode.IsSpace); i >= 0 {
			name, params = rest[:i], rest[i:]
		}
		return Directive{Kind: UseTool, Tool: name, RawParams: strings.TrimSpace(params)}
	}
	return Directive{Kind: RawStep, Text: line}
}

// ParsePlan parses every line of a plan.
func ParsePlan(lines []string) []Directive {
	out := make([]Directive, 0, len(lines))
	for _, l := range lines {
		out = append(out, ParseDirective(l))
	}
	return out
}

// cutPrefix accepts the prefix with or without its trailing space so that
// "ASK_USER:question" parses like "ASK_USER: question". Only the single
// separating space is removed, so direct answers keep their text verbatim.
func cutPrefix(s, prefix string) (string, bool) {
	tag := strings.TrimSuffix(prefix, " ")
	rest, ok := strings.CutPrefix(s, tag)
	if !ok {
		return "", false
	}
	return strings.TrimPrefix(rest, " "), true
}

// String renders the directive back into its line form.
func (d Directive) String() string {
	switch d.Kind {
	case RespondDirectly:
		return PrefixRespondDirectly + d.Text
	case AskUser:
		return PrefixAskUser + d.Text
	case UseTool:
		if d.RawParams == "" {
			return PrefixUseTool + d.Tool
		}
		return PrefixUseTool + d.Tool + " " + d.RawParams
	default:
		return d.Text
	}
}

// RespondDirectlyStep builds a direct-answer directive.
func RespondDirectlyStep(text string) Directive {
	return Directive{Kind: RespondDirectly, Text: text}
}
