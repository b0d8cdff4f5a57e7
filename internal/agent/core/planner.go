package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/replanner/internal/agent/telemetry"
	"github.com/mohammad-safakhou/replanner/internal/capability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var plannerTracer trace.Tracer = otel.Tracer("replanner/internal/agent/planner")

// Planner turns free text into plan lines using the model and the catalogue.
type Planner struct {
	llm       LLMProvider
	catalogue *capability.Catalogue
	timeout   time.Duration
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewPlanner creates a new planner instance
func NewPlanner(llm LLMProvider, catalogue *capability.Catalogue, timeout time.Duration, tele *telemetry.Telemetry, logger *log.Logger) *Planner {
	if logger == nil {
		logger = log.New(log.Writer(), "[PLANNER] ", log.LstdFlags)
	}
	return &Planner{llm: llm, catalogue: catalogue, timeout: timeout, telemetry: tele, logger: logger}
}

// Plan asks the model for a plan and returns its non-empty lines. The result
// is never empty.
func (p *Planner) Plan(ctx context.Context, input string, history []Message) ([]string, error) {
	ctx, span := plannerTracer.Start(ctx, "agent.plan")
	defer span.End()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := p.llm.Generate(ctx, p.Prompt(input, history))
	p.telemetry.RecordLLMEvent(ctx, telemetry.LLMEvent{Operation: "plan", Duration: time.Since(start), Success: err == nil})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to generate plan: %w", err)
	}

	lines := SplitPlan(raw)
	span.SetAttributes(attribute.Int("plan.steps", len(lines)))
	p.logger.Printf("Planning completed in %v with %d steps", time.Since(start), len(lines))
	return lines, nil
}

// SplitPlan splits model output into trimmed non-empty lines. When nothing
// usable remains it returns a single direct answer wrapping raw verbatim.
func SplitPlan(raw string) []string {
	var lines []string
	for _, l := range strings.Split(raw, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return []string{PrefixRespondDirectly + raw}
	}
	return lines
}

// Prompt renders the planning prompt for input.
func (p *Planner) Prompt(input string, history []Message) string {
	var b strings.Builder
	b.WriteString("Tu es un assistant qui crée des plans étape par étape.\n")
	b.WriteString("Pour chaque requête, retourne une liste d'étapes, une par ligne.\n\n")
	b.WriteString("Tu as accès à ces outils:\n")
	b.WriteString(p.toolsDescription())
	b.WriteString("\nFormat des réponses:\n")
	b.WriteString(PrefixAskUser + "<question>  # Pour demander des infos\n")
	b.WriteString(PrefixUseTool + "<outil> <paramètres JSON>  # Pour utiliser un outil\n")
	b.WriteString(PrefixRespondDirectly + "<réponse>  # Pour répondre sans outil\n\n")
	b.WriteString("Retourne TOUJOURS au moins une ligne.\n")

	if len(history) > 0 {
		b.WriteString("\nHistorique de la conversation:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
	}
	b.WriteString("\nRequête: ")
	b.WriteString(input)
	return b.String()
}

func (p *Planner) toolsDescription() string {
	var b strings.Builder
	n := 0
	for d := range p.catalogue.List() {
		if !d.Enabled {
			continue
		}
		n++
		fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
		for _, param := range d.RequiredParameters {
			required := "optionnel"
			if param.Required {
				required = "requis"
			}
			fmt.Fprintf(&b, "  - %s: %s (%s)\n", param.Name, param.Description, required)
		}
	}
	if n == 0 {
		return "Aucun outil disponible\n"
	}
	return b.String()
}
