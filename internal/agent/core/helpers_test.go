package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammad-safakhou/replanner/internal/capability"
)

// countingTool records every Execute call.
type countingTool struct {
	desc  capability.Descriptor
	calls atomic.Int32
	run   func(ctx context.Context, params map[string]any) (string, error)
}

func (c *countingTool) Descriptor() capability.Descriptor { return c.desc }

func (c *countingTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	c.calls.Add(1)
	if c.run == nil {
		return "ok", nil
	}
	return c.run(ctx, params)
}

func temperatureTool(run func(ctx context.Context, params map[string]any) (string, error)) *countingTool {
	return &countingTool{
		desc: capability.Descriptor{
			Name:        "temperature",
			Description: "Récupère la température pour une date",
			Category:    "node_red",
			Enabled:     true,
			RequiredParameters: []capability.Parameter{
				{Name: "date", Description: "Date au format YYYY-MM-DD", Required: true},
			},
		},
		run: run,
	}
}

// scriptedLLM returns canned replies in order and records prompts.
type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	prompts []string
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.prompts)
	s.prompts = append(s.prompts, prompt)
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.replies) {
		return s.replies[i], nil
	}
	return "", errors.New("scripted llm exhausted")
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func mustCatalogue(t *testing.T, tools ...capability.Tool) *capability.Catalogue {
	t.Helper()
	c, err := capability.NewCatalogue(tools...)
	if err != nil {
		t.Fatalf("NewCatalogue: %v", err)
	}
	return c
}

type harness struct {
	catalogue  *capability.Catalogue
	llm        *scriptedLLM
	dispatcher *Dispatcher
	executor   *StepExecutor
	planner    *Planner
	orch       *Orchestrator
}

func newHarness(t *testing.T, llm *scriptedLLM, opts OrchestratorOptions, tools ...capability.Tool) *harness {
	t.Helper()
	cat := mustCatalogue(t, tools...)
	d := NewDispatcher(cat, 200*time.Millisecond, nil, nil)
	ex := NewStepExecutor(d, llm, time.Second, nil, nil)
	p := NewPlanner(llm, cat, time.Second, nil, nil)
	o, err := NewOrchestrator(p, ex, opts)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return &harness{catalogue: cat, llm: llm, dispatcher: d, executor: ex, planner: p, orch: o}
}
