package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/replanner/internal/agent/telemetry"
	"github.com/mohammad-safakhou/replanner/internal/capability"
)

// ReplanReason explains why a step ended the turn.
type ReplanReason string

const (
	ReasonNone              ReplanReason = ""
	ReasonAskUser           ReplanReason = "ask_user"
	ReasonMissingParameters ReplanReason = "missing_parameters"
)

// StepResult is the outcome of one step.
type StepResult struct {
	Response    string
	NeedsReplan bool
	Reason      ReplanReason
}

// StepExecutor interprets one directive.
type StepExecutor struct {
	dispatcher *Dispatcher
	llm        LLMProvider
	timeout    time.Duration
	telemetry  *telemetry.Telemetry
	logger     *log.Logger
}

// NewStepExecutor creates a step executor.
func NewStepExecutor(dispatcher *Dispatcher, llm LLMProvider, timeout time.Duration, tele *telemetry.Telemetry, logger *log.Logger) *StepExecutor {
	if logger == nil {
		logger = log.New(log.Writer(), "[EXECUTOR] ", log.LstdFlags)
	}
	return &StepExecutor{dispatcher: dispatcher, llm: llm, timeout: timeout, telemetry: tele, logger: logger}
}

// Execute runs step. Only a failing model call on a raw step returns an
// error; every tool outcome is turned into response text.
func (e *StepExecutor) Execute(ctx context.Context, step Directive, state State) (StepResult, error) {
	switch step.Kind {
	case RespondDirectly:
		return StepResult{Response: step.Text}, nil
	case AskUser:
		return StepResult{Response: step.Text, NeedsReplan: true, Reason: ReasonAskUser}, nil
	case UseTool:
		return e.useTool(ctx, step), nil
	default:
		return e.rawStep(ctx, step, state)
	}
}

func (e *StepExecutor) useTool(ctx context.Context, step Directive) StepResult {
	params, err := ParseParams(step.RawParams)
	if err != nil {
		return StepResult{Response: invalidParamsText(step.Tool, err)}
	}

	resp, err := e.dispatcher.Dispatch(ctx, step.Tool, params)
	if err != nil {
		var missing *MissingParameterError
		if errors.As(err, &missing) {
			return StepResult{Response: missing.ClarifyingQuestion(), NeedsReplan: true, Reason: ReasonMissingParameters}
		}
		if errors.Is(err, capability.ErrToolNotFound) {
			return StepResult{Response: toolUnavailableText(step.Tool)}
		}
		return StepResult{Response: toolFailureText(step.Tool, err.Error())}
	}
	if !resp.Success {
		return StepResult{Response: toolFailureText(step.Tool, resp.ErrorMessage())}
	}
	return StepResult{Response: toolResultText(step.Tool, resp.Text())}
}

func (e *StepExecutor) rawStep(ctx context.Context, step Directive, state State) (StepResult, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	start := time.Now()
	out, err := e.llm.Generate(ctx, rawStepPrompt(step.Text, state))
	e.telemetry.RecordLLMEvent(ctx, telemetry.LLMEvent{Operation: "raw_step", Duration: time.Since(start), Success: err == nil})
	if err != nil {
		return StepResult{}, fmt.Errorf("raw step: %w", err)
	}
	return StepResult{Response: out}, nil
}

func rawStepPrompt(task string, state State) string {
	if len(state.PastSteps) == 0 {
		return "Tu es un assistant qui répond en français.\n\n" + task
	}
	var b strings.Builder
	b.WriteString("Tu es un assistant qui répond en français.\n\n")
	fmt.Fprintf(&b, "Demande initiale: %s\n", state.Input)
	b.WriteString("Étapes déjà réalisées:\n")
	for _, ps := range state.PastSteps {
		fmt.Fprintf(&b, "- %s => %s\n", ps.Step, ps.Response)
	}
	b.WriteString("\nTâche: ")
	b.WriteString(task)
	return b.String()
}

// ParseParams decodes the JSON object following a tool name. An empty
// string or a JSON null yields an empty map.
func ParseParams(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	params := map[string]any{}
	if raw == "" {
		return params, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after parameters object")
	}
	switch m := v.(type) {
	case nil:
		return params, nil
	case map[string]any:
		return m, nil
	default:
		return nil, fmt.Errorf("parameters must be a JSON object, got %T", v)
	}
}
