package core

import (
	"context"
	"slices"
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleError     Role = "error"
)

// Message is one entry of the caller-facing transcript.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the inbound request for one turn.
type ChatRequest struct {
	Message        string    `json:"message"`
	MessageHistory []Message `json:"message_history,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
}

// ChatResponse is the terminal result of one turn.
type ChatResponse struct {
	Response       string    `json:"response"`
	MessageHistory []Message `json:"message_history"`
	NeedsReplan    bool      `json:"needs_replan"`
	TurnID         string    `json:"turn_id,omitempty"`
}

// LLMProvider is the only source of non-determinism in the loop.
type LLMProvider interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// LLMFunc adapts a function to LLMProvider.
type LLMFunc func(ctx context.Context, prompt string) (string, error)

func (f LLMFunc) Generate(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

// Phase is a state of the orchestration loop.
type Phase string

const (
	PhasePlanning   Phase = "planning"
	PhaseExecuting  Phase = "executing"
	PhaseChecking   Phase = "checking"
	PhaseTerminated Phase = "terminated"
)

// StepRecord pairs an executed step with the response it produced.
type StepRecord struct {
	Step     Directive `json:"step"`
	Response string    `json:"response"`
}

// State is the per-request orchestration state. Transition functions take
// a State by value and return a new one; slices are never shared between
// the input and output values.
type State struct {
	Input       string       `json:"input"`
	History     []Message    `json:"history,omitempty"`
	Steps       []Directive  `json:"steps"`
	PastSteps   []StepRecord `json:"past_steps"`
	Response    string       `json:"response"`
	NeedsReplan bool         `json:"needs_replan"`
	Reason      ReplanReason `json:"reason,omitempty"`

	Phase       Phase `json:"phase"`
	Transitions int   `json:"transitions"`
	Replans     int   `json:"replans"`
}

// NewState returns the initial state for an input.
func NewState(input string, history []Message) State {
	return State{Input: input, History: slices.Clone(history), Phase: PhasePlanning}
}

// Clone returns a copy whose slices do not alias s.
func (s State) Clone() State {
	s.History = slices.Clone(s.History)
	s.Steps = slices.Clone(s.Steps)
	s.PastSteps = slices.Clone(s.PastSteps)
	return s
}

// Terminated reports whether the loop has finished.
func (s State) Terminated() bool { return s.Phase == PhaseTerminated }

// TurnRecord is the audit entry persisted for a finished turn.
type TurnRecord struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"session_id"`
	Input       string        `json:"input"`
	Response    string        `json:"response"`
	NeedsReplan bool          `json:"needs_replan"`
	PastSteps   []StepRecord  `json:"past_steps"`
	Outcome     string        `json:"outcome"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Turn outcomes.
const (
	OutcomeAnswered = "answered"
	OutcomeReplan   = "needs_replan"
	OutcomeFallback = "fallback"
	OutcomeFailed   = "failed"
)

// TurnRecorder persists finished turns. Failures are logged, not fatal.
type TurnRecorder interface {
	SaveTurn(ctx context.Context, rec TurnRecord) error
}
