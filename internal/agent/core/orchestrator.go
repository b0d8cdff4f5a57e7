package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/replanner/internal/agent/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var orchestratorTracer trace.Tracer = otel.Tracer("replanner/internal/agent/orchestrator")

// transitionSlack covers the planning and final checking transitions plus
// the bookkeeping of replanning passes.
const transitionSlack = 4

// saveTurnTimeout bounds the turn audit write, which outlives the request context.
const saveTurnTimeout = 5 * time.Second

// OrchestratorOptions tunes the loop.
type OrchestratorOptions struct {
	// MaxSteps caps the number of plan lines taken from one planning pass.
	MaxSteps int
	// MaxReplans allows re-entering planning after a missing-parameter
	// signal. Zero keeps the turn-ending behaviour.
	MaxReplans int
	Recorder   TurnRecorder
	Telemetry  *telemetry.Telemetry
	Logger     *log.Logger
}

// Orchestrator drives planning and step execution for one request at a time.
// It holds no per-request state and can serve concurrent requests.
type Orchestrator struct {
	planner    *Planner
	executor   *StepExecutor
	maxSteps   int
	maxReplans int
	recorder   TurnRecorder
	telemetry  *telemetry.Telemetry
	logger     *log.Logger
}

// NewOrchestrator wires a planner and step executor into a loop.
func NewOrchestrator(planner *Planner, executor *StepExecutor, opts OrchestratorOptions) (*Orchestrator, error) {
	if planner == nil {
		return nil, fmt.Errorf("planner is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("step executor is required")
	}
	if opts.MaxReplans < 0 {
		return nil, fmt.Errorf("max replans cannot be negative")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	return &Orchestrator{
		planner:    planner,
		executor:   executor,
		maxSteps:   opts.MaxSteps,
		maxReplans: opts.MaxReplans,
		recorder:   opts.Recorder,
		telemetry:  opts.Telemetry,
		logger:     logger,
	}, nil
}

// ProcessRequest runs one turn. It never returns an error: failures become a
// generic message in the response and are logged.
func (o *Orchestrator) ProcessRequest(ctx context.Context, req ChatRequest) ChatResponse {
	turnID := uuid.NewString()
	startTime := time.Now()
	ctx, span := orchestratorTracer.Start(ctx, "agent.process_request",
		trace.WithAttributes(attribute.String("turn.id", turnID)))
	defer span.End()

	userMsg := Message{Role: RoleUser, Content: req.Message}
	state, err := o.Run(ctx, req.Message, req.MessageHistory)

	resp := ChatResponse{TurnID: turnID}
	outcome := outcomeOf(state)
	if err != nil {
		outcome = OutcomeFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Printf("turn %s failed: %v", turnID, err)
		resp.Response = MessageInternalError
		resp.MessageHistory = []Message{userMsg, {Role: RoleError, Content: MessageInternalError}}
	} else {
		span.SetStatus(codes.Ok, outcome)
		resp.Response = state.Response
		resp.NeedsReplan = state.NeedsReplan
		resp.MessageHistory = []Message{userMsg, {Role: RoleAssistant, Content: state.Response}}
	}

	o.telemetry.RecordTurnEvent(ctx, telemetry.TurnEvent{
		ID:        turnID,
		Input:     req.Message,
		StartTime: startTime,
		EndTime:   time.Now(),
		Duration:  time.Since(startTime),
		Outcome:   outcome,
		Steps:     len(state.PastSteps),
	})
	if o.recorder != nil {
		rec := TurnRecord{
			ID:          turnID,
			SessionID:   req.SessionID,
			Input:       req.Message,
			Response:    resp.Response,
			NeedsReplan: resp.NeedsReplan,
			PastSteps:   state.PastSteps,
			Outcome:     outcome,
			Duration:    time.Since(startTime),
			CreatedAt:   startTime,
		}
		if err != nil {
			rec.Error = err.Error()
		}
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTurnTimeout)
		if serr := o.recorder.SaveTurn(saveCtx, rec); serr != nil {
			o.logger.Printf("warn: saving turn %s failed: %v", turnID, serr)
		}
		cancel()
	}
	return resp
}

// Run drives the state machine from planning to termination and returns the
// final state. A non-nil error is an *OrchestrationFatalError; the returned
// state then reflects the last phase reached.
func (o *Orchestrator) Run(ctx context.Context, input string, history []Message) (final State, err error) {
	state := NewState(input, history)
	defer func() {
		if r := recover(); r != nil {
			o.logger.Printf("panic during %s: %v\n%s", state.Phase, r, debug.Stack())
			final = state
			err = &OrchestrationFatalError{Phase: state.Phase, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	for !state.Terminated() {
		if limit := o.transitionLimit(state); state.Transitions > limit {
			return state, &OrchestrationFatalError{Phase: state.Phase, Err: fmt.Errorf("transition limit %d exceeded", limit)}
		}
		if cerr := ctx.Err(); cerr != nil {
			return state, &OrchestrationFatalError{Phase: state.Phase, Err: cerr}
		}
		var next State
		switch state.Phase {
		case PhasePlanning:
			next, err = o.plan(ctx, state)
		case PhaseExecuting:
			next, err = o.execute(ctx, state)
		case PhaseChecking:
			next = o.check(state)
		default:
			err = fmt.Errorf("unknown phase %q", state.Phase)
		}
		if err != nil {
			return state, &OrchestrationFatalError{Phase: state.Phase, Err: err}
		}
		next.Transitions = state.Transitions + 1
		state = next
	}
	return state, nil
}

// transitionLimit bounds the loop: every queued step costs at most an
// executing and a checking transition.
func (o *Orchestrator) transitionLimit(s State) int {
	return 2*(len(s.Steps)+len(s.PastSteps)) + transitionSlack*(s.Replans+1)
}

func (o *Orchestrator) plan(ctx context.Context, s State) (State, error) {
	lines, err := o.planner.Plan(ctx, o.planningInput(s), s.History)
	if err != nil {
		return s, err
	}
	steps := ParsePlan(lines)
	if o.maxSteps > 0 && len(steps) > o.maxSteps {
		o.logger.Printf("plan truncated from %d to %d steps", len(steps), o.maxSteps)
		steps = steps[:o.maxSteps]
	}
	next := s.Clone()
	next.Steps = append(next.Steps, steps...)
	next.NeedsReplan = false
	next.Reason = ReasonNone
	next.Phase = PhaseExecuting
	return next, nil
}

// planningInput feeds earlier results back to the planner on a replanning pass.
func (o *Orchestrator) planningInput(s State) string {
	if s.Replans == 0 {
		return s.Input
	}
	var b strings.Builder
	b.WriteString(s.Input)
	b.WriteString("\n\nÉtapes déjà réalisées:\n")
	for _, ps := range s.PastSteps {
		fmt.Fprintf(&b, "- %s => %s\n", ps.Step, ps.Response)
	}
	fmt.Fprintf(&b, "Problème rencontré: %s\n", s.Response)
	b.WriteString("Propose un nouveau plan qui n'utilise pas d'outil sans ses paramètres requis.")
	return b.String()
}

func (o *Orchestrator) execute(ctx context.Context, s State) (State, error) {
	next := s.Clone()
	if len(next.Steps) == 0 {
		next.Response = MessageCannotAnswer
		next.Phase = PhaseTerminated
		return next, nil
	}
	step := next.Steps[0]
	start := time.Now()
	res, err := o.executor.Execute(ctx, step, s)
	if err != nil {
		return s, err
	}
	o.telemetry.RecordStepEvent(ctx, telemetry.StepEvent{Kind: step.Kind.String(), Duration: time.Since(start), NeedsReplan: res.NeedsReplan})

	next.Response = res.Response
	if res.NeedsReplan {
		next.NeedsReplan = true
		next.Reason = res.Reason
		if o.canReplan(next) {
			next.Replans++
			next.Steps = nil
			next.Phase = PhasePlanning
			o.logger.Printf("replanning (%d/%d) after %s", next.Replans, o.maxReplans, res.Reason)
			return next, nil
		}
		next.Phase = PhaseTerminated
		return next, nil
	}
	next.PastSteps = append(next.PastSteps, StepRecord{Step: step, Response: res.Response})
	next.Steps = slices.Delete(next.Steps, 0, 1)
	next.Phase = PhaseChecking
	return next, nil
}

func (o *Orchestrator) canReplan(s State) bool {
	return s.Reason == ReasonMissingParameters && s.Replans < o.maxReplans
}

func (o *Orchestrator) check(s State) State {
	next := s.Clone()
	if len(next.Steps) == 0 || next.NeedsReplan {
		next.Phase = PhaseTerminated
	} else {
		next.Phase = PhaseExecuting
	}
	return next
}

func outcomeOf(s State) string {
	switch {
	case s.NeedsReplan:
		return OutcomeReplan
	case s.Response == MessageCannotAnswer && len(s.PastSteps) == 0:
		return OutcomeFallback
	default:
		return OutcomeAnswered
	}
}

// IsFatal reports whether err aborted a turn.
func IsFatal(err error) bool {
	var fatal *OrchestrationFatalError
	return errors.As(err, &fatal)
}
